// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package tcpclv4

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/dtnagent-go/bpv7"
	"github.com/dtn7/dtnagent-go/cla"
	"github.com/dtn7/dtnagent-go/eid"
)

// State is a TCPCLv4 session's position in its state machine:
// Idle -> Contact -> SessInit -> Established -> Terminating -> Closed. A session never moves backwards.
type State int

const (
	Idle State = iota
	Contact
	SessInitState
	Established
	Terminating
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Contact:
		return "contact"
	case SessInitState:
		return "sess-init"
	case Established:
		return "established"
	case Terminating:
		return "terminating"
	case Closed:
		return "closed"
	default:
		return "invalid"
	}
}

const defaultKeepaliveSeconds = 15

// Session is one established TCPCLv4 connection, either dialed outbound
// or accepted inbound.
type Session struct {
	conn net.Conn

	mu    sync.Mutex
	state State

	localNodeID  string
	RemoteNodeID string

	keepaliveSeconds uint16
	nextTransferID   uint64

	incoming chan<- cla.Received
	connID   string

	writeMu sync.Mutex

	onClose func(s *Session)

	closeOnce sync.Once
	doneCh    chan struct{}
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// dial performs the outbound handshake (send contact header, receive
// contact header, send SESS_INIT, receive SESS_INIT) and returns an
// Established Session.
func dial(conn net.Conn, localNodeID string, keepaliveSeconds uint16, incoming chan<- cla.Received) (*Session, error) {
	s := &Session{
		conn:             conn,
		localNodeID:      localNodeID,
		keepaliveSeconds: keepaliveSeconds,
		incoming:         incoming,
		connID:           uuid.New().String(),
		doneCh:           make(chan struct{}),
	}
	s.setState(Contact)

	if err := (ContactHeader{}).Marshal(conn); err != nil {
		return nil, fmt.Errorf("tcpclv4: sending contact header: %w", err)
	}
	var peerCH ContactHeader
	if err := peerCH.Unmarshal(conn); err != nil {
		return nil, fmt.Errorf("tcpclv4: receiving contact header: %w", err)
	}

	s.setState(SessInitState)
	if err := s.sendSessInit(); err != nil {
		return nil, err
	}
	peerInit, err := s.recvSessInit()
	if err != nil {
		return nil, err
	}
	s.applyPeerSessInit(peerInit)

	s.setState(Established)
	return s, nil
}

// accept performs the inbound handshake (direction inverted from dial:
// receive contact header, send contact header, receive SESS_INIT, send
// SESS_INIT) and returns an Established Session.
func accept(conn net.Conn, localNodeID string, keepaliveSeconds uint16, incoming chan<- cla.Received) (*Session, error) {
	s := &Session{
		conn:             conn,
		localNodeID:      localNodeID,
		keepaliveSeconds: keepaliveSeconds,
		incoming:         incoming,
		connID:           uuid.New().String(),
		doneCh:           make(chan struct{}),
	}
	s.setState(Contact)

	var peerCH ContactHeader
	if err := peerCH.Unmarshal(conn); err != nil {
		return nil, fmt.Errorf("tcpclv4: receiving contact header: %w", err)
	}
	if err := (ContactHeader{}).Marshal(conn); err != nil {
		return nil, fmt.Errorf("tcpclv4: sending contact header: %w", err)
	}

	s.setState(SessInitState)
	peerInit, err := s.recvSessInit()
	if err != nil {
		return nil, err
	}
	if err := s.sendSessInit(); err != nil {
		return nil, err
	}
	s.applyPeerSessInit(peerInit)

	s.setState(Established)
	return s, nil
}

func (s *Session) sendSessInit() error {
	init := SessInit{
		KeepaliveSeconds: s.keepaliveSeconds,
		SegmentMRU:       1 << 24,
		TransferMRU:      1 << 24,
		NodeID:           s.localNodeID,
	}
	return s.writeMessage(&init)
}

func (s *Session) recvSessInit() (SessInit, error) {
	msg, err := ReadMessage(s.conn)
	if err != nil {
		return SessInit{}, fmt.Errorf("tcpclv4: receiving SESS_INIT: %w", err)
	}
	init, ok := msg.(*SessInit)
	if !ok {
		return SessInit{}, fmt.Errorf("tcpclv4: expected SESS_INIT, got %T", msg)
	}
	return *init, nil
}

func (s *Session) applyPeerSessInit(peerInit SessInit) {
	s.RemoteNodeID = peerInit.NodeID

	// The shorter of the two non-zero proposed keepalive intervals governs
	// this session; a zero proposal from either side is ignored rather
	// than disabling keepalives.
	if peerInit.KeepaliveSeconds > 0 && (s.keepaliveSeconds == 0 || peerInit.KeepaliveSeconds < s.keepaliveSeconds) {
		s.keepaliveSeconds = peerInit.KeepaliveSeconds
	}
	if override, ok := peerInit.KeepaliveExtensionOverride(); ok && override > 0 {
		s.keepaliveSeconds = override
	}
}

func (s *Session) writeMessage(m Message) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return m.Marshal(s.conn)
}

// SendBundle transmits b as one complete XFER_SEGMENT (START|END). It
// does not block awaiting the XFER_ACK; a missing ack is not retried
// within this connection.
func (s *Session) SendBundle(b bpv7.Bundle) error {
	if s.State() != Established {
		return fmt.Errorf("tcpclv4: session not established (state=%s)", s.State())
	}

	data, err := bpv7.MarshalBundle(b)
	if err != nil {
		return fmt.Errorf("tcpclv4: marshalling bundle: %w", err)
	}

	tid := atomic.AddUint64(&s.nextTransferID, 1)
	seg := NewSingleSegment(tid, data)
	return s.writeMessage(&seg)
}

// run starts the receive loop and keepalive timer; it returns once the
// session closes.
func (s *Session) run() {
	go s.keepaliveLoop()
	s.readLoop()
}

func (s *Session) keepaliveLoop() {
	if s.keepaliveSeconds == 0 {
		return
	}
	ticker := time.NewTicker(time.Duration(s.keepaliveSeconds) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.doneCh:
			return
		case <-ticker.C:
			if err := s.writeMessage(&Keepalive{}); err != nil {
				log.WithFields(log.Fields{"peer": s.RemoteNodeID, "error": err}).Warn("tcpclv4: keepalive send failed")
				return
			}
		}
	}
}

func (s *Session) readLoop() {
	defer s.close(TerminationUnknown)

	for {
		msg, err := ReadMessage(s.conn)
		if err != nil {
			log.WithFields(log.Fields{"peer": s.RemoteNodeID, "error": err}).Debug("tcpclv4: read loop ended")
			return
		}

		switch m := msg.(type) {
		case *XferSegment:
			s.handleXferSegment(m)
		case *XferAck:
			log.WithFields(log.Fields{"peer": s.RemoteNodeID, "transfer": m.TransferID}).Debug("tcpclv4: received XFER_ACK")
		case *Keepalive:
			// idle timer reset is implicit: any successful read loop
			// iteration already proves liveness.
		case *SessTerm:
			log.WithFields(log.Fields{"peer": s.RemoteNodeID, "reason": m.Reason}).Info("tcpclv4: peer terminated session")
			return
		case *MsgReject:
			log.WithFields(log.Fields{"peer": s.RemoteNodeID, "reason": m.Reason}).Warn("tcpclv4: peer rejected a message")
		default:
			log.WithFields(log.Fields{"peer": s.RemoteNodeID, "type": fmt.Sprintf("%T", m)}).Warn("tcpclv4: unexpected message in established state")
		}
	}
}

func (s *Session) handleXferSegment(m *XferSegment) {
	if !m.IsComplete() {
		_ = s.writeMessage(&XferRefuse{Reason: RefusalNotAcceptable, TransferID: m.TransferID})
		return
	}

	b, err := bpv7.ParseBundle(m.Data)
	if err != nil {
		log.WithFields(log.Fields{"peer": s.RemoteNodeID, "error": err}).Warn("tcpclv4: failed to decode transferred bundle")
		_ = s.writeMessage(&XferRefuse{Reason: RefusalNotAcceptable, TransferID: m.TransferID})
		return
	}

	remoteEID, _ := eid.Parse(s.RemoteNodeID)
	s.incoming <- cla.Received{
		Bundle: b,
		Connection: cla.Connection{
			ID:            s.connID,
			RemoteEID:     remoteEID,
			RemoteAddress: s.conn.RemoteAddr().String(),
			CLAType:       "tcpclv4",
			EstablishedAt: time.Now(),
		},
	}

	_ = s.writeMessage(&XferAck{Flags: m.Flags, TransferID: m.TransferID, Length: uint64(len(m.Data))})
}

// Terminate sends a SESS_TERM and closes the underlying connection.
func (s *Session) Terminate(reason TerminationReason) {
	s.setState(Terminating)
	_ = s.writeMessage(&SessTerm{Reason: reason})
	s.close(reason)
}

func (s *Session) close(reason TerminationReason) {
	s.closeOnce.Do(func() {
		s.setState(Closed)
		close(s.doneCh)
		_ = s.conn.Close()
		if s.onClose != nil {
			s.onClose(s)
		}
	})
}
