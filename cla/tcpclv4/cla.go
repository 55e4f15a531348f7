// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package tcpclv4

import (
	"context"
	"fmt"
	"net"
	"sync"
	"syscall"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/dtn7/dtnagent-go/bpv7"
	"github.com/dtn7/dtnagent-go/cla"
	"github.com/dtn7/dtnagent-go/eid"
	"github.com/dtn7/dtnagent-go/peer"
)

// CLA is the TCPCLv4 convergence-layer adapter: a listener accepting
// inbound sessions plus one dialed outbound session per reachable peer
// address.
type CLA struct {
	listenAddr string
	nodeID     string
	keepalive  uint16

	pm *peer.Manager

	listener net.Listener

	mu       sync.Mutex
	sessions map[string]*Session // keyed by peer EID string

	incoming chan cla.Received

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewCLA creates a TCPCLv4 adapter listening on listenAddr and
// identifying itself with nodeID during the SESS_INIT handshake. Session
// lifecycle is reported to pm: ConnectionEstablished after a completed
// handshake, ConnectionLost plus a recorded failure when a session closes.
// pm may be nil in tests.
func NewCLA(listenAddr, nodeID string, pm *peer.Manager) *CLA {
	return &CLA{
		listenAddr: listenAddr,
		nodeID:     nodeID,
		keepalive:  defaultKeepaliveSeconds,
		pm:         pm,
		sessions:   make(map[string]*Session),
		incoming:   make(chan cla.Received, 64),
		stopCh:     make(chan struct{}),
	}
}

func (c *CLA) ID() string   { return "tcpclv4:" + c.listenAddr }
func (c *CLA) Name() string { return "tcpclv4" }

// reuseAddrListenConfig enables SO_REUSEADDR so a restarted node can immediately
// rebind its TCPCLv4 listening port.
func reuseAddrListenConfig() net.ListenConfig {
	return net.ListenConfig{
		Control: func(_, _ string, rc syscall.RawConn) error {
			var sockErr error
			if err := rc.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			}); err != nil {
				return err
			}
			return sockErr
		},
	}
}

func (c *CLA) Start() error {
	lc := reuseAddrListenConfig()
	ln, err := lc.Listen(context.Background(), "tcp", c.listenAddr)
	if err != nil {
		return fmt.Errorf("tcpclv4: listening on %s: %w", c.listenAddr, err)
	}
	c.listener = ln

	c.wg.Add(1)
	go c.acceptLoop()

	log.WithFields(log.Fields{"cla": c.ID(), "addr": c.listenAddr}).Info("tcpclv4: listening")
	return nil
}

func (c *CLA) acceptLoop() {
	defer c.wg.Done()

	for {
		conn, err := c.listener.Accept()
		if err != nil {
			select {
			case <-c.stopCh:
				return
			default:
				log.WithFields(log.Fields{"cla": c.ID(), "error": err}).Warn("tcpclv4: accept failed")
				return
			}
		}

		c.wg.Add(1)
		go c.handleInbound(conn)
	}
}

// watchSession hooks a freshly established session into the peer manager:
// ConnectionEstablished now, ConnectionLost plus a recorded send failure
// once the session closes, whether by IO error or SESS_TERM.
func (c *CLA) watchSession(s *Session, remote eid.EndpointID) {
	if c.pm == nil || remote.IsNone() {
		return
	}

	s.onClose = func(*Session) {
		c.pm.NotifyDisconnected(remote)
	}
	c.pm.NotifyConnected(remote)
}

func (c *CLA) handleInbound(conn net.Conn) {
	defer c.wg.Done()

	s, err := accept(conn, c.nodeID, c.keepalive, c.incoming)
	if err != nil {
		log.WithFields(log.Fields{"cla": c.ID(), "remote": conn.RemoteAddr(), "error": err}).
			Warn("tcpclv4: inbound handshake failed")
		_ = conn.Close()
		return
	}

	if remote, err := eid.Parse(s.RemoteNodeID); err == nil {
		c.watchSession(s, remote)
	}

	c.mu.Lock()
	c.sessions[s.RemoteNodeID] = s
	c.mu.Unlock()

	s.run()

	c.mu.Lock()
	delete(c.sessions, s.RemoteNodeID)
	c.mu.Unlock()
}

// dialPeer establishes (or reuses) an outbound session to p and returns it.
func (c *CLA) dialPeer(p peer.Peer) (*Session, error) {
	c.mu.Lock()
	if s, ok := c.sessions[p.EID.String()]; ok && s.State() == Established {
		c.mu.Unlock()
		return s, nil
	}
	c.mu.Unlock()

	conn, err := net.Dial("tcp", p.Address)
	if err != nil {
		return nil, fmt.Errorf("tcpclv4: dialing %s: %w", p.Address, err)
	}

	s, err := dial(conn, c.nodeID, c.keepalive, c.incoming)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	c.watchSession(s, p.EID)

	c.mu.Lock()
	c.sessions[p.EID.String()] = s
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		s.run()
		c.mu.Lock()
		delete(c.sessions, p.EID.String())
		c.mu.Unlock()
	}()

	return s, nil
}

func (c *CLA) SendBundle(b bpv7.Bundle, p peer.Peer) error {
	if !p.HasCLA(c.Name()) {
		return fmt.Errorf("tcpclv4: peer %s is not reachable via tcpclv4", p.EID)
	}

	s, err := c.dialPeer(p)
	if err != nil {
		return err
	}
	return s.SendBundle(b)
}

func (c *CLA) CanReach(p peer.Peer) bool { return p.HasCLA(c.Name()) }

func (c *CLA) GetConnections() []cla.Connection {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]cla.Connection, 0, len(c.sessions))
	for _, s := range c.sessions {
		if s.State() != Established {
			continue
		}
		out = append(out, cla.Connection{
			ID:            s.connID,
			RemoteAddress: s.conn.RemoteAddr().String(),
			CLAType:       c.Name(),
		})
	}
	return out
}

func (c *CLA) Incoming() <-chan cla.Received { return c.incoming }

func (c *CLA) Stop() error {
	close(c.stopCh)

	c.mu.Lock()
	sessions := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		sessions = append(sessions, s)
	}
	c.mu.Unlock()

	for _, s := range sessions {
		s.Terminate(TerminationUnknown)
	}

	if c.listener != nil {
		_ = c.listener.Close()
	}
	c.wg.Wait()
	return nil
}
