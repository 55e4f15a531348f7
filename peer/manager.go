// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package peer

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/dtnagent-go/eid"
)

// sweepInterval is the background staleness sweep cadence.
const sweepInterval = 30 * time.Second

// eventBuffer sizes the peerEvents channel. The stream is effectively
// bounded by peer count, so a generous buffer avoids producers ever
// blocking on a slow subscriber under normal peer counts.
const eventBuffer = 1024

// Manager tracks known peers and their lifecycle.
type Manager struct {
	mu          sync.Mutex
	peers       map[string]Peer
	peerTimeout time.Duration
	now         func() time.Time

	events chan Event

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewManager creates a Manager with the given stale-peer threshold and
// starts its 30s background sweep.
func NewManager(peerTimeout time.Duration) *Manager {
	m := &Manager{
		peers:       make(map[string]Peer),
		peerTimeout: peerTimeout,
		now:         time.Now,
		events:      make(chan Event, eventBuffer),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}

	go m.sweepLoop()

	return m
}

// Events returns the single-consumer peer event stream.
func (m *Manager) Events() <-chan Event { return m.events }

func (m *Manager) emit(ev Event) {
	select {
	case m.events <- ev:
	default:
		log.WithFields(log.Fields{
			"peer": ev.EID,
			"type": ev.Type,
		}).Warn("peer: event channel full, dropping event")
	}
}

// AddOrUpdate inserts a previously unknown peer (emitting Discovered) or
// refreshes an existing one (emitting Updated), resetting LastContact and
// FailCount either way.
func (m *Manager) AddOrUpdate(p Peer) {
	m.mu.Lock()

	p.LastContact = m.now().Unix()
	p.FailCount = 0

	existing, ok := m.peers[p.EID.String()]
	if ok {
		// Preserve the caller's Kind only if explicitly set; otherwise keep
		// whatever this peer was already known as.
		if p.Kind == Static && existing.Kind == Dynamic && p.CLAList == nil {
			p.Kind = existing.Kind
		}
	}
	m.peers[p.EID.String()] = p
	m.mu.Unlock()

	if ok {
		log.WithFields(log.Fields{"peer": p.EID}).Debug("peer: updated")
		m.emit(Event{Type: Updated, EID: p.EID, Peer: p.clone()})
	} else {
		log.WithFields(log.Fields{"peer": p.EID}).Info("peer: discovered")
		m.emit(Event{Type: Discovered, EID: p.EID, Peer: p.clone()})
	}
}

// Remove deletes a peer, emitting Lost if it was present.
func (m *Manager) Remove(id eid.EndpointID) {
	m.mu.Lock()
	p, ok := m.peers[id.String()]
	if ok {
		delete(m.peers, id.String())
	}
	m.mu.Unlock()

	if ok {
		log.WithFields(log.Fields{"peer": id}).Info("peer: lost")
		m.emit(Event{Type: Lost, EID: id, Peer: p.clone()})
	}
}

// RecordSuccess resets a peer's FailCount and refreshes LastContact.
func (m *Manager) RecordSuccess(id eid.EndpointID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.peers[id.String()]
	if !ok {
		return
	}
	p.FailCount = 0
	p.LastContact = m.now().Unix()
	m.peers[id.String()] = p
}

// RecordFailure increments a peer's FailCount. It does not remove the peer;
// pruning dynamic peers with FailCount > 3 is the janitor's job.
func (m *Manager) RecordFailure(id eid.EndpointID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.peers[id.String()]
	if !ok {
		return
	}
	p.FailCount++
	m.peers[id.String()] = p
}

// NotifyConnected records a live connection to id: its contact bookkeeping
// is refreshed and a ConnectionEstablished event is emitted. Called by
// session-based CLAs once their handshake completes.
func (m *Manager) NotifyConnected(id eid.EndpointID) {
	m.RecordSuccess(id)

	m.mu.Lock()
	p := m.peers[id.String()]
	m.mu.Unlock()

	log.WithFields(log.Fields{"peer": id}).Debug("peer: connection established")
	m.emit(Event{Type: ConnectionEstablished, EID: id, Peer: p.clone()})
}

// NotifyDisconnected records that a connection to id died (IO error or
// remote termination): the peer takes a send failure and a ConnectionLost
// event is emitted.
func (m *Manager) NotifyDisconnected(id eid.EndpointID) {
	m.RecordFailure(id)

	m.mu.Lock()
	p := m.peers[id.String()]
	m.mu.Unlock()

	log.WithFields(log.Fields{"peer": id}).Debug("peer: connection lost")
	m.emit(Event{Type: ConnectionLost, EID: id, Peer: p.clone()})
}

// GetAll returns a snapshot of every known peer.
func (m *Manager) GetAll() []Peer {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Peer, 0, len(m.peers))
	for _, p := range m.peers {
		out = append(out, p.clone())
	}
	return out
}

// GetPeer looks up a single peer by EID.
func (m *Manager) GetPeer(id eid.EndpointID) (Peer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.peers[id.String()]
	if !ok {
		return Peer{}, false
	}
	return p.clone(), true
}

// PruneStale removes dynamic peers with FailCount > 3 and any peer whose
// LastContact predates peerTimeout, the janitor's peer-pruning step. It is
// exported so the janitor can drive it on its own cadence
// in addition to this Manager's own 30s background sweep.
func (m *Manager) PruneStale() {
	cutoff := m.now().Unix() - int64(m.peerTimeout.Seconds())

	m.mu.Lock()
	var stale []Peer
	for key, p := range m.peers {
		if (p.Kind == Dynamic && p.FailCount > 3) || p.LastContact < cutoff {
			stale = append(stale, p)
			delete(m.peers, key)
		}
	}
	m.mu.Unlock()

	for _, p := range stale {
		log.WithFields(log.Fields{
			"peer":         p.EID,
			"fail_count":   p.FailCount,
			"last_contact": p.LastContact,
		}).Info("peer: pruned stale peer")
		m.emit(Event{Type: Lost, EID: p.EID, Peer: p.clone()})
	}
}

func (m *Manager) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	defer close(m.doneCh)

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.PruneStale()
		}
	}
}

// Close stops the background sweep.
func (m *Manager) Close() {
	close(m.stopCh)
	<-m.doneCh
}
