// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cla

import (
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/dtnagent-go/bpv7"
	"github.com/dtn7/dtnagent-go/peer"
)

// Manager supervises a node's registered CLAs: it starts/stops them,
// fans their individual Incoming streams into one channel, and answers
// which CLAs can currently reach a given peer.
type Manager struct {
	mu   sync.Mutex
	clas map[string]CLA
	// order keeps CLA ids in registration order; send attempts must try
	// CLAs in that order, which map iteration cannot provide.
	order []string

	incoming chan Received

	stopCh chan struct{}
	doneCh chan struct{}
	wg     sync.WaitGroup
}

// incomingBuffer bounds the fan-in channel so one slow consumer doesn't
// stall every registered CLA's receive goroutine outright.
const incomingBuffer = 256

// NewManager creates an empty Manager.
func NewManager() *Manager {
	return &Manager{
		clas:     make(map[string]CLA),
		incoming: make(chan Received, incomingBuffer),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Register starts a CLA and begins forwarding its Incoming stream into
// this Manager's fan-in channel.
func (m *Manager) Register(c CLA) error {
	m.mu.Lock()
	if _, exists := m.clas[c.ID()]; exists {
		m.mu.Unlock()
		return fmt.Errorf("cla: a CLA with id %q is already registered", c.ID())
	}
	m.clas[c.ID()] = c
	m.order = append(m.order, c.ID())
	m.mu.Unlock()

	if err := c.Start(); err != nil {
		m.mu.Lock()
		delete(m.clas, c.ID())
		m.removeFromOrderLocked(c.ID())
		m.mu.Unlock()
		return fmt.Errorf("cla: starting %s: %w", c.ID(), err)
	}

	m.wg.Add(1)
	go m.pump(c)

	log.WithFields(log.Fields{"cla": c.ID(), "name": c.Name()}).Info("cla: registered")
	return nil
}

func (m *Manager) pump(c CLA) {
	defer m.wg.Done()

	for {
		select {
		case <-m.stopCh:
			return
		case r, ok := <-c.Incoming():
			if !ok {
				return
			}
			select {
			case m.incoming <- r:
			case <-m.stopCh:
				return
			}
		}
	}
}

func (m *Manager) removeFromOrderLocked(id string) {
	for i, v := range m.order {
		if v == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			return
		}
	}
}

// Unregister stops a CLA and removes it from the Manager.
func (m *Manager) Unregister(id string) error {
	m.mu.Lock()
	c, ok := m.clas[id]
	if ok {
		delete(m.clas, id)
		m.removeFromOrderLocked(id)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("cla: no CLA with id %q is registered", id)
	}

	log.WithFields(log.Fields{"cla": id}).Info("cla: unregistered")
	return c.Stop()
}

// Incoming returns the fanned-in stream of bundles received across every
// registered CLA.
func (m *Manager) Incoming() <-chan Received { return m.incoming }

// SendBundle transmits b to p over the registered CLAs that claim they can
// reach p, in registration order: a CLA whose send fails is skipped and the
// next one is tried. It returns an error only when none of them succeeds.
func (m *Manager) SendBundle(b bpv7.Bundle, p peer.Peer) error {
	for _, c := range m.FindCLAsForPeer(p) {
		if err := c.SendBundle(b, p); err != nil {
			log.WithFields(log.Fields{"cla": c.ID(), "peer": p.EID, "error": err}).
				Warn("cla: send failed, trying next reachable CLA")
			continue
		}
		return nil
	}
	return fmt.Errorf("cla: no registered CLA can reach peer %s", p.EID)
}

// FindCLAsForPeer returns every registered CLA that currently believes it
// can reach p, in registration order, used by routing to decide whether a
// peer is eligible and by SendBundle to try CLAs first-registered-first.
func (m *Manager) FindCLAsForPeer(p peer.Peer) []CLA {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []CLA
	for _, id := range m.order {
		if c := m.clas[id]; c.CanReach(p) {
			out = append(out, c)
		}
	}
	return out
}

// All returns every registered CLA in registration order.
func (m *Manager) All() []CLA {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]CLA, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.clas[id])
	}
	return out
}

// Get looks up a registered CLA by id.
func (m *Manager) Get(id string) (CLA, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clas[id]
	return c, ok
}

// Close stops every registered CLA and the fan-in goroutines.
func (m *Manager) Close() {
	m.mu.Lock()
	clas := make([]CLA, 0, len(m.order))
	for _, id := range m.order {
		clas = append(clas, m.clas[id])
	}
	m.clas = make(map[string]CLA)
	m.order = nil
	m.mu.Unlock()

	for _, c := range clas {
		if err := c.Stop(); err != nil {
			log.WithFields(log.Fields{"cla": c.ID(), "error": err}).Warn("cla: error stopping CLA during shutdown")
		}
	}

	close(m.stopCh)
	m.wg.Wait()
	close(m.incoming)
}
