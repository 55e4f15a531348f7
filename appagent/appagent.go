// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package appagent implements the application agent (C4): registration of
// local endpoints, either as a pull-style delivery queue or a push-style
// delegate, and the delivery matching rules described on DeliverBundle.
package appagent

import (
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/dtnagent-go/bpv7"
	"github.com/dtn7/dtnagent-go/eid"

	"sync"
)

// pendingCap bounds the per-endpoint queue of bundles that arrived before
// any matching endpoint was registered; oldest entries are dropped first.
const pendingCap = 100

// Delegate receives bundles pushed to a registered endpoint, rather than
// having the caller poll a pull queue.
type Delegate func(b bpv7.Bundle)

type registration struct {
	id       eid.EndpointID
	queue    chan bpv7.Bundle
	delegate Delegate
}

// Agent is the local endpoint registry and bundle delivery dispatcher.
type Agent struct {
	mu            sync.Mutex
	registrations map[string]*registration
	// order keeps endpoint keys in registration order, so the pattern-match
	// fallback in DeliverBundle picks the first-registered match rather
	// than whatever map iteration yields.
	order   []string
	pending map[string][]bpv7.Bundle
}

// NewAgent creates an empty Agent.
func NewAgent() *Agent {
	return &Agent{
		registrations: make(map[string]*registration),
		pending:       make(map[string][]bpv7.Bundle),
	}
}

// queueDepth is the pull queue's buffer size; pull clients are expected to
// drain promptly, so this only smooths bursts, not backlog.
const queueDepth = 32

// RegisterPull registers id for pull-style delivery and returns the queue
// bundles addressed to it will arrive on. Any bundles queued for id before
// this call are drained into the queue in FIFO order.
func (a *Agent) RegisterPull(id eid.EndpointID) <-chan bpv7.Bundle {
	a.mu.Lock()
	defer a.mu.Unlock()

	r := &registration{id: id, queue: make(chan bpv7.Bundle, queueDepth)}
	a.insertLocked(r)
	a.drainPendingLocked(id, r)

	log.WithFields(log.Fields{"endpoint": id}).Info("appagent: registered pull endpoint")
	return r.queue
}

// RegisterPush registers id for push-style delivery via delegate. Any
// bundles queued for id before this call are delivered to delegate
// immediately, in FIFO order.
func (a *Agent) RegisterPush(id eid.EndpointID, delegate Delegate) {
	a.mu.Lock()
	r := &registration{id: id, delegate: delegate}
	a.insertLocked(r)
	drained := a.takePendingLocked(id)
	a.mu.Unlock()

	log.WithFields(log.Fields{"endpoint": id}).Info("appagent: registered push endpoint")
	for _, b := range drained {
		delegate(b)
	}
}

// Unregister removes id's registration. Bundles arriving afterwards queue
// as pending again.
func (a *Agent) Unregister(id eid.EndpointID) {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := id.String()
	if r, ok := a.registrations[key]; ok && r.queue != nil {
		close(r.queue)
	}
	delete(a.registrations, key)
	for i, v := range a.order {
		if v == key {
			a.order = append(a.order[:i], a.order[i+1:]...)
			break
		}
	}

	log.WithFields(log.Fields{"endpoint": id}).Info("appagent: unregistered endpoint")
}

// insertLocked stores r, appending its key to the registration order unless
// this is a re-registration of an already known endpoint (which keeps its
// original position).
func (a *Agent) insertLocked(r *registration) {
	key := r.id.String()
	if _, exists := a.registrations[key]; !exists {
		a.order = append(a.order, key)
	}
	a.registrations[key] = r
}

func (a *Agent) drainPendingLocked(id eid.EndpointID, r *registration) {
	for _, b := range a.takePendingLocked(id) {
		select {
		case r.queue <- b:
		default:
			log.WithFields(log.Fields{"endpoint": id}).Warn("appagent: pull queue full while draining pending bundles")
		}
	}
}

func (a *Agent) takePendingLocked(id eid.EndpointID) []bpv7.Bundle {
	key := id.String()
	drained := a.pending[key]
	delete(a.pending, key)
	return drained
}

// DeliverBundle attempts to deliver b to a locally registered endpoint:
// an exact EID match first, then the first registered pattern
// that matches, otherwise the bundle is queued pending that endpoint's
// future registration. Returns true iff delivered (not queued).
func (a *Agent) DeliverBundle(b bpv7.Bundle) bool {
	dest := b.PrimaryBlock.Destination

	a.mu.Lock()
	defer a.mu.Unlock()

	if r, ok := a.registrations[dest.String()]; ok {
		a.deliverLocked(r, b)
		return true
	}

	for _, key := range a.order {
		r := a.registrations[key]
		if dest.Matches(r.id.String()) {
			a.deliverLocked(r, b)
			return true
		}
	}

	key := dest.String()
	q := append(a.pending[key], b)
	if len(q) > pendingCap {
		q = q[len(q)-pendingCap:]
	}
	a.pending[key] = q

	log.WithFields(log.Fields{"destination": dest}).Debug("appagent: no matching endpoint, bundle queued pending")
	return false
}

func (a *Agent) deliverLocked(r *registration, b bpv7.Bundle) {
	if r.delegate != nil {
		r.delegate(b)
		return
	}

	select {
	case r.queue <- b:
	default:
		log.WithFields(log.Fields{"endpoint": r.id}).Warn("appagent: pull queue full, dropping bundle")
	}
}

// IsRegistered reports whether id currently has a local registration.
func (a *Agent) IsRegistered(id eid.EndpointID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.registrations[id.String()]
	return ok
}
