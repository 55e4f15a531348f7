// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package dtncore implements the bundle processor (C9), the janitor
// periodic maintenance loop (C10), and the core orchestrator (C11) that
// wires every other component together.
package dtncore

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/dtnagent-go/appagent"
	"github.com/dtn7/dtnagent-go/bpv7"
	"github.com/dtn7/dtnagent-go/cla"
	"github.com/dtn7/dtnagent-go/eid"
	"github.com/dtn7/dtnagent-go/peer"
	"github.com/dtn7/dtnagent-go/routing"
	"github.com/dtn7/dtnagent-go/service"
	"github.com/dtn7/dtnagent-go/store"
)

// Config collects everything NewCore needs to wire a Core together. Router
// may be nil, in which case GetRoutingDecision falls back to the default
// "flood everyone, deliver if local" behaviour.
type Config struct {
	NodeID eid.EndpointID

	Store    store.Store
	CLAs     *cla.Manager
	Peers    *peer.Manager
	Services *service.Registry
	AppAgent *appagent.Agent
	Router   routing.Router

	// Endpoints are additional local endpoints (beyond NodeID itself)
	// registered at startup, e.g. from configuration.
	Endpoints []eid.EndpointID

	GenerateStatusReports bool

	JanitorInterval time.Duration
	PeerTimeout     time.Duration
}

// Core is the orchestrator holding every collaborator a running node needs.
type Core struct {
	NodeID eid.EndpointID

	Store    store.Store
	CLAs     *cla.Manager
	Peers    *peer.Manager
	Services *service.Registry
	AppAgent *appagent.Agent
	Router   routing.Router

	GenerateStatusReports bool

	mu             sync.RWMutex
	localEndpoints map[string]bool

	stats statistics

	processor *processor
	janitor   *janitor

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewCore assembles a Core from cfg and, if a Router was supplied,
// configures it with this Core as its handle.
func NewCore(cfg Config) *Core {
	c := &Core{
		NodeID:                cfg.NodeID,
		Store:                 cfg.Store,
		CLAs:                  cfg.CLAs,
		Peers:                 cfg.Peers,
		Services:              cfg.Services,
		AppAgent:              cfg.AppAgent,
		Router:                cfg.Router,
		GenerateStatusReports: cfg.GenerateStatusReports,
		localEndpoints:        map[string]bool{cfg.NodeID.String(): true},
		stopCh:                make(chan struct{}),
	}
	for _, e := range cfg.Endpoints {
		c.localEndpoints[e.String()] = true
	}

	c.processor = &processor{core: c, seen: newSeenCache(defaultSeenBundleCap)}
	c.janitor = newJanitor(c, cfg.JanitorInterval, cfg.PeerTimeout)

	if c.Router != nil {
		if err := c.Router.Configure(c.Peers, c); err != nil {
			log.WithFields(log.Fields{"error": err}).Warn("dtncore: routing agent configuration failed")
		}
	}

	return c
}

// Start begins the incoming-bundle pump, the peer-event pump, the routing
// agent (if any), and the janitor.
func (c *Core) Start() {
	c.wg.Add(2)
	go c.pumpIncoming()
	go c.pumpPeerEvents()

	if c.Router != nil {
		c.Router.Start()
	}
	c.janitor.start()
}

// Stop shuts everything this Core started down and waits for it to exit.
func (c *Core) Stop() {
	close(c.stopCh)

	c.janitor.stop()
	if c.Router != nil {
		c.Router.Stop()
	}
	c.CLAs.Close()
	c.Peers.Close()

	c.wg.Wait()
}

func (c *Core) pumpIncoming() {
	defer c.wg.Done()

	for {
		select {
		case <-c.stopCh:
			return
		case r, ok := <-c.CLAs.Incoming():
			if !ok {
				return
			}

			var fromPeer string
			if !r.Connection.RemoteEID.IsNone() {
				fromPeer = r.Connection.RemoteEID.String()
			}

			if err := c.processor.receive(r.Bundle, fromPeer); err != nil {
				log.WithFields(log.Fields{
					"bundle": r.Bundle.ID(),
					"error":  err,
				}).Debug("dtncore: receive failed")
			}
		}
	}
}

func (c *Core) pumpPeerEvents() {
	defer c.wg.Done()

	for {
		select {
		case <-c.stopCh:
			return
		case ev, ok := <-c.Peers.Events():
			if !ok {
				return
			}
			if c.Router == nil {
				continue
			}

			switch ev.Type {
			case peer.Discovered, peer.Updated:
				c.Router.HandleNotification(routing.Command{Name: routing.CmdPeerEncountered, Peer: ev.Peer})
			case peer.Lost:
				c.Router.HandleNotification(routing.Command{Name: routing.CmdPeerLost, Peer: ev.Peer})
			}
		}
	}
}

// SubmitBundle is the entry point for a locally originated bundle (C4/HTTP
// send).
func (c *Core) SubmitBundle(b bpv7.Bundle) error {
	return c.processor.transmit(b)
}

// SubmitIncoming feeds a bundle received out-of-band (e.g. the management
// HTTP server's /push ingress route) into the same pipeline pumpIncoming
// uses for CLA-sourced bundles. remoteAddr is logged only; it is not an EID
// so it cannot seed the routing agent's loop-prevention state.
func (c *Core) SubmitIncoming(b bpv7.Bundle, remoteAddr string) error {
	return c.processor.receive(b, "")
}

// GetRoutingDecision delegates to the configured Router, or applies the
// default policy: flood every known peer, deliver locally if the
// destination is a local endpoint.
func (c *Core) GetRoutingDecision(b bpv7.Bundle) routing.Decision {
	id := b.ID().String()
	dest := b.PrimaryBlock.Destination

	if c.Router != nil {
		return c.Router.GetNextHops(b)
	}
	if c.IsLocalEndpoint(dest) {
		return routing.Decision{BundleID: id, IsLocalDelivery: true}
	}
	return routing.Decision{BundleID: id, NextHops: c.Peers.GetAll()}
}

// SendBundle iterates peers, picks a CLA able to reach each one via
// CLAs.SendBundle, and updates outgoing stats and peer fail/success
// bookkeeping accordingly. Shared by forward() and the janitor's reforward
// step.
func (c *Core) SendBundle(b bpv7.Bundle, peers []peer.Peer) {
	for _, p := range peers {
		if err := c.CLAs.SendBundle(b, p); err != nil {
			c.Peers.RecordFailure(p.EID)
			continue
		}
		c.Peers.RecordSuccess(p.EID)
		c.stats.incOutgoing()
	}
}

// RegisterEndpoint marks id as locally registered and subscribes it for
// pull-style delivery, returning its delivery queue.
func (c *Core) RegisterEndpoint(id eid.EndpointID) <-chan bpv7.Bundle {
	c.mu.Lock()
	c.localEndpoints[id.String()] = true
	c.mu.Unlock()
	return c.AppAgent.RegisterPull(id)
}

// RegisterEndpointPush marks id as locally registered and subscribes it for
// push-style delivery via delegate.
func (c *Core) RegisterEndpointPush(id eid.EndpointID, delegate appagent.Delegate) {
	c.mu.Lock()
	c.localEndpoints[id.String()] = true
	c.mu.Unlock()
	c.AppAgent.RegisterPush(id, delegate)
}

// UnregisterEndpoint removes id from the local set and the application
// agent.
func (c *Core) UnregisterEndpoint(id eid.EndpointID) {
	c.mu.Lock()
	delete(c.localEndpoints, id.String())
	c.mu.Unlock()
	c.AppAgent.Unregister(id)
}

// IsLocalEndpoint reports whether id is registered locally, exactly or via
// a registered group/prefix pattern.
func (c *Core) IsLocalEndpoint(id eid.EndpointID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.localEndpoints[id.String()] {
		return true
	}
	for pattern := range c.localEndpoints {
		if id.Matches(pattern) {
			return true
		}
	}
	return false
}

// RegisterCLA starts c and begins funnelling its incoming bundles into the
// bundle processor.
func (c *Core) RegisterCLA(cl cla.CLA) error {
	return c.CLAs.Register(cl)
}

// Statistics returns a snapshot of this Core's running counters, plus the
// current store size.
func (c *Core) Statistics() Statistics {
	s := c.stats.snapshot()
	if n, err := c.Store.Count(); err == nil {
		s.Stored = n
	}
	return s
}
