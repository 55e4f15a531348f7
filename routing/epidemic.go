// SPDX-FileCopyrightText: 2019 Markus Sommer
// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package routing

import (
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/dtnagent-go/bpv7"
	"github.com/dtn7/dtnagent-go/peer"
)

// epidemicHistoryCap bounds the number of tracked bundle histories; the
// oldest is evicted on overflow.
const epidemicHistoryCap = 10000

// Epidemic is the flooding-based epidemic router: every peer not yet
// attempted for a bundle, and not the peer that delivered it, is a next
// hop.
type Epidemic struct {
	mu sync.Mutex

	pm   *peer.Manager
	core Core

	// history tracks, per bundle id, the set of peer node names already
	// selected as a next hop: at most once per (bundle, peer) pair,
	// unless the peer was Lost and re-Discovered.
	history      map[string]map[string]bool
	historyOrder []string

	// receivedFrom tracks, per bundle id, the peer that delivered it, for
	// loop prevention.
	receivedFrom map[string]string
}

// NewEpidemic creates an unconfigured Epidemic router.
func NewEpidemic() *Epidemic {
	return &Epidemic{
		history:      make(map[string]map[string]bool),
		receivedFrom: make(map[string]string),
	}
}

func (e *Epidemic) Configure(pm *peer.Manager, core Core) error {
	e.pm = pm
	e.core = core
	log.Debug("routing: epidemic router configured")
	return nil
}

func (e *Epidemic) Start() {}
func (e *Epidemic) Stop()  {}

func (e *Epidemic) touchHistoryLocked(id string) map[string]bool {
	seen, ok := e.history[id]
	if !ok {
		seen = make(map[string]bool)
		e.history[id] = seen
		e.historyOrder = append(e.historyOrder, id)
		if len(e.historyOrder) > epidemicHistoryCap {
			oldest := e.historyOrder[0]
			e.historyOrder = e.historyOrder[1:]
			delete(e.history, oldest)
			delete(e.receivedFrom, oldest)
		}
	}
	return seen
}

// GetNextHops selects every peer with a CLA not yet attempted for this
// bundle and not the peer that delivered it. If the destination is itself
// a current peer, it short-circuits to that peer alone.
func (e *Epidemic) GetNextHops(b bpv7.Bundle) Decision {
	dest := b.PrimaryBlock.Destination
	id := b.ID().String()

	if e.core != nil && e.core.IsLocalEndpoint(dest) {
		return localDeliveryDecision(id)
	}

	if p, ok := e.pm.GetPeer(dest); ok && p.HasAnyCLA() {
		return Decision{BundleID: id, NextHops: []peer.Peer{p}}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	seen := e.touchHistoryLocked(id)
	excludeFrom := e.receivedFrom[id]

	var hops []peer.Peer
	for _, p := range eligiblePeers(e.pm.GetAll()) {
		key := p.EID.String()
		if seen[key] || key == excludeFrom {
			continue
		}
		seen[key] = true
		hops = append(hops, p)
	}

	return Decision{BundleID: id, NextHops: hops}
}

// HandleNotification purges a lost peer from every bundle's history (so a
// rediscovered peer is eligible again) and records the delivering
// peer for loop prevention.
func (e *Epidemic) HandleNotification(cmd Command) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch cmd.Name {
	case CmdPeerLost:
		key := cmd.Peer.EID.String()
		for _, seen := range e.history {
			delete(seen, key)
		}
	case CmdBundleReceived:
		if cmd.FromPeer != "" {
			e.receivedFrom[cmd.BundleID] = cmd.FromPeer
		}
	}
}

func (e *Epidemic) GetState() map[string]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return map[string]string{
		"algorithm":        "epidemic",
		"tracked_bundles":  fmt.Sprintf("%d", len(e.history)),
	}
}
