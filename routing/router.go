// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package routing implements the routing-agent abstraction (C8) and its
// four representative algorithms (epidemic, flooding, spray-and-wait,
// static), plus the sink algorithm used as a test endpoint.
package routing

import (
	"github.com/dtn7/dtnagent-go/bpv7"
	"github.com/dtn7/dtnagent-go/eid"
	"github.com/dtn7/dtnagent-go/peer"
)

// Core is the subset of the core orchestrator a routing agent needs. It is
// a narrow interface, not the concrete dtncore.Core type, so this package
// never imports dtncore: routing agents receive a handle at Configure and
// release it at Stop, they never own the core.
type Core interface {
	IsLocalEndpoint(id eid.EndpointID) bool
}

// Decision is the outcome of a routing agent's next-hop computation for one
// bundle.
type Decision struct {
	BundleID        string
	NextHops        []peer.Peer
	IsLocalDelivery bool
}

// CommandName names a notification delivered to a routing agent via
// HandleNotification.
type CommandName string

const (
	// CmdPeerEncountered is sent when the peer manager reports a peer
	// Discovered or Updated event.
	CmdPeerEncountered CommandName = "peer-encountered"

	// CmdPeerLost is sent when the peer manager reports a peer Lost event.
	CmdPeerLost CommandName = "peer-lost"

	// CmdBundleReceived tells the routing agent which peer delivered a
	// given bundle, feeding the per-bundle loop-prevention state of
	// forwarding history.
	CmdBundleReceived CommandName = "bundle-received"

	// CmdReload asks a routing agent to reload any file-backed
	// configuration, e.g. the static router's route table.
	CmdReload CommandName = "reload"
)

// Command is one notification delivered to a routing agent's
// HandleNotification.
type Command struct {
	Name     CommandName
	Peer     peer.Peer
	BundleID string
	FromPeer string
}

// Router is the shared contract every routing algorithm implements.
type Router interface {
	// Configure wires this Router to the peer manager and a handle on the
	// core orchestrator.
	Configure(pm *peer.Manager, core Core) error

	Start()
	Stop()

	// GetNextHops computes the forwarding decision for b. If b's
	// destination is local per Core.IsLocalEndpoint, every implementation
	// returns Decision{IsLocalDelivery: true, NextHops: nil}.
	GetNextHops(b bpv7.Bundle) Decision

	HandleNotification(cmd Command)

	// GetState reports diagnostic key/value state, e.g. for the
	// management API.
	GetState() map[string]string
}

// localDeliveryDecision is the Decision every Router returns for a bundle
// addressed to a locally registered endpoint.
func localDeliveryDecision(bundleID string) Decision {
	return Decision{BundleID: bundleID, IsLocalDelivery: true}
}

// eligiblePeers returns every peer in all with at least one CLA.
func eligiblePeers(all []peer.Peer) []peer.Peer {
	out := make([]peer.Peer, 0, len(all))
	for _, p := range all {
		if p.HasAnyCLA() {
			out = append(out, p)
		}
	}
	return out
}
