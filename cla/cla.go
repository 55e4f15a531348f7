// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package cla defines the convergence-layer adapter abstraction (C6): the
// CLA interface every transport (TCPCLv4, UDP, HTTP push/pull) implements,
// the Connection metadata describing one reachable remote, and the Manager
// that supervises a node's registered CLAs and fans their incoming bundles
// upstream into one stream.
package cla

import (
	"time"

	"github.com/dtn7/dtnagent-go/bpv7"
	"github.com/dtn7/dtnagent-go/eid"
	"github.com/dtn7/dtnagent-go/peer"
)

// Connection describes one remote a CLA can currently reach or has
// received a bundle from.
type Connection struct {
	ID            string
	RemoteEID     eid.EndpointID
	RemoteAddress string
	CLAType       string
	EstablishedAt time.Time
}

// Received pairs an inbound bundle with the Connection it arrived on, the
// unit of the CLA's incoming async stream.
type Received struct {
	Bundle     bpv7.Bundle
	Connection Connection
}

// CLA is the convergence-layer adapter contract every transport
// implements.
type CLA interface {
	// ID is this CLA instance's unique identifier.
	ID() string

	// Name is the CLA family name, e.g. "tcpclv4", "udpcla", "httpcla-push".
	Name() string

	// Start activates the CLA, e.g. opening a listening socket.
	Start() error

	// Stop shuts the CLA down, closing any open connections.
	Stop() error

	// SendBundle transmits b to p over this CLA. Returns an error if this
	// CLA cannot currently reach p.
	SendBundle(b bpv7.Bundle, p peer.Peer) error

	// CanReach reports whether this CLA believes it can currently reach p.
	CanReach(p peer.Peer) bool

	// GetConnections lists the remotes this CLA currently tracks.
	GetConnections() []Connection

	// Incoming returns the stream of bundles this CLA has received. The
	// core subscribes to it once per registered CLA and feeds every
	// arrival into the bundle processor's receive operation.
	Incoming() <-chan Received
}
