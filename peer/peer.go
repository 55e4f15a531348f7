// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package peer implements the peer manager (C3): the registry of known DTN
// neighbours, their convergence-layer reachability, and the discovered/
// updated/lost event stream that routing agents and the janitor subscribe to.
package peer

import (
	"github.com/dtn7/dtnagent-go/eid"
)

// Kind distinguishes a statically configured peer from one learned through
// CLA discovery.
type Kind uint8

const (
	// Static peers come from configuration and are never pruned by the
	// lastContact staleness sweep's failCount branch (they may still be
	// pruned for being stale).
	Static Kind = iota
	// Dynamic peers are learned at runtime, e.g. via UDP beacon discovery
	// or an inbound TCPCLv4 session.
	Dynamic
)

func (k Kind) String() string {
	if k == Static {
		return "static"
	}
	return "dynamic"
}

// CLARef names one convergence layer this peer is reachable through, by CLA
// family name and an optional port override.
type CLARef struct {
	Name string
	Port uint16
}

// Peer is the in-memory record of a DTN neighbour.
type Peer struct {
	EID            eid.EndpointID
	Address        string
	Kind           Kind
	AnnouncePeriod uint
	CLAList        []CLARef
	Services       map[uint8]string

	// LastContact is the Unix time, in seconds, at which this peer was last
	// added, refreshed or recorded as a successful contact.
	LastContact int64
	FailCount   int
}

// HasCLA reports whether this peer is reachable via the named CLA family.
func (p Peer) HasCLA(name string) bool {
	for _, c := range p.CLAList {
		if c.Name == name {
			return true
		}
	}
	return false
}

// HasAnyCLA reports whether this peer has at least one CLA at all, as
// required by routing's "current peer with at least one CLA" eligibility
// check.
func (p Peer) HasAnyCLA() bool { return len(p.CLAList) > 0 }

func (p Peer) clone() Peer {
	c := p
	c.CLAList = append([]CLARef(nil), p.CLAList...)
	c.Services = make(map[uint8]string, len(p.Services))
	for k, v := range p.Services {
		c.Services[k] = v
	}
	return c
}
