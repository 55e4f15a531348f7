// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package peer

import "github.com/dtn7/dtnagent-go/eid"

// EventType names the kind of change a peer Event reports.
type EventType uint8

const (
	Discovered EventType = iota
	Updated
	Lost
	ConnectionEstablished
	ConnectionLost
)

func (t EventType) String() string {
	switch t {
	case Discovered:
		return "discovered"
	case Updated:
		return "updated"
	case Lost:
		return "lost"
	case ConnectionEstablished:
		return "connection-established"
	case ConnectionLost:
		return "connection-lost"
	default:
		return "unknown"
	}
}

// Event is one item of the peerEvents stream; single-consumer, ordered as
// generated by the Manager.
type Event struct {
	Type EventType
	EID  eid.EndpointID
	Peer Peer
}
