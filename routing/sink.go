// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package routing

import (
	"github.com/dtn7/dtnagent-go/bpv7"
	"github.com/dtn7/dtnagent-go/peer"
)

// Sink always returns an empty next-hop set for non-local bundles, dropping
// everything it cannot deliver locally. Useful as a test endpoint.
type Sink struct {
	core Core
}

// NewSink creates an unconfigured Sink router.
func NewSink() *Sink { return &Sink{} }

func (s *Sink) Configure(_ *peer.Manager, core Core) error {
	s.core = core
	return nil
}

func (s *Sink) Start() {}
func (s *Sink) Stop()  {}

func (s *Sink) GetNextHops(b bpv7.Bundle) Decision {
	id := b.ID().String()
	if s.core != nil && s.core.IsLocalEndpoint(b.PrimaryBlock.Destination) {
		return localDeliveryDecision(id)
	}
	return Decision{BundleID: id}
}

func (s *Sink) HandleNotification(Command) {}

func (s *Sink) GetState() map[string]string {
	return map[string]string{"algorithm": "sink"}
}
