// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package routing

import (
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/dtnagent-go/bpv7"
	"github.com/dtn7/dtnagent-go/peer"
)

// Flooding returns every currently reachable peer on every call, with no
// suppression of previously sent peers; a noise/robustness baseline.
type Flooding struct {
	pm   *peer.Manager
	core Core
}

// NewFlooding creates an unconfigured Flooding router.
func NewFlooding() *Flooding { return &Flooding{} }

func (f *Flooding) Configure(pm *peer.Manager, core Core) error {
	f.pm = pm
	f.core = core
	log.Debug("routing: flooding router configured")
	return nil
}

func (f *Flooding) Start() {}
func (f *Flooding) Stop()  {}

func (f *Flooding) GetNextHops(b bpv7.Bundle) Decision {
	dest := b.PrimaryBlock.Destination
	id := b.ID().String()

	if f.core != nil && f.core.IsLocalEndpoint(dest) {
		return localDeliveryDecision(id)
	}

	return Decision{BundleID: id, NextHops: eligiblePeers(f.pm.GetAll())}
}

func (f *Flooding) HandleNotification(Command) {}

func (f *Flooding) GetState() map[string]string {
	return map[string]string{"algorithm": "flooding"}
}
