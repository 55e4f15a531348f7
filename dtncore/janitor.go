// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package dtncore

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/dtnagent-go/store"
)

// defaultJanitorInterval is the sweep cadence when none is configured.
const defaultJanitorInterval = 10 * time.Second

// janitor is the periodic maintenance loop (C10): expiring bundles,
// pruning stale peers, and re-attempting forwarding.
type janitor struct {
	core     *Core
	interval time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

func newJanitor(core *Core, interval time.Duration, peerTimeout time.Duration) *janitor {
	if interval <= 0 {
		interval = defaultJanitorInterval
	}
	_ = peerTimeout // peer staleness is governed by the peer.Manager itself (see PruneStale)

	return &janitor{
		core:     core,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

func (j *janitor) start() {
	go j.loop()
}

func (j *janitor) stop() {
	close(j.stopCh)
	<-j.doneCh
}

func (j *janitor) loop() {
	defer close(j.doneCh)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.stopCh:
			return
		case <-ticker.C:
			j.sweep()
		}
	}
}

func (j *janitor) sweep() {
	j.expireBundles()
	j.core.Peers.PruneStale()
	j.reforward()
}

// expireBundles removes expired bundles and purges the BundlePack of
// anything already marked deleted by the processor.
func (j *janitor) expireBundles() {
	ids, err := j.core.Store.AllIds()
	if err != nil {
		log.WithFields(log.Fields{"error": err}).Warn("dtncore: janitor could not list bundles")
		return
	}

	for _, id := range ids {
		pack, err := j.core.Store.GetMetadata(id)
		if err != nil {
			continue
		}

		if pack.Constraints.Has(store.Deleted) {
			if err := j.core.Store.Purge(id); err != nil {
				log.WithFields(log.Fields{"bundle": id, "error": err}).Debug("dtncore: janitor purge failed")
			}
			continue
		}

		b, err := j.core.Store.GetBundle(id)
		if err != nil {
			continue
		}

		if b.PrimaryBlock.IsLifetimeExceeded() {
			if err := j.core.Store.Remove(id); err != nil {
				log.WithFields(log.Fields{"bundle": id, "error": err}).Debug("dtncore: janitor remove failed")
				continue
			}
			log.WithFields(log.Fields{"bundle": id}).Info("dtncore: janitor removed expired bundle")
		}
	}
}

// reforward retries forwarding of any bundle still
// awaiting delivery, once at least one CLA is active.
func (j *janitor) reforward() {
	if len(j.core.CLAs.All()) == 0 {
		return
	}

	ids, err := j.core.Store.AllIds()
	if err != nil {
		return
	}

	for _, id := range ids {
		pack, err := j.core.Store.GetMetadata(id)
		if err != nil || pack.Constraints.Has(store.Deleted) {
			continue
		}

		b, err := j.core.Store.GetBundle(id)
		if err != nil {
			continue
		}
		if b.PrimaryBlock.IsLifetimeExceeded() {
			continue
		}

		decision := j.core.GetRoutingDecision(b)
		if !decision.IsLocalDelivery && len(decision.NextHops) > 0 {
			j.core.SendBundle(b, decision.NextHops)
		}
	}
}
