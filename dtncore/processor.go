// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package dtncore

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/dtnagent-go/bpv7"
	"github.com/dtn7/dtnagent-go/peer"
	"github.com/dtn7/dtnagent-go/routing"
	"github.com/dtn7/dtnagent-go/store"
)

// defaultSeenBundleCap bounds the receive-side duplicate-detection cache;
// oldest entries are evicted first once full.
const defaultSeenBundleCap = 10000

// seenCache is a small FIFO-eviction set used by receive() to detect
// already-seen bundle ids.
type seenCache struct {
	mu    sync.Mutex
	set   map[string]bool
	order []string
	cap   int
}

func newSeenCache(capacity int) *seenCache {
	return &seenCache{set: make(map[string]bool), cap: capacity}
}

// containsOrInsert reports whether id was already known, inserting it
// (evicting the oldest entry if at capacity) if not.
func (s *seenCache) containsOrInsert(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.set[id] {
		return true
	}

	s.set[id] = true
	s.order = append(s.order, id)
	if len(s.order) > s.cap {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.set, oldest)
	}
	return false
}

// processor implements the bundle processor (C9): receive, transmit,
// dispatch, forward, localDelivery, and status-report construction.
type processor struct {
	core *Core
	seen *seenCache
}

// receive handles an inbound bundle arriving from a CLA. fromPeer is
// the remote endpoint the bundle arrived
// from, if known, fed to the routing agent's loop-prevention state.
func (p *processor) receive(b bpv7.Bundle, fromPeer string) error {
	if p.core == nil {
		return ErrNoCoreReference
	}

	id := b.ID().String()

	if p.seen.containsOrInsert(id) {
		p.core.stats.incDuplicates()
		return ErrDuplicateBundle
	}

	if b.PrimaryBlock.IsLifetimeExceeded() {
		if b.PrimaryBlock.BundleControlFlags.Has(bpv7.StatusRequestDeletion) {
			p.sendStatusReport(b, bpv7.DeletedBundle, bpv7.LifetimeExpired)
		}
		return ErrBundleExpired
	}

	if err := p.core.Store.Push(b); err != nil {
		return err
	}
	p.core.stats.incIncoming()

	if b.PrimaryBlock.BundleControlFlags.Has(bpv7.StatusRequestReception) &&
		!b.PrimaryBlock.ReportTo.IsNone() {
		p.sendStatusReport(b, bpv7.ReceivedBundle, bpv7.NoInformation)
	}

	if b.IsAdministrativeRecord() {
		p.handleAdministrativeRecord(b)
		return nil
	}

	for _, cb := range b.CanonicalBlocks {
		switch cb.BlockType() {
		case bpv7.ExtBlockTypePayloadBlock, bpv7.ExtBlockTypePreviousNodeBlock,
			bpv7.ExtBlockTypeBundleAgeBlock, bpv7.ExtBlockTypeHopCountBlock:
			continue
		}

		switch {
		case cb.BlockControlFlags.Has(bpv7.DeleteBundleOnFailure):
			if b.PrimaryBlock.BundleControlFlags.Has(bpv7.StatusRequestDeletion) {
				p.sendStatusReport(b, bpv7.DeletedBundle, bpv7.BlockUnintelligible)
			}
			if err := p.core.Store.Remove(id); err != nil {
				log.WithFields(log.Fields{"bundle": id, "error": err}).Warn("dtncore: removing bundle with unintelligible block failed")
			}
			return ErrBundleDeleted

		case cb.BlockControlFlags.Has(bpv7.StatusReportBlockFailure):
			if b.PrimaryBlock.BundleControlFlags.Has(bpv7.StatusRequestReception) {
				p.sendStatusReport(b, bpv7.ReceivedBundle, bpv7.BlockUnintelligible)
			}

		case cb.BlockControlFlags.Has(bpv7.RemoveBlockOnFailure):
			log.WithFields(log.Fields{"bundle": id, "block": cb.BlockNumber}).
				Debug("dtncore: block marked for removal on failure, not implemented, keeping block")
		}
	}

	if fromPeer != "" && p.core.Router != nil {
		p.core.Router.HandleNotification(routing.Command{
			Name:     routing.CmdBundleReceived,
			BundleID: id,
			FromPeer: fromPeer,
		})
	}

	return p.dispatch(b, id)
}

// transmit handles a locally originated bundle.
func (p *processor) transmit(b bpv7.Bundle) error {
	if p.core == nil {
		return ErrNoCoreReference
	}
	if !p.core.IsLocalEndpoint(b.PrimaryBlock.SourceNode) {
		return ErrInvalidSource
	}
	if b.PrimaryBlock.IsLifetimeExceeded() {
		return ErrBundleExpired
	}

	if err := p.core.Store.Push(b); err != nil {
		return err
	}

	return p.dispatch(b, b.ID().String())
}

// dispatch routes a bundle whose dispatchPending constraint was just set
// by Push.
func (p *processor) dispatch(b bpv7.Bundle, id string) error {
	pack, err := p.core.Store.GetMetadata(id)
	if err != nil {
		return err
	}
	pack.Constraints &^= store.DispatchPending
	if err := p.core.Store.UpdateMetadata(pack); err != nil {
		return err
	}

	decision := p.core.GetRoutingDecision(b)

	switch {
	case decision.IsLocalDelivery:
		return p.localDelivery(b, id)

	case len(decision.NextHops) > 0:
		pack.Constraints |= store.ForwardPending
		if err := p.core.Store.UpdateMetadata(pack); err != nil {
			return err
		}
		return p.forward(b, id, decision.NextHops)

	default:
		if b.PrimaryBlock.BundleControlFlags.Has(bpv7.StatusRequestDeletion) && !b.PrimaryBlock.Destination.IsNone() {
			p.sendStatusReport(b, bpv7.DeletedBundle, bpv7.NoRouteToDestination)
		}
		p.core.stats.incFailed()
		return nil
	}
}

// forward attempts delivery of a bundle to every peer in peers.
func (p *processor) forward(b bpv7.Bundle, id string, peers []peer.Peer) error {
	if b.PrimaryBlock.IsLifetimeExceeded() {
		if b.PrimaryBlock.BundleControlFlags.Has(bpv7.StatusRequestDeletion) {
			p.sendStatusReport(b, bpv7.DeletedBundle, bpv7.LifetimeExpired)
		}
		if pack, err := p.core.Store.GetMetadata(id); err == nil {
			pack.Constraints |= store.Deleted
			_ = p.core.Store.UpdateMetadata(pack)
		}
		return ErrBundleExpired
	}

	p.core.SendBundle(b, peers)

	if pack, err := p.core.Store.GetMetadata(id); err == nil {
		pack.Constraints &^= store.ForwardPending
		_ = p.core.Store.UpdateMetadata(pack)
	}

	if b.PrimaryBlock.BundleControlFlags.Has(bpv7.StatusRequestForward) {
		p.sendStatusReport(b, bpv7.ForwardedBundle, bpv7.NoInformation)
	}

	return nil
}

// localDelivery hands a bundle to the application agent.
func (p *processor) localDelivery(b bpv7.Bundle, id string) error {
	if !p.core.IsLocalEndpoint(b.PrimaryBlock.Destination) {
		return ErrNoLocalEndpoint
	}

	p.core.AppAgent.DeliverBundle(b)
	p.core.stats.incDelivered()

	if b.PrimaryBlock.BundleControlFlags.Has(bpv7.StatusRequestDelivery) {
		p.sendStatusReport(b, bpv7.DeliveredBundle, bpv7.NoInformation)
	}

	if pack, err := p.core.Store.GetMetadata(id); err == nil {
		pack.Constraints |= store.Deleted
		_ = p.core.Store.UpdateMetadata(pack)
	}

	return nil
}

// sendStatusReport builds and transmits an administrative-record bundle
// reporting item/reason for orig. Transmission is fully recursive into
// the pipeline.
func (p *processor) sendStatusReport(orig bpv7.Bundle, item bpv7.StatusInformationPos, reason bpv7.StatusReportReason) {
	if !p.core.GenerateStatusReports {
		return
	}
	if orig.PrimaryBlock.ReportTo.IsNone() {
		return
	}

	sr := bpv7.NewStatusReport(orig, item, reason, bpv7.DtnTimeNow())
	payload, err := bpv7.AdministrativeRecordToPayload(&sr)
	if err != nil {
		log.WithFields(log.Fields{"error": err}).Warn("dtncore: encoding status report failed")
		return
	}

	rb, err := bpv7.NewBuilder().
		Source(p.core.NodeID).
		Destination(orig.PrimaryBlock.ReportTo).
		CreationTimestampNow().
		Lifetime(time.Hour).
		BundleCtrlFlags(bpv7.AdministrativeRecordPayload).
		PayloadBlock(payload).
		Build()
	if err != nil {
		log.WithFields(log.Fields{"error": err}).Warn("dtncore: building status report bundle failed")
		return
	}

	if err := p.transmit(rb); err != nil {
		log.WithFields(log.Fields{"error": err}).Warn("dtncore: transmitting status report failed")
	}
}

// handleAdministrativeRecord decodes and dispatches an administrative
// record step 7.
func (p *processor) handleAdministrativeRecord(b bpv7.Bundle) {
	data, err := b.PayloadData()
	if err != nil {
		log.WithFields(log.Fields{"error": err}).Warn("dtncore: administrative record without payload")
		return
	}

	ar, err := bpv7.ParseAdministrativeRecord(data)
	if err != nil {
		log.WithFields(log.Fields{"error": err}).Warn(ErrInvalidAdministrativeRecord.Error())
		return
	}

	switch rec := ar.(type) {
	case *bpv7.StatusReport:
		log.WithFields(log.Fields{
			"source":    rec.SourceNode,
			"reason":    rec.ReportReason,
			"timestamp": rec.Timestamp,
		}).Info("dtncore: received status report")
	default:
		log.WithFields(log.Fields{"type": ar.RecordTypeCode()}).Warn("dtncore: unknown administrative record type")
	}
}
