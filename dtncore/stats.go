// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package dtncore

import "sync/atomic"

// Statistics are the core orchestrator's running counters.
// Stored is not tracked here; it is derived on demand from store.Count().
type Statistics struct {
	Incoming   uint64
	Duplicates uint64
	Outgoing   uint64
	Delivered  uint64
	Failed     uint64
	Broken     uint64
	Stored     uint64
}

type statistics struct {
	incoming, duplicates, outgoing, delivered, failed, broken uint64
}

func (s *statistics) incIncoming()   { atomic.AddUint64(&s.incoming, 1) }
func (s *statistics) incDuplicates() { atomic.AddUint64(&s.duplicates, 1) }
func (s *statistics) incOutgoing()   { atomic.AddUint64(&s.outgoing, 1) }
func (s *statistics) incDelivered()  { atomic.AddUint64(&s.delivered, 1) }
func (s *statistics) incFailed()     { atomic.AddUint64(&s.failed, 1) }
func (s *statistics) incBroken()     { atomic.AddUint64(&s.broken, 1) }

func (s *statistics) snapshot() Statistics {
	return Statistics{
		Incoming:   atomic.LoadUint64(&s.incoming),
		Duplicates: atomic.LoadUint64(&s.duplicates),
		Outgoing:   atomic.LoadUint64(&s.outgoing),
		Delivered:  atomic.LoadUint64(&s.delivered),
		Failed:     atomic.LoadUint64(&s.failed),
		Broken:     atomic.LoadUint64(&s.broken),
	}
}
