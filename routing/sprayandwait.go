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

// DefaultSprayCopies is the number of copies a locally sourced bundle
// starts with.
const DefaultSprayCopies = 7

type sprayState struct {
	remainingCopies uint
	sprayedTo       map[string]bool
}

// SprayAndWait is the binary spray-and-wait router. A locally sourced
// bundle starts with L copies, a received bundle with exactly one; while
// remainingCopies >= 2 it sprays half (rounded down, minimum 1) of its
// remaining copies to each not-yet-sprayed peer in turn.
type SprayAndWait struct {
	mu sync.Mutex

	pm           *peer.Manager
	core         Core
	initialCopies uint

	state map[string]*sprayState
}

// NewSprayAndWait creates an unconfigured SprayAndWait router. initialCopies
// of 0 selects DefaultSprayCopies.
func NewSprayAndWait(initialCopies uint) *SprayAndWait {
	if initialCopies == 0 {
		initialCopies = DefaultSprayCopies
	}
	return &SprayAndWait{
		initialCopies: initialCopies,
		state:         make(map[string]*sprayState),
	}
}

func (s *SprayAndWait) Configure(pm *peer.Manager, core Core) error {
	s.pm = pm
	s.core = core
	log.WithFields(log.Fields{"copies": s.initialCopies}).Debug("routing: spray-and-wait router configured")
	return nil
}

func (s *SprayAndWait) Start() {}
func (s *SprayAndWait) Stop()  {}

func (s *SprayAndWait) stateForLocked(b bpv7.Bundle, id string) *sprayState {
	st, ok := s.state[id]
	if ok {
		return st
	}

	copies := uint(1)
	if s.core != nil && s.core.IsLocalEndpoint(b.PrimaryBlock.SourceNode) {
		copies = s.initialCopies
	}
	st = &sprayState{remainingCopies: copies, sprayedTo: make(map[string]bool)}
	s.state[id] = st
	return st
}

// GetNextHops implements the wait phase (remainingCopies < 2: forward only
// to a direct peer, exhausting the last copy) and the spray phase
// (remainingCopies >= 2: give each unsprayed peer half of the remaining
// copies, rounded down and at least 1, until fewer than 2 copies or no
// unsprayed peers remain).
func (s *SprayAndWait) GetNextHops(b bpv7.Bundle) Decision {
	dest := b.PrimaryBlock.Destination
	id := b.ID().String()

	if s.core != nil && s.core.IsLocalEndpoint(dest) {
		return localDeliveryDecision(id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stateForLocked(b, id)

	if st.remainingCopies < 2 {
		if p, ok := s.pm.GetPeer(dest); ok && p.HasAnyCLA() {
			st.remainingCopies = 0
			return Decision{BundleID: id, NextHops: []peer.Peer{p}}
		}
		return Decision{BundleID: id}
	}

	var hops []peer.Peer
	for _, p := range eligiblePeers(s.pm.GetAll()) {
		if st.remainingCopies < 2 {
			break
		}
		key := p.EID.String()
		if st.sprayedTo[key] {
			continue
		}

		give := st.remainingCopies / 2
		if give < 1 {
			give = 1
		}
		st.remainingCopies -= give
		st.sprayedTo[key] = true
		hops = append(hops, p)
	}

	return Decision{BundleID: id, NextHops: hops}
}

func (s *SprayAndWait) HandleNotification(Command) {}

func (s *SprayAndWait) GetState() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]string{
		"algorithm":      "sprayandwait",
		"initial_copies": fmt.Sprintf("%d", s.initialCopies),
		"tracked_bundles": fmt.Sprintf("%d", len(s.state)),
	}
}
