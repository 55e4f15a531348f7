// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package peer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dtn7/dtnagent-go/eid"
)

func TestManagerAddOrUpdateEmitsDiscoveredThenUpdated(t *testing.T) {
	m := NewManager(time.Hour)
	defer m.Close()

	node := eid.MustParse("dtn://node1/")

	m.AddOrUpdate(Peer{EID: node, Address: "127.0.0.1:4556", Kind: Dynamic})
	ev := <-m.Events()
	assert.Equal(t, Discovered, ev.Type)
	assert.Equal(t, node, ev.EID)

	m.AddOrUpdate(Peer{EID: node, Address: "127.0.0.1:4557", Kind: Dynamic})
	ev = <-m.Events()
	assert.Equal(t, Updated, ev.Type)
	assert.Equal(t, "127.0.0.1:4557", ev.Peer.Address)

	all := m.GetAll()
	require.Len(t, all, 1)
	assert.Equal(t, "127.0.0.1:4557", all[0].Address)
}

func TestManagerRemoveEmitsLost(t *testing.T) {
	m := NewManager(time.Hour)
	defer m.Close()

	node := eid.MustParse("dtn://node1/")
	m.AddOrUpdate(Peer{EID: node})
	<-m.Events()

	m.Remove(node)
	ev := <-m.Events()
	assert.Equal(t, Lost, ev.Type)

	_, ok := m.GetPeer(node)
	assert.False(t, ok)
}

func TestManagerRemoveUnknownIsNoop(t *testing.T) {
	m := NewManager(time.Hour)
	defer m.Close()

	m.Remove(eid.MustParse("dtn://ghost/"))

	select {
	case <-m.Events():
		t.Fatal("expected no event for removing an unknown peer")
	case <-time.After(10 * time.Millisecond):
	}
}

func TestManagerRecordFailureThenSuccessResets(t *testing.T) {
	m := NewManager(time.Hour)
	defer m.Close()

	node := eid.MustParse("dtn://node1/")
	m.AddOrUpdate(Peer{EID: node})
	<-m.Events()

	m.RecordFailure(node)
	m.RecordFailure(node)
	p, ok := m.GetPeer(node)
	require.True(t, ok)
	assert.Equal(t, 2, p.FailCount)

	m.RecordSuccess(node)
	p, _ = m.GetPeer(node)
	assert.Equal(t, 0, p.FailCount)
}

func TestManagerPruneStaleRemovesExceededFailCountAndStaleContact(t *testing.T) {
	m := NewManager(time.Minute)
	defer m.Close()

	fresh := eid.MustParse("dtn://fresh/")
	flaky := eid.MustParse("dtn://flaky/")
	stale := eid.MustParse("dtn://stale/")

	fixedNow := time.Now()
	m.now = func() time.Time { return fixedNow }

	m.AddOrUpdate(Peer{EID: fresh, Kind: Dynamic})
	<-m.Events()
	m.AddOrUpdate(Peer{EID: flaky, Kind: Dynamic})
	<-m.Events()
	m.AddOrUpdate(Peer{EID: stale, Kind: Static})
	<-m.Events()

	m.RecordFailure(flaky)
	m.RecordFailure(flaky)
	m.RecordFailure(flaky)
	m.RecordFailure(flaky)

	m.mu.Lock()
	p := m.peers[stale.String()]
	p.LastContact = fixedNow.Add(-2 * time.Minute).Unix()
	m.peers[stale.String()] = p
	m.mu.Unlock()

	m.PruneStale()

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		ev := <-m.Events()
		seen[ev.EID.String()] = true
		assert.Equal(t, Lost, ev.Type)
	}
	assert.True(t, seen[flaky.String()])
	assert.True(t, seen[stale.String()])

	_, ok := m.GetPeer(fresh)
	assert.True(t, ok)
}
