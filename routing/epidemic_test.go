// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package routing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dtn7/dtnagent-go/bpv7"
	"github.com/dtn7/dtnagent-go/eid"
	"github.com/dtn7/dtnagent-go/peer"
)

type fakeCore struct {
	local map[string]bool
}

func newFakeCore(locals ...string) *fakeCore {
	m := make(map[string]bool)
	for _, l := range locals {
		m[eid.MustParse(l).String()] = true
	}
	return &fakeCore{local: m}
}

func (c *fakeCore) IsLocalEndpoint(id eid.EndpointID) bool { return c.local[id.String()] }

func testBundle(t *testing.T, src, dst string) bpv7.Bundle {
	t.Helper()
	b, err := bpv7.NewBuilder().
		Source(src).
		Destination(dst).
		CreationTimestampNow().
		Lifetime(time.Hour).
		PayloadBlock([]byte("hi")).
		Build()
	require.NoError(t, err)
	return b
}

func TestEpidemicNoResendUntilLost(t *testing.T) {
	pm := peer.NewManager(time.Hour)
	defer pm.Close()

	p1 := peer.Peer{EID: eid.MustParse("dtn://p1/"), CLAList: []peer.CLARef{{Name: "tcpclv4"}}}
	p2 := peer.Peer{EID: eid.MustParse("dtn://p2/"), CLAList: []peer.CLARef{{Name: "tcpclv4"}}}
	pm.AddOrUpdate(p1)
	<-pm.Events()
	pm.AddOrUpdate(p2)
	<-pm.Events()

	r := NewEpidemic()
	require.NoError(t, r.Configure(pm, newFakeCore("dtn://self/")))

	b := testBundle(t, "dtn://self/", "dtn://dest/")

	d1 := r.GetNextHops(b)
	assert.Len(t, d1.NextHops, 2)

	// The same peers must not be returned again for this bundle.
	d2 := r.GetNextHops(b)
	assert.Empty(t, d2.NextHops)

	// Once p1 is Lost and rediscovered, it is eligible again.
	r.HandleNotification(Command{Name: CmdPeerLost, Peer: p1})
	pm.Remove(p1.EID)
	<-pm.Events()
	pm.AddOrUpdate(p1)
	<-pm.Events()

	d3 := r.GetNextHops(b)
	require.Len(t, d3.NextHops, 1)
	assert.Equal(t, p1.EID, d3.NextHops[0].EID)
}

func TestEpidemicLocalDestinationShortCircuits(t *testing.T) {
	pm := peer.NewManager(time.Hour)
	defer pm.Close()

	r := NewEpidemic()
	require.NoError(t, r.Configure(pm, newFakeCore("dtn://self/")))

	b := testBundle(t, "dtn://other/", "dtn://self/")
	d := r.GetNextHops(b)
	assert.True(t, d.IsLocalDelivery)
	assert.Empty(t, d.NextHops)
}

func TestEpidemicDirectPeerShortCircuits(t *testing.T) {
	pm := peer.NewManager(time.Hour)
	defer pm.Close()

	dst := eid.MustParse("dtn://dest/")
	p := peer.Peer{EID: dst, CLAList: []peer.CLARef{{Name: "tcpclv4"}}}
	pm.AddOrUpdate(p)
	<-pm.Events()

	r := NewEpidemic()
	require.NoError(t, r.Configure(pm, newFakeCore("dtn://self/")))

	b := testBundle(t, "dtn://self/", "dtn://dest/")
	d := r.GetNextHops(b)
	require.Len(t, d.NextHops, 1)
	assert.Equal(t, dst, d.NextHops[0].EID)
}

func TestEpidemicExcludesDeliveringPeer(t *testing.T) {
	pm := peer.NewManager(time.Hour)
	defer pm.Close()

	p1 := peer.Peer{EID: eid.MustParse("dtn://p1/"), CLAList: []peer.CLARef{{Name: "tcpclv4"}}}
	pm.AddOrUpdate(p1)
	<-pm.Events()

	r := NewEpidemic()
	require.NoError(t, r.Configure(pm, newFakeCore("dtn://self/")))

	b := testBundle(t, "dtn://origin/", "dtn://dest/")
	r.HandleNotification(Command{Name: CmdBundleReceived, BundleID: b.ID().String(), FromPeer: p1.EID.String()})

	d := r.GetNextHops(b)
	assert.Empty(t, d.NextHops)
}
