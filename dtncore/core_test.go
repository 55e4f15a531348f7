// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package dtncore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dtn7/dtnagent-go/appagent"
	"github.com/dtn7/dtnagent-go/bpv7"
	"github.com/dtn7/dtnagent-go/cla"
	"github.com/dtn7/dtnagent-go/eid"
	"github.com/dtn7/dtnagent-go/peer"
	"github.com/dtn7/dtnagent-go/routing"
	"github.com/dtn7/dtnagent-go/service"
	"github.com/dtn7/dtnagent-go/store"
)

func testCore(t *testing.T, router routing.Router) *Core {
	t.Helper()

	nodeID, err := eid.Parse("dtn://node1/")
	require.NoError(t, err)

	c := NewCore(Config{
		NodeID:                nodeID,
		Store:                 store.NewMemStore(),
		CLAs:                  cla.NewManager(),
		Peers:                 peer.NewManager(time.Minute),
		Services:              service.NewRegistry(),
		AppAgent:              appagent.NewAgent(),
		Router:                router,
		GenerateStatusReports: true,
		JanitorInterval:       50 * time.Millisecond,
		PeerTimeout:           time.Minute,
	})
	c.Start()
	t.Cleanup(c.Stop)

	return c
}

func mustBundle(t *testing.T, src, dst string, lifetime time.Duration, flags bpv7.BundleControlFlags) bpv7.Bundle {
	t.Helper()

	b, err := bpv7.NewBuilder().
		Source(src).
		Destination(dst).
		CreationTimestampNow().
		Lifetime(lifetime).
		BundleCtrlFlags(flags).
		PayloadBlock([]byte("hello world")).
		Build()
	require.NoError(t, err)
	return b
}

func TestSubmitBundleRejectsForeignSource(t *testing.T) {
	c := testCore(t, nil)

	b := mustBundle(t, "dtn://other/", "dtn://node1/", time.Hour, 0)
	err := c.SubmitBundle(b)
	assert.ErrorIs(t, err, ErrInvalidSource)
}

func TestSubmitBundleLocalDelivery(t *testing.T) {
	c := testCore(t, nil)

	ch := c.RegisterEndpoint(c.NodeID)

	b := mustBundle(t, "dtn://node1/", "dtn://node1/", time.Hour, 0)
	require.NoError(t, c.SubmitBundle(b))

	select {
	case got := <-ch:
		assert.Equal(t, b.PrimaryBlock.SourceNode, got.PrimaryBlock.SourceNode)
	case <-time.After(time.Second):
		t.Fatal("bundle was not delivered locally")
	}

	stats := c.Statistics()
	assert.Equal(t, uint64(1), stats.Delivered)
}

func TestSubmitBundleNoRouteMarksFailed(t *testing.T) {
	c := testCore(t, nil)

	b := mustBundle(t, "dtn://node1/", "dtn://unreachable/", time.Hour, 0)
	require.NoError(t, c.SubmitBundle(b))

	stats := c.Statistics()
	assert.Equal(t, uint64(1), stats.Failed)
}

func TestSubmitBundleWithFloodingForwardsToKnownPeer(t *testing.T) {
	c := testCore(t, routing.NewFlooding())

	peerID, err := eid.Parse("dtn://peer1/")
	require.NoError(t, err)
	c.Peers.AddOrUpdate(peer.Peer{EID: peerID, Kind: peer.Static, CLAList: []peer.CLARef{{Name: "tcpclv4"}}})

	b := mustBundle(t, "dtn://node1/", "dtn://peer1/", time.Hour, 0)
	require.NoError(t, c.SubmitBundle(b))

	// No CLA is registered, so forwarding attempts fail, but the bundle must
	// still take the forward path (not local delivery, not the no-route
	// failure path).
	stats := c.Statistics()
	assert.Equal(t, uint64(0), stats.Delivered)
	assert.Equal(t, uint64(0), stats.Failed)
}

func TestReceiveDuplicateIsIgnored(t *testing.T) {
	c := testCore(t, nil)
	c.RegisterEndpoint(c.NodeID)

	b := mustBundle(t, "dtn://node1/", "dtn://node1/", time.Hour, 0)

	require.NoError(t, c.processor.receive(b, ""))
	err := c.processor.receive(b, "")
	assert.ErrorIs(t, err, ErrDuplicateBundle)

	stats := c.Statistics()
	assert.Equal(t, uint64(1), stats.Duplicates)
}

func TestReceiveExpiredBundleIsRejected(t *testing.T) {
	c := testCore(t, nil)

	b := mustBundle(t, "dtn://other/", "dtn://node1/", time.Nanosecond, 0)
	time.Sleep(10 * time.Millisecond)

	err := c.processor.receive(b, "")
	assert.ErrorIs(t, err, ErrBundleExpired)
}

func TestJanitorRemovesDeliveredBundleEventually(t *testing.T) {
	c := testCore(t, nil)
	c.RegisterEndpoint(c.NodeID)

	b := mustBundle(t, "dtn://node1/", "dtn://node1/", time.Hour, 0)
	require.NoError(t, c.SubmitBundle(b))

	id := b.ID().String()

	pack, err := c.Store.GetMetadata(id)
	require.NoError(t, err)
	assert.True(t, pack.Constraints.Has(store.Deleted))

	require.Eventually(t, func() bool {
		count, err := c.Store.Count()
		return err == nil && count == 0
	}, 2*time.Second, 20*time.Millisecond, "janitor did not purge the delivered bundle")
}

func TestJanitorRemovesExpiredBundle(t *testing.T) {
	c := testCore(t, nil)

	b := mustBundle(t, "dtn://other/", "dtn://unreachable/", 30*time.Millisecond, 0)
	require.NoError(t, c.Store.Push(b))

	id := b.ID().String()
	require.Eventually(t, func() bool {
		_, err := c.Store.GetMetadata(id)
		return err != nil
	}, 2*time.Second, 20*time.Millisecond, "janitor did not remove the expired bundle")
}
