// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package appagent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dtn7/dtnagent-go/bpv7"
	"github.com/dtn7/dtnagent-go/eid"
)

func testBundle(t *testing.T, dest string) bpv7.Bundle {
	t.Helper()

	src := eid.MustParse("dtn://sender/")
	d := eid.MustParse(dest)
	pb := bpv7.NewPrimaryBlock(0, d, src, bpv7.NewCreationTimestamp(bpv7.DtnTimeNow(), 0), 3600)
	return bpv7.Bundle{PrimaryBlock: pb}
}

func TestDeliverBundleExactMatchToPullQueue(t *testing.T) {
	a := NewAgent()
	dst := eid.MustParse("dtn://node1/inbox")
	queue := a.RegisterPull(dst)

	delivered := a.DeliverBundle(testBundle(t, "dtn://node1/inbox"))
	assert.True(t, delivered)

	select {
	case b := <-queue:
		assert.Equal(t, dst, b.PrimaryBlock.Destination)
	case <-time.After(time.Second):
		t.Fatal("expected bundle on pull queue")
	}
}

func TestDeliverBundlePatternMatchToPushDelegate(t *testing.T) {
	a := NewAgent()
	pattern := eid.MustParse("dtn://node1/*")
	var got bpv7.Bundle
	a.RegisterPush(pattern, func(b bpv7.Bundle) { got = b })

	delivered := a.DeliverBundle(testBundle(t, "dtn://node1/inbox/deep"))
	assert.True(t, delivered)
	assert.Equal(t, "dtn://node1/inbox/deep", got.PrimaryBlock.Destination.String())
}

func TestDeliverBundleQueuesPendingWithoutMatch(t *testing.T) {
	a := NewAgent()

	delivered := a.DeliverBundle(testBundle(t, "dtn://node1/inbox"))
	assert.False(t, delivered)
}

func TestPendingDrainsInFIFOOrderOnRegistration(t *testing.T) {
	a := NewAgent()
	dst := eid.MustParse("dtn://node1/inbox")

	for i := uint64(0); i < 2; i++ {
		b := testBundle(t, "dtn://node1/inbox")
		b.PrimaryBlock.CreationTimestamp = bpv7.NewCreationTimestamp(bpv7.DtnTimeNow(), i)
		a.DeliverBundle(b)
	}

	var order []uint64
	a.RegisterPush(dst, func(b bpv7.Bundle) {
		order = append(order, b.PrimaryBlock.CreationTimestamp.SequenceNumber())
	})

	assert.Equal(t, []uint64{0, 1}, order)
}

func TestPendingCappedAtHundredDropsOldest(t *testing.T) {
	a := NewAgent()
	dst := eid.MustParse("dtn://node1/inbox")

	for i := 0; i < pendingCap+10; i++ {
		b := testBundle(t, "dtn://node1/inbox")
		b.PrimaryBlock.CreationTimestamp = bpv7.NewCreationTimestamp(bpv7.DtnTimeNow(), uint64(i))
		a.DeliverBundle(b)
	}

	var seqs []uint64
	a.RegisterPush(dst, func(b bpv7.Bundle) {
		seqs = append(seqs, b.PrimaryBlock.CreationTimestamp.SequenceNumber())
	})
	require.Equal(t, pendingCap, len(seqs))
	// The ten oldest (sequence numbers 0..9) were dropped.
	assert.Equal(t, uint64(10), seqs[0])
	assert.Equal(t, uint64(pendingCap+9), seqs[len(seqs)-1])
}

func TestUnregisterClosesQueueAndRequeuesFuturePending(t *testing.T) {
	a := NewAgent()
	dst := eid.MustParse("dtn://node1/inbox")

	queue := a.RegisterPull(dst)
	a.Unregister(dst)
	require.False(t, a.IsRegistered(dst))

	_, open := <-queue
	assert.False(t, open)

	delivered := a.DeliverBundle(testBundle(t, "dtn://node1/inbox"))
	assert.False(t, delivered)
}

func TestDeliverBundlePatternMatchPrefersFirstRegistered(t *testing.T) {
	a := NewAgent()

	var hits []string
	a.RegisterPush(eid.MustParse("dtn://node1/app/*"), func(bpv7.Bundle) { hits = append(hits, "narrow") })
	a.RegisterPush(eid.MustParse("dtn://node1/*"), func(bpv7.Bundle) { hits = append(hits, "wide") })

	// Both patterns match; repeated deliveries must always pick the
	// first-registered one.
	for i := 0; i < 16; i++ {
		require.True(t, a.DeliverBundle(testBundle(t, "dtn://node1/app/inbox")))
	}

	require.Len(t, hits, 16)
	for _, h := range hits {
		assert.Equal(t, "narrow", h)
	}
}
