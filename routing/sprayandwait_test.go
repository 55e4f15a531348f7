// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package routing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dtn7/dtnagent-go/eid"
	"github.com/dtn7/dtnagent-go/peer"
)

func TestSprayAndWaitLocallySourcedStartsWithConfiguredCopies(t *testing.T) {
	pm := peer.NewManager(time.Hour)
	defer pm.Close()

	for i := 0; i < 4; i++ {
		pm.AddOrUpdate(peer.Peer{
			EID:     eid.MustParse("dtn://p" + string(rune('0'+i)) + "/"),
			CLAList: []peer.CLARef{{Name: "tcpclv4"}},
		})
		<-pm.Events()
	}

	r := NewSprayAndWait(4)
	require.NoError(t, r.Configure(pm, newFakeCore("dtn://self/")))

	b := testBundle(t, "dtn://self/", "dtn://dest/")

	d := r.GetNextHops(b)
	// remainingCopies=4: give peer1 max(1,4/2)=2 -> remaining=2; give peer2
	// max(1,2/2)=1 -> remaining=1 (<2, spray phase stops).
	require.Len(t, d.NextHops, 2)

	st := r.state[b.ID().String()]
	require.NotNil(t, st)
	assert.EqualValues(t, 1, st.remainingCopies)
}

func TestSprayAndWaitReceivedBundleStartsWithOneCopy(t *testing.T) {
	pm := peer.NewManager(time.Hour)
	defer pm.Close()

	dst := eid.MustParse("dtn://dest/")
	pm.AddOrUpdate(peer.Peer{EID: dst, CLAList: []peer.CLARef{{Name: "tcpclv4"}}})
	<-pm.Events()

	r := NewSprayAndWait(4)
	require.NoError(t, r.Configure(pm, newFakeCore("dtn://self/")))

	b := testBundle(t, "dtn://origin/", "dtn://dest/")
	d := r.GetNextHops(b)
	require.Len(t, d.NextHops, 1)
	assert.Equal(t, dst, d.NextHops[0].EID)

	st := r.state[b.ID().String()]
	require.NotNil(t, st)
	assert.EqualValues(t, 0, st.remainingCopies)
}

func TestSprayAndWaitWaitPhaseOnlyForwardsToDirectPeer(t *testing.T) {
	pm := peer.NewManager(time.Hour)
	defer pm.Close()

	other := eid.MustParse("dtn://other/")
	pm.AddOrUpdate(peer.Peer{EID: other, CLAList: []peer.CLARef{{Name: "tcpclv4"}}})
	<-pm.Events()

	r := NewSprayAndWait(4)
	require.NoError(t, r.Configure(pm, newFakeCore("dtn://self/")))

	b := testBundle(t, "dtn://origin/", "dtn://dest/")
	d := r.GetNextHops(b)
	assert.Empty(t, d.NextHops)
}
