// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package udpcla

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dtn7/dtnagent-go/bpv7"
	"github.com/dtn7/dtnagent-go/peer"
)

func testBundle(t *testing.T) bpv7.Bundle {
	t.Helper()
	b, err := bpv7.NewBuilder().
		Source("dtn://sender/").
		Destination("dtn://receiver/inbox").
		CreationTimestampEpoch().
		Lifetime(time.Hour).
		PayloadBlock([]byte("udp hello")).
		Build()
	require.NoError(t, err)
	return b
}

func TestSendBundleDeliversOverLoopback(t *testing.T) {
	server, err := NewCLA("127.0.0.1:0", 0)
	require.NoError(t, err)
	require.NoError(t, server.Start())
	defer server.Stop()

	client, err := NewCLA("127.0.0.1:0", 0)
	require.NoError(t, err)
	require.NoError(t, client.Start())
	defer client.Stop()

	target := peer.Peer{Address: server.conn.LocalAddr().String(), CLAList: []peer.CLARef{{Name: "udpcla"}}}
	require.NoError(t, client.SendBundle(testBundle(t), target))

	select {
	case r := <-server.Incoming():
		assert.Equal(t, "dtn://receiver/inbox", r.Bundle.PrimaryBlock.Destination.String())
		assert.Contains(t, r.Connection.ID, "udp-")
	case <-time.After(2 * time.Second):
		t.Fatal("expected bundle to arrive at server")
	}
}

func TestSendBundleTooLargeErrors(t *testing.T) {
	client, err := NewCLA("127.0.0.1:0", 16)
	require.NoError(t, err)
	require.NoError(t, client.Start())
	defer client.Stop()

	err = client.SendBundle(testBundle(t), peer.Peer{Address: "127.0.0.1:1"})
	var tooLarge BundleTooLarge
	assert.ErrorAs(t, err, &tooLarge)
}

func TestNewCLARejectsOversizeMax(t *testing.T) {
	_, err := NewCLA("127.0.0.1:0", MaxBundleSize+1)
	assert.Error(t, err)
}

func TestCanReachRequiresCLAAndAddress(t *testing.T) {
	client, err := NewCLA("127.0.0.1:0", 0)
	require.NoError(t, err)

	assert.False(t, client.CanReach(peer.Peer{CLAList: []peer.CLARef{{Name: "udpcla"}}}))
	assert.False(t, client.CanReach(peer.Peer{Address: "127.0.0.1:4556"}))
	assert.True(t, client.CanReach(peer.Peer{Address: "127.0.0.1:4556", CLAList: []peer.CLARef{{Name: "udpcla"}}}))
}
