// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package tcpclv4

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dtn7/dtnagent-go/bpv7"
	"github.com/dtn7/dtnagent-go/cla"
	"github.com/dtn7/dtnagent-go/eid"
	"github.com/dtn7/dtnagent-go/peer"
)

func testTransferBundle(t *testing.T) bpv7.Bundle {
	t.Helper()
	b, err := bpv7.NewBuilder().
		Source("dtn://sender/").
		Destination("dtn://receiver/inbox").
		CreationTimestampEpoch().
		Lifetime(time.Hour).
		PayloadBlock([]byte("hello dtn")).
		Build()
	require.NoError(t, err)
	return b
}

func TestDialAndAcceptHandshakeEstablishes(t *testing.T) {
	clientConn, serverConn := net.Pipe()

	incomingClient := make(chan cla.Received, 1)
	incomingServer := make(chan cla.Received, 1)

	type result struct {
		s   *Session
		err error
	}
	clientCh := make(chan result, 1)
	serverCh := make(chan result, 1)

	go func() {
		s, err := dial(clientConn, "dtn://client/", 15, incomingClient)
		clientCh <- result{s, err}
	}()
	go func() {
		s, err := accept(serverConn, "dtn://server/", 15, incomingServer)
		serverCh <- result{s, err}
	}()

	clientRes := <-clientCh
	serverRes := <-serverCh

	require.NoError(t, clientRes.err)
	require.NoError(t, serverRes.err)

	assert.Equal(t, Established, clientRes.s.State())
	assert.Equal(t, Established, serverRes.s.State())
	assert.Equal(t, "dtn://server/", clientRes.s.RemoteNodeID)
	assert.Equal(t, "dtn://client/", serverRes.s.RemoteNodeID)
}

func TestSendBundleDeliversToPeerIncomingStream(t *testing.T) {
	clientConn, serverConn := net.Pipe()

	incomingClient := make(chan cla.Received, 1)
	incomingServer := make(chan cla.Received, 1)

	type result struct {
		s   *Session
		err error
	}
	clientCh := make(chan result, 1)
	serverCh := make(chan result, 1)

	go func() {
		s, err := dial(clientConn, "dtn://client/", 0, incomingClient)
		clientCh <- result{s, err}
	}()
	go func() {
		s, err := accept(serverConn, "dtn://server/", 0, incomingServer)
		serverCh <- result{s, err}
	}()

	clientRes := <-clientCh
	serverRes := <-serverCh
	require.NoError(t, clientRes.err)
	require.NoError(t, serverRes.err)

	go serverRes.s.readLoop()

	b := testTransferBundle(t)
	require.NoError(t, clientRes.s.SendBundle(b))

	select {
	case r := <-incomingServer:
		assert.Equal(t, "dtn://receiver/inbox", r.Bundle.PrimaryBlock.Destination.String())
		assert.Equal(t, "tcpclv4", r.Connection.CLAType)
	case <-time.After(2 * time.Second):
		t.Fatal("expected bundle to arrive on server's incoming stream")
	}
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func waitPeerEvent(t *testing.T, events <-chan peer.Event, want peer.EventType) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Type == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for peer event %v", want)
		}
	}
}

func TestSessionLifecycleNotifiesPeerManager(t *testing.T) {
	serverAddr := freeAddr(t)

	server := NewCLA(serverAddr, "dtn://server/", nil)
	require.NoError(t, server.Start())

	pm := peer.NewManager(time.Minute)
	defer pm.Close()

	remote := eid.MustParse("dtn://server/")
	p := peer.Peer{
		EID:     remote,
		Address: serverAddr,
		Kind:    peer.Static,
		CLAList: []peer.CLARef{{Name: "tcpclv4"}},
	}
	pm.AddOrUpdate(p)

	client := NewCLA(freeAddr(t), "dtn://client/", pm)
	defer func() { _ = client.Stop() }()

	require.NoError(t, client.SendBundle(testTransferBundle(t), p))
	waitPeerEvent(t, pm.Events(), peer.ConnectionEstablished)

	// Stopping the server terminates the session; the client's side must
	// report the lost connection and count it as a send failure.
	require.NoError(t, server.Stop())
	waitPeerEvent(t, pm.Events(), peer.ConnectionLost)

	got, ok := pm.GetPeer(remote)
	require.True(t, ok)
	assert.Equal(t, 1, got.FailCount)
}
