// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cla

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dtn7/dtnagent-go/bpv7"
	"github.com/dtn7/dtnagent-go/eid"
	"github.com/dtn7/dtnagent-go/peer"
)

// fakeCLA is a minimal in-memory CLA stand-in for exercising Manager.
type fakeCLA struct {
	id       string
	name     string
	reach    map[string]bool
	sent     []bpv7.Bundle
	incoming chan Received
	sendErr  error
}

func newFakeCLA(id string) *fakeCLA {
	return &fakeCLA{id: id, name: "fake", reach: map[string]bool{}, incoming: make(chan Received, 4)}
}

func (f *fakeCLA) ID() string                   { return f.id }
func (f *fakeCLA) Name() string                 { return f.name }
func (f *fakeCLA) Start() error                 { return nil }
func (f *fakeCLA) Stop() error                  { close(f.incoming); return nil }
func (f *fakeCLA) CanReach(p peer.Peer) bool     { return f.reach[p.EID.String()] }
func (f *fakeCLA) GetConnections() []Connection  { return nil }
func (f *fakeCLA) Incoming() <-chan Received     { return f.incoming }

func (f *fakeCLA) SendBundle(b bpv7.Bundle, p peer.Peer) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, b)
	return nil
}

func TestManagerRegisterStartsAndRoutesIncoming(t *testing.T) {
	m := NewManager()
	defer m.Close()

	c := newFakeCLA("tcp-1")
	require.NoError(t, m.Register(c))

	node := eid.MustParse("dtn://peer1/")
	c.incoming <- Received{Connection: Connection{RemoteEID: node}}

	select {
	case r := <-m.Incoming():
		assert.Equal(t, node, r.Connection.RemoteEID)
	case <-time.After(time.Second):
		t.Fatal("expected a received bundle to be fanned in")
	}
}

func TestManagerRegisterDuplicateIDFails(t *testing.T) {
	m := NewManager()
	defer m.Close()

	require.NoError(t, m.Register(newFakeCLA("a")))
	err := m.Register(newFakeCLA("a"))
	assert.Error(t, err)
}

func TestManagerSendBundlePicksReachableCLA(t *testing.T) {
	m := NewManager()
	defer m.Close()

	node := eid.MustParse("dtn://peer1/")
	p := peer.Peer{EID: node}

	unreachable := newFakeCLA("u")
	reachable := newFakeCLA("r")
	reachable.reach[node.String()] = true

	require.NoError(t, m.Register(unreachable))
	require.NoError(t, m.Register(reachable))

	err := m.SendBundle(bpv7.Bundle{}, p)
	require.NoError(t, err)
	assert.Len(t, reachable.sent, 1)
	assert.Empty(t, unreachable.sent)
}

func TestManagerSendBundleNoReachableCLAErrors(t *testing.T) {
	m := NewManager()
	defer m.Close()

	node := eid.MustParse("dtn://peer1/")
	err := m.SendBundle(bpv7.Bundle{}, peer.Peer{EID: node})
	assert.Error(t, err)
}

func TestManagerSendBundleFallsThroughOnError(t *testing.T) {
	m := NewManager()
	defer m.Close()

	node := eid.MustParse("dtn://peer1/")
	p := peer.Peer{EID: node}

	failing := newFakeCLA("f")
	failing.reach[node.String()] = true
	failing.sendErr = fmt.Errorf("boom")

	ok := newFakeCLA("ok")
	ok.reach[node.String()] = true

	require.NoError(t, m.Register(failing))
	require.NoError(t, m.Register(ok))

	require.NoError(t, m.SendBundle(bpv7.Bundle{}, p))
	assert.Len(t, ok.sent, 1)
}

func TestManagerFindCLAsForPeerKeepsRegistrationOrder(t *testing.T) {
	m := NewManager()
	defer m.Close()

	node := eid.MustParse("dtn://peer1/")
	p := peer.Peer{EID: node}

	ids := []string{"c0", "c1", "c2", "c3", "c4", "c5", "c6", "c7"}
	for _, id := range ids {
		c := newFakeCLA(id)
		c.reach[node.String()] = true
		require.NoError(t, m.Register(c))
	}

	// Repeat to catch map-iteration randomness sneaking back in.
	for i := 0; i < 8; i++ {
		found := m.FindCLAsForPeer(p)
		require.Len(t, found, len(ids))
		for j, c := range found {
			assert.Equal(t, ids[j], c.ID())
		}
	}
}

func TestManagerSendBundleTriesFirstRegisteredFirst(t *testing.T) {
	m := NewManager()
	defer m.Close()

	node := eid.MustParse("dtn://peer1/")
	p := peer.Peer{EID: node}

	first := newFakeCLA("first")
	first.reach[node.String()] = true
	second := newFakeCLA("second")
	second.reach[node.String()] = true

	require.NoError(t, m.Register(first))
	require.NoError(t, m.Register(second))

	require.NoError(t, m.SendBundle(bpv7.Bundle{}, p))
	assert.Len(t, first.sent, 1)
	assert.Empty(t, second.sent)
}
