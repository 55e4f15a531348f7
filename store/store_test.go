// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dtn7/dtnagent-go/bpv7"
)

func testBundle(t *testing.T, dest string) bpv7.Bundle {
	t.Helper()
	b, err := bpv7.NewBuilder().
		Source("dtn://src/").
		Destination(dest).
		CreationTimestampNow().
		Lifetime(time.Hour).
		PayloadBlock([]byte("payload")).
		Build()
	require.NoError(t, err)
	return b
}

func runStoreContract(t *testing.T, s Store) {
	b := testBundle(t, "dtn://dest/")
	id := IDFromBundle(b)

	require.NoError(t, s.Push(b))

	has, err := s.HasItem(id)
	require.NoError(t, err)
	assert.True(t, has)

	pack, err := s.GetMetadata(id)
	require.NoError(t, err)
	assert.Equal(t, id, pack.Id)
	assert.True(t, pack.Constraints.Has(DispatchPending))

	// Re-push with the same id must not reset constraints.
	pack.Constraints = ForwardPending
	require.NoError(t, s.UpdateMetadata(pack))
	require.NoError(t, s.Push(b))

	pack2, err := s.GetMetadata(id)
	require.NoError(t, err)
	assert.Equal(t, ForwardPending, pack2.Constraints)

	got, err := s.GetBundle(id)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID().String())

	count, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)

	require.NoError(t, s.Remove(id))

	pack3, err := s.GetMetadata(id)
	require.NoError(t, err)
	assert.True(t, pack3.Constraints.Has(Deleted))

	_, err = s.GetBundle(id)
	assert.Error(t, err)

	err = s.Remove("dtn://nope/-1-1")
	assert.Error(t, err)

	require.NoError(t, s.Purge(id))

	count2, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), count2)

	_, err = s.GetMetadata(id)
	assert.Error(t, err)

	err = s.Purge(id)
	assert.Error(t, err)
}

func TestMemStoreContract(t *testing.T) {
	s := NewMemStore()
	defer s.Close()
	runStoreContract(t, s)
}

func TestSQLStoreContract(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "store.db")
	s, err := NewSQLStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	runStoreContract(t, s)
}
