// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpv7

import (
	"testing"
	"time"

	"github.com/dtn7/dtnagent-go/eid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBundle(t *testing.T) Bundle {
	t.Helper()

	b, err := NewBuilder().
		Source("dtn://src/").
		Destination("dtn://dest/").
		CreationTimestampTime(time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)).
		Lifetime(30 * time.Minute).
		HopCountBlock(32).
		PayloadBlock([]byte("hello world")).
		Build()
	require.NoError(t, err)

	return b
}

func TestBuilderRoundtrip(t *testing.T) {
	b := testBundle(t)

	assert.Equal(t, "dtn://src", b.PrimaryBlock.SourceNode.String())
	assert.Equal(t, "dtn://dest", b.PrimaryBlock.Destination.String())
	assert.Equal(t, uint64(30*60), b.PrimaryBlock.Lifetime)

	data, err := b.PayloadData()
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))

	hc, ok := b.ExtensionBlock(ExtBlockTypeHopCountBlock)
	require.True(t, ok)
	assert.Equal(t, uint64(32), hc.Value.(*HopCountBlock).Limit)
}

func TestBuilderRequiresEndpoints(t *testing.T) {
	_, err := NewBuilder().CreationTimestampNow().PayloadBlock([]byte("x")).Build()
	assert.Error(t, err)
}

func TestBundleCborRoundtrip(t *testing.T) {
	b := testBundle(t)
	b.SetCRCType(CRC32Type)

	data, err := MarshalBundle(b)
	require.NoError(t, err)

	b2, err := ParseBundle(data)
	require.NoError(t, err)

	assert.Equal(t, b.ID().String(), b2.ID().String())

	payload, err := b2.PayloadData()
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(payload))
}

func TestBundleRejectsDuplicatePayload(t *testing.T) {
	b := testBundle(t)
	err := b.AddExtensionBlock(NewCanonicalBlock(1, 0, NewPayloadBlock([]byte("again"))))
	assert.Error(t, err)
}

func TestBundleAddExtensionBlock(t *testing.T) {
	b := testBundle(t)
	prev := eid.MustParse("dtn://relay/")

	require.NoError(t, b.AddExtensionBlock(NewCanonicalBlock(10, 0, NewPreviousNodeBlock(prev))))

	cb, ok := b.ExtensionBlock(ExtBlockTypePreviousNodeBlock)
	require.True(t, ok)
	assert.Equal(t, prev.String(), cb.Value.(*PreviousNodeBlock).Endpoint.String())
}

func TestStatusReportRoundtrip(t *testing.T) {
	b := testBundle(t)
	b.PrimaryBlock.BundleControlFlags |= RequestStatusTime

	sr := NewStatusReport(b, ForwardedBundle, LifetimeExpired, DtnTimeNow())

	payload, err := AdministrativeRecordToPayload(&sr)
	require.NoError(t, err)

	ar, err := ParseAdministrativeRecord(payload)
	require.NoError(t, err)

	sr2, ok := ar.(*StatusReport)
	require.True(t, ok)
	assert.Equal(t, LifetimeExpired, sr2.ReportReason)
	assert.True(t, sr2.StatusInformation[ForwardedBundle].Asserted)
	assert.True(t, sr2.StatusInformation[ForwardedBundle].StatusRequested)
}
