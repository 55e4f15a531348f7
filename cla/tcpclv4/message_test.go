// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package tcpclv4

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContactHeaderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (ContactHeader{Flags: 0}).Marshal(&buf))
	assert.Equal(t, []byte{'d', 't', 'n', '!', 0x04, 0x00}, buf.Bytes())

	var ch ContactHeader
	require.NoError(t, ch.Unmarshal(&buf))
	assert.Equal(t, uint8(0), ch.Flags)
}

func TestContactHeaderRejectsBadMagic(t *testing.T) {
	buf := bytes.NewBuffer([]byte{'x', 'x', 'x', 'x', 0x04, 0x00})
	var ch ContactHeader
	assert.Error(t, ch.Unmarshal(buf))
}

func TestContactHeaderRejectsBadVersion(t *testing.T) {
	buf := bytes.NewBuffer([]byte{'d', 't', 'n', '!', 0x05, 0x00})
	var ch ContactHeader
	assert.Error(t, ch.Unmarshal(buf))
}

func TestSessInitRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	orig := SessInit{KeepaliveSeconds: 15, SegmentMRU: 1 << 20, TransferMRU: 1 << 20, NodeID: "dtn://node1/"}
	require.NoError(t, orig.Marshal(&buf))

	msg, err := ReadMessage(&buf)
	require.NoError(t, err)

	got, ok := msg.(*SessInit)
	require.True(t, ok)
	assert.Equal(t, orig.KeepaliveSeconds, got.KeepaliveSeconds)
	assert.Equal(t, orig.NodeID, got.NodeID)
}

func TestSessInitKeepaliveExtensionOverride(t *testing.T) {
	ext := make([]byte, 8)
	ext[0], ext[1] = 0x00, 0x01 // type 0x0001
	ext[2], ext[3] = 0x00, 0x02 // length 2
	ext[4], ext[5] = 0x00, 0x1e // value 30

	m := SessInit{ExtData: ext}
	v, ok := m.KeepaliveExtensionOverride()
	require.True(t, ok)
	assert.Equal(t, uint16(30), v)
}

func TestXferSegmentRoundTripWithTransferLength(t *testing.T) {
	var buf bytes.Buffer
	orig := NewSingleSegment(42, []byte("hello world"))
	require.NoError(t, orig.Marshal(&buf))

	msg, err := ReadMessage(&buf)
	require.NoError(t, err)

	got, ok := msg.(*XferSegment)
	require.True(t, ok)
	assert.True(t, got.IsComplete())
	assert.Equal(t, uint64(42), got.TransferID)
	assert.Equal(t, []byte("hello world"), got.Data)
	assert.True(t, got.HasTransferLen)
	assert.Equal(t, uint64(len("hello world")), got.TransferLen)
}

func TestXferAckRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	orig := XferAck{Flags: SegmentStart | SegmentEnd, TransferID: 7, Length: 11}
	require.NoError(t, orig.Marshal(&buf))

	msg, err := ReadMessage(&buf)
	require.NoError(t, err)
	got, ok := msg.(*XferAck)
	require.True(t, ok)
	assert.Equal(t, orig, *got)
}

func TestSessTermRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	orig := SessTerm{Flags: TerminationReply, Reason: TerminationIdleTimeout}
	require.NoError(t, orig.Marshal(&buf))

	msg, err := ReadMessage(&buf)
	require.NoError(t, err)
	got, ok := msg.(*SessTerm)
	require.True(t, ok)
	assert.Equal(t, orig, *got)
}

func TestMsgRejectRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	orig := MsgReject{Reason: RejectTypeUnknown, RejectedType: 0x09}
	require.NoError(t, orig.Marshal(&buf))

	msg, err := ReadMessage(&buf)
	require.NoError(t, err)
	got, ok := msg.(*MsgReject)
	require.True(t, ok)
	assert.Equal(t, orig, *got)
}

func TestKeepaliveRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (Keepalive{}).Marshal(&buf))

	msg, err := ReadMessage(&buf)
	require.NoError(t, err)
	_, ok := msg.(*Keepalive)
	assert.True(t, ok)
}
