// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package tcpclv4

import (
	"encoding/binary"
	"fmt"
	"io"
)

// SegmentFlags are the single-bit flags of an XFER_SEGMENT:
// bit 0 is START, bit 1 is END.
type SegmentFlags uint8

const (
	SegmentStart SegmentFlags = 0x01
	SegmentEnd   SegmentFlags = 0x02
)

// extTransferLength is the only transfer extension item produced or
// consumed: the total bundle byte count.
const extTransferLength uint16 = 0x0001

// XferSegment carries (a fragment of) one bundle transfer.
type XferSegment struct {
	Flags          SegmentFlags
	TransferID     uint64
	TransferLen    uint64
	HasTransferLen bool
	Data           []byte
}

// NewSingleSegment builds the one XFER_SEGMENT a sendBundle call produces
// for a single-fragment transfer: START and END both set, carrying the
// transfer-length extension.
func NewSingleSegment(transferID uint64, data []byte) XferSegment {
	return XferSegment{
		Flags:          SegmentStart | SegmentEnd,
		TransferID:     transferID,
		TransferLen:    uint64(len(data)),
		HasTransferLen: true,
		Data:           data,
	}
}

func (m XferSegment) Marshal(w io.Writer) error {
	var ext []byte
	if m.HasTransferLen {
		ext = make([]byte, 12)
		binary.BigEndian.PutUint16(ext[0:2], extTransferLength)
		binary.BigEndian.PutUint16(ext[2:4], 8)
		binary.BigEndian.PutUint64(ext[4:12], m.TransferLen)
	}

	fields := []interface{}{MsgXferSegment, m.Flags, m.TransferID, uint32(len(ext))}
	for _, f := range fields {
		if err := binary.Write(w, binary.BigEndian, f); err != nil {
			return err
		}
	}
	if len(ext) > 0 {
		if _, err := w.Write(ext); err != nil {
			return err
		}
	}

	if err := binary.Write(w, binary.BigEndian, uint64(len(m.Data))); err != nil {
		return err
	}
	_, err := w.Write(m.Data)
	return err
}

func (m *XferSegment) Unmarshal(r io.Reader) error {
	var typeCode uint8
	if err := binary.Read(r, binary.BigEndian, &typeCode); err != nil {
		return err
	} else if typeCode != MsgXferSegment {
		return fmt.Errorf("tcpclv4: XFER_SEGMENT type code mismatch: 0x%02x", typeCode)
	}

	var extLen uint32
	for _, f := range []interface{}{&m.Flags, &m.TransferID, &extLen} {
		if err := binary.Read(r, binary.BigEndian, f); err != nil {
			return err
		}
	}

	if extLen > 0 {
		ext := make([]byte, extLen)
		if _, err := io.ReadFull(r, ext); err != nil {
			return err
		}
		m.parseExtensions(ext)
	}

	var dataLen uint64
	if err := binary.Read(r, binary.BigEndian, &dataLen); err != nil {
		return err
	}
	if dataLen > 0 {
		m.Data = make([]byte, dataLen)
		if _, err := io.ReadFull(r, m.Data); err != nil {
			return err
		}
	}

	return nil
}

func (m *XferSegment) parseExtensions(buf []byte) {
	for len(buf) >= 4 {
		typeCode := binary.BigEndian.Uint16(buf[0:2])
		length := binary.BigEndian.Uint16(buf[2:4])
		buf = buf[4:]
		if len(buf) < int(length) {
			return
		}

		if typeCode == extTransferLength && length == 8 {
			m.TransferLen = binary.BigEndian.Uint64(buf[0:8])
			m.HasTransferLen = true
		}
		buf = buf[length:]
	}
}

// IsComplete reports whether this segment alone contains a complete
// bundle transfer (both START and END set), the only shape this
// implementation produces or accepts.
func (m XferSegment) IsComplete() bool {
	return m.Flags&SegmentStart != 0 && m.Flags&SegmentEnd != 0
}
