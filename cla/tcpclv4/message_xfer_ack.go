// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package tcpclv4

import (
	"encoding/binary"
	"fmt"
	"io"
)

// XferAck acknowledges a received transfer segment.
type XferAck struct {
	Flags      SegmentFlags
	TransferID uint64
	Length     uint64
}

func (m XferAck) Marshal(w io.Writer) error {
	fields := []interface{}{MsgXferAck, m.Flags, m.TransferID, m.Length}
	for _, f := range fields {
		if err := binary.Write(w, binary.BigEndian, f); err != nil {
			return err
		}
	}
	return nil
}

func (m *XferAck) Unmarshal(r io.Reader) error {
	var typeCode uint8
	if err := binary.Read(r, binary.BigEndian, &typeCode); err != nil {
		return err
	} else if typeCode != MsgXferAck {
		return fmt.Errorf("tcpclv4: XFER_ACK type code mismatch: 0x%02x", typeCode)
	}

	for _, f := range []interface{}{&m.Flags, &m.TransferID, &m.Length} {
		if err := binary.Read(r, binary.BigEndian, f); err != nil {
			return err
		}
	}
	return nil
}
