// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package tcpclv4

import (
	"encoding/binary"
	"fmt"
	"io"
)

// extKeepaliveInterval is the only session extension item this
// implementation recognizes; all others are parsed and ignored.
const extKeepaliveInterval uint16 = 0x0001

// SessInit negotiates session parameters.
type SessInit struct {
	KeepaliveSeconds uint16
	SegmentMRU       uint64
	TransferMRU      uint64
	NodeID           string
	ExtData          []byte
}

func (m SessInit) Marshal(w io.Writer) error {
	fields := []interface{}{
		MsgSessInit,
		m.KeepaliveSeconds,
		m.SegmentMRU,
		m.TransferMRU,
		uint16(len(m.NodeID)),
	}
	for _, f := range fields {
		if err := binary.Write(w, binary.BigEndian, f); err != nil {
			return err
		}
	}

	if _, err := io.WriteString(w, m.NodeID); err != nil {
		return err
	}

	if err := binary.Write(w, binary.BigEndian, uint32(len(m.ExtData))); err != nil {
		return err
	}
	if len(m.ExtData) == 0 {
		return nil
	}
	_, err := w.Write(m.ExtData)
	return err
}

func (m *SessInit) Unmarshal(r io.Reader) error {
	var typeCode uint8
	if err := binary.Read(r, binary.BigEndian, &typeCode); err != nil {
		return err
	} else if typeCode != MsgSessInit {
		return fmt.Errorf("tcpclv4: SESS_INIT type code mismatch: 0x%02x", typeCode)
	}

	var nodeIDLen uint16
	for _, f := range []interface{}{&m.KeepaliveSeconds, &m.SegmentMRU, &m.TransferMRU, &nodeIDLen} {
		if err := binary.Read(r, binary.BigEndian, f); err != nil {
			return err
		}
	}

	nodeIDBuf := make([]byte, nodeIDLen)
	if _, err := io.ReadFull(r, nodeIDBuf); err != nil {
		return err
	}
	m.NodeID = string(nodeIDBuf)

	var extLen uint32
	if err := binary.Read(r, binary.BigEndian, &extLen); err != nil {
		return err
	}
	if extLen > 0 {
		m.ExtData = make([]byte, extLen)
		if _, err := io.ReadFull(r, m.ExtData); err != nil {
			return err
		}
	}

	return nil
}

// KeepaliveExtensionOverride scans ExtData's TLVs (type:u16, length:u16,
// value) for the keepalive_interval extension and returns its value, if
// present. Any other extension item is ignored.
func (m SessInit) KeepaliveExtensionOverride() (uint16, bool) {
	buf := m.ExtData
	for len(buf) >= 4 {
		typeCode := binary.BigEndian.Uint16(buf[0:2])
		length := binary.BigEndian.Uint16(buf[2:4])
		buf = buf[4:]
		if len(buf) < int(length) {
			return 0, false
		}

		if typeCode == extKeepaliveInterval && length == 2 {
			return binary.BigEndian.Uint16(buf[0:2]), true
		}
		buf = buf[length:]
	}
	return 0, false
}
