// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package tcpclv4

import (
	"encoding/binary"
	"fmt"
	"io"
)

// RejectReason is the one-octet reason code of a MSG_REJECT.
type RejectReason uint8

const (
	RejectTypeUnknown RejectReason = 0x01
	RejectUnsupported RejectReason = 0x02
	RejectUnexpected  RejectReason = 0x03
)

// MsgReject rejects a message this node could not process, naming the
// rejected message's type code.
type MsgReject struct {
	Reason       RejectReason
	RejectedType uint8
}

func (m MsgReject) Marshal(w io.Writer) error {
	fields := []interface{}{MsgMsgReject, m.Reason, m.RejectedType}
	for _, f := range fields {
		if err := binary.Write(w, binary.BigEndian, f); err != nil {
			return err
		}
	}
	return nil
}

func (m *MsgReject) Unmarshal(r io.Reader) error {
	var typeCode uint8
	if err := binary.Read(r, binary.BigEndian, &typeCode); err != nil {
		return err
	} else if typeCode != MsgMsgReject {
		return fmt.Errorf("tcpclv4: MSG_REJECT type code mismatch: 0x%02x", typeCode)
	}

	for _, f := range []interface{}{&m.Reason, &m.RejectedType} {
		if err := binary.Read(r, binary.BigEndian, f); err != nil {
			return err
		}
	}
	return nil
}
