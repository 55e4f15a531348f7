// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package tcpclv4

import (
	"encoding/binary"
	"fmt"
	"io"
)

// TerminationFlags are the single-bit flags of a SESS_TERM message.
type TerminationFlags uint8

// TerminationReply marks this SESS_TERM as an acknowledgement of an
// earlier one.
const TerminationReply TerminationFlags = 0x01

// TerminationReason is the one-octet reason code of a SESS_TERM message.
type TerminationReason uint8

const (
	TerminationUnknown            TerminationReason = 0x00
	TerminationIdleTimeout        TerminationReason = 0x01
	TerminationVersionMismatch    TerminationReason = 0x02
	TerminationBusy               TerminationReason = 0x03
	TerminationContactFailure     TerminationReason = 0x04
	TerminationResourceExhaustion TerminationReason = 0x05
)

// SessTerm ends a session.
type SessTerm struct {
	Flags  TerminationFlags
	Reason TerminationReason
}

func (m SessTerm) Marshal(w io.Writer) error {
	fields := []interface{}{MsgSessTerm, m.Flags, m.Reason}
	for _, f := range fields {
		if err := binary.Write(w, binary.BigEndian, f); err != nil {
			return err
		}
	}
	return nil
}

func (m *SessTerm) Unmarshal(r io.Reader) error {
	var typeCode uint8
	if err := binary.Read(r, binary.BigEndian, &typeCode); err != nil {
		return err
	} else if typeCode != MsgSessTerm {
		return fmt.Errorf("tcpclv4: SESS_TERM type code mismatch: 0x%02x", typeCode)
	}

	for _, f := range []interface{}{&m.Flags, &m.Reason} {
		if err := binary.Read(r, binary.BigEndian, f); err != nil {
			return err
		}
	}
	return nil
}
