// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package tcpclv4

import (
	"encoding/binary"
	"fmt"
	"io"
)

// RefusalReason is the one-octet reason code carried by an XFER_REFUSE.
type RefusalReason uint8

const (
	RefusalUnknown       RefusalReason = 0x00
	RefusalExtensionFail RefusalReason = 0x01
	RefusalCompleted     RefusalReason = 0x02
	RefusalNoResources   RefusalReason = 0x03
	RefusalRetransmit    RefusalReason = 0x04
	RefusalNotAcceptable RefusalReason = 0x05
)

// XferRefuse rejects a transfer this node could not decode or accept.
type XferRefuse struct {
	Reason     RefusalReason
	TransferID uint64
}

func (m XferRefuse) Marshal(w io.Writer) error {
	fields := []interface{}{MsgXferRefuse, m.Reason, m.TransferID}
	for _, f := range fields {
		if err := binary.Write(w, binary.BigEndian, f); err != nil {
			return err
		}
	}
	return nil
}

func (m *XferRefuse) Unmarshal(r io.Reader) error {
	var typeCode uint8
	if err := binary.Read(r, binary.BigEndian, &typeCode); err != nil {
		return err
	} else if typeCode != MsgXferRefuse {
		return fmt.Errorf("tcpclv4: XFER_REFUSE type code mismatch: 0x%02x", typeCode)
	}

	for _, f := range []interface{}{&m.Reason, &m.TransferID} {
		if err := binary.Read(r, binary.BigEndian, f); err != nil {
			return err
		}
	}
	return nil
}
