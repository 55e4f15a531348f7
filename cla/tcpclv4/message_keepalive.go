// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package tcpclv4

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Keepalive carries no content beyond its type code.
type Keepalive struct{}

func (m Keepalive) Marshal(w io.Writer) error {
	return binary.Write(w, binary.BigEndian, MsgKeepalive)
}

func (m *Keepalive) Unmarshal(r io.Reader) error {
	var typeCode uint8
	if err := binary.Read(r, binary.BigEndian, &typeCode); err != nil {
		return err
	} else if typeCode != MsgKeepalive {
		return fmt.Errorf("tcpclv4: KEEPALIVE type code mismatch: 0x%02x", typeCode)
	}
	return nil
}
