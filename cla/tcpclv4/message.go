// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package tcpclv4

import (
	"bytes"
	"fmt"
	"io"
	"reflect"
)

// Message type codes.
const (
	MsgXferSegment uint8 = 0x01
	MsgXferAck     uint8 = 0x02
	MsgXferRefuse  uint8 = 0x03
	MsgKeepalive   uint8 = 0x04
	MsgSessTerm    uint8 = 0x05
	MsgMsgReject   uint8 = 0x06
	MsgSessInit    uint8 = 0x07
)

// Message is any TCPCLv4 post-handshake message.
type Message interface {
	Marshal(w io.Writer) error
	Unmarshal(r io.Reader) error
}

var messageTypes = map[uint8]Message{
	MsgSessInit:    &SessInit{},
	MsgXferSegment: &XferSegment{},
	MsgXferAck:     &XferAck{},
	MsgXferRefuse:  &XferRefuse{},
	MsgKeepalive:   &Keepalive{},
	MsgSessTerm:    &SessTerm{},
	MsgMsgReject:   &MsgReject{},
}

func newMessage(typeCode uint8) (Message, error) {
	proto, ok := messageTypes[typeCode]
	if !ok {
		return nil, fmt.Errorf("tcpclv4: no message registered for type code 0x%02x", typeCode)
	}
	return reflect.New(reflect.TypeOf(proto).Elem()).Interface().(Message), nil
}

// ReadMessage reads the one-byte type code and dispatches to the matching
// Message's Unmarshal.
func ReadMessage(r io.Reader) (Message, error) {
	typeByte := make([]byte, 1)
	if _, err := io.ReadFull(r, typeByte); err != nil {
		return nil, err
	}

	msg, err := newMessage(typeByte[0])
	if err != nil {
		return nil, err
	}

	if err := msg.Unmarshal(io.MultiReader(bytes.NewReader(typeByte), r)); err != nil {
		return nil, err
	}
	return msg, nil
}
