// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpv7

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"io"

	"github.com/dtn7/cboring"
)

// CRCType indicates which CRC, if any, protects a block.
type CRCType uint64

const (
	CRCNo   CRCType = 0
	CRC32Type CRCType = 2
)

func (c CRCType) String() string {
	switch c {
	case CRCNo:
		return "no"
	case CRC32Type:
		return "32"
	default:
		return "unknown"
	}
}

var crc32table = crc32.MakeTable(crc32.Castagnoli)

func emptyCRC(t CRCType) []byte {
	switch t {
	case CRCNo:
		return nil
	case CRC32Type:
		return make([]byte, 4)
	default:
		return nil
	}
}

// calculateCRCBuff computes the CRC over buff's already-written bytes and
// appends the CRC field. The block is serialized with a zeroed CRC field
// while a TeeReader-style writer accumulates the checksum, since the CRC
// covers the block bytes including its own placeholder.
func calculateCRCBuff(buff *bytes.Buffer, t CRCType) ([]byte, error) {
	data := emptyCRC(t)
	if err := cboring.WriteByteString(data, buff); err != nil {
		return nil, err
	}

	switch t {
	case CRCNo:
	case CRC32Type:
		binary.BigEndian.PutUint32(data, crc32.Checksum(buff.Bytes(), crc32table))
	}

	return data, nil
}

// crcWriter wraps a target writer so a block's MarshalCbor can compute its
// own CRC by teeing its output into a side buffer.
func crcWriter(w io.Writer, hasCRC bool) (io.Writer, *bytes.Buffer) {
	if !hasCRC {
		return w, nil
	}
	buf := new(bytes.Buffer)
	return io.MultiWriter(w, buf), buf
}
