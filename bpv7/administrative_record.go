// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpv7

import (
	"bytes"
	"fmt"
	"io"

	"github.com/dtn7/cboring"
)

// Administrative record type codes, RFC 9171 6.1.
const (
	AdminRecordTypeStatusReport uint64 = 1
)

// AdministrativeRecord is the payload of a bundle whose
// AdministrativeRecordPayload control flag is set.
type AdministrativeRecord interface {
	RecordTypeCode() uint64
	cboring.CborMarshaler
	fmt.Stringer
}

// adminRecordEnvelope is the two-element CBOR array wrapping an
// AdministrativeRecord: [type code, record].
func marshalAdministrativeRecord(ar AdministrativeRecord, w io.Writer) error {
	if err := cboring.WriteArrayLength(2, w); err != nil {
		return err
	}
	if err := cboring.WriteUInt(ar.RecordTypeCode(), w); err != nil {
		return err
	}
	return ar.MarshalCbor(w)
}

// ParseAdministrativeRecord decodes an AdministrativeRecord from its raw CBOR
// envelope, as carried in a bundle's payload block.
func ParseAdministrativeRecord(data []byte) (AdministrativeRecord, error) {
	r := bytes.NewReader(data)

	n, err := cboring.ReadArrayLength(r)
	if err != nil {
		return nil, err
	} else if n != 2 {
		return nil, fmt.Errorf("bpv7: administrative record expects array of 2, got %d", n)
	}

	typeCode, err := cboring.ReadUInt(r)
	if err != nil {
		return nil, err
	}

	switch typeCode {
	case AdminRecordTypeStatusReport:
		sr := new(StatusReport)
		if err := sr.UnmarshalCbor(r); err != nil {
			return nil, fmt.Errorf("bpv7: unmarshalling StatusReport failed: %v", err)
		}
		return sr, nil

	default:
		return nil, fmt.Errorf("bpv7: unknown administrative record type %d", typeCode)
	}
}

// AdministrativeRecordToPayload wraps an AdministrativeRecord into the bytes
// for a PayloadBlock, so the processor can attach it to a bundle it builds.
func AdministrativeRecordToPayload(ar AdministrativeRecord) ([]byte, error) {
	var buf bytes.Buffer
	if err := marshalAdministrativeRecord(ar, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
