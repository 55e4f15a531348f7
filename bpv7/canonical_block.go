// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpv7

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/dtn7/cboring"
	"github.com/hashicorp/go-multierror"
)

// CanonicalBlock is a non-primary bundle block, RFC 9171 4.2.3.
type CanonicalBlock struct {
	BlockNumber       uint64
	BlockControlFlags BlockControlFlags
	CRCType           CRCType
	Value             ExtensionBlock
}

// NewCanonicalBlock creates a CanonicalBlock with CRC disabled.
func NewCanonicalBlock(no uint64, bcf BlockControlFlags, value ExtensionBlock) CanonicalBlock {
	return CanonicalBlock{
		BlockNumber:       no,
		BlockControlFlags: bcf,
		CRCType:           CRCNo,
		Value:             value,
	}
}

func (cb CanonicalBlock) BlockType() uint64 { return cb.Value.BlockTypeCode() }
func (cb CanonicalBlock) HasCRC() bool      { return cb.CRCType != CRCNo }

func (cb *CanonicalBlock) MarshalCbor(w io.Writer) error {
	blockLen := uint64(5)
	if cb.HasCRC() {
		blockLen = 6
	}

	out, crcBuf := crcWriter(w, cb.HasCRC())

	if err := cboring.WriteArrayLength(blockLen, out); err != nil {
		return err
	}

	fields := []uint64{cb.BlockType(), cb.BlockNumber, uint64(cb.BlockControlFlags), uint64(cb.CRCType)}
	for _, f := range fields {
		if err := cboring.WriteUInt(f, out); err != nil {
			return err
		}
	}

	if err := cb.Value.MarshalCbor(out); err != nil {
		return fmt.Errorf("bpv7: marshalling block value failed: %v", err)
	}

	if cb.HasCRC() {
		crcVal, err := calculateCRCBuff(crcBuf, cb.CRCType)
		if err != nil {
			return err
		}
		return cboring.WriteByteString(crcVal, w)
	}

	return nil
}

func (cb *CanonicalBlock) UnmarshalCbor(r io.Reader) error {
	bl, err := cboring.ReadArrayLength(r)
	if err != nil {
		return err
	} else if bl != 5 && bl != 6 {
		return fmt.Errorf("bpv7: CanonicalBlock expects array of 5 or 6, got %d", bl)
	}

	crcBuf := new(bytes.Buffer)
	if bl == 6 {
		cboring.WriteArrayLength(bl, crcBuf)
		r = io.TeeReader(r, crcBuf)
	}

	blockType, err := cboring.ReadUInt(r)
	if err != nil {
		return err
	}

	if cb.BlockNumber, err = cboring.ReadUInt(r); err != nil {
		return err
	}

	bcf, err := cboring.ReadUInt(r)
	if err != nil {
		return err
	}
	cb.BlockControlFlags = BlockControlFlags(bcf)

	crcT, err := cboring.ReadUInt(r)
	if err != nil {
		return err
	}
	cb.CRCType = CRCType(crcT)

	switch blockType {
	case ExtBlockTypePayloadBlock:
		v := new(PayloadBlock)
		if err := v.UnmarshalCbor(r); err != nil {
			return fmt.Errorf("bpv7: unmarshalling PayloadBlock failed: %v", err)
		}
		cb.Value = v

	case ExtBlockTypePreviousNodeBlock:
		v := new(PreviousNodeBlock)
		if err := v.UnmarshalCbor(r); err != nil {
			return fmt.Errorf("bpv7: unmarshalling PreviousNodeBlock failed: %v", err)
		}
		cb.Value = v

	case ExtBlockTypeBundleAgeBlock:
		v := new(BundleAgeBlock)
		if err := v.UnmarshalCbor(r); err != nil {
			return fmt.Errorf("bpv7: unmarshalling BundleAgeBlock failed: %v", err)
		}
		cb.Value = v

	case ExtBlockTypeHopCountBlock:
		v := new(HopCountBlock)
		if err := v.UnmarshalCbor(r); err != nil {
			return fmt.Errorf("bpv7: unmarshalling HopCountBlock failed: %v", err)
		}
		cb.Value = v

	default:
		v := &GenericExtensionBlock{TypeCode: blockType}
		if err := v.UnmarshalCbor(r); err != nil {
			return fmt.Errorf("bpv7: unmarshalling GenericExtensionBlock failed: %v", err)
		}
		cb.Value = v
	}

	if bl == 6 {
		crcCalc, err := calculateCRCBuff(crcBuf, cb.CRCType)
		if err != nil {
			return err
		}
		crcVal, err := cboring.ReadByteString(r)
		if err != nil {
			return err
		} else if !bytes.Equal(crcCalc, crcVal) {
			return fmt.Errorf("bpv7: invalid CRC: %x instead of %x", crcVal, crcCalc)
		}
	}

	return nil
}

func (cb CanonicalBlock) checkValid() (errs error) {
	switch cb.BlockType() {
	case ExtBlockTypePreviousNodeBlock, ExtBlockTypeBundleAgeBlock, ExtBlockTypeHopCountBlock:
	default:
		if cb.BlockType() != ExtBlockTypePayloadBlock && !(192 <= cb.BlockType() && cb.BlockType() <= 255) {
			errs = multierror.Append(errs, newBundleError(fmt.Sprintf(
				"CanonicalBlock: unknown block type %d", cb.BlockType())))
		}
	}
	return
}

func (cb CanonicalBlock) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "block type: %d, ", cb.BlockType())
	fmt.Fprintf(&b, "block number: %d, ", cb.BlockNumber)
	fmt.Fprintf(&b, "block control flags: %b, ", cb.BlockControlFlags)
	fmt.Fprintf(&b, "value: %v", cb.Value)
	return b.String()
}
