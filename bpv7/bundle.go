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

// Bundle is a complete RFC 9171 bundle: one PrimaryBlock and at least a
// payload CanonicalBlock, plus zero or more extension blocks.
type Bundle struct {
	PrimaryBlock    PrimaryBlock
	CanonicalBlocks []CanonicalBlock
}

// NewBundle validates and returns a Bundle, or an error describing why it is
// not well-formed.
func NewBundle(primary PrimaryBlock, canonicals []CanonicalBlock) (b Bundle, err error) {
	b = Bundle{PrimaryBlock: primary, CanonicalBlocks: canonicals}
	err = b.checkValid()
	return
}

// MustNewBundle is NewBundle, panicking on error; useful in tests and
// builder-style construction where the inputs are already known valid.
func MustNewBundle(primary PrimaryBlock, canonicals []CanonicalBlock) Bundle {
	b, err := NewBundle(primary, canonicals)
	if err != nil {
		panic(err)
	}
	return b
}

// ID returns the identifying triple for this bundle.
func (b Bundle) ID() BundleID {
	return BundleID{
		SourceNode: b.PrimaryBlock.SourceNode,
		Timestamp:  b.PrimaryBlock.CreationTimestamp,
	}
}

// forEachBlock calls f for the PayloadBlock and every extension block.
func (b Bundle) forEachBlock(f func(cb CanonicalBlock) bool) {
	for _, cb := range b.CanonicalBlocks {
		if !f(cb) {
			return
		}
	}
}

// ExtensionBlock returns the first CanonicalBlock of the given block type
// code, if present.
func (b Bundle) ExtensionBlock(blockType uint64) (cb CanonicalBlock, ok bool) {
	b.forEachBlock(func(c CanonicalBlock) bool {
		if c.BlockType() == blockType {
			cb, ok = c, true
			return false
		}
		return true
	})
	return
}

// PayloadBlock returns this bundle's payload block.
func (b Bundle) PayloadBlock() (cb CanonicalBlock, err error) {
	cb, ok := b.ExtensionBlock(ExtBlockTypePayloadBlock)
	if !ok {
		err = newBundleError("Bundle: no payload block present")
	}
	return
}

// PayloadData is a shortcut returning the payload's data bytes.
func (b Bundle) PayloadData() ([]byte, error) {
	cb, err := b.PayloadBlock()
	if err != nil {
		return nil, err
	}
	return cb.Value.(*PayloadBlock).Data, nil
}

// AddExtensionBlock appends a CanonicalBlock, rejecting a second payload or
// a colliding block number.
func (b *Bundle) AddExtensionBlock(cb CanonicalBlock) error {
	if cb.BlockType() == ExtBlockTypePayloadBlock {
		if _, ok := b.ExtensionBlock(ExtBlockTypePayloadBlock); ok {
			return newBundleError("Bundle: a payload block is already present")
		}
	}

	for _, existing := range b.CanonicalBlocks {
		if existing.BlockNumber == cb.BlockNumber {
			return newBundleError(fmt.Sprintf("Bundle: block number %d already in use", cb.BlockNumber))
		}
	}

	b.CanonicalBlocks = append(b.CanonicalBlocks, cb)
	return nil
}

// SetCRCType applies the given CRCType to the primary block and every
// canonical block.
func (b *Bundle) SetCRCType(t CRCType) {
	b.PrimaryBlock.CRCType = t
	for i := range b.CanonicalBlocks {
		b.CanonicalBlocks[i].CRCType = t
	}
}

// IsAdministrativeRecord reports whether the AdministrativeRecordPayload
// control flag is set.
func (b Bundle) IsAdministrativeRecord() bool {
	return b.PrimaryBlock.BundleControlFlags.Has(AdministrativeRecordPayload)
}

func (b Bundle) checkValid() (errs error) {
	if err := b.PrimaryBlock.checkValid(); err != nil {
		errs = multierror.Append(errs, err)
	}

	if _, ok := b.ExtensionBlock(ExtBlockTypePayloadBlock); !ok {
		errs = multierror.Append(errs, newBundleError("Bundle: no payload block present"))
	}

	blockNumbers := make(map[uint64]bool)
	for _, cb := range b.CanonicalBlocks {
		if err := cb.checkValid(); err != nil {
			errs = multierror.Append(errs, err)
		}
		if blockNumbers[cb.BlockNumber] {
			errs = multierror.Append(errs, newBundleError(fmt.Sprintf(
				"Bundle: duplicate block number %d", cb.BlockNumber)))
		}
		blockNumbers[cb.BlockNumber] = true
	}

	return
}

// MarshalCbor writes the bundle as a definite-length CBOR array of its
// primary block followed by each canonical block, per RFC 9171 4.1.
func (b *Bundle) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(uint64(1+len(b.CanonicalBlocks)), w); err != nil {
		return err
	}

	if err := b.PrimaryBlock.MarshalCbor(w); err != nil {
		return fmt.Errorf("bpv7: marshalling PrimaryBlock failed: %v", err)
	}

	for i := range b.CanonicalBlocks {
		if err := b.CanonicalBlocks[i].MarshalCbor(w); err != nil {
			return fmt.Errorf("bpv7: marshalling CanonicalBlock failed: %v", err)
		}
	}

	return nil
}

// UnmarshalCbor reads a bundle from its CBOR array representation.
func (b *Bundle) UnmarshalCbor(r io.Reader) error {
	n, err := cboring.ReadArrayLength(r)
	if err != nil {
		return err
	} else if n < 2 {
		return fmt.Errorf("bpv7: Bundle expects an array of at least 2 elements, got %d", n)
	}

	if err := b.PrimaryBlock.UnmarshalCbor(r); err != nil {
		return fmt.Errorf("bpv7: unmarshalling PrimaryBlock failed: %v", err)
	}

	b.CanonicalBlocks = make([]CanonicalBlock, n-1)
	for i := 0; i < int(n-1); i++ {
		if err := b.CanonicalBlocks[i].UnmarshalCbor(r); err != nil {
			return fmt.Errorf("bpv7: unmarshalling CanonicalBlock failed: %v", err)
		}
	}

	return b.checkValid()
}

// MarshalBundle is a convenience wrapper returning the CBOR encoding as a
// byte slice, as used by the CLAs when framing a bundle onto the wire.
func MarshalBundle(b Bundle) ([]byte, error) {
	var buf bytes.Buffer
	if err := cboring.Marshal(&b, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ParseBundle decodes a Bundle from its CBOR wire representation.
func ParseBundle(data []byte) (b Bundle, err error) {
	err = cboring.Unmarshal(&b, bytes.NewReader(data))
	return
}

func (b Bundle) String() string {
	var s strings.Builder
	fmt.Fprintf(&s, "primary block: {%v}", b.PrimaryBlock)
	for _, cb := range b.CanonicalBlocks {
		fmt.Fprintf(&s, ", canonical block: {%v}", cb)
	}
	return s.String()
}
