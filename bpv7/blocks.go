// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpv7

import (
	"fmt"
	"io"

	"github.com/dtn7/cboring"
	"github.com/dtn7/dtnagent-go/eid"
)

// Known canonical block type codes, per RFC 9171 4.2.3 and 4.3-4.4.
const (
	ExtBlockTypePayloadBlock      uint64 = 1
	ExtBlockTypePreviousNodeBlock uint64 = 2
	ExtBlockTypeBundleAgeBlock    uint64 = 6
	ExtBlockTypeHopCountBlock     uint64 = 7
)

// ExtensionBlock is the payload of a CanonicalBlock. Only the four known
// block types are implemented here; unknown block-type codes in the 192-255
// private-use range are represented as GenericExtensionBlock.
type ExtensionBlock interface {
	BlockTypeCode() uint64
	cboring.CborMarshaler
	fmt.Stringer
}

// PayloadBlock carries the bundle's application data unit.
type PayloadBlock struct {
	Data []byte
}

func NewPayloadBlock(data []byte) *PayloadBlock { return &PayloadBlock{Data: data} }

func (*PayloadBlock) BlockTypeCode() uint64 { return ExtBlockTypePayloadBlock }
func (p *PayloadBlock) String() string      { return fmt.Sprintf("PayloadBlock(%d bytes)", len(p.Data)) }

func (p *PayloadBlock) MarshalCbor(w io.Writer) error {
	return cboring.WriteByteString(p.Data, w)
}

func (p *PayloadBlock) UnmarshalCbor(r io.Reader) error {
	data, err := cboring.ReadByteString(r)
	if err != nil {
		return err
	}
	p.Data = data
	return nil
}

// PreviousNodeBlock records the EndpointID of the node that forwarded this
// bundle to us. The bundle processor passes it through unchanged; it never
// adds or rewrites this block.
type PreviousNodeBlock struct {
	Endpoint eid.EndpointID
}

func NewPreviousNodeBlock(e eid.EndpointID) *PreviousNodeBlock {
	return &PreviousNodeBlock{Endpoint: e}
}

func (*PreviousNodeBlock) BlockTypeCode() uint64 { return ExtBlockTypePreviousNodeBlock }
func (p *PreviousNodeBlock) String() string      { return fmt.Sprintf("PreviousNodeBlock(%v)", p.Endpoint) }

func (p *PreviousNodeBlock) MarshalCbor(w io.Writer) error {
	return p.Endpoint.MarshalCbor(w)
}

func (p *PreviousNodeBlock) UnmarshalCbor(r io.Reader) error {
	return p.Endpoint.UnmarshalCbor(r)
}

// BundleAgeBlock tracks milliseconds since creation for nodes lacking an
// accurate clock. The bundle processor passes it through unchanged; it never
// updates the age.
type BundleAgeBlock uint64

func NewBundleAgeBlock(age uint64) *BundleAgeBlock {
	b := BundleAgeBlock(age)
	return &b
}

func (*BundleAgeBlock) BlockTypeCode() uint64 { return ExtBlockTypeBundleAgeBlock }
func (b *BundleAgeBlock) String() string      { return fmt.Sprintf("BundleAgeBlock(%d)", uint64(*b)) }

func (b *BundleAgeBlock) MarshalCbor(w io.Writer) error {
	return cboring.WriteUInt(uint64(*b), w)
}

func (b *BundleAgeBlock) UnmarshalCbor(r io.Reader) error {
	v, err := cboring.ReadUInt(r)
	if err != nil {
		return err
	}
	*b = BundleAgeBlock(v)
	return nil
}

// HopCountBlock bounds the number of forwards a bundle may take.
type HopCountBlock struct {
	Limit uint64
	Count uint64
}

func NewHopCountBlock(limit uint64) *HopCountBlock {
	return &HopCountBlock{Limit: limit, Count: 0}
}

func (*HopCountBlock) BlockTypeCode() uint64 { return ExtBlockTypeHopCountBlock }
func (h *HopCountBlock) String() string {
	return fmt.Sprintf("HopCountBlock(%d/%d)", h.Count, h.Limit)
}

// IsExceeded reports whether the hop count has gone past the hop limit.
func (h *HopCountBlock) IsExceeded() bool { return h.Count > h.Limit }

func (h *HopCountBlock) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(2, w); err != nil {
		return err
	}
	for _, f := range []uint64{h.Limit, h.Count} {
		if err := cboring.WriteUInt(f, w); err != nil {
			return err
		}
	}
	return nil
}

func (h *HopCountBlock) UnmarshalCbor(r io.Reader) error {
	n, err := cboring.ReadArrayLength(r)
	if err != nil {
		return err
	} else if n != 2 {
		return fmt.Errorf("bpv7: HopCountBlock expects array of 2, got %d", n)
	}
	for _, f := range []*uint64{&h.Limit, &h.Count} {
		v, err := cboring.ReadUInt(r)
		if err != nil {
			return err
		}
		*f = v
	}
	return nil
}

// GenericExtensionBlock carries opaque data for private/experimental block
// types (192-255) that this node does not interpret.
type GenericExtensionBlock struct {
	TypeCode uint64
	Data     []byte
}

func (g *GenericExtensionBlock) BlockTypeCode() uint64 { return g.TypeCode }
func (g *GenericExtensionBlock) String() string {
	return fmt.Sprintf("GenericExtensionBlock(type=%d, %d bytes)", g.TypeCode, len(g.Data))
}

func (g *GenericExtensionBlock) MarshalCbor(w io.Writer) error {
	return cboring.WriteByteString(g.Data, w)
}

func (g *GenericExtensionBlock) UnmarshalCbor(r io.Reader) error {
	data, err := cboring.ReadByteString(r)
	if err != nil {
		return err
	}
	g.Data = data
	return nil
}
