// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpv7

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dtn7/cboring"
	"github.com/dtn7/dtnagent-go/eid"
	"github.com/hashicorp/go-multierror"
)

const dtnVersion uint64 = 7

// PrimaryBlock is the primary bundle block, RFC 9171 4.2.2. Lifetime is
// expressed in seconds, matching this agent's protocol-boundary convention.
type PrimaryBlock struct {
	Version            uint64
	BundleControlFlags BundleControlFlags
	CRCType            CRCType
	Destination        eid.EndpointID
	SourceNode         eid.EndpointID
	ReportTo           eid.EndpointID
	CreationTimestamp  CreationTimestamp
	Lifetime           uint64
}

// NewPrimaryBlock creates a PrimaryBlock with CRC disabled and ReportTo
// defaulted to the source.
func NewPrimaryBlock(bcf BundleControlFlags, destination, source eid.EndpointID, ts CreationTimestamp, lifetimeSeconds uint64) PrimaryBlock {
	return PrimaryBlock{
		Version:            dtnVersion,
		BundleControlFlags: bcf,
		CRCType:            CRCNo,
		Destination:        destination,
		SourceNode:         source,
		ReportTo:           source,
		CreationTimestamp:  ts,
		Lifetime:           lifetimeSeconds,
	}
}

func (pb PrimaryBlock) HasCRC() bool { return pb.CRCType != CRCNo }

func (pb *PrimaryBlock) MarshalCbor(w io.Writer) error {
	blockLen := uint64(8)
	if pb.HasCRC() {
		blockLen = 9
	}

	out, crcBuf := crcWriter(w, pb.HasCRC())

	if err := cboring.WriteArrayLength(blockLen, out); err != nil {
		return err
	}

	for _, f := range []uint64{dtnVersion, uint64(pb.BundleControlFlags), uint64(pb.CRCType)} {
		if err := cboring.WriteUInt(f, out); err != nil {
			return err
		}
	}

	for _, e := range []*eid.EndpointID{&pb.Destination, &pb.SourceNode, &pb.ReportTo} {
		if err := e.MarshalCbor(out); err != nil {
			return fmt.Errorf("bpv7: marshalling EndpointID failed: %v", err)
		}
	}

	if err := cboring.Marshal(&pb.CreationTimestamp, out); err != nil {
		return fmt.Errorf("bpv7: marshalling CreationTimestamp failed: %v", err)
	}

	if err := cboring.WriteUInt(pb.Lifetime, out); err != nil {
		return err
	}

	if pb.HasCRC() {
		crcVal, err := calculateCRCBuff(crcBuf, pb.CRCType)
		if err != nil {
			return err
		}
		return cboring.WriteByteString(crcVal, w)
	}

	return nil
}

func (pb *PrimaryBlock) UnmarshalCbor(r io.Reader) error {
	bl, err := cboring.ReadArrayLength(r)
	if err != nil {
		return err
	} else if bl != 8 && bl != 9 {
		return fmt.Errorf("bpv7: PrimaryBlock expects array of 8 or 9, got %d", bl)
	}

	crcBuf := new(bytes.Buffer)
	if bl == 9 {
		cboring.WriteArrayLength(bl, crcBuf)
		r = io.TeeReader(r, crcBuf)
	}

	version, err := cboring.ReadUInt(r)
	if err != nil {
		return err
	} else if version != dtnVersion {
		return fmt.Errorf("bpv7: expected version %d, got %d", dtnVersion, version)
	}
	pb.Version = version

	bcf, err := cboring.ReadUInt(r)
	if err != nil {
		return err
	}
	pb.BundleControlFlags = BundleControlFlags(bcf)

	crcT, err := cboring.ReadUInt(r)
	if err != nil {
		return err
	}
	pb.CRCType = CRCType(crcT)

	for _, e := range []*eid.EndpointID{&pb.Destination, &pb.SourceNode, &pb.ReportTo} {
		if err := e.UnmarshalCbor(r); err != nil {
			return fmt.Errorf("bpv7: unmarshalling EndpointID failed: %v", err)
		}
	}

	if err := cboring.Unmarshal(&pb.CreationTimestamp, r); err != nil {
		return fmt.Errorf("bpv7: unmarshalling CreationTimestamp failed: %v", err)
	}

	lt, err := cboring.ReadUInt(r)
	if err != nil {
		return err
	}
	pb.Lifetime = lt

	if bl == 9 {
		crcCalc, err := calculateCRCBuff(crcBuf, pb.CRCType)
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

func (pb PrimaryBlock) checkValid() (errs error) {
	if pb.Version != dtnVersion {
		errs = multierror.Append(errs, newBundleError(fmt.Sprintf(
			"PrimaryBlock: wrong version %d instead of %d", pb.Version, dtnVersion)))
	}
	if err := pb.BundleControlFlags.checkValid(); err != nil {
		errs = multierror.Append(errs, err)
	}
	if err := pb.Destination.CheckValid(); err != nil {
		errs = multierror.Append(errs, err)
	}
	if err := pb.SourceNode.CheckValid(); err != nil {
		errs = multierror.Append(errs, err)
	}
	if err := pb.ReportTo.CheckValid(); err != nil {
		errs = multierror.Append(errs, err)
	}
	return
}

// IsLifetimeExceeded compares the creation timestamp plus lifetime against
// the current wall-clock time, per the expiry predicate.
func (pb PrimaryBlock) IsLifetimeExceeded() bool {
	expiry := pb.CreationTimestamp.DtnTime().Time().Add(time.Duration(pb.Lifetime) * time.Second)
	return time.Now().After(expiry)
}

func (pb PrimaryBlock) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "version: %d, ", pb.Version)
	fmt.Fprintf(&b, "bundle control flags: %b, ", pb.BundleControlFlags)
	fmt.Fprintf(&b, "destination: %v, ", pb.Destination)
	fmt.Fprintf(&b, "source node: %v, ", pb.SourceNode)
	fmt.Fprintf(&b, "report to: %v, ", pb.ReportTo)
	fmt.Fprintf(&b, "creation timestamp: %v, ", pb.CreationTimestamp)
	fmt.Fprintf(&b, "lifetime: %ds", pb.Lifetime)
	return b.String()
}
