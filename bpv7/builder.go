// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpv7

import (
	"fmt"
	"time"

	"github.com/dtn7/dtnagent-go/eid"
)

// Builder assembles a Bundle by method chaining, e.g.:
//
//	b, err := Builder().
//	    Source("dtn://src/").
//	    Destination("dtn://dest/").
//	    CreationTimestampNow().
//	    Lifetime(30 * time.Minute).
//	    HopCountBlock(64).
//	    PayloadBlock([]byte("hello world!")).
//	    Build()
type Builder struct {
	err error

	primary          PrimaryBlock
	canonicals       []CanonicalBlock
	canonicalCounter uint64
	crcType          CRCType
}

// NewBuilder starts a new Builder.
func NewBuilder() *Builder {
	return &Builder{
		primary:          PrimaryBlock{Version: dtnVersion, ReportTo: eid.DtnNone()},
		canonicals:       []CanonicalBlock{},
		canonicalCounter: 2,
		crcType:          CRC32Type,
	}
}

// Error returns the first error encountered while chaining, if any.
func (b *Builder) Error() error { return b.err }

func (b *Builder) parseEndpoint(e interface{}) (eid.EndpointID, error) {
	switch v := e.(type) {
	case eid.EndpointID:
		return v, nil
	case string:
		return eid.Parse(v)
	default:
		return eid.EndpointID{}, fmt.Errorf("bpv7: %T is neither an EndpointID nor a string", e)
	}
}

// Source sets the bundle's source endpoint.
func (b *Builder) Source(e interface{}) *Builder {
	if b.err == nil {
		if v, err := b.parseEndpoint(e); err != nil {
			b.err = err
		} else {
			b.primary.SourceNode = v
		}
	}
	return b
}

// Destination sets the bundle's destination endpoint.
func (b *Builder) Destination(e interface{}) *Builder {
	if b.err == nil {
		if v, err := b.parseEndpoint(e); err != nil {
			b.err = err
		} else {
			b.primary.Destination = v
		}
	}
	return b
}

// ReportTo sets the bundle's report-to endpoint, defaulting to Source if
// never called.
func (b *Builder) ReportTo(e interface{}) *Builder {
	if b.err == nil {
		if v, err := b.parseEndpoint(e); err != nil {
			b.err = err
		} else {
			b.primary.ReportTo = v
		}
	}
	return b
}

// BundleCtrlFlags sets the primary block's bundle processing control flags.
func (b *Builder) BundleCtrlFlags(bcf BundleControlFlags) *Builder {
	if b.err == nil {
		b.primary.BundleControlFlags = bcf
	}
	return b
}

// CRC sets the CRC type applied to every block; CRC32Type is the default.
func (b *Builder) CRC(t CRCType) *Builder {
	if b.err == nil {
		b.crcType = t
	}
	return b
}

func (b *Builder) creationTimestamp(t DtnTime) *Builder {
	if b.err == nil {
		b.primary.CreationTimestamp = NewCreationTimestamp(t, 0)
	}
	return b
}

// CreationTimestampNow stamps the bundle with the current time.
func (b *Builder) CreationTimestampNow() *Builder { return b.creationTimestamp(DtnTimeNow()) }

// CreationTimestampEpoch stamps the bundle with the DTN epoch, useful in
// tests wanting deterministic output.
func (b *Builder) CreationTimestampEpoch() *Builder { return b.creationTimestamp(DtnTimeEpoch) }

// CreationTimestampTime stamps the bundle with an explicit time.
func (b *Builder) CreationTimestampTime(t time.Time) *Builder {
	return b.creationTimestamp(DtnTimeFromTime(t))
}

// Lifetime sets the bundle's lifetime in seconds.
func (b *Builder) Lifetime(d time.Duration) *Builder {
	if b.err == nil {
		if d <= 0 {
			b.err = fmt.Errorf("bpv7: lifetime %s is not positive", d)
		} else {
			b.primary.Lifetime = uint64(d.Seconds())
		}
	}
	return b
}

// canonical appends an extension block, assigning block number 1 to the
// payload and incrementing ones for everything else.
func (b *Builder) canonical(value ExtensionBlock, bcf BlockControlFlags) *Builder {
	if b.err != nil {
		return b
	}

	var no uint64
	if value.BlockTypeCode() == ExtBlockTypePayloadBlock {
		no = 1
	} else {
		no = b.canonicalCounter
		b.canonicalCounter++
	}

	b.canonicals = append(b.canonicals, NewCanonicalBlock(no, bcf, value))
	return b
}

// PayloadBlock sets the bundle's payload.
func (b *Builder) PayloadBlock(data []byte) *Builder {
	return b.canonical(NewPayloadBlock(data), 0)
}

// HopCountBlock adds a hop count block.
func (b *Builder) HopCountBlock(limit uint64) *Builder {
	return b.canonical(NewHopCountBlock(limit), 0)
}

// BundleAgeBlock adds a bundle age block initialized to ageMillis.
func (b *Builder) BundleAgeBlock(ageMillis uint64) *Builder {
	return b.canonical(NewBundleAgeBlock(ageMillis), 0)
}

// PreviousNodeBlock adds a previous node block.
func (b *Builder) PreviousNodeBlock(e interface{}) *Builder {
	if b.err != nil {
		return b
	}
	v, err := b.parseEndpoint(e)
	if err != nil {
		b.err = err
		return b
	}
	return b.canonical(NewPreviousNodeBlock(v), 0)
}

// Canonical adds an arbitrary, already-constructed extension block with
// optional block control flags.
func (b *Builder) Canonical(value ExtensionBlock, bcf ...BlockControlFlags) *Builder {
	var flags BlockControlFlags
	if len(bcf) > 0 {
		flags = bcf[0]
	}
	return b.canonical(value, flags)
}

// Build validates the accumulated state and returns the finished Bundle.
func (b *Builder) Build() (Bundle, error) {
	if b.err != nil {
		return Bundle{}, b.err
	}

	if b.primary.ReportTo.IsNone() {
		b.primary.ReportTo = b.primary.SourceNode
	}
	if b.primary.SourceNode.IsNone() || b.primary.Destination.IsNone() {
		return Bundle{}, fmt.Errorf("bpv7: both Source and Destination must be set")
	}

	bndl, err := NewBundle(b.primary, b.canonicals)
	if err != nil {
		return Bundle{}, err
	}

	bndl.SetCRCType(b.crcType)
	return bndl, nil
}

// MustBuild is Build, panicking on error.
func (b *Builder) MustBuild() Bundle {
	bndl, err := b.Build()
	if err != nil {
		panic(err)
	}
	return bndl
}
