// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package store implements the bundle store: the persisted record of every
// bundle this node is holding, together with its retention metadata.
package store

import (
	"github.com/dtn7/dtnagent-go/bpv7"
	"github.com/dtn7/dtnagent-go/eid"
)

// Constraint is a retention constraint bit, governing whether a bundle may
// still be forwarded, delivered, or must be kept at all.
type Constraint uint8

const (
	// DispatchPending is set while a bundle's dispatch decision is unresolved.
	DispatchPending Constraint = 1 << iota

	// ForwardPending is set while a bundle awaits forwarding to a peer.
	ForwardPending

	// ReassemblyPending is set for a fragmented bundle awaiting reassembly.
	ReassemblyPending

	// Contraindicated is set once delivery/forwarding has failed and the
	// bundle has been moved aside pending a routing retry or expiry.
	Contraindicated

	// Deleted marks a bundle as logically removed; it is never forwarded or
	// delivered again, but stays enumerable until the janitor purges it.
	Deleted
)

func (c Constraint) Has(flag Constraint) bool { return c&flag != 0 }

func (c Constraint) String() string {
	var names []string
	for flag, name := range map[Constraint]string{
		DispatchPending:   "dispatchPending",
		ForwardPending:    "forwardPending",
		ReassemblyPending: "reassemblyPending",
		Contraindicated:   "contraindicated",
		Deleted:           "deleted",
	} {
		if c.Has(flag) {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	s := names[0]
	for _, n := range names[1:] {
		s += "|" + n
	}
	return s
}

// BundlePack is the in-store descriptor for a bundle: everything the core
// needs to know without decoding the bundle's bytes.
type BundlePack struct {
	Id          string
	Source      eid.EndpointID
	Destination eid.EndpointID
	CreationTime bpv7.DtnTime
	Size        int
	Constraints Constraint
}

// IDFromBundle derives the canonical "<source>-<creationMillis>-<sequence>"
// identifier for a bundle.
func IDFromBundle(b bpv7.Bundle) string {
	return b.ID().String()
}

// NewBundlePack creates the metadata descriptor for a freshly pushed bundle.
func NewBundlePack(b bpv7.Bundle, encodedSize int) BundlePack {
	return BundlePack{
		Id:           IDFromBundle(b),
		Source:       b.PrimaryBlock.SourceNode,
		Destination:  b.PrimaryBlock.Destination,
		CreationTime: b.PrimaryBlock.CreationTimestamp.DtnTime(),
		Size:         encodedSize,
		Constraints:  DispatchPending,
	}
}

// Store is the contract both the in-memory and persistent backends satisfy.
// Every mutation on a single Store is serialized by its implementation;
// concurrent callers observe consistent results.
type Store interface {
	// Push is idempotent on the bundle's id: the first push creates its
	// BundlePack, later pushes replace the stored bytes but never reset its
	// constraints.
	Push(b bpv7.Bundle) error

	// UpdateMetadata writes back a BundlePack, failing if its id is absent.
	UpdateMetadata(pack BundlePack) error

	// Remove marks id deleted and drops its stored bytes, but keeps its
	// BundlePack enumerable until Purge. Fails if id is absent.
	Remove(id string) error

	// Purge drops id's BundlePack entirely. The janitor calls this once a
	// deleted id no longer needs to be enumerable, and the management API's
	// DELETE /bundles/<id> calls it as a direct hard delete. Fails if id is
	// absent.
	Purge(id string) error

	Count() (uint64, error)
	AllIds() ([]string, error)
	AllBundles() ([]BundlePack, error)
	HasItem(id string) (bool, error)
	GetBundle(id string) (bpv7.Bundle, error)
	GetMetadata(id string) (BundlePack, error)

	Close() error
}

// ErrNotFound is returned by operations addressing an id the store does not
// (or no longer) hold.
type ErrNotFound string

func (e ErrNotFound) Error() string { return "store: no such bundle: " + string(e) }
