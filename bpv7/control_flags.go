// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpv7

import "github.com/hashicorp/go-multierror"

// BundleControlFlags are the Bundle Processing Control Flags of RFC 9171 4.2.3.
type BundleControlFlags uint64

const (
	StatusRequestDeletion  BundleControlFlags = 0x040000
	StatusRequestDelivery  BundleControlFlags = 0x020000
	StatusRequestForward   BundleControlFlags = 0x010000
	StatusRequestReception BundleControlFlags = 0x004000

	// RequestStatusTime asks that status reports carry the time of the
	// reported event, not just the bare assertion.
	RequestStatusTime BundleControlFlags = 0x0040

	MustNotFragmented          BundleControlFlags = 0x0004
	AdministrativeRecordPayload BundleControlFlags = 0x0002
	IsFragment                 BundleControlFlags = 0x0001
)

// Has returns true if a given flag or mask of flags is set.
func (bcf BundleControlFlags) Has(flag BundleControlFlags) bool {
	return bcf&flag != 0
}

func (bcf BundleControlFlags) checkValid() (errs error) {
	if bcf.Has(IsFragment) && bcf.Has(MustNotFragmented) {
		errs = multierror.Append(errs, newBundleError(
			"BundleControlFlags: both IsFragment and MustNotFragmented are set"))
	}

	adminOk := !bcf.Has(AdministrativeRecordPayload) ||
		(!bcf.Has(StatusRequestReception) && !bcf.Has(StatusRequestForward) &&
			!bcf.Has(StatusRequestDelivery) && !bcf.Has(StatusRequestDeletion))
	if !adminOk {
		errs = multierror.Append(errs, newBundleError(
			"BundleControlFlags: administrative-record payload must not request status reports"))
	}

	return
}

// BlockControlFlags are the Block Processing Control Flags of RFC 9171 4.2.4.
type BlockControlFlags uint8

const (
	RemoveBlockOnFailure     BlockControlFlags = 0x10
	DeleteBundleOnFailure    BlockControlFlags = 0x04
	StatusReportBlockFailure BlockControlFlags = 0x02
)

// Has returns true if a given flag or mask of flags is set.
func (bcf BlockControlFlags) Has(flag BlockControlFlags) bool {
	return bcf&flag != 0
}
