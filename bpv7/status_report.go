// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpv7

import (
	"fmt"
	"io"
	"strings"

	"github.com/dtn7/cboring"
	"github.com/dtn7/dtnagent-go/eid"
)

// BundleStatusItem is one entry of a status report's status-information
// array: whether the event asserted by its slot occurred, and, if status
// time was requested, when.
type BundleStatusItem struct {
	Asserted        bool
	Time            DtnTime
	StatusRequested bool
}

// NewBundleStatusItem returns an item with no time report.
func NewBundleStatusItem(asserted bool) BundleStatusItem {
	return BundleStatusItem{Asserted: asserted, Time: DtnTimeEpoch, StatusRequested: false}
}

// NewTimeReportingBundleStatusItem returns an asserted item carrying a time.
func NewTimeReportingBundleStatusItem(t DtnTime) BundleStatusItem {
	return BundleStatusItem{Asserted: true, Time: t, StatusRequested: true}
}

func (bsi BundleStatusItem) MarshalCbor(w io.Writer) error {
	arrLen := uint64(1)
	if bsi.Asserted && bsi.StatusRequested {
		arrLen = 2
	}

	if err := cboring.WriteArrayLength(arrLen, w); err != nil {
		return err
	}
	if err := cboring.WriteBoolean(bsi.Asserted, w); err != nil {
		return err
	}
	if arrLen == 2 {
		if err := cboring.WriteUInt(uint64(bsi.Time), w); err != nil {
			return err
		}
	}
	return nil
}

func (bsi *BundleStatusItem) UnmarshalCbor(r io.Reader) error {
	n, err := cboring.ReadArrayLength(r)
	if err != nil {
		return err
	} else if n != 1 && n != 2 {
		return fmt.Errorf("bpv7: BundleStatusItem expects array of 1 or 2, got %d", n)
	}

	asserted, err := cboring.ReadBoolean(r)
	if err != nil {
		return err
	}
	bsi.Asserted = asserted

	if n == 2 {
		t, err := cboring.ReadUInt(r)
		if err != nil {
			return err
		}
		bsi.Time = DtnTime(t)
		bsi.StatusRequested = true
	} else {
		bsi.Time = DtnTimeEpoch
		bsi.StatusRequested = false
	}

	return nil
}

func (bsi BundleStatusItem) String() string {
	if !bsi.Asserted {
		return fmt.Sprintf("BundleStatusItem(%t)", bsi.Asserted)
	}
	return fmt.Sprintf("BundleStatusItem(%t, %v)", bsi.Asserted, bsi.Time)
}

// StatusReportReason is the reason code carried by a status report.
type StatusReportReason uint64

const (
	NoInformation              StatusReportReason = 0
	LifetimeExpired            StatusReportReason = 1
	ForwardUnidirectionalLink  StatusReportReason = 2
	TransmissionCanceled       StatusReportReason = 3
	DepletedStorage            StatusReportReason = 4
	DestEndpointUnintelligible StatusReportReason = 5
	NoRouteToDestination       StatusReportReason = 6
	NoNextNodeContact          StatusReportReason = 7
	BlockUnintelligible        StatusReportReason = 8
	HopLimitExceeded           StatusReportReason = 9
)

func (srr StatusReportReason) String() string {
	switch srr {
	case NoInformation:
		return "no additional information"
	case LifetimeExpired:
		return "lifetime expired"
	case ForwardUnidirectionalLink:
		return "forwarded over unidirectional link"
	case TransmissionCanceled:
		return "transmission canceled"
	case DepletedStorage:
		return "depleted storage"
	case DestEndpointUnintelligible:
		return "destination endpoint ID unintelligible"
	case NoRouteToDestination:
		return "no known route to destination from here"
	case NoNextNodeContact:
		return "no timely contact with next node on route"
	case BlockUnintelligible:
		return "block unintelligible"
	case HopLimitExceeded:
		return "hop limit exceeded"
	default:
		return "unknown"
	}
}

// StatusInformationPos indexes the four mandatory status-information slots.
type StatusInformationPos int

const (
	maxStatusInformationPos = 4

	ReceivedBundle   StatusInformationPos = 0
	ForwardedBundle  StatusInformationPos = 1
	DeliveredBundle  StatusInformationPos = 2
	DeletedBundle    StatusInformationPos = 3
)

func (sip StatusInformationPos) String() string {
	switch sip {
	case ReceivedBundle:
		return "received"
	case ForwardedBundle:
		return "forwarded"
	case DeliveredBundle:
		return "delivered"
	case DeletedBundle:
		return "deleted"
	default:
		return "unknown"
	}
}

// StatusReport is the sole AdministrativeRecord this agent produces and
// understands.
type StatusReport struct {
	StatusInformation []BundleStatusItem
	ReportReason      StatusReportReason
	SourceNode        eid.EndpointID
	Timestamp         CreationTimestamp
}

// NewStatusReport builds a StatusReport for bndl, asserting the slot named
// by statusItem with reason, stamping it with now if the bundle requested
// status time reporting.
func NewStatusReport(bndl Bundle, statusItem StatusInformationPos, reason StatusReportReason, now DtnTime) StatusReport {
	sr := StatusReport{
		StatusInformation: make([]BundleStatusItem, maxStatusInformationPos),
		ReportReason:      reason,
		SourceNode:        bndl.PrimaryBlock.SourceNode,
		Timestamp:         bndl.PrimaryBlock.CreationTimestamp,
	}

	wantsTime := bndl.PrimaryBlock.BundleControlFlags.Has(RequestStatusTime)

	for i := 0; i < maxStatusInformationPos; i++ {
		sip := StatusInformationPos(i)
		switch {
		case sip == statusItem && wantsTime:
			sr.StatusInformation[i] = NewTimeReportingBundleStatusItem(now)
		case sip == statusItem:
			sr.StatusInformation[i] = NewBundleStatusItem(true)
		default:
			sr.StatusInformation[i] = NewBundleStatusItem(false)
		}
	}

	return sr
}

func (StatusReport) RecordTypeCode() uint64 { return AdminRecordTypeStatusReport }

func (sr *StatusReport) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(4, w); err != nil {
		return err
	}

	if err := cboring.WriteArrayLength(uint64(len(sr.StatusInformation)), w); err != nil {
		return err
	}
	for i := range sr.StatusInformation {
		if err := sr.StatusInformation[i].MarshalCbor(w); err != nil {
			return err
		}
	}

	if err := cboring.WriteUInt(uint64(sr.ReportReason), w); err != nil {
		return err
	}

	if err := sr.SourceNode.MarshalCbor(w); err != nil {
		return err
	}

	return cboring.Marshal(&sr.Timestamp, w)
}

func (sr *StatusReport) UnmarshalCbor(r io.Reader) error {
	n, err := cboring.ReadArrayLength(r)
	if err != nil {
		return err
	} else if n != 4 {
		return fmt.Errorf("bpv7: StatusReport expects array of 4, got %d", n)
	}

	siLen, err := cboring.ReadArrayLength(r)
	if err != nil {
		return err
	}
	sr.StatusInformation = make([]BundleStatusItem, siLen)
	for i := 0; i < int(siLen); i++ {
		if err := sr.StatusInformation[i].UnmarshalCbor(r); err != nil {
			return err
		}
	}

	reason, err := cboring.ReadUInt(r)
	if err != nil {
		return err
	}
	sr.ReportReason = StatusReportReason(reason)

	if err := sr.SourceNode.UnmarshalCbor(r); err != nil {
		return err
	}

	return cboring.Unmarshal(&sr.Timestamp, r)
}

func (sr StatusReport) String() string {
	var b strings.Builder
	b.WriteString("StatusReport([")
	for i, si := range sr.StatusInformation {
		if !si.Asserted {
			continue
		}
		sip := StatusInformationPos(i)
		if si.Time == DtnTimeEpoch {
			fmt.Fprintf(&b, "%v,", sip)
		} else {
			fmt.Fprintf(&b, "%v %v,", sip, si.Time)
		}
	}
	fmt.Fprintf(&b, "], %v, %v, %v)", sr.ReportReason, sr.SourceNode, sr.Timestamp)
	return b.String()
}
