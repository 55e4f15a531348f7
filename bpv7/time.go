// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpv7

import (
	"fmt"
	"io"
	"time"

	"github.com/dtn7/cboring"
)

// DtnTime is milliseconds elapsed since 2000-01-01T00:00:00Z, as defined in
// RFC 9171 4.2.6.
type DtnTime uint64

const (
	millis1970To2k = 946684800000

	// DtnTimeEpoch is the zero timestamp.
	DtnTimeEpoch DtnTime = 0
)

// UnixMilli returns the Unix epoch milliseconds for this DtnTime.
func (t DtnTime) UnixMilli() int64 {
	return int64(t) + millis1970To2k
}

// Time returns a UTC time.Time for this DtnTime.
func (t DtnTime) Time() time.Time {
	ms := t.UnixMilli()
	return time.Unix(ms/1000, (ms%1000)*int64(time.Millisecond)).UTC()
}

func (t DtnTime) String() string {
	return t.Time().Format("2006-01-02 15:04:05.000")
}

// DtnTimeFromTime converts a time.Time into a DtnTime.
func DtnTimeFromTime(t time.Time) DtnTime {
	return DtnTime(t.UTC().UnixMilli() - millis1970To2k)
}

// DtnTimeNow returns the current time as a DtnTime.
func DtnTimeNow() DtnTime {
	return DtnTimeFromTime(time.Now())
}

// CreationTimestamp pairs a DtnTime with a sequence number, disambiguating
// bundles created by the same node within the same millisecond.
type CreationTimestamp [2]uint64

// NewCreationTimestamp builds a CreationTimestamp from a DtnTime and sequence.
func NewCreationTimestamp(t DtnTime, sequence uint64) CreationTimestamp {
	return CreationTimestamp{uint64(t), sequence}
}

func (ct CreationTimestamp) DtnTime() DtnTime      { return DtnTime(ct[0]) }
func (ct CreationTimestamp) SequenceNumber() uint64 { return ct[1] }
func (ct CreationTimestamp) IsZeroTime() bool       { return ct.DtnTime() == DtnTimeEpoch }

func (ct CreationTimestamp) String() string {
	return fmt.Sprintf("(%v, %d)", ct.DtnTime(), ct[1])
}

func (ct *CreationTimestamp) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(2, w); err != nil {
		return err
	}
	for _, f := range ct {
		if err := cboring.WriteUInt(f, w); err != nil {
			return err
		}
	}
	return nil
}

func (ct *CreationTimestamp) UnmarshalCbor(r io.Reader) error {
	n, err := cboring.ReadArrayLength(r)
	if err != nil {
		return err
	} else if n != 2 {
		return fmt.Errorf("bpv7: CreationTimestamp expects array of 2, got %d", n)
	}
	for i := 0; i < 2; i++ {
		v, err := cboring.ReadUInt(r)
		if err != nil {
			return err
		}
		ct[i] = v
	}
	return nil
}
