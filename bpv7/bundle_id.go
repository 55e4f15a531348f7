// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpv7

import (
	"fmt"

	"github.com/dtn7/dtnagent-go/eid"
)

// BundleID identifies a bundle by its source node and creation timestamp.
// Fragmentation is not supported, so there is no fragment-offset or
// total-length suffix.
type BundleID struct {
	SourceNode eid.EndpointID
	Timestamp  CreationTimestamp
}

// String renders the canonical "<source>-<creationMillis>-<sequence>" id
// used throughout the store and processor.
func (bid BundleID) String() string {
	return fmt.Sprintf("%s-%d-%d", bid.SourceNode.String(), bid.Timestamp.DtnTime(), bid.Timestamp.SequenceNumber())
}
