// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dtn7/dtnagent-go/eid"
)

func TestRegistryRegisterAndLookup(t *testing.T) {
	r := NewRegistry()

	ep := eid.MustParse("dtn://node1/ping")
	r.Register(Service{Tag: 7, Endpoint: ep, Description: "ping responder"})

	svc, err := r.Lookup(7)
	require.NoError(t, err)
	assert.Equal(t, ep, svc.Endpoint)
	assert.Equal(t, "ping responder", svc.Description)
}

func TestRegistryRegisterOverwritesTag(t *testing.T) {
	r := NewRegistry()

	r.Register(Service{Tag: 1, Description: "first"})
	r.Register(Service{Tag: 1, Description: "second"})

	svc, err := r.Lookup(1)
	require.NoError(t, err)
	assert.Equal(t, "second", svc.Description)
	assert.Len(t, r.All(), 1)
}

func TestRegistryLookupUnknownTagErrors(t *testing.T) {
	r := NewRegistry()
	_, err := r.Lookup(42)
	assert.Error(t, err)
}

func TestRegistryUnregister(t *testing.T) {
	r := NewRegistry()
	r.Register(Service{Tag: 3})
	r.Unregister(3)

	_, err := r.Lookup(3)
	assert.Error(t, err)
}

func TestRegistryAllIsSortedByTag(t *testing.T) {
	r := NewRegistry()
	r.Register(Service{Tag: 5})
	r.Register(Service{Tag: 1})
	r.Register(Service{Tag: 3})

	all := r.All()
	require.Len(t, all, 3)
	assert.Equal(t, []uint8{1, 3, 5}, []uint8{all[0].Tag, all[1].Tag, all[2].Tag})
}
