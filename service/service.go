// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package service implements the well-known service registry (C5): a
// lookup from a one-byte service tag to the local endpoint and description
// advertising it.
package service

import (
	"fmt"
	"sort"
	"sync"

	"github.com/dtn7/dtnagent-go/eid"
)

// Service is a single registered well-known service.
type Service struct {
	Tag         uint8
	Endpoint    eid.EndpointID
	Description string
}

// Registry maps service tags to the Service advertising them. A tag
// uniquely identifies a service within the node; Register silently
// overwrites whatever was previously registered under that tag.
type Registry struct {
	mu       sync.RWMutex
	services map[uint8]Service
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{services: make(map[uint8]Service)}
}

// Register adds or replaces the service bound to svc.Tag.
func (r *Registry) Register(svc Service) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[svc.Tag] = svc
}

// Unregister removes whatever service is bound to tag, if any.
func (r *Registry) Unregister(tag uint8) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.services, tag)
}

// Lookup returns the service bound to tag, if any.
func (r *Registry) Lookup(tag uint8) (Service, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	svc, ok := r.services[tag]
	if !ok {
		return Service{}, fmt.Errorf("service: no service registered for tag %d", tag)
	}
	return svc, nil
}

// All returns every registered service, ordered by tag for stable output
// (e.g. the management API's service listing).
func (r *Registry) All() []Service {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Service, 0, len(r.services))
	for _, svc := range r.services {
		out = append(out, svc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tag < out[j].Tag })
	return out
}
