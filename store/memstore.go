// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package store

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/dtnagent-go/bpv7"
)

// MemStore is an in-memory Store backed by two hash tables, suitable for
// nodes that do not need their bundles to survive a restart.
type MemStore struct {
	mu       sync.Mutex
	bundles  map[string]bpv7.Bundle
	metadata map[string]BundlePack
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		bundles:  make(map[string]bpv7.Bundle),
		metadata: make(map[string]BundlePack),
	}
}

func (s *MemStore) Push(b bpv7.Bundle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := IDFromBundle(b)

	if _, ok := s.metadata[id]; ok {
		log.WithFields(log.Fields{"bundle": id}).Debug("store: bundle id known, replacing bytes")
		s.bundles[id] = b
		return nil
	}

	data, err := bpv7.MarshalBundle(b)
	if err != nil {
		return err
	}

	log.WithFields(log.Fields{"bundle": id}).Info("store: bundle id unknown, inserting")
	s.bundles[id] = b
	s.metadata[id] = NewBundlePack(b, len(data))
	return nil
}

func (s *MemStore) UpdateMetadata(pack BundlePack) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.metadata[pack.Id]; !ok {
		return ErrNotFound(pack.Id)
	}
	s.metadata[pack.Id] = pack
	return nil
}

func (s *MemStore) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pack, ok := s.metadata[id]
	if !ok {
		return ErrNotFound(id)
	}

	pack.Constraints |= Deleted
	s.metadata[id] = pack
	delete(s.bundles, id)

	return nil
}

func (s *MemStore) Purge(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.metadata[id]; !ok {
		return ErrNotFound(id)
	}
	delete(s.metadata, id)
	delete(s.bundles, id)
	return nil
}

func (s *MemStore) Count() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return uint64(len(s.metadata)), nil
}

func (s *MemStore) AllIds() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.metadata))
	for id := range s.metadata {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *MemStore) AllBundles() ([]BundlePack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	packs := make([]BundlePack, 0, len(s.metadata))
	for _, p := range s.metadata {
		packs = append(packs, p)
	}
	return packs, nil
}

func (s *MemStore) HasItem(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.metadata[id]
	return ok, nil
}

func (s *MemStore) GetBundle(id string) (bpv7.Bundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bundles[id]
	if !ok {
		return bpv7.Bundle{}, ErrNotFound(id)
	}
	return b, nil
}

func (s *MemStore) GetMetadata(id string) (BundlePack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.metadata[id]
	if !ok {
		return BundlePack{}, ErrNotFound(id)
	}
	return p, nil
}

func (s *MemStore) Close() error { return nil }
