// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package store

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/jmoiron/sqlx"
	log "github.com/sirupsen/logrus"

	_ "modernc.org/sqlite"

	"github.com/dtn7/dtnagent-go/bpv7"
	"github.com/dtn7/dtnagent-go/eid"
)

const schema = `
CREATE TABLE IF NOT EXISTS bundles (
	id   TEXT PRIMARY KEY,
	data BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS bundle_metadata (
	id            TEXT PRIMARY KEY REFERENCES bundles(id) ON DELETE CASCADE,
	source        TEXT NOT NULL,
	destination   TEXT NOT NULL,
	creation_time INTEGER NOT NULL,
	size          INTEGER NOT NULL,
	constraints   INTEGER NOT NULL
);
`

// SQLStore is a Store backed by an embedded relational engine
// (modernc.org/sqlite, driven through sqlx), persisting bundles across
// restarts. Push writes the bundle's bytes and its metadata row in a single
// transaction.
type SQLStore struct {
	mu sync.Mutex
	db *sqlx.DB
}

// NewSQLStore opens (or creates) a SQLStore at path.
func NewSQLStore(path string) (*SQLStore, error) {
	db, err := sqlx.Connect("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: opening sqlite database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		return nil, fmt.Errorf("store: enabling foreign keys: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("store: applying schema: %w", err)
	}

	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Push(b bpv7.Bundle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := IDFromBundle(b)
	data, err := bpv7.MarshalBundle(b)
	if err != nil {
		return err
	}

	var exists bool
	if err := s.db.Get(&exists, `SELECT EXISTS(SELECT 1 FROM bundle_metadata WHERE id = ?)`, id); err != nil {
		return err
	}

	if exists {
		log.WithFields(log.Fields{"bundle": id}).Debug("store: bundle id known, replacing bytes")
		_, err := s.db.Exec(`UPDATE bundles SET data = ? WHERE id = ?`, data, id)
		return err
	}

	tx, err := s.db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT INTO bundles (id, data) VALUES (?, ?)`, id, data); err != nil {
		return err
	}

	pack := NewBundlePack(b, len(data))
	if _, err := tx.NamedExec(
		`INSERT INTO bundle_metadata (id, source, destination, creation_time, size, constraints)
		 VALUES (:id, :source, :destination, :creation_time, :size, :constraints)`,
		metadataRow{
			Id:           pack.Id,
			Source:       pack.Source.String(),
			Destination:  pack.Destination.String(),
			CreationTime: uint64(pack.CreationTime),
			Size:         pack.Size,
			Constraints:  uint8(pack.Constraints),
		}); err != nil {
		return err
	}

	log.WithFields(log.Fields{"bundle": id}).Info("store: bundle id unknown, inserting")
	return tx.Commit()
}

type metadataRow struct {
	Id           string `db:"id"`
	Source       string `db:"source"`
	Destination  string `db:"destination"`
	CreationTime uint64 `db:"creation_time"`
	Size         int    `db:"size"`
	Constraints  uint8  `db:"constraints"`
}

func (r metadataRow) toPack() (BundlePack, error) {
	src, err := eid.Parse(r.Source)
	if err != nil {
		return BundlePack{}, err
	}
	dst, err := eid.Parse(r.Destination)
	if err != nil {
		return BundlePack{}, err
	}

	return BundlePack{
		Id:           r.Id,
		Source:       src,
		Destination:  dst,
		CreationTime: bpv7.DtnTime(r.CreationTime),
		Size:         r.Size,
		Constraints:  Constraint(r.Constraints),
	}, nil
}

func (s *SQLStore) UpdateMetadata(pack BundlePack) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.NamedExec(
		`UPDATE bundle_metadata SET source=:source, destination=:destination,
		 creation_time=:creation_time, size=:size, constraints=:constraints WHERE id=:id`,
		metadataRow{
			Id:           pack.Id,
			Source:       pack.Source.String(),
			Destination:  pack.Destination.String(),
			CreationTime: uint64(pack.CreationTime),
			Size:         pack.Size,
			Constraints:  uint8(pack.Constraints),
		})
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	} else if n == 0 {
		return ErrNotFound(pack.Id)
	}
	return nil
}

func (s *SQLStore) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`UPDATE bundle_metadata SET constraints = constraints | ? WHERE id = ?`, uint8(Deleted), id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrNotFound(id)
	}

	// The bytes are emptied rather than the row deleted: deleting the
	// bundles row would cascade to the metadata row, which Remove keeps.
	_, err = s.db.Exec(`UPDATE bundles SET data = X'' WHERE id = ?`, id)
	return err
}

func (s *SQLStore) Purge(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM bundle_metadata WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrNotFound(id)
	}

	_, err = s.db.Exec(`DELETE FROM bundles WHERE id = ?`, id)
	return err
}

func (s *SQLStore) Count() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n uint64
	err := s.db.Get(&n, `SELECT COUNT(*) FROM bundle_metadata`)
	return n, err
}

func (s *SQLStore) AllIds() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	err := s.db.Select(&ids, `SELECT id FROM bundle_metadata`)
	return ids, err
}

func (s *SQLStore) AllBundles() ([]BundlePack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rows []metadataRow
	if err := s.db.Select(&rows, `SELECT * FROM bundle_metadata`); err != nil {
		return nil, err
	}

	packs := make([]BundlePack, 0, len(rows))
	for _, r := range rows {
		p, err := r.toPack()
		if err != nil {
			return nil, err
		}
		packs = append(packs, p)
	}
	return packs, nil
}

func (s *SQLStore) HasItem(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var exists bool
	err := s.db.Get(&exists, `SELECT EXISTS(SELECT 1 FROM bundle_metadata WHERE id = ?)`, id)
	return exists, err
}

func (s *SQLStore) GetBundle(id string) (bpv7.Bundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var data []byte
	err := s.db.Get(&data, `SELECT data FROM bundles WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && len(data) == 0) {
		return bpv7.Bundle{}, ErrNotFound(id)
	} else if err != nil {
		return bpv7.Bundle{}, err
	}

	return bpv7.ParseBundle(data)
}

func (s *SQLStore) GetMetadata(id string) (BundlePack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var row metadataRow
	err := s.db.Get(&row, `SELECT * FROM bundle_metadata WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return BundlePack{}, ErrNotFound(id)
	} else if err != nil {
		return BundlePack{}, err
	}

	return row.toPack()
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
