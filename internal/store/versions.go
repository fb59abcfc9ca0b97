// Pulseboard - Marketing Analytics Dashboard
// Copyright 2026 Pulseboard contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pulseboardhq/pulseboard

// Package store persists per-resource version counters in BadgerDB.
// Versions survive restarts so reconnecting dashboards can compare the
// version they rendered against the version the server last announced.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/pulseboardhq/pulseboard/internal/metrics"
	"github.com/pulseboardhq/pulseboard/internal/models"
)

// keyPrefix namespaces version records inside the shared Badger instance.
const keyPrefix = "version:"

// versionRecord is the stored form of a resource's latest edit.
type versionRecord struct {
	Version   int64     `json:"version"`
	UpdatedBy string    `json:"updated_by"`
	UpdatedAt time.Time `json:"updated_at"`
}

// VersionStore tracks a monotonically increasing version per resource key.
type VersionStore struct {
	db      *badger.DB
	ownedDB bool
}

// Options configures the version store.
type Options struct {
	// Path is the on-disk Badger directory. Empty means in-memory,
	// which is what tests use.
	Path string
}

// Open creates a version store with its own Badger instance.
func Open(opts Options) (*VersionStore, error) {
	var badgerOpts badger.Options
	if opts.Path == "" {
		badgerOpts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		badgerOpts = badger.DefaultOptions(opts.Path)
	}
	badgerOpts = badgerOpts.WithLogger(nil)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("open version store: %w", err)
	}
	return &VersionStore{db: db, ownedDB: true}, nil
}

// NewWithDB wraps an existing Badger instance. Close does not close the DB.
func NewWithDB(db *badger.DB) *VersionStore {
	return &VersionStore{db: db}
}

// Bump increments the version for key and returns the staleness event to
// broadcast. The read-increment-write runs in one transaction, so concurrent
// bumps of the same key serialize through Badger's conflict detection.
func (s *VersionStore) Bump(ctx context.Context, key models.ResourceKey, editor string) (*models.StalenessEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rec := versionRecord{
		UpdatedBy: editor,
		UpdatedAt: time.Now().UTC(),
	}
	storeKey := []byte(keyPrefix + key.String())

	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(storeKey)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			rec.Version = 1
		case err != nil:
			return err
		default:
			var prev versionRecord
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &prev)
			}); err != nil {
				return err
			}
			rec.Version = prev.Version + 1
		}

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal version record: %w", err)
		}
		return txn.Set(storeKey, data)
	})
	if err != nil {
		return nil, fmt.Errorf("bump %s: %w", key, err)
	}

	metrics.ResourceVersionBumps.WithLabelValues(string(key.Type)).Inc()

	return &models.StalenessEvent{
		ResourceType: key.Type,
		ResourceID:   key.ID,
		UpdatedBy:    rec.UpdatedBy,
		UpdatedAt:    rec.UpdatedAt,
		Version:      rec.Version,
	}, nil
}

// Get returns the latest recorded event for key, or nil if the resource has
// never been bumped.
func (s *VersionStore) Get(ctx context.Context, key models.ResourceKey) (*models.StalenessEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rec versionRecord
	found := false

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + key.String()))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	if !found {
		return nil, nil
	}

	return &models.StalenessEvent{
		ResourceType: key.Type,
		ResourceID:   key.ID,
		UpdatedBy:    rec.UpdatedBy,
		UpdatedAt:    rec.UpdatedAt,
		Version:      rec.Version,
	}, nil
}

// Close releases the underlying Badger instance if this store owns it.
func (s *VersionStore) Close() error {
	if !s.ownedDB {
		return nil
	}
	return s.db.Close()
}
