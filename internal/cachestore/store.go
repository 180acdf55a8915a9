// Widgetsync - Third-Party Data Synchronization Engine for Signage Widgets
// Copyright 2026 SignageHub
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signagehub/widgetsync

package cachestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	json "github.com/goccy/go-json"
)

// Status records the outcome of the last write to an entry.
type Status string

const (
	// StatusSuccess means the last fetch or push delivered fresh data.
	StatusSuccess Status = "success"

	// StatusError means the last fetch failed; Data carries the previous
	// payload forward so widgets keep rendering.
	StatusError Status = "error"
)

// ErrEntryNotFound indicates no cache entry exists for a discriminator.
var ErrEntryNotFound = errors.New("cachestore: entry not found")

// Entry is one cached widget data payload.
//
// Version increases by exactly 1 on every write and never repeats or moves
// backwards, so consumers can long-poll with their last seen version.
// RefreshAt is nil for push integrations, which have no staleness.
type Entry struct {
	Discriminator Discriminator   `json:"discriminator"`
	IntegrationID string          `json:"integration_id"`
	Data          json.RawMessage `json:"data,omitempty"`
	Version       int64           `json:"version"`
	Status        Status          `json:"status"`
	ErrorMessage  string          `json:"error_message,omitempty"`
	FetchedAt     time.Time       `json:"fetched_at"`
	RefreshAt     *time.Time      `json:"refresh_at,omitempty"`
}

// IsStale reports whether the entry is due for a refresh at the given time.
// Push entries are never stale.
func (e *Entry) IsStale(now time.Time) bool {
	return e.RefreshAt != nil && !now.Before(*e.RefreshAt)
}

// Write describes one cache write.
type Write struct {
	IntegrationID string

	// Data is the new payload. Ignored when Err is set; a failed fetch
	// carries the previous payload forward.
	Data json.RawMessage

	// Err, when non-empty, marks the write as a failure record.
	Err string

	// PullInterval schedules the next refresh. Zero means push mode and
	// leaves RefreshAt nil.
	PullInterval time.Duration
}

const cachePrefix = "cache:"

func cacheKey(d Discriminator) []byte {
	return []byte(cachePrefix + string(d))
}

// Store persists cache entries in the shared Badger database.
type Store struct {
	db  *badger.DB
	now func() time.Time
}

// NewStore creates a cache store backed by db.
func NewStore(db *badger.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Upsert applies a write to the entry for d, creating it if absent. The
// read-increment-write runs in one transaction; Badger's conflict detection
// turns concurrent writers into retries, so no version is ever skipped or
// written twice.
func (s *Store) Upsert(ctx context.Context, d Discriminator, w Write) (*Entry, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var entry *Entry
		err := s.db.Update(func(txn *badger.Txn) error {
			var err error
			entry, err = s.UpsertTx(txn, d, w)
			return err
		})
		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return entry, nil
	}
}

// UpsertTx applies a write inside an existing transaction. The scheduler
// uses this to commit a cache write atomically with a credential rotation.
func (s *Store) UpsertTx(txn *badger.Txn, d Discriminator, w Write) (*Entry, error) {
	if w.IntegrationID == "" {
		return nil, fmt.Errorf("cachestore: integration_id is required")
	}

	now := s.now().UTC()
	entry := &Entry{
		Discriminator: d,
		IntegrationID: w.IntegrationID,
		Version:       1,
		Status:        StatusSuccess,
		FetchedAt:     now,
	}

	existing, err := getEntry(txn, d)
	switch {
	case err == nil:
		entry.Version = existing.Version + 1
	case errors.Is(err, ErrEntryNotFound):
	default:
		return nil, err
	}

	if w.Err != "" {
		entry.Status = StatusError
		entry.ErrorMessage = w.Err
		// Carry the previous payload forward so widgets keep rendering
		// the last good data.
		if existing != nil {
			entry.Data = existing.Data
			entry.FetchedAt = existing.FetchedAt
		}
	} else {
		entry.Data = w.Data
	}

	if w.PullInterval > 0 {
		refreshAt := now.Add(w.PullInterval)
		entry.RefreshAt = &refreshAt
	}

	val, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("cachestore: encode entry: %w", err)
	}
	if err := txn.Set(cacheKey(d), val); err != nil {
		return nil, err
	}
	return entry, nil
}

// Get fetches the entry for a discriminator.
func (s *Store) Get(ctx context.Context, d Discriminator) (*Entry, error) {
	var entry *Entry
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		entry, err = getEntry(txn, d)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// List returns all cache entries, optionally filtered to one integration.
// Operator status views use this; the hot read path goes through Get.
func (s *Store) List(ctx context.Context, integrationID string) ([]*Entry, error) {
	var entries []*Entry
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(cachePrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.ValidForPrefix([]byte(cachePrefix)); it.Next() {
			var entry Entry
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			})
			if err != nil {
				return fmt.Errorf("cachestore: decode entry: %w", err)
			}
			if integrationID != "" && entry.IntegrationID != integrationID {
				continue
			}
			e := entry
			entries = append(entries, &e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Delete removes the entry for a discriminator. Missing entries are not an
// error; deletion is idempotent.
func (s *Store) Delete(ctx context.Context, d Discriminator) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(cacheKey(d))
	})
}

func getEntry(txn *badger.Txn, d Discriminator) (*Entry, error) {
	item, err := txn.Get(cacheKey(d))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("cachestore: read entry: %w", err)
	}
	var entry Entry
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &entry)
	})
	if err != nil {
		return nil, fmt.Errorf("cachestore: decode entry: %w", err)
	}
	return &entry, nil
}
