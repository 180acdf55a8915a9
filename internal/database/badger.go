// Widgetsync - Third-Party Data Synchronization Engine for Signage Widgets
// Copyright 2026 SignageHub
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signagehub/widgetsync

// Package database opens and manages the shared BadgerDB instance.
//
// All Widgetsync stores (credentials, integration definitions, widget
// instances, cache entries) live in a single Badger database under distinct
// key prefixes. Sharing one database lets the scheduler commit a credential
// rotation and the corresponding cache write in a single transaction.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/signagehub/widgetsync/internal/config"
	"github.com/signagehub/widgetsync/internal/logging"
)

// gcInterval is how often value log garbage collection runs.
const gcInterval = 10 * time.Minute

// gcDiscardRatio is the minimum reclaimable space ratio before a value log
// file is rewritten.
const gcDiscardRatio = 0.5

// Open opens (or creates) the Badger database described by cfg.
func Open(cfg config.DatabaseConfig) (*badger.DB, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts.Logger = nil // Suppress BadgerDB's own logging

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger db: %w", err)
	}

	logging.Info().
		Str("path", cfg.Path).
		Bool("in_memory", cfg.InMemory).
		Msg("database opened")
	return db, nil
}

// RunGC runs periodic value log garbage collection until ctx is canceled.
// Badger requires callers to drive GC; it is a no-op for in-memory databases.
func RunGC(ctx context.Context, db *badger.DB) {
	ticker := time.NewTicker(gcInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// RunValueLogGC returns ErrNoRewrite when nothing was
			// reclaimed; loop while it keeps finding work.
			for {
				if err := db.RunValueLogGC(gcDiscardRatio); err != nil {
					break
				}
			}
		}
	}
}
