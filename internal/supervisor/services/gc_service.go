// Widgetsync - Third-Party Data Synchronization Engine for Signage Widgets
// Copyright 2026 SignageHub
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signagehub/widgetsync

package services

import (
	"context"

	"github.com/dgraph-io/badger/v4"

	"github.com/signagehub/widgetsync/internal/database"
)

// GCService drives Badger value log garbage collection as a supervised
// service.
type GCService struct {
	db *badger.DB
}

// NewGCService wraps the database GC loop as a supervised service.
func NewGCService(db *badger.DB) *GCService {
	return &GCService{db: db}
}

// Serve implements suture.Service.
func (g *GCService) Serve(ctx context.Context) error {
	database.RunGC(ctx, g.db)
	return ctx.Err()
}

func (g *GCService) String() string {
	return "badger-gc"
}
