// Widgetsync - Third-Party Data Synchronization Engine for Signage Widgets
// Copyright 2026 SignageHub
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signagehub/widgetsync

package cachestore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/signagehub/widgetsync/internal/registry"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db)
}

func TestUpsertVersionsAreMonotonic(t *testing.T) {
	ctx := context.Background()
	store := testStore(t)
	d := Discriminator("org:weather:acme")

	for i := 1; i <= 5; i++ {
		entry, err := store.Upsert(ctx, d, Write{
			IntegrationID: "weather",
			Data:          []byte(`{"items":[]}`),
			PullInterval:  5 * time.Minute,
		})
		if err != nil {
			t.Fatalf("Upsert() #%d error: %v", i, err)
		}
		if entry.Version != int64(i) {
			t.Fatalf("Upsert() #%d version = %d, want %d", i, entry.Version, i)
		}
	}
}

func TestConcurrentUpsertsLoseNoVersions(t *testing.T) {
	ctx := context.Background()
	store := testStore(t)
	d := Discriminator("org:weather:acme")

	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Upsert(ctx, d, Write{
				IntegrationID: "weather",
				Data:          []byte(`{"n":1}`),
				PullInterval:  time.Minute,
			})
			if err != nil {
				t.Errorf("concurrent Upsert() error: %v", err)
			}
		}()
	}
	wg.Wait()

	entry, err := store.Get(ctx, d)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if entry.Version != writers {
		t.Errorf("final version = %d, want %d (no lost or duplicated increments)", entry.Version, writers)
	}
}

func TestErrorWriteCarriesDataForward(t *testing.T) {
	ctx := context.Background()
	store := testStore(t)
	d := Discriminator("org:weather:acme")

	first, err := store.Upsert(ctx, d, Write{
		IntegrationID: "weather",
		Data:          []byte(`{"temp":21}`),
		PullInterval:  5 * time.Minute,
	})
	if err != nil {
		t.Fatalf("Upsert() error: %v", err)
	}

	failed, err := store.Upsert(ctx, d, Write{
		IntegrationID: "weather",
		Err:           "upstream returned 500",
		PullInterval:  5 * time.Minute,
	})
	if err != nil {
		t.Fatalf("Upsert(error) error: %v", err)
	}

	if failed.Status != StatusError {
		t.Errorf("Status = %q, want error", failed.Status)
	}
	if string(failed.Data) != `{"temp":21}` {
		t.Errorf("Data = %s, want previous payload carried forward", failed.Data)
	}
	if !failed.FetchedAt.Equal(first.FetchedAt) {
		t.Error("FetchedAt should keep the last successful fetch time")
	}
	if failed.Version != first.Version+1 {
		t.Errorf("Version = %d, want %d", failed.Version, first.Version+1)
	}
	if failed.ErrorMessage == "" {
		t.Error("ErrorMessage should be set")
	}
}

func TestErrorWriteOnEmptyEntryHasNoData(t *testing.T) {
	ctx := context.Background()
	store := testStore(t)
	d := Discriminator("org:weather:acme")

	entry, err := store.Upsert(ctx, d, Write{
		IntegrationID: "weather",
		Err:           "upstream unreachable",
		PullInterval:  time.Minute,
	})
	if err != nil {
		t.Fatalf("Upsert() error: %v", err)
	}
	if entry.Version != 1 || entry.Status != StatusError || len(entry.Data) != 0 {
		t.Errorf("unexpected first error entry: %+v", entry)
	}
}

func TestStalenessBoundary(t *testing.T) {
	ctx := context.Background()
	store := testStore(t)
	d := Discriminator("org:weather:acme")

	fetchTime := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return fetchTime }

	entry, err := store.Upsert(ctx, d, Write{
		IntegrationID: "weather",
		Data:          []byte(`{}`),
		PullInterval:  300 * time.Second,
	})
	if err != nil {
		t.Fatalf("Upsert() error: %v", err)
	}

	if entry.IsStale(fetchTime.Add(299 * time.Second)) {
		t.Error("entry stale at t+299s, want fresh")
	}
	if !entry.IsStale(fetchTime.Add(300 * time.Second)) {
		t.Error("entry fresh at t+300s, want stale")
	}
	if !entry.IsStale(fetchTime.Add(301 * time.Second)) {
		t.Error("entry fresh at t+301s, want stale")
	}
}

func TestPushEntriesAreNeverStale(t *testing.T) {
	ctx := context.Background()
	store := testStore(t)
	d := Discriminator("org:alerts:acme")

	entry, err := store.Upsert(ctx, d, Write{
		IntegrationID: "alerts",
		Data:          []byte(`{"alerts":[]}`),
	})
	if err != nil {
		t.Fatalf("Upsert() error: %v", err)
	}
	if entry.RefreshAt != nil {
		t.Error("push entry has RefreshAt set")
	}
	if entry.IsStale(time.Now().Add(24 * time.Hour)) {
		t.Error("push entry reported stale")
	}
}

func TestGetMissingEntry(t *testing.T) {
	store := testStore(t)
	if _, err := store.Get(context.Background(), "org:none:none"); !errors.Is(err, ErrEntryNotFound) {
		t.Errorf("Get() error = %v, want ErrEntryNotFound", err)
	}
}

func TestListFiltersByIntegration(t *testing.T) {
	ctx := context.Background()
	store := testStore(t)

	writes := map[Discriminator]string{
		"org:weather:acme":  "weather",
		"org:weather:other": "weather",
		"org:alerts:acme":   "alerts",
	}
	for d, intg := range writes {
		if _, err := store.Upsert(ctx, d, Write{IntegrationID: intg, Data: []byte(`{}`)}); err != nil {
			t.Fatalf("Upsert(%s) error: %v", d, err)
		}
	}

	entries, err := store.List(ctx, "weather")
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("List(weather) returned %d entries, want 2", len(entries))
	}

	all, err := store.List(ctx, "")
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("List(all) returned %d entries, want 3", len(all))
	}
}

func TestDiscriminatorKinds(t *testing.T) {
	def := &registry.Definition{ID: "weather", Discriminator: registry.DiscriminatorOrganization}
	inst := &registry.Instance{ID: "w1", OrganizationID: "acme", Options: map[string]any{"city": "Berlin"}}

	d, err := DiscriminatorFor(def, inst)
	if err != nil {
		t.Fatalf("DiscriminatorFor() error: %v", err)
	}
	if d != "org:weather:acme" {
		t.Errorf("org discriminator = %q", d)
	}

	def.Discriminator = registry.DiscriminatorWidgetInstance
	d, _ = DiscriminatorFor(def, inst)
	if d != "widget:weather:w1" {
		t.Errorf("widget discriminator = %q", d)
	}
}

func TestOptionHashStableAcrossInstances(t *testing.T) {
	def := &registry.Definition{
		ID:            "weather",
		Discriminator: registry.DiscriminatorOptionHash,
		OptionFields:  []string{"city", "units"},
	}
	a := &registry.Instance{ID: "w1", OrganizationID: "acme",
		Options: map[string]any{"city": "Berlin", "units": "metric", "max_items": float64(5)}}
	b := &registry.Instance{ID: "w2", OrganizationID: "other",
		Options: map[string]any{"units": "metric", "city": "Berlin", "max_items": float64(20)}}

	da, err := DiscriminatorFor(def, a)
	if err != nil {
		t.Fatalf("DiscriminatorFor(a) error: %v", err)
	}
	db, err := DiscriminatorFor(def, b)
	if err != nil {
		t.Fatalf("DiscriminatorFor(b) error: %v", err)
	}
	if da != db {
		t.Errorf("equal option fields should share one discriminator: %q != %q", da, db)
	}

	c := &registry.Instance{ID: "w3", Options: map[string]any{"city": "Paris", "units": "metric"}}
	dc, _ := DiscriminatorFor(def, c)
	if dc == da {
		t.Error("different option values should not collide")
	}
}
