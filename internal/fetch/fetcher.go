// Widgetsync - Third-Party Data Synchronization Engine for Signage Widgets
// Copyright 2026 SignageHub
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signagehub/widgetsync

// Package fetch defines the fetcher contract and the built-in fetchers that
// pull widget data from third parties.
//
// Fetchers are registered by name at startup; an integration definition
// naming an unknown fetcher fails boot validation instead of failing its
// first scheduled run.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	json "github.com/goccy/go-json"

	"github.com/signagehub/widgetsync/internal/registry"
)

// Credentials is a decrypted credential payload. It lives only for the
// duration of one fetch.
type Credentials map[string]string

// Clone returns a copy so a fetcher can rotate tokens without mutating the
// caller's map.
func (c Credentials) Clone() Credentials {
	out := make(Credentials, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Request carries everything a fetcher needs for one pull.
type Request struct {
	// Endpoint is the integration's pull endpoint.
	Endpoint string

	// Options merges the integration's config defaults with the widget
	// instance options feeding this fetch.
	Options map[string]any

	// Credentials is the decrypted payload, nil for public sources.
	Credentials Credentials
}

// Result is a successful fetch.
type Result struct {
	// Data is the normalized widget payload, ready to cache.
	Data json.RawMessage

	// UpdatedCredentials is non-nil when the fetch rotated tokens. The
	// caller must persist it atomically with the data write. It may also
	// accompany an error: a token refresh can succeed even when the data
	// call afterwards fails.
	UpdatedCredentials Credentials
}

// Fetcher pulls data from one kind of third-party source.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (*Result, error)
}

// ErrUnknownFetcher indicates a definition references a fetcher name that
// was never registered.
var ErrUnknownFetcher = errors.New("fetch: unknown fetcher")

// Registry maps fetcher names to implementations. Registration happens
// during startup wiring; lookups afterwards are read-only.
type Registry struct {
	mu       sync.RWMutex
	fetchers map[string]Fetcher
}

// NewRegistry creates an empty fetcher registry.
func NewRegistry() *Registry {
	return &Registry{fetchers: make(map[string]Fetcher)}
}

// Register adds a fetcher under a name. Registering the same name twice is
// a wiring bug and panics immediately.
func (r *Registry) Register(name string, f Fetcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.fetchers[name]; exists {
		panic(fmt.Sprintf("fetch: fetcher %q registered twice", name))
	}
	r.fetchers[name] = f
}

// Lookup returns the fetcher registered under name.
func (r *Registry) Lookup(name string) (Fetcher, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.fetchers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFetcher, name)
	}
	return f, nil
}

// Names returns the registered fetcher names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.fetchers))
	for name := range r.fetchers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateDefinitions checks at startup that every pull definition names a
// registered fetcher.
func (r *Registry) ValidateDefinitions(defs []*registry.Definition) error {
	for _, def := range defs {
		if def.Mode != registry.ModePull {
			continue
		}
		if _, err := r.Lookup(def.Fetcher); err != nil {
			return fmt.Errorf("fetch: definition %s: %w", def.ID, err)
		}
	}
	return nil
}
