// Widgetsync - Third-Party Data Synchronization Engine for Signage Widgets
// Copyright 2026 SignageHub
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signagehub/widgetsync

package api

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/signagehub/widgetsync/internal/cachestore"
	"github.com/signagehub/widgetsync/internal/config"
	"github.com/signagehub/widgetsync/internal/fetch"
	"github.com/signagehub/widgetsync/internal/registry"
	"github.com/signagehub/widgetsync/internal/scheduler"
	"github.com/signagehub/widgetsync/internal/vault"
)

// Server bundles the handler dependencies. It produces the router; the
// http.Server lifecycle lives with the supervisor.
type Server struct {
	cfg         config.Config
	registry    *registry.Store
	creds       *vault.Store
	cache       *cachestore.Store
	sched       *scheduler.Scheduler
	transformer *fetch.Transformer

	// limiters throttles webhook deliveries per integration.
	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter
}

// NewServer creates the API server.
func NewServer(cfg config.Config, reg *registry.Store, creds *vault.Store, cache *cachestore.Store, sched *scheduler.Scheduler, transformer *fetch.Transformer) *Server {
	return &Server{
		cfg:         cfg,
		registry:    reg,
		creds:       creds,
		cache:       cache,
		sched:       sched,
		transformer: transformer,
		limiters:    make(map[string]*rate.Limiter),
	}
}

// webhookLimiter returns the delivery rate limiter for an integration,
// creating it on first use. The bucket refills at the configured per-minute
// rate with a burst of the same size.
func (s *Server) webhookLimiter(integrationID string) *rate.Limiter {
	s.limiterMu.Lock()
	defer s.limiterMu.Unlock()

	if l, ok := s.limiters[integrationID]; ok {
		return l
	}
	perMinute := s.cfg.Webhook.RatePerMinute
	if perMinute <= 0 {
		perMinute = 60
	}
	l := rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute)
	s.limiters[integrationID] = l
	return l
}
