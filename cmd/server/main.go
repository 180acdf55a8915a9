// Widgetsync - Third-Party Data Synchronization Engine for Signage Widgets
// Copyright 2026 SignageHub
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signagehub/widgetsync

// Command server runs the synchronization engine: the HTTP API, the inbound
// webhook endpoint and the background refresh scheduler, supervised as one
// process.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/signagehub/widgetsync/internal/api"
	"github.com/signagehub/widgetsync/internal/cachestore"
	"github.com/signagehub/widgetsync/internal/config"
	"github.com/signagehub/widgetsync/internal/database"
	"github.com/signagehub/widgetsync/internal/fetch"
	"github.com/signagehub/widgetsync/internal/logging"
	"github.com/signagehub/widgetsync/internal/registry"
	"github.com/signagehub/widgetsync/internal/scheduler"
	"github.com/signagehub/widgetsync/internal/supervisor"
	"github.com/signagehub/widgetsync/internal/supervisor/services"
	"github.com/signagehub/widgetsync/internal/vault"
)

func main() {
	if err := run(); err != nil {
		logging.Error().Err(err).Msg("server exited with error")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
	})
	logging.Info().
		Str("addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)).
		Int("workers", cfg.Scheduler.Workers).
		Msg("starting widgetsync")

	db, err := database.Open(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	v, err := vault.New(cfg.MasterKeyBytes())
	if err != nil {
		return fmt.Errorf("init vault: %w", err)
	}

	reg := registry.NewStore(db)
	creds := vault.NewStore(db, v)
	cache := cachestore.NewStore(db)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := registry.Seed(ctx, reg, cfg.Registry.DefinitionsPath); err != nil {
		return fmt.Errorf("seed definitions: %w", err)
	}

	transformer := fetch.NewTransformer(0)
	fetchers := buildFetchers(cfg, transformer)

	// An unknown fetcher name or a broken transform fails startup, not the
	// first scheduled run.
	defs, err := reg.ListDefinitions(ctx)
	if err != nil {
		return fmt.Errorf("list definitions: %w", err)
	}
	if err := fetchers.ValidateDefinitions(defs); err != nil {
		return err
	}
	for _, def := range defs {
		if err := transformer.Validate(def.Transform); err != nil {
			return fmt.Errorf("definition %s: %w", def.ID, err)
		}
	}

	sched := scheduler.New(scheduler.Config{
		Workers:       cfg.Scheduler.Workers,
		QueueSize:     cfg.Scheduler.QueueSize,
		ScanInterval:  cfg.Scheduler.ScanInterval,
		MaxRetries:    cfg.Scheduler.MaxRetries,
		RetryBackoff:  cfg.Scheduler.RetryBackoff,
		DebounceFloor: cfg.Scheduler.DebounceFloor,
		FetchTimeout:  cfg.Fetch.Timeout,
	}, db, reg, creds, cache, fetchers)

	srv := api.NewServer(*cfg, reg, creds, cache, sched, transformer)
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      srv.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	treeCfg := supervisor.DefaultTreeConfig()
	treeCfg.ShutdownTimeout = cfg.Server.ShutdownTimeout
	tree := supervisor.NewTree(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	})), treeCfg)

	tree.AddSyncService(sched)
	tree.AddSyncService(services.NewGCService(db))
	tree.AddAPIService(services.NewHTTPServerService(httpServer, cfg.Server.ShutdownTimeout))

	err = tree.Serve(ctx)
	if errors.Is(err, context.Canceled) {
		logging.Info().Msg("shutdown complete")
		return nil
	}
	return err
}

// buildFetchers registers the built-in fetcher implementations. The oauth
// fetcher decorates the JSON API fetcher with proactive token refresh.
func buildFetchers(cfg *config.Config, transformer *fetch.Transformer) *fetch.Registry {
	client := &http.Client{Timeout: cfg.Fetch.Timeout}

	jsonAPI := fetch.NewJSONAPIFetcher(client, transformer, cfg.Fetch.MaxBodyBytes)

	fetchers := fetch.NewRegistry()
	fetchers.Register(fetch.FetcherJSONAPI, jsonAPI)
	fetchers.Register(fetch.FetcherRSS, fetch.NewRSSFetcher(client, cfg.Fetch.MaxBodyBytes, cfg.Fetch.MaxItems))
	fetchers.Register(fetch.FetcherOAuthAPI, fetch.NewOAuthFetcher(jsonAPI, cfg.Fetch.OAuthRefreshMargin))
	return fetchers
}
