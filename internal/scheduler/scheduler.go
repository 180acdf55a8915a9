// Widgetsync - Third-Party Data Synchronization Engine for Signage Widgets
// Copyright 2026 SignageHub
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signagehub/widgetsync

// Package scheduler drives background refreshes of pull integrations.
//
// A periodic scan walks the widget instance bindings, derives each
// instance's cache discriminator and queues a refresh for every stale or
// missing entry. Manual refreshes from the API enter through the same
// queue. Dedupe and debounce collapse bursts: a discriminator that is
// already queued, running, or was refreshed moments ago is not fetched
// again.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"github.com/signagehub/widgetsync/internal/cachestore"
	"github.com/signagehub/widgetsync/internal/fetch"
	"github.com/signagehub/widgetsync/internal/logging"
	"github.com/signagehub/widgetsync/internal/metrics"
	"github.com/signagehub/widgetsync/internal/registry"
	"github.com/signagehub/widgetsync/internal/vault"
)

// Config holds scheduler tuning.
type Config struct {
	Workers       int
	QueueSize     int
	ScanInterval  time.Duration
	MaxRetries    int
	RetryBackoff  time.Duration
	DebounceFloor time.Duration
	FetchTimeout  time.Duration
}

// Job is one queued refresh for a single cache discriminator.
type Job struct {
	Discriminator    cachestore.Discriminator
	IntegrationID    string
	OrganizationID   string
	WidgetInstanceID string
	Options          map[string]any
}

// Scheduler owns the refresh worker pool. It is an explicit lifecycle
// object created in main and run under the supervisor; nothing about it is
// global.
type Scheduler struct {
	cfg      Config
	db       *badger.DB
	registry *registry.Store
	creds    *vault.Store
	cache    *cachestore.Store
	fetchers *fetch.Registry

	queue chan Job

	mu       sync.Mutex
	pending  map[cachestore.Discriminator]bool
	lastRun  map[cachestore.Discriminator]time.Time
	breakers map[string]*gobreaker.CircuitBreaker[*fetch.Result]

	log zerolog.Logger
	now func() time.Time
}

// New creates a Scheduler. The Badger handle must be the same one backing
// the credential and cache stores; rotation and data writes share its
// transactions.
func New(cfg Config, db *badger.DB, reg *registry.Store, creds *vault.Store, cache *cachestore.Store, fetchers *fetch.Registry) *Scheduler {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	return &Scheduler{
		cfg:      cfg,
		db:       db,
		registry: reg,
		creds:    creds,
		cache:    cache,
		fetchers: fetchers,
		queue:    make(chan Job, cfg.QueueSize),
		pending:  make(map[cachestore.Discriminator]bool),
		lastRun:  make(map[cachestore.Discriminator]time.Time),
		breakers: make(map[string]*gobreaker.CircuitBreaker[*fetch.Result]),
		log:      logging.WithComponent("scheduler"),
		now:      time.Now,
	}
}

// Enqueue queues a refresh job. It returns false when the job was
// suppressed: the discriminator is already queued or running, it finished a
// run inside the debounce window, or the queue is full.
func (s *Scheduler) Enqueue(job Job) bool {
	s.mu.Lock()
	if s.pending[job.Discriminator] {
		s.mu.Unlock()
		metrics.SchedulerDroppedTotal.WithLabelValues("dedupe").Inc()
		return false
	}
	if last, ok := s.lastRun[job.Discriminator]; ok && s.now().Sub(last) < s.cfg.DebounceFloor {
		s.mu.Unlock()
		metrics.SchedulerDroppedTotal.WithLabelValues("debounce").Inc()
		return false
	}
	s.pending[job.Discriminator] = true
	s.mu.Unlock()

	select {
	case s.queue <- job:
		metrics.SchedulerQueueDepth.Set(float64(len(s.queue)))
		return true
	default:
		s.mu.Lock()
		delete(s.pending, job.Discriminator)
		s.mu.Unlock()
		metrics.SchedulerDroppedTotal.WithLabelValues("queue_full").Inc()
		s.log.Warn().Str("integration", job.IntegrationID).Msg("refresh queue full, job dropped")
		return false
	}
}

// EnqueueInstance resolves a widget instance to a job and queues it. The
// API uses this for manual refreshes and for bootstrapping entries that a
// consumer requested before their first fetch.
func (s *Scheduler) EnqueueInstance(ctx context.Context, inst *registry.Instance) error {
	def, err := s.registry.GetDefinition(ctx, inst.IntegrationID)
	if err != nil {
		return err
	}
	if def.Mode != registry.ModePull {
		return fmt.Errorf("scheduler: integration %s is push mode", def.ID)
	}
	d, err := cachestore.DiscriminatorFor(def, inst)
	if err != nil {
		return err
	}
	s.Enqueue(Job{
		Discriminator:    d,
		IntegrationID:    def.ID,
		OrganizationID:   inst.OrganizationID,
		WidgetInstanceID: inst.ID,
		Options:          inst.Options,
	})
	return nil
}

// QueueDepth reports how many jobs are waiting for a worker.
func (s *Scheduler) QueueDepth() int {
	return len(s.queue)
}

// Serve implements suture.Service. It starts the worker pool and the
// staleness scan loop, then blocks until ctx is canceled.
func (s *Scheduler) Serve(ctx context.Context) error {
	s.log.Info().
		Int("workers", s.cfg.Workers).
		Dur("scan_interval", s.cfg.ScanInterval).
		Msg("scheduler starting")

	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.worker(ctx)
		}()
	}

	ticker := time.NewTicker(s.cfg.ScanInterval)
	defer ticker.Stop()

	s.scan(ctx)
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			s.log.Info().Msg("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.scan(ctx)
		}
	}
}

// String implements fmt.Stringer for supervisor logs.
func (s *Scheduler) String() string { return "scheduler" }

// scan queues a refresh for every pull instance whose cache entry is stale
// or missing.
func (s *Scheduler) scan(ctx context.Context) {
	defer metrics.SchedulerScansTotal.Inc()

	insts, err := s.registry.ListInstances(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("staleness scan failed to list instances")
		return
	}

	defs := make(map[string]*registry.Definition)
	now := s.now()
	for _, inst := range insts {
		def, ok := defs[inst.IntegrationID]
		if !ok {
			def, err = s.registry.GetDefinition(ctx, inst.IntegrationID)
			if err != nil {
				s.log.Warn().Err(err).Str("integration", inst.IntegrationID).Msg("instance references missing definition")
				continue
			}
			defs[inst.IntegrationID] = def
		}
		if !def.Active || def.Mode != registry.ModePull {
			continue
		}

		d, err := cachestore.DiscriminatorFor(def, inst)
		if err != nil {
			s.log.Warn().Err(err).Str("instance", inst.ID).Msg("cannot derive discriminator")
			continue
		}

		entry, err := s.cache.Get(ctx, d)
		switch {
		case errors.Is(err, cachestore.ErrEntryNotFound):
			// First fetch for a new binding.
		case err != nil:
			s.log.Error().Err(err).Str("discriminator", string(d)).Msg("staleness check failed")
			continue
		case !entry.IsStale(now):
			continue
		}

		s.Enqueue(Job{
			Discriminator:    d,
			IntegrationID:    def.ID,
			OrganizationID:   inst.OrganizationID,
			WidgetInstanceID: inst.ID,
			Options:          inst.Options,
		})
	}
}

func (s *Scheduler) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-s.queue:
			metrics.SchedulerQueueDepth.Set(float64(len(s.queue)))
			s.run(ctx, job)
		}
	}
}

// run executes one refresh job end to end.
func (s *Scheduler) run(ctx context.Context, job Job) {
	ctx = logging.ContextWithJobID(ctx, logging.GenerateJobID())
	log := logging.Ctx(ctx).With().
		Str("component", "scheduler").
		Str("integration", job.IntegrationID).
		Str("discriminator", string(job.Discriminator)).
		Logger()

	defer func() {
		s.mu.Lock()
		s.lastRun[job.Discriminator] = s.now()
		delete(s.pending, job.Discriminator)
		s.mu.Unlock()
	}()

	// Pre-flight recheck: the definition may have been deactivated or
	// deleted while the job sat in the queue.
	def, err := s.registry.GetDefinition(ctx, job.IntegrationID)
	if err != nil || !def.Active || def.Mode != registry.ModePull {
		log.Debug().Msg("job skipped, integration inactive or gone")
		return
	}

	cred, creds, ok := s.resolveCredentials(ctx, def, job, log)
	if !ok {
		return
	}

	options := registry.ApplyDefaults(def.ConfigSchema, job.Options)
	if def.Transform != "" {
		options["transform"] = def.Transform
	}
	req := fetch.Request{
		Endpoint:    def.PullEndpoint,
		Options:     options,
		Credentials: creds,
	}

	fetcher, err := s.fetchers.Lookup(def.Fetcher)
	if err != nil {
		log.Error().Err(err).Msg("definition names unregistered fetcher")
		return
	}

	start := s.now()
	res, err := s.fetchWithRetry(ctx, def, fetcher, req, log)
	if err != nil {
		metrics.RecordFetch(def.ID, "error", s.now().Sub(start))
		s.recordFailure(ctx, def, job, cred, res, err, log)
		return
	}
	metrics.RecordFetch(def.ID, "success", s.now().Sub(start))

	if err := s.persist(ctx, def, job, cred, res); err != nil {
		log.Error().Err(err).Msg("persisting fetch result failed")
		return
	}
	log.Info().Msg("refresh complete")
}

// resolveCredentials loads and decrypts the job's credential. For
// integrations that need credentials, a missing or invalid credential
// aborts the job before any third-party call.
func (s *Scheduler) resolveCredentials(ctx context.Context, def *registry.Definition, job Job, log zerolog.Logger) (*vault.Credential, fetch.Credentials, bool) {
	if !def.RequiresCredentials {
		return nil, nil, true
	}

	scopeRef := "org:" + job.OrganizationID
	if def.CredentialScope == vault.ScopeWidgetInstance {
		scopeRef = "widget:" + job.WidgetInstanceID
	}

	cred, err := s.creds.Get(ctx, def.ID, scopeRef)
	if err != nil {
		log.Warn().Err(err).Msg("no credential for refresh, job aborted")
		return nil, nil, false
	}
	if !cred.IsValid {
		log.Warn().Msg("credential marked invalid, job aborted")
		return nil, nil, false
	}

	payload, err := s.creds.Decrypt(cred)
	if err != nil {
		log.Error().Err(err).Msg("credential decryption failed, job aborted")
		return nil, nil, false
	}
	return cred, fetch.Credentials(payload), true
}

// fetchWithRetry runs the fetch through the integration's circuit breaker
// with bounded exponential backoff. Non-retryable errors and an open
// breaker stop immediately. The last Result is returned alongside the error
// because a token rotation can succeed even when the data call fails.
func (s *Scheduler) fetchWithRetry(ctx context.Context, def *registry.Definition, fetcher fetch.Fetcher, req fetch.Request, log zerolog.Logger) (*fetch.Result, error) {
	cb := s.breakerFor(def.ID)

	var lastRes *fetch.Result
	var lastErr error
	attempts := s.cfg.MaxRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			metrics.FetchRetriesTotal.WithLabelValues(def.ID).Inc()
			delay := s.cfg.RetryBackoff << (attempt - 1)
			if hint, ok := fetch.RetryAfterHint(lastErr); ok && hint > delay {
				delay = hint
			}
			select {
			case <-ctx.Done():
				return lastRes, ctx.Err()
			case <-time.After(delay):
			}
		}

		fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
		res, err := cb.Execute(func() (*fetch.Result, error) {
			return fetcher.Fetch(fetchCtx, req)
		})
		cancel()

		if res != nil {
			lastRes = res
		}
		if err == nil {
			return res, nil
		}
		lastErr = err

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			log.Warn().Msg("fetch suppressed by open circuit breaker")
			return lastRes, err
		}
		if !fetch.Retryable(err) {
			return lastRes, err
		}
		log.Warn().Err(err).Int("attempt", attempt+1).Msg("fetch attempt failed")
	}
	return lastRes, lastErr
}

// persist commits the fetch result. When the fetch rotated credentials, the
// rotation and the cache write land in one transaction: no observer can see
// new data with the old token or vice versa.
func (s *Scheduler) persist(ctx context.Context, def *registry.Definition, job Job, cred *vault.Credential, res *fetch.Result) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.db.Update(func(txn *badger.Txn) error {
			if res.UpdatedCredentials != nil && cred != nil {
				if err := s.creds.RotateTx(txn, cred, map[string]string(res.UpdatedCredentials)); err != nil {
					return err
				}
			}
			_, err := s.cache.UpsertTx(txn, job.Discriminator, cachestore.Write{
				IntegrationID: def.ID,
				Data:          res.Data,
				PullInterval:  def.PullInterval,
			})
			return err
		})
		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		if err != nil {
			return err
		}
		if res.UpdatedCredentials != nil && cred != nil {
			metrics.CredentialRotationsTotal.WithLabelValues(def.ID).Inc()
		}
		metrics.RecordCacheWrite(def.ID, string(cachestore.StatusSuccess))
		return nil
	}
}

// recordFailure writes the failure record after retries are exhausted. The
// previous payload is carried forward by the cache store; consumers keep
// rendering stale data with an error status attached.
func (s *Scheduler) recordFailure(ctx context.Context, def *registry.Definition, job Job, cred *vault.Credential, res *fetch.Result, fetchErr error, log zerolog.Logger) {
	// A rotation that succeeded before the failure already invalidated the
	// old token upstream; persist it regardless.
	if res != nil && res.UpdatedCredentials != nil && cred != nil {
		err := s.db.Update(func(txn *badger.Txn) error {
			return s.creds.RotateTx(txn, cred, map[string]string(res.UpdatedCredentials))
		})
		if err != nil {
			log.Error().Err(err).Msg("persisting credential rotation after failed fetch")
		} else {
			metrics.CredentialRotationsTotal.WithLabelValues(def.ID).Inc()
		}
	}

	var credErr *fetch.CredentialError
	if errors.As(fetchErr, &credErr) && cred != nil {
		if scopeRef, err := cred.ScopeRef(); err == nil {
			if err := s.creds.MarkInvalid(ctx, def.ID, scopeRef); err != nil {
				log.Error().Err(err).Msg("marking credential invalid")
			}
		}
	}

	if _, err := s.cache.Upsert(ctx, job.Discriminator, cachestore.Write{
		IntegrationID: def.ID,
		Err:           fetchErr.Error(),
		PullInterval:  def.PullInterval,
	}); err != nil {
		log.Error().Err(err).Msg("recording fetch failure")
		return
	}
	metrics.RecordCacheWrite(def.ID, string(cachestore.StatusError))
	log.Warn().Err(fetchErr).Msg("refresh failed, previous data carried forward")
}
