// Widgetsync - Third-Party Data Synchronization Engine for Signage Widgets
// Copyright 2026 SignageHub
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signagehub/widgetsync

package scheduler

import (
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/signagehub/widgetsync/internal/fetch"
	"github.com/signagehub/widgetsync/internal/logging"
	"github.com/signagehub/widgetsync/internal/metrics"
)

// breakerFor lazily creates the per-integration circuit breaker. A third
// party that keeps failing gets cut off instead of eating worker capacity
// and retry budget on every scan.
func (s *Scheduler) breakerFor(integrationID string) *gobreaker.CircuitBreaker[*fetch.Result] {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cb, ok := s.breakers[integrationID]; ok {
		return cb
	}

	cb := gobreaker.NewCircuitBreaker[*fetch.Result](gobreaker.Settings{
		Name:        "fetch-" + integrationID,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 10 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("integration", integrationID).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("fetch circuit breaker state change")
			metrics.BreakerState.WithLabelValues(integrationID).Set(breakerStateValue(to))
		},
	})
	s.breakers[integrationID] = cb
	return cb
}

func breakerStateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateOpen:
		return 2
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 0
	}
}
