// Widgetsync - Third-Party Data Synchronization Engine for Signage Widgets
// Copyright 2026 SignageHub
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signagehub/widgetsync

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/signagehub/widgetsync/internal/middleware"
)

// Router assembles the full HTTP surface: health probes, metrics, the
// consumer/operator API under /api/v1, and the webhook ingestion endpoint.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RequestLogger)
	r.Use(middleware.Prometheus)
	r.Use(middleware.SecurityHeaders)

	if len(s.cfg.API.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.cfg.API.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if s.cfg.API.RateLimitReqs > 0 {
			r.Use(httprate.Limit(
				s.cfg.API.RateLimitReqs,
				s.cfg.API.RateLimitWindow,
				httprate.WithKeyFuncs(httprate.KeyByIP),
			))
		}

		r.Route("/widget-instances", func(r chi.Router) {
			r.Post("/", s.handleCreateInstance)
			r.Get("/{id}", s.handleGetInstance)
			r.Delete("/{id}", s.handleDeleteInstance)
			r.Get("/{id}/data", s.handleGetWidgetData)
			r.Post("/{id}/refresh", s.handleRefreshWidget)
		})

		r.Route("/integrations", func(r chi.Router) {
			r.Get("/", s.handleListIntegrations)
			r.Get("/{id}", s.handleGetIntegration)
			r.Put("/{id}", s.handlePutIntegration)
			r.Post("/{id}/activate", s.handleSetIntegrationActive(true))
			r.Post("/{id}/deactivate", s.handleSetIntegrationActive(false))
			r.Get("/{id}/cache", s.handleIntegrationCacheStatus)
			r.Post("/{id}/credentials", s.handlePutCredentials)
			r.Put("/{id}/credentials", s.handlePutCredentials)
			r.Get("/{id}/credentials", s.handleGetCredentials)
			r.Delete("/{id}/credentials", s.handleDeleteCredentials)
		})
	})

	// Webhooks sit outside /api/v1: third parties call them and their rate
	// limiting is per integration, not per client IP.
	r.Post("/webhooks/integrations/{integration_id}/{widget_instance_id}", s.handleWebhook)

	return r
}
