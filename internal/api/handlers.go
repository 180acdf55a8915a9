// Widgetsync - Third-Party Data Synchronization Engine for Signage Widgets
// Copyright 2026 SignageHub
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signagehub/widgetsync

package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"

	"github.com/signagehub/widgetsync/internal/cachestore"
	"github.com/signagehub/widgetsync/internal/logging"
	"github.com/signagehub/widgetsync/internal/registry"
	"github.com/signagehub/widgetsync/internal/validation"
	"github.com/signagehub/widgetsync/internal/vault"
)

// widgetDataResponse is the consumer-facing data payload.
type widgetDataResponse struct {
	Data         json.RawMessage `json:"data"`
	Version      int64           `json:"version"`
	Status       string          `json:"status"`
	ErrorMessage string          `json:"error_message,omitempty"`
	FetchedAt    time.Time       `json:"fetched_at"`
	RefreshAt    *time.Time      `json:"refresh_at,omitempty"`
}

// handleGetWidgetData serves cached data for one widget instance.
//
// The version query parameter enables cheap polling: when it matches the
// current entry version the handler answers 304 with no body. A stale
// entry is still served immediately; the refresh is queued asynchronously
// and never blocks the read.
func (s *Server) handleGetWidgetData(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	inst, err := s.registry.GetInstance(ctx, chi.URLParam(r, "id"))
	if errors.Is(err, registry.ErrInstanceNotFound) {
		respondNotFound(w, r, "widget instance not found")
		return
	}
	if err != nil {
		respondInternal(w, r, err)
		return
	}

	def, err := s.registry.GetDefinition(ctx, inst.IntegrationID)
	if err != nil {
		respondInternal(w, r, err)
		return
	}
	d, err := cachestore.DiscriminatorFor(def, inst)
	if err != nil {
		respondInternal(w, r, err)
		return
	}

	entry, err := s.cache.Get(ctx, d)
	if errors.Is(err, cachestore.ErrEntryNotFound) {
		// Queue the first fetch so a retry shortly after succeeds.
		if def.Active && def.Mode == registry.ModePull {
			if err := s.sched.EnqueueInstance(ctx, inst); err != nil {
				logging.Ctx(ctx).Warn().Err(err).Msg("bootstrap enqueue failed")
			}
		}
		respondNotFound(w, r, "no data cached yet")
		return
	}
	if err != nil {
		respondInternal(w, r, err)
		return
	}

	// A stale read queues a refresh even when the answer ends up 304; a
	// consumer polling with the current version must still trigger one.
	if entry.IsStale(time.Now()) {
		if err := s.sched.EnqueueInstance(ctx, inst); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Msg("stale enqueue failed")
		}
	}

	if raw := r.URL.Query().Get("version"); raw != "" {
		version, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			respondBadRequest(w, r, "version must be an integer", nil)
			return
		}
		if version == entry.Version {
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}

	respondData(w, http.StatusOK, &widgetDataResponse{
		Data:         truncateItems(entry.Data, maxItemsOption(inst.Options)),
		Version:      entry.Version,
		Status:       string(entry.Status),
		ErrorMessage: entry.ErrorMessage,
		FetchedAt:    entry.FetchedAt,
		RefreshAt:    entry.RefreshAt,
	})
}

// handleRefreshWidget queues a manual refresh. The response is 202 whether
// or not the scheduler actually queued it; dedupe and debounce are internal.
func (s *Server) handleRefreshWidget(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	inst, err := s.registry.GetInstance(ctx, chi.URLParam(r, "id"))
	if errors.Is(err, registry.ErrInstanceNotFound) {
		respondNotFound(w, r, "widget instance not found")
		return
	}
	if err != nil {
		respondInternal(w, r, err)
		return
	}

	if err := s.sched.EnqueueInstance(ctx, inst); err != nil {
		respondBadRequest(w, r, err.Error(), nil)
		return
	}
	respondData(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

// credentialRequest is the submit/replace credential body.
type credentialRequest struct {
	OrganizationID   string            `json:"organization_id,omitempty"`
	WidgetInstanceID string            `json:"widget_instance_id,omitempty"`
	Credentials      map[string]string `json:"credentials" validate:"required,min=1"`
	Metadata         map[string]any    `json:"metadata,omitempty"`
}

// handlePutCredentials stores or replaces a credential for an integration.
// The plaintext is validated against the integration's credential schema,
// encrypted, and never echoed back; the response carries metadata only.
func (s *Server) handlePutCredentials(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	def, err := s.registry.GetDefinition(ctx, chi.URLParam(r, "id"))
	if errors.Is(err, registry.ErrDefinitionNotFound) {
		respondNotFound(w, r, "integration not found")
		return
	}
	if err != nil {
		respondInternal(w, r, err)
		return
	}

	var req credentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondBadRequest(w, r, "invalid JSON body", nil)
		return
	}
	if verr := validation.Struct(&req); verr != nil {
		respondBadRequest(w, r, verr.Error(), verr.Fields)
		return
	}

	values := make(map[string]any, len(req.Credentials))
	for k, v := range req.Credentials {
		values[k] = v
	}
	if err := registry.ValidateValues(def.CredentialSchema, values); err != nil {
		var sve *registry.SchemaValidationError
		if errors.As(err, &sve) {
			respondError(w, r, http.StatusBadRequest, CodeSchemaValidation, "credential schema validation failed", sve.Errors)
			return
		}
		respondBadRequest(w, r, err.Error(), nil)
		return
	}

	cred := &vault.Credential{
		IntegrationID:    def.ID,
		Scope:            def.CredentialScope,
		OrganizationID:   req.OrganizationID,
		WidgetInstanceID: req.WidgetInstanceID,
		Metadata:         req.Metadata,
	}
	stored, err := s.creds.Put(ctx, cred, req.Credentials)
	if errors.Is(err, vault.ErrScopeConflict) {
		respondBadRequest(w, r, "exactly one of organization_id or widget_instance_id must be set", nil)
		return
	}
	if err != nil {
		respondInternal(w, r, err)
		return
	}
	respondData(w, http.StatusOK, stored.PublicView())
}

// handleGetCredentials serves credential metadata. Plaintext and ciphertext
// never leave the vault.
func (s *Server) handleGetCredentials(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	scopeRef, ok := scopeRefFromQuery(r)
	if !ok {
		respondBadRequest(w, r, "exactly one of organization_id or widget_instance_id query parameters is required", nil)
		return
	}

	cred, err := s.creds.Get(ctx, chi.URLParam(r, "id"), scopeRef)
	if errors.Is(err, vault.ErrCredentialNotFound) {
		respondNotFound(w, r, "credential not found")
		return
	}
	if err != nil {
		respondInternal(w, r, err)
		return
	}
	respondData(w, http.StatusOK, cred.PublicView())
}

// handleDeleteCredentials removes a stored credential.
func (s *Server) handleDeleteCredentials(w http.ResponseWriter, r *http.Request) {
	scopeRef, ok := scopeRefFromQuery(r)
	if !ok {
		respondBadRequest(w, r, "exactly one of organization_id or widget_instance_id query parameters is required", nil)
		return
	}
	if err := s.creds.Delete(r.Context(), chi.URLParam(r, "id"), scopeRef); err != nil {
		respondInternal(w, r, err)
		return
	}
	respondData(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func scopeRefFromQuery(r *http.Request) (string, bool) {
	org := r.URL.Query().Get("organization_id")
	widget := r.URL.Query().Get("widget_instance_id")
	switch {
	case org != "" && widget == "":
		return "org:" + org, true
	case widget != "" && org == "":
		return "widget:" + widget, true
	default:
		return "", false
	}
}

// handleListIntegrations lists integration definitions, optionally filtered
// to those serving one widget type.
func (s *Server) handleListIntegrations(w http.ResponseWriter, r *http.Request) {
	var (
		defs []*registry.Definition
		err  error
	)
	if widgetType := r.URL.Query().Get("widget_type"); widgetType != "" {
		defs, err = s.registry.LookupByWidgetType(r.Context(), widgetType)
	} else {
		defs, err = s.registry.ListDefinitions(r.Context())
	}
	if err != nil {
		respondInternal(w, r, err)
		return
	}
	respondData(w, http.StatusOK, defs)
}

// handleGetIntegration serves one definition.
func (s *Server) handleGetIntegration(w http.ResponseWriter, r *http.Request) {
	def, err := s.registry.GetDefinition(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, registry.ErrDefinitionNotFound) {
		respondNotFound(w, r, "integration not found")
		return
	}
	if err != nil {
		respondInternal(w, r, err)
		return
	}
	respondData(w, http.StatusOK, def)
}

// handlePutIntegration registers a definition. Definitions are immutable
// once created except for the active flag; changing one means registering
// a new integration ID. The transform program is compiled here so a broken
// one fails the write, not the first scheduled fetch.
func (s *Server) handlePutIntegration(w http.ResponseWriter, r *http.Request) {
	var def registry.Definition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		respondBadRequest(w, r, "invalid JSON body", nil)
		return
	}
	def.ID = chi.URLParam(r, "id")

	if _, err := s.registry.GetDefinition(r.Context(), def.ID); err == nil {
		respondError(w, r, http.StatusConflict, CodeConflict,
			"integration definitions are immutable except for the active flag", nil)
		return
	} else if !errors.Is(err, registry.ErrDefinitionNotFound) {
		respondInternal(w, r, err)
		return
	}

	if err := s.transformer.Validate(def.Transform); err != nil {
		respondBadRequest(w, r, err.Error(), nil)
		return
	}

	stored, err := s.registry.PutDefinition(r.Context(), &def)
	if err != nil {
		var sve *registry.SchemaValidationError
		if errors.As(err, &sve) {
			respondError(w, r, http.StatusBadRequest, CodeSchemaValidation, "schema validation failed", sve.Errors)
			return
		}
		respondBadRequest(w, r, err.Error(), nil)
		return
	}
	respondData(w, http.StatusOK, stored)
}

// handleSetIntegrationActive flips the active flag.
func (s *Server) handleSetIntegrationActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		def, err := s.registry.SetActive(r.Context(), chi.URLParam(r, "id"), active)
		if errors.Is(err, registry.ErrDefinitionNotFound) {
			respondNotFound(w, r, "integration not found")
			return
		}
		if err != nil {
			respondInternal(w, r, err)
			return
		}
		respondData(w, http.StatusOK, def)
	}
}

// cacheStatusEntry is the operator view of one cache entry: everything
// except the payload itself.
type cacheStatusEntry struct {
	Discriminator string     `json:"discriminator"`
	Version       int64      `json:"version"`
	Status        string     `json:"status"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	FetchedAt     time.Time  `json:"fetched_at"`
	RefreshAt     *time.Time `json:"refresh_at,omitempty"`
	Stale         bool       `json:"stale"`
}

// handleIntegrationCacheStatus lists cache entry states for an integration.
func (s *Server) handleIntegrationCacheStatus(w http.ResponseWriter, r *http.Request) {
	entries, err := s.cache.List(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondInternal(w, r, err)
		return
	}
	now := time.Now()
	out := make([]cacheStatusEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, cacheStatusEntry{
			Discriminator: string(e.Discriminator),
			Version:       e.Version,
			Status:        string(e.Status),
			ErrorMessage:  e.ErrorMessage,
			FetchedAt:     e.FetchedAt,
			RefreshAt:     e.RefreshAt,
			Stale:         e.IsStale(now),
		})
	}
	respondData(w, http.StatusOK, out)
}

// handleCreateInstance binds a widget instance to an integration.
func (s *Server) handleCreateInstance(w http.ResponseWriter, r *http.Request) {
	var inst registry.Instance
	if err := json.NewDecoder(r.Body).Decode(&inst); err != nil {
		respondBadRequest(w, r, "invalid JSON body", nil)
		return
	}

	stored, err := s.registry.PutInstance(r.Context(), &inst)
	if err != nil {
		var sve *registry.SchemaValidationError
		switch {
		case errors.As(err, &sve):
			respondError(w, r, http.StatusBadRequest, CodeSchemaValidation, "widget options validation failed", sve.Errors)
		case errors.Is(err, registry.ErrDefinitionNotFound):
			respondNotFound(w, r, "integration not found")
		default:
			respondBadRequest(w, r, err.Error(), nil)
		}
		return
	}
	respondData(w, http.StatusCreated, stored)
}

// handleGetInstance serves one widget instance binding.
func (s *Server) handleGetInstance(w http.ResponseWriter, r *http.Request) {
	inst, err := s.registry.GetInstance(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, registry.ErrInstanceNotFound) {
		respondNotFound(w, r, "widget instance not found")
		return
	}
	if err != nil {
		respondInternal(w, r, err)
		return
	}
	respondData(w, http.StatusOK, inst)
}

// handleDeleteInstance removes a widget instance binding.
func (s *Server) handleDeleteInstance(w http.ResponseWriter, r *http.Request) {
	err := s.registry.DeleteInstance(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, registry.ErrInstanceNotFound) {
		respondNotFound(w, r, "widget instance not found")
		return
	}
	if err != nil {
		respondInternal(w, r, err)
		return
	}
	respondData(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleHealthz is the liveness probe.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondData(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadyz is the readiness probe; it exercises a registry read so a
// wedged database turns the instance unready.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.registry.ListDefinitions(r.Context()); err != nil {
		respondError(w, r, http.StatusServiceUnavailable, CodeInternal, "storage unavailable", nil)
		return
	}
	respondData(w, http.StatusOK, map[string]string{"status": "ready"})
}
