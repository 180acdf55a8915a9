// Widgetsync - Third-Party Data Synchronization Engine for Signage Widgets
// Copyright 2026 SignageHub
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signagehub/widgetsync

// Package api implements the Widgetsync HTTP surface: the consumer data
// endpoint, operator registry and credential management, and the inbound
// webhook receiver.
package api

import (
	"net/http"

	json "github.com/goccy/go-json"

	"github.com/signagehub/widgetsync/internal/logging"
)

// APIResponse is the uniform response envelope.
type APIResponse struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *APIError `json:"error,omitempty"`
}

// APIError carries a machine-readable code plus a human-readable message.
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Details   any    `json:"details,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// Error codes returned by the API.
const (
	CodeNotFound         = "NOT_FOUND"
	CodeBadRequest       = "BAD_REQUEST"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeConflict         = "CONFLICT"
	CodeTooManyRequests  = "TOO_MANY_REQUESTS"
	CodeSchemaValidation = "SCHEMA_VALIDATION"
	CodeInternal         = "INTERNAL_ERROR"
)

// writeJSON serializes a response envelope. Serialization failures at this
// point can only be programming errors; they are logged and surfaced as a
// bare 500.
func writeJSON(w http.ResponseWriter, status int, resp *APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logging.Error().Err(err).Msg("api response encoding failed")
	}
}

// respondData writes a success envelope.
func respondData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, &APIResponse{Success: true, Data: data})
}

// respondError writes an error envelope carrying the request ID so callers
// can quote it when reporting problems.
func respondError(w http.ResponseWriter, r *http.Request, status int, code, message string, details any) {
	writeJSON(w, status, &APIResponse{
		Success: false,
		Error: &APIError{
			Code:      code,
			Message:   message,
			Details:   details,
			RequestID: logging.RequestIDFromContext(r.Context()),
		},
	})
}

func respondNotFound(w http.ResponseWriter, r *http.Request, message string) {
	respondError(w, r, http.StatusNotFound, CodeNotFound, message, nil)
}

func respondBadRequest(w http.ResponseWriter, r *http.Request, message string, details any) {
	respondError(w, r, http.StatusBadRequest, CodeBadRequest, message, details)
}

func respondUnauthorized(w http.ResponseWriter, r *http.Request, message string) {
	respondError(w, r, http.StatusUnauthorized, CodeUnauthorized, message, nil)
}

func respondInternal(w http.ResponseWriter, r *http.Request, err error) {
	logging.Ctx(r.Context()).Error().Err(err).Msg("internal error")
	respondError(w, r, http.StatusInternalServerError, CodeInternal, "internal error", nil)
}
