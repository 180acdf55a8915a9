// Widgetsync - Third-Party Data Synchronization Engine for Signage Widgets
// Copyright 2026 SignageHub
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signagehub/widgetsync

package fetch

import (
	"errors"
	"fmt"
	"time"
)

// UpstreamError is a non-2xx response from a third party.
type UpstreamError struct {
	StatusCode int
	Message    string

	// RetryAfter carries the server's Retry-After hint, when present.
	RetryAfter time.Duration
}

func (e *UpstreamError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("fetch: upstream returned %d", e.StatusCode)
	}
	return fmt.Sprintf("fetch: upstream returned %d: %s", e.StatusCode, e.Message)
}

// CredentialError means the stored credential was rejected or could not be
// refreshed. It is never retried; the credential is marked invalid and an
// operator must re-submit it.
type CredentialError struct {
	Reason string
	Err    error
}

func (e *CredentialError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch: credential error: %s: %v", e.Reason, e.Err)
	}
	return "fetch: credential error: " + e.Reason
}

func (e *CredentialError) Unwrap() error { return e.Err }

// PayloadError means the upstream response could not be parsed or
// transformed. Retrying would replay the same malformed payload.
type PayloadError struct {
	Reason string
	Err    error
}

func (e *PayloadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch: payload error: %s: %v", e.Reason, e.Err)
	}
	return "fetch: payload error: " + e.Reason
}

func (e *PayloadError) Unwrap() error { return e.Err }

// Retryable reports whether a retry could plausibly succeed. Credential and
// payload errors are deterministic failures; upstream errors are retried
// for timeout, throttling and server-side status codes. Anything else
// (network errors, timeouts) is assumed transient.
func Retryable(err error) bool {
	var credErr *CredentialError
	if errors.As(err, &credErr) {
		return false
	}
	var payloadErr *PayloadError
	if errors.As(err, &payloadErr) {
		return false
	}
	var upErr *UpstreamError
	if errors.As(err, &upErr) {
		switch {
		case upErr.StatusCode == 408, upErr.StatusCode == 429:
			return true
		case upErr.StatusCode >= 500:
			return true
		default:
			return false
		}
	}
	return true
}

// RetryAfterHint extracts the upstream's Retry-After delay, if the error
// carries one.
func RetryAfterHint(err error) (time.Duration, bool) {
	var upErr *UpstreamError
	if errors.As(err, &upErr) && upErr.RetryAfter > 0 {
		return upErr.RetryAfter, true
	}
	return 0, false
}
