// Widgetsync - Third-Party Data Synchronization Engine for Signage Widgets
// Copyright 2026 SignageHub
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signagehub/widgetsync

package fetch

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// readBody reads a response body with a hard size cap. Third parties do not
// get to exhaust worker memory with an unbounded response.
func readBody(resp *http.Response, maxBytes int64) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("fetch: read response body: %w", err)
	}
	if int64(len(body)) > maxBytes {
		return nil, &PayloadError{Reason: fmt.Sprintf("response body exceeds %d bytes", maxBytes)}
	}
	return body, nil
}

// upstreamError builds an UpstreamError from a non-2xx response, honoring
// Retry-After when the server sends one.
func upstreamError(resp *http.Response) *UpstreamError {
	upErr := &UpstreamError{StatusCode: resp.StatusCode}
	if after := resp.Header.Get("Retry-After"); after != "" {
		if secs, err := strconv.Atoi(after); err == nil && secs > 0 {
			upErr.RetryAfter = time.Duration(secs) * time.Second
		} else if at, err := http.ParseTime(after); err == nil {
			if d := time.Until(at); d > 0 {
				upErr.RetryAfter = d
			}
		}
	}
	return upErr
}

// optionString reads a string option, tolerating absence.
func optionString(options map[string]any, key string) string {
	if v, ok := options[key].(string); ok {
		return v
	}
	return ""
}
