// Widgetsync - Third-Party Data Synchronization Engine for Signage Widgets
// Copyright 2026 SignageHub
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signagehub/widgetsync

package fetch

import (
	"context"
	"fmt"
	"net/http"

	json "github.com/goccy/go-json"
)

// FetcherJSONAPI is the registry name of the generic JSON API fetcher.
const FetcherJSONAPI = "json_api"

// JSONAPIFetcher pulls a JSON document from an HTTP endpoint and reshapes
// it with the integration's jq transform. It covers the long tail of REST
// sources that need no protocol-specific handling.
type JSONAPIFetcher struct {
	client      *http.Client
	transformer *Transformer
	maxBody     int64
}

// NewJSONAPIFetcher creates a JSON API fetcher.
func NewJSONAPIFetcher(client *http.Client, transformer *Transformer, maxBody int64) *JSONAPIFetcher {
	return &JSONAPIFetcher{client: client, transformer: transformer, maxBody: maxBody}
}

// Fetch implements Fetcher.
//
// Authentication is driven by the decrypted credential payload:
//   - access_token / bearer_token: sent as an Authorization bearer header
//   - api_key: sent in the header named by the api_key_header option
//     (default X-Api-Key)
func (f *JSONAPIFetcher) Fetch(ctx context.Context, req Request) (*Result, error) {
	if req.Endpoint == "" {
		return nil, &PayloadError{Reason: "pull endpoint is not configured"}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.Endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")

	switch {
	case req.Credentials["access_token"] != "":
		httpReq.Header.Set("Authorization", "Bearer "+req.Credentials["access_token"])
	case req.Credentials["bearer_token"] != "":
		httpReq.Header.Set("Authorization", "Bearer "+req.Credentials["bearer_token"])
	case req.Credentials["api_key"] != "":
		header := optionString(req.Options, "api_key_header")
		if header == "" {
			header = "X-Api-Key"
		}
		httpReq.Header.Set(header, req.Credentials["api_key"])
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, &CredentialError{Reason: fmt.Sprintf("upstream rejected credentials with %d", resp.StatusCode)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, upstreamError(resp)
	}

	body, err := readBody(resp, f.maxBody)
	if err != nil {
		return nil, err
	}

	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &PayloadError{Reason: "response is not valid JSON", Err: err}
	}

	expr := optionString(req.Options, "transform")
	transformed, err := f.transformer.Apply(ctx, expr, payload)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(transformed)
	if err != nil {
		return nil, &PayloadError{Reason: "encode transformed payload", Err: err}
	}
	return &Result{Data: data}, nil
}
