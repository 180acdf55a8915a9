// Widgetsync - Third-Party Data Synchronization Engine for Signage Widgets
// Copyright 2026 SignageHub
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signagehub/widgetsync

package api

import (
	json "github.com/goccy/go-json"
)

// truncateItems applies a consumer's max_items option to a cached payload
// at serve time. The cache holds a generous item count shared by every
// consumer of the entry; each widget sees at most its own limit.
//
// The function decodes into a fresh value and never touches the shared
// entry. Payloads without a top-level items list pass through unchanged, as
// does anything already within the limit.
func truncateItems(data json.RawMessage, maxItems int) json.RawMessage {
	if maxItems <= 0 || len(data) == 0 {
		return data
	}

	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return data
	}
	items, ok := payload["items"].([]any)
	if !ok || len(items) <= maxItems {
		return data
	}

	payload["items"] = items[:maxItems]
	out, err := json.Marshal(payload)
	if err != nil {
		return data
	}
	return out
}

// maxItemsOption reads the max_items widget option, tolerating the numeric
// types JSON and YAML decoding produce.
func maxItemsOption(options map[string]any) int {
	switch v := options["max_items"].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	default:
		return 0
	}
}
