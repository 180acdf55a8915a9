// Widgetsync - Third-Party Data Synchronization Engine for Signage Widgets
// Copyright 2026 SignageHub
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signagehub/widgetsync

package vault

import "regexp"

// sensitiveKeyPattern matches metadata keys that must never be stored or
// served in the clear. Anything matching belongs in the encrypted payload.
var sensitiveKeyPattern = regexp.MustCompile(`(?i)(password|secret|token|key|credential|auth)`)

// FilterMetadata returns a copy of metadata with sensitive keys removed.
// The input map is not modified. A nil input yields an empty map so callers
// can serve the result directly.
func FilterMetadata(metadata map[string]any) map[string]any {
	filtered := make(map[string]any, len(metadata))
	for k, v := range metadata {
		if sensitiveKeyPattern.MatchString(k) {
			continue
		}
		filtered[k] = v
	}
	return filtered
}
