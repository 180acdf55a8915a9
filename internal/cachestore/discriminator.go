// Widgetsync - Third-Party Data Synchronization Engine for Signage Widgets
// Copyright 2026 SignageHub
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signagehub/widgetsync

// Package cachestore holds the versioned widget data cache.
//
// Entries are keyed by discriminator: a stable string derived from how the
// integration shares data. An organization-keyed integration has one entry
// per organization, a widget-keyed one has an entry per widget instance, and
// an option-hash integration shares one entry among all instances whose
// selected options are identical.
package cachestore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	json "github.com/goccy/go-json"

	"github.com/signagehub/widgetsync/internal/registry"
)

// Discriminator identifies one cache entry.
type Discriminator string

// DiscriminatorFor derives the cache discriminator for a widget instance
// under its integration's keying strategy.
func DiscriminatorFor(def *registry.Definition, inst *registry.Instance) (Discriminator, error) {
	switch def.Discriminator {
	case registry.DiscriminatorOrganization:
		return Discriminator("org:" + def.ID + ":" + inst.OrganizationID), nil
	case registry.DiscriminatorWidgetInstance:
		return Discriminator("widget:" + def.ID + ":" + inst.ID), nil
	case registry.DiscriminatorOptionHash:
		h, err := optionHash(def.OptionFields, inst.Options)
		if err != nil {
			return "", err
		}
		return Discriminator("opts:" + def.ID + ":" + h), nil
	default:
		return "", fmt.Errorf("cachestore: unknown discriminator kind %q", def.Discriminator)
	}
}

// optionHash hashes the selected option fields in a canonical order so two
// instances with equal options always collapse to the same entry.
func optionHash(fields []string, options map[string]any) (string, error) {
	selected := make([]string, len(fields))
	copy(selected, fields)
	sort.Strings(selected)

	canonical := make([]any, 0, len(selected)*2)
	for _, name := range selected {
		canonical = append(canonical, name, options[name])
	}
	raw, err := json.Marshal(canonical)
	if err != nil {
		return "", fmt.Errorf("cachestore: hash options: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:16]), nil
}
