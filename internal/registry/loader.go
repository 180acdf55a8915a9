// Widgetsync - Third-Party Data Synchronization Engine for Signage Widgets
// Copyright 2026 SignageHub
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signagehub/widgetsync

package registry

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/signagehub/widgetsync/internal/logging"
)

// definitionsFile is the YAML shape of the seed file.
type definitionsFile struct {
	Integrations []definitionDoc `yaml:"integrations"`
}

// definitionDoc mirrors Definition for YAML, with the pull interval as a
// duration string ("5m", "300s").
type definitionDoc struct {
	Definition   `yaml:",inline"`
	PullInterval string `yaml:"pull_interval"`
}

// LoadDefinitionsFile parses a YAML definitions file. Each definition is
// validated; one bad definition fails the whole load so a typo cannot
// silently drop an integration.
func LoadDefinitionsFile(path string) ([]*Definition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("registry: read definitions file: %w", err)
	}

	var doc definitionsFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("registry: parse definitions file: %w", err)
	}

	defs := make([]*Definition, 0, len(doc.Integrations))
	for i := range doc.Integrations {
		d := doc.Integrations[i].Definition
		if doc.Integrations[i].PullInterval != "" {
			interval, err := time.ParseDuration(doc.Integrations[i].PullInterval)
			if err != nil {
				return nil, fmt.Errorf("registry: definition %s: bad pull_interval: %w", d.ID, err)
			}
			d.PullInterval = interval
		}
		if err := d.Validate(); err != nil {
			return nil, err
		}
		defs = append(defs, &d)
	}
	return defs, nil
}

// Seed loads the definitions file at path and upserts every definition into
// the store. A missing path is not an error; the registry is then managed
// entirely through the API.
func Seed(ctx context.Context, store *Store, path string) error {
	if path == "" {
		return nil
	}
	defs, err := LoadDefinitionsFile(path)
	if err != nil {
		return err
	}
	for _, def := range defs {
		if _, err := store.PutDefinition(ctx, def); err != nil {
			return fmt.Errorf("registry: seed %s: %w", def.ID, err)
		}
	}
	logging.Info().Int("count", len(defs)).Str("path", path).Msg("integration definitions seeded")
	return nil
}
