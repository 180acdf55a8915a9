// Widgetsync - Third-Party Data Synchronization Engine for Signage Widgets
// Copyright 2026 SignageHub
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signagehub/widgetsync

package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
)

var (
	// ErrDefinitionNotFound indicates no definition exists for an ID.
	ErrDefinitionNotFound = errors.New("registry: integration definition not found")

	// ErrInstanceNotFound indicates no widget instance exists for an ID.
	ErrInstanceNotFound = errors.New("registry: widget instance not found")
)

// Instance binds a widget instance to an integration: which organization it
// belongs to and the widget options that shape its data.
type Instance struct {
	ID             string         `json:"id"`
	WidgetType     string         `json:"widget_type"`
	IntegrationID  string         `json:"integration_id"`
	OrganizationID string         `json:"organization_id"`
	Options        map[string]any `json:"options,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Key prefixes in the shared Badger database.
const (
	defPrefix  = "intg:"
	instPrefix = "winst:"
)

func defKey(id string) []byte  { return []byte(defPrefix + id) }
func instKey(id string) []byte { return []byte(instPrefix + id) }

// Store persists integration definitions and widget instance bindings.
type Store struct {
	db  *badger.DB
	now func() time.Time
}

// NewStore creates a registry store backed by db.
func NewStore(db *badger.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// PutDefinition validates and stores a definition, replacing any existing
// definition with the same ID.
func (s *Store) PutDefinition(ctx context.Context, def *Definition) (*Definition, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	stored := *def
	stored.UpdatedAt = now

	err := s.db.Update(func(txn *badger.Txn) error {
		existing, err := getDefinition(txn, def.ID)
		switch {
		case err == nil:
			stored.CreatedAt = existing.CreatedAt
		case errors.Is(err, ErrDefinitionNotFound):
			stored.CreatedAt = now
		default:
			return err
		}
		val, err := json.Marshal(&stored)
		if err != nil {
			return fmt.Errorf("registry: encode definition: %w", err)
		}
		return txn.Set(defKey(def.ID), val)
	})
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

// GetDefinition fetches a definition by ID.
func (s *Store) GetDefinition(ctx context.Context, id string) (*Definition, error) {
	var def *Definition
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		def, err = getDefinition(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return def, nil
}

// ListDefinitions returns all definitions ordered by key.
func (s *Store) ListDefinitions(ctx context.Context) ([]*Definition, error) {
	var defs []*Definition
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(defPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.ValidForPrefix([]byte(defPrefix)); it.Next() {
			var def Definition
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &def)
			})
			if err != nil {
				return fmt.Errorf("registry: decode definition: %w", err)
			}
			defs = append(defs, &def)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return defs, nil
}

// LookupByWidgetType returns the definitions serving a widget type. A
// dashboard rendering a widget uses this to find which integrations can
// feed it.
func (s *Store) LookupByWidgetType(ctx context.Context, widgetType string) ([]*Definition, error) {
	defs, err := s.ListDefinitions(ctx)
	if err != nil {
		return nil, err
	}
	matched := defs[:0]
	for _, def := range defs {
		if def.WidgetType == widgetType {
			matched = append(matched, def)
		}
	}
	return matched, nil
}

// SetActive flips a definition's active flag. Deactivated integrations are
// skipped by the scheduler and rejected at the webhook endpoint.
func (s *Store) SetActive(ctx context.Context, id string, active bool) (*Definition, error) {
	var def *Definition
	err := s.db.Update(func(txn *badger.Txn) error {
		var err error
		def, err = getDefinition(txn, id)
		if err != nil {
			return err
		}
		def.Active = active
		def.UpdatedAt = s.now().UTC()
		val, err := json.Marshal(def)
		if err != nil {
			return fmt.Errorf("registry: encode definition: %w", err)
		}
		return txn.Set(defKey(id), val)
	})
	if err != nil {
		return nil, err
	}
	return def, nil
}

// DeleteDefinition removes a definition by ID.
func (s *Store) DeleteDefinition(ctx context.Context, id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := getDefinition(txn, id); err != nil {
			return err
		}
		return txn.Delete(defKey(id))
	})
}

// PutInstance stores a widget instance binding after validating its options
// against the integration's config schema.
func (s *Store) PutInstance(ctx context.Context, inst *Instance) (*Instance, error) {
	if inst.IntegrationID == "" {
		return nil, fmt.Errorf("registry: instance integration_id is required")
	}
	if inst.OrganizationID == "" {
		return nil, fmt.Errorf("registry: instance organization_id is required")
	}

	now := s.now().UTC()
	stored := *inst
	stored.UpdatedAt = now

	err := s.db.Update(func(txn *badger.Txn) error {
		def, err := getDefinition(txn, inst.IntegrationID)
		if err != nil {
			return err
		}
		if stored.WidgetType == "" {
			stored.WidgetType = def.WidgetType
		}
		if err := ValidateValues(def.ConfigSchema, stored.Options); err != nil {
			return err
		}
		stored.Options = ApplyDefaults(def.ConfigSchema, stored.Options)

		if stored.ID == "" {
			stored.ID = uuid.New().String()
			stored.CreatedAt = now
		} else if existing, err := getInstance(txn, stored.ID); err == nil {
			stored.CreatedAt = existing.CreatedAt
		} else if errors.Is(err, ErrInstanceNotFound) {
			stored.CreatedAt = now
		} else {
			return err
		}

		val, err := json.Marshal(&stored)
		if err != nil {
			return fmt.Errorf("registry: encode instance: %w", err)
		}
		return txn.Set(instKey(stored.ID), val)
	})
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

// GetInstance fetches a widget instance by ID.
func (s *Store) GetInstance(ctx context.Context, id string) (*Instance, error) {
	var inst *Instance
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		inst, err = getInstance(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return inst, nil
}

// ListInstances returns all widget instance bindings. The scheduler scans
// these to find pull work.
func (s *Store) ListInstances(ctx context.Context) ([]*Instance, error) {
	var insts []*Instance
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(instPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.ValidForPrefix([]byte(instPrefix)); it.Next() {
			var inst Instance
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &inst)
			})
			if err != nil {
				return fmt.Errorf("registry: decode instance: %w", err)
			}
			insts = append(insts, &inst)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return insts, nil
}

// DeleteInstance removes a widget instance binding.
func (s *Store) DeleteInstance(ctx context.Context, id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := getInstance(txn, id); err != nil {
			return err
		}
		return txn.Delete(instKey(id))
	})
}

func getDefinition(txn *badger.Txn, id string) (*Definition, error) {
	item, err := txn.Get(defKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrDefinitionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("registry: read definition: %w", err)
	}
	var def Definition
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &def)
	})
	if err != nil {
		return nil, fmt.Errorf("registry: decode definition: %w", err)
	}
	return &def, nil
}

func getInstance(txn *badger.Txn, id string) (*Instance, error) {
	item, err := txn.Get(instKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrInstanceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("registry: read instance: %w", err)
	}
	var inst Instance
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &inst)
	})
	if err != nil {
		return nil, fmt.Errorf("registry: decode instance: %w", err)
	}
	return &inst, nil
}
