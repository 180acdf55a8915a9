// Widgetsync - Third-Party Data Synchronization Engine for Signage Widgets
// Copyright 2026 SignageHub
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signagehub/widgetsync

package vault

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Scope identifies who a credential belongs to.
type Scope string

const (
	// ScopeOrganization shares one credential across every widget instance
	// of an organization.
	ScopeOrganization Scope = "organization"

	// ScopeWidgetInstance binds a credential to a single widget instance.
	ScopeWidgetInstance Scope = "widget_instance"
)

var (
	// ErrCredentialNotFound indicates no credential exists for the
	// requested integration and scope.
	ErrCredentialNotFound = errors.New("vault: credential not found")

	// ErrScopeConflict indicates a credential sets both or neither of
	// organization_id and widget_instance_id. Exactly one must be set.
	ErrScopeConflict = errors.New("vault: exactly one of organization_id or widget_instance_id must be set")
)

// Credential is a stored third-party credential. The secret payload lives
// only in Ciphertext; Metadata holds non-sensitive operator-visible fields.
type Credential struct {
	ID               string         `json:"id"`
	IntegrationID    string         `json:"integration_id"`
	Scope            Scope          `json:"scope"`
	OrganizationID   string         `json:"organization_id,omitempty"`
	WidgetInstanceID string         `json:"widget_instance_id,omitempty"`
	Ciphertext       string         `json:"ciphertext"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	IsValid          bool           `json:"is_valid"`
	ValidatedAt      *time.Time     `json:"validated_at,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// ScopeRef returns the canonical scope reference used for key derivation
// and store keys. It enforces that exactly one scope field is set.
func (c *Credential) ScopeRef() (string, error) {
	switch {
	case c.OrganizationID != "" && c.WidgetInstanceID != "":
		return "", ErrScopeConflict
	case c.OrganizationID != "":
		return "org:" + c.OrganizationID, nil
	case c.WidgetInstanceID != "":
		return "widget:" + c.WidgetInstanceID, nil
	default:
		return "", ErrScopeConflict
	}
}

// PublicView returns the credential with the ciphertext stripped, safe to
// serve from metadata endpoints.
func (c *Credential) PublicView() *Credential {
	view := *c
	view.Ciphertext = ""
	view.Metadata = FilterMetadata(c.Metadata)
	return &view
}

// credPrefix namespaces credential keys in the shared Badger database.
const credPrefix = "cred:"

func credKey(integrationID, scopeRef string) []byte {
	return []byte(credPrefix + integrationID + ":" + scopeRef)
}

// Store persists credentials in the shared Badger database.
type Store struct {
	db    *badger.DB
	vault *Vault

	// now is replaceable in tests.
	now func() time.Time
}

// NewStore creates a credential store backed by db, sealing payloads with v.
func NewStore(db *badger.DB, v *Vault) *Store {
	return &Store{db: db, vault: v, now: time.Now}
}

// Put encrypts payload and stores the credential, replacing any existing
// credential for the same integration and scope. Sensitive metadata keys are
// dropped before persistence. The stored credential is marked valid.
func (s *Store) Put(ctx context.Context, cred *Credential, payload map[string]string) (*Credential, error) {
	scopeRef, err := cred.ScopeRef()
	if err != nil {
		return nil, err
	}
	if cred.IntegrationID == "" {
		return nil, fmt.Errorf("vault: integration_id is required")
	}
	if len(payload) == 0 {
		return nil, fmt.Errorf("vault: credential payload must not be empty")
	}

	plaintext, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("vault: marshal payload: %w", err)
	}
	ciphertext, err := s.vault.Seal(scopeRef, plaintext)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	stored := *cred
	stored.Ciphertext = ciphertext
	stored.Metadata = FilterMetadata(cred.Metadata)
	stored.IsValid = true
	stored.ValidatedAt = &now
	stored.UpdatedAt = now

	err = s.db.Update(func(txn *badger.Txn) error {
		key := credKey(cred.IntegrationID, scopeRef)
		if existing, err := getCredential(txn, key); err == nil {
			stored.ID = existing.ID
			stored.CreatedAt = existing.CreatedAt
		} else if errors.Is(err, ErrCredentialNotFound) {
			stored.ID = uuid.New().String()
			stored.CreatedAt = now
		} else {
			return err
		}
		return setCredential(txn, key, &stored)
	})
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

// Get fetches the credential for an integration and scope reference.
func (s *Store) Get(ctx context.Context, integrationID, scopeRef string) (*Credential, error) {
	var cred *Credential
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		cred, err = getCredential(txn, credKey(integrationID, scopeRef))
		return err
	})
	if err != nil {
		return nil, err
	}
	return cred, nil
}

// Decrypt opens a credential's payload. The returned map holds the live
// secrets; callers must not retain it beyond the operation in progress.
func (s *Store) Decrypt(cred *Credential) (map[string]string, error) {
	scopeRef, err := cred.ScopeRef()
	if err != nil {
		return nil, err
	}
	plaintext, err := s.vault.Open(scopeRef, cred.Ciphertext)
	if err != nil {
		return nil, err
	}
	payload := map[string]string{}
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return nil, fmt.Errorf("vault: unmarshal payload: %w", err)
	}
	return payload, nil
}

// RotateTx replaces a credential's payload inside an existing transaction.
// The scheduler uses this to commit an OAuth token rotation atomically with
// the cache write that consumed the new token.
func (s *Store) RotateTx(txn *badger.Txn, cred *Credential, payload map[string]string) error {
	scopeRef, err := cred.ScopeRef()
	if err != nil {
		return err
	}
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("vault: marshal payload: %w", err)
	}
	ciphertext, err := s.vault.Seal(scopeRef, plaintext)
	if err != nil {
		return err
	}

	now := s.now().UTC()
	rotated := *cred
	rotated.Ciphertext = ciphertext
	rotated.IsValid = true
	rotated.ValidatedAt = &now
	rotated.UpdatedAt = now
	// Operators watch token expiry through metadata; mirror it from the
	// sealed payload so the view moves with the rotation.
	if exp := payload["expires_at"]; exp != "" {
		meta := make(map[string]any, len(cred.Metadata)+1)
		for k, v := range cred.Metadata {
			meta[k] = v
		}
		meta["expires_at"] = exp
		rotated.Metadata = meta
	}
	return setCredential(txn, credKey(cred.IntegrationID, scopeRef), &rotated)
}

// MarkInvalid flags a credential as unusable. The scheduler calls this when
// a refresh fails with a credential error so later runs skip the upstream
// call until an operator re-submits credentials.
func (s *Store) MarkInvalid(ctx context.Context, integrationID, scopeRef string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		key := credKey(integrationID, scopeRef)
		cred, err := getCredential(txn, key)
		if err != nil {
			return err
		}
		cred.IsValid = false
		cred.UpdatedAt = s.now().UTC()
		return setCredential(txn, key, cred)
	})
}

// Delete removes the credential for an integration and scope reference.
func (s *Store) Delete(ctx context.Context, integrationID, scopeRef string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(credKey(integrationID, scopeRef))
	})
}

func getCredential(txn *badger.Txn, key []byte) (*Credential, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrCredentialNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("vault: read credential: %w", err)
	}

	var cred Credential
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &cred)
	})
	if err != nil {
		return nil, fmt.Errorf("vault: decode credential: %w", err)
	}
	return &cred, nil
}

func setCredential(txn *badger.Txn, key []byte, cred *Credential) error {
	val, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("vault: encode credential: %w", err)
	}
	return txn.Set(key, val)
}
