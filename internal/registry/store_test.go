// Widgetsync - Third-Party Data Synchronization Engine for Signage Widgets
// Copyright 2026 SignageHub
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signagehub/widgetsync

package registry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/signagehub/widgetsync/internal/vault"
)

func testDB(t *testing.T) *badger.DB {
	t.Helper()
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func pullDefinition() *Definition {
	return &Definition{
		ID:                  "weather",
		WidgetType:          "weather",
		Name:                "Weather Feed",
		Mode:                ModePull,
		CredentialScope:     vault.ScopeOrganization,
		RequiresCredentials: true,
		CredentialSchema: []FieldSpec{
			{Name: "api_key", Type: FieldString, Required: true},
		},
		ConfigSchema: []FieldSpec{
			{Name: "city", Type: FieldString, Required: true},
			{Name: "max_items", Type: FieldNumber, Default: float64(10)},
		},
		Fetcher:       "json_api",
		PullEndpoint:  "https://api.example.com/weather",
		PullInterval:  5 * time.Minute,
		Discriminator: DiscriminatorOptionHash,
		OptionFields:  []string{"city"},
		Active:        true,
	}
}

func pushDefinition() *Definition {
	return &Definition{
		ID:                  "alerts",
		WidgetType:          "alerts",
		Name:                "Alert Push",
		Mode:                ModePush,
		CredentialScope:     vault.ScopeOrganization,
		RequiresCredentials: true,
		CredentialSchema: []FieldSpec{
			{Name: "webhook_secret", Type: FieldString, Required: true},
		},
		WebhookAuth: WebhookAuthConfig{
			Method:      WebhookAuthHMAC,
			SecretField: "webhook_secret",
		},
		Discriminator: DiscriminatorOrganization,
		Active:        true,
	}
}

func TestDefinitionValidate(t *testing.T) {
	if err := pullDefinition().Validate(); err != nil {
		t.Fatalf("pull definition: %v", err)
	}
	if err := pushDefinition().Validate(); err != nil {
		t.Fatalf("push definition: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Definition)
	}{
		{"missing id", func(d *Definition) { d.ID = "" }},
		{"bad mode", func(d *Definition) { d.Mode = "both" }},
		{"short interval", func(d *Definition) { d.PullInterval = time.Second }},
		{"bad scope", func(d *Definition) { d.CredentialScope = "global" }},
		{"bad discriminator", func(d *Definition) { d.Discriminator = "per_user" }},
		{"option hash without fields", func(d *Definition) { d.OptionFields = nil }},
		{"bad credential schema", func(d *Definition) {
			d.CredentialSchema = []FieldSpec{{Name: "k", Type: "mystery"}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := pullDefinition()
			tt.mutate(def)
			if err := def.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}

	t.Run("push without auth method", func(t *testing.T) {
		def := pushDefinition()
		def.WebhookAuth.Method = ""
		if err := def.Validate(); err == nil {
			t.Error("expected validation error")
		}
	})
	t.Run("hmac without secret field", func(t *testing.T) {
		def := pushDefinition()
		def.WebhookAuth.SecretField = ""
		if err := def.Validate(); err == nil {
			t.Error("expected validation error")
		}
	})
	t.Run("allowlist without ips", func(t *testing.T) {
		def := pushDefinition()
		def.WebhookAuth = WebhookAuthConfig{Method: WebhookAuthIPAllowlist}
		if err := def.Validate(); err == nil {
			t.Error("expected validation error")
		}
	})
}

func TestStoreDefinitionLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewStore(testDB(t))

	stored, err := store.PutDefinition(ctx, pullDefinition())
	if err != nil {
		t.Fatalf("PutDefinition() error: %v", err)
	}
	if stored.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}

	got, err := store.GetDefinition(ctx, "weather")
	if err != nil {
		t.Fatalf("GetDefinition() error: %v", err)
	}
	if got.Name != "Weather Feed" || got.PullInterval != 5*time.Minute {
		t.Errorf("round trip mismatch: %+v", got)
	}

	if _, err := store.SetActive(ctx, "weather", false); err != nil {
		t.Fatalf("SetActive() error: %v", err)
	}
	got, _ = store.GetDefinition(ctx, "weather")
	if got.Active {
		t.Error("definition still active after SetActive(false)")
	}

	if _, err := store.PutDefinition(ctx, pushDefinition()); err != nil {
		t.Fatalf("PutDefinition(push) error: %v", err)
	}
	defs, err := store.ListDefinitions(ctx)
	if err != nil {
		t.Fatalf("ListDefinitions() error: %v", err)
	}
	if len(defs) != 2 {
		t.Errorf("ListDefinitions() returned %d, want 2", len(defs))
	}

	if err := store.DeleteDefinition(ctx, "weather"); err != nil {
		t.Fatalf("DeleteDefinition() error: %v", err)
	}
	if _, err := store.GetDefinition(ctx, "weather"); !errors.Is(err, ErrDefinitionNotFound) {
		t.Errorf("GetDefinition(deleted) error = %v, want ErrDefinitionNotFound", err)
	}
}

func TestStoreInstanceValidatesOptions(t *testing.T) {
	ctx := context.Background()
	store := NewStore(testDB(t))
	if _, err := store.PutDefinition(ctx, pullDefinition()); err != nil {
		t.Fatalf("PutDefinition() error: %v", err)
	}

	inst := &Instance{
		IntegrationID:  "weather",
		OrganizationID: "acme",
		Options:        map[string]any{"city": "Berlin"},
	}
	stored, err := store.PutInstance(ctx, inst)
	if err != nil {
		t.Fatalf("PutInstance() error: %v", err)
	}
	if stored.ID == "" || stored.WidgetType != "weather" {
		t.Errorf("instance not filled in: %+v", stored)
	}
	if stored.Options["max_items"] != float64(10) {
		t.Errorf("config default not applied: %v", stored.Options)
	}

	bad := &Instance{
		IntegrationID:  "weather",
		OrganizationID: "acme",
		Options:        map[string]any{"city": 42},
	}
	var sve *SchemaValidationError
	if _, err := store.PutInstance(ctx, bad); !errors.As(err, &sve) {
		t.Errorf("PutInstance(bad options) error = %v, want *SchemaValidationError", err)
	}

	missingDef := &Instance{IntegrationID: "nope", OrganizationID: "acme"}
	if _, err := store.PutInstance(ctx, missingDef); !errors.Is(err, ErrDefinitionNotFound) {
		t.Errorf("PutInstance(unknown integration) error = %v, want ErrDefinitionNotFound", err)
	}
}

func TestLoadDefinitionsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "integrations.yaml")
	content := `
integrations:
  - id: news
    widget_type: news
    name: News RSS
    mode: pull
    requires_credentials: false
    fetcher: rss
    pull_endpoint: https://example.com/feed.xml
    pull_interval: 10m
    discriminator: option_hash
    option_fields: [feed_url]
    config_schema:
      - name: feed_url
        type: url
        required: true
    active: true
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	defs, err := LoadDefinitionsFile(path)
	if err != nil {
		t.Fatalf("LoadDefinitionsFile() error: %v", err)
	}
	if len(defs) != 1 {
		t.Fatalf("got %d definitions, want 1", len(defs))
	}
	if defs[0].PullInterval != 10*time.Minute {
		t.Errorf("PullInterval = %s, want 10m", defs[0].PullInterval)
	}
	if defs[0].ConfigSchema[0].Type != FieldURL {
		t.Errorf("ConfigSchema type = %q, want url", defs[0].ConfigSchema[0].Type)
	}
}

func TestLoadDefinitionsFileRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "integrations.yaml")
	content := `
integrations:
  - id: broken
    widget_type: news
    mode: pull
    fetcher: rss
    pull_interval: 1s
    discriminator: organization
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, err := LoadDefinitionsFile(path); err == nil {
		t.Fatal("expected error for sub-minimum pull interval")
	}
}

func TestLookupByWidgetType(t *testing.T) {
	store := NewStore(testDB(t))
	ctx := context.Background()

	first := pullDefinition()
	if _, err := store.PutDefinition(ctx, first); err != nil {
		t.Fatalf("PutDefinition() error: %v", err)
	}
	second := pullDefinition()
	second.ID = "weather-alt"
	if _, err := store.PutDefinition(ctx, second); err != nil {
		t.Fatalf("PutDefinition() error: %v", err)
	}
	other := pushDefinition()
	if _, err := store.PutDefinition(ctx, other); err != nil {
		t.Fatalf("PutDefinition() error: %v", err)
	}

	defs, err := store.LookupByWidgetType(ctx, first.WidgetType)
	if err != nil {
		t.Fatalf("LookupByWidgetType() error: %v", err)
	}
	if len(defs) != 2 {
		t.Fatalf("got %d definitions for %q, want 2", len(defs), first.WidgetType)
	}
	for _, def := range defs {
		if def.WidgetType != first.WidgetType {
			t.Errorf("definition %s has widget type %q", def.ID, def.WidgetType)
		}
	}

	defs, err = store.LookupByWidgetType(ctx, "no-such-type")
	if err != nil {
		t.Fatalf("LookupByWidgetType() error: %v", err)
	}
	if len(defs) != 0 {
		t.Errorf("got %d definitions for unknown type, want 0", len(defs))
	}
}
