// Widgetsync - Third-Party Data Synchronization Engine for Signage Widgets
// Copyright 2026 SignageHub
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signagehub/widgetsync

package registry

import (
	"fmt"
	"time"

	"github.com/signagehub/widgetsync/internal/vault"
)

// Mode is how an integration's data arrives. Pull and push are mutually
// exclusive; an integration is one or the other.
type Mode string

const (
	// ModePull fetches data on a schedule from the third party.
	ModePull Mode = "pull"

	// ModePush receives data through the inbound webhook endpoint.
	ModePush Mode = "push"
)

// DiscriminatorKind decides how cache entries for an integration are keyed.
type DiscriminatorKind string

const (
	// DiscriminatorOrganization shares one cache entry per organization.
	DiscriminatorOrganization DiscriminatorKind = "organization"

	// DiscriminatorWidgetInstance keeps one cache entry per widget instance.
	DiscriminatorWidgetInstance DiscriminatorKind = "widget_instance"

	// DiscriminatorOptionHash shares one cache entry among all instances
	// whose selected option fields hash to the same value.
	DiscriminatorOptionHash DiscriminatorKind = "option_hash"
)

// WebhookAuthMethod is how inbound webhook deliveries are authenticated.
type WebhookAuthMethod string

const (
	// WebhookAuthHMAC verifies an HMAC-SHA256 signature over the raw body.
	WebhookAuthHMAC WebhookAuthMethod = "hmac"

	// WebhookAuthAPIKey compares a static key carried in a header.
	WebhookAuthAPIKey WebhookAuthMethod = "api_key"

	// WebhookAuthIPAllowlist accepts deliveries only from known addresses.
	WebhookAuthIPAllowlist WebhookAuthMethod = "ip_allowlist"
)

// WebhookAuthConfig configures webhook authentication for a push integration.
type WebhookAuthConfig struct {
	Method WebhookAuthMethod `json:"method" yaml:"method"`

	// SecretField names the credential payload field holding the HMAC
	// secret or API key.
	SecretField string `json:"secret_field,omitempty" yaml:"secret_field"`

	// SignatureHeader carries the hex HMAC signature. Defaults to
	// X-Webhook-Signature.
	SignatureHeader string `json:"signature_header,omitempty" yaml:"signature_header"`

	// APIKeyHeader carries the static API key. Defaults to X-Api-Key.
	APIKeyHeader string `json:"api_key_header,omitempty" yaml:"api_key_header"`

	// AllowedIPs lists source addresses or CIDR blocks for ip_allowlist.
	AllowedIPs []string `json:"allowed_ips,omitempty" yaml:"allowed_ips"`
}

// Definition describes one third-party integration: its schemas, fetch
// behavior, cache keying and webhook authentication.
type Definition struct {
	ID         string `json:"id" yaml:"id"`
	WidgetType string `json:"widget_type" yaml:"widget_type"`
	Name       string `json:"name" yaml:"name"`

	Mode Mode `json:"mode" yaml:"mode"`

	// CredentialScope is whether credentials are shared per organization
	// or entered per widget instance.
	CredentialScope vault.Scope `json:"credential_scope" yaml:"credential_scope"`

	// RequiresCredentials is false for public sources such as open RSS
	// feeds; the scheduler then skips credential resolution entirely.
	RequiresCredentials bool `json:"requires_credentials" yaml:"requires_credentials"`

	CredentialSchema []FieldSpec `json:"credential_schema,omitempty" yaml:"credential_schema"`
	ConfigSchema     []FieldSpec `json:"config_schema,omitempty" yaml:"config_schema"`

	// Fetcher names the registered fetcher implementation. Unknown names
	// fail startup validation, not the first scheduled run.
	Fetcher string `json:"fetcher" yaml:"fetcher"`

	// PullEndpoint and PullInterval apply to pull integrations.
	PullEndpoint string        `json:"pull_endpoint,omitempty" yaml:"pull_endpoint"`
	PullInterval time.Duration `json:"pull_interval,omitempty" yaml:"-"`

	// Transform is an optional jq program applied to fetched or pushed
	// payloads before caching.
	Transform string `json:"transform,omitempty" yaml:"transform"`

	WebhookAuth WebhookAuthConfig `json:"webhook_auth,omitempty" yaml:"webhook_auth"`

	Discriminator DiscriminatorKind `json:"discriminator" yaml:"discriminator"`

	// OptionFields selects which widget options feed the option hash.
	OptionFields []string `json:"option_fields,omitempty" yaml:"option_fields"`

	Active    bool      `json:"active" yaml:"active"`
	CreatedAt time.Time `json:"created_at" yaml:"-"`
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// minPullInterval guards third parties against hot polling loops.
const minPullInterval = 30 * time.Second

// Validate checks a definition for structural problems. It is called on
// registration and again when seeding from the definitions file.
func (d *Definition) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("registry: definition id is required")
	}
	if d.WidgetType == "" {
		return fmt.Errorf("registry: definition %s: widget_type is required", d.ID)
	}
	if d.Fetcher == "" && d.Mode == ModePull {
		return fmt.Errorf("registry: definition %s: fetcher is required for pull mode", d.ID)
	}

	switch d.Mode {
	case ModePull:
		if d.PullInterval < minPullInterval {
			return fmt.Errorf("registry: definition %s: pull_interval must be at least %s", d.ID, minPullInterval)
		}
	case ModePush:
		switch d.WebhookAuth.Method {
		case WebhookAuthHMAC, WebhookAuthAPIKey:
			if d.WebhookAuth.SecretField == "" {
				return fmt.Errorf("registry: definition %s: webhook_auth.secret_field is required for %s", d.ID, d.WebhookAuth.Method)
			}
		case WebhookAuthIPAllowlist:
			if len(d.WebhookAuth.AllowedIPs) == 0 {
				return fmt.Errorf("registry: definition %s: webhook_auth.allowed_ips is required for ip_allowlist", d.ID)
			}
		default:
			return fmt.Errorf("registry: definition %s: unknown webhook auth method %q", d.ID, d.WebhookAuth.Method)
		}
	default:
		return fmt.Errorf("registry: definition %s: mode must be pull or push, got %q", d.ID, d.Mode)
	}

	if d.RequiresCredentials {
		switch d.CredentialScope {
		case vault.ScopeOrganization, vault.ScopeWidgetInstance:
		default:
			return fmt.Errorf("registry: definition %s: unknown credential scope %q", d.ID, d.CredentialScope)
		}
		if len(d.CredentialSchema) == 0 {
			return fmt.Errorf("registry: definition %s: credential_schema is required when credentials are", d.ID)
		}
	}

	switch d.Discriminator {
	case DiscriminatorOrganization, DiscriminatorWidgetInstance:
	case DiscriminatorOptionHash:
		if len(d.OptionFields) == 0 {
			return fmt.Errorf("registry: definition %s: option_fields is required for option_hash discriminator", d.ID)
		}
	default:
		return fmt.Errorf("registry: definition %s: unknown discriminator %q", d.ID, d.Discriminator)
	}

	if err := ValidateSchema(d.CredentialSchema); err != nil {
		return fmt.Errorf("registry: definition %s: credential schema: %w", d.ID, err)
	}
	if err := ValidateSchema(d.ConfigSchema); err != nil {
		return fmt.Errorf("registry: definition %s: config schema: %w", d.ID, err)
	}
	return nil
}

// SignatureHeaderName returns the configured signature header or its default.
func (w *WebhookAuthConfig) SignatureHeaderName() string {
	if w.SignatureHeader != "" {
		return w.SignatureHeader
	}
	return "X-Webhook-Signature"
}

// APIKeyHeaderName returns the configured API key header or its default.
func (w *WebhookAuthConfig) APIKeyHeaderName() string {
	if w.APIKeyHeader != "" {
		return w.APIKeyHeader
	}
	return "X-Api-Key"
}
