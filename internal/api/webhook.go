// Widgetsync - Third-Party Data Synchronization Engine for Signage Widgets
// Copyright 2026 SignageHub
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signagehub/widgetsync

package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"io"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"

	"github.com/signagehub/widgetsync/internal/cachestore"
	"github.com/signagehub/widgetsync/internal/logging"
	"github.com/signagehub/widgetsync/internal/metrics"
	"github.com/signagehub/widgetsync/internal/registry"
	"github.com/signagehub/widgetsync/internal/vault"
)

// handleWebhook receives a push delivery for one widget instance.
//
// The pipeline is: resolve integration and instance, rate limit, read the
// raw body, authenticate, transform, cache. Any failure before the cache
// write leaves all state untouched; an attacker probing signatures changes
// nothing and learns nothing beyond a 401.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	integrationID := chi.URLParam(r, "integration_id")

	def, err := s.registry.GetDefinition(ctx, integrationID)
	if errors.Is(err, registry.ErrDefinitionNotFound) {
		respondNotFound(w, r, "integration not found")
		return
	}
	if err != nil {
		respondInternal(w, r, err)
		return
	}
	if def.Mode != registry.ModePush || !def.Active {
		metrics.WebhookRequestsTotal.WithLabelValues(integrationID, "rejected").Inc()
		respondNotFound(w, r, "integration does not accept webhooks")
		return
	}

	inst, err := s.registry.GetInstance(ctx, chi.URLParam(r, "widget_instance_id"))
	if errors.Is(err, registry.ErrInstanceNotFound) || (err == nil && inst.IntegrationID != def.ID) {
		respondNotFound(w, r, "widget instance not found")
		return
	}
	if err != nil {
		respondInternal(w, r, err)
		return
	}

	if !s.webhookLimiter(def.ID).Allow() {
		metrics.WebhookRequestsTotal.WithLabelValues(def.ID, "throttled").Inc()
		respondError(w, r, http.StatusTooManyRequests, CodeTooManyRequests, "webhook rate limit exceeded", nil)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, s.cfg.Webhook.MaxBodyBytes+1))
	if err != nil {
		respondBadRequest(w, r, "cannot read body", nil)
		return
	}
	if int64(len(body)) > s.cfg.Webhook.MaxBodyBytes {
		respondBadRequest(w, r, "body too large", nil)
		return
	}

	if !s.authenticateWebhook(r, def, inst, body) {
		metrics.WebhookRequestsTotal.WithLabelValues(def.ID, "unauthorized").Inc()
		logging.Ctx(ctx).Warn().
			Str("integration", def.ID).
			Str("method", string(def.WebhookAuth.Method)).
			Msg("webhook authentication failed")
		respondUnauthorized(w, r, "webhook authentication failed")
		return
	}

	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		respondBadRequest(w, r, "body is not valid JSON", nil)
		return
	}
	transformed, err := s.transformer.Apply(ctx, def.Transform, payload)
	if err != nil {
		respondBadRequest(w, r, "payload transform failed", nil)
		return
	}
	data, err := json.Marshal(transformed)
	if err != nil {
		respondInternal(w, r, err)
		return
	}

	d, err := cachestore.DiscriminatorFor(def, inst)
	if err != nil {
		respondInternal(w, r, err)
		return
	}
	entry, err := s.cache.Upsert(ctx, d, cachestore.Write{
		IntegrationID: def.ID,
		Data:          data,
	})
	if err != nil {
		respondInternal(w, r, err)
		return
	}

	metrics.WebhookRequestsTotal.WithLabelValues(def.ID, "accepted").Inc()
	metrics.RecordCacheWrite(def.ID, string(cachestore.StatusSuccess))
	respondData(w, http.StatusOK, map[string]any{
		"version":     entry.Version,
		"received_at": time.Now().UTC(),
	})
}

// authenticateWebhook dispatches on the definition's auth method. All
// secret comparisons are constant time.
func (s *Server) authenticateWebhook(r *http.Request, def *registry.Definition, inst *registry.Instance, body []byte) bool {
	switch def.WebhookAuth.Method {
	case registry.WebhookAuthHMAC:
		secret, ok := s.webhookSecret(r, def, inst)
		if !ok {
			return false
		}
		return verifyHMAC(body, r.Header.Get(def.WebhookAuth.SignatureHeaderName()), secret)
	case registry.WebhookAuthAPIKey:
		secret, ok := s.webhookSecret(r, def, inst)
		if !ok {
			return false
		}
		provided := r.Header.Get(def.WebhookAuth.APIKeyHeaderName())
		return provided != "" && subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) == 1
	case registry.WebhookAuthIPAllowlist:
		return ipAllowed(r, def.WebhookAuth.AllowedIPs)
	default:
		return false
	}
}

// webhookSecret resolves the shared secret from the stored credential
// payload, honoring the integration's credential scope.
func (s *Server) webhookSecret(r *http.Request, def *registry.Definition, inst *registry.Instance) (string, bool) {
	scopeRef := "org:" + inst.OrganizationID
	if def.CredentialScope == vault.ScopeWidgetInstance {
		scopeRef = "widget:" + inst.ID
	}
	cred, err := s.creds.Get(r.Context(), def.ID, scopeRef)
	if err != nil || !cred.IsValid {
		return "", false
	}
	payload, err := s.creds.Decrypt(cred)
	if err != nil {
		return "", false
	}
	secret, ok := payload[def.WebhookAuth.SecretField]
	return secret, ok && secret != ""
}

// verifyHMAC checks a hex HMAC-SHA256 signature over the raw body.
func verifyHMAC(body []byte, signature, secret string) bool {
	if signature == "" {
		return false
	}
	// Tolerate the common "sha256=" prefix.
	signature = strings.TrimPrefix(signature, "sha256=")

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}

// ipAllowed checks the request source against the allowlist. Entries may be
// single addresses or CIDR blocks.
func ipAllowed(r *http.Request, allowed []string) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}

	for _, entry := range allowed {
		if strings.Contains(entry, "/") {
			if prefix, err := netip.ParsePrefix(entry); err == nil && prefix.Contains(addr) {
				return true
			}
			continue
		}
		if other, err := netip.ParseAddr(entry); err == nil && other == addr {
			return true
		}
	}
	return false
}
