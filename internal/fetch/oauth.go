// Widgetsync - Third-Party Data Synchronization Engine for Signage Widgets
// Copyright 2026 SignageHub
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signagehub/widgetsync

package fetch

import (
	"context"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/signagehub/widgetsync/internal/logging"
)

// FetcherOAuthAPI is the registry name of the OAuth-wrapped JSON fetcher.
const FetcherOAuthAPI = "oauth_api"

// Credential payload fields the OAuth fetcher reads and writes.
const (
	credAccessToken  = "access_token"
	credRefreshToken = "refresh_token"
	credExpiresAt    = "expires_at"
	credClientID     = "client_id"
	credClientSecret = "client_secret"
)

// OAuthFetcher decorates another fetcher with proactive token refresh.
//
// Before delegating, it checks the credential's expires_at against the
// refresh margin. A token that is expired or about to expire is refreshed
// first, so the data call never burns a request on a 401 round trip. The
// rotated tokens are returned in Result.UpdatedCredentials for the caller
// to persist atomically with the data write.
type OAuthFetcher struct {
	inner         Fetcher
	refreshMargin time.Duration

	// now is replaceable in tests.
	now func() time.Time
}

// NewOAuthFetcher wraps inner with token refresh handling.
func NewOAuthFetcher(inner Fetcher, refreshMargin time.Duration) *OAuthFetcher {
	return &OAuthFetcher{inner: inner, refreshMargin: refreshMargin, now: time.Now}
}

// Fetch implements Fetcher.
func (f *OAuthFetcher) Fetch(ctx context.Context, req Request) (*Result, error) {
	creds := req.Credentials
	var rotated Credentials

	if f.needsRefresh(creds) {
		refreshed, err := f.refresh(ctx, req, creds)
		if err != nil {
			return nil, &CredentialError{Reason: "token refresh failed", Err: err}
		}
		rotated = refreshed
		req.Credentials = refreshed
		logging.Ctx(ctx).Debug().Msg("oauth token refreshed")
	}

	res, err := f.inner.Fetch(ctx, req)
	if err != nil {
		// A refresh that succeeded must still be persisted even though
		// the data call failed; the old token is already invalid.
		if rotated != nil {
			return &Result{UpdatedCredentials: rotated}, err
		}
		return nil, err
	}
	if rotated != nil {
		res.UpdatedCredentials = rotated
	}
	return res, nil
}

// needsRefresh reports whether the access token is missing, expired, or
// inside the refresh margin.
func (f *OAuthFetcher) needsRefresh(creds Credentials) bool {
	if creds[credAccessToken] == "" {
		return true
	}
	raw := creds[credExpiresAt]
	if raw == "" {
		return false
	}
	expiresAt, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		// An unreadable expiry is treated as expired; refreshing is the
		// recoverable path.
		return true
	}
	return !f.now().Before(expiresAt.Add(-f.refreshMargin))
}

// refresh obtains a fresh token. With a refresh token it runs the refresh
// grant; otherwise it falls back to the client credentials grant.
func (f *OAuthFetcher) refresh(ctx context.Context, req Request, creds Credentials) (Credentials, error) {
	tokenURL := optionString(req.Options, "token_url")
	if tokenURL == "" {
		return nil, &PayloadError{Reason: "token_url is not configured"}
	}

	var token *oauth2.Token
	var err error
	if creds[credRefreshToken] != "" {
		conf := &oauth2.Config{
			ClientID:     creds[credClientID],
			ClientSecret: creds[credClientSecret],
			Endpoint:     oauth2.Endpoint{TokenURL: tokenURL},
		}
		token, err = conf.TokenSource(ctx, &oauth2.Token{RefreshToken: creds[credRefreshToken]}).Token()
	} else {
		conf := &clientcredentials.Config{
			ClientID:     creds[credClientID],
			ClientSecret: creds[credClientSecret],
			TokenURL:     tokenURL,
		}
		token, err = conf.Token(ctx)
	}
	if err != nil {
		return nil, err
	}

	updated := creds.Clone()
	updated[credAccessToken] = token.AccessToken
	if token.RefreshToken != "" {
		updated[credRefreshToken] = token.RefreshToken
	}
	if !token.Expiry.IsZero() {
		updated[credExpiresAt] = token.Expiry.UTC().Format(time.RFC3339)
	}
	return updated, nil
}
