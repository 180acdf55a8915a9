// Widgetsync - Third-Party Data Synchronization Engine for Signage Widgets
// Copyright 2026 SignageHub
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signagehub/widgetsync

package vault

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/dgraph-io/badger/v4"
)

func testVault(t *testing.T) *Vault {
	t.Helper()
	v, err := New(bytes.Repeat([]byte{0x42}, 32))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return v
}

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

func TestNewRejectsShortKey(t *testing.T) {
	if _, err := New([]byte("too-short")); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("New(short key) error = %v, want ErrInvalidKey", err)
	}
}

func TestSealOpenRoundTrip(t *testing.T) {
	v := testVault(t)

	ciphertext, err := v.Seal("org:acme", []byte(`{"api_key":"s3cret"}`))
	if err != nil {
		t.Fatalf("Seal() error: %v", err)
	}
	if ciphertext == `{"api_key":"s3cret"}` {
		t.Fatal("ciphertext equals plaintext")
	}

	plaintext, err := v.Open("org:acme", ciphertext)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if string(plaintext) != `{"api_key":"s3cret"}` {
		t.Errorf("Open() = %q, want original plaintext", plaintext)
	}
}

func TestOpenWithWrongScopeFails(t *testing.T) {
	v := testVault(t)

	ciphertext, err := v.Seal("org:acme", []byte("secret"))
	if err != nil {
		t.Fatalf("Seal() error: %v", err)
	}

	if _, err := v.Open("org:other", ciphertext); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("Open() with wrong scope error = %v, want ErrDecryptionFailed", err)
	}
}

func TestOpenRejectsGarbage(t *testing.T) {
	v := testVault(t)

	if _, err := v.Open("org:acme", "not-base64!!!"); !errors.Is(err, ErrInvalidCiphertext) {
		t.Errorf("Open(garbage) error = %v, want ErrInvalidCiphertext", err)
	}
	if _, err := v.Open("org:acme", "c2hvcnQ="); !errors.Is(err, ErrInvalidCiphertext) {
		t.Errorf("Open(short) error = %v, want ErrInvalidCiphertext", err)
	}
}

func TestFilterMetadataDropsSensitiveKeys(t *testing.T) {
	in := map[string]any{
		"account_name":   "Acme Corp",
		"api_key":        "leaked",
		"apiKey":         "leaked",
		"user_token":     "leaked",
		"password":       "leaked",
		"client_secret":  "leaked",
		"signing_key":    "leaked",
		"encryption_key": "leaked",
		"key":            "leaked",
		"region":         "eu-west-1",
	}
	out := FilterMetadata(in)

	if len(out) != 2 {
		t.Fatalf("FilterMetadata kept %d keys, want 2: %v", len(out), out)
	}
	if _, ok := out["account_name"]; !ok {
		t.Error("account_name should survive filtering")
	}
	if _, ok := out["region"]; !ok {
		t.Error("region should survive filtering")
	}
	// Input must not be mutated.
	if len(in) != 10 {
		t.Error("FilterMetadata mutated its input")
	}
}

func TestScopeRefXOR(t *testing.T) {
	tests := []struct {
		name    string
		cred    Credential
		want    string
		wantErr bool
	}{
		{"org only", Credential{OrganizationID: "acme"}, "org:acme", false},
		{"widget only", Credential{WidgetInstanceID: "w1"}, "widget:w1", false},
		{"both", Credential{OrganizationID: "acme", WidgetInstanceID: "w1"}, "", true},
		{"neither", Credential{}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.cred.ScopeRef()
			if tt.wantErr {
				if !errors.Is(err, ErrScopeConflict) {
					t.Errorf("ScopeRef() error = %v, want ErrScopeConflict", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ScopeRef() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ScopeRef() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStorePutGetDecrypt(t *testing.T) {
	ctx := context.Background()
	store := NewStore(testDB(t), testVault(t))

	cred := &Credential{
		IntegrationID:  "weather",
		Scope:          ScopeOrganization,
		OrganizationID: "acme",
		Metadata: map[string]any{
			"account_name": "Acme Corp",
			"api_key":      "should-be-dropped",
		},
	}
	payload := map[string]string{"api_key": "s3cret"}

	stored, err := store.Put(ctx, cred, payload)
	if err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	if stored.ID == "" {
		t.Error("stored credential has no ID")
	}
	if !stored.IsValid || stored.ValidatedAt == nil {
		t.Error("stored credential should be valid with validated_at set")
	}
	if _, ok := stored.Metadata["api_key"]; ok {
		t.Error("sensitive metadata key survived Put")
	}

	got, err := store.Get(ctx, "weather", "org:acme")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	decrypted, err := store.Decrypt(got)
	if err != nil {
		t.Fatalf("Decrypt() error: %v", err)
	}
	if decrypted["api_key"] != "s3cret" {
		t.Errorf("Decrypt() api_key = %q, want s3cret", decrypted["api_key"])
	}
}

func TestStorePutPreservesIdentityOnReplace(t *testing.T) {
	ctx := context.Background()
	store := NewStore(testDB(t), testVault(t))

	cred := &Credential{IntegrationID: "weather", Scope: ScopeOrganization, OrganizationID: "acme"}
	first, err := store.Put(ctx, cred, map[string]string{"api_key": "v1"})
	if err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	second, err := store.Put(ctx, cred, map[string]string{"api_key": "v2"})
	if err != nil {
		t.Fatalf("Put() replace error: %v", err)
	}

	if second.ID != first.ID {
		t.Errorf("replacement changed ID: %q -> %q", first.ID, second.ID)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Error("replacement changed CreatedAt")
	}

	decrypted, err := store.Decrypt(second)
	if err != nil {
		t.Fatalf("Decrypt() error: %v", err)
	}
	if decrypted["api_key"] != "v2" {
		t.Errorf("payload = %q, want v2", decrypted["api_key"])
	}
}

func TestRotateTxMirrorsExpiryIntoMetadata(t *testing.T) {
	ctx := context.Background()
	store := NewStore(testDB(t), testVault(t))

	cred := &Credential{
		IntegrationID:  "scores",
		Scope:          ScopeOrganization,
		OrganizationID: "acme",
		Metadata:       map[string]any{"account_name": "Acme Corp"},
	}
	stored, err := store.Put(ctx, cred, map[string]string{"access_token": "old"})
	if err != nil {
		t.Fatalf("Put() error: %v", err)
	}

	rotated := map[string]string{
		"access_token": "fresh",
		"expires_at":   "2026-08-30T13:00:00Z",
	}
	err = store.db.Update(func(txn *badger.Txn) error {
		return store.RotateTx(txn, stored, rotated)
	})
	if err != nil {
		t.Fatalf("RotateTx() error: %v", err)
	}

	got, err := store.Get(ctx, "scores", "org:acme")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.Metadata["expires_at"] != "2026-08-30T13:00:00Z" {
		t.Errorf("Metadata expires_at = %v, want rotated expiry", got.Metadata["expires_at"])
	}
	if got.Metadata["account_name"] != "Acme Corp" {
		t.Error("rotation dropped existing metadata")
	}
	decrypted, err := store.Decrypt(got)
	if err != nil {
		t.Fatalf("Decrypt() error: %v", err)
	}
	if decrypted["access_token"] != "fresh" {
		t.Errorf("payload access_token = %q, want fresh", decrypted["access_token"])
	}
}

func TestStoreRejectsScopeConflict(t *testing.T) {
	ctx := context.Background()
	store := NewStore(testDB(t), testVault(t))

	cred := &Credential{
		IntegrationID:    "weather",
		OrganizationID:   "acme",
		WidgetInstanceID: "w1",
	}
	if _, err := store.Put(ctx, cred, map[string]string{"k": "v"}); !errors.Is(err, ErrScopeConflict) {
		t.Errorf("Put() error = %v, want ErrScopeConflict", err)
	}
}

func TestStoreMarkInvalid(t *testing.T) {
	ctx := context.Background()
	store := NewStore(testDB(t), testVault(t))

	cred := &Credential{IntegrationID: "weather", Scope: ScopeOrganization, OrganizationID: "acme"}
	if _, err := store.Put(ctx, cred, map[string]string{"api_key": "v1"}); err != nil {
		t.Fatalf("Put() error: %v", err)
	}

	if err := store.MarkInvalid(ctx, "weather", "org:acme"); err != nil {
		t.Fatalf("MarkInvalid() error: %v", err)
	}
	got, err := store.Get(ctx, "weather", "org:acme")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.IsValid {
		t.Error("credential should be invalid after MarkInvalid")
	}
}

func TestStoreGetMissing(t *testing.T) {
	store := NewStore(testDB(t), testVault(t))
	if _, err := store.Get(context.Background(), "weather", "org:none"); !errors.Is(err, ErrCredentialNotFound) {
		t.Errorf("Get() error = %v, want ErrCredentialNotFound", err)
	}
}

func TestPublicViewStripsCiphertext(t *testing.T) {
	cred := &Credential{
		IntegrationID:  "weather",
		OrganizationID: "acme",
		Ciphertext:     "sealed",
		Metadata:       map[string]any{"account_name": "Acme", "token": "x"},
	}
	view := cred.PublicView()
	if view.Ciphertext != "" {
		t.Error("PublicView retained ciphertext")
	}
	if _, ok := view.Metadata["token"]; ok {
		t.Error("PublicView retained sensitive metadata")
	}
	if cred.Ciphertext != "sealed" {
		t.Error("PublicView mutated the original credential")
	}
}
