// Widgetsync - Third-Party Data Synchronization Engine for Signage Widgets
// Copyright 2026 SignageHub
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signagehub/widgetsync

package registry

import (
	"errors"
	"testing"
)

func TestValidateSchemaRejectsUnknownType(t *testing.T) {
	schema := []FieldSpec{
		{Name: "api_key", Type: FieldString, Required: true},
		{Name: "weird", Type: FieldType("datetime")},
	}

	err := ValidateSchema(schema)
	var sve *SchemaValidationError
	if !errors.As(err, &sve) {
		t.Fatalf("ValidateSchema() error = %v, want *SchemaValidationError", err)
	}
	if len(sve.Errors) != 1 || sve.Errors[0].Field != "weird" {
		t.Errorf("unexpected errors: %+v", sve.Errors)
	}
}

func TestValidateSchemaRejectsDuplicates(t *testing.T) {
	schema := []FieldSpec{
		{Name: "api_key", Type: FieldString},
		{Name: "api_key", Type: FieldString},
	}
	if err := ValidateSchema(schema); err == nil {
		t.Fatal("expected error for duplicate field names")
	}
}

func TestValidateValuesTypeChecks(t *testing.T) {
	schema := []FieldSpec{
		{Name: "title", Type: FieldString},
		{Name: "count", Type: FieldNumber},
		{Name: "enabled", Type: FieldBoolean},
		{Name: "endpoint", Type: FieldURL},
		{Name: "accent", Type: FieldColor},
		{Name: "tags", Type: FieldList},
		{Name: "extra", Type: FieldMap},
		{Name: "board", Type: FieldRef},
	}

	good := map[string]any{
		"title":    "News",
		"count":    float64(5),
		"enabled":  true,
		"endpoint": "https://api.example.com/v1",
		"accent":   "#1a2b3c",
		"tags":     []any{"a", "b"},
		"extra":    map[string]any{"k": "v"},
		"board":    "board-42",
	}
	if err := ValidateValues(schema, good); err != nil {
		t.Fatalf("ValidateValues(good) error: %v", err)
	}

	bad := []struct {
		field string
		value any
	}{
		{"title", 7},
		{"count", "five"},
		{"enabled", "yes"},
		{"endpoint", "ftp://example.com"},
		{"endpoint", "not a url"},
		{"accent", "#12"},
		{"accent", "blue"},
		{"tags", "a,b"},
		{"extra", []any{}},
		{"board", ""},
	}
	for _, tt := range bad {
		vals := map[string]any{tt.field: tt.value}
		err := ValidateValues(schema, vals)
		var sve *SchemaValidationError
		if !errors.As(err, &sve) {
			t.Errorf("ValidateValues(%s=%v) error = %v, want *SchemaValidationError", tt.field, tt.value, err)
		}
	}
}

func TestValidateValuesRequiredAndUndeclared(t *testing.T) {
	schema := []FieldSpec{
		{Name: "api_key", Type: FieldString, Required: true},
	}

	err := ValidateValues(schema, map[string]any{"typo_key": "x"})
	var sve *SchemaValidationError
	if !errors.As(err, &sve) {
		t.Fatalf("error = %v, want *SchemaValidationError", err)
	}
	// Both problems should be reported at once.
	if len(sve.Errors) != 2 {
		t.Errorf("got %d errors, want 2 (missing required + undeclared): %+v", len(sve.Errors), sve.Errors)
	}
}

func TestApplyDefaults(t *testing.T) {
	schema := []FieldSpec{
		{Name: "max_items", Type: FieldNumber, Default: float64(10)},
		{Name: "title", Type: FieldString},
	}
	in := map[string]any{"title": "News"}
	out := ApplyDefaults(schema, in)

	if out["max_items"] != float64(10) {
		t.Errorf("default not applied: %v", out)
	}
	if _, ok := in["max_items"]; ok {
		t.Error("ApplyDefaults mutated its input")
	}

	// An explicit value wins over the default.
	out = ApplyDefaults(schema, map[string]any{"max_items": float64(3)})
	if out["max_items"] != float64(3) {
		t.Errorf("explicit value overridden by default: %v", out)
	}
}
