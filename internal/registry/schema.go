// Widgetsync - Third-Party Data Synchronization Engine for Signage Widgets
// Copyright 2026 SignageHub
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signagehub/widgetsync

// Package registry holds integration definitions: what an integration is,
// which fields its credentials and widget options require, how its data is
// fetched and how cache entries are keyed.
package registry

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// FieldType is the closed set of schema field types. Integration authors
// cannot extend it; unknown types are rejected at registration time.
type FieldType string

const (
	FieldString  FieldType = "string"
	FieldNumber  FieldType = "number"
	FieldBoolean FieldType = "boolean"
	FieldURL     FieldType = "url"
	FieldColor   FieldType = "color"
	FieldList    FieldType = "list"
	FieldMap     FieldType = "map"
	FieldRef     FieldType = "ref"
)

// Valid reports whether t is a known field type.
func (t FieldType) Valid() bool {
	switch t {
	case FieldString, FieldNumber, FieldBoolean, FieldURL, FieldColor, FieldList, FieldMap, FieldRef:
		return true
	}
	return false
}

// FieldSpec declares one typed field of a credential or config schema.
type FieldSpec struct {
	Name     string    `json:"name" yaml:"name"`
	Type     FieldType `json:"type" yaml:"type"`
	Required bool      `json:"required" yaml:"required"`
	Default  any       `json:"default,omitempty" yaml:"default"`
}

// FieldError describes a single schema violation.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// SchemaValidationError aggregates schema violations for one schema or one
// value set. It is returned whole so API consumers see every problem at once.
type SchemaValidationError struct {
	Errors []FieldError `json:"errors"`
}

func (e *SchemaValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "schema validation failed"
	}
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fmt.Sprintf("%s: %s", fe.Field, fe.Reason)
	}
	return "schema validation failed: " + strings.Join(parts, "; ")
}

// ValidateSchema checks a schema declaration itself: every field must have a
// name, a known type, and names must be unique.
func ValidateSchema(schema []FieldSpec) error {
	var errs []FieldError
	seen := make(map[string]bool, len(schema))
	for _, f := range schema {
		if f.Name == "" {
			errs = append(errs, FieldError{Field: "(unnamed)", Reason: "field name is required"})
			continue
		}
		if seen[f.Name] {
			errs = append(errs, FieldError{Field: f.Name, Reason: "duplicate field name"})
		}
		seen[f.Name] = true
		if !f.Type.Valid() {
			errs = append(errs, FieldError{Field: f.Name, Reason: fmt.Sprintf("unknown field type %q", f.Type)})
		}
	}
	if len(errs) > 0 {
		return &SchemaValidationError{Errors: errs}
	}
	return nil
}

// hexColorPattern matches #RGB and #RRGGBB colors.
var hexColorPattern = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

// ValidateValues checks a value map against a schema: required fields must
// be present and every present value must match its declared type. Fields
// absent from the schema are rejected so typos surface immediately.
func ValidateValues(schema []FieldSpec, values map[string]any) error {
	var errs []FieldError

	specs := make(map[string]FieldSpec, len(schema))
	for _, f := range schema {
		specs[f.Name] = f
	}

	for _, f := range schema {
		if _, present := values[f.Name]; !present && f.Required {
			errs = append(errs, FieldError{Field: f.Name, Reason: "required field is missing"})
		}
	}

	for name, val := range values {
		spec, ok := specs[name]
		if !ok {
			errs = append(errs, FieldError{Field: name, Reason: "field not declared in schema"})
			continue
		}
		if reason := checkType(spec.Type, val); reason != "" {
			errs = append(errs, FieldError{Field: name, Reason: reason})
		}
	}

	if len(errs) > 0 {
		return &SchemaValidationError{Errors: errs}
	}
	return nil
}

// checkType validates a single value against a field type. Returns an empty
// string when the value conforms. The switch is exhaustive over FieldType.
func checkType(t FieldType, val any) string {
	switch t {
	case FieldString:
		if _, ok := val.(string); !ok {
			return "expected string"
		}
	case FieldNumber:
		switch val.(type) {
		case float64, float32, int, int32, int64:
		default:
			return "expected number"
		}
	case FieldBoolean:
		if _, ok := val.(bool); !ok {
			return "expected boolean"
		}
	case FieldURL:
		s, ok := val.(string)
		if !ok {
			return "expected URL string"
		}
		u, err := url.Parse(s)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return "expected http(s) URL"
		}
	case FieldColor:
		s, ok := val.(string)
		if !ok || !hexColorPattern.MatchString(s) {
			return "expected hex color like #1a2b3c"
		}
	case FieldList:
		if _, ok := val.([]any); !ok {
			return "expected list"
		}
	case FieldMap:
		if _, ok := val.(map[string]any); !ok {
			return "expected map"
		}
	case FieldRef:
		s, ok := val.(string)
		if !ok || s == "" {
			return "expected non-empty reference"
		}
	default:
		return fmt.Sprintf("unknown field type %q", t)
	}
	return ""
}

// ApplyDefaults returns a copy of values with schema defaults filled in for
// absent optional fields. The input map is not modified.
func ApplyDefaults(schema []FieldSpec, values map[string]any) map[string]any {
	out := make(map[string]any, len(values))
	for k, v := range values {
		out[k] = v
	}
	for _, f := range schema {
		if _, present := out[f.Name]; !present && f.Default != nil {
			out[f.Name] = f.Default
		}
	}
	return out
}
