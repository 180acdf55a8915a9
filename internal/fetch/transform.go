// Widgetsync - Third-Party Data Synchronization Engine for Signage Widgets
// Copyright 2026 SignageHub
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signagehub/widgetsync

package fetch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/itchyny/gojq"
)

// defaultTransformTimeout bounds a single jq program run. Transform
// programs come from integration definitions, not end users, but a
// pathological expression must not stall a scheduler worker.
const defaultTransformTimeout = 5 * time.Second

// Transformer runs jq programs that reshape third-party payloads into the
// widget data format. Compiled programs are cached by expression.
type Transformer struct {
	timeout time.Duration

	mu    sync.Mutex
	cache map[string]*gojq.Code
}

// NewTransformer creates a Transformer. A non-positive timeout falls back
// to the default.
func NewTransformer(timeout time.Duration) *Transformer {
	if timeout <= 0 {
		timeout = defaultTransformTimeout
	}
	return &Transformer{
		timeout: timeout,
		cache:   make(map[string]*gojq.Code),
	}
}

// compile parses and compiles an expression, caching the result.
func (t *Transformer) compile(expr string) (*gojq.Code, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if code, ok := t.cache[expr]; ok {
		return code, nil
	}

	query, err := gojq.Parse(expr)
	if err != nil {
		return nil, &PayloadError{Reason: "parse transform", Err: err}
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, &PayloadError{Reason: "compile transform", Err: err}
	}
	t.cache[expr] = code
	return code, nil
}

// Apply runs expr against input and returns the first result. An empty
// expression passes input through unchanged.
func (t *Transformer) Apply(ctx context.Context, expr string, input any) (any, error) {
	if expr == "" {
		return input, nil
	}

	code, err := t.compile(expr)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	iter := code.RunWithContext(runCtx, input)
	v, ok := iter.Next()
	if !ok {
		return nil, &PayloadError{Reason: "transform produced no output"}
	}
	if err, isErr := v.(error); isErr {
		return nil, &PayloadError{Reason: "transform failed", Err: err}
	}
	return v, nil
}

// Validate compiles expr without running it. The registry calls this when a
// definition is stored so bad programs fail at write time.
func (t *Transformer) Validate(expr string) error {
	if expr == "" {
		return nil
	}
	if _, err := t.compile(expr); err != nil {
		return fmt.Errorf("fetch: invalid transform: %w", err)
	}
	return nil
}
