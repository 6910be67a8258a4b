// Copyright 2026 The quantfeed Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package schema

import "fmt"

// SchemaValidationError reports a provider payload or transport parameter
// that does not satisfy the canonical schema. It names the offending field
// and the expected type so callers can pinpoint the contract violation.
type SchemaValidationError struct {
	// Schema is the canonical schema name.
	Schema string
	// Provider is the provider whose payload failed, empty for transport input.
	Provider string
	// Field is the canonical field that failed validation.
	Field string
	// Expected describes the expected type or presence.
	Expected string
	// Got describes the value actually seen.
	Got string
}

func (e *SchemaValidationError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("schema %s: provider %s: field %q: expected %s, got %s",
			e.Schema, e.Provider, e.Field, e.Expected, e.Got)
	}
	return fmt.Sprintf("schema %s: field %q: expected %s, got %s",
		e.Schema, e.Field, e.Expected, e.Got)
}
