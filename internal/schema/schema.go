// Copyright 2026 The quantfeed Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package schema defines the canonical Query and Data types shared by all
// provider adapters. Provider responses are normalized into canonical records
// through a declaration-ordered alias table; provider-specific fields that
// have no canonical name are retained in a per-provider extras bucket rather
// than dropped.
package schema

import (
	"fmt"
	"sort"
	"strings"
)

// FieldKind enumerates the canonical field types supported by the schema layer.
type FieldKind string

const (
	KindString  FieldKind = "string"
	KindInt     FieldKind = "int"
	KindFloat   FieldKind = "float"
	KindDecimal FieldKind = "decimal"
	KindDate    FieldKind = "date"
	KindBool    FieldKind = "bool"
)

// ParseKind converts a manifest type name into a FieldKind.
func ParseKind(name string) (FieldKind, error) {
	switch FieldKind(strings.ToLower(name)) {
	case KindString, KindInt, KindFloat, KindDecimal, KindDate, KindBool:
		return FieldKind(strings.ToLower(name)), nil
	case "":
		return KindString, nil
	default:
		return "", fmt.Errorf("schema: unknown field type %q", name)
	}
}

// Field describes one canonical field of a Query or Data schema.
type Field struct {
	// Name is the canonical field name.
	Name string
	// Kind is the canonical field type.
	Kind FieldKind
	// Required marks fields that must be present.
	Required bool
	// Aliases lists provider-side names that map onto this canonical field,
	// in declaration order. The first matching alias wins.
	Aliases []string
	// Providers restricts an optional Query field to the providers that
	// accept it. Empty means every provider accepts the field.
	Providers []string
}

// AcceptedBy reports whether the named provider accepts this field.
func (f Field) AcceptedBy(provider string) bool {
	if len(f.Providers) == 0 {
		return true
	}
	for _, p := range f.Providers {
		if strings.EqualFold(p, provider) {
			return true
		}
	}
	return false
}

// QuerySpec is the canonical input schema for one command.
type QuerySpec struct {
	// Name identifies the schema; two routes conflict unless their schema
	// names match.
	Name   string
	Fields []Field
}

// Field returns the field declaration for the given canonical name.
func (qs *QuerySpec) Field(name string) (Field, bool) {
	for _, f := range qs.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// DataSpec is the canonical output schema for one command.
type DataSpec struct {
	Name string
	// PrimaryKey names the field used for deterministic result ordering.
	PrimaryKey string
	Fields     []Field
}

// Field returns the field declaration for the given canonical name.
func (ds *DataSpec) Field(name string) (Field, bool) {
	for _, f := range ds.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// resolve maps a raw provider-side key onto a canonical field. Canonical
// names match first, then aliases in declaration order.
func (ds *DataSpec) resolve(key string) (Field, bool) {
	for _, f := range ds.Fields {
		if strings.EqualFold(f.Name, key) {
			return f, true
		}
	}
	for _, f := range ds.Fields {
		for _, alias := range f.Aliases {
			if strings.EqualFold(alias, key) {
				return f, true
			}
		}
	}
	return Field{}, false
}

// Query is the immutable canonical input for one dispatch. Values are coerced
// and validated at construction and never mutated afterwards.
type Query struct {
	spec   *QuerySpec
	values map[string]any
}

// NewQuery coerces raw transport parameters against the spec. Unknown
// parameters and missing required fields fail with a SchemaValidationError.
func NewQuery(spec *QuerySpec, raw map[string]string) (*Query, error) {
	values := make(map[string]any, len(raw))
	for key, rawVal := range raw {
		field, ok := spec.Field(key)
		if !ok {
			return nil, &SchemaValidationError{
				Schema:   spec.Name,
				Field:    key,
				Expected: "declared query field",
				Got:      "unknown parameter",
			}
		}
		v, err := Coerce(field.Kind, rawVal)
		if err != nil {
			return nil, &SchemaValidationError{
				Schema:   spec.Name,
				Field:    key,
				Expected: string(field.Kind),
				Got:      fmt.Sprintf("%q", rawVal),
			}
		}
		values[field.Name] = v
	}
	for _, f := range spec.Fields {
		if f.Required {
			if _, ok := values[f.Name]; !ok {
				return nil, &SchemaValidationError{
					Schema:   spec.Name,
					Field:    f.Name,
					Expected: string(f.Kind),
					Got:      "missing required field",
				}
			}
		}
	}
	return &Query{spec: spec, values: values}, nil
}

// Spec returns the schema this query was validated against.
func (q *Query) Spec() *QuerySpec { return q.spec }

// Get returns the coerced value for a canonical field name.
func (q *Query) Get(name string) (any, bool) {
	v, ok := q.values[name]
	return v, ok
}

// String returns the value of a string-kinded field, or "" when absent.
func (q *Query) String(name string) string {
	if v, ok := q.values[name]; ok {
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprintf("%v", v)
	}
	return ""
}

// Fields returns the set field names in sorted order.
func (q *Query) Fields() []string {
	names := make([]string, 0, len(q.values))
	for name := range q.values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Unsupported returns the set fields the named provider does not accept.
func (q *Query) Unsupported(provider string) []string {
	var rejected []string
	for _, name := range q.Fields() {
		if f, ok := q.spec.Field(name); ok && !f.AcceptedBy(provider) {
			rejected = append(rejected, name)
		}
	}
	return rejected
}
