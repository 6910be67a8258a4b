// Copyright 2026 The quantfeed Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package schema

import (
	"sort"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// Record is one canonical Data row. Core fields live in values under their
// canonical names; provider-specific fields with no canonical mapping are
// kept in Extras keyed by provider name.
type Record struct {
	spec   *DataSpec
	values map[string]any
	// Extras holds provider-specific fields that are not part of the
	// canonical schema, keyed by provider name. They are reported to the
	// caller but carry no cross-provider guarantee.
	Extras map[string]map[string]any
}

// ParseRecord validates one raw provider row against the data spec. Raw keys
// are matched to canonical fields first by name, then through the alias table
// in declaration order; unmatched keys land in the provider's extras bucket.
// The transform is pure and idempotent.
func ParseRecord(spec *DataSpec, provider string, raw map[string]any) (*Record, error) {
	rec := &Record{
		spec:   spec,
		values: make(map[string]any, len(spec.Fields)),
		Extras: make(map[string]map[string]any),
	}

	// Deterministic iteration keeps alias tie-breaks stable.
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		field, ok := spec.resolve(key)
		if !ok {
			if rec.Extras[provider] == nil {
				rec.Extras[provider] = make(map[string]any)
			}
			rec.Extras[provider][key] = raw[key]
			continue
		}
		if _, dup := rec.values[field.Name]; dup {
			// First matching alias wins.
			continue
		}
		v, err := Coerce(field.Kind, raw[key])
		if err != nil {
			return nil, &SchemaValidationError{
				Schema:   spec.Name,
				Provider: provider,
				Field:    field.Name,
				Expected: string(field.Kind),
				Got:      describe(raw[key]),
			}
		}
		rec.values[field.Name] = v
	}

	for _, f := range spec.Fields {
		if f.Required {
			if _, ok := rec.values[f.Name]; !ok {
				return nil, &SchemaValidationError{
					Schema:   spec.Name,
					Provider: provider,
					Field:    f.Name,
					Expected: string(f.Kind),
					Got:      "missing required field",
				}
			}
		}
	}
	return rec, nil
}

// Spec returns the data spec this record was validated against.
func (r *Record) Spec() *DataSpec { return r.spec }

// Get returns the coerced value of a canonical field.
func (r *Record) Get(name string) (any, bool) {
	v, ok := r.values[name]
	return v, ok
}

// Key returns the primary-key value used for deterministic ordering.
func (r *Record) Key() any {
	return r.values[r.spec.PrimaryKey]
}

// ExtraCount returns the number of provider-specific fields on the record.
func (r *Record) ExtraCount() int {
	n := 0
	for _, bucket := range r.Extras {
		n += len(bucket)
	}
	return n
}

// FlatMap renders the record back into the raw shape ParseRecord accepts:
// canonical values merged with the named provider's extras. Re-parsing the
// result yields an equal record.
func (r *Record) FlatMap(provider string) map[string]any {
	out := make(map[string]any, len(r.values)+len(r.Extras[provider]))
	for k, v := range r.values {
		out[k] = v
	}
	for k, v := range r.Extras[provider] {
		out[k] = v
	}
	return out
}

// Equal compares canonical values and extras. Decimal values compare by
// numeric value, not representation.
func (r *Record) Equal(other *Record) bool {
	if other == nil || len(r.values) != len(other.values) {
		return false
	}
	for k, v := range r.values {
		ov, ok := other.values[k]
		if !ok || CompareValues(v, ov) != 0 {
			return false
		}
	}
	if len(r.Extras) != len(other.Extras) {
		return false
	}
	for p, bucket := range r.Extras {
		obucket, ok := other.Extras[p]
		if !ok || len(bucket) != len(obucket) {
			return false
		}
		for k, v := range bucket {
			if describe(v) != describe(obucket[k]) {
				return false
			}
		}
	}
	return true
}

// MarshalJSON flattens canonical values and appends a provider-namespaced
// extras object when any extras are present.
func (r *Record) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.values)+1)
	for k, v := range r.values {
		out[k] = v
	}
	if len(r.Extras) > 0 {
		out["extras"] = r.Extras
	}
	return json.Marshal(out)
}

// CompareValues orders two canonical values of the same kind. Mixed kinds
// fall back to string comparison so ordering stays total and deterministic.
func CompareValues(a, b any) int {
	switch av := a.(type) {
	case Date:
		if bv, ok := b.(Date); ok {
			if av.Before(bv) {
				return -1
			}
			if bv.Before(av) {
				return 1
			}
			return 0
		}
	case decimal.Decimal:
		if bv, ok := b.(decimal.Decimal); ok {
			return av.Cmp(bv)
		}
	case int64:
		if bv, ok := b.(int64); ok {
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			}
			return 0
		}
	case float64:
		if bv, ok := b.(float64); ok {
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			}
			return 0
		}
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(av, bv)
		}
	}
	return strings.Compare(describe(a), describe(b))
}

func describe(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "unserializable value"
	}
	return string(b)
}
