// Copyright 2026 The quantfeed Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dispatch

import (
	"fmt"
	"strings"

	"github.com/quantfeed/quantfeed/internal/provider"
	"github.com/quantfeed/quantfeed/internal/router"
	"github.com/quantfeed/quantfeed/internal/schema"
)

// Metadata carries execution details alongside the data payload.
type Metadata struct {
	// RequestID is the UUIDv7 correlation id assigned at dispatch.
	RequestID string `json:"request_id"`
	// Command is the normalized command path.
	Command string `json:"command"`
	// DurationMS is the total dispatch wall time in milliseconds.
	DurationMS int64 `json:"duration_ms"`
	// Attempts counts providers contacted, including failed ones.
	Attempts int `json:"attempts"`
	// ExtraCount is the number of provider-specific fields across records.
	ExtraCount int `json:"extra_count"`
	// SnapshotVersion identifies the snapshot the request ran against.
	SnapshotVersion int64 `json:"snapshot_version"`
}

// ChartHints tells chart-capable clients how to plot the records.
type ChartHints struct {
	// XField is the primary-key field, typically a date.
	XField string `json:"x_field"`
	// YFields are the numeric canonical fields.
	YFields []string `json:"y_fields"`
}

// ResponseEnvelope wraps canonical records with provenance, warnings and
// execution metadata. One envelope per completed dispatch.
type ResponseEnvelope struct {
	Data     []*schema.Record `json:"data"`
	Provider string           `json:"provider"`
	Warnings []string         `json:"warnings"`
	Metadata Metadata         `json:"metadata"`
	Chart    *ChartHints      `json:"chart,omitempty"`
}

// chartHints derives plot hints from the data spec: the primary key on the
// x axis, numeric fields on the y axis. Nil when nothing is plottable.
func chartHints(leaf *router.Leaf) *ChartHints {
	if leaf.Data.PrimaryKey == "" {
		return nil
	}
	var y []string
	for _, f := range leaf.Data.Fields {
		switch f.Kind {
		case schema.KindDecimal, schema.KindFloat, schema.KindInt:
			if f.Name != leaf.Data.PrimaryKey {
				y = append(y, f.Name)
			}
		}
	}
	if len(y) == 0 {
		return nil
	}
	return &ChartHints{XField: leaf.Data.PrimaryKey, YFields: y}
}

// ProviderFailure is one provider's failure inside an aggregate error.
type ProviderFailure struct {
	Provider string
	Err      error
}

// AggregateError reports that every attempted provider failed. It carries
// each provider's individual failure reason.
type AggregateError struct {
	Command  string
	Failures []ProviderFailure
}

func (e *AggregateError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.Provider, f.Err))
	}
	return fmt.Sprintf("all providers failed for %s: [%s]", e.Command, strings.Join(parts, "; "))
}

// ProviderNotEligibleError reports an explicitly named provider that is not
// eligible for the command. Terminal: pinning disables fallback.
type ProviderNotEligibleError struct {
	Provider string
	Command  string
}

func (e *ProviderNotEligibleError) Error() string {
	return fmt.Sprintf("provider %q is not eligible for %s", e.Provider, e.Command)
}

// CommandUnavailableError reports a leaf marked unavailable because no
// eligible provider is installed.
type CommandUnavailableError struct {
	Command string
}

func (e *CommandUnavailableError) Error() string {
	return fmt.Sprintf("command %s is marked unavailable: no eligible providers", e.Command)
}

// warnf formats a provider-scoped warning string for the envelope.
func warnf(providerName string, err error) string {
	switch err.(type) {
	case *schema.SchemaValidationError:
		return fmt.Sprintf("provider %s returned data violating the canonical schema: %v", providerName, err)
	case *provider.ProviderUnavailableError:
		return fmt.Sprintf("provider %s was unavailable: %v", providerName, err)
	default:
		return fmt.Sprintf("provider %s failed: %v", providerName, err)
	}
}
