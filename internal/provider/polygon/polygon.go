// Copyright 2026 The quantfeed Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package polygon implements the Polygon.io provider adapter. Polygon
// authenticates with a bearer key and returns aggregate rows under a nested
// "results" array with single-letter field names (o/h/l/c/v/t); the alias
// table in the command's data spec maps those onto canonical names.
package polygon

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/quantfeed/quantfeed/internal/credstore"
	"github.com/quantfeed/quantfeed/internal/provider"
	"github.com/quantfeed/quantfeed/internal/schema"
)

const (
	// Name is the provider name used in registries and envelopes.
	Name = "polygon"

	defaultBaseURL = "https://api.polygon.io"
)

const (
	cmdHistorical = "/equity/price/historical"
	cmdQuote      = "/equity/quote"
)

// Adapter is the Polygon provider adapter.
type Adapter struct {
	client  *provider.Client
	baseURL string
	now     func() time.Time
}

// New builds a Polygon adapter over the shared HTTP client.
func New(client *provider.Client, baseURL string) *Adapter {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Adapter{client: client, baseURL: strings.TrimRight(baseURL, "/"), now: time.Now}
}

// Name returns the provider name.
func (a *Adapter) Name() string { return Name }

// Supports reports whether Polygon implements the command.
func (a *Adapter) Supports(command string) bool {
	return command == cmdHistorical || command == cmdQuote
}

// RequiredCredentials names the credential keys Polygon needs.
func (a *Adapter) RequiredCredentials() []string { return []string{"api_key"} }

// BuildRequest translates a canonical query into a Polygon aggregates request.
func (a *Adapter) BuildRequest(command string, q *schema.Query) (*provider.Request, error) {
	if err := provider.CheckSupported(Name, q); err != nil {
		return nil, err
	}
	symbol := strings.ToUpper(q.String("symbol"))

	switch command {
	case cmdHistorical:
		from := q.String("start_date")
		to := q.String("end_date")
		if to == "" {
			to = a.now().UTC().Format("2006-01-02")
		}
		if from == "" {
			from = a.now().UTC().AddDate(-1, 0, 0).Format("2006-01-02")
		}
		u := fmt.Sprintf("%s/v2/aggs/ticker/%s/range/1/day/%s/%s", a.baseURL, symbol, from, to)
		req := provider.NewRequest(Name, command, u)
		req.Query.Set("adjusted", "true")
		req.Query.Set("sort", "asc")
		return req, nil
	case cmdQuote:
		u := fmt.Sprintf("%s/v2/aggs/ticker/%s/prev", a.baseURL, symbol)
		req := provider.NewRequest(Name, command, u)
		req.Query.Set("adjusted", "true")
		return req, nil
	}
	return nil, &provider.UnsupportedParameterError{Provider: Name, Field: "command:" + command}
}

// Fetch executes the request with bearer-key authentication.
func (a *Adapter) Fetch(ctx context.Context, req *provider.Request, creds credstore.Credentials) ([]byte, error) {
	if creds.APIKey() == "" {
		return nil, &provider.AuthenticationError{Provider: Name, Reason: "missing api_key"}
	}
	req.Header.Set("Authorization", "Bearer "+creds.APIKey())
	return a.client.Do(ctx, req)
}

// Parse normalizes a Polygon payload into canonical records.
func (a *Adapter) Parse(command string, spec *schema.DataSpec, raw []byte) ([]*schema.Record, error) {
	if !gjson.ValidBytes(raw) {
		return nil, &schema.SchemaValidationError{
			Schema: spec.Name, Provider: Name,
			Field: "(payload)", Expected: "json", Got: "malformed body",
		}
	}

	rows := gjson.GetBytes(raw, "results")
	if !rows.IsArray() {
		return nil, &schema.SchemaValidationError{
			Schema: spec.Name, Provider: Name,
			Field: "results", Expected: "array of rows", Got: rows.Type.String(),
		}
	}

	records := make([]*schema.Record, 0, len(rows.Array()))
	for _, row := range rows.Array() {
		m, ok := row.Value().(map[string]any)
		if !ok {
			return nil, &schema.SchemaValidationError{
				Schema: spec.Name, Provider: Name,
				Field: "results", Expected: "object", Got: row.Type.String(),
			}
		}
		rec, err := schema.ParseRecord(spec, Name, m)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}
