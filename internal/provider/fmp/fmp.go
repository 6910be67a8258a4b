// Copyright 2026 The quantfeed Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package fmp implements the Financial Modeling Prep provider adapter.
// FMP authenticates with an apikey query parameter and returns flat JSON
// arrays, so parsing is a straight row-by-row normalization.
package fmp

import (
	"context"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/quantfeed/quantfeed/internal/credstore"
	"github.com/quantfeed/quantfeed/internal/provider"
	"github.com/quantfeed/quantfeed/internal/schema"
)

const (
	// Name is the provider name used in registries and envelopes.
	Name = "fmp"

	defaultBaseURL = "https://financialmodelingprep.com/api/v3"
)

const (
	cmdHistorical = "/equity/price/historical"
	cmdQuote      = "/equity/quote"
)

// Adapter is the FMP provider adapter.
type Adapter struct {
	client  *provider.Client
	baseURL string
}

// New builds an FMP adapter over the shared HTTP client. An empty baseURL
// selects the production endpoint.
func New(client *provider.Client, baseURL string) *Adapter {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Adapter{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

// Name returns the provider name.
func (a *Adapter) Name() string { return Name }

// Supports reports whether FMP implements the command.
func (a *Adapter) Supports(command string) bool {
	return command == cmdHistorical || command == cmdQuote
}

// RequiredCredentials names the credential keys FMP needs.
func (a *Adapter) RequiredCredentials() []string { return []string{"api_key"} }

// BuildRequest translates a canonical query into an FMP request.
func (a *Adapter) BuildRequest(command string, q *schema.Query) (*provider.Request, error) {
	if err := provider.CheckSupported(Name, q); err != nil {
		return nil, err
	}
	symbol := strings.ToUpper(q.String("symbol"))

	switch command {
	case cmdHistorical:
		req := provider.NewRequest(Name, command, a.baseURL+"/historical-price-full/"+symbol)
		if v := q.String("start_date"); v != "" {
			req.Query.Set("from", v)
		}
		if v := q.String("end_date"); v != "" {
			req.Query.Set("to", v)
		}
		return req, nil
	case cmdQuote:
		return provider.NewRequest(Name, command, a.baseURL+"/quote/"+symbol), nil
	}
	return nil, &provider.UnsupportedParameterError{Provider: Name, Field: "command:" + command}
}

// Fetch executes the request with the apikey query parameter attached.
func (a *Adapter) Fetch(ctx context.Context, req *provider.Request, creds credstore.Credentials) ([]byte, error) {
	if creds.APIKey() == "" {
		return nil, &provider.AuthenticationError{Provider: Name, Reason: "missing api_key"}
	}
	req.Query.Set("apikey", creds.APIKey())
	return a.client.Do(ctx, req)
}

// Parse normalizes an FMP payload into canonical records.
func (a *Adapter) Parse(command string, spec *schema.DataSpec, raw []byte) ([]*schema.Record, error) {
	if !gjson.ValidBytes(raw) {
		return nil, &schema.SchemaValidationError{
			Schema: spec.Name, Provider: Name,
			Field: "(payload)", Expected: "json", Got: "malformed body",
		}
	}

	var rows gjson.Result
	switch command {
	case cmdHistorical:
		rows = gjson.GetBytes(raw, "historical")
	default:
		rows = gjson.ParseBytes(raw)
	}
	if !rows.IsArray() {
		return nil, &schema.SchemaValidationError{
			Schema: spec.Name, Provider: Name,
			Field: "(payload)", Expected: "array of rows", Got: rows.Type.String(),
		}
	}

	records := make([]*schema.Record, 0, len(rows.Array()))
	for _, row := range rows.Array() {
		m, ok := row.Value().(map[string]any)
		if !ok {
			return nil, &schema.SchemaValidationError{
				Schema: spec.Name, Provider: Name,
				Field: "(row)", Expected: "object", Got: row.Type.String(),
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
