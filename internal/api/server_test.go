// Copyright 2026 The quantfeed Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfeed/quantfeed/internal/access"
	"github.com/quantfeed/quantfeed/internal/config"
	"github.com/quantfeed/quantfeed/internal/credstore"
	"github.com/quantfeed/quantfeed/internal/dispatch"
	"github.com/quantfeed/quantfeed/internal/provider"
	"github.com/quantfeed/quantfeed/internal/registry"
	"github.com/quantfeed/quantfeed/internal/router"
	"github.com/quantfeed/quantfeed/internal/schema"
)

const cmdQuote = "/equity/quote"

type fakeAdapter struct {
	name     string
	rows     []map[string]any
	fetchErr error
}

func (f *fakeAdapter) Name() string                  { return f.name }
func (f *fakeAdapter) Supports(string) bool          { return true }
func (f *fakeAdapter) RequiredCredentials() []string { return nil }

func (f *fakeAdapter) BuildRequest(command string, q *schema.Query) (*provider.Request, error) {
	if err := provider.CheckSupported(f.name, q); err != nil {
		return nil, err
	}
	return provider.NewRequest(f.name, command, "http://example.invalid"), nil
}

func (f *fakeAdapter) Fetch(ctx context.Context, req *provider.Request, creds credstore.Credentials) ([]byte, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return []byte("ok"), nil
}

func (f *fakeAdapter) Parse(command string, spec *schema.DataSpec, raw []byte) ([]*schema.Record, error) {
	records := make([]*schema.Record, 0, len(f.rows))
	for _, row := range f.rows {
		rec, err := schema.ParseRecord(spec, f.name, row)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func quoteSpecs() (*schema.QuerySpec, *schema.DataSpec) {
	return &schema.QuerySpec{
			Name: "EquityQuote",
			Fields: []schema.Field{
				{Name: "symbol", Kind: schema.KindString, Required: true},
			},
		}, &schema.DataSpec{
			Name:       "EquityQuoteData",
			PrimaryKey: "symbol",
			Fields: []schema.Field{
				{Name: "symbol", Kind: schema.KindString, Required: true},
				{Name: "price", Kind: schema.KindDecimal},
			},
		}
}

func testSnapshot(t *testing.T, version int64, adapters ...*fakeAdapter) *dispatch.Snapshot {
	t.Helper()
	querySpec, dataSpec := quoteSpecs()

	reg := registry.New(nil)
	names := make([]string, 0, len(adapters))
	for i, a := range adapters {
		require.NoError(t, reg.Register(a, cmdQuote, (i+1)*10, false))
		names = append(names, a.Name())
	}
	reg.Freeze()

	tree := router.New()
	require.NoError(t, tree.RegisterPath(cmdQuote, &router.Leaf{
		Query:       querySpec,
		Data:        dataSpec,
		Providers:   names,
		Unavailable: len(names) == 0,
		Streamable:  true,
	}))
	return dispatch.NewSnapshot(version, tree, reg, nil)
}

func testServer(t *testing.T, cfg *config.Config, snap *dispatch.Snapshot) *Server {
	t.Helper()
	if cfg == nil {
		cfg = config.Default()
	}
	gate := access.NewGate(access.Config{
		Secret:         cfg.Auth.Secret,
		APIKeyHashes:   cfg.Auth.APIKeys,
		AllowAnonymous: cfg.Auth.AllowAnonymous,
	})
	engine := dispatch.NewEngine(credstore.NewStore(nil), 0, time.Second)
	return New(cfg, gate, engine, snap)
}

func quoteAdapter() *fakeAdapter {
	return &fakeAdapter{
		name: "alpha",
		rows: []map[string]any{{"symbol": "AAPL", "price": 182.52}},
	}
}

func doJSON(t *testing.T, s *Server, method, target string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	var body map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	}
	return w, body
}

func TestHealth(t *testing.T) {
	s := testServer(t, nil, testSnapshot(t, 7, quoteAdapter()))
	w, body := doJSON(t, s, http.MethodGet, "/health")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(7), body["snapshot_version"])
}

func TestCommandSuccess(t *testing.T) {
	s := testServer(t, nil, testSnapshot(t, 1, quoteAdapter()))
	w, body := doJSON(t, s, http.MethodGet, "/api/v1/equity/quote?symbol=AAPL")

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "alpha", body["provider"])

	data := body["data"].([]any)
	require.Len(t, data, 1)
	row := data[0].(map[string]any)
	assert.Equal(t, "AAPL", row["symbol"])

	meta := body["metadata"].(map[string]any)
	assert.Equal(t, "/equity/quote", meta["command"])
	assert.NotEmpty(t, meta["request_id"])
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestCommandNotFound(t *testing.T) {
	s := testServer(t, nil, testSnapshot(t, 1, quoteAdapter()))
	w, body := doJSON(t, s, http.MethodGet, "/api/v1/equity/nope")

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, body["error"], "command not found")
}

func TestCommandBadParameter(t *testing.T) {
	s := testServer(t, nil, testSnapshot(t, 1, quoteAdapter()))
	w, _ := doJSON(t, s, http.MethodGet, "/api/v1/equity/quote?symbol=AAPL&bogus=1")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCommandUpstreamFailure(t *testing.T) {
	down := &fakeAdapter{name: "alpha", fetchErr: &provider.ProviderUnavailableError{
		Provider: "alpha", Err: errors.New("down"),
	}}
	s := testServer(t, nil, testSnapshot(t, 1, down))
	w, _ := doJSON(t, s, http.MethodGet, "/api/v1/equity/quote?symbol=AAPL")
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestAuthRequired(t *testing.T) {
	cfg := config.Default()
	cfg.Auth.AllowAnonymous = false
	s := testServer(t, cfg, testSnapshot(t, 1, quoteAdapter()))

	w, _ := doJSON(t, s, http.MethodGet, "/api/v1/equity/quote?symbol=AAPL")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Health stays open.
	w, _ = doJSON(t, s, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthJWTScopesProviders(t *testing.T) {
	cfg := config.Default()
	cfg.Auth.AllowAnonymous = false
	cfg.Auth.Secret = "test-secret"
	s := testServer(t, cfg, testSnapshot(t, 1, quoteAdapter()))

	gate := access.NewGate(access.Config{Secret: "test-secret"})
	token, err := gate.IssueToken("desk-7", []string{"alpha"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/equity/quote?symbol=AAPL", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestCommandsListing(t *testing.T) {
	s := testServer(t, nil, testSnapshot(t, 3, quoteAdapter()))
	w, body := doJSON(t, s, http.MethodGet, "/api/commands")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(3), body["snapshot_version"])

	routes := body["routes"].([]any)
	require.Len(t, routes, 1)
	route := routes[0].(map[string]any)
	assert.Equal(t, "/api/v1/equity/quote", route["path"])
	assert.Equal(t, "EquityQuote", route["query_schema"])
	assert.Equal(t, true, route["streamable"])
}

func TestPostBodyParameters(t *testing.T) {
	s := testServer(t, nil, testSnapshot(t, 1, quoteAdapter()))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/equity/quote",
		strings.NewReader(`{"symbol": "AAPL"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestSnapshotSwap(t *testing.T) {
	s := testServer(t, nil, testSnapshot(t, 1, quoteAdapter()))

	w, body := doJSON(t, s, http.MethodGet, "/api/v1/equity/quote?symbol=AAPL")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), body["metadata"].(map[string]any)["snapshot_version"])

	s.Swap(testSnapshot(t, 2, quoteAdapter()))

	w, body = doJSON(t, s, http.MethodGet, "/api/v1/equity/quote?symbol=AAPL")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), body["metadata"].(map[string]any)["snapshot_version"])
	assert.Equal(t, int64(2), s.Snapshot().Version)
}

func TestPinnedProviderParam(t *testing.T) {
	alpha := quoteAdapter()
	beta := &fakeAdapter{name: "beta", rows: []map[string]any{{"symbol": "AAPL", "price": 99}}}
	s := testServer(t, nil, testSnapshot(t, 1, alpha, beta))

	w, body := doJSON(t, s, http.MethodGet, "/api/v1/equity/quote?symbol=AAPL&provider=beta")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "beta", body["provider"])
}

func TestCompareParam(t *testing.T) {
	alpha := quoteAdapter()
	beta := &fakeAdapter{name: "beta", rows: []map[string]any{{"symbol": "AAPL", "price": 99}}}
	s := testServer(t, nil, testSnapshot(t, 1, alpha, beta))

	w, body := doJSON(t, s, http.MethodGet, "/api/v1/equity/quote?symbol=AAPL&compare=alpha,beta")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alpha,beta", body["provider"])
	assert.Len(t, body["data"].([]any), 2)
}
