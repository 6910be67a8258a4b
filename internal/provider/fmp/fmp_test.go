// Copyright 2026 The quantfeed Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fmp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfeed/quantfeed/internal/schema"
)

func historicalSpec() *schema.DataSpec {
	return &schema.DataSpec{
		Name:       "EquityHistoricalData",
		PrimaryKey: "date",
		Fields: []schema.Field{
			{Name: "date", Kind: schema.KindDate, Required: true},
			{Name: "open", Kind: schema.KindDecimal},
			{Name: "close", Kind: schema.KindDecimal, Required: true},
			{Name: "volume", Kind: schema.KindFloat},
		},
	}
}

func historicalQuery(t *testing.T, params map[string]string) *schema.Query {
	t.Helper()
	q, err := schema.NewQuery(&schema.QuerySpec{
		Name: "EquityHistorical",
		Fields: []schema.Field{
			{Name: "symbol", Kind: schema.KindString, Required: true},
			{Name: "start_date", Kind: schema.KindDate},
			{Name: "end_date", Kind: schema.KindDate},
		},
	}, params)
	require.NoError(t, err)
	return q
}

func TestBuildRequest_Historical(t *testing.T) {
	a := New(nil, "")
	q := historicalQuery(t, map[string]string{
		"symbol":     "aapl",
		"start_date": "2024-01-02",
		"end_date":   "2024-03-15",
	})

	req, err := a.BuildRequest("/equity/price/historical", q)
	require.NoError(t, err)

	assert.Equal(t, "https://financialmodelingprep.com/api/v3/historical-price-full/AAPL", req.URL)
	assert.Equal(t, "2024-01-02", req.Query.Get("from"))
	assert.Equal(t, "2024-03-15", req.Query.Get("to"))
}

func TestBuildRequest_Quote(t *testing.T) {
	a := New(nil, "http://localhost:9999/api/v3/")
	q := historicalQuery(t, map[string]string{"symbol": "msft"})

	req, err := a.BuildRequest("/equity/quote", q)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9999/api/v3/quote/MSFT", req.URL)
}

func TestBuildRequest_UnknownCommand(t *testing.T) {
	a := New(nil, "")
	q := historicalQuery(t, map[string]string{"symbol": "AAPL"})
	_, err := a.BuildRequest("/equity/dividends", q)
	assert.Error(t, err)
}

func TestParse_Historical(t *testing.T) {
	a := New(nil, "")

	records, err := a.Parse("/equity/price/historical", historicalSpec(), []byte(`{
		"symbol": "AAPL",
		"historical": [
			{"date": "2024-03-15", "open": 183.1, "close": 182.52, "volume": 51234987, "changePercent": -0.12},
			{"date": "2024-03-14", "open": 181.9, "close": 183.10, "volume": 48200123, "changePercent": 0.44}
		]
	}`))
	require.NoError(t, err)
	require.Len(t, records, 2)

	d, _ := records[0].Get("date")
	assert.Equal(t, "2024-03-15", d.(schema.Date).String())

	// changePercent has no canonical mapping; it lands in extras.
	assert.Equal(t, 1, records[0].ExtraCount())
	assert.Contains(t, records[0].Extras[Name], "changePercent")
}

func TestParse_QuoteRootArray(t *testing.T) {
	a := New(nil, "")

	records, err := a.Parse("/equity/quote", historicalSpec(), []byte(`[
		{"date": "2024-03-15", "close": 182.52}
	]`))
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestParse_Malformed(t *testing.T) {
	a := New(nil, "")

	_, err := a.Parse("/equity/price/historical", historicalSpec(), []byte(`{nope`))
	var verr *schema.SchemaValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, Name, verr.Provider)
}

func TestParse_MissingHistoricalArray(t *testing.T) {
	a := New(nil, "")

	_, err := a.Parse("/equity/price/historical", historicalSpec(), []byte(`{"symbol": "AAPL"}`))
	var verr *schema.SchemaValidationError
	assert.ErrorAs(t, err, &verr)
}
