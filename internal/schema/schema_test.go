// Copyright 2026 The quantfeed Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package schema

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func historicalQuerySpec() *QuerySpec {
	return &QuerySpec{
		Name: "EquityHistorical",
		Fields: []Field{
			{Name: "symbol", Kind: KindString, Required: true},
			{Name: "start_date", Kind: KindDate},
			{Name: "end_date", Kind: KindDate},
			{Name: "adjustment", Kind: KindString, Providers: []string{"polygon"}},
		},
	}
}

func TestNewQuery(t *testing.T) {
	q, err := NewQuery(historicalQuerySpec(), map[string]string{
		"symbol":     "aapl",
		"start_date": "2024-01-02",
	})
	require.NoError(t, err)

	assert.Equal(t, "aapl", q.String("symbol"))
	start, ok := q.Get("start_date")
	require.True(t, ok)
	assert.Equal(t, "2024-01-02", start.(Date).String())
	assert.Equal(t, []string{"start_date", "symbol"}, q.Fields())
}

func TestNewQuery_MissingRequired(t *testing.T) {
	_, err := NewQuery(historicalQuerySpec(), map[string]string{"start_date": "2024-01-02"})
	var verr *SchemaValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "symbol", verr.Field)
}

func TestNewQuery_UnknownParameter(t *testing.T) {
	_, err := NewQuery(historicalQuerySpec(), map[string]string{
		"symbol": "AAPL",
		"bogus":  "x",
	})
	var verr *SchemaValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "bogus", verr.Field)
}

func TestNewQuery_BadCoercion(t *testing.T) {
	_, err := NewQuery(historicalQuerySpec(), map[string]string{
		"symbol":     "AAPL",
		"start_date": "soon",
	})
	var verr *SchemaValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "start_date", verr.Field)
	assert.Equal(t, "date", verr.Expected)
}

func TestQueryUnsupported(t *testing.T) {
	q, err := NewQuery(historicalQuerySpec(), map[string]string{
		"symbol":     "AAPL",
		"adjustment": "splits",
	})
	require.NoError(t, err)

	assert.Empty(t, q.Unsupported("polygon"))
	assert.Equal(t, []string{"adjustment"}, q.Unsupported("fmp"))
}

func TestParseKind(t *testing.T) {
	kind, err := ParseKind("Decimal")
	require.NoError(t, err)
	assert.Equal(t, KindDecimal, kind)

	kind, err = ParseKind("")
	require.NoError(t, err)
	assert.Equal(t, KindString, kind)

	_, err = ParseKind("varchar")
	assert.Error(t, err)
}

func TestSchemaValidationErrorMessage(t *testing.T) {
	err := &SchemaValidationError{
		Schema: "EquityHistoricalData", Provider: "fmp",
		Field: "close", Expected: "decimal", Got: `"n/a"`,
	}
	assert.Contains(t, err.Error(), "close")
	assert.Contains(t, err.Error(), "fmp")

	var target *SchemaValidationError
	assert.True(t, errors.As(err, &target))
}
