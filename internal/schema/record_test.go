// Copyright 2026 The quantfeed Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package schema

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ohlcvSpec() *DataSpec {
	return &DataSpec{
		Name:       "EquityHistoricalData",
		PrimaryKey: "date",
		Fields: []Field{
			{Name: "date", Kind: KindDate, Required: true, Aliases: []string{"t", "timestamp"}},
			{Name: "open", Kind: KindDecimal, Aliases: []string{"o"}},
			{Name: "close", Kind: KindDecimal, Required: true, Aliases: []string{"c"}},
			{Name: "volume", Kind: KindFloat, Aliases: []string{"v"}},
		},
	}
}

func TestParseRecord_CanonicalNames(t *testing.T) {
	rec, err := ParseRecord(ohlcvSpec(), "fmp", map[string]any{
		"date":   "2024-03-15",
		"open":   182.10,
		"close":  "183.45",
		"volume": 51234987.0,
	})
	require.NoError(t, err)

	key, ok := rec.Get("date")
	require.True(t, ok)
	assert.Equal(t, "2024-03-15", key.(Date).String())
	closeVal, _ := rec.Get("close")
	assert.True(t, closeVal.(decimal.Decimal).Equal(decimal.RequireFromString("183.45")))
	assert.Equal(t, 0, rec.ExtraCount())
}

func TestParseRecord_AliasMapping(t *testing.T) {
	// Polygon-style single-letter keys with an epoch-millisecond timestamp.
	rec, err := ParseRecord(ohlcvSpec(), "polygon", map[string]any{
		"t": 1710460800000.0,
		"o": 182.10,
		"c": 183.45,
		"v": 51234987.0,
	})
	require.NoError(t, err)

	key, _ := rec.Get("date")
	assert.Equal(t, "2024-03-15", key.(Date).String())
	assert.Equal(t, key, rec.Key())
}

func TestParseRecord_ExtrasBucket(t *testing.T) {
	rec, err := ParseRecord(ohlcvSpec(), "polygon", map[string]any{
		"t":  "2024-03-15",
		"c":  183.45,
		"vw": 182.91, // volume-weighted price has no canonical field
		"n":  412233.0,
	})
	require.NoError(t, err)

	assert.Equal(t, 2, rec.ExtraCount())
	assert.Contains(t, rec.Extras["polygon"], "vw")
	assert.Contains(t, rec.Extras["polygon"], "n")
	_, ok := rec.Get("vw")
	assert.False(t, ok)
}

func TestParseRecord_MissingRequired(t *testing.T) {
	_, err := ParseRecord(ohlcvSpec(), "fmp", map[string]any{"date": "2024-03-15"})
	var verr *SchemaValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "close", verr.Field)
	assert.Equal(t, "fmp", verr.Provider)
}

func TestParseRecord_BadValue(t *testing.T) {
	_, err := ParseRecord(ohlcvSpec(), "fmp", map[string]any{
		"date":  "2024-03-15",
		"close": "n/a",
	})
	var verr *SchemaValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "close", verr.Field)
	assert.Equal(t, "decimal", verr.Expected)
}

// Normalization is idempotent: flattening a parsed record and parsing it
// again yields an equal record.
func TestProperty_ParseRecordRoundTrip(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("parse(flatten(parse(x))) == parse(x)", prop.ForAll(
		func(day int, open float64, closeCents int64, volume float64) bool {
			spec := ohlcvSpec()
			raw := map[string]any{
				"t":     1704067200.0 + float64(day)*86400, // days after 2024-01-01
				"o":     open,
				"c":     float64(closeCents) / 100,
				"v":     volume,
				"extra": "kept",
			}

			first, err := ParseRecord(spec, "polygon", raw)
			if err != nil {
				return false
			}
			second, err := ParseRecord(spec, "polygon", first.FlatMap("polygon"))
			if err != nil {
				return false
			}
			return first.Equal(second)
		},
		gen.IntRange(0, 365),
		gen.Float64Range(1, 10000),
		gen.Int64Range(1, 1_000_000),
		gen.Float64Range(0, 1e9),
	))

	properties.TestingRun(t)
}

func TestCompareValues_TotalOrder(t *testing.T) {
	a := Date{Year: 2024, Month: 1, Day: 2}
	b := Date{Year: 2024, Month: 1, Day: 3}
	assert.Equal(t, -1, CompareValues(a, b))
	assert.Equal(t, 1, CompareValues(b, a))
	assert.Equal(t, 0, CompareValues(a, a))

	x := decimal.RequireFromString("1.50")
	y := decimal.NewFromFloat(1.5)
	assert.Equal(t, 0, CompareValues(x, y))

	// Mixed kinds still order deterministically.
	assert.Equal(t, CompareValues("abc", int64(1)), CompareValues("abc", int64(1)))
}
