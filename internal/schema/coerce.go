// Copyright 2026 The quantfeed Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package schema

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// dateLayouts are tried in order when coercing a string into a Date.
var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"01/02/2006",
}

// Date is a calendar date without time-of-day. Provider timestamps are
// truncated to UTC midnight during coercion.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf truncates a time.Time to its UTC calendar date.
func DateOf(t time.Time) Date {
	t = t.UTC()
	return Date{Year: t.Year(), Month: t.Month(), Day: t.Day()}
}

// String renders the date in ISO-8601 form.
func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// Before reports whether d is strictly earlier than other.
func (d Date) Before(other Date) bool {
	if d.Year != other.Year {
		return d.Year < other.Year
	}
	if d.Month != other.Month {
		return d.Month < other.Month
	}
	return d.Day < other.Day
}

// MarshalJSON renders the date as an ISO-8601 string.
func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(d.String())), nil
}

// Coerce converts a raw value from a provider response or transport parameter
// into the canonical representation for the given kind. It is a pure
// function: identical inputs always produce identical outputs.
func Coerce(kind FieldKind, raw any) (any, error) {
	switch kind {
	case KindString:
		return coerceString(raw)
	case KindInt:
		return coerceInt(raw)
	case KindFloat:
		return coerceFloat(raw)
	case KindDecimal:
		return coerceDecimal(raw)
	case KindDate:
		return coerceDate(raw)
	case KindBool:
		return coerceBool(raw)
	default:
		return nil, fmt.Errorf("schema: unknown kind %q", kind)
	}
}

func coerceString(raw any) (string, error) {
	switch v := raw.(type) {
	case string:
		return v, nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case bool:
		return strconv.FormatBool(v), nil
	}
	return "", fmt.Errorf("cannot represent %T as string", raw)
}

func coerceInt(raw any) (int64, error) {
	switch v := raw.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		if v != float64(int64(v)) {
			return 0, fmt.Errorf("%v is not an integer", v)
		}
		return int64(v), nil
	case string:
		return strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	}
	return 0, fmt.Errorf("cannot represent %T as int", raw)
}

func coerceFloat(raw any) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case int64:
		return float64(v), nil
	case int:
		return float64(v), nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(v), 64)
	}
	return 0, fmt.Errorf("cannot represent %T as float", raw)
}

func coerceDecimal(raw any) (decimal.Decimal, error) {
	switch v := raw.(type) {
	case decimal.Decimal:
		return v, nil
	case string:
		return decimal.NewFromString(strings.TrimSpace(v))
	case float64:
		return decimal.NewFromFloat(v), nil
	case int64:
		return decimal.NewFromInt(v), nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	}
	return decimal.Decimal{}, fmt.Errorf("cannot represent %T as decimal", raw)
}

// coerceDate accepts ISO/RFC3339 strings and Unix epochs. Integer epochs
// larger than 1e12 are interpreted as milliseconds, which is what aggregate
// endpoints such as Polygon's return.
func coerceDate(raw any) (Date, error) {
	switch v := raw.(type) {
	case Date:
		return v, nil
	case time.Time:
		return DateOf(v), nil
	case string:
		s := strings.TrimSpace(v)
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return DateOf(t), nil
			}
		}
		if epoch, err := strconv.ParseInt(s, 10, 64); err == nil {
			return coerceDate(epoch)
		}
		return Date{}, fmt.Errorf("unrecognized date %q", v)
	case float64:
		return coerceDate(int64(v))
	case int64:
		if v > 1_000_000_000_000 {
			return DateOf(time.UnixMilli(v)), nil
		}
		return DateOf(time.Unix(v, 0)), nil
	case int:
		return coerceDate(int64(v))
	}
	return Date{}, fmt.Errorf("cannot represent %T as date", raw)
}

func coerceBool(raw any) (bool, error) {
	switch v := raw.(type) {
	case bool:
		return v, nil
	case string:
		return strconv.ParseBool(strings.TrimSpace(strings.ToLower(v)))
	case float64:
		return v != 0, nil
	case int64:
		return v != 0, nil
	}
	return false, fmt.Errorf("cannot represent %T as bool", raw)
}
