package generic

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cast"
)

// =============================================================================
// LENIENT COERCION
// =============================================================================
// Stored data may come from older or hand-edited records. A numeric field
// that is missing, empty or malformed reads as zero instead of failing the
// read. Callers never see a coercion error.

// Decimal reads v as a decimal amount. Unparseable values yield zero.
func Decimal(v any) decimal.Decimal {
	switch x := v.(type) {
	case nil:
		return decimal.Zero
	case decimal.Decimal:
		return x
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return decimal.Zero
		}
		return decimal.NewFromFloat(x)
	case float32:
		return Decimal(float64(x))
	case int64:
		return decimal.NewFromInt(x)
	case int:
		return decimal.NewFromInt(int64(x))
	case json.Number:
		return Decimal(string(x))
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return decimal.Zero
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero
		}
		return d
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return decimal.Zero
	}
	return Decimal(f)
}

// Int reads v as an integer, truncating any fractional part.
// Unparseable values yield zero.
func Int(v any) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case int:
		return int64(x)
	}
	return Decimal(v).IntPart()
}

// String reads v as a string. nil and unsupported types yield "".
func String(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return ""
	}
	return s
}

// isNumber reports whether v holds a numeric Go type.
func isNumber(v any) bool {
	switch v.(type) {
	case int, int32, int64, uint, uint32, uint64, float32, float64, decimal.Decimal, json.Number:
		return true
	}
	return false
}

// Compare orders two scalars. When either side is a number and the other
// parses as one, they compare numerically; otherwise as strings.
func Compare(a, b any) int {
	if isNumber(a) || isNumber(b) {
		if numeric(a) && numeric(b) {
			return Decimal(a).Cmp(Decimal(b))
		}
	}
	return strings.Compare(String(a), String(b))
}

func numeric(v any) bool {
	if isNumber(v) {
		return true
	}
	s, ok := v.(string)
	if !ok {
		return false
	}
	_, err := decimal.NewFromString(strings.TrimSpace(s))
	return err == nil
}
