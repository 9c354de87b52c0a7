package rules

import (
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"slices"

	"github.com/shopspring/decimal"
)

// Parameters is the free-form key/value map attached to actions and
// compliance requirements. Accessors never panic; a missing key or a value
// of the wrong type reports ok=false.
type Parameters map[string]any

// Clone returns a shallow copy of p
func (p Parameters) Clone() Parameters {
	if p == nil {
		return nil
	}
	return maps.Clone(p)
}

// Has reports whether key is present
func (p Parameters) Has(key string) bool {
	_, ok := p[key]
	return ok
}

// String returns the string stored under key
func (p Parameters) String(key string) (string, bool) {
	s, ok := p[key].(string)
	return s, ok
}

// StringOr returns the string stored under key, or def
func (p Parameters) StringOr(key, def string) string {
	if s, ok := p.String(key); ok && s != "" {
		return s
	}
	return def
}

// Float returns the numeric value stored under key. NaN and infinities
// report ok=false.
func (p Parameters) Float(key string) (float64, bool) {
	return toFloat(p[key])
}

// Decimal returns the numeric value stored under key as a decimal
func (p Parameters) Decimal(key string) (decimal.Decimal, bool) {
	f, ok := p.Float(key)
	if !ok {
		return decimal.Zero, false
	}
	return decimal.NewFromFloat(f), true
}

// Bool returns the boolean stored under key
func (p Parameters) Bool(key string) (bool, bool) {
	b, ok := p[key].(bool)
	return b, ok
}

// Strings returns the string list stored under key. A single string is
// treated as a one-element list.
func (p Parameters) Strings(key string) []string {
	return toStrings(p[key])
}

// Slice returns the list stored under key
func (p Parameters) Slice(key string) ([]any, bool) {
	switch v := normalizeValue(p[key]).(type) {
	case []any:
		return v, true
	}
	return nil, false
}

func toFloat(v any) (float64, bool) {
	f, ok := rawFloat(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func rawFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case decimal.Decimal:
		return n.InexactFloat64(), true
	}
	return 0, false
}

// nonFinite returns the path of the first NaN or infinite number in v,
// searching nested lists and objects
func nonFinite(v any) (string, bool) {
	switch n := normalizeValue(v).(type) {
	case []any:
		for i, item := range n {
			if path, ok := nonFinite(item); ok {
				return fmt.Sprintf("[%d]%s", i, path), true
			}
		}
	case map[string]any:
		for _, key := range slices.Sorted(maps.Keys(n)) {
			if path, ok := nonFinite(n[key]); ok {
				return "." + key + path, true
			}
		}
	default:
		if f, ok := rawFloat(n); ok && (math.IsNaN(f) || math.IsInf(f, 0)) {
			return "", true
		}
	}
	return "", false
}

func toStrings(v any) []string {
	switch s := v.(type) {
	case nil:
		return nil
	case string:
		return []string{s}
	case []string:
		return append([]string(nil), s...)
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}
