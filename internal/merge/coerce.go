package merge

import (
	"encoding/json"
	"math"
	"reflect"
	"strconv"
	"strings"
)

// kind is the JSON-level type of a state value.
type kind int

const (
	kindNull kind = iota
	kindBool
	kindNumber
	kindString
	kindObject
	kindArray
	kindOther
)

func (k kind) String() string {
	switch k {
	case kindNull:
		return "null"
	case kindBool:
		return "boolean"
	case kindNumber:
		return "number"
	case kindString:
		return "string"
	case kindObject:
		return "object"
	case kindArray:
		return "array"
	default:
		return "unknown"
	}
}

func kindOf(v any) kind {
	switch v.(type) {
	case nil:
		return kindNull
	case bool:
		return kindBool
	case float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, json.Number:
		return kindNumber
	case string:
		return kindString
	case map[string]any:
		return kindObject
	case []any:
		return kindArray
	default:
		return kindOther
	}
}

// toFloat normalises any numeric representation to float64.
func toFloat(v any) (float64, bool) {
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
	}
	return 0, false
}

// coerce converts incoming to the type of current.
//
// Only string→number and string/number→boolean conversions are performed.
// Anything else with a differing type is rejected.
func coerce(incoming, current any) (any, bool) {
	want := kindOf(current)
	got := kindOf(incoming)

	if want == kindNull {
		return incoming, got != kindOther
	}

	switch want {
	case kindNumber:
		switch got {
		case kindNumber:
			f, _ := toFloat(incoming)
			return f, true
		case kindString:
			f, err := strconv.ParseFloat(strings.TrimSpace(incoming.(string)), 64)
			if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
				return nil, false
			}
			return f, true
		}
	case kindBool:
		switch got {
		case kindBool:
			return incoming, true
		case kindNumber:
			f, _ := toFloat(incoming)
			return f != 0, true
		case kindString:
			return truthy(incoming.(string)), true
		}
	default:
		if want == got {
			return incoming, true
		}
	}
	return nil, false
}

// truthy interprets a string as a boolean. Recognised boolean and numeric
// spellings are honoured; any other non-empty string is true.
func truthy(s string) bool {
	s = strings.TrimSpace(s)
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f != 0
	}
	switch strings.ToLower(s) {
	case "", "off", "no", "null", "undefined":
		return false
	}
	return true
}

// round rounds f to the given number of decimal places.
func round(f float64, places int) float64 {
	pow := math.Pow(10, float64(places))
	return math.Round(f*pow) / pow
}

// equal reports whether two state values are equal, treating all numeric
// representations alike.
func equal(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			other, exists := bv[k]
			if !exists || !equal(v, other) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}
