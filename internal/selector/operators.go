// internal/selector/operators.go
package selector

import (
	"reflect"
	"strconv"
	"strings"
)

/*
 * Operator comparison logic.
 *
 * Values arrive untyped from JSON unmarshaling, so comparison is
 * type-aware rather than type-declared:
 *   - ==/!=: equality with numeric tolerance (float64/int/int64 mixing
 *     plus numeric-string coercion)
 *   - < <= > >=: numeric comparison; numeric strings coerce, everything
 *     else is a type mismatch reported by the evaluator
 *   - in: membership test with equality semantics over a list
 *
 * Coercion is asymmetric on purpose: strings holding a parseable number
 * participate in numeric comparison, but booleans never do, and boolean
 * positions never accept "true"/"false" strings or 0/1 numbers.
 *
 * Why function-based: a handful of comparisons via switch reads cleaner
 * than interface polymorphism with minimal behavior variation.
 */

// compareEqual performs equality comparison with numeric type coercion.
// Falls back to reflect.DeepEqual for composite values (lists, objects).
func compareEqual(a, b any) bool {
	if na, nb, ok := asNumbers(a, b); ok {
		return na == nb
	}
	if isComparable(a) && isComparable(b) {
		return a == b
	}
	return reflect.DeepEqual(a, b)
}

// compareNumeric performs three-way numeric comparison (-1/0/1).
// Second return is false for incomparable operand types.
func compareNumeric(a, b any) (int, bool) {
	na, nb, ok := asNumbers(a, b)
	if !ok {
		return 0, false
	}
	switch {
	case na < nb:
		return -1, true
	case na > nb:
		return 1, true
	default:
		return 0, true
	}
}

// compareIn checks if value exists in list using equality semantics.
func compareIn(value any, list []any) bool {
	for _, elem := range list {
		if compareEqual(value, elem) {
			return true
		}
	}
	return false
}

// asNumbers attempts to convert both values to float64 for numeric comparison.
func asNumbers(a, b any) (float64, float64, bool) {
	na, oka := toFloat64(a)
	nb, okb := toFloat64(b)
	return na, nb, oka && okb
}

// toFloat64 converts value to float64 if it's numeric or a numeric string.
// Handles float64, int, int64 from JSON unmarshaling and Go callers, and
// strings that parse as a number after trimming whitespace. Empty and
// whitespace-only strings are not numeric. Booleans are not numeric.
func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		trimmed := strings.TrimSpace(n)
		if trimmed == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// isComparable reports whether == is safe on the value.
func isComparable(v any) bool {
	if v == nil {
		return true
	}
	return reflect.TypeOf(v).Comparable()
}
