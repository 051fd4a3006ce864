// internal/selector/fieldpath.go
package selector

import (
	"strconv"

	"github.com/perimetric/beacon/internal/types"
)

/*
 * Key-path resolution for property mappings.
 *
 * Resolves dotted key paths ("checkout.items.0.price") through nested
 * objects and arrays. Numeric segments index arrays; string segments key
 * objects. MaxPropertyDepth is enforced at compile time, so resolution
 * never recurses unbounded.
 *
 * Missing-key semantics: a path that cannot be resolved reports found=false
 * rather than an error. Comparison operators treat absent as non-match;
 * defined/not-defined test the flag directly.
 */

// resolvePath traverses props following the pre-split key path.
// Returns the value and whether the full path resolved. A present key
// holding JSON null resolves as found with a nil value.
func resolvePath(path []string, props types.Properties) (any, bool) {
	var current any = map[string]any(props)

	for _, seg := range path {
		switch v := current.(type) {
		case map[string]any:
			val, ok := v[seg]
			if !ok {
				return nil, false
			}
			current = val
		case types.Properties:
			val, ok := v[seg]
			if !ok {
				return nil, false
			}
			current = val
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, false
			}
			current = v[idx]
		default:
			// Scalar or nil at an intermediate position.
			return nil, false
		}
	}

	return current, true
}
