// internal/selector/evaluate.go
package selector

import (
	"fmt"

	"github.com/perimetric/beacon/internal/types"
)

/*
 * Selector evaluation.
 *
 * Evaluates a Compiled selector against a property mapping. Evaluation is
 * pure: no side effects, no mutation of the selector or the properties.
 *
 * Error discipline: every error returned here wraps types.ErrEvaluation
 * (type mismatch on ordering operators, non-list "in" operand, boolean
 * position holding a non-boolean). Syntax problems cannot occur; Compile
 * rejected them. Absent properties are never errors: comparisons against
 * absent report non-match, and defined/not-defined test presence directly.
 *
 * Short-circuit semantics: "or" stops at the first true operand, "and" at
 * the first false one, matching boolean evaluation order in the wire format.
 */

// Evaluate checks the selector against the given properties.
// Returns types.ErrEvaluation (wrapped) on type mismatches; callers at the
// trigger and matcher boundary treat any error as non-match.
func (c *Compiled) Evaluate(props types.Properties) (bool, error) {
	return evalBool(c.root, props)
}

// evalBool evaluates a node in boolean position.
func evalBool(n node, props types.Properties) (bool, error) {
	switch n.kind {
	case nodeOp:
		return evalOp(n, props)
	case nodeLiteral:
		if b, ok := n.literal.(bool); ok {
			return b, nil
		}
		return false, fmt.Errorf("%w: literal %v in boolean position", types.ErrEvaluation, n.literal)
	case nodeProperty:
		val, found := resolvePath(n.path, props)
		if !found || val == nil {
			// Absent in boolean position is non-match, not an error.
			return false, nil
		}
		if b, ok := val.(bool); ok {
			return b, nil
		}
		return false, fmt.Errorf("%w: property %v is not a boolean", types.ErrEvaluation, n.path)
	default:
		return false, fmt.Errorf("%w: unknown node kind", types.ErrEvaluation)
	}
}

// evalOp dispatches a single operator node.
func evalOp(n node, props types.Properties) (bool, error) {
	switch n.op {
	case OpAnd:
		for _, arg := range n.args {
			ok, err := evalBool(arg, props)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil

	case OpOr:
		for _, arg := range n.args {
			ok, err := evalBool(arg, props)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil

	case OpNot:
		ok, err := evalBool(n.args[0], props)
		if err != nil {
			return false, err
		}
		return !ok, nil

	case OpDefined, OpNotDefined:
		val, found := resolvePath(n.args[0].path, props)
		present := found && val != nil
		if n.op == OpDefined {
			return present, nil
		}
		return !present, nil

	case OpEq, OpNeq:
		return evalEquality(n, props)

	case OpGt, OpGte, OpLt, OpLte:
		return evalOrdering(n, props)

	case OpIn:
		return evalIn(n, props)

	default:
		return false, fmt.Errorf("%w: unsupported operator", types.ErrEvaluation)
	}
}

// evalEquality implements == and != with absent-as-non-match semantics.
// Absent operands make both == and != report non-match: comparison against
// a value that does not exist is undefined, not unequal.
func evalEquality(n node, props types.Properties) (bool, error) {
	left, lfound, err := evalValue(n.args[0], props)
	if err != nil {
		return false, err
	}
	right, rfound, err := evalValue(n.args[1], props)
	if err != nil {
		return false, err
	}
	if !lfound || !rfound {
		return false, nil
	}

	equal := compareEqual(left, right)
	if n.op == OpNeq {
		return !equal, nil
	}
	return equal, nil
}

// evalOrdering implements < <= > >= over numeric operands.
func evalOrdering(n node, props types.Properties) (bool, error) {
	left, lfound, err := evalValue(n.args[0], props)
	if err != nil {
		return false, err
	}
	right, rfound, err := evalValue(n.args[1], props)
	if err != nil {
		return false, err
	}
	if !lfound || !rfound || left == nil || right == nil {
		return false, nil
	}

	cmp, ok := compareNumeric(left, right)
	if !ok {
		return false, fmt.Errorf("%w: ordering requires numeric operands, got %T and %T", types.ErrEvaluation, left, right)
	}

	switch n.op {
	case OpGt:
		return cmp > 0, nil
	case OpGte:
		return cmp >= 0, nil
	case OpLt:
		return cmp < 0, nil
	default:
		return cmp <= 0, nil
	}
}

// evalIn implements membership over a literal or property-resolved list.
func evalIn(n node, props types.Properties) (bool, error) {
	value, vfound, err := evalValue(n.args[0], props)
	if err != nil {
		return false, err
	}
	listVal, lfound, err := evalValue(n.args[1], props)
	if err != nil {
		return false, err
	}
	if !vfound || !lfound {
		return false, nil
	}

	list, ok := listVal.([]any)
	if !ok {
		return false, fmt.Errorf("%w: in requires a list operand, got %T", types.ErrEvaluation, listVal)
	}
	return compareIn(value, list), nil
}

// evalValue evaluates a node in value position.
// The found flag is false only for unresolved property lookups; operator
// nodes contribute their boolean result as a value.
func evalValue(n node, props types.Properties) (any, bool, error) {
	switch n.kind {
	case nodeLiteral:
		return n.literal, true, nil
	case nodeProperty:
		val, found := resolvePath(n.path, props)
		return val, found, nil
	case nodeOp:
		b, err := evalOp(n, props)
		return b, true, err
	default:
		return nil, false, fmt.Errorf("%w: unknown node kind", types.ErrEvaluation)
	}
}
