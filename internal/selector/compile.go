// internal/selector/compile.go
package selector

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/perimetric/beacon/internal/types"
)

/*
 * Selector compilation and validation.
 *
 * Compiles a JSON-encoded predicate tree into a Compiled selector with
 * validated structure and pre-split property paths. All syntax errors
 * surface here, at construction time; Evaluate never reports syntax errors.
 *
 * Wire format: a node is one of
 *   - a literal (string, number, boolean, null, array)
 *   - {"property": "<dotted.key.path>"}   property lookup
 *   - {"<op>": [operand, ...]}            single-key operator object
 *
 * Operators: and, or, not, ==, !=, >, >=, <, <=, in, defined, "not defined".
 *
 * Why compile-time validation: enforcing arity, depth, and operand limits
 * during compilation moves error detection to selector creation rather than
 * the hot event-tracking path, and guarantees the PredicateSyntax/Evaluation
 * error split the trigger layer relies on.
 */

// Operator enumerates predicate combinators and comparisons.
type Operator int

const (
	OpUnspecified Operator = iota
	OpAnd
	OpOr
	OpNot
	OpEq
	OpNeq
	OpGt
	OpGte
	OpLt
	OpLte
	OpIn
	OpDefined
	OpNotDefined
)

var operatorNames = map[string]Operator{
	"and":         OpAnd,
	"or":          OpOr,
	"not":         OpNot,
	"==":          OpEq,
	"!=":          OpNeq,
	">":           OpGt,
	">=":          OpGte,
	"<":           OpLt,
	"<=":          OpLte,
	"in":          OpIn,
	"defined":     OpDefined,
	"not defined": OpNotDefined,
}

// nodeKind discriminates compiled node variants.
type nodeKind int

const (
	nodeLiteral nodeKind = iota
	nodeProperty
	nodeOp
)

// node is a single compiled predicate tree node.
type node struct {
	kind    nodeKind
	literal any      // nodeLiteral
	path    []string // nodeProperty: pre-split key path
	op      Operator // nodeOp
	args    []node   // nodeOp operands, in wire order
}

// Compiled is a validated, ready-to-evaluate selector.
// Immutable after compilation; safe for concurrent Evaluate calls.
type Compiled struct {
	root node
	src  json.RawMessage
}

// Source returns the original predicate JSON the selector was compiled from.
func (c *Compiled) Source() json.RawMessage {
	return c.src
}

// Compile parses and validates a JSON predicate tree.
// Returns types.ErrPredicateSyntax (wrapped) for any structural problem.
// The top-level node must be an operator producing a boolean.
func Compile(raw json.RawMessage) (*Compiled, error) {
	var parsed any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrPredicateSyntax, err)
	}

	root, err := compileNode(parsed, 0)
	if err != nil {
		return nil, err
	}
	if root.kind != nodeOp {
		return nil, fmt.Errorf("%w: top-level node must be an operator", types.ErrPredicateSyntax)
	}

	src := make(json.RawMessage, len(raw))
	copy(src, raw)
	return &Compiled{root: root, src: src}, nil
}

// compileNode converts one parsed JSON value into a compiled node.
func compileNode(v any, depth int) (node, error) {
	if depth > types.MaxPropertyDepth {
		return node{}, fmt.Errorf("%w: predicate nesting too deep", types.ErrPredicateSyntax)
	}

	obj, ok := v.(map[string]any)
	if !ok {
		// Scalars and arrays are literals.
		return node{kind: nodeLiteral, literal: v}, nil
	}

	if len(obj) != 1 {
		return node{}, fmt.Errorf("%w: operator object must have exactly one key, got %d", types.ErrPredicateSyntax, len(obj))
	}

	for key, val := range obj {
		if key == "property" {
			name, ok := val.(string)
			if !ok || name == "" {
				return node{}, fmt.Errorf("%w: property reference must be a non-empty string", types.ErrPredicateSyntax)
			}
			path := strings.Split(name, ".")
			if len(path) > types.MaxPropertyDepth {
				return node{}, fmt.Errorf("%w: %v", types.ErrPredicateSyntax, types.ErrPathTooDeep)
			}
			return node{kind: nodeProperty, path: path}, nil
		}

		op, ok := operatorNames[key]
		if !ok {
			return node{}, fmt.Errorf("%w: unknown operator %q", types.ErrPredicateSyntax, key)
		}

		operands, err := operandList(val)
		if err != nil {
			return node{}, err
		}
		if err := checkArity(op, len(operands)); err != nil {
			return node{}, err
		}

		args := make([]node, 0, len(operands))
		for _, operand := range operands {
			child, err := compileNode(operand, depth+1)
			if err != nil {
				return node{}, err
			}
			args = append(args, child)
		}

		if err := validateOperands(op, args); err != nil {
			return node{}, err
		}

		return node{kind: nodeOp, op: op, args: args}, nil
	}

	// Unreachable: the single-entry map always returns inside the loop.
	return node{}, fmt.Errorf("%w: empty operator object", types.ErrPredicateSyntax)
}

// operandList normalizes operator operands to a slice.
// A bare operand is accepted for unary operators ({"not": {...}}).
func operandList(v any) ([]any, error) {
	if arr, ok := v.([]any); ok {
		return arr, nil
	}
	return []any{v}, nil
}

// checkArity enforces operand counts per operator.
func checkArity(op Operator, n int) error {
	switch op {
	case OpAnd, OpOr:
		if n < 1 {
			return fmt.Errorf("%w: %s requires at least one operand", types.ErrPredicateSyntax, opName(op))
		}
	case OpNot, OpDefined, OpNotDefined:
		if n != 1 {
			return fmt.Errorf("%w: %s requires exactly one operand, got %d", types.ErrPredicateSyntax, opName(op), n)
		}
	default:
		if n != 2 {
			return fmt.Errorf("%w: %s requires exactly two operands, got %d", types.ErrPredicateSyntax, opName(op), n)
		}
	}
	return nil
}

// validateOperands applies per-operator structural checks beyond arity.
func validateOperands(op Operator, args []node) error {
	switch op {
	case OpIn:
		// Literal membership lists are bounded at compile time. Property
		// operands are checked per-evaluation against payload data.
		if args[1].kind == nodeLiteral {
			arr, ok := args[1].literal.([]any)
			if !ok {
				return fmt.Errorf("%w: in requires a list operand", types.ErrPredicateSyntax)
			}
			if len(arr) > types.MaxInOperandValues {
				return fmt.Errorf("%w: %v", types.ErrPredicateSyntax, types.ErrTooManyInValues)
			}
		}
	case OpDefined, OpNotDefined:
		if args[0].kind != nodeProperty {
			return fmt.Errorf("%w: %s requires a property operand", types.ErrPredicateSyntax, opName(op))
		}
	}
	return nil
}

// opName maps an operator back to its wire name for error messages.
func opName(op Operator) string {
	for name, o := range operatorNames {
		if o == op {
			return name
		}
	}
	return "unspecified"
}
