// internal/selector/evaluate_test.go
package selector

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/perimetric/beacon/internal/types"
)

func mustCompile(t *testing.T, raw string) *Compiled {
	t.Helper()
	c, err := Compile(json.RawMessage(raw))
	if err != nil {
		t.Fatalf("Compile(%s) error = %v", raw, err)
	}
	return c
}

func TestEvaluate_Comparisons(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		props types.Properties
		want  bool
	}{
		{
			name:  "greater than match",
			raw:   `{">": [{"property": "amount"}, 10]}`,
			props: types.Properties{"amount": float64(50)},
			want:  true,
		},
		{
			name:  "less than non-match",
			raw:   `{"<": [{"property": "amount"}, 10]}`,
			props: types.Properties{"amount": float64(50)},
			want:  false,
		},
		{
			name:  "equality numeric mixing",
			raw:   `{"==": [{"property": "count"}, 3]}`,
			props: types.Properties{"count": 3},
			want:  true,
		},
		{
			name:  "string equality",
			raw:   `{"==": [{"property": "plan"}, "pro"]}`,
			props: types.Properties{"plan": "pro"},
			want:  true,
		},
		{
			name:  "inequality",
			raw:   `{"!=": [{"property": "plan"}, "free"]}`,
			props: types.Properties{"plan": "pro"},
			want:  true,
		},
		{
			name:  "gte boundary",
			raw:   `{">=": [{"property": "amount"}, 50]}`,
			props: types.Properties{"amount": float64(50)},
			want:  true,
		},
		{
			name:  "lte boundary",
			raw:   `{"<=": [{"property": "amount"}, 50]}`,
			props: types.Properties{"amount": float64(50)},
			want:  true,
		},
		{
			name:  "nested key path",
			raw:   `{">": [{"property": "cart.total"}, 99]}`,
			props: types.Properties{"cart": map[string]any{"total": float64(120)}},
			want:  true,
		},
		{
			name:  "array index key path",
			raw:   `{"==": [{"property": "items.0.sku"}, "ab-1"]}`,
			props: types.Properties{"items": []any{map[string]any{"sku": "ab-1"}}},
			want:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := mustCompile(t, tt.raw).Evaluate(tt.props)
			if err != nil {
				t.Fatalf("Evaluate() error = %v, want nil", err)
			}
			if got != tt.want {
				t.Errorf("Evaluate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvaluate_AbsentIsNonMatch(t *testing.T) {
	// Comparison-against-absent semantics: every comparison operator reports
	// non-match when the property does not resolve, including !=.
	tests := []struct {
		name string
		raw  string
	}{
		{name: "eq against absent", raw: `{"==": [{"property": "missing"}, 1]}`},
		{name: "neq against absent", raw: `{"!=": [{"property": "missing"}, 1]}`},
		{name: "gt against absent", raw: `{">": [{"property": "missing"}, 1]}`},
		{name: "in against absent", raw: `{"in": [{"property": "missing"}, [1, 2]]}`},
		{name: "gt against null", raw: `{">": [{"property": "amount"}, 1]}`},
	}

	props := types.Properties{"amount": nil}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := mustCompile(t, tt.raw).Evaluate(props)
			if err != nil {
				t.Fatalf("Evaluate() error = %v, want nil", err)
			}
			if got {
				t.Errorf("Evaluate() = true, want false (absent operand)")
			}
		})
	}
}

func TestEvaluate_DefinedSemantics(t *testing.T) {
	props := types.Properties{"present": "x", "null_value": nil}

	tests := []struct {
		name string
		raw  string
		want bool
	}{
		{name: "defined present", raw: `{"defined": [{"property": "present"}]}`, want: true},
		{name: "defined missing", raw: `{"defined": [{"property": "missing"}]}`, want: false},
		{name: "defined null", raw: `{"defined": [{"property": "null_value"}]}`, want: false},
		{name: "not defined missing", raw: `{"not defined": [{"property": "missing"}]}`, want: true},
		{name: "not defined present", raw: `{"not defined": [{"property": "present"}]}`, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := mustCompile(t, tt.raw).Evaluate(props)
			if err != nil {
				t.Fatalf("Evaluate() error = %v, want nil", err)
			}
			if got != tt.want {
				t.Errorf("Evaluate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvaluate_BooleanCombinators(t *testing.T) {
	props := types.Properties{"a": float64(1), "b": float64(2)}

	tests := []struct {
		name string
		raw  string
		want bool
	}{
		{
			name: "and both true",
			raw:  `{"and": [{"==": [{"property": "a"}, 1]}, {"==": [{"property": "b"}, 2]}]}`,
			want: true,
		},
		{
			name: "and one false",
			raw:  `{"and": [{"==": [{"property": "a"}, 1]}, {"==": [{"property": "b"}, 9]}]}`,
			want: false,
		},
		{
			name: "or one true",
			raw:  `{"or": [{"==": [{"property": "a"}, 9]}, {"==": [{"property": "b"}, 2]}]}`,
			want: true,
		},
		{
			name: "not inverts",
			raw:  `{"not": {"==": [{"property": "a"}, 9]}}`,
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := mustCompile(t, tt.raw).Evaluate(props)
			if err != nil {
				t.Fatalf("Evaluate() error = %v, want nil", err)
			}
			if got != tt.want {
				t.Errorf("Evaluate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvaluate_In(t *testing.T) {
	sel := mustCompile(t, `{"in": [{"property": "country"}, ["NL", "DE"]]}`)

	got, err := sel.Evaluate(types.Properties{"country": "NL"})
	if err != nil || !got {
		t.Errorf("Evaluate(NL) = (%v, %v), want (true, nil)", got, err)
	}

	got, err = sel.Evaluate(types.Properties{"country": "FR"})
	if err != nil || got {
		t.Errorf("Evaluate(FR) = (%v, %v), want (false, nil)", got, err)
	}
}

func TestEvaluate_TypeMismatchError(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		props types.Properties
	}{
		{
			name:  "ordering over non-numeric string",
			raw:   `{">": [{"property": "plan"}, 10]}`,
			props: types.Properties{"plan": "pro"},
		},
		{
			name:  "ordering over whitespace-only string",
			raw:   `{">": [{"property": "amount"}, 10]}`,
			props: types.Properties{"amount": "   "},
		},
		{
			name:  "ordering over boolean",
			raw:   `{">": [{"property": "flag"}, 0]}`,
			props: types.Properties{"flag": true},
		},
		{
			name:  "in over non-list property",
			raw:   `{"in": [{"property": "a"}, {"property": "b"}]}`,
			props: types.Properties{"a": float64(1), "b": "not-a-list"},
		},
		{
			name:  "non-boolean in boolean position",
			raw:   `{"and": [{"property": "a"}, {"==": [{"property": "a"}, 1]}]}`,
			props: types.Properties{"a": float64(1)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := mustCompile(t, tt.raw).Evaluate(tt.props)
			if !errors.Is(err, types.ErrEvaluation) {
				t.Errorf("error = %v, want ErrEvaluation", err)
			}
		})
	}
}

func TestEvaluate_NumericStringCoercion(t *testing.T) {
	// Property values frequently arrive as strings even when they hold a
	// number. Ordering and equality coerce parseable numeric strings, while
	// booleans and boolean positions stay strict.
	tests := []struct {
		name  string
		raw   string
		props types.Properties
		want  bool
	}{
		{
			name:  "numeric string greater than",
			raw:   `{">": [{"property": "amount"}, 10]}`,
			props: types.Properties{"amount": "50"},
			want:  true,
		},
		{
			name:  "numeric string not greater than",
			raw:   `{">": [{"property": "amount"}, 10]}`,
			props: types.Properties{"amount": "5"},
			want:  false,
		},
		{
			name:  "numeric string with surrounding whitespace",
			raw:   `{"<": [{"property": "amount"}, 10]}`,
			props: types.Properties{"amount": "  7.5  "},
			want:  true,
		},
		{
			name:  "numeric string equals number",
			raw:   `{"==": [{"property": "count"}, 3]}`,
			props: types.Properties{"count": "3"},
			want:  true,
		},
		{
			name:  "numeric string literal against number property",
			raw:   `{">=": [{"property": "amount"}, "10"]}`,
			props: types.Properties{"amount": float64(10)},
			want:  true,
		},
		{
			name:  "boolean string stays a string",
			raw:   `{"==": [{"property": "active"}, true]}`,
			props: types.Properties{"active": "true"},
			want:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := mustCompile(t, tt.raw).Evaluate(tt.props)
			if err != nil {
				t.Fatalf("Evaluate() error = %v, want nil", err)
			}
			if got != tt.want {
				t.Errorf("Evaluate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvaluate_PureNoMutation(t *testing.T) {
	props := types.Properties{"amount": float64(5), "cart": map[string]any{"total": float64(7)}}
	sel := mustCompile(t, `{"and": [{">": [{"property": "amount"}, 1]}, {"<": [{"property": "cart.total"}, 10]}]}`)

	for i := 0; i < 3; i++ {
		got, err := sel.Evaluate(props)
		if err != nil || !got {
			t.Fatalf("Evaluate() iteration %d = (%v, %v), want (true, nil)", i, got, err)
		}
	}

	if props["amount"] != float64(5) {
		t.Errorf("properties mutated: amount = %v", props["amount"])
	}
}

// Property: {">" : [amount, threshold]} matches exactly when amount > threshold.
func TestEvaluate_OrderingProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	sel := mustCompile(t, `{">": [{"property": "amount"}, 10]}`)

	properties.Property("gt matches iff amount exceeds threshold", prop.ForAll(
		func(amount float64) bool {
			got, err := sel.Evaluate(types.Properties{"amount": amount})
			return err == nil && got == (amount > 10)
		},
		gen.Float64Range(-1e6, 1e6),
	))

	properties.TestingRun(t)
}
