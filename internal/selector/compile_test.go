// internal/selector/compile_test.go
package selector

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/perimetric/beacon/internal/types"
)

func TestCompile_Valid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{
			name: "simple comparison",
			raw:  `{">": [{"property": "amount"}, 10]}`,
		},
		{
			name: "equality against string",
			raw:  `{"==": [{"property": "plan"}, "pro"]}`,
		},
		{
			name: "nested boolean combinators",
			raw:  `{"and": [{"or": [{"==": [{"property": "a"}, 1]}, {"==": [{"property": "b"}, 2]}]}, {"not": {"defined": [{"property": "c"}]}}]}`,
		},
		{
			name: "in with literal list",
			raw:  `{"in": [{"property": "country"}, ["NL", "DE", "BE"]]}`,
		},
		{
			name: "dotted key path",
			raw:  `{"<": [{"property": "cart.total"}, 100]}`,
		},
		{
			name: "not defined",
			raw:  `{"not defined": [{"property": "opt_out"}]}`,
		},
		{
			name: "unary not with bare operand",
			raw:  `{"not": {"==": [{"property": "a"}, 1]}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			compiled, err := Compile(json.RawMessage(tt.raw))
			if err != nil {
				t.Fatalf("Compile() error = %v, want nil", err)
			}
			if compiled == nil {
				t.Fatal("Compile() returned nil selector")
			}
			if string(compiled.Source()) != tt.raw {
				t.Errorf("Source() = %s, want %s", compiled.Source(), tt.raw)
			}
		})
	}
}

func TestCompile_SyntaxErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "invalid json", raw: `{">": [`},
		{name: "top-level literal", raw: `42`},
		{name: "top-level property", raw: `{"property": "amount"}`},
		{name: "unknown operator", raw: `{"~=": [{"property": "a"}, 1]}`},
		{name: "two keys in operator object", raw: `{">": [1, 2], "<": [1, 2]}`},
		{name: "comparison arity", raw: `{">": [{"property": "a"}]}`},
		{name: "not arity", raw: `{"not": [true, false]}`},
		{name: "empty and", raw: `{"and": []}`},
		{name: "empty property name", raw: `{"==": [{"property": ""}, 1]}`},
		{name: "non-string property name", raw: `{"==": [{"property": 3}, 1]}`},
		{name: "in with scalar literal", raw: `{"in": [{"property": "a"}, 5]}`},
		{name: "defined on literal", raw: `{"defined": [5]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(json.RawMessage(tt.raw))
			if err == nil {
				t.Fatalf("Compile(%s) error = nil, want ErrPredicateSyntax", tt.raw)
			}
			if !errors.Is(err, types.ErrPredicateSyntax) {
				t.Errorf("error = %v, want ErrPredicateSyntax", err)
			}
		})
	}
}

func TestCompile_InListTooLarge(t *testing.T) {
	list := "["
	for i := 0; i <= types.MaxInOperandValues; i++ {
		if i > 0 {
			list += ","
		}
		list += fmt.Sprintf("%d", i)
	}
	list += "]"

	raw := fmt.Sprintf(`{"in": [{"property": "a"}, %s]}`, list)
	_, err := Compile(json.RawMessage(raw))
	if !errors.Is(err, types.ErrTooManyInValues) {
		t.Errorf("error = %v, want ErrTooManyInValues", err)
	}
	if !errors.Is(err, types.ErrPredicateSyntax) {
		t.Errorf("error = %v, want ErrPredicateSyntax", err)
	}
}

func TestCompile_PathTooDeep(t *testing.T) {
	path := "a"
	for i := 0; i < types.MaxPropertyDepth; i++ {
		path += ".a"
	}
	raw := fmt.Sprintf(`{"defined": [{"property": "%s"}]}`, path)
	_, err := Compile(json.RawMessage(raw))
	if !errors.Is(err, types.ErrPredicateSyntax) {
		t.Errorf("error = %v, want ErrPredicateSyntax", err)
	}
}
