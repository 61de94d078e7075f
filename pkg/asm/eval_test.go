package asm

import (
	"fmt"
	"testing"

	"rv32edu/pkg/ast"
)

func assert(t *testing.T, cond bool, format string, args ...any) {
	if !cond {
		t.Fatalf(fmt.Sprintf("%v %s", cond, format), args...)
	}
}

type fakeResolver struct {
	symbols map[string]int32
	cur     int32
}

func (f fakeResolver) SymbolAddress(name string) (int32, bool) {
	v, ok := f.symbols[name]
	return v, ok
}
func (f fakeResolver) NumericLabelAddress(ast.LinePointer, int, bool) (int32, bool) { return 0, false }
func (f fakeResolver) CurrentAddress(ast.LinePointer) int32                        { return f.cur }

func lit(v int64) *ast.Expression { return &ast.Expression{Kind: ast.ExprLiteral, Literal: v} }

func TestEvalArithmetic(t *testing.T) {
	expr := &ast.Expression{Kind: ast.ExprBinary, Op: "+", Left: lit(3), Right: lit(4)}
	v, err := Eval(expr, ast.LinePointer{}, fakeResolver{})
	assert(t, err == nil, "eval failed: %v", err)
	assert(t, v.Kind == Integer && v.Bits == 7, "expected integer 7, got %+v", v)
}

func TestEvalAddressMinusAddressIsInteger(t *testing.T) {
	r := fakeResolver{symbols: map[string]int32{"a": 100, "b": 40}}
	expr := &ast.Expression{
		Kind: ast.ExprBinary, Op: "-",
		Left:  &ast.Expression{Kind: ast.ExprIdentifier, Identifier: "a"},
		Right: &ast.Expression{Kind: ast.ExprIdentifier, Identifier: "b"},
	}
	v, err := Eval(expr, ast.LinePointer{}, r)
	assert(t, err == nil, "eval failed: %v", err)
	assert(t, v.Kind == Integer && v.Bits == 60, "expected integer 60, got %+v", v)
}

func TestEvalAddressPlusAddressIsError(t *testing.T) {
	r := fakeResolver{symbols: map[string]int32{"a": 100, "b": 40}}
	expr := &ast.Expression{
		Kind: ast.ExprBinary, Op: "+",
		Left:  &ast.Expression{Kind: ast.ExprIdentifier, Identifier: "a"},
		Right: &ast.Expression{Kind: ast.ExprIdentifier, Identifier: "b"},
	}
	_, err := Eval(expr, ast.LinePointer{}, r)
	assert(t, err != nil, "expected address+address to be rejected")
}

func TestEvalDivideByZero(t *testing.T) {
	expr := &ast.Expression{Kind: ast.ExprBinary, Op: "/", Left: lit(1), Right: lit(0)}
	_, err := Eval(expr, ast.LinePointer{}, fakeResolver{})
	assert(t, err != nil, "expected divide by zero to error")
}

func TestEvalShiftOutOfRange(t *testing.T) {
	expr := &ast.Expression{Kind: ast.ExprBinary, Op: "<<", Left: lit(1), Right: lit(32)}
	_, err := Eval(expr, ast.LinePointer{}, fakeResolver{})
	assert(t, err != nil, "expected out-of-range shift to error")
}

func TestEvalUndefinedSymbol(t *testing.T) {
	expr := &ast.Expression{Kind: ast.ExprIdentifier, Identifier: "nope"}
	_, err := Eval(expr, ast.LinePointer{}, fakeResolver{symbols: map[string]int32{}})
	assert(t, err != nil, "expected undefined symbol to error")
}
