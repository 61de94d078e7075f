// Package asm is the assembler core: expression evaluation, symbol
// linking, segment layout, instruction encoding, and the relaxation
// driver that ties them together (components A-E).
package asm

import (
	"errors"
	"fmt"

	"rv32edu/pkg/ast"
)

var (
	errUndefinedSymbol  = errors.New("undefined symbol")
	errUndefinedLabel   = errors.New("undefined numeric label")
	errAddressArithmetic = errors.New("illegal address arithmetic")
	errDivideByZero     = errors.New("divide by zero in constant expression")
	errShiftAmount      = errors.New("shift amount out of range")
)

// ValueKind distinguishes a plain integer from a linked address, since
// the two combine under different arithmetic rules (§3).
type ValueKind int

const (
	Integer ValueKind = iota
	Address
)

// Value is the result of evaluating an Expression against a Layout: a
// 32-bit word tagged with whether it denotes an absolute address.
type Value struct {
	Kind ValueKind
	Bits int32
}

func IntegerValue(v int32) Value { return Value{Kind: Integer, Bits: v} }
func AddressValue(v int32) Value { return Value{Kind: Address, Bits: v} }

// Resolver answers the two questions expression evaluation needs from
// the linker/layout: where a symbol lives, and which numeric label a
// Nf/Nb reference resolves to at a given source position.
type Resolver interface {
	SymbolAddress(name string) (int32, bool)
	NumericLabelAddress(p ast.LinePointer, label int, forward bool) (int32, bool)
	CurrentAddress(p ast.LinePointer) int32
}

// Eval computes the value of an expression tree. It is pure with
// respect to the Resolver: the same tree evaluated against a Layout in
// the same convergence state always yields the same Value, which is
// what lets the relaxation driver (E) call it once per pass per
// expression without hidden state leaking across iterations.
func Eval(e *ast.Expression, at ast.LinePointer, r Resolver) (Value, error) {
	switch e.Kind {
	case ast.ExprLiteral:
		return IntegerValue(int32(e.Literal)), nil

	case ast.ExprCurrentAddress:
		return AddressValue(r.CurrentAddress(at)), nil

	case ast.ExprIdentifier:
		addr, ok := r.SymbolAddress(e.Identifier)
		if !ok {
			return Value{}, fmt.Errorf("%s:%d: %w: %s", e.Loc.File, e.Loc.Line, errUndefinedSymbol, e.Identifier)
		}
		return AddressValue(addr), nil

	case ast.ExprNumericLabel:
		addr, ok := r.NumericLabelAddress(at, e.NumericLabel, e.Forward)
		if !ok {
			dir := "b"
			if e.Forward {
				dir = "f"
			}
			return Value{}, fmt.Errorf("%s:%d: %w: %d%s", e.Loc.File, e.Loc.Line, errUndefinedLabel, e.NumericLabel, dir)
		}
		return AddressValue(addr), nil

	case ast.ExprUnary:
		v, err := Eval(e.Left, at, r)
		if err != nil {
			return Value{}, err
		}
		switch e.Op {
		case "-":
			if v.Kind == Address {
				return Value{}, fmt.Errorf("%s:%d: %w: cannot negate an address", e.Loc.File, e.Loc.Line, errAddressArithmetic)
			}
			return IntegerValue(-v.Bits), nil
		case "~":
			if v.Kind == Address {
				return Value{}, fmt.Errorf("%s:%d: %w: cannot invert an address", e.Loc.File, e.Loc.Line, errAddressArithmetic)
			}
			return IntegerValue(^v.Bits), nil
		}
		return Value{}, fmt.Errorf("unknown unary operator %q", e.Op)

	case ast.ExprBinary:
		return evalBinary(e, at, r)
	}
	return Value{}, fmt.Errorf("unknown expression kind %d", e.Kind)
}

func evalBinary(e *ast.Expression, at ast.LinePointer, r Resolver) (Value, error) {
	l, err := Eval(e.Left, at, r)
	if err != nil {
		return Value{}, err
	}
	rv, err := Eval(e.Right, at, r)
	if err != nil {
		return Value{}, err
	}

	// Address - Address -> Integer (a displacement); Address +/- Integer
	// and Integer + Address -> Address; Address + Address and
	// Integer - Address are errors; * / % & | ^ << >> never accept an
	// Address operand at all.
	if e.Op == "-" && l.Kind == Address && rv.Kind == Address {
		return IntegerValue(l.Bits - rv.Bits), nil
	}
	if e.Op == "-" && l.Kind == Integer && rv.Kind == Address {
		return Value{}, fmt.Errorf("%s:%d: %w: integer - address", e.Loc.File, e.Loc.Line, errAddressArithmetic)
	}
	if e.Op == "+" || e.Op == "-" {
		if l.Kind == Address && rv.Kind == Address {
			return Value{}, fmt.Errorf("%s:%d: %w: address + address", e.Loc.File, e.Loc.Line, errAddressArithmetic)
		}
		kind := Integer
		if l.Kind == Address || rv.Kind == Address {
			kind = Address
		}
		var result int32
		if e.Op == "+" {
			result = l.Bits + rv.Bits
		} else {
			result = l.Bits - rv.Bits
		}
		return Value{Kind: kind, Bits: result}, nil
	}

	if l.Kind == Address || rv.Kind == Address {
		return Value{}, fmt.Errorf("%s:%d: %w: operator %q does not accept an address operand", e.Loc.File, e.Loc.Line, errAddressArithmetic, e.Op)
	}

	a, b := l.Bits, rv.Bits
	switch e.Op {
	case "*":
		return IntegerValue(a * b), nil
	case "/":
		if b == 0 {
			return Value{}, fmt.Errorf("%s:%d: %w", e.Loc.File, e.Loc.Line, errDivideByZero)
		}
		return IntegerValue(a / b), nil
	case "%":
		if b == 0 {
			return Value{}, fmt.Errorf("%s:%d: %w", e.Loc.File, e.Loc.Line, errDivideByZero)
		}
		return IntegerValue(a % b), nil
	case "&":
		return IntegerValue(a & b), nil
	case "|":
		return IntegerValue(a | b), nil
	case "^":
		return IntegerValue(a ^ b), nil
	case "<<":
		if b < 0 || b >= 32 {
			return Value{}, fmt.Errorf("%s:%d: %w: %d", e.Loc.File, e.Loc.Line, errShiftAmount, b)
		}
		return IntegerValue(a << uint(b)), nil
	case ">>":
		if b < 0 || b >= 32 {
			return Value{}, fmt.Errorf("%s:%d: %w: %d", e.Loc.File, e.Loc.Line, errShiftAmount, b)
		}
		return IntegerValue(a >> uint(b)), nil
	}
	return Value{}, fmt.Errorf("unknown binary operator %q", e.Op)
}
