package parser

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

func TestParseFileLabelAndInstruction(t *testing.T) {
	f, err := ParseFile("t.s", []string{
		"start:",
		"  addi a0, a0, 1  # comment",
		"",
	})
	assert(t, err == nil, "parse failed: %v", err)
	assert(t, len(f.Lines) == 3, "expected 3 lines, got %d", len(f.Lines))
	assert(t, f.Lines[0].Kind == ast.LineLabel && f.Lines[0].Label == "start", "expected label line, got %+v", f.Lines[0])
	assert(t, f.Lines[1].Kind == ast.LineInstruction, "expected instruction line, got %+v", f.Lines[1])
	assert(t, f.Lines[1].Instr.Mnemonic == "addi", "expected addi, got %q", f.Lines[1].Instr.Mnemonic)
	assert(t, len(f.Lines[1].Instr.Args) == 3, "expected 3 operands, got %d", len(f.Lines[1].Instr.Args))
	assert(t, f.Lines[2].Kind == ast.LineEmpty, "expected empty line, got %+v", f.Lines[2])
}

func TestParseFileDirectives(t *testing.T) {
	f, err := ParseFile("t.s", []string{
		".global _start",
		".equ FOO, 4",
		".text",
	})
	assert(t, err == nil, "parse failed: %v", err)
	assert(t, f.Lines[0].Directive.Name == "global" && f.Lines[0].Directive.Args[0] == "_start",
		"bad global directive: %+v", f.Lines[0].Directive)
	assert(t, f.Lines[1].Directive.Name == "equ" && f.Lines[1].Directive.Args[0] == "FOO",
		"bad equ directive: %+v", f.Lines[1].Directive)
	assert(t, len(f.Lines[1].Directive.Exprs) == 1, "expected one value expression for equ")
	assert(t, f.Lines[2].Directive.Name == "text", "expected text directive, got %+v", f.Lines[2].Directive)
}

func TestParseMemoryOperand(t *testing.T) {
	f, err := ParseFile("t.s", []string{"lw a0, 4(sp)"})
	assert(t, err == nil, "parse failed: %v", err)
	args := f.Lines[0].Instr.Args
	assert(t, len(args) == 2, "expected 2 operands, got %d", len(args))
	assert(t, args[1].Register == "sp" && !args[1].IsReg, "expected offset-form operand with register sp, got %+v", args[1])
	assert(t, args[1].Expr.Literal == 4, "expected offset 4, got %+v", args[1].Expr)
}

func TestParseLabelAloneRejectsTrailingInstruction(t *testing.T) {
	_, err := ParseFile("t.s", []string{"start: addi a0, a0, 1"})
	assert(t, err != nil, "expected label-with-trailing-instruction to be rejected")
}

func TestExpressionPrecedence(t *testing.T) {
	e, err := ParseExpressionText("1 + 2 * 3", ast.Location{})
	assert(t, err == nil, "parse failed: %v", err)
	assert(t, e.Op == "+", "expected top-level +, got %q", e.Op)
	assert(t, e.Right.Op == "*", "expected right side to be the multiplication, got %+v", e.Right)
}

func TestExpressionParens(t *testing.T) {
	e, err := ParseExpressionText("(1 + 2) * 3", ast.Location{})
	assert(t, err == nil, "parse failed: %v", err)
	assert(t, e.Op == "*", "expected top-level *, got %q", e.Op)
	assert(t, e.Left.Op == "+", "expected left side to be the parenthesized addition, got %+v", e.Left)
}

func TestExpressionNumericLabelRef(t *testing.T) {
	e, err := ParseExpressionText("1f", ast.Location{})
	assert(t, err == nil, "parse failed: %v", err)
	assert(t, e.Kind == ast.ExprNumericLabel && e.NumericLabel == 1 && e.Forward, "expected forward ref to label 1, got %+v", e)

	e2, err := ParseExpressionText("2b", ast.Location{})
	assert(t, err == nil, "parse failed: %v", err)
	assert(t, e2.Kind == ast.ExprNumericLabel && e2.NumericLabel == 2 && !e2.Forward, "expected backward ref to label 2, got %+v", e2)
}

func TestExpressionTrailingInputRejected(t *testing.T) {
	_, err := ParseExpressionText("1 + 2 3", ast.Location{})
	assert(t, err != nil, "expected trailing input to be rejected")
}
