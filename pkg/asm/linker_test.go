package asm

import (
	"testing"

	"rv32edu/pkg/ast"
)

func TestLinkDetectsDuplicateSymbol(t *testing.T) {
	src := &ast.Source{Files: []ast.File{{Name: "a.s", Lines: []ast.Line{
		{Kind: ast.LineLabel, Label: "foo"},
		{Kind: ast.LineLabel, Label: "foo"},
	}}}}
	_, err := Link(src)
	assert(t, err != nil, "expected duplicate label to error")
}

func TestLinkDetectsUndefinedGlobal(t *testing.T) {
	src := &ast.Source{Files: []ast.File{{Name: "a.s", Lines: []ast.Line{
		{Kind: ast.LineDirective, Directive: ast.Directive{Name: "global", Args: []string{"missing"}}},
	}}}}
	_, err := Link(src)
	assert(t, err != nil, "expected undefined global to error")
}

func TestLinkResolvesNumericLabels(t *testing.T) {
	src := &ast.Source{Files: []ast.File{{Name: "a.s", Lines: []ast.Line{
		{Kind: ast.LineLabel, Label: "1"},
		{Kind: ast.LineDirective, Directive: ast.Directive{Name: "text"}},
		{Kind: ast.LineLabel, Label: "1"},
	}}}}
	st, err := Link(src)
	assert(t, err == nil, "link failed: %v", err)

	ref := ast.LinePointer{FileIndex: 0, LineIndex: 1}
	back, ok := st.resolveNumericLabel(ref, 1, false)
	assert(t, ok && back.LineIndex == 0, "expected backward ref to resolve to line 0, got %+v ok=%v", back, ok)

	fwd, ok := st.resolveNumericLabel(ref, 1, true)
	assert(t, ok && fwd.LineIndex == 2, "expected forward ref to resolve to line 2, got %+v ok=%v", fwd, ok)
}

func TestLinkCollectsEquConstants(t *testing.T) {
	src := &ast.Source{Files: []ast.File{{Name: "a.s", Lines: []ast.Line{
		{Kind: ast.LineDirective, Directive: ast.Directive{Name: "equ", Args: []string{"FOO"}, Exprs: []*ast.Expression{lit(4)}}},
	}}}}
	st, err := Link(src)
	assert(t, err == nil, "link failed: %v", err)
	assert(t, st.IsDefined("FOO"), "expected FOO to be a defined constant")
}
