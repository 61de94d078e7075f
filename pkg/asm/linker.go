package asm

import (
	"errors"
	"fmt"

	"rv32edu/pkg/ast"
)

var (
	errDuplicateSymbol = errors.New("duplicate symbol definition")
	errUndefinedGlobal = errors.New("global symbol declared but never defined")
)

// SymbolTable is the output of the linking pass (B): every label's
// defining LinePointer, keyed by name, plus the set of names exported
// via .global/.globl and the numeric-label pools used to resolve Nf/Nb
// references.
type SymbolTable struct {
	Defs    map[string]ast.LinePointer
	Globals map[string]bool

	// Constants holds .equ/.set name -> expression bindings, evaluated
	// lazily against the active Layout rather than stored as a fixed
	// value, since a constant may itself reference an address whose
	// value only settles once relaxation converges.
	Constants map[string]constDef

	// numericLabels holds, per label number, the ordered list of
	// LinePointers where that number was defined as a label — Nf/Nb
	// resolve by scanning this list relative to the reference's position.
	numericLabels map[int][]ast.LinePointer
}

type constDef struct {
	expr *ast.Expression
	at   ast.LinePointer
}

func (st *SymbolTable) IsDefined(name string) bool {
	if _, ok := st.Defs[name]; ok {
		return true
	}
	_, ok := st.Constants[name]
	return ok
}

// Link walks every file once, recording label definitions (both named
// and numeric) and validating .global declarations refer to something
// defined somewhere in the whole source, per the "whole-file-complete"
// resolution rule in SPEC_FULL.md (a .global may precede or follow the
// label it names, resolved only after every file has been scanned).
func Link(src *ast.Source) (*SymbolTable, error) {
	st := &SymbolTable{
		Defs:          map[string]ast.LinePointer{},
		Globals:       map[string]bool{},
		Constants:     map[string]constDef{},
		numericLabels: map[int][]ast.LinePointer{},
	}

	var pendingGlobals []pendingGlobal

	for fi, f := range src.Files {
		for li, line := range f.Lines {
			p := ast.LinePointer{FileIndex: fi, LineIndex: li}
			switch line.Kind {
			case ast.LineLabel:
				if err := defineLabel(st, line.Label, p); err != nil {
					return nil, err
				}
			case ast.LineDirective:
				switch line.Directive.Name {
				case "global", "globl":
					for _, name := range line.Directive.Args {
						pendingGlobals = append(pendingGlobals, pendingGlobal{name: name, loc: line.Loc})
					}
				case "equ", "set":
					if len(line.Directive.Args) == 1 && len(line.Directive.Exprs) == 1 {
						name := line.Directive.Args[0]
						if _, exists := st.Constants[name]; exists {
							return nil, fmt.Errorf("%w: %s", errDuplicateSymbol, name)
						}
						st.Constants[name] = constDef{expr: line.Directive.Exprs[0], at: p}
					}
				}
			}
		}
	}

	for _, g := range pendingGlobals {
		st.Globals[g.name] = true
	}
	for name := range st.Globals {
		if !st.IsDefined(name) {
			return nil, fmt.Errorf("%w: %s", errUndefinedGlobal, name)
		}
	}

	return st, nil
}

type pendingGlobal struct {
	name string
	loc  ast.Location
}

func defineLabel(st *SymbolTable, label string, p ast.LinePointer) error {
	if isNumericLabel(label) {
		n := parseLabelNumber(label)
		st.numericLabels[n] = append(st.numericLabels[n], p)
		return nil
	}
	if _, exists := st.Defs[label]; exists {
		return fmt.Errorf("%w: %s", errDuplicateSymbol, label)
	}
	st.Defs[label] = p
	return nil
}

func isNumericLabel(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func parseLabelNumber(s string) int {
	n := 0
	for _, c := range s {
		n = n*10 + int(c-'0')
	}
	return n
}

// resolveNumericLabel finds the nearest definition of numeric label n
// before (Forward=false, "b") or after (Forward=true, "f") the
// reference's own position, searching within fi then across later/
// earlier files only when no candidate exists in the same file —
// matching the whole-program line ordering a single concatenated
// assembly file would have.
func (st *SymbolTable) resolveNumericLabel(ref ast.LinePointer, n int, forward bool) (ast.LinePointer, bool) {
	candidates := st.numericLabels[n]
	var best ast.LinePointer
	found := false
	for _, c := range candidates {
		if forward {
			if after(c, ref) && (!found || before(c, best)) {
				best, found = c, true
			}
		} else {
			if before(c, ref) && (!found || after(c, best)) {
				best, found = c, true
			}
		}
	}
	return best, found
}

func before(a, b ast.LinePointer) bool {
	if a.FileIndex != b.FileIndex {
		return a.FileIndex < b.FileIndex
	}
	return a.LineIndex < b.LineIndex
}

func after(a, b ast.LinePointer) bool {
	if a.FileIndex != b.FileIndex {
		return a.FileIndex > b.FileIndex
	}
	return a.LineIndex > b.LineIndex
}
