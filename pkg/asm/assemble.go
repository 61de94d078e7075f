package asm

import (
	"rv32edu/pkg/ast"
	"rv32edu/pkg/parser"
)

// Assemble runs the whole front-end-through-relaxation pipeline: parse
// every named source into an ast.Source, auto-detect GP relaxation
// eligibility, and run the fixed-point relaxation loop to a converged
// Result.
func Assemble(sources map[string][]string, order []string) (*Result, error) {
	var src ast.Source
	src.Files = append(src.Files, ast.File{Name: ast.BuiltinFileName})

	for _, name := range order {
		f, err := parser.ParseFile(name, sources[name])
		if err != nil {
			return nil, err
		}
		src.Files = append(src.Files, f)
	}

	policy := RelaxPolicy{GPRelaxation: DetectGPRelaxation(&src)}
	return Relax(&src, policy)
}
