package asm

import (
	"fmt"
	"strings"

	"rv32edu/pkg/ast"
	"rv32edu/pkg/isa"
)

// MaxIterations bounds the relaxation fixed-point loop. Every pass can
// only ever shrink an instruction's encoded size or leave it unchanged
// (never grow it), so the loop is guaranteed to converge; this cap is
// a defensive backstop against a logic error turning that guarantee
// into an infinite loop rather than an expected behavior.
const MaxIterations = 10

// EncodedWord is one emitted instruction: its bytes and the Op it came
// from, kept together so the trace driver (L) can later display the
// original mnemonic/operands alongside the decoded effect.
type EncodedWord struct {
	Addr  int32
	Bytes []byte
	Op    isa.Op
}

// Result is the fully-relaxed assembly output: final addresses for
// every symbol plus the concrete byte sequence for every segment.
type Result struct {
	Layout   *Layout
	Symbols  *SymbolTable
	Text     []EncodedWord
	DataInit []byte // initialized .data contents, DataBase-relative
	BssLen   int32
}

// Relax runs the fixed-point assembly loop: expand every instruction
// line with AssembleLine, try to compress each resulting Op, recompute
// the Layout from the new sizes, and repeat until no line's size
// changes. Directive byte sizes (.space/.balign/.byte/...) are
// constant across passes and are only needed for the final layout, but
// are recomputed every pass anyway since that cost is negligible next
// to instruction encoding.
func Relax(src *ast.Source, policy RelaxPolicy) (*Result, error) {
	st, err := Link(src)
	if err != nil {
		return nil, err
	}
	layout := NewLayout(src, st)

	instrLines := collectInstructionLines(src)
	for _, p := range instrLines {
		layout.Size[p] = 8 // worst case: two 4-byte standard instructions
	}
	layout.Recompute(directiveDataSize, directiveBssSize)

	opsByLine := map[ast.LinePointer][]isa.Op{}

	converged := false
	for iter := 0; iter < MaxIterations; iter++ {
		changed := false
		for _, p := range instrLines {
			instr := src.Line(p).Instr
			ops, err := AssembleLine(instr, p, layout, policy)
			if err != nil {
				return nil, fmt.Errorf("%s:%d: %w", src.Files[p.FileIndex].Name, src.Files[p.FileIndex].Lines[p.LineIndex].Loc.Line, err)
			}
			size := 0
			for _, op := range ops {
				if _, ok := TryCompress(op); ok {
					size += 2
				} else {
					size += 4
				}
			}
			if size != layout.Size[p] {
				changed = true
			}
			layout.Size[p] = size
			opsByLine[p] = ops
		}
		layout.Recompute(directiveDataSize, directiveBssSize)
		if !changed {
			converged = true
			break
		}
	}
	if !converged {
		return nil, fmt.Errorf("asm: relaxation did not converge within %d iterations", MaxIterations)
	}

	text, err := emitText(instrLines, layout, opsByLine)
	if err != nil {
		return nil, err
	}
	dataInit, bssLen := emitDataBss(src, layout)

	return &Result{Layout: layout, Symbols: st, Text: text, DataInit: dataInit, BssLen: bssLen}, nil
}

func collectInstructionLines(src *ast.Source) []ast.LinePointer {
	var out []ast.LinePointer
	for fi, f := range src.Files {
		for li, line := range f.Lines {
			if line.Kind == ast.LineInstruction {
				out = append(out, ast.LinePointer{FileIndex: fi, LineIndex: li})
			}
		}
	}
	return out
}

func emitText(lines []ast.LinePointer, layout *Layout, opsByLine map[ast.LinePointer][]isa.Op) ([]EncodedWord, error) {
	var out []EncodedWord
	for _, p := range lines {
		addr := layout.Addr[p]
		for _, op := range opsByLine[p] {
			if w, ok := TryCompress(op); ok {
				out = append(out, EncodedWord{Addr: addr, Bytes: []byte{byte(w), byte(w >> 8)}, Op: op})
				addr += 2
				continue
			}
			word, err := EncodeStandard(op)
			if err != nil {
				return nil, err
			}
			out = append(out, EncodedWord{
				Addr: addr,
				Bytes: []byte{
					byte(word), byte(word >> 8), byte(word >> 16), byte(word >> 24),
				},
				Op: op,
			})
			addr += 4
		}
	}
	return out, nil
}

func emitDataBss(src *ast.Source, layout *Layout) ([]byte, int32) {
	var data []byte
	var bssLen int32
	seg := ast.Text
	for fi, f := range src.Files {
		for li, line := range f.Lines {
			p := ast.LinePointer{FileIndex: fi, LineIndex: li}
			if line.Kind == ast.LineDirective {
				switch line.Directive.Name {
				case "text":
					seg = ast.Text
				case "data":
					seg = ast.Data
				case "bss":
					seg = ast.Bss
				}
			}
			if line.Kind != ast.LineDirective {
				continue
			}
			addr := layout.Addr[p]
			switch seg {
			case ast.Data:
				want := int(directiveDataSize(addr, line.Directive))
				for len(data) < int(addr-layout.DataBase) {
					data = append(data, 0)
				}
				data = append(data, renderDirectiveBytes(line.Directive, want)...)
			case ast.Bss:
				bssLen += directiveBssSize(addr, line.Directive)
			}
		}
	}
	return data, bssLen
}

func directiveDataSize(addr int32, d ast.Directive) int32 {
	switch d.Name {
	case "byte":
		return int32(len(d.Exprs))
	case "2byte":
		return int32(len(d.Exprs) * 2)
	case "4byte":
		return int32(len(d.Exprs) * 4)
	case "string", "asciz":
		return int32(len(d.Str) + 1)
	case "space":
		return constExprOr(d, 0, 0)
	case "balign":
		align := constExprOr(d, 0, 1)
		if align <= 1 {
			return 0
		}
		rem := addr % align
		if rem == 0 {
			return 0
		}
		return align - rem
	}
	return 0
}

func directiveBssSize(addr int32, d ast.Directive) int32 {
	switch d.Name {
	case "space":
		return constExprOr(d, 0, 0)
	case "balign":
		return directiveDataSize(addr, d)
	case "byte":
		return int32(len(d.Exprs))
	case "2byte":
		return int32(len(d.Exprs) * 2)
	case "4byte":
		return int32(len(d.Exprs) * 4)
	}
	return 0
}

func constExprOr(d ast.Directive, idx int, def int32) int32 {
	if idx >= len(d.Exprs) {
		return def
	}
	v, err := Eval(d.Exprs[idx], ast.LinePointer{}, constOnlyResolver{})
	if err != nil {
		return def
	}
	return v.Bits
}

func renderDirectiveBytes(d ast.Directive, want int) []byte {
	buf := make([]byte, 0, want)
	switch d.Name {
	case "byte":
		for _, e := range d.Exprs {
			v, _ := Eval(e, ast.LinePointer{}, constOnlyResolver{})
			buf = append(buf, byte(v.Bits))
		}
	case "2byte":
		for _, e := range d.Exprs {
			v, _ := Eval(e, ast.LinePointer{}, constOnlyResolver{})
			buf = append(buf, byte(v.Bits), byte(v.Bits>>8))
		}
	case "4byte":
		for _, e := range d.Exprs {
			v, _ := Eval(e, ast.LinePointer{}, constOnlyResolver{})
			buf = append(buf, byte(v.Bits), byte(v.Bits>>8), byte(v.Bits>>16), byte(v.Bits>>24))
		}
	case "string", "asciz":
		buf = append(buf, []byte(d.Str)...)
		buf = append(buf, 0)
	}
	for len(buf) < want {
		buf = append(buf, 0)
	}
	return buf
}

// DetectGPRelaxation prescans source text for the conventional
// `la gp, __global_pointer$` idiom that marks a program as having
// opted into gp-relative addressing (SPEC_FULL.md Open Question 2).
func DetectGPRelaxation(src *ast.Source) bool {
	for _, f := range src.Files {
		for _, line := range f.Lines {
			if line.Kind != ast.LineInstruction || line.Instr.Mnemonic != "la" {
				continue
			}
			if len(line.Instr.Args) != 2 || !line.Instr.Args[0].IsReg {
				continue
			}
			if line.Instr.Args[0].Register != "gp" {
				continue
			}
			if line.Instr.Args[1].Expr != nil && line.Instr.Args[1].Expr.Kind == ast.ExprIdentifier &&
				strings.TrimSpace(line.Instr.Args[1].Expr.Identifier) == "__global_pointer$" {
				return true
			}
		}
	}
	return false
}
