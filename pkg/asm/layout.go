package asm

import (
	"rv32edu/pkg/ast"
)

// Default base addresses and header reservation, matching the ELF
// writer's fixed layout (component F): .text starts right after the
// ELF + program headers, .data follows at the next page boundary, and
// .bss follows .data at the next word boundary.
const (
	HeaderSize    = 0x1000
	TextBaseAddr  = 0x00010000
	StackSize     = 8192
	pageAlign     = 0x1000
)

// Layout is the mutable co-convergence state the relaxation driver (E)
// threads through repeated passes: every line's address and, for
// instruction lines, encoded size. It implements Resolver so Eval can
// be called directly against it.
type Layout struct {
	Source  *ast.Source
	Symbols *SymbolTable

	// Addr is the address of the first byte a line contributes (for
	// instruction/label lines) or would contribute if it emitted bytes.
	Addr map[ast.LinePointer]int32
	// Size is the number of bytes an instruction line currently encodes
	// to; only ever shrinks across passes (monotone-shrinking guarantee).
	Size map[ast.LinePointer]int

	TextBase, DataBase, BssBase int32

	// GlobalPointerAddr is the resolved value of __global_pointer$, the
	// synthetic symbol the <builtin> file defines at .data's start +
	// 0x800, used by GP-relative addressing relaxation.
	GlobalPointerAddr int32
}

func NewLayout(src *ast.Source, st *SymbolTable) *Layout {
	return &Layout{
		Source:   src,
		Symbols:  st,
		Addr:     map[ast.LinePointer]int32{},
		Size:     map[ast.LinePointer]int{},
		TextBase: TextBaseAddr,
	}
}

// SymbolAddress implements Resolver.
func (l *Layout) SymbolAddress(name string) (int32, bool) {
	if name == "__global_pointer$" {
		return l.GlobalPointerAddr, true
	}
	if c, ok := l.Symbols.Constants[name]; ok {
		v, err := Eval(c.expr, c.at, l)
		if err != nil {
			return 0, false
		}
		return v.Bits, true
	}
	p, ok := l.Symbols.Defs[name]
	if !ok {
		return 0, false
	}
	addr, ok := l.Addr[p]
	return addr, ok
}

// NumericLabelAddress implements Resolver.
func (l *Layout) NumericLabelAddress(at ast.LinePointer, n int, forward bool) (int32, bool) {
	p, ok := l.Symbols.resolveNumericLabel(at, n, forward)
	if !ok {
		return 0, false
	}
	addr, ok := l.Addr[p]
	return addr, ok
}

// CurrentAddress implements Resolver: the address of the line an
// expression appears on (its own instruction/data start address).
func (l *Layout) CurrentAddress(at ast.LinePointer) int32 {
	return l.Addr[at]
}

// Recompute walks every file/line in source order, assigning Addr from
// the current Size table and the active segment, then recomputes
// segment base addresses for the next pass. Instruction line sizes are
// read from l.Size, which the caller (component D/E) fills in since
// they depend on encoding, which Layout itself does not perform;
// dataSize and bssSize give each .data/.bss directive's byte count.
func (l *Layout) Recompute(dataSize, bssSize func(addr int32, d ast.Directive) int32) {
	textAddr := l.TextBase
	seg := ast.Text
	// Two-pass: text first (fixed base), then data/bss appended after
	// text's final extent once this pass's text size is known.
	textEnd := l.TextBase
	for fi, f := range l.Source.Files {
		for li, line := range f.Lines {
			p := ast.LinePointer{FileIndex: fi, LineIndex: li}
			switch line.Kind {
			case ast.LineDirective:
				switch line.Directive.Name {
				case "text":
					seg = ast.Text
				case "data":
					seg = ast.Data
				case "bss":
					seg = ast.Bss
				}
			}
			if seg != ast.Text {
				continue
			}
			l.Addr[p] = textAddr
			if line.Kind == ast.LineInstruction {
				textAddr += int32(l.Size[p])
			}
		}
	}
	textEnd = textAddr

	dataAddr := alignUp(textEnd, pageAlign)
	l.DataBase = dataAddr
	seg = ast.Text
	for fi, f := range l.Source.Files {
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
			if seg != ast.Data {
				continue
			}
			l.Addr[p] = dataAddr
			if line.Kind == ast.LineDirective {
				dataAddr += int32(dataSize(dataAddr, line.Directive))
			}
		}
	}
	dataEnd := dataAddr
	// __global_pointer$ sits at data_start + 0x800, the conventional RISC-V
	// placement that maximizes how much of .data/.bss 12-bit offsets reach.
	l.GlobalPointerAddr = l.DataBase + 0x800

	bssAddr := alignUp(dataEnd, 4)
	l.BssBase = bssAddr
	seg = ast.Text
	for fi, f := range l.Source.Files {
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
			if seg != ast.Bss {
				continue
			}
			l.Addr[p] = bssAddr
			if line.Kind == ast.LineDirective {
				bssAddr += int32(bssSize(bssAddr, line.Directive))
			}
		}
	}
}

func alignUp(v int32, align int32) int32 {
	rem := v % align
	if rem == 0 {
		return v
	}
	return v + (align - rem)
}
