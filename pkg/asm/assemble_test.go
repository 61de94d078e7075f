package asm

import "testing"

func TestAssembleSimpleProgram(t *testing.T) {
	src := map[string][]string{
		"prog.s": {
			".global _start",
			".text",
			"_start:",
			"  li a0, 42",
			"  li a7, 93",
			"  ecall",
			".data",
			"msg:",
			"  .string \"hi\"",
		},
	}
	result, err := Assemble(src, []string{"prog.s"})
	assert(t, err == nil, "assemble failed: %v", err)
	assert(t, len(result.Text) > 0, "expected non-empty text output")
	assert(t, len(result.DataInit) == 3, "expected 3-byte data section (hi\\0), got %d", len(result.DataInit))

	img, err := result.ToImage()
	assert(t, err == nil, "ToImage failed: %v", err)
	assert(t, img.Entry == uint32(result.Layout.TextBase), "expected entry to be _start's address")
}

func TestAssembleMissingStartSymbolErrors(t *testing.T) {
	src := map[string][]string{
		"prog.s": {
			".text",
			"  nop",
		},
	}
	result, err := Assemble(src, []string{"prog.s"})
	assert(t, err == nil, "assemble failed: %v", err)
	_, err = result.ToImage()
	assert(t, err != nil, "expected missing _start symbol to error")
}

func TestAssembleUndefinedGlobalErrors(t *testing.T) {
	src := map[string][]string{
		"prog.s": {
			".global nowhere",
			".text",
			"_start:",
			"  nop",
		},
	}
	_, err := Assemble(src, []string{"prog.s"})
	assert(t, err != nil, "expected undefined global symbol to error")
}

func TestAssembleFarBranchRelaxes(t *testing.T) {
	lines := []string{".global _start", ".text", "_start:", "  j far"}
	for i := 0; i < 2000; i++ {
		lines = append(lines, "  nop")
	}
	lines = append(lines, "far:", "  nop")

	src := map[string][]string{"prog.s": lines}
	result, err := Assemble(src, []string{"prog.s"})
	assert(t, err == nil, "assemble of long program failed: %v", err)
	assert(t, len(result.Text) > 2000, "expected text to hold every instruction")
}
