package parser

import (
	"fmt"
	"regexp"
	"strings"

	"rv32edu/pkg/ast"
)

var commentRe = regexp.MustCompile(`#.*$`)

var directiveNames = map[string]bool{
	"global": true, "globl": true, "equ": true, "set": true,
	"text": true, "data": true, "bss": true,
	"space": true, "balign": true, "string": true, "asciz": true,
	"byte": true, "2byte": true, "4byte": true,
}

// ParseFile tokenizes and parses one source file's lines into an
// ast.File. fileIndex is recorded nowhere here (the caller assembles the
// final ast.Source and LinePointers index into it positionally).
func ParseFile(name string, rawLines []string) (ast.File, error) {
	f := ast.File{Name: name}
	for lineNo, raw := range rawLines {
		loc := ast.Location{File: name, Line: lineNo + 1}
		stripped := commentRe.ReplaceAllString(raw, "")
		trimmed := strings.TrimSpace(stripped)
		if trimmed == "" {
			f.Lines = append(f.Lines, ast.Line{Kind: ast.LineEmpty, Loc: loc})
			continue
		}

		line, err := parseLine(trimmed, loc)
		if err != nil {
			return ast.File{}, fmt.Errorf("%s:%d: %w", name, loc.Line, err)
		}
		f.Lines = append(f.Lines, line)
	}
	return f, nil
}

func parseLine(text string, loc ast.Location) (ast.Line, error) {
	if label, rest, ok := splitLabel(text); ok {
		if rest == "" {
			return ast.Line{Kind: ast.LineLabel, Loc: loc, Label: label}, nil
		}
		// `label: instr ...` on one physical line is not supported by
		// this front end; require a following line instead. This keeps
		// LinePointer <-> physical-line correspondence simple.
		return ast.Line{}, fmt.Errorf("label must be alone on its line: %q", text)
	}

	if strings.HasPrefix(text, ".") {
		return parseDirectiveLine(text[1:], loc)
	}

	return parseInstructionLine(text, loc)
}

// splitLabel recognizes a leading `name:` at the start of the line.
func splitLabel(text string) (label, rest string, ok bool) {
	i := strings.IndexAny(text, " \t")
	candidate := text
	if i >= 0 {
		candidate = text[:i]
	}
	if !strings.HasSuffix(candidate, ":") {
		return "", "", false
	}
	label = strings.TrimSuffix(candidate, ":")
	if label == "" || strings.ContainsAny(label, " \t:") {
		return "", "", false
	}
	if i >= 0 {
		rest = strings.TrimSpace(text[i+1:])
	}
	return label, rest, true
}

func parseDirectiveLine(text string, loc ast.Location) (ast.Line, error) {
	name, argsText := splitFirstWord(text)
	if !directiveNames[name] {
		return ast.Line{}, fmt.Errorf("unsupported directive: .%s", name)
	}

	d := ast.Directive{Name: name}

	switch name {
	case "string", "asciz":
		s, err := parseQuotedArg(argsText)
		if err != nil {
			return ast.Line{}, err
		}
		d.Str, d.HasStr = s, true
	case "global", "globl":
		for _, a := range splitCommaArgs(argsText) {
			d.Args = append(d.Args, strings.TrimSpace(a))
		}
	case "text", "data", "bss":
		// no arguments
	default: // equ, set, space, balign, byte, 2byte, 4byte
		parts := splitCommaArgs(argsText)
		if name == "equ" || name == "set" {
			if len(parts) < 1 {
				return ast.Line{}, fmt.Errorf(".%s requires a name", name)
			}
			d.Args = append(d.Args, strings.TrimSpace(parts[0]))
			parts = parts[1:]
		}
		for _, a := range parts {
			e, err := ParseExpressionText(a, loc)
			if err != nil {
				return ast.Line{}, err
			}
			d.Exprs = append(d.Exprs, e)
		}
	}

	return ast.Line{Kind: ast.LineDirective, Loc: loc, Directive: d}, nil
}

func parseQuotedArg(text string) (string, error) {
	text = strings.TrimSpace(text)
	toks, err := lex(text)
	if err != nil {
		return "", err
	}
	if len(toks) != 2 || toks[0].kind != tokString {
		return "", fmt.Errorf("expected a quoted string, got %q", text)
	}
	return toks[0].text, nil
}

func parseInstructionLine(text string, loc ast.Location) (ast.Line, error) {
	mnem, argsText := splitFirstWord(text)
	instr := ast.Instruction{Mnemonic: mnem}

	for _, a := range splitCommaArgs(argsText) {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		arg, err := parseInstrArg(a, loc)
		if err != nil {
			return ast.Line{}, err
		}
		instr.Args = append(instr.Args, arg)
	}

	return ast.Line{Kind: ast.LineInstruction, Loc: loc, Instr: instr}, nil
}

// parseInstrArg handles both bare operands (`a0`, `16`, `label`) and the
// `imm(reg)` addressing-mode shorthand used by loads/stores.
func parseInstrArg(text string, loc ast.Location) (ast.InstrArg, error) {
	if lp := strings.IndexByte(text, '('); lp >= 0 && strings.HasSuffix(text, ")") {
		regName := strings.TrimSpace(text[lp+1 : len(text)-1])
		offText := strings.TrimSpace(text[:lp])
		if offText == "" {
			offText = "0"
		}
		e, err := ParseExpressionText(offText, loc)
		if err != nil {
			return ast.InstrArg{}, err
		}
		// Encoded specially: the register goes in Register, the offset
		// expression stays in Expr; callers distinguish this shape by
		// context (load/store instructions only).
		return ast.InstrArg{IsReg: false, Register: regName, Expr: e}, nil
	}

	if isBareRegister(text) {
		return ast.InstrArg{IsReg: true, Register: text}, nil
	}

	e, err := ParseExpressionText(text, loc)
	if err != nil {
		return ast.InstrArg{}, err
	}
	return ast.InstrArg{Expr: e}, nil
}

func isBareRegister(text string) bool {
	_, ok := registerNames[text]
	return ok
}

func splitFirstWord(text string) (word, rest string) {
	i := strings.IndexAny(text, " \t")
	if i < 0 {
		return text, ""
	}
	return text[:i], strings.TrimSpace(text[i+1:])
}

// splitCommaArgs splits on top-level commas only (none of our argument
// grammars nest commas inside parens, so this stays a simple scan).
func splitCommaArgs(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	return strings.Split(text, ",")
}
