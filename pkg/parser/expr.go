package parser

import (
	"fmt"

	"rv32edu/pkg/ast"
	"rv32edu/pkg/isa"
)

// registerNames is consulted to distinguish a bare register operand
// (`a0`) from an identifier expression (a label) with the same shape.
var registerNames = buildRegisterNames()

func buildRegisterNames() map[string]bool {
	m := map[string]bool{"fp": true}
	for i := 0; i < 32; i++ {
		m[isa.RegisterName(isa.Reg(i))] = true
		m[fmt.Sprintf("x%d", i)] = true
	}
	return m
}

// ParseExpressionText lexes and parses a complete expression from a
// standalone snippet of text (a directive argument or instruction
// operand), requiring the whole snippet to be consumed.
func ParseExpressionText(text string, loc ast.Location) (*ast.Expression, error) {
	toks, err := lex(text)
	if err != nil {
		return nil, err
	}
	p := &exprParser{toks: toks, loc: loc}
	e, err := p.parseBinary(0)
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokEOF {
		return nil, fmt.Errorf("unexpected trailing input in expression %q", text)
	}
	return e, nil
}

type exprParser struct {
	toks []token
	pos  int
	loc  ast.Location
}

func (p *exprParser) peek() token {
	if p.pos >= len(p.toks) {
		return token{kind: tokEOF}
	}
	return p.toks[p.pos]
}

func (p *exprParser) next() token {
	t := p.peek()
	if p.pos < len(p.toks) {
		p.pos++
	}
	return t
}

// binOpPrec gives C-style precedence, highest binds tightest: * / %
// above + - above << >> above & above ^ above |.
var binOpPrec = map[string]int{
	"*": 6, "/": 6, "%": 6,
	"+": 5, "-": 5,
	"<<": 4, ">>": 4,
	"&": 3,
	"^": 2,
	"|": 1,
}

func (p *exprParser) parseBinary(minPrec int) (*ast.Expression, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.kind != tokOp {
			return left, nil
		}
		prec, ok := binOpPrec[t.text]
		if !ok || prec < minPrec {
			return left, nil
		}
		p.next()
		right, err := p.parseBinary(prec + 1)
		if err != nil {
			return nil, err
		}
		left = &ast.Expression{
			Kind: ast.ExprBinary, Loc: p.loc,
			Op: t.text, Left: left, Right: right,
		}
	}
}

func (p *exprParser) parseUnary() (*ast.Expression, error) {
	t := p.peek()
	if t.kind == tokOp && (t.text == "-" || t.text == "~" || t.text == "+") {
		p.next()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if t.text == "+" {
			return operand, nil
		}
		return &ast.Expression{Kind: ast.ExprUnary, Loc: p.loc, Op: t.text, Left: operand}, nil
	}
	return p.parsePrimary()
}

func (p *exprParser) parsePrimary() (*ast.Expression, error) {
	t := p.next()
	switch t.kind {
	case tokLParen:
		e, err := p.parseBinary(0)
		if err != nil {
			return nil, err
		}
		if p.next().kind != tokRParen {
			return nil, fmt.Errorf("expected ')'")
		}
		return e, nil
	case tokNumber:
		return &ast.Expression{Kind: ast.ExprLiteral, Loc: p.loc, Literal: t.num}, nil
	case tokChar:
		return &ast.Expression{Kind: ast.ExprLiteral, Loc: p.loc, Literal: t.num}, nil
	case tokDot:
		return &ast.Expression{Kind: ast.ExprCurrentAddress, Loc: p.loc}, nil
	case tokIdent:
		if n, forward, ok := parseNumericLabelRef(t.text); ok {
			return &ast.Expression{Kind: ast.ExprNumericLabel, Loc: p.loc, NumericLabel: n, Forward: forward}, nil
		}
		return &ast.Expression{Kind: ast.ExprIdentifier, Loc: p.loc, Identifier: t.text}, nil
	default:
		return nil, fmt.Errorf("unexpected token in expression")
	}
}

// parseNumericLabelRef recognizes the `Nf`/`Nb` numeric-label-reference
// shape (e.g. "1f", "2b") as distinct from an ordinary identifier.
func parseNumericLabelRef(text string) (n int, forward bool, ok bool) {
	if len(text) < 2 {
		return 0, false, false
	}
	suffix := text[len(text)-1]
	if suffix != 'f' && suffix != 'b' {
		return 0, false, false
	}
	digits := text[:len(text)-1]
	if digits == "" {
		return 0, false, false
	}
	for _, c := range digits {
		if c < '0' || c > '9' {
			return 0, false, false
		}
	}
	val := 0
	for _, c := range digits {
		val = val*10 + int(c-'0')
	}
	return val, suffix == 'f', true
}
