package rlmexpr

import "fmt"

// parser is a small recursive-descent / precedence-climbing parser over the
// flat token stream produced by lex. The grammar is deliberately narrow: it
// covers straight-line code (assignments and expression statements, no
// loops or conditionals) because that is all the engine's outer loop ever
// needs the guest to run — every literal scenario the protocol has to
// support is a sequence of assignments and calls. Code using a construct
// outside this grammar produces a parse error, which surfaces to the
// engine as an ordinary execute failure, not a protocol violation.
type parser struct {
	toks []token
	pos  int
}

// Parse tokenizes and parses src into a statement list.
func Parse(src string) ([]Stmt, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	var stmts []Stmt
	for !p.atEOF() {
		for p.check(tNewline) {
			p.advance()
		}
		if p.atEOF() {
			break
		}
		s, err := p.parseStmt()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, s)
		if !p.atEOF() && !p.check(tNewline) {
			return nil, fmt.Errorf("line %d: expected end of statement, got %q", p.cur().line, p.cur().text)
		}
		for p.check(tNewline) {
			p.advance()
		}
	}
	return stmts, nil
}

func (p *parser) cur() token  { return p.toks[p.pos] }
func (p *parser) atEOF() bool { return p.cur().kind == tEOF }
func (p *parser) check(k tokKind) bool {
	return p.cur().kind == k
}
func (p *parser) advance() token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}
func (p *parser) expect(k tokKind, what string) (token, error) {
	if !p.check(k) {
		return token{}, fmt.Errorf("line %d: expected %s, got %q", p.cur().line, what, p.cur().text)
	}
	return p.advance(), nil
}

func (p *parser) parseStmt() (Stmt, error) {
	if p.check(tIdent) && p.toks[p.pos+1].kind == tAssign {
		name := p.advance().text
		p.advance() // '='
		e, err := p.parseExpr()
		if err != nil {
			return Stmt{}, err
		}
		return Stmt{Assign: name, Expr: e}, nil
	}
	e, err := p.parseExpr()
	if err != nil {
		return Stmt{}, err
	}
	return Stmt{Expr: e}, nil
}

// parseExpr: or-expr
func (p *parser) parseExpr() (Expr, error) { return p.parseOr() }

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return Expr{}, err
	}
	for p.check(tOr) {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return Expr{}, err
		}
		l, r := left, right
		left = Expr{op: opBinary, Op: "or", X: &l, Y: &r}
	}
	return left, nil
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return Expr{}, err
	}
	for p.check(tAnd) {
		p.advance()
		right, err := p.parseNot()
		if err != nil {
			return Expr{}, err
		}
		l, r := left, right
		left = Expr{op: opBinary, Op: "and", X: &l, Y: &r}
	}
	return left, nil
}

func (p *parser) parseNot() (Expr, error) {
	if p.check(tNot) {
		p.advance()
		x, err := p.parseNot()
		if err != nil {
			return Expr{}, err
		}
		return Expr{op: opUnary, Op: "not", X: &x}, nil
	}
	return p.parseComparison()
}

var cmpOps = map[tokKind]string{
	tEq: "==", tNe: "!=", tLt: "<", tGt: ">", tLe: "<=", tGe: ">=",
}

func (p *parser) parseComparison() (Expr, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return Expr{}, err
	}
	for {
		op, ok := cmpOps[p.cur().kind]
		if !ok {
			return left, nil
		}
		p.advance()
		right, err := p.parseAdditive()
		if err != nil {
			return Expr{}, err
		}
		l, r := left, right
		left = Expr{op: opBinary, Op: op, X: &l, Y: &r}
	}
}

func (p *parser) parseAdditive() (Expr, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return Expr{}, err
	}
	for p.check(tPlus) || p.check(tMinus) {
		op := "+"
		if p.check(tMinus) {
			op = "-"
		}
		p.advance()
		right, err := p.parseMultiplicative()
		if err != nil {
			return Expr{}, err
		}
		l, r := left, right
		left = Expr{op: opBinary, Op: op, X: &l, Y: &r}
	}
	return left, nil
}

func (p *parser) parseMultiplicative() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return Expr{}, err
	}
	for p.check(tStar) || p.check(tSlash) || p.check(tPercent) {
		op := p.cur().text
		p.advance()
		right, err := p.parseUnary()
		if err != nil {
			return Expr{}, err
		}
		l, r := left, right
		left = Expr{op: opBinary, Op: op, X: &l, Y: &r}
	}
	return left, nil
}

func (p *parser) parseUnary() (Expr, error) {
	if p.check(tMinus) {
		p.advance()
		x, err := p.parseUnary()
		if err != nil {
			return Expr{}, err
		}
		return Expr{op: opUnary, Op: "-", X: &x}, nil
	}
	return p.parsePostfix()
}

func (p *parser) parsePostfix() (Expr, error) {
	e, err := p.parsePrimary()
	if err != nil {
		return Expr{}, err
	}
	for {
		switch {
		case p.check(tLParen):
			p.advance()
			var args []Expr
			for !p.check(tRParen) {
				a, err := p.parseExpr()
				if err != nil {
					return Expr{}, err
				}
				args = append(args, a)
				if p.check(tComma) {
					p.advance()
					continue
				}
				break
			}
			if _, err := p.expect(tRParen, "')'"); err != nil {
				return Expr{}, err
			}
			fn := e
			e = Expr{op: opCall, Fn: &fn, Args: args}
		case p.check(tLBracket):
			p.advance()
			idx, err := p.parseExpr()
			if err != nil {
				return Expr{}, err
			}
			if _, err := p.expect(tRBracket, "']'"); err != nil {
				return Expr{}, err
			}
			base := e
			e = Expr{op: opIndex, Base: &base, Idx: &idx}
		default:
			return e, nil
		}
	}
}

func (p *parser) parsePrimary() (Expr, error) {
	t := p.cur()
	switch t.kind {
	case tNumber:
		p.advance()
		v, err := parseNumber(t.text)
		if err != nil {
			return Expr{}, fmt.Errorf("line %d: invalid number %q", t.line, t.text)
		}
		return Expr{op: opLit, Lit: v}, nil
	case tString:
		p.advance()
		return Expr{op: opLit, Lit: Str(t.text)}, nil
	case tTrue:
		p.advance()
		return Expr{op: opLit, Lit: Bool(true)}, nil
	case tFalse:
		p.advance()
		return Expr{op: opLit, Lit: Bool(false)}, nil
	case tNone:
		p.advance()
		return Expr{op: opLit, Lit: None}, nil
	case tIdent:
		p.advance()
		return Expr{op: opIdent, Name: t.text}, nil
	case tLParen:
		p.advance()
		e, err := p.parseExpr()
		if err != nil {
			return Expr{}, err
		}
		if _, err := p.expect(tRParen, "')'"); err != nil {
			return Expr{}, err
		}
		return e, nil
	case tLBracket:
		p.advance()
		var elems []Expr
		for !p.check(tRBracket) {
			el, err := p.parseExpr()
			if err != nil {
				return Expr{}, err
			}
			elems = append(elems, el)
			if p.check(tComma) {
				p.advance()
				continue
			}
			break
		}
		if _, err := p.expect(tRBracket, "']'"); err != nil {
			return Expr{}, err
		}
		return Expr{op: opList, Elems: elems}, nil
	default:
		return Expr{}, fmt.Errorf("line %d: unexpected token %q", t.line, t.text)
	}
}
