// Package query parses and evaluates the subscription queries understood by
// the remote store: SELECT * FROM <table> [WHERE <column> <op> <literal>].
package query

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// ErrSyntax is returned for queries outside the supported grammar.
var ErrSyntax = errors.New("query syntax error")

// Op is a comparison operator.
type Op string

const (
	OpEq Op = "="
	OpNe Op = "!="
)

// Row exposes column values in canonical string form.
type Row interface {
	Column(name string) (string, bool)
}

// Condition is a single column comparison.
type Condition struct {
	Column string
	Op     Op
	Value  string
}

// Query is a parsed subscription query.
type Query struct {
	Table string
	Where *Condition
}

// Parse parses a subscription query.
func Parse(src string) (Query, error) {
	toks, err := tokenize(src)
	if err != nil {
		return Query{}, err
	}
	p := parser{toks: toks, src: src}

	if err := p.keyword("SELECT"); err != nil {
		return Query{}, err
	}
	if err := p.symbol("*"); err != nil {
		return Query{}, err
	}
	if err := p.keyword("FROM"); err != nil {
		return Query{}, err
	}
	table, err := p.ident()
	if err != nil {
		return Query{}, err
	}
	q := Query{Table: table}

	if p.done() {
		return q, nil
	}
	if err := p.keyword("WHERE"); err != nil {
		return Query{}, err
	}
	column, err := p.ident()
	if err != nil {
		return Query{}, err
	}
	op, err := p.operator()
	if err != nil {
		return Query{}, err
	}
	value, err := p.literal()
	if err != nil {
		return Query{}, err
	}
	if !p.done() {
		return Query{}, p.errorf("unexpected %q", p.peek().text)
	}
	q.Where = &Condition{Column: column, Op: op, Value: value}
	return q, nil
}

// Match reports whether row satisfies the query's condition. Rows missing the
// compared column never match.
func (q Query) Match(row Row) bool {
	if q.Where == nil {
		return true
	}
	v, ok := row.Column(q.Where.Column)
	if !ok {
		return false
	}
	switch q.Where.Op {
	case OpEq:
		return v == q.Where.Value
	case OpNe:
		return v != q.Where.Value
	}
	return false
}

// String renders the query back in canonical form.
func (q Query) String() string {
	s := "SELECT * FROM " + q.Table
	if q.Where != nil {
		s += fmt.Sprintf(" WHERE %s %s '%s'", q.Where.Column, q.Where.Op, q.Where.Value)
	}
	return s
}

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokNumber
	tokString
	tokSymbol
)

type token struct {
	kind tokenKind
	text string
}

func tokenize(src string) ([]token, error) {
	var toks []token
	rs := []rune(src)
	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '*' || r == '=':
			toks = append(toks, token{tokSymbol, string(r)})
			i++
		case r == '!' || r == '<':
			if i+1 >= len(rs) {
				return nil, fmt.Errorf("%w: dangling %q", ErrSyntax, r)
			}
			pair := string(rs[i : i+2])
			if pair != "!=" && pair != "<>" {
				return nil, fmt.Errorf("%w: unknown operator %q", ErrSyntax, pair)
			}
			toks = append(toks, token{tokSymbol, "!="})
			i += 2
		case r == '\'':
			j := i + 1
			for j < len(rs) && rs[j] != '\'' {
				j++
			}
			if j >= len(rs) {
				return nil, fmt.Errorf("%w: unterminated string", ErrSyntax)
			}
			toks = append(toks, token{tokString, string(rs[i+1 : j])})
			i = j + 1
		case isDigit(r):
			j := i
			for j < len(rs) && isDigit(rs[j]) {
				j++
			}
			toks = append(toks, token{tokNumber, string(rs[i:j])})
			i = j
		case unicode.IsLetter(r) || r == '_':
			j := i
			for j < len(rs) && (unicode.IsLetter(rs[j]) || isDigit(rs[j]) || rs[j] == '_') {
				j++
			}
			toks = append(toks, token{tokIdent, string(rs[i:j])})
			i = j
		default:
			return nil, fmt.Errorf("%w: unexpected character %q", ErrSyntax, r)
		}
	}
	return toks, nil
}

// isDigit accepts ASCII digits only; numbers are parsed with strconv.
func isDigit(r rune) bool { return r >= '0' && r <= '9' }

type parser struct {
	toks []token
	pos  int
	src  string
}

func (p *parser) done() bool { return p.pos >= len(p.toks) }

func (p *parser) peek() token {
	if p.done() {
		return token{}
	}
	return p.toks[p.pos]
}

func (p *parser) errorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s in %q", ErrSyntax, fmt.Sprintf(format, args...), p.src)
}

func (p *parser) keyword(kw string) error {
	t := p.peek()
	if p.done() || t.kind != tokIdent || !strings.EqualFold(t.text, kw) {
		return p.errorf("expected %s", kw)
	}
	p.pos++
	return nil
}

func (p *parser) symbol(sym string) error {
	t := p.peek()
	if p.done() || t.kind != tokSymbol || t.text != sym {
		return p.errorf("expected %q", sym)
	}
	p.pos++
	return nil
}

func (p *parser) ident() (string, error) {
	t := p.peek()
	if p.done() || t.kind != tokIdent {
		return "", p.errorf("expected identifier")
	}
	p.pos++
	return strings.ToLower(t.text), nil
}

func (p *parser) operator() (Op, error) {
	t := p.peek()
	if p.done() || t.kind != tokSymbol {
		return "", p.errorf("expected operator")
	}
	p.pos++
	switch t.text {
	case "=":
		return OpEq, nil
	case "!=":
		return OpNe, nil
	}
	return "", p.errorf("unsupported operator %q", t.text)
}

func (p *parser) literal() (string, error) {
	t := p.peek()
	if p.done() {
		return "", p.errorf("expected literal")
	}
	switch t.kind {
	case tokString:
		p.pos++
		return t.text, nil
	case tokNumber:
		p.pos++
		n, err := strconv.ParseUint(t.text, 10, 64)
		if err != nil {
			return "", p.errorf("number out of range")
		}
		return strconv.FormatUint(n, 10), nil
	}
	return "", p.errorf("expected literal")
}
