// Package formula evaluates user-supplied commission formulas: restricted
// arithmetic over a fixed variable set. The expression is parsed by a small
// recursive-descent parser over numbers, + - * / %, and parentheses — no
// string is ever handed to a generic evaluator, so safety does not depend
// on sanitization being exhaustive.
//
// All arithmetic uses shopspring/decimal — never float64 for money.
package formula

import (
	"errors"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// Vars is the fixed variable set a formula may reference. Names match
// case-insensitively; "qty" aliases quantity and "rate" aliases
// exchangeRate.
type Vars struct {
	PurchasePrice decimal.Decimal
	SalePrice     decimal.Decimal
	Quantity      decimal.Decimal
	ExchangeRate  decimal.Decimal
}

var (
	identRe = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)

	// Everything outside this set is stripped before parsing. The parser
	// rejects anything the strip lets through that it does not understand,
	// so the whitelist is a first filter, not the safety boundary.
	allowedRe = regexp.MustCompile(`[^0-9+\-*/%().\s]`)
)

// Evaluate substitutes the variables into the formula, strips every
// character that is not a digit, operator, parenthesis, dot or whitespace,
// and evaluates the remainder as a standard arithmetic expression.
//
// Returns nil — never an error or panic — when the expression is empty
// after substitution, fails to parse, has trailing tokens, or divides by
// zero. Callers treat nil as "no commission".
func Evaluate(expr string, vars Vars) *decimal.Decimal {
	substituted := substitute(expr, vars)
	sanitized := allowedRe.ReplaceAllString(substituted, " ")
	if strings.TrimSpace(sanitized) == "" {
		return nil
	}

	toks, err := tokenize(sanitized)
	if err != nil {
		return nil
	}

	p := &parser{toks: toks}
	result, err := p.parseExpr()
	if err != nil {
		return nil
	}
	if p.pos != len(p.toks) {
		// Trailing tokens: remnants of something that was not arithmetic.
		return nil
	}
	return &result
}

// Validate runs Evaluate with fixed representative values and reports
// whether it produced a number. Used for live form-field validation
// styling; not a guarantee the formula is meaningful for all inputs.
func Validate(expr string) bool {
	probe := Vars{
		PurchasePrice: decimal.NewFromInt(100),
		SalePrice:     decimal.NewFromInt(120),
		Quantity:      decimal.NewFromInt(1000),
		ExchangeRate:  decimal.NewFromInt(90),
	}
	return Evaluate(expr, probe) != nil
}

// substitute replaces known variable names (case-insensitive) with their
// numeric literals. Unknown identifiers are left in place and removed by
// the whitelist strip, which then makes the parse fail.
func substitute(expr string, vars Vars) string {
	return identRe.ReplaceAllStringFunc(expr, func(name string) string {
		switch strings.ToLower(name) {
		case "purchaseprice":
			return vars.PurchasePrice.String()
		case "saleprice":
			return vars.SalePrice.String()
		case "quantity", "qty":
			return vars.Quantity.String()
		case "exchangerate", "rate":
			return vars.ExchangeRate.String()
		default:
			return name
		}
	})
}

// --- Tokenizer ---

type tokenKind int

const (
	tokNumber tokenKind = iota
	tokOp               // + - * / %
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	op   byte
	num  decimal.Decimal
}

var errBadExpr = errors.New("formula: malformed expression")

func tokenize(s string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(s) {
		c := s[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			toks = append(toks, token{kind: tokLParen})
			i++
		case c == ')':
			toks = append(toks, token{kind: tokRParen})
			i++
		case c == '+' || c == '-' || c == '*' || c == '/' || c == '%':
			toks = append(toks, token{kind: tokOp, op: c})
			i++
		case c >= '0' && c <= '9' || c == '.':
			j := i
			for j < len(s) && (s[j] >= '0' && s[j] <= '9' || s[j] == '.') {
				j++
			}
			num, err := decimal.NewFromString(s[i:j])
			if err != nil {
				return nil, errBadExpr
			}
			toks = append(toks, token{kind: tokNumber, num: num})
			i = j
		default:
			return nil, errBadExpr
		}
	}
	return toks, nil
}

// --- Recursive-descent parser ---
//
// expr  := term  { (+|-) term }
// term  := unary { (*|/|%) unary }
// unary := (+|-) unary | primary
// primary := number | "(" expr ")"

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() (token, bool) {
	if p.pos >= len(p.toks) {
		return token{}, false
	}
	return p.toks[p.pos], true
}

func (p *parser) parseExpr() (decimal.Decimal, error) {
	left, err := p.parseTerm()
	if err != nil {
		return decimal.Zero, err
	}
	for {
		t, ok := p.peek()
		if !ok || t.kind != tokOp || (t.op != '+' && t.op != '-') {
			return left, nil
		}
		p.pos++
		right, err := p.parseTerm()
		if err != nil {
			return decimal.Zero, err
		}
		if t.op == '+' {
			left = left.Add(right)
		} else {
			left = left.Sub(right)
		}
	}
}

func (p *parser) parseTerm() (decimal.Decimal, error) {
	left, err := p.parseUnary()
	if err != nil {
		return decimal.Zero, err
	}
	for {
		t, ok := p.peek()
		if !ok || t.kind != tokOp || (t.op != '*' && t.op != '/' && t.op != '%') {
			return left, nil
		}
		p.pos++
		right, err := p.parseUnary()
		if err != nil {
			return decimal.Zero, err
		}
		switch t.op {
		case '*':
			left = left.Mul(right)
		case '/':
			if right.IsZero() {
				return decimal.Zero, errBadExpr
			}
			left = left.Div(right)
		case '%':
			if right.IsZero() {
				return decimal.Zero, errBadExpr
			}
			left = left.Mod(right)
		}
	}
}

func (p *parser) parseUnary() (decimal.Decimal, error) {
	t, ok := p.peek()
	if ok && t.kind == tokOp && (t.op == '+' || t.op == '-') {
		p.pos++
		v, err := p.parseUnary()
		if err != nil {
			return decimal.Zero, err
		}
		if t.op == '-' {
			return v.Neg(), nil
		}
		return v, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (decimal.Decimal, error) {
	t, ok := p.peek()
	if !ok {
		return decimal.Zero, errBadExpr
	}
	switch t.kind {
	case tokNumber:
		p.pos++
		return t.num, nil
	case tokLParen:
		p.pos++
		v, err := p.parseExpr()
		if err != nil {
			return decimal.Zero, err
		}
		t, ok := p.peek()
		if !ok || t.kind != tokRParen {
			return decimal.Zero, errBadExpr
		}
		p.pos++
		return v, nil
	default:
		return decimal.Zero, errBadExpr
	}
}
