package engine

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Free-form string conditions are evaluated by a deliberately small
// expression language instead of a general-purpose evaluator: numbers,
// strings, booleans, `${ref}` and bare identifiers resolved against the
// evaluation context, arithmetic, comparison, and ! && ||. The engine only
// runs it when AllowUnsafeExpressions is set; rule sources that cannot be
// trusted keep the flag off and such conditions fail validation.

type exprNode interface {
	eval(s *scope) (any, error)
}

type litNode struct{ val any }

func (n litNode) eval(*scope) (any, error) { return n.val, nil }

// refNode resolves a variable reference. Unresolved references evaluate to
// the literal source text, the same fallback `${var}` operands get.
type refNode struct {
	path string
	raw  string
}

func (n refNode) eval(s *scope) (any, error) {
	if v, ok := s.resolvePath(n.path); ok {
		return v, nil
	}
	return n.raw, nil
}

type unaryNode struct {
	op string
	x  exprNode
}

func (n unaryNode) eval(s *scope) (any, error) {
	v, err := n.x.eval(s)
	if err != nil {
		return nil, err
	}
	switch n.op {
	case "!":
		return !truthy(v), nil
	case "-":
		f, ok := toFloat(v)
		if !ok {
			return nil, configErrorf("cannot negate %T", v)
		}
		return -f, nil
	}
	return nil, configErrorf("unknown unary operator %q", n.op)
}

type binNode struct {
	op   string
	l, r exprNode
}

func (n binNode) eval(s *scope) (any, error) {
	// Logical operators short-circuit.
	if n.op == "&&" || n.op == "||" {
		lv, err := n.l.eval(s)
		if err != nil {
			return nil, err
		}
		if n.op == "&&" && !truthy(lv) {
			return false, nil
		}
		if n.op == "||" && truthy(lv) {
			return true, nil
		}
		rv, err := n.r.eval(s)
		if err != nil {
			return nil, err
		}
		return truthy(rv), nil
	}

	lv, err := n.l.eval(s)
	if err != nil {
		return nil, err
	}
	rv, err := n.r.eval(s)
	if err != nil {
		return nil, err
	}

	switch n.op {
	case "==":
		return equalValues(lv, rv), nil
	case "!=":
		return !equalValues(lv, rv), nil
	case "<", "<=", ">", ">=":
		cmp, err := orderValues(lv, rv)
		if err != nil {
			return nil, err
		}
		switch n.op {
		case "<":
			return cmp < 0, nil
		case "<=":
			return cmp <= 0, nil
		case ">":
			return cmp > 0, nil
		default:
			return cmp >= 0, nil
		}
	case "+":
		if lf, ok := toFloatStrict(lv); ok {
			if rf, ok := toFloatStrict(rv); ok {
				return lf + rf, nil
			}
		}
		return stringify(lv) + stringify(rv), nil
	case "-", "*", "/", "%":
		lf, lok := toFloat(lv)
		rf, rok := toFloat(rv)
		if !lok || !rok {
			return nil, configErrorf("arithmetic on non-numeric values %T and %T", lv, rv)
		}
		switch n.op {
		case "-":
			return lf - rf, nil
		case "*":
			return lf * rf, nil
		case "/":
			if rf == 0 {
				return nil, configErrorf("division by zero")
			}
			return lf / rf, nil
		default:
			if rf == 0 {
				return nil, configErrorf("modulo by zero")
			}
			return float64(int64(lf) % int64(rf)), nil
		}
	}
	return nil, configErrorf("unknown operator %q", n.op)
}

// toFloatStrict coerces only genuinely numeric values; unlike toFloat it
// never parses strings, so "+" can distinguish addition from concatenation.
func toFloatStrict(v any) (float64, bool) {
	if _, isStr := v.(string); isStr {
		return 0, false
	}
	return toFloat(v)
}

// --- lexer ---

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokString
	tokIdent
	tokRef
	tokOp
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	text string
	num  float64
}

type lexer struct {
	src string
	pos int
}

func (l *lexer) next() (token, error) {
	for l.pos < len(l.src) && unicode.IsSpace(rune(l.src[l.pos])) {
		l.pos++
	}
	if l.pos >= len(l.src) {
		return token{kind: tokEOF}, nil
	}
	c := l.src[l.pos]
	switch {
	case c == '(':
		l.pos++
		return token{kind: tokLParen}, nil
	case c == ')':
		l.pos++
		return token{kind: tokRParen}, nil
	case c == '$' && l.pos+1 < len(l.src) && l.src[l.pos+1] == '{':
		end := strings.IndexByte(l.src[l.pos:], '}')
		if end < 0 {
			return token{}, configErrorf("unterminated reference in expression")
		}
		text := l.src[l.pos : l.pos+end+1]
		l.pos += end + 1
		return token{kind: tokRef, text: text}, nil
	case c == '\'' || c == '"':
		quote := c
		end := l.pos + 1
		for end < len(l.src) && l.src[end] != quote {
			end++
		}
		if end >= len(l.src) {
			return token{}, configErrorf("unterminated string in expression")
		}
		text := l.src[l.pos+1 : end]
		l.pos = end + 1
		return token{kind: tokString, text: text}, nil
	case c >= '0' && c <= '9' || c == '.':
		end := l.pos
		for end < len(l.src) && (l.src[end] >= '0' && l.src[end] <= '9' || l.src[end] == '.') {
			end++
		}
		f, err := strconv.ParseFloat(l.src[l.pos:end], 64)
		if err != nil {
			return token{}, configErrorf("bad number %q in expression", l.src[l.pos:end])
		}
		l.pos = end
		return token{kind: tokNumber, num: f}, nil
	case isIdentStart(c):
		end := l.pos
		for end < len(l.src) && (isIdentStart(l.src[end]) || l.src[end] >= '0' && l.src[end] <= '9' || l.src[end] == '.') {
			end++
		}
		text := l.src[l.pos:end]
		l.pos = end
		return token{kind: tokIdent, text: text}, nil
	default:
		for _, op := range []string{"==", "!=", "<=", ">=", "&&", "||", "<", ">", "!", "+", "-", "*", "/", "%"} {
			if strings.HasPrefix(l.src[l.pos:], op) {
				l.pos += len(op)
				return token{kind: tokOp, text: op}, nil
			}
		}
		return token{}, configErrorf("unexpected character %q in expression", string(c))
	}
}

func isIdentStart(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

// --- parser (precedence climbing) ---

type parser struct {
	tokens []token
	pos    int
}

// parseExpression compiles a free-form condition string into an AST.
func parseExpression(src string) (exprNode, error) {
	lx := &lexer{src: src}
	var tokens []token
	for {
		tok, err := lx.next()
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, tok)
		if tok.kind == tokEOF {
			break
		}
	}
	p := &parser{tokens: tokens}
	node, err := p.parseBinary(0)
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokEOF {
		return nil, configErrorf("unexpected trailing input in expression %q", src)
	}
	return node, nil
}

var precedence = map[string]int{
	"||": 1,
	"&&": 2,
	"==": 3, "!=": 3, "<": 3, "<=": 3, ">": 3, ">=": 3,
	"+": 4, "-": 4,
	"*": 5, "/": 5, "%": 5,
}

func (p *parser) peek() token { return p.tokens[p.pos] }

func (p *parser) advance() token {
	tok := p.tokens[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) parseBinary(minPrec int) (exprNode, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		if tok.kind != tokOp {
			return left, nil
		}
		prec, ok := precedence[tok.text]
		if !ok || prec < minPrec {
			return left, nil
		}
		p.advance()
		right, err := p.parseBinary(prec + 1)
		if err != nil {
			return nil, err
		}
		left = binNode{op: tok.text, l: left, r: right}
	}
}

func (p *parser) parseUnary() (exprNode, error) {
	tok := p.peek()
	if tok.kind == tokOp && (tok.text == "!" || tok.text == "-") {
		p.advance()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return unaryNode{op: tok.text, x: x}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (exprNode, error) {
	tok := p.advance()
	switch tok.kind {
	case tokNumber:
		return litNode{val: tok.num}, nil
	case tokString:
		return litNode{val: tok.text}, nil
	case tokRef:
		path := tok.text[2 : len(tok.text)-1]
		return refNode{path: path, raw: tok.text}, nil
	case tokIdent:
		switch tok.text {
		case "true":
			return litNode{val: true}, nil
		case "false":
			return litNode{val: false}, nil
		case "null":
			return litNode{val: nil}, nil
		default:
			return refNode{path: tok.text, raw: tok.text}, nil
		}
	case tokLParen:
		node, err := p.parseBinary(0)
		if err != nil {
			return nil, err
		}
		if p.advance().kind != tokRParen {
			return nil, configErrorf("missing closing parenthesis in expression")
		}
		return node, nil
	default:
		return nil, configErrorf("unexpected token %s in expression", describeToken(tok))
	}
}

func describeToken(tok token) string {
	switch tok.kind {
	case tokEOF:
		return "end of input"
	case tokNumber:
		return strconv.FormatFloat(tok.num, 'f', -1, 64)
	default:
		return fmt.Sprintf("%q", tok.text)
	}
}

// evalExpression parses and evaluates a free-form condition string against
// the scope. Non-boolean results are false.
func evalExpression(src string, s *scope) (bool, error) {
	node, err := parseExpression(src)
	if err != nil {
		return false, err
	}
	v, err := node.eval(s)
	if err != nil {
		return false, err
	}
	return truthy(v), nil
}
