package scoring

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Custom formulas are written in a small arithmetic language: numbers, bound
// variables, + - * / % ^, comparisons, && || !, parentheses and a fixed set of
// functions. Nothing else is reachable from an expression.

var (
	ErrDivisionByZero = errors.New("division by zero")
	ErrNotFinite      = errors.New("result is not a finite number")
)

// DefaultVariables are the names a metric's custom expression may reference.
var DefaultVariables = []string{"actual", "target", "challenge", "weight"}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokIdent
	tokOp
	tokLParen
	tokRParen
	tokComma
)

type token struct {
	kind tokenKind
	text string
	num  float64
	pos  int
}

type SyntaxError struct {
	Pos     int
	Message string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at position %d: %s", e.Pos, e.Message)
}

// lex splits src into tokens. Positions count characters, not bytes.
func lex(src string) ([]token, error) {
	var tokens []token
	pos := 0
	for i := 0; i < len(src); {
		c, size := utf8.DecodeRuneInString(src[i:])
		switch {
		case unicode.IsSpace(c):
			i += size
			pos++
		case c >= '0' && c <= '9' || c == '.':
			start := i
			for i < len(src) && (src[i] >= '0' && src[i] <= '9' || src[i] == '.') {
				i++
			}
			if i < len(src) && (src[i] == 'e' || src[i] == 'E') {
				j := i + 1
				if j < len(src) && (src[j] == '+' || src[j] == '-') {
					j++
				}
				if j < len(src) && src[j] >= '0' && src[j] <= '9' {
					for j < len(src) && src[j] >= '0' && src[j] <= '9' {
						j++
					}
					i = j
				}
			}
			text := src[start:i]
			num, err := strconv.ParseFloat(text, 64)
			if err != nil {
				return nil, &SyntaxError{Pos: pos, Message: fmt.Sprintf("invalid number %q", text)}
			}
			tokens = append(tokens, token{kind: tokNumber, text: text, num: num, pos: pos})
			pos += len(text)
		case c == '_' || unicode.IsLetter(c):
			start, startPos := i, pos
			for i < len(src) {
				r, n := utf8.DecodeRuneInString(src[i:])
				if r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
					break
				}
				i += n
				pos++
			}
			tokens = append(tokens, token{kind: tokIdent, text: src[start:i], pos: startPos})
		case c == '(':
			tokens = append(tokens, token{kind: tokLParen, text: "(", pos: pos})
			i++
			pos++
		case c == ')':
			tokens = append(tokens, token{kind: tokRParen, text: ")", pos: pos})
			i++
			pos++
		case c == ',':
			tokens = append(tokens, token{kind: tokComma, text: ",", pos: pos})
			i++
			pos++
		default:
			if i+1 < len(src) {
				switch two := src[i : i+2]; two {
				case "<=", ">=", "==", "!=", "&&", "||":
					tokens = append(tokens, token{kind: tokOp, text: two, pos: pos})
					i += 2
					pos += 2
					continue
				}
			}
			if strings.ContainsRune("+-*/%^<>!", c) {
				tokens = append(tokens, token{kind: tokOp, text: string(c), pos: pos})
				i++
				pos++
				continue
			}
			return nil, &SyntaxError{Pos: pos, Message: fmt.Sprintf("unexpected character %q", c)}
		}
	}
	return append(tokens, token{kind: tokEOF, pos: pos}), nil
}

type node interface {
	eval(env map[string]float64) (float64, error)
}

type numberNode float64

func (n numberNode) eval(map[string]float64) (float64, error) { return float64(n), nil }

type varNode string

func (n varNode) eval(env map[string]float64) (float64, error) {
	value, ok := env[string(n)]
	if !ok {
		return 0, fmt.Errorf("variable %q is not bound", string(n))
	}
	return value, nil
}

type unaryNode struct {
	op string
	x  node
}

func (n unaryNode) eval(env map[string]float64) (float64, error) {
	x, err := n.x.eval(env)
	if err != nil {
		return 0, err
	}
	switch n.op {
	case "-":
		return -x, nil
	case "!":
		return boolValue(x == 0), nil
	}
	return x, nil
}

type binaryNode struct {
	op   string
	l, r node
}

func (n binaryNode) eval(env map[string]float64) (float64, error) {
	l, err := n.l.eval(env)
	if err != nil {
		return 0, err
	}
	switch n.op {
	case "&&":
		if l == 0 {
			return 0, nil
		}
		r, err := n.r.eval(env)
		if err != nil {
			return 0, err
		}
		return boolValue(r != 0), nil
	case "||":
		if l != 0 {
			return 1, nil
		}
		r, err := n.r.eval(env)
		if err != nil {
			return 0, err
		}
		return boolValue(r != 0), nil
	}

	r, err := n.r.eval(env)
	if err != nil {
		return 0, err
	}
	switch n.op {
	case "+":
		return l + r, nil
	case "-":
		return l - r, nil
	case "*":
		return l * r, nil
	case "/":
		if r == 0 {
			return 0, ErrDivisionByZero
		}
		return l / r, nil
	case "%":
		if r == 0 {
			return 0, ErrDivisionByZero
		}
		return math.Mod(l, r), nil
	case "^":
		return math.Pow(l, r), nil
	case "<":
		return boolValue(l < r), nil
	case "<=":
		return boolValue(l <= r), nil
	case ">":
		return boolValue(l > r), nil
	case ">=":
		return boolValue(l >= r), nil
	case "==":
		return boolValue(l == r), nil
	case "!=":
		return boolValue(l != r), nil
	}
	return 0, fmt.Errorf("unknown operator %q", n.op)
}

type function struct {
	minArgs int
	maxArgs int // -1 for variadic
	call    func(args []float64) (float64, error)
}

var functions = map[string]function{
	"min": {minArgs: 1, maxArgs: -1, call: func(args []float64) (float64, error) {
		out := args[0]
		for _, v := range args[1:] {
			out = math.Min(out, v)
		}
		return out, nil
	}},
	"max": {minArgs: 1, maxArgs: -1, call: func(args []float64) (float64, error) {
		out := args[0]
		for _, v := range args[1:] {
			out = math.Max(out, v)
		}
		return out, nil
	}},
	"abs":   {minArgs: 1, maxArgs: 1, call: func(args []float64) (float64, error) { return math.Abs(args[0]), nil }},
	"floor": {minArgs: 1, maxArgs: 1, call: func(args []float64) (float64, error) { return math.Floor(args[0]), nil }},
	"ceil":  {minArgs: 1, maxArgs: 1, call: func(args []float64) (float64, error) { return math.Ceil(args[0]), nil }},
	"round": {minArgs: 1, maxArgs: 2, call: func(args []float64) (float64, error) {
		if len(args) == 1 {
			return math.Round(args[0]), nil
		}
		scale := math.Pow(10, math.Trunc(args[1]))
		return math.Round(args[0]*scale) / scale, nil
	}},
	"sqrt": {minArgs: 1, maxArgs: 1, call: func(args []float64) (float64, error) {
		if args[0] < 0 {
			return 0, errors.New("sqrt of negative number")
		}
		return math.Sqrt(args[0]), nil
	}},
	"pow": {minArgs: 2, maxArgs: 2, call: func(args []float64) (float64, error) { return math.Pow(args[0], args[1]), nil }},
}

type callNode struct {
	name string
	fn   function
	args []node
}

func (n callNode) eval(env map[string]float64) (float64, error) {
	// if() only evaluates the branch it takes so guards like if(target == 0, 0, actual / target) work.
	if n.name == "if" {
		cond, err := n.args[0].eval(env)
		if err != nil {
			return 0, err
		}
		if cond != 0 {
			return n.args[1].eval(env)
		}
		return n.args[2].eval(env)
	}
	values := make([]float64, len(n.args))
	for i, arg := range n.args {
		v, err := arg.eval(env)
		if err != nil {
			return 0, err
		}
		values[i] = v
	}
	return n.fn.call(values)
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

type parser struct {
	tokens []token
	pos    int
	vars   map[string]bool
}

func (p *parser) peek() token { return p.tokens[p.pos] }

func (p *parser) next() token {
	t := p.tokens[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) acceptOp(ops ...string) (string, bool) {
	t := p.peek()
	if t.kind != tokOp {
		return "", false
	}
	for _, op := range ops {
		if t.text == op {
			p.pos++
			return op, true
		}
	}
	return "", false
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.acceptOp("||"); !ok {
			return left, nil
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: "||", l: left, r: right}
	}
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.acceptOp("&&"); !ok {
			return left, nil
		}
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: "&&", l: left, r: right}
	}
}

func (p *parser) parseComparison() (node, error) {
	left, err := p.parseSum()
	if err != nil {
		return nil, err
	}
	op, ok := p.acceptOp("<", "<=", ">", ">=", "==", "!=")
	if !ok {
		return left, nil
	}
	right, err := p.parseSum()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind == tokOp {
		switch t.text {
		case "<", "<=", ">", ">=", "==", "!=":
			return nil, &SyntaxError{Pos: t.pos, Message: "comparisons cannot be chained"}
		}
	}
	return binaryNode{op: op, l: left, r: right}, nil
}

func (p *parser) parseSum() (node, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.acceptOp("+", "-")
		if !ok {
			return left, nil
		}
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: op, l: left, r: right}
	}
}

func (p *parser) parseTerm() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.acceptOp("*", "/", "%")
		if !ok {
			return left, nil
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: op, l: left, r: right}
	}
}

func (p *parser) parseUnary() (node, error) {
	if op, ok := p.acceptOp("-", "+", "!"); ok {
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return unaryNode{op: op, x: x}, nil
	}
	return p.parsePower()
}

func (p *parser) parsePower() (node, error) {
	base, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	if _, ok := p.acceptOp("^"); !ok {
		return base, nil
	}
	exp, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	return binaryNode{op: "^", l: base, r: exp}, nil
}

func (p *parser) parsePrimary() (node, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		return numberNode(t.num), nil
	case tokLParen:
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.kind != tokRParen {
			return nil, &SyntaxError{Pos: closing.pos, Message: "expected )"}
		}
		return inner, nil
	case tokIdent:
		if p.peek().kind == tokLParen {
			return p.parseCall(t)
		}
		name := strings.ToLower(t.text)
		if !p.vars[name] {
			return nil, &SyntaxError{Pos: t.pos, Message: fmt.Sprintf("unknown variable %q", t.text)}
		}
		return varNode(name), nil
	case tokEOF:
		return nil, &SyntaxError{Pos: t.pos, Message: "unexpected end of expression"}
	}
	return nil, &SyntaxError{Pos: t.pos, Message: fmt.Sprintf("unexpected %q", t.text)}
}

func (p *parser) parseCall(name token) (node, error) {
	p.next() // (
	var args []node
	if p.peek().kind != tokRParen {
		for {
			arg, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if p.peek().kind != tokComma {
				break
			}
			p.next()
		}
	}
	if closing := p.next(); closing.kind != tokRParen {
		return nil, &SyntaxError{Pos: closing.pos, Message: "expected ) after arguments"}
	}

	fname := strings.ToLower(name.text)
	if fname == "if" {
		if len(args) != 3 {
			return nil, &SyntaxError{Pos: name.pos, Message: "if expects 3 arguments"}
		}
		return callNode{name: fname, args: args}, nil
	}
	fn, ok := functions[fname]
	if !ok {
		return nil, &SyntaxError{Pos: name.pos, Message: fmt.Sprintf("unknown function %q", name.text)}
	}
	if len(args) < fn.minArgs || (fn.maxArgs >= 0 && len(args) > fn.maxArgs) {
		return nil, &SyntaxError{Pos: name.pos, Message: fmt.Sprintf("wrong number of arguments to %s", fname)}
	}
	return callNode{name: fname, fn: fn, args: args}, nil
}

// Program is a parsed expression ready to be evaluated against variable bindings.
type Program struct {
	source string
	root   node
}

func (p *Program) Source() string {
	return p.source
}

// Compile parses src. Only the given variable names may appear in it;
// with no names, DefaultVariables apply.
func Compile(src string, variables ...string) (*Program, error) {
	if strings.TrimSpace(src) == "" {
		return nil, &SyntaxError{Pos: 0, Message: "empty expression"}
	}
	if len(variables) == 0 {
		variables = DefaultVariables
	}
	tokens, err := lex(src)
	if err != nil {
		return nil, err
	}
	vars := make(map[string]bool, len(variables))
	for _, v := range variables {
		vars[strings.ToLower(v)] = true
	}
	p := &parser{tokens: tokens, vars: vars}
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, &SyntaxError{Pos: t.pos, Message: fmt.Sprintf("unexpected %q", t.text)}
	}
	return &Program{source: src, root: root}, nil
}

func (p *Program) Eval(env map[string]float64) (float64, error) {
	value, err := p.root.eval(env)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, ErrNotFinite
	}
	return value, nil
}

// Validate parses a custom expression without evaluating it.
func Validate(expression string) Validation {
	if _, err := Compile(expression); err != nil {
		return Validation{Valid: false, Error: err.Error()}
	}
	return Validation{Valid: true}
}
