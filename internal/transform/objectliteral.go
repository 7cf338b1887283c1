package transform

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidLiteral is returned when the text at the given offset is not a
// well-formed object literal.
var ErrInvalidLiteral = errors.New("invalid object literal")

const maxLiteralDepth = 256

// binaryOperators is ordered longest first so that prefixes never shadow a
// longer operator.
var binaryOperators = []string{
	">>>", "===", "!==", "**",
	"==", "!=", "<=", ">=", "&&", "||", "??", "<<", ">>",
	"+", "-", "*", "/", "%", "<", ">", "&", "|", "^",
}

var unaryKeywords = []string{"typeof", "void", "new", "delete", "await"}

var binaryKeywords = []string{"instanceof", "in"}

// ParseObjectLiteral checks that src[start:] begins with an object literal
// expression and returns the offset of its closing brace. The accepted
// grammar covers what a minified bundle puts inside configuration objects:
// literals, identifiers, member access, calls, unary/binary/ternary operators,
// nested objects and arrays, template literals, regular expressions and
// comments. Function, class and arrow bodies and object methods are skipped
// by bracket matching rather than parsed.
func ParseObjectLiteral(src string, start int) (int, error) {
	p := &literalParser{src: src, pos: start}
	if !p.peek('{') {
		return 0, p.fail("expected '{'")
	}
	if err := p.object(); err != nil {
		return 0, err
	}
	return p.pos - 1, nil
}

type literalParser struct {
	src   string
	pos   int
	depth int
}

func (p *literalParser) fail(msg string) error {
	return fmt.Errorf("%w: %s at offset %d", ErrInvalidLiteral, msg, p.pos)
}

func (p *literalParser) eof() bool {
	return p.pos >= len(p.src)
}

func (p *literalParser) peek(c byte) bool {
	return p.pos < len(p.src) && p.src[p.pos] == c
}

func (p *literalParser) peekString(s string) bool {
	return strings.HasPrefix(p.src[p.pos:], s)
}

func (p *literalParser) expect(c byte) error {
	p.skipSpace()
	if !p.peek(c) {
		return p.fail(fmt.Sprintf("expected %q", c))
	}
	p.pos++
	return nil
}

func (p *literalParser) enter() error {
	p.depth++
	if p.depth > maxLiteralDepth {
		return p.fail("nesting too deep")
	}
	return nil
}

func (p *literalParser) leave() {
	p.depth--
}

func (p *literalParser) skipSpace() {
	for !p.eof() {
		switch c := p.src[p.pos]; {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v':
			p.pos++
		case p.peekString("//"):
			end := strings.IndexByte(p.src[p.pos:], '\n')
			if end < 0 {
				p.pos = len(p.src)
			} else {
				p.pos += end + 1
			}
		case p.peekString("/*"):
			end := strings.Index(p.src[p.pos+2:], "*/")
			if end < 0 {
				return
			}
			p.pos += end + 4
		default:
			return
		}
	}
}

func isIdentStart(c byte) bool {
	return c == '_' || c == '$' || c >= 0x80 ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func (p *literalParser) ident() string {
	start := p.pos
	if p.eof() || !isIdentStart(p.src[p.pos]) {
		return ""
	}
	for !p.eof() && isIdentPart(p.src[p.pos]) {
		p.pos++
	}
	return p.src[start:p.pos]
}

// keyword consumes word if it appears at the cursor as a whole identifier.
func (p *literalParser) keyword(word string) bool {
	if !p.peekString(word) {
		return false
	}
	end := p.pos + len(word)
	if end < len(p.src) && isIdentPart(p.src[end]) {
		return false
	}
	p.pos = end
	return true
}

func (p *literalParser) expression() error {
	if err := p.enter(); err != nil {
		return err
	}
	defer p.leave()

	if err := p.binary(); err != nil {
		return err
	}
	p.skipSpace()
	if p.peek('?') && !p.peekString("??") && !p.optionalChain() {
		p.pos++
		if err := p.expression(); err != nil {
			return err
		}
		if err := p.expect(':'); err != nil {
			return err
		}
		return p.expression()
	}
	return nil
}

func (p *literalParser) binary() error {
	if err := p.unary(); err != nil {
		return err
	}
	for {
		p.skipSpace()
		if !p.binaryOperator() {
			return nil
		}
		if err := p.unary(); err != nil {
			return err
		}
	}
}

func (p *literalParser) binaryOperator() bool {
	for _, kw := range binaryKeywords {
		if p.keyword(kw) {
			return true
		}
	}
	for _, op := range binaryOperators {
		if !p.peekString(op) {
			continue
		}
		// Reject assignment and arrow forms such as "+=", "<<=" and "=>".
		next := p.pos + len(op)
		if next < len(p.src) && p.src[next] == '=' && !strings.HasSuffix(op, "=") {
			return false
		}
		p.pos = next
		return true
	}
	return false
}

func (p *literalParser) unary() error {
	if err := p.enter(); err != nil {
		return err
	}
	defer p.leave()

	p.skipSpace()
	switch {
	case p.peekString("++") || p.peekString("--"):
		return p.fail("update expression")
	case p.peek('!') || p.peek('-') || p.peek('+') || p.peek('~'):
		p.pos++
		return p.unary()
	}
	for _, kw := range unaryKeywords {
		if p.keyword(kw) {
			return p.unary()
		}
	}
	return p.postfix()
}

func (p *literalParser) postfix() error {
	if err := p.primary(); err != nil {
		return err
	}
	for {
		p.skipSpace()
		switch {
		case p.optionalChain():
			p.pos += 2
			p.skipSpace()
			switch {
			case p.peek('['):
				p.pos++
				if err := p.closeWith(']'); err != nil {
					return err
				}
			case p.peek('('):
				p.pos++
				if err := p.arguments(); err != nil {
					return err
				}
			default:
				if p.ident() == "" {
					return p.fail("expected property name")
				}
			}
		case p.peek('.') && !p.peekString("..."):
			p.pos++
			p.skipSpace()
			if p.ident() == "" {
				return p.fail("expected property name")
			}
		case p.peek('['):
			p.pos++
			if err := p.closeWith(']'); err != nil {
				return err
			}
		case p.peek('('):
			p.pos++
			if err := p.arguments(); err != nil {
				return err
			}
		case p.peek('`'):
			if err := p.template(); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

// optionalChain reports whether the cursor is at "?." that is not the start
// of a conditional with a fractional number, as in "a?.5:1".
func (p *literalParser) optionalChain() bool {
	return p.peekString("?.") && !(p.pos+2 < len(p.src) && isDigit(p.src[p.pos+2]))
}

// closeWith parses a single expression followed by the closing byte.
func (p *literalParser) closeWith(c byte) error {
	if err := p.expression(); err != nil {
		return err
	}
	return p.expect(c)
}

// sequence parses comma-separated expressions up to a closing parenthesis.
func (p *literalParser) sequence() error {
	for {
		if err := p.expression(); err != nil {
			return err
		}
		p.skipSpace()
		if !p.peek(',') {
			return p.expect(')')
		}
		p.pos++
	}
}

func (p *literalParser) arguments() error {
	for {
		p.skipSpace()
		if p.peek(')') {
			p.pos++
			return nil
		}
		if p.peekString("...") {
			p.pos += 3
		}
		if err := p.expression(); err != nil {
			return err
		}
		p.skipSpace()
		switch {
		case p.peek(','):
			p.pos++
		case p.peek(')'):
			p.pos++
			return nil
		default:
			return p.fail("expected ',' or ')'")
		}
	}
}

func (p *literalParser) primary() error {
	p.skipSpace()
	if p.eof() {
		return p.fail("unexpected end of input")
	}

	switch c := p.src[p.pos]; {
	case c == '{':
		return p.object()
	case c == '[':
		return p.array()
	case c == '(':
		if ok, err := p.arrowFunction(); ok || err != nil {
			return err
		}
		p.pos++
		return p.sequence()
	case c == '/':
		return p.regex()
	case c == '"' || c == '\'':
		return p.str(c)
	case c == '`':
		return p.template()
	case isDigit(c) || (c == '.' && p.pos+1 < len(p.src) && isDigit(p.src[p.pos+1])):
		p.number()
		return nil
	case isIdentStart(c):
		return p.identExpression()
	default:
		return p.fail(fmt.Sprintf("unexpected %q", c))
	}
}

// identExpression parses an identifier in value position, including the
// function, class and arrow forms that start with one.
func (p *literalParser) identExpression() error {
	name := p.ident()
	switch name {
	case "function":
		return p.functionRest()
	case "class":
		return p.classRest()
	case "async":
		p.skipSpace()
		if p.keyword("function") {
			return p.functionRest()
		}
		if p.peek('(') {
			if ok, err := p.arrowFunction(); ok || err != nil {
				return err
			}
			p.pos++
			return p.arguments()
		}
		if !p.eof() && isIdentStart(p.src[p.pos]) {
			save := p.pos
			p.ident()
			p.skipSpace()
			if p.peekString("=>") {
				p.pos += 2
				return p.arrowBody()
			}
			p.pos = save
		}
		return nil
	}
	p.skipSpace()
	if p.peekString("=>") {
		p.pos += 2
		return p.arrowBody()
	}
	return nil
}

// functionRest skips the optional name, parameters and body following the
// function keyword.
func (p *literalParser) functionRest() error {
	p.skipSpace()
	if p.peek('*') {
		p.pos++
		p.skipSpace()
	}
	p.ident()
	return p.callableRest()
}

// callableRest skips a parameter list followed by a block body.
func (p *literalParser) callableRest() error {
	p.skipSpace()
	if !p.peek('(') {
		return p.fail("expected '('")
	}
	if err := p.skipBalanced(); err != nil {
		return err
	}
	p.skipSpace()
	if !p.peek('{') {
		return p.fail("expected function body")
	}
	return p.skipBalanced()
}

func (p *literalParser) classRest() error {
	p.skipSpace()
	if name := p.ident(); name == "extends" {
		p.pos -= len(name)
	}
	p.skipSpace()
	if p.keyword("extends") {
		if err := p.postfix(); err != nil {
			return err
		}
		p.skipSpace()
	}
	if !p.peek('{') {
		return p.fail("expected class body")
	}
	return p.skipBalanced()
}

// arrowFunction consumes a parenthesised arrow function at the cursor. It
// reports false and leaves the cursor unchanged when the parentheses are not
// followed by "=>".
func (p *literalParser) arrowFunction() (bool, error) {
	save := p.pos
	if err := p.skipBalanced(); err != nil {
		p.pos = save
		return false, nil
	}
	p.skipSpace()
	if !p.peekString("=>") {
		p.pos = save
		return false, nil
	}
	p.pos += 2
	return true, p.arrowBody()
}

func (p *literalParser) arrowBody() error {
	p.skipSpace()
	if p.peek('{') {
		return p.skipBalanced()
	}
	return p.expression()
}

// regex consumes a regular expression literal and its flags.
func (p *literalParser) regex() error {
	p.pos++
	inClass := false
	for !p.eof() {
		switch c := p.src[p.pos]; {
		case c == '\\':
			p.pos += 2
		case c == '\n':
			return p.fail("unterminated regular expression")
		case c == '[':
			inClass = true
			p.pos++
		case c == ']':
			inClass = false
			p.pos++
		case c == '/' && !inClass:
			p.pos++
			p.ident()
			return nil
		default:
			p.pos++
		}
	}
	return p.fail("unterminated regular expression")
}

// regexKeywords are the words after which a slash starts a regular
// expression.
var regexKeywords = map[string]bool{
	"return": true, "typeof": true, "case": true, "do": true, "else": true,
	"in": true, "of": true, "new": true, "delete": true, "void": true,
	"throw": true, "instanceof": true, "yield": true, "await": true,
}

// regexFollows lists the characters after which a slash starts a regular
// expression rather than a division.
const regexFollows = "(,=:[!&|?{};+-*%<>~^"

// skipBalanced consumes a bracketed region starting at the cursor, matching
// (), [] and {} while stepping over strings, template literals, regular
// expressions and comments.
func (p *literalParser) skipBalanced() error {
	var stack []byte
	var prev byte
	for {
		p.skipSpace()
		if p.eof() {
			return p.fail("unbalanced brackets")
		}
		switch c := p.src[p.pos]; c {
		case '(':
			stack = append(stack, ')')
			p.pos++
		case '[':
			stack = append(stack, ']')
			p.pos++
		case '{':
			stack = append(stack, '}')
			p.pos++
		case ')', ']', '}':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				return p.fail(fmt.Sprintf("unexpected %q", c))
			}
			stack = stack[:len(stack)-1]
			p.pos++
			if len(stack) == 0 {
				return nil
			}
		case '"', '\'':
			if err := p.str(c); err != nil {
				return err
			}
		case '`':
			if err := p.skipTemplate(); err != nil {
				return err
			}
		case '/':
			if prev == 0 || strings.IndexByte(regexFollows, prev) >= 0 {
				if err := p.regex(); err != nil {
					return err
				}
			} else {
				p.pos++
			}
		default:
			if isIdentStart(c) {
				if word := p.ident(); regexKeywords[word] {
					prev = '('
				} else {
					prev = 'a'
				}
				continue
			}
			p.pos++
		}
		prev = p.src[p.pos-1]
	}
}

func (p *literalParser) skipTemplate() error {
	p.pos++
	for !p.eof() {
		switch {
		case p.src[p.pos] == '\\':
			p.pos += 2
		case p.src[p.pos] == '`':
			p.pos++
			return nil
		case p.peekString("${"):
			p.pos++
			if err := p.skipBalanced(); err != nil {
				return err
			}
		default:
			p.pos++
		}
	}
	return p.fail("unterminated template")
}

func (p *literalParser) number() {
	start := p.pos
	hex := p.peekString("0x") || p.peekString("0X")
	for !p.eof() {
		c := p.src[p.pos]
		switch {
		case isIdentPart(c) || c == '.':
			p.pos++
		case (c == '+' || c == '-') && !hex && p.pos > start &&
			(p.src[p.pos-1] == 'e' || p.src[p.pos-1] == 'E'):
			p.pos++
		default:
			return
		}
	}
}

func (p *literalParser) str(quote byte) error {
	p.pos++
	for !p.eof() {
		switch p.src[p.pos] {
		case '\\':
			p.pos += 2
		case quote:
			p.pos++
			return nil
		case '\n':
			return p.fail("unterminated string")
		default:
			p.pos++
		}
	}
	return p.fail("unterminated string")
}

func (p *literalParser) template() error {
	if err := p.enter(); err != nil {
		return err
	}
	defer p.leave()

	p.pos++
	for !p.eof() {
		switch {
		case p.src[p.pos] == '\\':
			p.pos += 2
		case p.src[p.pos] == '`':
			p.pos++
			return nil
		case p.peekString("${"):
			p.pos += 2
			if err := p.closeWith('}'); err != nil {
				return err
			}
		default:
			p.pos++
		}
	}
	return p.fail("unterminated template")
}

func (p *literalParser) array() error {
	if err := p.enter(); err != nil {
		return err
	}
	defer p.leave()

	p.pos++
	for {
		p.skipSpace()
		switch {
		case p.peek(']'):
			p.pos++
			return nil
		case p.peek(','):
			p.pos++
			continue
		case p.peekString("..."):
			p.pos += 3
		}
		if err := p.expression(); err != nil {
			return err
		}
		p.skipSpace()
		switch {
		case p.peek(','):
			p.pos++
		case p.peek(']'):
			p.pos++
			return nil
		default:
			return p.fail("expected ',' or ']'")
		}
	}
}

func (p *literalParser) object() error {
	if err := p.enter(); err != nil {
		return err
	}
	defer p.leave()

	p.pos++
	for {
		p.skipSpace()
		if p.peek('}') {
			p.pos++
			return nil
		}
		if err := p.property(); err != nil {
			return err
		}
		p.skipSpace()
		switch {
		case p.peek(','):
			p.pos++
		case p.peek('}'):
			p.pos++
			return nil
		default:
			return p.fail("expected ',' or '}'")
		}
	}
}

func (p *literalParser) property() error {
	if p.eof() {
		return p.fail("unexpected end of input")
	}
	if p.peekString("...") {
		p.pos += 3
		return p.expression()
	}

	generator := false
	if p.peek('*') {
		generator = true
		p.pos++
		p.skipSpace()
	}
	if p.eof() {
		return p.fail("unexpected end of input")
	}

	shorthand := false
	switch c := p.src[p.pos]; {
	case c == '"' || c == '\'':
		if err := p.str(c); err != nil {
			return err
		}
	case isDigit(c):
		p.number()
	case c == '[':
		p.pos++
		if err := p.closeWith(']'); err != nil {
			return err
		}
	case isIdentStart(c):
		name := p.ident()
		shorthand = !generator
		if name == "get" || name == "set" || name == "async" {
			save := p.pos
			p.skipSpace()
			if p.peek('*') || p.peek('[') || p.peek('"') || p.peek('\'') ||
				(!p.eof() && (isIdentStart(p.src[p.pos]) || isDigit(p.src[p.pos]))) {
				return p.property()
			}
			p.pos = save
		}
	default:
		return p.fail(fmt.Sprintf("unexpected %q in property name", c))
	}

	p.skipSpace()
	if p.peek('(') {
		return p.callableRest()
	}
	if generator {
		return p.fail("expected '('")
	}
	if p.peek(':') {
		p.pos++
		return p.expression()
	}
	if shorthand && (p.peek(',') || p.peek('}')) {
		return nil
	}
	return p.fail("expected ':'")
}
