// Package pyliteral evaluates Python literal expressions. Legacy response
// databases stored request parameters with repr(), so migrating them means
// reading dicts, lists, tuples, strings, numbers, True, False, and None
// without a Python runtime at hand.
package pyliteral

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Parse evaluates a single Python literal. Dicts become map[string]any,
// lists and tuples become []any, and integers become int64 (falling back
// to float64 when they overflow).
func Parse(input string) (any, error) {
	p := &parser{input: input}
	p.skipSpace()
	v, err := p.value()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.input) {
		return nil, p.errorf("unexpected trailing input")
	}
	return v, nil
}

// ParseDict evaluates a Python dict literal with string keys.
func ParseDict(input string) (map[string]any, error) {
	v, err := Parse(input)
	if err != nil {
		return nil, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected dict literal, got %T", v)
	}
	return m, nil
}

type parser struct {
	input string
	pos   int
}

func (p *parser) errorf(format string, args ...any) error {
	return fmt.Errorf("offset %d: %s", p.pos, fmt.Sprintf(format, args...))
}

func (p *parser) skipSpace() {
	for p.pos < len(p.input) {
		switch p.input[p.pos] {
		case ' ', '\t', '\n', '\r':
			p.pos++
		default:
			return
		}
	}
}

func (p *parser) peek() (byte, bool) {
	if p.pos >= len(p.input) {
		return 0, false
	}
	return p.input[p.pos], true
}

func (p *parser) expect(c byte) error {
	got, ok := p.peek()
	if !ok {
		return p.errorf("expected %q, got end of input", c)
	}
	if got != c {
		return p.errorf("expected %q, got %q", c, got)
	}
	p.pos++
	return nil
}

func (p *parser) value() (any, error) {
	c, ok := p.peek()
	if !ok {
		return nil, p.errorf("unexpected end of input")
	}
	switch {
	case c == '{':
		return p.dict()
	case c == '[':
		return p.seq('[', ']', false)
	case c == '(':
		return p.seq('(', ')', true)
	case c == '\'' || c == '"':
		return p.str()
	case c == 'T':
		return true, p.keyword("True")
	case c == 'F':
		return false, p.keyword("False")
	case c == 'N':
		return nil, p.keyword("None")
	case c == '-' || c == '+' || c == '.' || (c >= '0' && c <= '9'):
		return p.number()
	default:
		return nil, p.errorf("unexpected character %q", c)
	}
}

func (p *parser) keyword(word string) error {
	if !strings.HasPrefix(p.input[p.pos:], word) {
		return p.errorf("expected %s", word)
	}
	end := p.pos + len(word)
	if end < len(p.input) && isWordByte(p.input[end]) {
		return p.errorf("expected %s", word)
	}
	p.pos = end
	return nil
}

func isWordByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func (p *parser) dict() (map[string]any, error) {
	if err := p.expect('{'); err != nil {
		return nil, err
	}
	out := make(map[string]any)
	p.skipSpace()
	if c, ok := p.peek(); ok && c == '}' {
		p.pos++
		return out, nil
	}
	for {
		p.skipSpace()
		rawKey, err := p.value()
		if err != nil {
			return nil, err
		}
		key, ok := rawKey.(string)
		if !ok {
			return nil, p.errorf("dict key must be a string, got %T", rawKey)
		}
		p.skipSpace()
		if err := p.expect(':'); err != nil {
			return nil, err
		}
		p.skipSpace()
		val, err := p.value()
		if err != nil {
			return nil, err
		}
		out[key] = val

		p.skipSpace()
		c, ok := p.peek()
		if !ok {
			return nil, p.errorf("unterminated dict")
		}
		if c == ',' {
			p.pos++
			p.skipSpace()
			if c, ok := p.peek(); ok && c == '}' {
				p.pos++
				return out, nil
			}
			continue
		}
		if c == '}' {
			p.pos++
			return out, nil
		}
		return nil, p.errorf("expected ',' or '}', got %q", c)
	}
}

// seq parses list and tuple literals. A parenthesized single value with no
// trailing comma is not a tuple, so (1) evaluates to 1.
func (p *parser) seq(open, end byte, paren bool) (any, error) {
	if err := p.expect(open); err != nil {
		return nil, err
	}
	out := []any{}
	sawComma := false
	p.skipSpace()
	if c, ok := p.peek(); ok && c == end {
		p.pos++
		return out, nil
	}
	for {
		p.skipSpace()
		val, err := p.value()
		if err != nil {
			return nil, err
		}
		out = append(out, val)

		p.skipSpace()
		c, ok := p.peek()
		if !ok {
			return nil, p.errorf("unterminated sequence")
		}
		if c == ',' {
			sawComma = true
			p.pos++
			p.skipSpace()
			if c, ok := p.peek(); ok && c == end {
				p.pos++
				return out, nil
			}
			continue
		}
		if c == end {
			p.pos++
			if paren && !sawComma && len(out) == 1 {
				return out[0], nil
			}
			return out, nil
		}
		return nil, p.errorf("expected ',' or %q, got %q", end, c)
	}
}

func (p *parser) str() (string, error) {
	quote := p.input[p.pos]
	p.pos++
	var b strings.Builder
	for {
		if p.pos >= len(p.input) {
			return "", p.errorf("unterminated string")
		}
		c := p.input[p.pos]
		switch {
		case c == quote:
			p.pos++
			return b.String(), nil
		case c == '\\':
			p.pos++
			if err := p.escape(&b); err != nil {
				return "", err
			}
		default:
			r, size := utf8.DecodeRuneInString(p.input[p.pos:])
			b.WriteRune(r)
			p.pos += size
		}
	}
}

// escape decodes one backslash escape. Python leaves unknown escapes
// alone, backslash included, and repr output depends on that.
func (p *parser) escape(b *strings.Builder) error {
	if p.pos >= len(p.input) {
		return p.errorf("unterminated escape")
	}
	c := p.input[p.pos]
	p.pos++
	switch c {
	case '\\', '\'', '"':
		b.WriteByte(c)
	case 'n':
		b.WriteByte('\n')
	case 't':
		b.WriteByte('\t')
	case 'r':
		b.WriteByte('\r')
	case 'b':
		b.WriteByte('\b')
	case 'f':
		b.WriteByte('\f')
	case 'v':
		b.WriteByte('\v')
	case '0':
		b.WriteByte(0)
	case 'a':
		b.WriteByte(7)
	case 'x':
		return p.hexEscape(b, 2)
	case 'u':
		return p.hexEscape(b, 4)
	case 'U':
		return p.hexEscape(b, 8)
	case '\n':
		// line continuation inside a literal
	default:
		b.WriteByte('\\')
		b.WriteByte(c)
	}
	return nil
}

func (p *parser) hexEscape(b *strings.Builder, digits int) error {
	if p.pos+digits > len(p.input) {
		return p.errorf("truncated hex escape")
	}
	n, err := strconv.ParseUint(p.input[p.pos:p.pos+digits], 16, 32)
	if err != nil {
		return p.errorf("invalid hex escape: %v", err)
	}
	p.pos += digits
	b.WriteRune(rune(n))
	return nil
}

func (p *parser) number() (any, error) {
	start := p.pos
	if c, ok := p.peek(); ok && (c == '-' || c == '+') {
		p.pos++
	}
	isFloat := false
scan:
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		switch {
		case c >= '0' && c <= '9':
			p.pos++
		case c == '.':
			isFloat = true
			p.pos++
		case c == 'e' || c == 'E':
			isFloat = true
			p.pos++
			if c, ok := p.peek(); ok && (c == '-' || c == '+') {
				p.pos++
			}
		default:
			break scan
		}
	}
	text := p.input[start:p.pos]
	if !isFloat {
		n, err := strconv.ParseInt(text, 10, 64)
		if err == nil {
			return n, nil
		}
		// fall through for integers beyond int64
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		p.pos = start
		return nil, p.errorf("invalid number %q", text)
	}
	return f, nil
}
