package grammar

import (
	"bytes"
	"fmt"
	"sort"
	"unicode/utf8"
)

// RootSymbol is the rule every loadable grammar must define.
const RootSymbol = "root"

// ParseState is the result of parsing a grammar: symbol names mapped to rule
// ids, and the rules indexed by id.
type ParseState struct {
	SymbolIDs map[string]uint32
	Rules     [][]Element
}

// NewParseState returns an empty state.
func NewParseState() *ParseState {
	return &ParseState{SymbolIDs: make(map[string]uint32)}
}

// Empty reports whether the state holds no rules. Parse returns an empty
// state on every error.
func (s *ParseState) Empty() bool {
	return s == nil || len(s.Rules) == 0
}

// RootIndex looks up the rule id bound to RootSymbol.
func (s *ParseState) RootIndex() (uint32, bool) {
	if s == nil {
		return 0, false
	}
	id, ok := s.SymbolIDs[RootSymbol]
	if !ok || int(id) >= len(s.Rules) || len(s.Rules[id]) == 0 {
		return 0, false
	}
	return id, true
}

// CRules returns the rule collection in the layout grammar.New expects.
func (s *ParseState) CRules() [][]Element {
	out := make([][]Element, len(s.Rules))
	copy(out, s.Rules)
	return out
}

// SymbolNames returns symbol names ordered by rule id.
func (s *ParseState) SymbolNames() []string {
	names := make([]string, 0, len(s.SymbolIDs))
	for name := range s.SymbolIDs {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return s.SymbolIDs[names[i]] < s.SymbolIDs[names[j]]
	})
	return names
}

// ParseError describes a grammar syntax error.
type ParseError struct {
	Offset int
	Line   int
	Column int
	Msg    string
	Near   string
}

func (e *ParseError) Error() string {
	if e.Line == 0 {
		return "grammar: " + e.Msg
	}
	if e.Near == "" {
		return fmt.Sprintf("grammar:%d:%d: %s", e.Line, e.Column, e.Msg)
	}
	return fmt.Sprintf("grammar:%d:%d: %s at %q", e.Line, e.Column, e.Msg, e.Near)
}

type parser struct {
	src   []byte
	pos   int
	state *ParseState
}

// Parse parses grammar source. On error the returned state is empty and the
// error is a *ParseError. Input stops at the first NUL byte.
func Parse(src []byte) (*ParseState, error) {
	if i := bytes.IndexByte(src, 0); i >= 0 {
		src = src[:i]
	}

	p := &parser{src: src, state: NewParseState()}
	if err := p.parse(); err != nil {
		return NewParseState(), err
	}
	return p.state, nil
}

// ParseString is Parse for string input.
func ParseString(src string) (*ParseState, error) {
	return Parse([]byte(src))
}

func (p *parser) parse() error {
	p.parseSpace(true)
	for p.pos < len(p.src) {
		if err := p.parseRule(); err != nil {
			return err
		}
	}

	// Every referenced rule must be defined.
	for _, rule := range p.state.Rules {
		for _, elem := range rule {
			if elem.Type != RuleRef {
				continue
			}
			if int(elem.Value) >= len(p.state.Rules) || len(p.state.Rules[elem.Value]) == 0 {
				return &ParseError{
					Offset: p.pos,
					Msg:    fmt.Sprintf("undefined rule identifier '%s'", p.symbolName(elem.Value)),
				}
			}
		}
	}
	return nil
}

func (p *parser) errorf(format string, args ...any) *ParseError {
	line, col := 1, 1
	for _, c := range p.src[:min(p.pos, len(p.src))] {
		if c == '\n' {
			line++
			col = 1
		} else {
			col++
		}
	}
	near := p.src[min(p.pos, len(p.src)):]
	if len(near) > 20 {
		near = near[:20]
	}
	return &ParseError{
		Offset: p.pos,
		Line:   line,
		Column: col,
		Msg:    fmt.Sprintf(format, args...),
		Near:   string(near),
	}
}

func (p *parser) peek(off int) byte {
	if p.pos+off < len(p.src) {
		return p.src[p.pos+off]
	}
	return 0
}

func (p *parser) symbolName(id uint32) string {
	for name, v := range p.state.SymbolIDs {
		if v == id {
			return name
		}
	}
	return fmt.Sprintf("#%d", id)
}

func (p *parser) symbolID(name string) uint32 {
	if id, ok := p.state.SymbolIDs[name]; ok {
		return id
	}
	id := uint32(len(p.state.SymbolIDs))
	p.state.SymbolIDs[name] = id
	return id
}

func (p *parser) generateSymbolID(base string) uint32 {
	id := uint32(len(p.state.SymbolIDs))
	p.state.SymbolIDs[fmt.Sprintf("%s_%d", base, id)] = id
	return id
}

func (p *parser) addRule(id uint32, rule []Element) {
	for uint32(len(p.state.Rules)) <= id {
		p.state.Rules = append(p.state.Rules, nil)
	}
	p.state.Rules[id] = rule
}

func isWordChar(c byte) bool {
	return ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || c == '-' || ('0' <= c && c <= '9')
}

func (p *parser) parseSpace(newlineOK bool) {
	for p.pos < len(p.src) {
		switch c := p.src[p.pos]; {
		case c == ' ' || c == '\t':
			p.pos++
		case c == '#':
			for p.pos < len(p.src) && p.src[p.pos] != '\r' && p.src[p.pos] != '\n' {
				p.pos++
			}
		case newlineOK && (c == '\r' || c == '\n'):
			p.pos++
		default:
			return
		}
	}
}

func (p *parser) parseName() (string, error) {
	start := p.pos
	for p.pos < len(p.src) && isWordChar(p.src[p.pos]) {
		p.pos++
	}
	if p.pos == start {
		return "", p.errorf("expecting name")
	}
	return string(p.src[start:p.pos]), nil
}

func (p *parser) parseHex(size int) (uint32, error) {
	var value uint32
	for i := 0; i < size; i++ {
		c := p.peek(0)
		var d byte
		switch {
		case '0' <= c && c <= '9':
			d = c - '0'
		case 'a' <= c && c <= 'f':
			d = c - 'a' + 10
		case 'A' <= c && c <= 'F':
			d = c - 'A' + 10
		default:
			return 0, p.errorf("expecting %d hex chars", size)
		}
		value = value<<4 | uint32(d)
		p.pos++
	}
	return value, nil
}

func (p *parser) parseChar() (uint32, error) {
	if p.pos >= len(p.src) {
		return 0, p.errorf("unexpected end of input")
	}
	if p.src[p.pos] == '\\' {
		esc := p.peek(1)
		p.pos += 2
		switch esc {
		case 'x':
			return p.parseHex(2)
		case 'u':
			return p.parseHex(4)
		case 'U':
			return p.parseHex(8)
		case 't':
			return '\t', nil
		case 'r':
			return '\r', nil
		case 'n':
			return '\n', nil
		case '\\', '"', '[', ']':
			return uint32(esc), nil
		default:
			p.pos -= 2
			return 0, p.errorf("unknown escape")
		}
	}

	r, size := utf8.DecodeRune(p.src[p.pos:])
	if r == utf8.RuneError && size == 1 {
		r = rune(p.src[p.pos])
	}
	p.pos += size
	return uint32(r), nil
}

func (p *parser) parseSequence(ruleName string, out *[]Element, nested bool) error {
	lastSymStart := len(*out)
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		switch {
		case c == '"':
			p.pos++
			lastSymStart = len(*out)
			for p.peek(0) != '"' {
				r, err := p.parseChar()
				if err != nil {
					return err
				}
				*out = append(*out, Element{Char, r})
			}
			p.pos++
			p.parseSpace(nested)

		case c == '[':
			p.pos++
			startType := Char
			if p.peek(0) == '^' {
				p.pos++
				startType = CharNot
			}
			lastSymStart = len(*out)
			for p.peek(0) != ']' {
				typ := startType
				if lastSymStart < len(*out) {
					typ = CharAlt
				}
				r, err := p.parseChar()
				if err != nil {
					return err
				}
				*out = append(*out, Element{typ, r})
				if p.peek(0) == '-' && p.peek(1) != ']' {
					p.pos++
					upper, err := p.parseChar()
					if err != nil {
						return err
					}
					*out = append(*out, Element{CharRngUpper, upper})
				}
			}
			p.pos++
			p.parseSpace(nested)

		case isWordChar(c):
			name, err := p.parseName()
			if err != nil {
				return err
			}
			ref := p.symbolID(name)
			lastSymStart = len(*out)
			*out = append(*out, Element{RuleRef, ref})
			p.parseSpace(nested)

		case c == '(':
			p.pos++
			p.parseSpace(true)
			sub := p.generateSymbolID(ruleName)
			if err := p.parseAlternates(ruleName, sub, true); err != nil {
				return err
			}
			lastSymStart = len(*out)
			*out = append(*out, Element{RuleRef, sub})
			if p.peek(0) != ')' {
				return p.errorf("expecting ')'")
			}
			p.pos++
			p.parseSpace(nested)

		case c == '.':
			lastSymStart = len(*out)
			*out = append(*out, Element{CharAny, 0})
			p.pos++
			p.parseSpace(nested)

		case c == '*' || c == '+' || c == '?':
			if lastSymStart == len(*out) {
				return p.errorf("expecting preceding item to */+/?")
			}

			// Rewrite the preceding item into a generated rule:
			//   S* --> S' ::= S S' |
			//   S+ --> S' ::= S S' | S
			//   S? --> S' ::= S |
			sub := p.generateSymbolID(ruleName)
			item := append([]Element(nil), (*out)[lastSymStart:]...)
			subRule := append([]Element(nil), item...)
			if c == '*' || c == '+' {
				subRule = append(subRule, Element{RuleRef, sub})
			}
			subRule = append(subRule, Element{Alt, 0})
			if c == '+' {
				subRule = append(subRule, item...)
			}
			subRule = append(subRule, Element{End, 0})
			p.addRule(sub, subRule)

			*out = append((*out)[:lastSymStart], Element{RuleRef, sub})
			p.pos++
			p.parseSpace(nested)

		default:
			return nil
		}
	}
	return nil
}

func (p *parser) parseAlternates(ruleName string, ruleID uint32, nested bool) error {
	var rule []Element
	if err := p.parseSequence(ruleName, &rule, nested); err != nil {
		return err
	}
	for p.peek(0) == '|' {
		rule = append(rule, Element{Alt, 0})
		p.pos++
		p.parseSpace(true)
		if err := p.parseSequence(ruleName, &rule, nested); err != nil {
			return err
		}
	}
	rule = append(rule, Element{End, 0})
	p.addRule(ruleID, rule)
	return nil
}

func (p *parser) parseRule() error {
	name, err := p.parseName()
	if err != nil {
		return err
	}
	p.parseSpace(false)
	ruleID := p.symbolID(name)

	if p.peek(0) != ':' || p.peek(1) != ':' || p.peek(2) != '=' {
		return p.errorf("expecting ::=")
	}
	p.pos += 3
	p.parseSpace(true)

	if err := p.parseAlternates(name, ruleID, false); err != nil {
		return err
	}

	switch p.peek(0) {
	case '\r':
		p.pos++
		if p.peek(0) == '\n' {
			p.pos++
		}
	case '\n':
		p.pos++
	default:
		if p.pos < len(p.src) {
			return p.errorf("expecting newline or end")
		}
	}
	p.parseSpace(true)
	return nil
}
