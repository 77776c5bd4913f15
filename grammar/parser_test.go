package grammar

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const arithmetic = `# simple arithmetic
root  ::= expr
expr  ::= term ([-+*/] term)*
term  ::= num | "(" space expr ")" space
num   ::= [0-9]+ space
space ::= [ \t\n]*
`

func TestParseSimpleLiteral(t *testing.T) {
	state, err := ParseString(`root ::= "ab" | [x-z]` + "\n")
	require.NoError(t, err)

	require.Equal(t, map[string]uint32{"root": 0}, state.SymbolIDs)
	require.Len(t, state.Rules, 1)
	assert.Equal(t, []Element{
		{Char, 'a'}, {Char, 'b'},
		{Alt, 0},
		{Char, 'x'}, {CharRngUpper, 'z'},
		{End, 0},
	}, state.Rules[0])
}

func TestParseCharClass(t *testing.T) {
	state, err := ParseString(`root ::= [^a-cx\n]`)
	require.NoError(t, err)

	assert.Equal(t, []Element{
		{CharNot, 'a'}, {CharRngUpper, 'c'}, {CharAlt, 'x'}, {CharAlt, '\n'},
		{End, 0},
	}, state.Rules[0])
}

func TestParseRepetitionRewrites(t *testing.T) {
	state, err := ParseString(`root ::= "a"* "b"+ "c"?`)
	require.NoError(t, err)

	assert.Equal(t, uint32(1), state.SymbolIDs["root_1"])
	assert.Equal(t, uint32(2), state.SymbolIDs["root_2"])
	assert.Equal(t, uint32(3), state.SymbolIDs["root_3"])

	assert.Equal(t, []Element{{RuleRef, 1}, {RuleRef, 2}, {RuleRef, 3}, {End, 0}}, state.Rules[0])
	// a* --> root_1 ::= "a" root_1 |
	assert.Equal(t, []Element{{Char, 'a'}, {RuleRef, 1}, {Alt, 0}, {End, 0}}, state.Rules[1])
	// b+ --> root_2 ::= "b" root_2 | "b"
	assert.Equal(t, []Element{{Char, 'b'}, {RuleRef, 2}, {Alt, 0}, {Char, 'b'}, {End, 0}}, state.Rules[2])
	// c? --> root_3 ::= "c" |
	assert.Equal(t, []Element{{Char, 'c'}, {Alt, 0}, {End, 0}}, state.Rules[3])
}

func TestParseGroupsAndRefs(t *testing.T) {
	state, err := ParseString(arithmetic)
	require.NoError(t, err)

	for _, name := range []string{"root", "expr", "term", "num", "space"} {
		_, ok := state.SymbolIDs[name]
		assert.True(t, ok, "missing symbol %s", name)
	}
	root, ok := state.RootIndex()
	require.True(t, ok)
	assert.Equal(t, uint32(0), root)
	assert.Len(t, state.Rules, len(state.SymbolIDs))
}

func TestParseEscapes(t *testing.T) {
	state, err := ParseString(`root ::= "\x41é\U0001F600\"\\" "é"`)
	require.NoError(t, err)

	assert.Equal(t, []Element{
		{Char, 'A'}, {Char, 0xE9}, {Char, 0x1F600}, {Char, '"'}, {Char, '\\'},
		{Char, 0xE9},
		{End, 0},
	}, state.Rules[0])
}

func TestParseAnyChar(t *testing.T) {
	state, err := ParseString(`root ::= . "x"`)
	require.NoError(t, err)
	assert.Equal(t, []Element{{CharAny, 0}, {Char, 'x'}, {End, 0}}, state.Rules[0])
}

func TestParseCRLF(t *testing.T) {
	state, err := ParseString("root ::= a\r\na ::= \"x\"\r\n")
	require.NoError(t, err)
	assert.Len(t, state.Rules, 2)
}

func TestParseErrorsReturnEmptyState(t *testing.T) {
	cases := map[string]string{
		"missing assign":     `root "a"`,
		"unterminated":       `root ::= "abc`,
		"unterminated class": `root ::= [a-`,
		"dangling repeat":    `root ::= *`,
		"unclosed group":     `root ::= ("a"`,
		"bad escape":         `root ::= "\q"`,
		"short hex":          `root ::= "\x4"`,
		"undefined ref":      `root ::= missing`,
		"trailing junk":      `root ::= "a" )`,
		"no name":            `::= "a"`,
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			state, err := ParseString(src)
			require.Error(t, err)
			var perr *ParseError
			assert.True(t, errors.As(err, &perr))
			assert.True(t, state.Empty())
		})
	}
}

func TestParseEmptyInput(t *testing.T) {
	for _, src := range []string{"", "   \n\n", "# only a comment\n"} {
		state, err := ParseString(src)
		require.NoError(t, err)
		assert.True(t, state.Empty())
	}
}

func TestParseStopsAtNUL(t *testing.T) {
	state, err := Parse([]byte("root ::= \"a\"\n\x00garbage ::="))
	require.NoError(t, err)
	assert.Len(t, state.Rules, 1)
}

func TestRootIndexMissing(t *testing.T) {
	state, err := ParseString(`start ::= "a"`)
	require.NoError(t, err)
	_, ok := state.RootIndex()
	assert.False(t, ok)
}

func TestPrint(t *testing.T) {
	state, err := ParseString(`root ::= "a" [b-dx] item | [^\n]
item ::= "é"`)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Print(&buf, state))
	assert.Equal(t,
		"root ::= [a] [b-dx] item | [^<U+000A>] \n"+
			"item ::= [<U+00E9>] \n",
		buf.String())
}

func TestPrintRejectsMalformedRule(t *testing.T) {
	state := NewParseState()
	state.SymbolIDs["root"] = 0
	state.Rules = [][]Element{{{Char, 'a'}}}

	var buf bytes.Buffer
	assert.Error(t, Print(&buf, state))
}

func TestSymbolNames(t *testing.T) {
	state, err := ParseString(arithmetic)
	require.NoError(t, err)

	names := state.SymbolNames()
	require.NotEmpty(t, names)
	assert.Equal(t, "root", names[0])
	assert.Equal(t, "expr", names[1])
}
