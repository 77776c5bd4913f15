package vocab

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func renderAll(t *testing.T, v Vocabulary, token Token) string {
	t.Helper()
	buf := make([]byte, 64)
	n := v.TokenToPiece(token, buf)
	require.GreaterOrEqual(t, n, 0)
	return string(buf[:n])
}

func TestTableSPMPieces(t *testing.T) {
	table, err := NewTable(KindSPM,
		[]string{"<unk>", "<s>", "</s>", "<0x0A>", "▁Hello", "world", "▁▁"},
		[]TokenType{TypeUnknown, TypeControl, TypeControl, TypeByte, TypeNormal, TypeNormal, TypeNormal},
	)
	require.NoError(t, err)

	assert.Equal(t, "▅", renderAll(t, table, 0))
	assert.Equal(t, "", renderAll(t, table, 1))
	assert.Equal(t, "", renderAll(t, table, 2))
	assert.Equal(t, "\n", renderAll(t, table, 3))
	assert.Equal(t, " Hello", renderAll(t, table, 4))
	assert.Equal(t, "world", renderAll(t, table, 5))
	assert.Equal(t, "  ", renderAll(t, table, 6))
}

func TestTableBPEPieces(t *testing.T) {
	table, err := NewTable(KindBPE,
		[]string{"Ġhello", "Ċ", "<|endoftext|>", "é"},
		[]TokenType{TypeNormal, TypeNormal, TypeControl, TypeNormal},
	)
	require.NoError(t, err)

	assert.Equal(t, " hello", renderAll(t, table, 0))
	assert.Equal(t, "\n", renderAll(t, table, 1))
	assert.Equal(t, "", renderAll(t, table, 2))
	// é is itself a table rune (0xE9) and decodes to a single raw byte
	assert.Equal(t, string([]byte{0xE9}), renderAll(t, table, 3))
}

func TestTableNegotiatesSize(t *testing.T) {
	table, err := NewTable(KindSPM, []string{"▁internationalization"}, nil)
	require.NoError(t, err)

	small := make([]byte, 8)
	n := table.TokenToPiece(0, small)
	assert.Equal(t, -len(" internationalization"), n)
	assert.Equal(t, make([]byte, 8), small, "nothing written on a short buffer")

	exact := make([]byte, -n)
	assert.Equal(t, -n, table.TokenToPiece(0, exact))
	assert.Equal(t, " internationalization", string(exact))
}

func TestTableOutOfRange(t *testing.T) {
	table, err := NewTable(KindSPM, []string{"a"}, nil)
	require.NoError(t, err)

	buf := make([]byte, 8)
	assert.Equal(t, 0, table.TokenToPiece(-1, buf))
	assert.Equal(t, 0, table.TokenToPiece(5, buf))
}

func TestNewTableRejectsMismatchedTypes(t *testing.T) {
	_, err := NewTable(KindSPM, []string{"a", "b"}, []TokenType{TypeNormal})
	assert.Error(t, err)
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("gpt2")
	require.NoError(t, err)
	assert.Equal(t, KindBPE, k)

	k, err = ParseKind("llama")
	require.NoError(t, err)
	assert.Equal(t, KindSPM, k)

	_, err = ParseKind("rwkv")
	assert.Error(t, err)
}

func TestParseByteToken(t *testing.T) {
	b, ok := parseByteToken("<0xFF>")
	assert.True(t, ok)
	assert.Equal(t, byte(0xFF), b)

	_, ok = parseByteToken("<0xZZ>")
	assert.False(t, ok)
	_, ok = parseByteToken("0x0A")
	assert.False(t, ok)
}
