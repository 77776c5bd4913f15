package vocab

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ggufWriter builds small version 3 GGUF files for tests.
type ggufWriter struct {
	buf bytes.Buffer
	kv  int
	out bytes.Buffer
}

func (w *ggufWriter) str(s string) {
	binary.Write(&w.buf, binary.LittleEndian, uint64(len(s)))
	w.buf.WriteString(s)
}

func (w *ggufWriter) key(k string, typ uint32) {
	w.kv++
	w.str(k)
	binary.Write(&w.buf, binary.LittleEndian, typ)
}

func (w *ggufWriter) stringValue(k, v string) {
	w.key(k, ggufString)
	w.str(v)
}

func (w *ggufWriter) uint32Value(k string, v uint32) {
	w.key(k, ggufUint32)
	binary.Write(&w.buf, binary.LittleEndian, v)
}

func (w *ggufWriter) float32Value(k string, v float32) {
	w.key(k, ggufFloat32)
	binary.Write(&w.buf, binary.LittleEndian, v)
}

func (w *ggufWriter) stringArray(k string, vs []string) {
	w.key(k, ggufArray)
	binary.Write(&w.buf, binary.LittleEndian, ggufString)
	binary.Write(&w.buf, binary.LittleEndian, uint64(len(vs)))
	for _, v := range vs {
		w.str(v)
	}
}

func (w *ggufWriter) int32Array(k string, vs []int32) {
	w.key(k, ggufArray)
	binary.Write(&w.buf, binary.LittleEndian, ggufInt32)
	binary.Write(&w.buf, binary.LittleEndian, uint64(len(vs)))
	for _, v := range vs {
		binary.Write(&w.buf, binary.LittleEndian, v)
	}
}

func (w *ggufWriter) bytes() []byte {
	w.out.Reset()
	w.out.WriteString(ggufMagic)
	binary.Write(&w.out, binary.LittleEndian, uint32(3))
	binary.Write(&w.out, binary.LittleEndian, uint64(0))
	binary.Write(&w.out, binary.LittleEndian, uint64(w.kv))
	w.out.Write(w.buf.Bytes())
	return w.out.Bytes()
}

func writeTestGGUF(t *testing.T) string {
	t.Helper()
	w := &ggufWriter{}
	w.stringValue("general.architecture", "llama")
	w.float32Value("llama.rope.freq_base", 10000)
	w.stringValue(KeyTokenizerModel, "llama")
	w.stringArray(KeyTokens, []string{"<unk>", "<s>", "</s>", "<0x0A>", "▁the", "▁grammar"})
	w.int32Array(KeyTokenTypes, []int32{2, 3, 3, 6, 1, 1})
	w.uint32Value(KeyBOS, 1)
	w.uint32Value(KeyEOS, 2)
	w.stringArray("tokenizer.ggml.merges", []string{"▁ t", "h e"})

	path := filepath.Join(t.TempDir(), "model.gguf")
	require.NoError(t, os.WriteFile(path, w.bytes(), 0o644))
	return path
}

func TestLoadGGUF(t *testing.T) {
	table, err := LoadGGUF(writeTestGGUF(t))
	require.NoError(t, err)

	assert.Equal(t, KindSPM, table.Kind())
	assert.Equal(t, 6, table.NumTokens())
	assert.Equal(t, Token(1), table.BOS())
	assert.Equal(t, Token(2), table.EOS())
	assert.Equal(t, TypeByte, table.Type(3))
	assert.Equal(t, " grammar", renderAll(t, table, 5))
	assert.Equal(t, "\n", renderAll(t, table, 3))
}

func TestOpenDetectsGGUF(t *testing.T) {
	table, err := Open(writeTestGGUF(t))
	require.NoError(t, err)
	assert.Equal(t, 6, table.NumTokens())
}

func TestReadGGUFRejectsBadMagic(t *testing.T) {
	_, err := ReadGGUF(bytes.NewReader([]byte("GGML\x03\x00\x00\x00")))
	assert.ErrorIs(t, err, ErrNotGGUF)
}

func TestReadGGUFWithoutTokens(t *testing.T) {
	w := &ggufWriter{}
	w.stringValue("general.architecture", "llama")
	_, err := ReadGGUF(bytes.NewReader(w.bytes()))
	assert.Error(t, err)
}

func TestReadGGUFTruncated(t *testing.T) {
	data, err := os.ReadFile(writeTestGGUF(t))
	require.NoError(t, err)

	_, err = ReadGGUF(bytes.NewReader(data[:len(data)-3]))
	assert.Error(t, err)
}
