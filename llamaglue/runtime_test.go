package llamaglue

import (
	"bytes"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llamaglue/cpu"
	"llamaglue/grammar"
	"llamaglue/vocab"
)

// countingVocab records the buffer size of every TokenToPiece call.
type countingVocab struct {
	mu     sync.Mutex
	pieces map[vocab.Token]string
	calls  []int
}

func (v *countingVocab) TokenToPiece(token vocab.Token, buf []byte) int {
	v.mu.Lock()
	v.calls = append(v.calls, len(buf))
	v.mu.Unlock()

	p := v.pieces[token]
	if len(p) > len(buf) {
		return -len(p)
	}
	return copy(buf, p)
}

func (v *countingVocab) NumTokens() int { return len(v.pieces) }

// lyingVocab asks for one size and then reports another.
type lyingVocab struct {
	first, second int
}

func (v *lyingVocab) TokenToPiece(_ vocab.Token, buf []byte) int {
	if len(buf) < -v.first {
		return v.first
	}
	return v.second
}

func (v *lyingVocab) NumTokens() int { return 1 }

func newTestRuntime(t *testing.T) (*Runtime, *bytes.Buffer, *prometheus.Registry) {
	t.Helper()
	var diag bytes.Buffer
	reg := prometheus.NewRegistry()
	rt := New(NewConfig(
		WithDiagnostics(&diag),
		WithMetrics(reg),
		WithFeatures(cpu.Features{AVX: true, AVX2: true, FMA: true}),
	))
	return rt, &diag, reg
}

func metricValue(t *testing.T, reg *prometheus.Registry, name string, labels ...string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	require.NoError(t, err)

	var total float64
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
	metrics:
		for _, m := range mf.GetMetric() {
			for i := 0; i+1 < len(labels); i += 2 {
				found := false
				for _, lp := range m.GetLabel() {
					if lp.GetName() == labels[i] && lp.GetValue() == labels[i+1] {
						found = true
					}
				}
				if !found {
					continue metrics
				}
			}
			if c := m.GetCounter(); c != nil {
				total += c.GetValue()
			}
			if h := m.GetHistogram(); h != nil {
				total += float64(h.GetSampleCount())
			}
		}
	}
	return total
}

func writeGrammar(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.gbnf")
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	return path
}

func TestSystemInfoListsEveryFlagOnce(t *testing.T) {
	rt, _, _ := newTestRuntime(t)
	info := rt.SystemInfo()

	entries := strings.Split(strings.TrimSuffix(info, cpu.Separator), cpu.Separator)
	flags := rt.Features().Flags()
	require.Len(t, entries, len(flags))

	seen := make(map[string]int)
	for _, entry := range entries {
		name, value, ok := strings.Cut(entry, " = ")
		require.True(t, ok, "entry %q", entry)
		assert.Contains(t, []string{"0", "1"}, value)
		seen[name]++
	}
	for _, f := range flags {
		assert.Equal(t, 1, seen[f.Name], f.Name)
	}
	assert.True(t, strings.HasPrefix(info, "AVX = 1 | AVX2 = 1 | AVX512 = 0 | "))
	assert.True(t, strings.HasSuffix(info, "VSX = 0 | "))
}

func TestSystemInfoReturnsFreshStrings(t *testing.T) {
	rt, _, _ := newTestRuntime(t)

	var wg sync.WaitGroup
	results := make([]string, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = rt.SystemInfo()
		}()
	}
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, results[0], r)
	}
}

func TestTokenToPieceFitsWithoutRetry(t *testing.T) {
	rt, _, reg := newTestRuntime(t)
	v := &countingVocab{pieces: map[vocab.Token]string{1: "hello", 2: "12345678"}}

	piece, err := rt.TokenToPiece(v, 1)
	require.NoError(t, err)
	assert.Equal(t, "hello", piece)

	piece, err = rt.TokenToPiece(v, 2)
	require.NoError(t, err)
	assert.Equal(t, "12345678", piece)

	assert.Equal(t, []int{8, 8}, v.calls)
	assert.Zero(t, metricValue(t, reg, "llamaglue_piece_retries_total"))
}

func TestTokenToPieceRetriesOnceWithExactSize(t *testing.T) {
	rt, _, reg := newTestRuntime(t)
	long := "a considerably longer piece"
	v := &countingVocab{pieces: map[vocab.Token]string{7: long}}

	piece, err := rt.TokenToPiece(v, 7)
	require.NoError(t, err)
	assert.Equal(t, long, piece)

	assert.Equal(t, []int{8, len(long)}, v.calls)
	assert.Equal(t, float64(1), metricValue(t, reg, "llamaglue_piece_retries_total"))
}

func TestTokenToPieceResultsAreIndependent(t *testing.T) {
	rt, _, _ := newTestRuntime(t)
	v := &countingVocab{pieces: map[vocab.Token]string{
		1: " the",
		2: " extraordinarily",
	}}

	first, err := rt.TokenToPiece(v, 1)
	require.NoError(t, err)
	second, err := rt.TokenToPiece(v, 2)
	require.NoError(t, err)

	assert.Equal(t, " the", first)
	assert.Equal(t, " extraordinarily", second)
}

func TestTokenToPieceConcurrent(t *testing.T) {
	rt, _, _ := newTestRuntime(t)
	v := &countingVocab{pieces: map[vocab.Token]string{
		0: "short",
		1: "a piece that needs the retry path",
	}}

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token := vocab.Token(i % 2)
			piece, err := rt.TokenToPiece(v, token)
			assert.NoError(t, err)
			assert.Equal(t, v.pieces[token], piece)
		}()
	}
	wg.Wait()
}

func TestTokenToPieceSizeMismatch(t *testing.T) {
	rt, _, reg := newTestRuntime(t)

	_, err := rt.TokenToPiece(&lyingVocab{first: -12, second: 11}, 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPieceSizeMismatch)

	var perr *PieceError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, vocab.Token(3), perr.Token)
	assert.Equal(t, 12, perr.Requested)
	assert.Equal(t, 11, perr.Reported)
	assert.Equal(t, KindContract, KindOf(err))
	assert.Equal(t, float64(1), metricValue(t, reg, "llamaglue_piece_errors_total"))
}

func TestTokenToPieceOverlongFirstAnswer(t *testing.T) {
	rt, _, _ := newTestRuntime(t)

	_, err := rt.TokenToPiece(&lyingVocab{first: 20, second: 20}, 0)
	assert.ErrorIs(t, err, ErrPieceSizeMismatch)
}

func TestTokenToPieceNilVocabulary(t *testing.T) {
	rt, _, _ := newTestRuntime(t)
	_, err := rt.TokenToPiece(nil, 0)
	assert.ErrorIs(t, err, ErrVocabularyIsNil)
}

func TestTokenToPieceWithTable(t *testing.T) {
	rt, _, _ := newTestRuntime(t)
	table, err := vocab.NewTable(vocab.KindSPM, []string{"<unk>", "<s>", "▁Hello", "▁world", "<0x21>"}, []vocab.TokenType{
		vocab.TypeUnknown, vocab.TypeControl, vocab.TypeNormal, vocab.TypeNormal, vocab.TypeByte,
	})
	require.NoError(t, err)

	text, err := rt.Detokenize(table, []vocab.Token{1, 2, 3, 4})
	require.NoError(t, err)
	assert.Equal(t, " Hello world!", text)
}

func TestLoadGrammarValid(t *testing.T) {
	rt, diag, reg := newTestRuntime(t)
	path := writeGrammar(t, `root ::= item+ "."
item ::= [a-z] | "-"
`)

	g, err := rt.LoadGrammar(path)
	require.NoError(t, err)
	require.NotNil(t, g)
	assert.NotEmpty(t, g.Stacks())

	assert.Contains(t, diag.String(), "root ::= ")
	assert.Contains(t, diag.String(), "item ::= [a-z] | [-] \n")
	assert.Equal(t, float64(1), metricValue(t, reg, "llamaglue_grammar_loads_total", "result", "ok"))
	assert.Equal(t, float64(1), metricValue(t, reg, "llamaglue_grammar_load_seconds"))
}

func TestLoadGrammarEmptyOrInvalid(t *testing.T) {
	for name, src := range map[string]string{
		"empty":        "",
		"comment only": "# nothing here\n",
		"syntax error": `root ::= "abc`,
		"undefined":    `root ::= other`,
	} {
		t.Run(name, func(t *testing.T) {
			rt, _, reg := newTestRuntime(t)
			g, err := rt.LoadGrammar(writeGrammar(t, src))
			assert.Nil(t, g)
			assert.ErrorIs(t, err, ErrGrammarParse)
			assert.Equal(t, KindParse, KindOf(err))
			assert.Equal(t, float64(1), metricValue(t, reg, "llamaglue_grammar_loads_total", "result", "parse"))
		})
	}
}

func TestLoadGrammarReportsParserMessage(t *testing.T) {
	rt, diag, _ := newTestRuntime(t)
	path := writeGrammar(t, `root ::= "abc`)

	_, err := rt.LoadGrammar(path)
	require.Error(t, err)

	var perr *grammar.ParseError
	assert.True(t, errors.As(err, &perr))
	assert.Contains(t, diag.String(), path)
	assert.NotContains(t, diag.String(), "::=")
}

func TestLoadGrammarMissingRoot(t *testing.T) {
	rt, diag, _ := newTestRuntime(t)
	path := writeGrammar(t, `start ::= item
item ::= "x"
`)

	g, err := rt.LoadGrammar(path)
	assert.Nil(t, g)
	assert.ErrorIs(t, err, ErrMissingRoot)
	assert.Equal(t, KindContract, KindOf(err))

	var gerr *GrammarLoadError
	require.True(t, errors.As(err, &gerr))
	assert.Equal(t, path, gerr.Path)
	// parsing succeeded, so the dump is still written
	assert.Contains(t, diag.String(), "start ::= item \n")
}

func TestLoadGrammarMissingFile(t *testing.T) {
	rt, _, reg := newTestRuntime(t)

	g, err := rt.LoadGrammar(filepath.Join(t.TempDir(), "absent.gbnf"))
	assert.Nil(t, g)
	assert.ErrorIs(t, err, ErrGrammarIO)
	assert.ErrorIs(t, err, fs.ErrNotExist)
	assert.Equal(t, KindIO, KindOf(err))
	assert.Equal(t, float64(1), metricValue(t, reg, "llamaglue_grammar_loads_total", "result", "io"))
}

func TestLoadGrammarDirectory(t *testing.T) {
	rt, _, _ := newTestRuntime(t)

	_, err := rt.LoadGrammar(t.TempDir())
	assert.ErrorIs(t, err, ErrGrammarIO)
}

func TestLoadGrammarLeftRecursion(t *testing.T) {
	rt, _, _ := newTestRuntime(t)

	_, err := rt.LoadGrammar(writeGrammar(t, `root ::= root "a" | "b"`))
	assert.ErrorIs(t, err, ErrInvalidGrammar)
	assert.ErrorIs(t, err, grammar.ErrLeftRecursion)
	assert.Equal(t, KindContract, KindOf(err))

	// root_1 reaches itself through item, which is empty only via ws
	_, err = rt.LoadGrammar(writeGrammar(t, "root ::= item*\nitem ::= ws\nws ::= [ ]*\n"))
	assert.ErrorIs(t, err, ErrInvalidGrammar)
	assert.ErrorIs(t, err, grammar.ErrLeftRecursion)
	assert.Equal(t, KindContract, KindOf(err))
}

func TestCloseWithoutAccelerator(t *testing.T) {
	rt := New(NewConfig(WithDiagnostics(io.Discard), WithAccelerator(filepath.Join(t.TempDir(), "missing.so"))))
	assert.False(t, rt.Features().BLAS)
	assert.NoError(t, rt.Close())
	assert.NoError(t, rt.Close())

	// overridden features never touch the accelerator
	rt = New(NewConfig(WithDiagnostics(io.Discard), WithFeatures(cpu.Features{BLAS: true})))
	assert.NoError(t, rt.Close())
}

func TestNewConfigDefaults(t *testing.T) {
	c := NewConfig()
	assert.NotNil(t, c.Logger)
	assert.Equal(t, DefaultPieceBufferSize, c.PieceBufferSize)
}

func TestNewConfigRejectsInvalid(t *testing.T) {
	assert.Panics(t, func() { NewConfig(WithPieceBufferSize(0)) })
	assert.Panics(t, func() { NewConfig(WithDiagnostics(nil)) })
	assert.Panics(t, func() { NewConfig(WithLogger(nil)) })
}

func TestSmallerPieceBuffer(t *testing.T) {
	reg := prometheus.NewRegistry()
	rt := New(NewConfig(WithPieceBufferSize(2), WithMetrics(reg)))
	v := &countingVocab{pieces: map[vocab.Token]string{0: "abc"}}

	piece, err := rt.TokenToPiece(v, 0)
	require.NoError(t, err)
	assert.Equal(t, "abc", piece)
	assert.Equal(t, []int{2, 3}, v.calls)
}
