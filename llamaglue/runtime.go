// Package llamaglue is the boundary between a host application and the
// inference runtime: CPU feature reporting, token rendering with the
// size-negotiation protocol, and grammar loading.
package llamaglue

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"llamaglue/cpu"
	"llamaglue/grammar"
	"llamaglue/vocab"
)

// Runtime is safe for concurrent use. Every call returns values owned by the
// caller.
type Runtime struct {
	config   *Config
	logger   *slog.Logger
	features cpu.Features
	metrics  *metrics
	// accelerated is set when New initialised the accelerator library.
	accelerated bool

	diagMu    sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// New creates a Runtime. A nil config uses NewConfig defaults.
func New(config *Config) *Runtime {
	if config == nil {
		config = NewConfig()
	}

	var features cpu.Features
	accelerated := false
	if config.Features != nil {
		features = *config.Features
	} else {
		features = cpu.Detect()
		accelerated = cpu.ProbeAccelerator(config.AcceleratorLib)
		features.BLAS = accelerated
	}

	reg := config.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Runtime{
		config:      config,
		logger:      config.Logger,
		features:    features,
		metrics:     newMetrics(reg),
		accelerated: accelerated,
	}
}

// Close releases the accelerator environment New set up, if any. Runtimes
// built without an accelerator library have nothing to release.
func (r *Runtime) Close() error {
	if !r.accelerated {
		return nil
	}
	r.closeOnce.Do(func() { r.closeErr = cpu.ReleaseAccelerator() })
	return r.closeErr
}

// Features returns the flags SystemInfo renders.
func (r *Runtime) Features() cpu.Features {
	return r.features
}

// SystemInfo returns the CPU feature string, e.g.
// "AVX = 1 | AVX2 = 1 | ... | VSX = 0 | ".
func (r *Runtime) SystemInfo() string {
	return r.features.String()
}

// TokenToPiece renders one token. The first attempt uses a small buffer; when
// the vocabulary answers with a negative size the buffer is grown to exactly
// that size and the call is repeated once. A retry reporting any other size
// is a *PieceError.
func (r *Runtime) TokenToPiece(v vocab.Vocabulary, token vocab.Token) (string, error) {
	if v == nil {
		return "", ErrVocabularyIsNil
	}

	buf := make([]byte, r.config.PieceBufferSize)
	n := v.TokenToPiece(token, buf)
	if n < 0 {
		required := -n
		r.metrics.pieceRetries.Inc()
		r.logger.Debug("token piece needs a larger buffer", "token", token, "size", required)

		buf = make([]byte, required)
		if check := v.TokenToPiece(token, buf); check != required {
			return "", r.pieceError(token, required, check)
		}
		n = required
	} else if n > len(buf) {
		return "", r.pieceError(token, len(buf), n)
	}

	return string(buf[:n]), nil
}

func (r *Runtime) pieceError(token vocab.Token, requested, reported int) error {
	r.metrics.pieceErrors.Inc()
	err := &PieceError{Token: token, Requested: requested, Reported: reported}
	r.logger.Error("vocabulary broke the piece size contract",
		"token", token, "requested", requested, "reported", reported)
	return err
}

// Detokenize concatenates the pieces of tokens.
func (r *Runtime) Detokenize(v vocab.Vocabulary, tokens []vocab.Token) (string, error) {
	var sb strings.Builder
	for _, token := range tokens {
		piece, err := r.TokenToPiece(v, token)
		if err != nil {
			return "", err
		}
		sb.WriteString(piece)
	}
	return sb.String(), nil
}

// LoadGrammar reads the grammar file at path, parses it and initialises a
// grammar rooted at the "root" rule. The parsed grammar is dumped to the
// diagnostics writer on success. Errors are *GrammarLoadError: KindIO when the
// file cannot be read, KindParse when it yields no rules (the handle is nil),
// KindContract when root is missing or the rules cannot be initialised.
func (r *Runtime) LoadGrammar(path string) (*grammar.Grammar, error) {
	g, _, err := r.loadGrammar(path)
	return g, err
}

// loadGrammar is LoadGrammar that also returns the file contents it read.
func (r *Runtime) loadGrammar(path string) (*grammar.Grammar, []byte, error) {
	start := time.Now()
	src, err := readGrammarFile(path)
	var g *grammar.Grammar
	if err != nil {
		err = grammarError(path, KindIO, ErrGrammarIO, err)
	} else {
		g, err = r.buildGrammar(path, src)
	}
	r.metrics.grammarLoadSeconds.Observe(time.Since(start).Seconds())

	if err != nil {
		r.metrics.grammarLoads.WithLabelValues(KindOf(err).String()).Inc()
		r.logger.Debug("grammar load failed", "path", path, "kind", KindOf(err), "error", err)
		return nil, src, err
	}
	r.metrics.grammarLoads.WithLabelValues("ok").Inc()
	r.logger.Debug("grammar loaded", "path", path, "rules", g.NumRules())
	return g, src, nil
}

func (r *Runtime) buildGrammar(path string, src []byte) (*grammar.Grammar, error) {
	state, err := grammar.Parse(src)
	if err != nil {
		r.diagnose(func(w io.Writer) error {
			_, werr := fmt.Fprintf(w, "%s: %v\n", path, err)
			return werr
		})
	}
	if state.Empty() {
		return nil, grammarError(path, KindParse, ErrGrammarParse, err)
	}

	r.diagnose(func(w io.Writer) error { return grammar.Print(w, state) })

	root, ok := state.RootIndex()
	if !ok {
		return nil, grammarError(path, KindContract, ErrMissingRoot, nil)
	}

	g, err := grammar.New(state.CRules(), root)
	if err != nil {
		return nil, grammarError(path, KindContract, ErrInvalidGrammar, err)
	}
	return g, nil
}

func (r *Runtime) diagnose(write func(io.Writer) error) {
	r.diagMu.Lock()
	defer r.diagMu.Unlock()
	if err := write(r.config.Diagnostics); err != nil {
		r.logger.Warn("failed to write grammar diagnostics", "error", err)
	}
}

// readGrammarFile reads the whole file, sizing the buffer from the file end.
func readGrammarFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}

	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to seek to end: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to rewind: %w", err)
	}

	buf := make([]byte, size)
	if _, err := io.ReadFull(f, buf); err != nil {
		return nil, fmt.Errorf("failed to read %d bytes: %w", size, err)
	}
	return buf, nil
}
