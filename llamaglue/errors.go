package llamaglue

import (
	"errors"
	"fmt"

	"llamaglue/vocab"
)

var (
	// ErrGrammarIO is returned when a grammar file cannot be opened or read in full.
	ErrGrammarIO = errors.New("grammar file could not be read")
	// ErrGrammarParse is returned when a grammar parses to an empty rule set.
	ErrGrammarParse = errors.New("grammar has no rules")
	// ErrMissingRoot is returned when a parsed grammar defines no root rule.
	ErrMissingRoot = errors.New("grammar has no root rule")
	// ErrInvalidGrammar is returned when the parsed rules cannot be initialised.
	ErrInvalidGrammar = errors.New("grammar could not be initialised")
	// ErrPieceSizeMismatch is returned when a vocabulary breaks the
	// size-negotiation contract of TokenToPiece.
	ErrPieceSizeMismatch = errors.New("piece size mismatch")
	// ErrVocabularyIsNil is returned by the token decoder for a nil vocabulary.
	ErrVocabularyIsNil = errors.New("vocabulary is nil")
)

// ErrorKind classifies a failed operation.
type ErrorKind int

const (
	KindIO ErrorKind = iota + 1
	KindParse
	KindContract
)

func (k ErrorKind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindParse:
		return "parse"
	case KindContract:
		return "contract"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// GrammarLoadError is the error returned by LoadGrammar.
type GrammarLoadError struct {
	Path string
	Kind ErrorKind
	Err  error
}

func (e *GrammarLoadError) Error() string {
	return fmt.Sprintf("failed to load grammar %s: %v", e.Path, e.Err)
}

func (e *GrammarLoadError) Unwrap() error { return e.Err }

// PieceError reports a vocabulary that answered the retry with a size other
// than the one it asked for.
type PieceError struct {
	Token     vocab.Token
	Requested int
	Reported  int
}

func (e *PieceError) Error() string {
	return fmt.Sprintf("%v: token %d requested %d bytes, retry reported %d",
		ErrPieceSizeMismatch, e.Token, e.Requested, e.Reported)
}

func (e *PieceError) Unwrap() error { return ErrPieceSizeMismatch }

// KindOf returns the kind of a GrammarLoadError or PieceError anywhere in
// err's chain, or 0.
func KindOf(err error) ErrorKind {
	var gerr *GrammarLoadError
	if errors.As(err, &gerr) {
		return gerr.Kind
	}
	var perr *PieceError
	if errors.As(err, &perr) {
		return KindContract
	}
	return 0
}

func grammarError(path string, kind ErrorKind, sentinel, cause error) error {
	err := sentinel
	if cause != nil {
		err = fmt.Errorf("%w: %w", sentinel, cause)
	}
	return &GrammarLoadError{Path: path, Kind: kind, Err: err}
}
