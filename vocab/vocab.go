// Package vocab renders vocabulary tokens into text.
//
// A Vocabulary follows the runtime's size-negotiation convention: the caller
// passes a buffer, and a piece that does not fit is reported as the negated
// size it needs.
package vocab

import (
	"fmt"
	"strconv"
	"strings"
)

// Token is a vocabulary token identifier.
type Token int32

// Vocabulary is the token rendering surface of an inference runtime.
type Vocabulary interface {
	// TokenToPiece writes the text of token into buf and returns the number
	// of bytes written. If buf is too small nothing is written and the
	// negated required size is returned. Tokens the vocabulary does not
	// render (control tokens, ids out of range) produce 0.
	TokenToPiece(token Token, buf []byte) int

	// NumTokens returns the vocabulary size.
	NumTokens() int
}

// TokenType classifies a vocabulary entry. Values match the GGUF
// tokenizer.ggml.token_type encoding.
type TokenType int32

const (
	TypeUndefined   TokenType = 0
	TypeNormal      TokenType = 1
	TypeUnknown     TokenType = 2
	TypeControl     TokenType = 3
	TypeUserDefined TokenType = 4
	TypeUnused      TokenType = 5
	TypeByte        TokenType = 6
)

func (t TokenType) String() string {
	switch t {
	case TypeNormal:
		return "normal"
	case TypeUnknown:
		return "unknown"
	case TypeControl:
		return "control"
	case TypeUserDefined:
		return "user_defined"
	case TypeUnused:
		return "unused"
	case TypeByte:
		return "byte"
	default:
		return "undefined"
	}
}

// Kind selects how token text is turned back into bytes.
type Kind int

const (
	// KindSPM is a SentencePiece vocabulary: "▁" stands for a space and raw
	// bytes are spelled <0xXX>.
	KindSPM Kind = iota
	// KindBPE is a byte-level BPE vocabulary using the GPT-2 byte-to-unicode table.
	KindBPE
)

func (k Kind) String() string {
	if k == KindBPE {
		return "bpe"
	}
	return "spm"
}

// ParseKind maps a tokenizer model name to a Kind.
func ParseKind(model string) (Kind, error) {
	switch strings.ToLower(model) {
	case "llama", "spm", "sentencepiece", "unigram":
		return KindSPM, nil
	case "gpt2", "bpe":
		return KindBPE, nil
	default:
		return KindSPM, fmt.Errorf("unsupported tokenizer model %q", model)
	}
}

const (
	spaceMarker  = "▁"
	unknownPiece = "▅"
)

// Table is an in-memory vocabulary.
type Table struct {
	kind   Kind
	tokens []string
	types  []TokenType
	bos    Token
	eos    Token
}

// NewTable creates a vocabulary from token texts and their types. A nil types
// slice marks every token as normal.
func NewTable(kind Kind, tokens []string, types []TokenType) (*Table, error) {
	if types == nil {
		types = make([]TokenType, len(tokens))
		for i := range types {
			types[i] = TypeNormal
		}
	}
	if len(types) != len(tokens) {
		return nil, fmt.Errorf("token types length %d does not match %d tokens", len(types), len(tokens))
	}
	return &Table{
		kind:   kind,
		tokens: tokens,
		types:  types,
		bos:    -1,
		eos:    -1,
	}, nil
}

// SetSpecial records the BOS and EOS token ids (-1 if absent).
func (t *Table) SetSpecial(bos, eos Token) {
	t.bos = bos
	t.eos = eos
}

// Kind returns the vocabulary kind.
func (t *Table) Kind() Kind { return t.kind }

// BOS returns the beginning-of-sequence token, or -1.
func (t *Table) BOS() Token { return t.bos }

// EOS returns the end-of-sequence token, or -1.
func (t *Table) EOS() Token { return t.eos }

// NumTokens returns the vocabulary size.
func (t *Table) NumTokens() int { return len(t.tokens) }

// Text returns the raw vocabulary entry for token.
func (t *Table) Text(token Token) (string, bool) {
	if token < 0 || int(token) >= len(t.tokens) {
		return "", false
	}
	return t.tokens[token], true
}

// Type returns the type of token.
func (t *Table) Type(token Token) TokenType {
	if token < 0 || int(token) >= len(t.types) {
		return TypeUndefined
	}
	return t.types[token]
}

// TokenToPiece implements Vocabulary.
func (t *Table) TokenToPiece(token Token, buf []byte) int {
	piece, ok := t.piece(token)
	if !ok || len(piece) == 0 {
		return 0
	}
	if len(buf) < len(piece) {
		return -len(piece)
	}
	return copy(buf, piece)
}

func (t *Table) piece(token Token) (string, bool) {
	text, ok := t.Text(token)
	if !ok {
		return "", false
	}

	switch t.Type(token) {
	case TypeNormal, TypeUserDefined:
		if t.kind == KindBPE {
			return decodeByteLevel(text), true
		}
		return strings.ReplaceAll(text, spaceMarker, " "), true
	case TypeUnknown:
		if t.kind == KindSPM {
			return unknownPiece, true
		}
	case TypeByte:
		if b, ok := parseByteToken(text); ok {
			return string([]byte{b}), true
		}
	}
	return "", true
}

// parseByteToken decodes an SPM byte token such as "<0x0A>".
func parseByteToken(text string) (byte, bool) {
	if len(text) != 6 || !strings.HasPrefix(text, "<0x") || text[5] != '>' {
		return 0, false
	}
	v, err := strconv.ParseUint(text[3:5], 16, 8)
	if err != nil {
		return 0, false
	}
	return byte(v), true
}

// classify guesses a token type from its text for formats that carry none.
func classify(text string, special bool) TokenType {
	if special {
		return TypeControl
	}
	if _, ok := parseByteToken(text); ok {
		return TypeByte
	}
	return TypeNormal
}
