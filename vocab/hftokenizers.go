//go:build tokenizers

package vocab

import (
	"fmt"

	"github.com/daulet/tokenizers"
)

// HFTokenizers renders pieces through the HuggingFace tokenizers library.
// It needs libtokenizers.a at link time, hence the build tag.
type HFTokenizers struct {
	tk *tokenizers.Tokenizer
}

// NewHFTokenizers loads a tokenizer.json with the native tokenizers library.
func NewHFTokenizers(path string) (*HFTokenizers, error) {
	tk, err := tokenizers.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer: %w", err)
	}
	return &HFTokenizers{tk: tk}, nil
}

// TokenToPiece implements Vocabulary.
func (h *HFTokenizers) TokenToPiece(token Token, buf []byte) int {
	if token < 0 || int(token) >= h.NumTokens() {
		return 0
	}
	piece := h.tk.Decode([]uint32{uint32(token)}, true)
	if len(buf) < len(piece) {
		return -len(piece)
	}
	return copy(buf, piece)
}

// NumTokens implements Vocabulary.
func (h *HFTokenizers) NumTokens() int {
	return int(h.tk.VocabSize())
}

// Close releases the native tokenizer.
func (h *HFTokenizers) Close() error {
	return h.tk.Close()
}
