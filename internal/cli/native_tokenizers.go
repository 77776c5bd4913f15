//go:build tokenizers

package cli

import (
	"io"
	"os"
	"path/filepath"

	"llamaglue/vocab"
)

func init() {
	openNativeVocab = func(path string) (vocab.Vocabulary, io.Closer, error) {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			path = filepath.Join(path, "tokenizer.json")
		}
		tk, err := vocab.NewHFTokenizers(path)
		if err != nil {
			return nil, nil, err
		}
		return tk, tk, nil
	}
}
