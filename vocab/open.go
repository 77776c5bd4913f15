package vocab

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Open loads a vocabulary from a GGUF model file, a tokenizer.json file, or a
// directory holding tokenizer.json.
func Open(path string) (*Table, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open vocabulary: %w", err)
	}
	if info.IsDir() || strings.EqualFold(filepath.Ext(path), ".json") {
		return LoadTokenizerJSON(path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open vocabulary: %w", err)
	}
	defer f.Close()

	magic := make([]byte, len(ggufMagic))
	if _, err := io.ReadFull(f, magic); err != nil || string(magic) != ggufMagic {
		return nil, fmt.Errorf("%s: %w", path, ErrNotGGUF)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return ReadGGUF(f)
}
