package vocab

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeByteLevel(t *testing.T) {
	assert.Equal(t, " the", decodeByteLevel("Ġthe"))
	assert.Equal(t, "\n", decodeByteLevel("Ċ"))
	assert.Equal(t, "\x00", decodeByteLevel("Ā"))
	assert.Equal(t, "\xad", decodeByteLevel("Ń"))
	// printable Latin-1 stands for its own byte, not its UTF-8 form
	assert.Equal(t, "\xe9", decodeByteLevel("é"))
	// runes past the alphabet are kept
	assert.Equal(t, "日本", decodeByteLevel("日本"))
}

func TestByteLevelCoversEveryByte(t *testing.T) {
	seen := make(map[byte]bool)
	for _, e := range byteLevel {
		if e != 0 {
			seen[byte(e)] = true
		}
	}
	assert.Len(t, seen, 256)
}
