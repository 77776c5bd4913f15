//go:build !tokenizers

package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPieceNativeTokenizerUnavailable(t *testing.T) {
	_, _, err := run(t, "piece", "--native-tokenizer", "--vocab", "tokenizer.json", "1")
	assert.ErrorContains(t, err, "tokenizers tag")
}
