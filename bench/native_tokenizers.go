//go:build tokenizers

package main

import "llamaglue/vocab"

func init() {
	openNative = func(path string) (nativeVocab, error) {
		return vocab.NewHFTokenizers(path)
	}
}
