package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"

	"llamaglue/llamaglue"
	"llamaglue/vocab"
)

func main() {
	numTokens := flag.Int("tokens", 32000, "vocabulary size")
	numDecodes := flag.Int("decodes", 1_000_000, "number of TokenToPiece calls")
	longShare := flag.Float64("long", 0.1, "share of pieces longer than the first buffer")
	vocabPath := flag.String("vocab", "", "benchmark a real vocabulary instead of a synthetic one")
	native := flag.Bool("native", false, "decode -vocab with the HuggingFace tokenizers library (tokenizers build tag)")
	flag.Parse()

	fmt.Println("llamaglue token decode benchmark")
	fmt.Println("================================")
	fmt.Println()

	var (
		table vocab.Vocabulary
		kind  string
	)
	switch {
	case *native:
		if openNative == nil {
			log.Fatal("-native needs a binary built with the tokenizers tag")
		}
		if *vocabPath == "" {
			log.Fatal("-native needs -vocab")
		}
		tk, err := openNative(*vocabPath)
		if err != nil {
			log.Fatalf("Failed to load tokenizer: %v", err)
		}
		defer tk.Close()
		table, kind = tk, "native"
	default:
		var t *vocab.Table
		var err error
		if *vocabPath != "" {
			t, err = vocab.Open(*vocabPath)
		} else {
			t, err = syntheticVocab(*numTokens, *longShare)
		}
		if err != nil {
			log.Fatalf("Failed to load vocabulary: %v", err)
		}
		table, kind = t, t.Kind().String()
	}

	fmt.Printf("Configuration:\n")
	fmt.Printf("  Vocabulary: %d tokens (%s)\n", table.NumTokens(), kind)
	fmt.Printf("  Decodes: %d\n", *numDecodes)
	fmt.Println()

	rt := llamaglue.New(llamaglue.NewConfig(llamaglue.WithDiagnostics(io.Discard)))
	defer rt.Close()

	ids := make([]vocab.Token, *numDecodes)
	for i := range ids {
		ids[i] = vocab.Token(rand.Intn(table.NumTokens()))
	}

	bar := progressbar.NewOptions(len(ids),
		progressbar.OptionSetDescription("Decoding"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)

	startTime := time.Now()
	totalBytes := 0
	for _, id := range ids {
		piece, err := rt.TokenToPiece(table, id)
		if err != nil {
			log.Fatalf("Decode failed: %v", err)
		}
		totalBytes += len(piece)
		_ = bar.Add(1)
	}
	elapsed := time.Since(startTime).Seconds()
	_ = bar.Finish()

	fmt.Println()
	fmt.Println("Benchmark Results:")
	fmt.Println("==================")
	fmt.Printf("Decoded bytes: %d\n", totalBytes)
	fmt.Printf("Time elapsed: %.2f seconds\n", elapsed)
	fmt.Printf("Throughput: %.0f tokens/sec\n", float64(len(ids))/elapsed)
	fmt.Printf("Average latency: %.1f ns/token\n", elapsed*1e9/float64(len(ids)))
}

// openNative is set by builds with the tokenizers tag.
var openNative func(path string) (nativeVocab, error)

type nativeVocab interface {
	vocab.Vocabulary
	Close() error
}

// syntheticVocab builds an SPM vocabulary where longShare of the pieces do
// not fit the first decode buffer.
func syntheticVocab(n int, longShare float64) (*vocab.Table, error) {
	tokens := make([]string, n)
	for i := range tokens {
		length := 1 + rand.Intn(6)
		if rand.Float64() < longShare {
			length = 9 + rand.Intn(16)
		}
		tokens[i] = "▁" + strings.Repeat(string(rune('a'+i%26)), length)
	}
	return vocab.NewTable(vocab.KindSPM, tokens, nil)
}
