package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"llamaglue/llamaglue"
	"llamaglue/vocab"
)

const jsonGrammar = `# a small JSON subset
root   ::= object
object ::= "{" ws ( pair ( "," ws pair )* )? "}" ws
pair   ::= string ":" ws value
value  ::= string | number | object
string ::= "\"" [^"\\]* "\"" ws
number ::= "-"? [0-9]+ ws
ws     ::= [ \t\n]*
`

func main() {
	// Grammar dumps go to stderr by default
	rt := llamaglue.New(llamaglue.NewConfig())
	defer rt.Close()

	fmt.Println("System info:")
	fmt.Println(rt.SystemInfo())
	fmt.Println()

	// A tiny SentencePiece-style vocabulary
	table, err := vocab.NewTable(vocab.KindSPM,
		[]string{"<unk>", "<s>", "</s>", "▁Hello", "▁wonderfully", "▁structured", "▁world", "<0x21>"},
		[]vocab.TokenType{
			vocab.TypeUnknown, vocab.TypeControl, vocab.TypeControl,
			vocab.TypeNormal, vocab.TypeNormal, vocab.TypeNormal, vocab.TypeNormal,
			vocab.TypeByte,
		})
	if err != nil {
		log.Fatalf("Failed to build vocabulary: %v", err)
	}

	tokens := []vocab.Token{1, 3, 4, 5, 6, 7, 2}
	for _, tok := range tokens {
		piece, err := rt.TokenToPiece(table, tok)
		if err != nil {
			log.Fatalf("Failed to render token %d: %v", tok, err)
		}
		fmt.Printf("token %d -> %q\n", tok, piece)
	}
	text, err := rt.Detokenize(table, tokens)
	if err != nil {
		log.Fatalf("Detokenize failed: %v", err)
	}
	fmt.Printf("text: %q\n\n", text)

	dir, err := os.MkdirTemp("", "llamaglue-example")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "json.gbnf")
	if err := os.WriteFile(path, []byte(jsonGrammar), 0o644); err != nil {
		log.Fatal(err)
	}

	g, err := rt.LoadGrammar(path)
	if err != nil {
		log.Fatalf("Grammar load failed (%s): %v", llamaglue.KindOf(err), err)
	}
	fmt.Printf("grammar: %d rules, %d initial stacks\n", g.NumRules(), len(g.Stacks()))

	if _, err := rt.LoadGrammar(filepath.Join(dir, "missing.gbnf")); err != nil {
		fmt.Printf("missing file: %s error: %v\n", llamaglue.KindOf(err), err)
	}
}
