package cli

import (
	"fmt"
	"io"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"llamaglue/vocab"
)

func (a *app) openVocab() (*vocab.Table, error) {
	if a.cfg.Vocab == "" {
		return nil, fmt.Errorf("no vocabulary: set --vocab or vocab in the config file")
	}
	v, err := vocab.Open(a.cfg.Vocab)
	if err != nil {
		return nil, err
	}
	a.logger.Debug("vocabulary loaded", "path", a.cfg.Vocab, "kind", v.Kind(), "tokens", v.NumTokens())
	return v, nil
}

// openNativeVocab loads a tokenizer.json with the HuggingFace tokenizers
// library. It is nil unless the binary is built with the tokenizers tag.
var openNativeVocab func(path string) (vocab.Vocabulary, io.Closer, error)

// openRenderer returns the vocabulary piece rendering goes through: the native
// tokenizer when native_tokenizer is set, the built-in table otherwise. The
// returned func releases it.
func (a *app) openRenderer() (vocab.Vocabulary, func(), error) {
	if !a.cfg.NativeTokenizer {
		v, err := a.openVocab()
		return v, func() {}, err
	}
	if openNativeVocab == nil {
		return nil, nil, fmt.Errorf("native tokenizer: binary built without the tokenizers tag")
	}
	if a.cfg.Vocab == "" {
		return nil, nil, fmt.Errorf("no vocabulary: set --vocab or vocab in the config file")
	}
	v, closer, err := openNativeVocab(a.cfg.Vocab)
	if err != nil {
		return nil, nil, err
	}
	a.logger.Debug("native tokenizer loaded", "path", a.cfg.Vocab, "tokens", v.NumTokens())
	return v, func() {
		if err := closer.Close(); err != nil {
			a.logger.Warn("failed to release tokenizer", "error", err)
		}
	}, nil
}

func newPieceCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "piece TOKEN...",
		Short: "Render token ids to text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, release, err := a.openRenderer()
			if err != nil {
				return err
			}
			defer release()
			for _, arg := range args {
				id, err := strconv.ParseInt(arg, 10, 32)
				if err != nil {
					return fmt.Errorf("invalid token %q: %w", arg, err)
				}
				piece, err := a.rt.TokenToPiece(v, vocab.Token(id))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%q\n", id, piece)
			}
			return nil
		},
	}
}

func newVocabCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vocab",
		Short: "Inspect a vocabulary",
	}
	cmd.AddCommand(newVocabDumpCommand(a))
	return cmd
}

func newVocabDumpCommand(a *app) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "List token ids, types and rendered pieces",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := a.openVocab()
			if err != nil {
				return err
			}

			n := v.NumTokens()
			if limit > 0 && limit < n {
				n = limit
			}

			var bar *progressbar.ProgressBar
			if !a.cfg.Quiet {
				bar = progressbar.NewOptions(n,
					progressbar.OptionSetWriter(cmd.ErrOrStderr()),
					progressbar.OptionSetDescription("Rendering"),
					progressbar.OptionSetWidth(40),
					progressbar.OptionShowCount(),
					progressbar.OptionShowIts(),
					progressbar.OptionSetTheme(progressbar.Theme{
						Saucer:        "=",
						SaucerHead:    ">",
						SaucerPadding: " ",
						BarStart:      "[",
						BarEnd:        "]",
					}),
				)
			}

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"ID", "Type", "Text", "Piece"})
			for id := 0; id < n; id++ {
				token := vocab.Token(id)
				piece, err := a.rt.TokenToPiece(v, token)
				if err != nil {
					return err
				}
				text, _ := v.Text(token)
				t.AppendRow(table.Row{id, v.Type(token), text, strconv.Quote(piece)})
				if bar != nil {
					_ = bar.Add(1)
				}
			}
			if bar != nil {
				_ = bar.Finish()
				fmt.Fprintln(cmd.ErrOrStderr())
			}
			t.Render()
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Only dump the first N tokens")
	return cmd
}
