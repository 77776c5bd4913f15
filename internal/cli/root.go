// Package cli provides the llamaglue command-line interface.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"llamaglue/internal/config"
	"llamaglue/internal/logging"
	"llamaglue/llamaglue"
)

// Version is set at build time.
var Version = "0.1.0"

// app carries the state PersistentPreRunE resolves for subcommands.
type app struct {
	cfgFile string
	cfg     *config.Config
	logger  *slog.Logger
	rt      *llamaglue.Runtime
}

// diagnostics is where grammar dumps go: stderr unless quiet.
func (a *app) diagnostics(cmd *cobra.Command) io.Writer {
	if a.cfg.Quiet {
		return io.Discard
	}
	return cmd.ErrOrStderr()
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	a.cfg = cfg

	logger, err := logging.New(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	a.logger = logger
	if cfg.FileUsed != "" {
		logger.Debug("using config file", "path", cfg.FileUsed)
	}

	a.rt = llamaglue.New(llamaglue.NewConfig(
		llamaglue.WithLogger(logger),
		llamaglue.WithDiagnostics(a.diagnostics(cmd)),
		llamaglue.WithAccelerator(cfg.OnnxruntimeLib),
	))
	return nil
}

// NewRootCmd creates and returns the root command.
func NewRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "llamaglue",
		Short: "Inspect CPU features, vocabularies and grammars",
		Long: `llamaglue exercises the runtime boundary: it reports CPU features,
renders vocabulary tokens to text and loads GBNF grammars.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
				return nil
			}
			return a.setup(cmd)
		},
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			if a.rt == nil {
				return nil
			}
			return a.rt.Close()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (default: ./llamaglue.yaml)")
	pf.String("log-level", config.DefaultLogLevel, "Log level (debug|info|warn|error)")
	pf.String("log-format", config.DefaultLogFormat, "Log format (text|json)")
	pf.String("vocab", "", "Vocabulary: GGUF model, tokenizer.json or its directory")
	pf.Bool("native-tokenizer", false, "Render pieces with the HuggingFace tokenizers library (tokenizers build tag)")
	pf.String("grammar-dir", ".", "Directory searched by grammar check when no paths are given")
	pf.String("grammar-glob", config.DefaultGrammarGlob, "Pattern grammar files must match")
	pf.Duration("cache-ttl", config.DefaultCacheTTL, "How long loaded grammars stay cached")
	pf.String("onnxruntime-lib", "", "onnxruntime shared library probed for BLAS support")
	pf.BoolP("quiet", "q", false, "Do not dump grammars to stderr")

	_ = rootCmd.RegisterFlagCompletionFunc("log-format", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"text", "json"}, cobra.ShellCompDirectiveNoFileComp
	})

	rootCmd.AddCommand(newSysinfoCommand(a))
	rootCmd.AddCommand(newPieceCommand(a))
	rootCmd.AddCommand(newVocabCommand(a))
	rootCmd.AddCommand(newGrammarCommand(a))

	return rootCmd
}

// Execute runs the root command. Long-running commands stop when ctx is done.
func Execute(ctx context.Context) error {
	rootCmd := NewRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}
