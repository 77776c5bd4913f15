package cli

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/gobwas/glob"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"llamaglue/grammar"
	"llamaglue/llamaglue"
)

func newGrammarCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grammar",
		Short: "Load, check and print GBNF grammars",
	}
	cmd.AddCommand(newGrammarCheckCommand(a))
	cmd.AddCommand(newGrammarPrintCommand(a))
	cmd.AddCommand(newGrammarWatchCommand(a))
	return cmd
}

// grammarPaths returns args, or every file under grammar_dir whose relative
// path or base name matches grammar_glob.
func (a *app) grammarPaths(args []string) ([]string, error) {
	if len(args) > 0 {
		return args, nil
	}

	g, err := glob.Compile(a.cfg.GrammarGlob, '/')
	if err != nil {
		return nil, fmt.Errorf("invalid grammar_glob %q: %w", a.cfg.GrammarGlob, err)
	}

	var paths []string
	root := a.cfg.GrammarDir
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if g.Match(filepath.ToSlash(rel)) || g.Match(d.Name()) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", root, err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no grammars matching %q in %s", a.cfg.GrammarGlob, root)
	}
	sort.Strings(paths)
	return paths, nil
}

type checkResult struct {
	path  string
	rules int
	err   error
}

func (r checkResult) status() string {
	if r.err == nil {
		return "ok"
	}
	if kind := llamaglue.KindOf(r.err); kind != 0 {
		return kind.String()
	}
	return "error"
}

func checkAll(cache *llamaglue.GrammarCache, paths []string) ([]checkResult, int) {
	results := make([]checkResult, 0, len(paths))
	failed := 0
	for _, path := range paths {
		res := checkResult{path: path}
		g, err := cache.Get(path)
		if err != nil {
			res.err = err
			failed++
		} else {
			res.rules = g.NumRules()
		}
		results = append(results, res)
	}
	return results, failed
}

func renderResults(cmd *cobra.Command, results []checkResult) {
	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Grammar", "Result", "Rules", "Error"})
	for _, r := range results {
		msg := ""
		if r.err != nil {
			msg = r.err.Error()
		}
		t.AppendRow(table.Row{r.path, r.status(), r.rules, msg})
	}
	t.Render()
}

func (a *app) runCheck(cmd *cobra.Command, args []string, watch bool) error {
	paths, err := a.grammarPaths(args)
	if err != nil {
		return err
	}

	cache := llamaglue.NewGrammarCache(a.rt, a.cfg.CacheTTL)
	defer cache.Close()

	results, failed := checkAll(cache, paths)
	renderResults(cmd, results)

	if !watch {
		if failed > 0 {
			return fmt.Errorf("%d of %d grammars failed to load", failed, len(paths))
		}
		return nil
	}
	return a.watchGrammars(cmd.Context(), cmd, cache, paths)
}

func (a *app) watchGrammars(ctx context.Context, cmd *cobra.Command, cache *llamaglue.GrammarCache, paths []string) error {
	changed := make(chan string, 16)
	if err := cache.Watch(func(path string) {
		select {
		case changed <- path:
		default:
		}
	}, paths...); err != nil {
		return err
	}
	a.logger.Info("watching grammars", "count", len(paths))

	for {
		select {
		case <-ctx.Done():
			return nil
		case path := <-changed:
			if _, err := os.Stat(path); err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\tremoved\n", path)
				continue
			}
			results, _ := checkAll(cache, []string{path})
			r := results[0]
			if r.err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%v\n", r.path, r.status(), r.err)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\tok\t%d rules\n", r.path, r.rules)
			}
		}
	}
}

func newGrammarCheckCommand(a *app) *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "check [PATH...]",
		Short: "Load grammars and report the result of each",
		Long: `Load each grammar the way the runtime does. Without arguments every
file under grammar_dir matching grammar_glob is checked.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runCheck(cmd, args, watch || a.cfg.Watch)
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Keep running and recheck grammars when they change")
	return cmd
}

func newGrammarWatchCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch [PATH...]",
		Short: "Check grammars, then recheck them whenever they change",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runCheck(cmd, args, true)
		},
	}
}

func newGrammarPrintCommand(_ *app) *cobra.Command {
	return &cobra.Command{
		Use:   "print PATH",
		Short: "Parse a grammar and print its rules, including generated ones",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			state, err := grammar.Parse(src)
			if err != nil {
				return err
			}
			return grammar.Print(cmd.OutOrStdout(), state)
		},
	}
}
