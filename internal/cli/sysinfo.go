package cli

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func newSysinfoCommand(a *app) *cobra.Command {
	var asTable bool

	cmd := &cobra.Command{
		Use:   "sysinfo",
		Short: "Print the CPU feature string",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := cmd.OutOrStdout()
			if !asTable {
				_, err := fmt.Fprintln(w, a.rt.SystemInfo())
				return err
			}

			t := table.NewWriter()
			t.SetOutputMirror(w)
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"Feature", "Supported"})
			for _, f := range a.rt.Features().Flags() {
				v := 0
				if f.Value {
					v = 1
				}
				t.AppendRow(table.Row{f.Name, v})
			}
			t.Render()
			return nil
		},
	}
	cmd.Flags().BoolVar(&asTable, "table", false, "Render the flags as a table")
	return cmd
}
