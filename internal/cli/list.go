package cli

import (
	"fmt"
	"strings"

	"github.com/cexll/subagentsdk/pkg/runtime/subagents"
	"github.com/spf13/cobra"
)

func newListCmd(opts *rootOptions) *cobra.Command {
	var (
		scope string
		tags  []string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered subagents",
		Long: `List the subagents loaded from the search paths.

Examples:
  subagents list
  subagents list --scope user
  subagents list --tag review`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.app(cmd)
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())

			cfgs := a.registry.List(subagents.Filter{Scope: subagents.Scope(scope), Tags: tags})
			out := cmd.OutOrStdout()
			if len(cfgs) == 0 {
				fmt.Fprintln(out, "No subagents found.")
				return nil
			}
			fmt.Fprintf(out, "%-24s %-8s %-30s %s\n", "NAME", "SCOPE", "TOOL", "DESCRIPTION")
			fmt.Fprintln(out, strings.Repeat("-", 90))
			for _, cfg := range cfgs {
				fmt.Fprintf(out, "%-24s %-8s %-30s %s\n", cfg.Name, cfg.EffectiveScope(), cfg.ToolName(), cfg.Description)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&scope, "scope", "", "only show project or user subagents")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "only show subagents carrying every tag")
	return cmd
}
