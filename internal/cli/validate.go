package cli

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/cexll/subagentsdk/pkg/runtime/subagents"
	"github.com/spf13/cobra"
)

func newValidateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [file...]",
		Short: "Validate subagent definition files",
		Long: `Validate subagent definitions without registering them.

Without arguments every file under the search paths is checked as one batch,
including duplicate names. With arguments only the given files are checked.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if len(args) > 0 {
				var errs []error
				for _, path := range args {
					cfg, err := subagents.LoadFile(path, subagents.ScopeProject)
					if err != nil {
						fmt.Fprintf(out, "FAIL %s\n", path)
						errs = append(errs, err)
						continue
					}
					fmt.Fprintf(out, "ok   %s (%s)\n", cfg.Name, path)
				}
				return errors.Join(errs...)
			}

			s, err := opts.settings()
			if err != nil {
				return err
			}
			home, _ := os.UserHomeDir()
			cfgs, err := subagents.NewLoader(s.ResolveSearchPaths(home)...).LoadAll()
			if err != nil {
				return err
			}
			names := make([]string, 0, len(cfgs))
			for name := range cfgs {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintf(out, "ok   %s (%s)\n", name, cfgs[name].SourcePath)
			}
			fmt.Fprintf(out, "%d subagent definition(s) valid\n", len(names))
			return nil
		},
	}
}
