package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cexll/subagentsdk/pkg/delegation"
	"github.com/cexll/subagentsdk/pkg/router"
	"github.com/spf13/cobra"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	var (
		agent string
		rc    router.RouteContext
	)
	cmd := &cobra.Command{
		Use:   "run <message>",
		Short: "Run a message through one subagent or the router",
		Long: `Run a message. With --agent the named subagent handles it directly;
otherwise the router picks one or more subagents and their answers are
combined.

Examples:
  subagents run --agent code-reviewer "check main.go"
  subagents run "write tests for the parser"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.app(cmd)
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())

			message := strings.Join(args, " ")
			out := cmd.OutOrStdout()

			if agent != "" {
				res, err := a.factory.Delegate(cmd.Context(), agent, message, rc.Context)
				if err != nil {
					return err
				}
				if !res.Success {
					return errors.New(res.Error)
				}
				fmt.Fprintln(out, res.Output)
				return nil
			}

			decision, reqs := a.router.Plan(message, &rc)
			if !decision.ShouldDelegate || len(reqs) == 0 {
				return fmt.Errorf("no subagent matched %q", message)
			}
			results := a.dispatcher.Dispatch(cmd.Context(), reqs)
			var errs []error
			for _, r := range results {
				if r.Err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", r.Target, r.Err))
				} else if !r.Success {
					errs = append(errs, fmt.Errorf("%s: %s", r.Target, r.Error))
				}
			}
			combined := delegation.Combine(results)
			if combined == "" {
				return errors.Join(errs...)
			}
			fmt.Fprintln(out, combined)
			return nil
		},
	}
	cmd.Flags().StringVar(&agent, "agent", "", "subagent to run, bypassing the router")
	cmd.Flags().StringVar(&rc.Context, "context", "", "extra context passed to the subagent")
	cmd.Flags().IntVar(&rc.Complexity, "complexity", 0, "task complexity checked against rule max_complexity")
	return cmd
}
