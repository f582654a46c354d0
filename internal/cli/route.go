package cli

import (
	"fmt"
	"strings"

	"github.com/cexll/subagentsdk/pkg/router"
	"github.com/spf13/cobra"
)

func newRouteCmd(opts *rootOptions) *cobra.Command {
	var rc router.RouteContext
	cmd := &cobra.Command{
		Use:   "route <message>",
		Short: "Show which subagents a message would be delegated to",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.app(cmd)
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())

			message := strings.Join(args, " ")
			decision, reqs := a.router.Plan(message, &rc)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "strategy: %s\n", decision.Strategy)
			fmt.Fprintf(out, "delegate: %t\n", decision.ShouldDelegate)
			if decision.Primary != nil {
				fmt.Fprintf(out, "primary:  %s (%.2f)\n", decision.Primary.Subagent, decision.Primary.Confidence)
			}
			for i, c := range decision.Candidates {
				fmt.Fprintf(out, "  %d. %-24s %.2f  %s\n", i+1, c.Subagent, c.Confidence, c.Reason)
			}
			for _, req := range reqs {
				fmt.Fprintf(out, "-> %s [%d/%d]\n", req.Target, req.Metadata.Rank, req.Metadata.Total)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&rc.Complexity, "complexity", 0, "task complexity checked against rule max_complexity")
	cmd.Flags().StringVar(&rc.Context, "context", "", "extra context forwarded with each delegation")
	return cmd
}
