package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/cexll/subagentsdk/pkg/logging"
	"github.com/cexll/subagentsdk/pkg/mcpserver"
	"github.com/cexll/subagentsdk/pkg/runtime/subagents"
	"github.com/spf13/cobra"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var (
		sseAddr string
		watch   bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve agent.* tools over MCP",
		Long: `Serve every registered subagent as an MCP tool. Speaks stdio by default,
or SSE when --sse is set. With --watch, edits under the search paths are
picked up without a restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.app(cmd)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())
			ctx := cmd.Context()
			log := logging.With("cli")

			srv := mcpserver.New(a.registry, a.factory.Tools(), mcpserver.WithImplementation("subagents", Version))
			defer srv.Close()

			if watch || a.settings.Watch.Enabled {
				w, err := subagents.NewWatcher(a.registry, a.loader,
					subagents.WithDebounce(a.settings.Watch.Debounce),
					subagents.OnError(func(err error) { log.Warn().Err(err).Msg("reload failed") }),
				)
				if err != nil {
					return err
				}
				if _, err := w.Start(ctx); err != nil {
					return err
				}
				defer w.Close()
			}

			if sseAddr == "" {
				return srv.ServeStdio(ctx, os.Stdin, os.Stdout)
			}

			sse := srv.SSE(fmt.Sprintf("http://%s", sseAddr))
			errCh := make(chan error, 1)
			go func() { errCh <- sse.Start(sseAddr) }()
			log.Info().Str("addr", sseAddr).Msg("serving MCP over SSE")

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return sse.Shutdown(shutdownCtx)
			}
		},
	}
	cmd.Flags().StringVar(&sseAddr, "sse", "", "listen address for the SSE transport, e.g. localhost:8080")
	cmd.Flags().BoolVar(&watch, "watch", false, "reload definitions when files change")
	return cmd
}
