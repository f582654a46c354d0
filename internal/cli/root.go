// Package cli implements the subagents command line.
package cli

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/cexll/subagentsdk/pkg/config"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Version is stamped at build time.
var Version = "dev"

type rootOptions struct {
	cfgFile string
	root    string
	v       *viper.Viper
}

// NewRootCmd builds a fresh command tree. Each tree owns its viper instance.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{v: viper.New()}

	cmd := &cobra.Command{
		Use:   "subagents",
		Short: "Declarative subagents: load, route and run specialised agents",
		Long: `subagents loads subagent definitions from .claude/agents (YAML or Markdown
with front matter), exposes each one as an agent.<name> tool, and routes
requests to the best matching subagents.

Example:
  subagents list
  subagents route "review this code for security issues"
  subagents run --agent code-reviewer "check main.go"
  subagents serve`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
	}
	cmd.SetVersionTemplate("{{.Name}} {{.Version}}\n")

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.cfgFile, "config", "", "config file (default is .claude/subagents.yaml)")
	pf.StringVar(&opts.root, "root", ".", "project root containing .claude/agents")
	pf.String("log-level", "info", "log level: debug, info, warn, error")
	pf.Bool("include-user", true, "also load ~/.claude/agents")
	_ = opts.v.BindPFlag("log.level", pf.Lookup("log-level"))
	_ = opts.v.BindPFlag("include_user", pf.Lookup("include-user"))

	cmd.AddCommand(
		newListCmd(opts),
		newValidateCmd(opts),
		newRouteCmd(opts),
		newRunCmd(opts),
		newServeCmd(opts),
	)
	return cmd
}

// Execute runs the command tree.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

func (o *rootOptions) settings() (*config.Settings, error) {
	// .env never overrides variables already set.
	_ = godotenv.Load(filepath.Join(o.root, ".env"))

	s, err := (&config.SettingsLoader{ProjectRoot: o.root, ConfigFile: o.cfgFile, Viper: o.v}).Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return s, nil
}

func (o *rootOptions) app(cmd *cobra.Command) (*app, error) {
	s, err := o.settings()
	if err != nil {
		return nil, err
	}
	return newApp(cmd.Context(), s, cmd.ErrOrStderr())
}
