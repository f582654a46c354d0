package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cexll/subagentsdk/pkg/config"
	"github.com/cexll/subagentsdk/pkg/core/events"
	"github.com/cexll/subagentsdk/pkg/delegation"
	"github.com/cexll/subagentsdk/pkg/logging"
	"github.com/cexll/subagentsdk/pkg/model"
	"github.com/cexll/subagentsdk/pkg/router"
	"github.com/cexll/subagentsdk/pkg/runtime/factory"
	"github.com/cexll/subagentsdk/pkg/runtime/subagents"
	"github.com/cexll/subagentsdk/pkg/telemetry"
)

// app is the assembled runtime shared by every command.
type app struct {
	settings   *config.Settings
	loader     *subagents.Loader
	registry   *subagents.Registry
	factory    *factory.Factory
	router     *router.Router
	dispatcher *delegation.Dispatcher
	shutdown   telemetry.ShutdownFunc
}

func newApp(ctx context.Context, s *config.Settings, logOut io.Writer) (*app, error) {
	logging.Init(logging.Config{
		Level:  logging.ParseLevel(s.Log.Level),
		Output: logOut,
		Pretty: s.Log.Pretty,
	})

	tp, shutdown, err := telemetry.Setup(ctx, telemetry.Config{
		Endpoint:    s.Telemetry.Endpoint,
		Insecure:    s.Telemetry.Insecure,
		ServiceName: s.Telemetry.ServiceName,
		SampleRatio: s.Telemetry.SampleRatio,
		Global:      true,
	})
	if err != nil {
		return nil, err
	}

	exec, err := newExecutor(s.Model)
	if err != nil {
		_ = shutdown(ctx)
		return nil, err
	}

	f := factory.New(nil, exec,
		factory.WithDelegation(s.Delegation.Enabled),
		factory.WithDefaultTimeout(s.Delegation.DefaultTimeout),
		factory.WithTracerProvider(tp),
		factory.WithNotifier(logEvent),
	)
	for _, endpoint := range s.MCPServers {
		names, err := f.Tools().RegisterMCPServer(ctx, endpoint)
		if err != nil {
			_ = f.Tools().Close()
			_ = shutdown(ctx)
			return nil, fmt.Errorf("mcp server %s: %w", endpoint, err)
		}
		logging.With("cli").Debug().Str("server", endpoint).Strs("tools", names).Msg("mcp tools registered")
	}

	reg := subagents.NewRegistry(f)
	reg.Subscribe(logEvent)

	home, _ := os.UserHomeDir()
	loader := subagents.NewLoader(s.ResolveSearchPaths(home)...)
	if _, err := reg.Reload(loader); err != nil {
		_ = f.Tools().Close()
		_ = shutdown(ctx)
		return nil, err
	}

	routerOpts, err := s.RouterOptions()
	if err != nil {
		_ = f.Tools().Close()
		_ = shutdown(ctx)
		return nil, err
	}

	return &app{
		settings:   s,
		loader:     loader,
		registry:   reg,
		factory:    f,
		router:     router.New(reg, routerOpts...),
		dispatcher: delegation.NewDispatcher(f, delegation.WithConcurrency(s.Delegation.Concurrency)),
		shutdown:   shutdown,
	}, nil
}

func (a *app) Close(ctx context.Context) {
	if err := a.factory.Tools().Close(); err != nil {
		logging.With("cli").Warn().Err(err).Msg("mcp disconnect")
	}
	if err := a.shutdown(ctx); err != nil {
		logging.With("cli").Warn().Err(err).Msg("telemetry shutdown")
	}
}

// newExecutor registers the offline echo model plus every provider with a key.
// model.* settings describe the selected provider; others fall back to their
// *_API_KEY environment variable.
func newExecutor(mc config.ModelConfig) (*model.Executor, error) {
	selected := strings.ToLower(strings.TrimSpace(mc.Provider))
	if selected == "" {
		selected = "echo"
	}
	opts := []model.ExecutorOption{model.WithProvider("echo", model.Echo{})}
	available := map[string]bool{"echo": true}

	settingsFor := func(provider string) (key, baseURL, name string) {
		key = os.Getenv(strings.ToUpper(provider) + "_API_KEY")
		if provider == selected {
			if strings.TrimSpace(mc.APIKey) != "" {
				key = mc.APIKey
			}
			return key, mc.BaseURL, mc.Name
		}
		return key, "", ""
	}

	if key, baseURL, name := settingsFor("anthropic"); key != "" {
		m, err := model.NewAnthropic(model.AnthropicConfig{
			APIKey: key, BaseURL: baseURL, Model: name,
			MaxTokens: mc.MaxTokens, MaxRetries: mc.MaxRetries,
		})
		if err != nil {
			return nil, err
		}
		opts = append(opts, model.WithProvider("anthropic", m))
		available["anthropic"] = true
	}
	if key, baseURL, name := settingsFor("openai"); key != "" {
		m, err := model.NewOpenAI(model.OpenAIConfig{
			APIKey: key, BaseURL: baseURL, Model: name,
			MaxTokens: mc.MaxTokens, MaxRetries: mc.MaxRetries,
		})
		if err != nil {
			return nil, err
		}
		opts = append(opts, model.WithProvider("openai", m))
		available["openai"] = true
	}

	if !available[selected] {
		return nil, fmt.Errorf("model.provider %s needs model.api_key or %s_API_KEY", selected, strings.ToUpper(selected))
	}
	return model.NewExecutor(selected, opts...), nil
}

func logEvent(evt events.Event) {
	log := logging.With("events")
	switch p := evt.Payload.(type) {
	case events.SubagentStartPayload:
		log.Debug().Str("subagent", p.Name).Str("agent_id", p.AgentID).Str("chain_id", p.ChainID).Int("depth", p.Depth).Msg("subagent started")
	case events.SubagentStopPayload:
		ev := log.Debug()
		if p.Err != nil {
			ev = log.Warn().Err(p.Err)
		}
		ev.Str("subagent", p.Name).Str("agent_id", p.AgentID).Dur("duration", p.Duration).Msg("subagent stopped")
	case events.RegistrationPayload:
		log.Debug().Str("type", string(evt.Type)).Str("subagent", p.Name).Str("tool", p.ToolName).Msg("registry changed")
	case events.ReloadPayload:
		log.Info().Strs("added", p.Added).Strs("removed", p.Removed).Msg("subagents reloaded")
	}
}
