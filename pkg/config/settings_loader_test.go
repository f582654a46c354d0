package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cexll/subagentsdk/pkg/router"
	"github.com/cexll/subagentsdk/pkg/runtime/subagents"
	"github.com/stretchr/testify/require"
)

func writeSettings(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func TestLoadDefaults(t *testing.T) {
	root := t.TempDir()
	s, err := (&SettingsLoader{ProjectRoot: root}).Load()
	require.NoError(t, err)

	require.Equal(t, root, s.ProjectRoot)
	require.Equal(t, 0.5, s.Router.ConfidenceThreshold)
	require.Equal(t, 3, s.Router.MaxFanout)
	require.True(t, s.Router.Parallel)
	require.True(t, s.Delegation.Enabled)
	require.Equal(t, 4, s.Delegation.Concurrency)
	require.Equal(t, 5*time.Minute, s.Delegation.DefaultTimeout)
	require.Equal(t, 150*time.Millisecond, s.Watch.Debounce)
	require.Equal(t, "info", s.Log.Level)
	require.Equal(t, "echo", s.Model.Provider)
}

func TestLoadLayersProjectLocalAndEnv(t *testing.T) {
	root := t.TempDir()
	writeSettings(t, filepath.Join(root, ".claude", "subagents.yaml"), `
router:
  max_fanout: 5
  confidence_threshold: 0.3
  rules:
    - name: release
      literal: release
      targets: [deployment]
      confidence: 0.9
search_paths:
  - dir: agents
    scope: project
delegation:
  default_timeout: 30s
`)
	writeSettings(t, filepath.Join(root, ".claude", "subagents.local.yaml"), `
router:
  max_fanout: 2
log:
  level: debug
`)
	t.Setenv("SUBAGENTS_DELEGATION_CONCURRENCY", "9")

	s, err := (&SettingsLoader{ProjectRoot: root}).Load()
	require.NoError(t, err)
	require.Equal(t, 2, s.Router.MaxFanout, "local overrides project")
	require.Equal(t, 0.3, s.Router.ConfidenceThreshold, "project value survives local merge")
	require.Equal(t, "debug", s.Log.Level)
	require.Equal(t, 9, s.Delegation.Concurrency)
	require.Equal(t, 30*time.Second, s.Delegation.DefaultTimeout)
	require.Len(t, s.Router.Rules, 1)
	require.Equal(t, []string{"deployment"}, s.Router.Rules[0].Targets)

	paths := s.ResolveSearchPaths("/home/me")
	require.Equal(t, []subagents.SearchPath{{Dir: filepath.Join(root, "agents"), Scope: subagents.ScopeProject}}, paths)
}

func TestLoadExplicitFileMustExist(t *testing.T) {
	_, err := (&SettingsLoader{ProjectRoot: t.TempDir(), ConfigFile: filepath.Join(t.TempDir(), "nope.yaml")}).Load()
	require.Error(t, err)
	require.Contains(t, err.Error(), "load explicit settings")
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	root := t.TempDir()
	cfg := filepath.Join(root, "bad.yaml")
	writeSettings(t, cfg, `
router:
  max_fanout: 0
  rules:
    - name: broken
      regex: "("
      targets: [x]
      confidence: 0.5
model:
  provider: carrier-pigeon
`)
	_, err := (&SettingsLoader{ProjectRoot: root, ConfigFile: cfg}).Load()
	require.Error(t, err)
	msg := err.Error()
	require.Contains(t, msg, "router.max_fanout must be >= 1")
	require.Contains(t, msg, "router.rules[0]: compile regex")
	require.Contains(t, msg, `model.provider "carrier-pigeon" is not supported`)
}

func TestResolveSearchPathsDefaults(t *testing.T) {
	s := &Settings{ProjectRoot: "/work", IncludeUser: true}
	require.Equal(t, subagents.DefaultSearchPaths("/work", "/home/me"), s.ResolveSearchPaths("/home/me"))

	s.IncludeUser = false
	require.Equal(t, subagents.DefaultSearchPaths("/work", ""), s.ResolveSearchPaths("/home/me"))

	s.SearchPaths = []SearchPathConfig{{Dir: "~/agents", Scope: "user"}, {Dir: "/abs"}}
	require.Equal(t, []subagents.SearchPath{
		{Dir: filepath.Join("/home/me", "agents"), Scope: subagents.ScopeUser},
		{Dir: "/abs"},
	}, s.ResolveSearchPaths("/home/me"))
}

func TestRouterOptions(t *testing.T) {
	s := &Settings{Router: RouterConfig{
		ConfidenceThreshold: 0.5,
		MaxFanout:           3,
		Parallel:            true,
		DisableDefaultRules: true,
		Rules: []RuleConfig{
			{Name: "ship", Literal: "ship", Targets: []string{"deployment"}, Confidence: 1},
		},
	}}
	opts, err := s.RouterOptions()
	require.NoError(t, err)
	r := router.New(nil, opts...)
	require.Len(t, r.Rules(), 1)
	require.Equal(t, "deployment", r.Route("ship it", nil).Candidates[0].Subagent)

	s.Router.DisableDefaultRules = false
	opts, err = s.RouterOptions()
	require.NoError(t, err)
	require.Len(t, router.New(nil, opts...).Rules(), len(router.DefaultRules())+1)
}

func TestRuleConfigValidation(t *testing.T) {
	_, err := RuleConfig{Name: "x", Targets: []string{"a"}, Confidence: 0.5}.Rule()
	require.ErrorContains(t, err, "literal or regex is required")

	_, err = RuleConfig{Name: "x", Literal: "a", Regex: "a", Targets: []string{"a"}, Confidence: 0.5}.Rule()
	require.ErrorContains(t, err, "not both")

	_, err = RuleConfig{Name: "x", Literal: "a", Confidence: 0.5}.Rule()
	require.Error(t, err)

	rule, err := RuleConfig{Name: "x", Regex: `(?i)deploy`, Targets: []string{"a"}, Confidence: 0.5, RequiredTools: []string{"bash"}}.Rule()
	require.NoError(t, err)
	require.Equal(t, router.PatternRegex, rule.Pattern.Kind())
	require.Equal(t, []string{"bash"}, rule.Conditions.Tools)
}

func TestValidateSettingsAggregates(t *testing.T) {
	require.Error(t, ValidateSettings(nil))

	err := ValidateSettings(&Settings{
		SearchPaths: []SearchPathConfig{{Dir: " ", Scope: "global"}},
		Router: RouterConfig{
			ConfidenceThreshold: 1.5,
			MaxFanout:           1,
			Rules: []RuleConfig{
				{Name: "dup", Literal: "a", Targets: []string{"x"}, Confidence: 0.5},
				{Name: "dup", Literal: "b", Targets: []string{"y"}, Confidence: 0.5},
			},
		},
		Delegation: DelegationConfig{Concurrency: 0},
		Log:        LogConfig{Level: "verbose"},
		Telemetry:  TelemetryConfig{SampleRatio: 2},
		MCPServers: []string{"stdio://grep-server", "  "},
	})
	require.Error(t, err)
	for _, want := range []string{
		"search_paths[0].dir is required",
		`search_paths[0].scope "global" is not supported`,
		"router.confidence_threshold must be within [0,1]",
		`router.rules[1]: duplicate name "dup"`,
		"delegation.concurrency must be >= 1",
		`log.level "verbose" is not supported`,
		"telemetry.sample_ratio must be within [0,1]",
		"mcp_servers[1] is empty",
	} {
		require.Contains(t, err.Error(), want)
	}
}
