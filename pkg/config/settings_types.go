// Package config loads runtime settings for the subagent runtime from a YAML
// file, SUBAGENTS_* environment variables and defaults.
package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/cexll/subagentsdk/pkg/runtime/subagents"
)

// Settings is the full runtime configuration.
type Settings struct {
	ProjectRoot string             `mapstructure:"project_root"` // Base for relative search paths.
	SearchPaths []SearchPathConfig `mapstructure:"search_paths"` // Empty means <root>/.claude/agents.
	IncludeUser bool               `mapstructure:"include_user"` // Also scan ~/.claude/agents when SearchPaths is empty.
	Router      RouterConfig       `mapstructure:"router"`
	Delegation  DelegationConfig   `mapstructure:"delegation"`
	Watch       WatchConfig        `mapstructure:"watch"`
	Log         LogConfig          `mapstructure:"log"`
	Telemetry   TelemetryConfig    `mapstructure:"telemetry"`
	Model       ModelConfig        `mapstructure:"model"`
	MCPServers  []string           `mapstructure:"mcp_servers"` // URLs or stdio command lines whose tools subagents may use.
}

// SearchPathConfig is one directory of definition files.
type SearchPathConfig struct {
	Dir   string `mapstructure:"dir"`
	Scope string `mapstructure:"scope"`
}

// RouterConfig tunes the delegation router.
type RouterConfig struct {
	ConfidenceThreshold float64      `mapstructure:"confidence_threshold"`
	MaxFanout           int          `mapstructure:"max_fanout"`
	Parallel            bool         `mapstructure:"parallel"`
	DisableDefaultRules bool         `mapstructure:"disable_default_rules"`
	Rules               []RuleConfig `mapstructure:"rules"`
}

// RuleConfig declares a routing rule. Exactly one of Literal and Regex is set.
type RuleConfig struct {
	Name          string   `mapstructure:"name"`
	Literal       string   `mapstructure:"literal"`
	Regex         string   `mapstructure:"regex"`
	Targets       []string `mapstructure:"targets"`
	Confidence    float64  `mapstructure:"confidence"`
	RequiredTools []string `mapstructure:"required_tools"`
	MaxComplexity int      `mapstructure:"max_complexity"`
	MinConfidence float64  `mapstructure:"min_confidence"`
}

// DelegationConfig controls the factory and the fan-out dispatcher.
type DelegationConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Concurrency    int           `mapstructure:"concurrency"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// WatchConfig controls hot reload of definition files.
type WatchConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Debounce time.Duration `mapstructure:"debounce"`
}

// LogConfig configures pkg/logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// TelemetryConfig configures OTLP trace export. An empty endpoint disables it.
type TelemetryConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	Insecure    bool    `mapstructure:"insecure"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// ModelConfig picks the executor backing subagents in the CLI. Per-subagent
// model and model_provider fields override Provider and Name.
type ModelConfig struct {
	Provider   string `mapstructure:"provider"`
	Name       string `mapstructure:"name"`
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	MaxTokens  int    `mapstructure:"max_tokens"`
	MaxRetries int    `mapstructure:"max_retries"`
}

// ResolveSearchPaths turns the configured directories into loader search
// paths. Relative directories are resolved against ProjectRoot.
func (s *Settings) ResolveSearchPaths(home string) []subagents.SearchPath {
	root := s.ProjectRoot
	if root == "" {
		root = "."
	}
	if len(s.SearchPaths) == 0 {
		if !s.IncludeUser {
			home = ""
		}
		return subagents.DefaultSearchPaths(root, home)
	}
	out := make([]subagents.SearchPath, 0, len(s.SearchPaths))
	for _, sp := range s.SearchPaths {
		dir := strings.TrimSpace(sp.Dir)
		if strings.HasPrefix(dir, "~/") && home != "" {
			dir = filepath.Join(home, dir[2:])
		} else if !filepath.IsAbs(dir) {
			dir = filepath.Join(root, dir)
		}
		out = append(out, subagents.SearchPath{Dir: dir, Scope: subagents.Scope(sp.Scope)})
	}
	return out
}
