// Package subagents holds the declarative subagent model: configuration files,
// their validation and discovery, and the registry of live subagents.
package subagents

import (
	"maps"
	"slices"
	"time"
)

// Scope records where a subagent definition lives.
type Scope string

const (
	ScopeProject Scope = "project"
	ScopeUser    Scope = "user"
)

const (
	// ToolPrefix namespaces every materialized subagent in the tool set.
	ToolPrefix = "agent."

	DefaultMaxRecursion = 3
	MaxRecursionCeiling = 10
	DefaultTimeout      = 5 * time.Minute
)

// Config describes one subagent. It is treated as immutable once registered;
// the registry hands out clones.
type Config struct {
	Name           string         `yaml:"name"`
	Version        string         `yaml:"version,omitempty"`
	Description    string         `yaml:"description"`
	Scope          Scope          `yaml:"scope,omitempty"`
	AllowedTools   []string       `yaml:"allowed_tools,omitempty"`
	BlockedTools   []string       `yaml:"blocked_tools,omitempty"`
	Model          string         `yaml:"model,omitempty"`
	ModelProvider  string         `yaml:"model_provider,omitempty"`
	ModelConfig    map[string]any `yaml:"model_config,omitempty"`
	ParallelFanout bool           `yaml:"parallel_fanout,omitempty"`
	AutoDelegate   bool           `yaml:"auto_delegate,omitempty"`
	// MaxRecursion is nil when the file omits it; RecursionLimit applies the default.
	MaxRecursion     *int     `yaml:"max_recursion,omitempty"`
	ContextIsolation bool     `yaml:"context_isolation,omitempty"`
	ContextWindow    int      `yaml:"context_window,omitempty"`
	MemoryEnabled    bool     `yaml:"memory_enabled,omitempty"`
	TimeoutMS        int      `yaml:"timeout_ms,omitempty"`
	MaxTokens        int      `yaml:"max_tokens,omitempty"`
	Tags             []string `yaml:"tags,omitempty"`
	Author           string   `yaml:"author,omitempty"`
	Created          string   `yaml:"created,omitempty"`
	Modified         string   `yaml:"modified,omitempty"`

	// Instructions carries the Markdown body of a .md definition.
	Instructions string `yaml:"-"`
	// SourcePath is the file the config was loaded from, empty for programmatic configs.
	SourcePath string `yaml:"-"`
}

// ToolName returns the stable identifier of the materialized tool.
func (c *Config) ToolName() string {
	return ToolName(c.Name)
}

// ToolName builds the agent.<name> identifier.
func ToolName(name string) string {
	return ToolPrefix + name
}

// EffectiveScope returns the declared scope, or project when none was set.
func (c *Config) EffectiveScope() Scope {
	if c == nil || c.Scope == "" {
		return ScopeProject
	}
	return c.Scope
}

// RecursionLimit returns max_recursion, defaulting to 3.
func (c *Config) RecursionLimit() int {
	if c == nil || c.MaxRecursion == nil {
		return DefaultMaxRecursion
	}
	return *c.MaxRecursion
}

// Timeout converts timeout_ms into a duration, defaulting to five minutes.
func (c *Config) Timeout() time.Duration {
	if c == nil || c.TimeoutMS <= 0 {
		return DefaultTimeout
	}
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// HasTag reports whether the config carries tag.
func (c *Config) HasTag(tag string) bool {
	return slices.Contains(c.Tags, tag)
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	cp := *c
	cp.AllowedTools = slices.Clone(c.AllowedTools)
	cp.BlockedTools = slices.Clone(c.BlockedTools)
	cp.Tags = slices.Clone(c.Tags)
	if c.ModelConfig != nil {
		cp.ModelConfig = maps.Clone(c.ModelConfig)
	}
	if c.MaxRecursion != nil {
		v := *c.MaxRecursion
		cp.MaxRecursion = &v
	}
	return &cp
}

// IntPtr is a small helper for building configs in code.
func IntPtr(v int) *int { return &v }
