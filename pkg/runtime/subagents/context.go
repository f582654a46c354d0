package subagents

import (
	"context"
	"time"

	"github.com/cexll/subagentsdk/pkg/tool"
)

// Context is one execution instance of a subagent.
type Context struct {
	ID          string
	Config      *Config
	Input       string
	ContextText string
	// Tools is the global tool set filtered by the config's allow/block lists.
	Tools    []tool.Tool
	Metadata Metadata

	// Delegate is set only when delegation is enabled on the factory. It
	// re-enters the recursion-guarded invocation path of the target.
	Delegate DelegateFunc
}

// Metadata describes where an invocation sits in its call chain.
type Metadata struct {
	StartTime      time.Time
	RecursionDepth int
	Delegated      bool
	ParentID       string
	ChainID        string
}

// DelegateFunc invokes another registered subagent by name.
type DelegateFunc func(ctx context.Context, target, message, contextText string) (*Result, error)

// Result is what an executor returns for a single invocation.
type Result struct {
	Success   bool
	Output    string
	ToolCalls []ToolCall
	Metrics   Metrics
	Error     string
}

// ToolCall captures a tool execution performed by the subagent.
type ToolCall struct {
	Name     string
	Params   map[string]any
	Output   any
	Error    string
	Duration time.Duration
}

// Metrics summarises cost and effort of an invocation.
type Metrics struct {
	Duration  time.Duration
	Tokens    int
	ToolCalls int
}

// Executor runs a subagent. It is the boundary to model invocation.
type Executor interface {
	Execute(ctx context.Context, sc *Context) (*Result, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, sc *Context) (*Result, error)

// Execute implements Executor.
func (fn ExecutorFunc) Execute(ctx context.Context, sc *Context) (*Result, error) {
	return fn(ctx, sc)
}
