package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cexll/subagentsdk/pkg/logging"
	"github.com/cexll/subagentsdk/pkg/runtime/subagents"
	"github.com/cexll/subagentsdk/pkg/tool"
)

const defaultMaxTurns = 8

// Executor runs a subagent as a tool-calling loop against a Model. The model
// only sees the tools materialized into the invocation's Context.
type Executor struct {
	models   map[string]Model
	fallback string
	maxTurns int
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithProvider registers a model under a provider name such as "anthropic".
func WithProvider(name string, m Model) ExecutorOption {
	return func(e *Executor) {
		if m != nil {
			e.models[strings.ToLower(strings.TrimSpace(name))] = m
		}
	}
}

// WithMaxTurns bounds model round trips per invocation.
func WithMaxTurns(n int) ExecutorOption {
	return func(e *Executor) {
		if n > 0 {
			e.maxTurns = n
		}
	}
}

// NewExecutor uses fallback for configs that name no provider.
func NewExecutor(fallback string, opts ...ExecutorOption) *Executor {
	e := &Executor{
		models:   map[string]Model{},
		fallback: strings.ToLower(strings.TrimSpace(fallback)),
		maxTurns: defaultMaxTurns,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

func (e *Executor) modelFor(cfg *subagents.Config) (Model, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.ModelProvider))
	if provider == "" {
		provider = e.fallback
	}
	m, ok := e.models[provider]
	if !ok {
		return nil, fmt.Errorf("model: provider %q is not configured", provider)
	}
	return m, nil
}

// Execute implements subagents.Executor.
func (e *Executor) Execute(ctx context.Context, sc *subagents.Context) (*subagents.Result, error) {
	if sc == nil || sc.Config == nil {
		return nil, errors.New("model: subagent context is nil")
	}
	m, err := e.modelFor(sc.Config)
	if err != nil {
		return nil, err
	}

	byName := make(map[string]tool.Tool, len(sc.Tools))
	defs := make([]ToolDefinition, 0, len(sc.Tools))
	for _, t := range sc.Tools {
		def := toolDefinition(t)
		byName[def.Name] = t
		defs = append(defs, def)
	}

	req := Request{
		System:    systemPrompt(sc.Config),
		Messages:  []Message{{Role: "user", Content: userPrompt(sc)}},
		Tools:     defs,
		Model:     sc.Config.Model,
		MaxTokens: sc.Config.MaxTokens,
	}

	log := logging.With("model").With().Str("subagent", sc.Config.Name).Str("agent_id", sc.ID).Logger()
	res := &subagents.Result{}
	for turn := 0; turn < e.maxTurns; turn++ {
		resp, err := m.Complete(ctx, req)
		if err != nil {
			return nil, err
		}
		res.Metrics.Tokens += resp.Usage.TotalTokens
		req.Messages = append(req.Messages, resp.Message)

		if len(resp.Message.ToolCalls) == 0 {
			res.Success = true
			res.Output = resp.Message.Content
			return res, nil
		}

		for _, call := range resp.Message.ToolCalls {
			text, record := runToolCall(ctx, byName, call)
			res.ToolCalls = append(res.ToolCalls, record)
			req.Messages = append(req.Messages, Message{
				Role:      "tool",
				Content:   text,
				ToolCalls: []ToolCall{{ID: call.ID}},
			})
		}
		log.Debug().Int("turn", turn).Int("tool_calls", len(resp.Message.ToolCalls)).Msg("tool turn finished")
	}
	res.Error = fmt.Sprintf("model: stopped after %d turns without a final answer", e.maxTurns)
	return res, nil
}

func runToolCall(ctx context.Context, tools map[string]tool.Tool, call ToolCall) (string, subagents.ToolCall) {
	start := time.Now()
	record := subagents.ToolCall{Name: call.Name, Params: call.Arguments}
	t, ok := tools[call.Name]
	if ok {
		record.Name = t.Name()
	} else {
		record.Error = fmt.Sprintf("tool %s is not available to this subagent", call.Name)
		record.Duration = time.Since(start)
		return "error: " + record.Error, record
	}
	out, err := t.Execute(ctx, call.Arguments)
	record.Duration = time.Since(start)
	if err != nil {
		record.Error = err.Error()
		return "error: " + err.Error(), record
	}
	if out == nil {
		return "", record
	}
	record.Output = out.Output
	if !out.Success {
		return "error: " + out.Output, record
	}
	return out.Output, record
}

// wireName maps a tool name onto the [A-Za-z0-9_-] alphabet providers accept,
// so agent.reviewer is advertised as agent_reviewer.
func wireName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, name)
}

func toolDefinition(t tool.Tool) ToolDefinition {
	def := ToolDefinition{Name: wireName(t.Name()), Description: t.Description()}
	if schema := t.Schema(); schema != nil {
		def.Parameters = map[string]any{"type": schema.Type}
		if len(schema.Properties) > 0 {
			def.Parameters["properties"] = schema.Properties
		}
		if len(schema.Required) > 0 {
			def.Parameters["required"] = schema.Required
		}
	}
	return def
}

func systemPrompt(cfg *subagents.Config) string {
	if s := strings.TrimSpace(cfg.Instructions); s != "" {
		return s
	}
	return fmt.Sprintf("You are %s. %s", cfg.Name, cfg.Description)
}

func userPrompt(sc *subagents.Context) string {
	if strings.TrimSpace(sc.ContextText) == "" {
		return sc.Input
	}
	return sc.Input + "\n\n<context>\n" + sc.ContextText + "\n</context>"
}
