// Package model adapts LLM providers into subagent executors.
package model

import (
	"context"
	"strings"
)

// Message is one turn of a provider-neutral conversation.
type Message struct {
	Role      string // system, user, assistant or tool
	Content   string
	ToolCalls []ToolCall
}

// ToolCall is a model request to run a tool. On tool messages only ID is used.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// ToolDefinition advertises a tool to the model.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Request is a single completion request.
type Request struct {
	System    string
	Messages  []Message
	Tools     []ToolDefinition
	Model     string
	MaxTokens int
}

// Usage counts tokens for one completion.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// Response is the model's reply.
type Response struct {
	Message    Message
	Usage      Usage
	StopReason string
}

// Model completes a request.
type Model interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// ModelFunc adapts a function to Model.
type ModelFunc func(ctx context.Context, req Request) (*Response, error)

func (fn ModelFunc) Complete(ctx context.Context, req Request) (*Response, error) {
	return fn(ctx, req)
}

// Echo replies with the last user message. It backs the offline "echo"
// provider used by the CLI and tests.
type Echo struct{}

func (Echo) Complete(_ context.Context, req Request) (*Response, error) {
	var last string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			last = req.Messages[i].Content
			break
		}
	}
	return &Response{
		Message:    Message{Role: "assistant", Content: strings.TrimSpace(last)},
		StopReason: "end_turn",
	}, nil
}
