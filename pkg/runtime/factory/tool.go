package factory

import (
	"context"
	"errors"
	"strings"

	"github.com/cexll/subagentsdk/pkg/runtime/subagents"
	"github.com/cexll/subagentsdk/pkg/tool"
)

// Input is the payload accepted by every agent.<name> tool.
type Input struct {
	Message string `json:"message" jsonschema:"description=Task for the subagent"`
	Context string `json:"context,omitempty" jsonschema:"description=Optional supporting context"`
}

// Output is carried in ToolResult.Data.
type Output struct {
	Content   string               `json:"content"`
	ToolCalls []subagents.ToolCall `json:"toolCalls,omitempty"`
	Metrics   subagents.Metrics    `json:"metrics"`
}

var inputSchema = tool.SchemaFor[Input]()

type agentTool struct {
	factory     *Factory
	name        string
	toolName    string
	description string
}

func (t *agentTool) Name() string        { return t.toolName }
func (t *agentTool) Description() string { return t.description }

func (t *agentTool) Schema() *tool.JSONSchema { return inputSchema }

func (t *agentTool) Execute(ctx context.Context, params map[string]interface{}) (*tool.ToolResult, error) {
	message, _ := params["message"].(string)
	if strings.TrimSpace(message) == "" {
		return nil, errors.New("message is required")
	}
	contextText, _ := params["context"].(string)

	res, err := t.factory.Invoke(ctx, t.name, message, contextText)
	if err != nil {
		return nil, err
	}
	out := Output{
		Content:   res.Output,
		ToolCalls: res.ToolCalls,
		Metrics:   res.Metrics,
	}
	text := res.Output
	if !res.Success && res.Error != "" && text == "" {
		text = res.Error
	}
	return &tool.ToolResult{Success: res.Success, Output: text, Data: out}, nil
}
