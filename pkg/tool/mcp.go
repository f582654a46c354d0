package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	mcpClientName    = "subagents"
	mcpClientVersion = "0.1.0"
	mcpDialTimeout   = 10 * time.Second
)

// mcpSession is the subset of *mcp.ClientSession the registry needs.
type mcpSession interface {
	ListTools(ctx context.Context, params *mcp.ListToolsParams) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, params *mcp.CallToolParams) (*mcp.CallToolResult, error)
	Close() error
}

// RegisterMCPServer discovers tools exposed by an MCP server and registers them
// so subagents can list them in allowed_tools. endpoint accepts either an http(s)
// URL (SSE transport) or a stdio command line.
func (r *Registry) RegisterMCPServer(ctx context.Context, endpoint string) ([]string, error) {
	transport, err := buildMCPTransport(endpoint)
	if err != nil {
		return nil, err
	}
	return r.RegisterMCPTransport(ctx, transport)
}

// RegisterMCPTransport connects over transport and registers every tool the
// server lists. Nothing is registered when any tool name collides.
func (r *Registry) RegisterMCPTransport(ctx context.Context, transport mcp.Transport) ([]string, error) {
	opCtx, cancel := context.WithTimeout(ctx, mcpDialTimeout)
	defer cancel()

	client := mcp.NewClient(&mcp.Implementation{Name: mcpClientName, Version: mcpClientVersion}, nil)
	session, err := client.Connect(opCtx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("connect MCP server: %w", err)
	}
	names, err := r.registerMCPSession(opCtx, session)
	if err != nil {
		_ = session.Close()
		return nil, err
	}
	return names, nil
}

func (r *Registry) registerMCPSession(ctx context.Context, session mcpSession) ([]string, error) {
	listed, err := session.ListTools(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("list MCP tools: %w", err)
	}
	if len(listed.Tools) == 0 {
		return nil, errors.New("MCP server returned no tools")
	}

	wrappers := make([]Tool, 0, len(listed.Tools))
	for _, desc := range listed.Tools {
		if desc == nil || strings.TrimSpace(desc.Name) == "" {
			return nil, errors.New("encountered MCP tool with empty name")
		}
		if r.Has(desc.Name) {
			return nil, fmt.Errorf("tool %s already registered", desc.Name)
		}
		schema, err := convertMCPSchema(desc.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("parse schema for %s: %w", desc.Name, err)
		}
		wrappers = append(wrappers, &remoteTool{
			name:        desc.Name,
			description: desc.Description,
			schema:      schema,
			session:     session,
		})
	}

	names := make([]string, 0, len(wrappers))
	for _, t := range wrappers {
		if err := r.Register(t); err != nil {
			for _, name := range names {
				r.Unregister(name)
			}
			return nil, err
		}
		names = append(names, t.Name())
	}

	r.mu.Lock()
	r.mcpSessions = append(r.mcpSessions, session)
	r.mu.Unlock()
	return names, nil
}

// Close disconnects every MCP session opened by RegisterMCPServer.
func (r *Registry) Close() error {
	r.mu.Lock()
	sessions := r.mcpSessions
	r.mcpSessions = nil
	r.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func buildMCPTransport(endpoint string) (mcp.Transport, error) {
	endpoint = strings.TrimSpace(endpoint)
	switch {
	case endpoint == "":
		return nil, errors.New("server path is empty")
	case strings.HasPrefix(endpoint, "http://"), strings.HasPrefix(endpoint, "https://"):
		return &mcp.SSEClientTransport{Endpoint: endpoint}, nil
	default:
		endpoint = strings.TrimPrefix(endpoint, "stdio://")
		parts := strings.Fields(endpoint)
		if len(parts) == 0 {
			return nil, errors.New("invalid stdio server path")
		}
		return &mcp.CommandTransport{Command: exec.Command(parts[0], parts[1:]...)}, nil
	}
}

func convertMCPSchema(raw any) (*JSONSchema, error) {
	if raw == nil {
		return nil, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var generic map[string]interface{}
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, err
	}
	schema := &JSONSchema{}
	schema.Type, _ = generic["type"].(string)
	if props, ok := generic["properties"].(map[string]interface{}); ok {
		schema.Properties = props
	}
	if req, ok := generic["required"].([]interface{}); ok {
		for _, value := range req {
			if name, ok := value.(string); ok {
				schema.Required = append(schema.Required, name)
			}
		}
	}
	return schema, nil
}

// remoteTool forwards execution to an MCP server.
type remoteTool struct {
	name        string
	description string
	schema      *JSONSchema
	session     mcpSession
}

func (t *remoteTool) Name() string        { return t.name }
func (t *remoteTool) Description() string { return t.description }
func (t *remoteTool) Schema() *JSONSchema { return t.schema }

func (t *remoteTool) Execute(ctx context.Context, params map[string]interface{}) (*ToolResult, error) {
	if params == nil {
		params = map[string]interface{}{}
	}
	res, err := t.session.CallTool(ctx, &mcp.CallToolParams{Name: t.name, Arguments: params})
	if err != nil {
		return nil, err
	}
	var parts []string
	for _, c := range res.Content {
		if text, ok := c.(*mcp.TextContent); ok {
			parts = append(parts, text.Text)
		}
	}
	return &ToolResult{Success: !res.IsError, Output: strings.Join(parts, "\n"), Data: res.StructuredContent}, nil
}
