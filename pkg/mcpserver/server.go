// Package mcpserver exposes materialized subagent tools over the Model Context
// Protocol so external agents can delegate to them.
package mcpserver

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/cexll/subagentsdk/pkg/core/events"
	"github.com/cexll/subagentsdk/pkg/logging"
	"github.com/cexll/subagentsdk/pkg/runtime/subagents"
	"github.com/cexll/subagentsdk/pkg/tool"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const (
	defaultName    = "subagents"
	defaultVersion = "0.1.0"
)

// Server mirrors the agent.* tools of a registry into an MCP server. Tools
// appear and disappear as subagents are registered, unregistered or reloaded.
type Server struct {
	mcp   *server.MCPServer
	tools *tool.Registry

	mu        sync.Mutex
	published map[string]struct{}
	cancel    func()
}

type options struct {
	name    string
	version string
}

// Option configures a Server.
type Option func(*options)

// WithImplementation overrides the name and version reported on initialize.
func WithImplementation(name, version string) Option {
	return func(o *options) {
		if strings.TrimSpace(name) != "" {
			o.name = name
		}
		if strings.TrimSpace(version) != "" {
			o.version = version
		}
	}
}

// New publishes every subagent already in reg and follows later changes.
// tools must be the registry the factory materializes into.
func New(reg *subagents.Registry, tools *tool.Registry, opts ...Option) *Server {
	o := options{name: defaultName, version: defaultVersion}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	s := &Server{
		mcp:       server.NewMCPServer(o.name, o.version, server.WithToolCapabilities(true)),
		tools:     tools,
		published: map[string]struct{}{},
	}
	s.cancel = reg.Subscribe(s.handle)
	for _, name := range reg.ToolNames() {
		s.publish(name)
	}
	return s
}

// MCP returns the underlying server for custom transports.
func (s *Server) MCP() *server.MCPServer { return s.mcp }

// Published lists the tool names currently exposed.
func (s *Server) Published() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.published))
	for name := range s.published {
		out = append(out, name)
	}
	return out
}

// ServeStdio speaks MCP over the given streams until ctx ends or in closes.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	return server.NewStdioServer(s.mcp).Listen(ctx, in, out)
}

// SSE returns an SSE transport bound to baseURL, e.g. http://localhost:8080.
func (s *Server) SSE(baseURL string) *server.SSEServer {
	return server.NewSSEServer(s.mcp, server.WithBaseURL(baseURL))
}

// Close stops following the registry.
func (s *Server) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Server) handle(evt events.Event) {
	p, ok := evt.Payload.(events.RegistrationPayload)
	if !ok {
		return
	}
	switch evt.Type {
	case events.SubagentRegistered:
		s.publish(p.ToolName)
	case events.SubagentUnregistered:
		s.retract(p.ToolName)
	}
}

func (s *Server) publish(toolName string) {
	t, err := s.tools.Get(toolName)
	if err != nil {
		logging.With("mcpserver").Warn().Err(err).Str("tool", toolName).Msg("tool not materialized")
		return
	}
	def := mcp.Tool{
		Name:        t.Name(),
		Description: t.Description(),
		InputSchema: mcp.ToolInputSchema{Type: "object"},
	}
	if schema := t.Schema(); schema != nil {
		def.InputSchema.Properties = schema.Properties
		def.InputSchema.Required = schema.Required
	}
	s.mcp.AddTool(def, s.handler(toolName))

	s.mu.Lock()
	s.published[toolName] = struct{}{}
	s.mu.Unlock()
	logging.With("mcpserver").Debug().Str("tool", toolName).Msg("tool published")
}

func (s *Server) retract(toolName string) {
	s.mu.Lock()
	_, ok := s.published[toolName]
	delete(s.published, toolName)
	s.mu.Unlock()
	if ok {
		s.mcp.DeleteTools(toolName)
	}
}

func (s *Server) handler(toolName string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		res, err := s.tools.Execute(ctx, toolName, req.GetArguments())
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if !res.Success {
			return mcp.NewToolResultError(res.Output), nil
		}
		return mcp.NewToolResultText(res.Output), nil
	}
}
