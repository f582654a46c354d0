// Package factory materializes subagent configs into tools of the global tool
// set and guards their invocation with recursion limits and timeouts.
package factory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agnivade/levenshtein"
	"github.com/cexll/subagentsdk/pkg/core/events"
	"github.com/cexll/subagentsdk/pkg/logging"
	"github.com/cexll/subagentsdk/pkg/runtime/subagents"
	"github.com/cexll/subagentsdk/pkg/tool"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/cexll/subagentsdk/pkg/runtime/factory"

// Factory owns the materialized agent.<name> tools and their recursion table.
type Factory struct {
	tools          *tool.Registry
	exec           subagents.Executor
	delegation     bool
	tracer         trace.Tracer
	notify         events.Handler
	defaultTimeout time.Duration

	mu      sync.Mutex
	configs map[string]*subagents.Config
	depth   map[depthKey]int
}

type depthKey struct {
	name  string
	chain string
}

// Option customizes a Factory.
type Option func(*Factory)

// WithDelegation lets every materialized subagent delegate to other
// registered subagents through Context.Delegate.
func WithDelegation(enabled bool) Option {
	return func(f *Factory) { f.delegation = enabled }
}

// WithTracerProvider sets the provider used for invocation spans. The global
// provider is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(f *Factory) {
		if tp != nil {
			f.tracer = tp.Tracer(tracerName)
		}
	}
}

// WithNotifier receives SubagentStart and SubagentStop events.
func WithNotifier(fn events.Handler) Option {
	return func(f *Factory) { f.notify = fn }
}

// WithDefaultTimeout replaces the five minute bound applied when a config has
// no timeout_ms.
func WithDefaultTimeout(d time.Duration) Option {
	return func(f *Factory) {
		if d > 0 {
			f.defaultTimeout = d
		}
	}
}

// New builds a factory that registers tools into tools and runs them with
// exec. A nil tools registry gets a private one.
func New(tools *tool.Registry, exec subagents.Executor, opts ...Option) *Factory {
	if tools == nil {
		tools = tool.NewRegistry()
	}
	f := &Factory{
		tools:          tools,
		exec:           exec,
		tracer:         otel.Tracer(tracerName),
		defaultTimeout: subagents.DefaultTimeout,
		configs:        map[string]*subagents.Config{},
		depth:          map[depthKey]int{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// Tools exposes the global tool set the factory writes into.
func (f *Factory) Tools() *tool.Registry { return f.tools }

// CreateTool materializes cfg as agent.<name> and adds it to the tool set.
func (f *Factory) CreateTool(cfg *subagents.Config) (tool.Tool, error) {
	if err := subagents.Validate(cfg); err != nil {
		return nil, err
	}
	cfg = cfg.Clone()
	t := &agentTool{factory: f, name: cfg.Name, toolName: cfg.ToolName(), description: cfg.Description}
	if err := f.tools.Register(t); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.configs[cfg.Name] = cfg
	f.mu.Unlock()

	logging.With("factory").Debug().Str("subagent", cfg.Name).Str("tool", t.toolName).Msg("tool materialized")
	return t, nil
}

// RemoveTool drops the tool and every recursion entry for name. It is a no-op
// for unknown names.
func (f *Factory) RemoveTool(name string) {
	f.tools.Unregister(subagents.ToolName(name))
	f.mu.Lock()
	delete(f.configs, name)
	for key := range f.depth {
		if key.name == name {
			delete(f.depth, key)
		}
	}
	f.mu.Unlock()
}

// Depth reports the live recursion depth of name within chainID.
func (f *Factory) Depth(name, chainID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.depth[depthKey{name: name, chain: chainID}]
}

// Invoke runs the named subagent through the guarded path. It is what the
// materialized tool calls.
func (f *Factory) Invoke(ctx context.Context, name, message, contextText string) (*subagents.Result, error) {
	return f.invoke(ctx, name, message, contextText, false)
}

// Delegate invokes target on behalf of the invocation carried by ctx. Unknown
// targets produce a TargetNotFoundError with the closest registered name.
func (f *Factory) Delegate(ctx context.Context, target, message, contextText string) (*subagents.Result, error) {
	name := strings.TrimPrefix(strings.TrimSpace(target), subagents.ToolPrefix)
	if _, ok := f.config(name); !ok {
		return nil, &subagents.TargetNotFoundError{Target: target, Suggestion: f.suggest(name)}
	}
	return f.invoke(ctx, name, message, contextText, true)
}

func (f *Factory) config(name string) (*subagents.Config, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cfg, ok := f.configs[name]
	return cfg, ok
}

// acquire is the atomic check-and-increment of the recursion table.
func (f *Factory) acquire(cfg *subagents.Config, chain string) (int, error) {
	key := depthKey{name: cfg.Name, chain: chain}
	limit := cfg.RecursionLimit()

	f.mu.Lock()
	defer f.mu.Unlock()
	current := f.depth[key]
	if current >= limit {
		return current, &subagents.RecursionLimitError{Name: cfg.Name, Limit: limit, Depth: current}
	}
	f.depth[key] = current + 1
	return current, nil
}

func (f *Factory) release(name, chain string) {
	key := depthKey{name: name, chain: chain}
	f.mu.Lock()
	defer f.mu.Unlock()
	current, ok := f.depth[key]
	if !ok {
		return
	}
	if current <= 1 {
		delete(f.depth, key)
		return
	}
	f.depth[key] = current - 1
}

func (f *Factory) invoke(ctx context.Context, name, message, contextText string, delegated bool) (*subagents.Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, ok := f.config(name)
	if !ok {
		return nil, &subagents.NotFoundError{Name: name}
	}
	if f.exec == nil {
		return nil, errors.New("factory: executor is nil")
	}

	chain, ok := ChainID(ctx)
	if !ok {
		chain = uuid.NewString()
	}
	log := logging.With("factory").With().Str("subagent", name).Str("chain", chain).Logger()

	depth, err := f.acquire(cfg, chain)
	if err != nil {
		log.Warn().Err(err).Msg("recursion limit reached")
		return nil, err
	}
	defer f.release(name, chain)

	id := uuid.NewString()
	parentID := ParentID(ctx)
	runCtx := withFrame(ctx, chain, id)

	sc := &subagents.Context{
		ID:          id,
		Config:      cfg.Clone(),
		Input:       message,
		ContextText: contextText,
		Tools:       tool.Filter(f.tools.List(), cfg.AllowedTools, cfg.BlockedTools),
		Metadata: subagents.Metadata{
			StartTime:      time.Now(),
			RecursionDepth: depth,
			Delegated:      delegated,
			ParentID:       parentID,
			ChainID:        chain,
		},
	}
	if f.delegation {
		sc.Delegate = f.Delegate
	}

	runCtx, span := f.tracer.Start(runCtx, "subagent.invoke", trace.WithAttributes(
		attribute.String("subagent.name", name),
		attribute.String("subagent.chain_id", chain),
		attribute.Int("subagent.depth", depth),
		attribute.Bool("subagent.delegated", delegated),
	))
	defer span.End()

	f.emit(events.New(events.SubagentStart, events.SubagentStartPayload{
		Name:     name,
		AgentID:  id,
		ChainID:  chain,
		Depth:    depth,
		ParentID: parentID,
	}))
	log.Debug().Int("depth", depth).Bool("delegated", delegated).Msg("subagent start")

	res, err := f.run(runCtx, cfg, sc)
	duration := time.Since(sc.Metadata.StartTime)

	f.emit(events.New(events.SubagentStop, events.SubagentStopPayload{
		Name:     name,
		AgentID:  id,
		Duration: duration,
		Err:      err,
	}))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Warn().Err(err).Dur("duration", duration).Msg("subagent failed")
		return nil, err
	}
	if res == nil {
		res = &subagents.Result{Success: true}
	}
	if res.Metrics.Duration == 0 {
		res.Metrics.Duration = duration
	}
	if res.Metrics.ToolCalls == 0 {
		res.Metrics.ToolCalls = len(res.ToolCalls)
	}
	if !res.Success && res.Error != "" {
		span.SetStatus(codes.Error, res.Error)
	}
	span.SetAttributes(attribute.Int("subagent.tokens", res.Metrics.Tokens))
	log.Debug().Dur("duration", duration).Bool("success", res.Success).Msg("subagent stop")
	return res, nil
}

type outcome struct {
	res *subagents.Result
	err error
}

// run races the executor against the invocation deadline.
func (f *Factory) run(ctx context.Context, cfg *subagents.Config, sc *subagents.Context) (*subagents.Result, error) {
	timeout := f.defaultTimeout
	if cfg.TimeoutMS > 0 {
		timeout = cfg.Timeout()
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("factory: %s panicked: %v", cfg.ToolName(), r)}
			}
		}()
		res, err := f.exec.Execute(runCtx, sc)
		done <- outcome{res: res, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil && errors.Is(out.err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, &subagents.TimeoutError{Name: cfg.Name, Timeout: timeout}
		}
		return out.res, out.err
	case <-runCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &subagents.TimeoutError{Name: cfg.Name, Timeout: timeout}
	}
}

func (f *Factory) emit(evt events.Event) {
	if f.notify != nil {
		f.notify(evt)
	}
}

// suggest returns the registered name closest to target, or "" when nothing
// is reasonably close.
func (f *Factory) suggest(target string) string {
	f.mu.Lock()
	names := make([]string, 0, len(f.configs))
	for name := range f.configs {
		names = append(names, name)
	}
	f.mu.Unlock()
	sort.Strings(names)

	target = strings.ToLower(target)
	best, bestDist := "", -1
	for _, name := range names {
		d := levenshtein.ComputeDistance(target, name)
		if bestDist < 0 || d < bestDist {
			best, bestDist = name, d
		}
	}
	if bestDist < 0 || bestDist > max(2, len(target)/3) {
		return ""
	}
	return best
}
