package factory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cexll/subagentsdk/pkg/core/events"
	"github.com/cexll/subagentsdk/pkg/runtime/subagents"
	"github.com/cexll/subagentsdk/pkg/tool"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type namedTool struct{ name string }

func (n *namedTool) Name() string             { return n.name }
func (n *namedTool) Description() string      { return n.name }
func (n *namedTool) Schema() *tool.JSONSchema { return nil }
func (n *namedTool) Execute(context.Context, map[string]interface{}) (*tool.ToolResult, error) {
	return &tool.ToolResult{Success: true, Output: n.name}, nil
}

func newConfig(name string, depth int) *subagents.Config {
	return &subagents.Config{
		Name:         name,
		Description:  "test subagent " + name,
		Scope:        subagents.ScopeProject,
		MaxRecursion: subagents.IntPtr(depth),
	}
}

func echoExecutor() subagents.Executor {
	return subagents.ExecutorFunc(func(_ context.Context, sc *subagents.Context) (*subagents.Result, error) {
		return &subagents.Result{Success: true, Output: "echo: " + sc.Input, Metrics: subagents.Metrics{Tokens: 7}}, nil
	})
}

func TestCreateToolRegistersAgentTool(t *testing.T) {
	tools := tool.NewRegistry()
	f := New(tools, echoExecutor())

	created, err := f.CreateTool(newConfig("code-analysis", 3))
	require.NoError(t, err)
	require.Equal(t, "agent.code-analysis", created.Name())
	require.Equal(t, "test subagent code-analysis", created.Description())
	require.Equal(t, []string{"message"}, created.Schema().Required)
	require.True(t, tools.Has("agent.code-analysis"))

	res, err := tools.Execute(context.Background(), "agent.code-analysis", map[string]interface{}{"message": "hi", "context": "ctx"})
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, "echo: hi", res.Output)
	out, ok := res.Data.(Output)
	require.True(t, ok)
	require.Equal(t, "echo: hi", out.Content)
	require.Equal(t, 7, out.Metrics.Tokens)
	require.Greater(t, out.Metrics.Duration, time.Duration(0))

	_, err = tools.Execute(context.Background(), "agent.code-analysis", map[string]interface{}{"context": "no message"})
	require.Error(t, err)

	_, err = f.CreateTool(newConfig("code-analysis", 3))
	require.Error(t, err, "materializing twice must fail")
	_, err = f.CreateTool(&subagents.Config{Name: "BAD"})
	require.ErrorIs(t, err, subagents.ErrValidation)
}

func TestRecursionLimitNestedInvocation(t *testing.T) {
	f := New(nil, nil)
	var nestedErr error
	calls := 0
	f.exec = subagents.ExecutorFunc(func(ctx context.Context, sc *subagents.Context) (*subagents.Result, error) {
		calls++
		if calls == 1 {
			_, nestedErr = f.Invoke(ctx, "solo", "again", "")
		}
		return &subagents.Result{Success: true, Output: "ok"}, nil
	})
	_, err := f.CreateTool(newConfig("solo", 1))
	require.NoError(t, err)

	res, err := f.Invoke(context.Background(), "solo", "first", "")
	require.NoError(t, err)
	require.Equal(t, "ok", res.Output)

	var limitErr *subagents.RecursionLimitError
	require.True(t, errors.As(nestedErr, &limitErr), "nested call should hit the limit, got %v", nestedErr)
	require.Equal(t, "solo", limitErr.Name)
	require.Equal(t, 1, limitErr.Limit)
	require.Equal(t, 1, calls, "rejected call must not reach the executor")

	_, err = f.Invoke(context.Background(), "solo", "fresh", "")
	require.NoError(t, err, "completion frees the slot")
}

func TestRecursionLimitConcurrentSameChain(t *testing.T) {
	started := make(chan struct{})
	unblock := make(chan struct{})
	f := New(nil, subagents.ExecutorFunc(func(ctx context.Context, sc *subagents.Context) (*subagents.Result, error) {
		if sc.Input == "block" {
			close(started)
			<-unblock
		}
		return &subagents.Result{Success: true}, nil
	}))
	_, err := f.CreateTool(newConfig("solo", 1))
	require.NoError(t, err)

	ctx := WithChain(context.Background(), "session-1")
	errCh := make(chan error, 1)
	go func() {
		_, err := f.Invoke(ctx, "solo", "block", "")
		errCh <- err
	}()
	<-started
	require.Equal(t, 1, f.Depth("solo", "session-1"))

	_, err = f.Invoke(ctx, "solo", "second", "")
	require.ErrorIs(t, err, subagents.ErrRecursionLimit)
	require.Equal(t, 1, f.Depth("solo", "session-1"), "rejection must not increment")

	_, err = f.Invoke(context.Background(), "solo", "other chain", "")
	require.NoError(t, err, "unrelated chains do not interfere")

	close(unblock)
	require.NoError(t, <-errCh)
	require.Equal(t, 0, f.Depth("solo", "session-1"))

	_, err = f.Invoke(ctx, "solo", "after", "")
	require.NoError(t, err)
}

func TestRecursionResetsAfterFailure(t *testing.T) {
	boom := errors.New("executor exploded")
	fail := true
	f := New(nil, subagents.ExecutorFunc(func(context.Context, *subagents.Context) (*subagents.Result, error) {
		if fail {
			return nil, boom
		}
		return &subagents.Result{Success: true}, nil
	}))
	_, err := f.CreateTool(newConfig("flaky", 1))
	require.NoError(t, err)

	ctx := WithChain(context.Background(), "chain")
	_, err = f.Invoke(ctx, "flaky", "x", "")
	require.ErrorIs(t, err, boom)
	require.Equal(t, 0, f.Depth("flaky", "chain"))

	fail = false
	_, err = f.Invoke(ctx, "flaky", "x", "")
	require.NoError(t, err)
}

func TestZeroRecursionAlwaysRejects(t *testing.T) {
	f := New(nil, echoExecutor())
	_, err := f.CreateTool(newConfig("disabled", 0))
	require.NoError(t, err)
	_, err = f.Invoke(context.Background(), "disabled", "x", "")
	require.ErrorIs(t, err, subagents.ErrRecursionLimit)
}

func TestInvocationTimeout(t *testing.T) {
	f := New(nil, subagents.ExecutorFunc(func(ctx context.Context, _ *subagents.Context) (*subagents.Result, error) {
		select {
		case <-time.After(5 * time.Second):
			return &subagents.Result{Success: true}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}))
	cfg := newConfig("slow", 1)
	cfg.TimeoutMS = 20
	_, err := f.CreateTool(cfg)
	require.NoError(t, err)

	ctx := WithChain(context.Background(), "c")
	_, err = f.Invoke(ctx, "slow", "x", "")
	var timeoutErr *subagents.TimeoutError
	require.True(t, errors.As(err, &timeoutErr), "expected timeout, got %v", err)
	require.Equal(t, 20*time.Millisecond, timeoutErr.Timeout)
	require.Equal(t, 0, f.Depth("slow", "c"))
}

func TestTimeoutWhenExecutorIgnoresContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	f := New(nil, subagents.ExecutorFunc(func(context.Context, *subagents.Context) (*subagents.Result, error) {
		<-release
		return &subagents.Result{Success: true}, nil
	}), WithDefaultTimeout(20*time.Millisecond))
	_, err := f.CreateTool(newConfig("stubborn", 1))
	require.NoError(t, err)

	_, err = f.Invoke(context.Background(), "stubborn", "x", "")
	require.ErrorIs(t, err, subagents.ErrTimeout)
}

func TestParentCancellationIsNotATimeout(t *testing.T) {
	f := New(nil, subagents.ExecutorFunc(func(ctx context.Context, _ *subagents.Context) (*subagents.Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))
	_, err := f.CreateTool(newConfig("waiter", 1))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.Invoke(ctx, "waiter", "x", "")
	require.ErrorIs(t, err, context.Canceled)
	require.NotErrorIs(t, err, subagents.ErrTimeout)
}

func TestToolVisibilityFiltering(t *testing.T) {
	tools := tool.NewRegistry()
	for _, name := range []string{"read", "write", "admin.users", "admin.reset"} {
		require.NoError(t, tools.Register(&namedTool{name: name}))
	}
	var seen []string
	f := New(tools, subagents.ExecutorFunc(func(_ context.Context, sc *subagents.Context) (*subagents.Result, error) {
		seen = seen[:0]
		for _, visible := range sc.Tools {
			seen = append(seen, visible.Name())
		}
		return &subagents.Result{Success: true}, nil
	}))

	guarded := newConfig("guarded", 1)
	guarded.AllowedTools = []string{"*"}
	guarded.BlockedTools = []string{"admin.*"}
	_, err := f.CreateTool(guarded)
	require.NoError(t, err)

	_, err = f.Invoke(context.Background(), "guarded", "x", "")
	require.NoError(t, err)
	require.Equal(t, []string{"agent.guarded", "read", "write"}, seen)

	narrow := newConfig("narrow", 1)
	narrow.AllowedTools = []string{"read"}
	_, err = f.CreateTool(narrow)
	require.NoError(t, err)
	_, err = f.Invoke(context.Background(), "narrow", "x", "")
	require.NoError(t, err)
	require.Equal(t, []string{"read"}, seen)

	_, err = f.CreateTool(newConfig("open", 1))
	require.NoError(t, err)
	_, err = f.Invoke(context.Background(), "open", "x", "")
	require.NoError(t, err)
	require.Len(t, seen, 7, "no lists exposes every tool including agent tools")
}

func TestRemoveToolIsIdempotent(t *testing.T) {
	tools := tool.NewRegistry()
	f := New(tools, echoExecutor())
	_, err := f.CreateTool(newConfig("temp", 1))
	require.NoError(t, err)

	f.RemoveTool("temp")
	f.RemoveTool("temp")
	require.False(t, tools.Has("agent.temp"))
	_, err = f.Invoke(context.Background(), "temp", "x", "")
	require.ErrorIs(t, err, subagents.ErrNotFound)

	_, err = f.CreateTool(newConfig("temp", 1))
	require.NoError(t, err, "name can be materialized again after removal")
}

func TestDelegationUsesGuardedPath(t *testing.T) {
	var (
		mu   sync.Mutex
		path []string
	)
	f := New(nil, nil, WithDelegation(true))
	f.exec = subagents.ExecutorFunc(func(ctx context.Context, sc *subagents.Context) (*subagents.Result, error) {
		mu.Lock()
		path = append(path, sc.Config.Name)
		mu.Unlock()
		require.NotNil(t, sc.Delegate)
		switch sc.Config.Name {
		case "planner":
			res, err := sc.Delegate(ctx, "coder", "implement", "plan")
			if err != nil {
				return nil, err
			}
			return &subagents.Result{Success: true, Output: "planned+" + res.Output}, nil
		case "coder":
			require.True(t, sc.Metadata.Delegated)
			require.NotEmpty(t, sc.Metadata.ParentID)
			require.Equal(t, "plan", sc.ContextText)
			return &subagents.Result{Success: true, Output: "coded"}, nil
		}
		return nil, errors.New("unexpected subagent")
	})
	_, err := f.CreateTool(newConfig("planner", 1))
	require.NoError(t, err)
	_, err = f.CreateTool(newConfig("coder", 1))
	require.NoError(t, err)

	res, err := f.Invoke(context.Background(), "planner", "build it", "")
	require.NoError(t, err)
	require.Equal(t, "planned+coded", res.Output)
	require.Equal(t, []string{"planner", "coder"}, path)
}

func TestDelegationCycleIsBounded(t *testing.T) {
	var calls int
	f := New(nil, nil, WithDelegation(true))
	f.exec = subagents.ExecutorFunc(func(ctx context.Context, sc *subagents.Context) (*subagents.Result, error) {
		calls++
		next := "ping"
		if sc.Config.Name == "ping" {
			next = "pong"
		}
		return sc.Delegate(ctx, next, sc.Input, "")
	})
	_, err := f.CreateTool(newConfig("ping", 2))
	require.NoError(t, err)
	_, err = f.CreateTool(newConfig("pong", 2))
	require.NoError(t, err)

	_, err = f.Invoke(context.Background(), "ping", "loop", "")
	require.ErrorIs(t, err, subagents.ErrRecursionLimit)
	require.Equal(t, 4, calls)
}

func TestDelegateUnknownTargetSuggests(t *testing.T) {
	f := New(nil, echoExecutor(), WithDelegation(true))
	_, err := f.CreateTool(newConfig("reviewer", 1))
	require.NoError(t, err)

	_, err = f.Delegate(context.Background(), "reviwer", "x", "")
	var notFound *subagents.TargetNotFoundError
	require.True(t, errors.As(err, &notFound))
	require.Equal(t, "reviewer", notFound.Suggestion)

	_, err = f.Delegate(context.Background(), "database-migrator", "x", "")
	require.True(t, errors.As(err, &notFound))
	require.Empty(t, notFound.Suggestion)

	res, err := f.Delegate(context.Background(), "agent.reviewer", "x", "")
	require.NoError(t, err)
	require.Equal(t, "echo: x", res.Output)
}

func TestDelegateDisabledLeavesHookNil(t *testing.T) {
	f := New(nil, subagents.ExecutorFunc(func(_ context.Context, sc *subagents.Context) (*subagents.Result, error) {
		if sc.Delegate != nil {
			return nil, errors.New("delegate should be nil")
		}
		return &subagents.Result{Success: true}, nil
	}))
	_, err := f.CreateTool(newConfig("plain", 1))
	require.NoError(t, err)
	_, err = f.Invoke(context.Background(), "plain", "x", "")
	require.NoError(t, err)
}

func TestNotifierAndSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	var got []events.EventType
	f := New(nil, echoExecutor(),
		WithTracerProvider(tp),
		WithNotifier(func(evt events.Event) { got = append(got, evt.Type) }),
	)
	_, err := f.CreateTool(newConfig("traced", 1))
	require.NoError(t, err)

	_, err = f.Invoke(WithChain(context.Background(), "trace-chain"), "traced", "x", "")
	require.NoError(t, err)
	require.Equal(t, []events.EventType{events.SubagentStart, events.SubagentStop}, got)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	require.Equal(t, "subagent.invoke", spans[0].Name())
	attrs := map[string]string{}
	for _, kv := range spans[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	require.Equal(t, "traced", attrs["subagent.name"])
	require.Equal(t, "trace-chain", attrs["subagent.chain_id"])
}

func TestChainHelpers(t *testing.T) {
	_, ok := ChainID(context.Background())
	require.False(t, ok)
	require.Equal(t, context.Background(), WithChain(context.Background(), "  "))

	ctx := WithChain(context.Background(), "abc")
	id, ok := ChainID(ctx)
	require.True(t, ok)
	require.Equal(t, "abc", id)
	require.Empty(t, ParentID(ctx))
}
