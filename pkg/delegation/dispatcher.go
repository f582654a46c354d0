// Package delegation executes routed delegation requests, fanning out to
// several subagents at once when the router asks for it.
package delegation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cexll/subagentsdk/pkg/logging"
	"github.com/cexll/subagentsdk/pkg/router"
	"github.com/cexll/subagentsdk/pkg/runtime/subagents"
	"golang.org/x/sync/errgroup"
)

const defaultConcurrency = 4

// Invoker runs a subagent by name. *factory.Factory satisfies it.
type Invoker interface {
	Delegate(ctx context.Context, target, message, contextText string) (*subagents.Result, error)
}

// Result is the outcome of one DelegationRequest.
type Result struct {
	Target   string
	Rank     int
	Success  bool
	Response string
	Error    string
	Err      error `json:"-"`
	Duration time.Duration
	Metrics  subagents.Metrics
}

// Dispatcher runs delegation requests concurrently.
type Dispatcher struct {
	invoker     Invoker
	concurrency int
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithConcurrency bounds how many requests run at once.
func WithConcurrency(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.concurrency = n
		}
	}
}

// NewDispatcher wraps invoker.
func NewDispatcher(invoker Invoker, opts ...Option) *Dispatcher {
	d := &Dispatcher{invoker: invoker, concurrency: defaultConcurrency}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Dispatch runs every request and returns results in request order. A failing
// request never cancels the others.
func (d *Dispatcher) Dispatch(ctx context.Context, reqs []router.DelegationRequest) []Result {
	results := make([]Result, len(reqs))
	if len(reqs) == 0 {
		return results
	}

	var g errgroup.Group
	g.SetLimit(d.concurrency)
	for i, req := range reqs {
		g.Go(func() error {
			results[i] = d.run(ctx, req)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (d *Dispatcher) run(ctx context.Context, req router.DelegationRequest) (res Result) {
	start := time.Now()
	res = Result{Target: req.Target, Rank: req.Metadata.Rank}
	defer func() {
		if r := recover(); r != nil {
			res.Success = false
			res.Err = fmt.Errorf("delegation: %s panicked: %v", req.Target, r)
			res.Error = res.Err.Error()
		}
		res.Duration = time.Since(start)
	}()

	if d.invoker == nil {
		res.Err = errors.New("delegation: invoker is nil")
		res.Error = res.Err.Error()
		return res
	}

	out, err := d.invoker.Delegate(ctx, req.Target, req.Message, req.Context)
	if err != nil {
		res.Err = err
		res.Error = err.Error()
		logging.With("delegation").Warn().Err(err).Str("subagent", req.Target).Msg("delegation failed")
		return res
	}
	if out == nil {
		res.Success = true
		return res
	}
	res.Success = out.Success
	res.Response = out.Output
	res.Error = out.Error
	res.Metrics = out.Metrics
	return res
}

// Combine renders successful responses as one text block, best rank first.
func Combine(results []Result) string {
	var b strings.Builder
	for _, r := range results {
		if !r.Success || strings.TrimSpace(r.Response) == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "## %s\n%s", r.Target, strings.TrimSpace(r.Response))
	}
	return b.String()
}
