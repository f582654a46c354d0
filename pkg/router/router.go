// Package router scores incoming requests against routing rules and decides
// whether, and to which subagents, they should be delegated.
package router

import (
	"fmt"
	"sort"
	"sync"

	"github.com/cexll/subagentsdk/pkg/logging"
	"github.com/cexll/subagentsdk/pkg/runtime/subagents"
	"github.com/cexll/subagentsdk/pkg/tool"
)

const (
	DefaultConfidenceThreshold = 0.5
	DefaultMaxFanout           = 3

	// primaryFanoutConfidence is the bar a fan-out leader must clear to be
	// named primary.
	primaryFanoutConfidence = 0.9
)

// Strategy is the delegation shape chosen for a request.
type Strategy string

const (
	StrategyNone   Strategy = "none"
	StrategySingle Strategy = "single"
	StrategyFanout Strategy = "fanout"
)

// Lookup resolves subagent names. *subagents.Registry satisfies it.
type Lookup interface {
	Get(name string) (*subagents.Config, error)
}

// RouteContext carries optional per-request inputs.
type RouteContext struct {
	Complexity int
	Context    string
}

// Candidate is one scored target.
type Candidate struct {
	Subagent   string
	Confidence float64
	Reason     string
	Rule       string
}

// Decision is the outcome of Route. It is always fully populated.
type Decision struct {
	Primary        *Candidate
	Candidates     []Candidate
	ShouldDelegate bool
	Strategy       Strategy
}

// RequestMetadata annotates a DelegationRequest.
type RequestMetadata struct {
	Reason     string
	Strategy   Strategy
	Rank       int
	Total      int
	Confidence float64
}

// DelegationRequest asks one subagent to handle message.
type DelegationRequest struct {
	Target   string
	Message  string
	Context  string
	Metadata RequestMetadata
}

// Router is safe for concurrent use. Route keeps no state between calls.
type Router struct {
	lookup Lookup

	mu        sync.RWMutex
	rules     []Rule
	threshold float64
	maxFanout int
	parallel  bool
}

// Option configures a Router.
type Option func(*Router)

// WithConfidenceThreshold sets the minimum top confidence for delegation.
func WithConfidenceThreshold(v float64) Option {
	return func(r *Router) {
		if v >= 0 && v <= 1 {
			r.threshold = v
		}
	}
}

// WithMaxFanout caps the number of fan-out requests.
func WithMaxFanout(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.maxFanout = n
		}
	}
}

// WithParallel toggles fan-out. When disabled every delegation is single.
func WithParallel(enabled bool) Option {
	return func(r *Router) { r.parallel = enabled }
}

// WithRules replaces the default rule set. Invalid rules are dropped.
func WithRules(rules ...Rule) Option {
	return func(r *Router) {
		r.rules = nil
		for _, rule := range rules {
			if err := rule.Validate(); err != nil {
				logging.With("router").Warn().Err(err).Msg("rule dropped")
				continue
			}
			r.rules = append(r.rules, rule)
		}
	}
}

// New builds a router with the default rules and settings.
func New(lookup Lookup, opts ...Option) *Router {
	r := &Router{
		lookup:    lookup,
		rules:     DefaultRules(),
		threshold: DefaultConfidenceThreshold,
		maxFanout: DefaultMaxFanout,
		parallel:  true,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// AddRule appends a rule to the end of the evaluation order. A rule with an
// existing name replaces it in place.
func (r *Router) AddRule(rule Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.rules {
		if r.rules[i].Name == rule.Name {
			r.rules[i] = rule
			return nil
		}
	}
	r.rules = append(r.rules, rule)
	return nil
}

// RemoveRule deletes the named rule and reports whether it existed.
func (r *Router) RemoveRule(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.rules {
		if r.rules[i].Name == name {
			r.rules = append(r.rules[:i], r.rules[i+1:]...)
			return true
		}
	}
	return false
}

// Rules returns the rules in evaluation order.
func (r *Router) Rules() []Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Rule(nil), r.rules...)
}

// Route scores message against every rule and picks a strategy.
func (r *Router) Route(message string, rc *RouteContext) Decision {
	r.mu.RLock()
	rules := append([]Rule(nil), r.rules...)
	threshold, parallel := r.threshold, r.parallel
	r.mu.RUnlock()

	var candidates []Candidate
	for _, rule := range rules {
		matchConf, ok := rule.Pattern.Match(message)
		if !ok {
			continue
		}
		for _, target := range rule.Targets {
			if !r.eligible(rule, target, rc) {
				continue
			}
			conf := matchConf * rule.Confidence
			if conf < rule.Conditions.MinConfidence {
				continue
			}
			candidates = append(candidates, Candidate{
				Subagent:   target,
				Confidence: conf,
				Reason:     fmt.Sprintf("rule %q matched (%s)", rule.Name, rule.Pattern.Kind()),
				Rule:       rule.Name,
			})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Confidence > candidates[j].Confidence
	})
	candidates = dedupe(candidates)
	if candidates == nil {
		candidates = []Candidate{}
	}

	decision := Decision{Candidates: candidates, Strategy: StrategyNone}
	decision.ShouldDelegate = len(candidates) > 0 && candidates[0].Confidence >= threshold

	switch {
	case !decision.ShouldDelegate:
	case len(candidates) == 1 || !parallel:
		top := candidates[0]
		decision.Primary = &top
		decision.Strategy = StrategySingle
	default:
		decision.Strategy = StrategyFanout
		if candidates[0].Confidence > primaryFanoutConfidence {
			top := candidates[0]
			decision.Primary = &top
		}
	}

	logging.With("router").Debug().
		Int("candidates", len(candidates)).
		Str("strategy", string(decision.Strategy)).
		Bool("delegate", decision.ShouldDelegate).
		Msg("route evaluated")
	return decision
}

func (r *Router) eligible(rule Rule, target string, rc *RouteContext) bool {
	var cfg *subagents.Config
	if r.lookup != nil {
		found, err := r.lookup.Get(target)
		if err != nil || found == nil {
			return false
		}
		cfg = found
	}
	if cfg != nil {
		for _, required := range rule.Conditions.Tools {
			if !tool.Reachable(required, cfg.AllowedTools, cfg.BlockedTools) {
				return false
			}
		}
	}
	if rc != nil && rule.Conditions.MaxComplexity > 0 && rc.Complexity > rule.Conditions.MaxComplexity {
		return false
	}
	return true
}

// dedupe keeps the first, and therefore best, candidate per subagent.
func dedupe(candidates []Candidate) []Candidate {
	if len(candidates) < 2 {
		return candidates
	}
	seen := make(map[string]struct{}, len(candidates))
	out := candidates[:0]
	for _, c := range candidates {
		if _, ok := seen[c.Subagent]; ok {
			continue
		}
		seen[c.Subagent] = struct{}{}
		out = append(out, c)
	}
	return out
}

// CreateDelegations turns a decision into requests: one for single, the top
// min(maxFanout, len(candidates)) for fanout and none otherwise.
func (r *Router) CreateDelegations(message string, strategy Strategy, candidates []Candidate, rc *RouteContext) []DelegationRequest {
	if len(candidates) == 0 {
		return nil
	}
	r.mu.RLock()
	maxFanout := r.maxFanout
	r.mu.RUnlock()

	contextText := ""
	if rc != nil {
		contextText = rc.Context
	}

	var picked []Candidate
	switch strategy {
	case StrategySingle:
		picked = candidates[:1]
	case StrategyFanout:
		picked = candidates[:min(maxFanout, len(candidates))]
	default:
		return nil
	}

	out := make([]DelegationRequest, 0, len(picked))
	for i, c := range picked {
		out = append(out, DelegationRequest{
			Target:  c.Subagent,
			Message: message,
			Context: contextText,
			Metadata: RequestMetadata{
				Reason:     c.Reason,
				Strategy:   strategy,
				Rank:       i + 1,
				Total:      len(picked),
				Confidence: c.Confidence,
			},
		})
	}
	return out
}

// Plan routes message and builds the matching delegation requests.
func (r *Router) Plan(message string, rc *RouteContext) (Decision, []DelegationRequest) {
	decision := r.Route(message, rc)
	return decision, r.CreateDelegations(message, decision.Strategy, decision.Candidates, rc)
}
