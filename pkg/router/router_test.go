package router

import (
	"regexp"
	"strings"
	"testing"

	"github.com/cexll/subagentsdk/pkg/runtime/subagents"
	"github.com/stretchr/testify/require"
)

type lookupMap map[string]*subagents.Config

func (m lookupMap) Get(name string) (*subagents.Config, error) {
	cfg, ok := m[name]
	if !ok {
		return nil, &subagents.NotFoundError{Name: name}
	}
	return cfg, nil
}

func agents(names ...string) lookupMap {
	out := lookupMap{}
	for _, name := range names {
		out[name] = &subagents.Config{Name: name, Description: name}
	}
	return out
}

func TestRouteCodeAnalysis(t *testing.T) {
	r := New(agents("code-analysis"), WithRules(Rule{
		Name:       "code",
		Pattern:    Regex(regexp.MustCompile(`(?i)code`)),
		Targets:    []string{"code-analysis"},
		Confidence: 0.9,
	}))

	d := r.Route("Please analyze this code for bugs", nil)
	require.True(t, d.ShouldDelegate)
	require.Equal(t, StrategySingle, d.Strategy)
	require.Len(t, d.Candidates, 1)
	require.Equal(t, "code-analysis", d.Candidates[0].Subagent)
	require.Greater(t, d.Candidates[0].Confidence, 0.8)
	require.NotNil(t, d.Primary)
	require.Equal(t, "code-analysis", d.Primary.Subagent)
}

func TestRouteHelloWorldWithDefaults(t *testing.T) {
	names := make([]string, 0)
	for _, rule := range DefaultRules() {
		names = append(names, rule.Targets...)
	}
	r := New(agents(names...))
	require.Len(t, r.Rules(), 10)

	d := r.Route("Hello world", nil)
	require.False(t, d.ShouldDelegate)
	require.Equal(t, StrategyNone, d.Strategy)
	require.Nil(t, d.Primary)
	require.Empty(t, r.CreateDelegations("Hello world", d.Strategy, d.Candidates, nil))
}

func TestRouteDefaultsPickSecurity(t *testing.T) {
	r := New(agents("security-auditor", "code-analysis"))
	d := r.Route("security audit", nil)
	require.True(t, d.ShouldDelegate)
	require.Equal(t, "security-auditor", d.Candidates[0].Subagent)
}

func threeWayRules() []Rule {
	return []Rule{
		{Name: "a", Pattern: Literal("deploy"), Targets: []string{"alpha"}, Confidence: 1},
		{Name: "b", Pattern: Literal("deploy"), Targets: []string{"beta"}, Confidence: 1},
		{Name: "c", Pattern: Literal("deploy"), Targets: []string{"gamma"}, Confidence: 1},
	}
}

func TestFanoutIsCapped(t *testing.T) {
	r := New(agents("alpha", "beta", "gamma"), WithRules(threeWayRules()...), WithMaxFanout(2))

	d := r.Route("please deploy", nil)
	require.True(t, d.ShouldDelegate)
	require.Equal(t, StrategyFanout, d.Strategy)
	require.Len(t, d.Candidates, 3)
	require.Nil(t, d.Primary, "0.5 does not clear the primary bar")
	require.Equal(t, []string{"alpha", "beta", "gamma"}, subagentNames(d.Candidates), "ties keep rule order")

	reqs := r.CreateDelegations("please deploy", d.Strategy, d.Candidates, &RouteContext{Context: "prod"})
	require.Len(t, reqs, 2)
	for i, req := range reqs {
		require.Equal(t, i+1, req.Metadata.Rank)
		require.Equal(t, 2, req.Metadata.Total)
		require.Equal(t, StrategyFanout, req.Metadata.Strategy)
		require.Equal(t, "please deploy", req.Message)
		require.Equal(t, "prod", req.Context)
	}
	require.Equal(t, "alpha", reqs[0].Target)
	require.Equal(t, "beta", reqs[1].Target)
}

func TestParallelDisabledForcesSingle(t *testing.T) {
	r := New(agents("alpha", "beta", "gamma"), WithRules(threeWayRules()...), WithParallel(false))
	d := r.Route("deploy", nil)
	require.Equal(t, StrategySingle, d.Strategy)
	require.Equal(t, "alpha", d.Primary.Subagent)

	reqs := r.CreateDelegations("deploy", d.Strategy, d.Candidates, nil)
	require.Len(t, reqs, 1)
	require.Equal(t, 1, reqs[0].Metadata.Total)
}

func TestFanoutPrimaryAboveNinety(t *testing.T) {
	r := New(agents("alpha", "beta"), WithRules(
		Rule{Name: "strong", Pattern: MustRegex(`deploy now`), Targets: []string{"alpha"}, Confidence: 0.95},
		Rule{Name: "weak", Pattern: Literal("deploy"), Targets: []string{"beta"}, Confidence: 1},
	))
	d := r.Route("deploy now", nil)
	require.Equal(t, StrategyFanout, d.Strategy)
	require.NotNil(t, d.Primary)
	require.Equal(t, "alpha", d.Primary.Subagent)
	require.InDelta(t, 0.95, d.Primary.Confidence, 1e-9)
}

func TestRouteSkipsUnknownAndConditions(t *testing.T) {
	locked := &subagents.Config{Name: "locked", Description: "x", BlockedTools: []string{"bash"}}
	narrow := &subagents.Config{Name: "narrow", Description: "x", AllowedTools: []string{"read"}}
	open := &subagents.Config{Name: "open", Description: "x"}
	lookup := lookupMap{"locked": locked, "narrow": narrow, "open": open}

	r := New(lookup, WithRules(
		Rule{Name: "shell", Pattern: Literal("run"), Targets: []string{"ghost", "locked", "narrow", "open"}, Confidence: 1,
			Conditions: Conditions{Tools: []string{"bash"}}},
	))
	d := r.Route("run the script", nil)
	require.Equal(t, []string{"narrow", "open"}, subagentNames(d.Candidates))

	r = New(lookup, WithRules(
		Rule{Name: "search", Pattern: Literal("grep"), Targets: []string{"narrow"}, Confidence: 1,
			Conditions: Conditions{Tools: []string{"grep"}}},
	))
	d = r.Route("please grep this", nil)
	require.Len(t, d.Candidates, 1, "grep is outside the allow list but not blocked")
	require.Equal(t, StrategySingle, d.Strategy)

	r = New(lookup, WithRules(
		Rule{Name: "simple", Pattern: Literal("run"), Targets: []string{"open"}, Confidence: 1,
			Conditions: Conditions{MaxComplexity: 3}},
	))
	require.Len(t, r.Route("run", &RouteContext{Complexity: 3}).Candidates, 1)
	require.Empty(t, r.Route("run", &RouteContext{Complexity: 4}).Candidates)
	require.Len(t, r.Route("run", nil).Candidates, 1)

	r = New(lookup, WithRules(
		Rule{Name: "picky", Pattern: Literal("run"), Targets: []string{"open"}, Confidence: 0.8,
			Conditions: Conditions{MinConfidence: 0.5}},
	))
	require.Empty(t, r.Route("run", nil).Candidates, "0.5*0.8 falls under min confidence")
}

func TestRouteCollapsesDuplicateTargets(t *testing.T) {
	r := New(agents("alpha"), WithRules(
		Rule{Name: "low", Pattern: Literal("x"), Targets: []string{"alpha"}, Confidence: 0.6},
		Rule{Name: "high", Pattern: Literal("x"), Targets: []string{"alpha"}, Confidence: 1},
	))
	d := r.Route("x", nil)
	require.Len(t, d.Candidates, 1)
	require.Equal(t, "high", d.Candidates[0].Rule)
	require.Equal(t, StrategySingle, d.Strategy)
}

func TestPatternMatching(t *testing.T) {
	conf, ok := Literal("CODE").Match("review my code")
	require.True(t, ok)
	require.Equal(t, 0.5, conf)

	_, ok = Literal("code").Match("hello")
	require.False(t, ok)

	conf, ok = MustRegex(`a`).Match(strings.Repeat("b", 99) + "a")
	require.True(t, ok)
	require.InDelta(t, 0.1, conf, 1e-9)

	conf, ok = MustRegex(`a`).Match("aaaa" + strings.Repeat("b", 36))
	require.True(t, ok)
	require.InDelta(t, 0.25, conf, 1e-9, "only the leftmost match counts")

	_, ok = MustRegex(`x*`).Match("abc")
	require.False(t, ok, "empty matches do not count")
	_, ok = MustRegex(`.`).Match("")
	require.False(t, ok)

	conf, ok = Predicate(func(s string) bool { return len(s) > 3 }).Match("long enough")
	require.True(t, ok)
	require.Equal(t, 0.5, conf)

	_, ok = Predicate(func(string) bool { panic("boom") }).Match("x")
	require.False(t, ok)

	require.Equal(t, PatternRegex, MustRegex(`x`).Kind())
	require.Equal(t, "literal(\"x\")", Literal("x").String())
}

func TestRuleManagement(t *testing.T) {
	r := New(nil, WithRules())
	require.Empty(t, r.Rules())

	require.Error(t, r.AddRule(Rule{Name: "bad", Pattern: Literal("x"), Confidence: 0.5}))
	require.Error(t, r.AddRule(Rule{Name: "bad", Pattern: Literal("x"), Targets: []string{"a"}, Confidence: 1.5}))
	require.Error(t, r.AddRule(Rule{Name: "bad", Targets: []string{"a"}, Confidence: 0.5}))

	require.NoError(t, r.AddRule(Rule{Name: "one", Pattern: Literal("x"), Targets: []string{"a"}, Confidence: 0.5}))
	require.NoError(t, r.AddRule(Rule{Name: "two", Pattern: Literal("y"), Targets: []string{"b"}, Confidence: 0.5}))
	require.NoError(t, r.AddRule(Rule{Name: "one", Pattern: Literal("z"), Targets: []string{"c"}, Confidence: 0.7}))

	rules := r.Rules()
	require.Len(t, rules, 2)
	require.Equal(t, "one", rules[0].Name)
	require.Equal(t, []string{"c"}, rules[0].Targets)

	require.True(t, r.RemoveRule("one"))
	require.False(t, r.RemoveRule("one"))
	require.Len(t, r.Rules(), 1)
}

func TestRouteWithoutLookupAcceptsTargets(t *testing.T) {
	r := New(nil, WithRules(Rule{Name: "any", Pattern: Literal("go"), Targets: []string{"gopher"}, Confidence: 1}))
	d := r.Route("go build", nil)
	require.Equal(t, []string{"gopher"}, subagentNames(d.Candidates))
}

func TestRouteNeverPanics(t *testing.T) {
	r := New(agents("code-analysis", "security-auditor"))
	inputs := []string{"", " ", "\x00\xff", strings.Repeat("code ", 10000), "🙂 code 🙂", "((("}
	for _, in := range inputs {
		require.NotPanics(t, func() {
			d := r.Route(in, &RouteContext{Complexity: -1})
			_ = r.CreateDelegations(in, d.Strategy, d.Candidates, nil)
		})
	}
	require.Empty(t, r.CreateDelegations("x", StrategyNone, []Candidate{{Subagent: "a", Confidence: 1}}, nil))
	require.Empty(t, r.CreateDelegations("x", StrategyFanout, nil, nil))
}

func TestPlan(t *testing.T) {
	r := New(agents("alpha"), WithRules(Rule{Name: "a", Pattern: Literal("ship"), Targets: []string{"alpha"}, Confidence: 1}))
	d, reqs := r.Plan("ship it", nil)
	require.Equal(t, StrategySingle, d.Strategy)
	require.Len(t, reqs, 1)
	require.Equal(t, "alpha", reqs[0].Target)
	require.Equal(t, StrategySingle, reqs[0].Metadata.Strategy)
}

func subagentNames(cs []Candidate) []string {
	out := make([]string, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.Subagent)
	}
	return out
}
