package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/cexll/subagentsdk/pkg/router"
	"github.com/cexll/subagentsdk/pkg/runtime/subagents"
)

// ValidateSettings checks Settings for logical consistency and reports every
// problem at once through errors.Join.
func ValidateSettings(s *Settings) error {
	if s == nil {
		return errors.New("settings is nil")
	}

	var errs []error

	for i, sp := range s.SearchPaths {
		if strings.TrimSpace(sp.Dir) == "" {
			errs = append(errs, fmt.Errorf("search_paths[%d].dir is required", i))
		}
		switch subagents.Scope(sp.Scope) {
		case "", subagents.ScopeProject, subagents.ScopeUser:
		default:
			errs = append(errs, fmt.Errorf("search_paths[%d].scope %q is not supported", i, sp.Scope))
		}
	}

	errs = append(errs, validateRouterConfig(s.Router)...)

	if s.Delegation.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("delegation.concurrency must be >= 1, got %d", s.Delegation.Concurrency))
	}
	if s.Delegation.DefaultTimeout < 0 {
		errs = append(errs, fmt.Errorf("delegation.default_timeout must be >= 0, got %s", s.Delegation.DefaultTimeout))
	}
	if s.Watch.Debounce < 0 {
		errs = append(errs, fmt.Errorf("watch.debounce must be >= 0, got %s", s.Watch.Debounce))
	}

	switch strings.ToLower(strings.TrimSpace(s.Log.Level)) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not supported", s.Log.Level))
	}

	if r := s.Telemetry.SampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("telemetry.sample_ratio must be within [0,1], got %v", r))
	}

	switch strings.ToLower(strings.TrimSpace(s.Model.Provider)) {
	case "", "anthropic", "openai", "echo":
	default:
		errs = append(errs, fmt.Errorf("model.provider %q is not supported", s.Model.Provider))
	}
	if s.Model.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("model.max_tokens must be >= 0, got %d", s.Model.MaxTokens))
	}
	if s.Model.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("model.max_retries must be >= 0, got %d", s.Model.MaxRetries))
	}
	for i, endpoint := range s.MCPServers {
		if strings.TrimSpace(endpoint) == "" {
			errs = append(errs, fmt.Errorf("mcp_servers[%d] is empty", i))
		}
	}

	return errors.Join(errs...)
}

func validateRouterConfig(r RouterConfig) []error {
	var errs []error
	if r.ConfidenceThreshold < 0 || r.ConfidenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("router.confidence_threshold must be within [0,1], got %v", r.ConfidenceThreshold))
	}
	if r.MaxFanout < 1 {
		errs = append(errs, fmt.Errorf("router.max_fanout must be >= 1, got %d", r.MaxFanout))
	}
	seen := map[string]struct{}{}
	for i, rc := range r.Rules {
		if _, ok := seen[rc.Name]; ok && rc.Name != "" {
			errs = append(errs, fmt.Errorf("router.rules[%d]: duplicate name %q", i, rc.Name))
		}
		seen[rc.Name] = struct{}{}
		if _, err := rc.Rule(); err != nil {
			errs = append(errs, fmt.Errorf("router.rules[%d]: %w", i, err))
		}
	}
	return errs
}

// Rule converts the declaration into a router rule.
func (rc RuleConfig) Rule() (router.Rule, error) {
	literal, expr := strings.TrimSpace(rc.Literal), strings.TrimSpace(rc.Regex)
	var pattern router.Pattern
	switch {
	case literal != "" && expr != "":
		return router.Rule{}, errors.New("set either literal or regex, not both")
	case literal != "":
		pattern = router.Literal(literal)
	case expr != "":
		re, err := regexp.Compile(expr)
		if err != nil {
			return router.Rule{}, fmt.Errorf("compile regex: %w", err)
		}
		pattern = router.Regex(re)
	default:
		return router.Rule{}, errors.New("literal or regex is required")
	}
	rule := router.Rule{
		Name:       rc.Name,
		Pattern:    pattern,
		Targets:    append([]string(nil), rc.Targets...),
		Confidence: rc.Confidence,
		Conditions: router.Conditions{
			Tools:         append([]string(nil), rc.RequiredTools...),
			MaxComplexity: rc.MaxComplexity,
			MinConfidence: rc.MinConfidence,
		},
	}
	if err := rule.Validate(); err != nil {
		return router.Rule{}, err
	}
	return rule, nil
}

// RouterOptions builds router options from the settings.
func (s *Settings) RouterOptions() ([]router.Option, error) {
	opts := []router.Option{
		router.WithConfidenceThreshold(s.Router.ConfidenceThreshold),
		router.WithMaxFanout(s.Router.MaxFanout),
		router.WithParallel(s.Router.Parallel),
	}
	var rules []router.Rule
	if !s.Router.DisableDefaultRules {
		rules = router.DefaultRules()
	}
	for i, rc := range s.Router.Rules {
		rule, err := rc.Rule()
		if err != nil {
			return nil, fmt.Errorf("router.rules[%d]: %w", i, err)
		}
		rules = append(rules, rule)
	}
	return append(opts, router.WithRules(rules...)), nil
}
