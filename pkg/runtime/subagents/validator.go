package subagents

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var namePattern = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)

// Validate checks a config against the subagent schema. Every failing field is
// reported through errors.Join inside a single ValidationError.
func Validate(cfg *Config) error {
	if cfg == nil {
		return &ValidationError{Err: errors.New("config is nil")}
	}
	if err := validateFields(cfg); err != nil {
		return &ValidationError{Path: cfg.SourcePath, Err: err}
	}
	return nil
}

func validateFields(cfg *Config) error {
	var errs []error

	name := cfg.Name
	switch {
	case strings.TrimSpace(name) == "":
		errs = append(errs, errors.New("name is required"))
	case !namePattern.MatchString(name):
		errs = append(errs, fmt.Errorf("name %q must match %s", name, namePattern))
	}

	if strings.TrimSpace(cfg.Description) == "" {
		errs = append(errs, errors.New("description is required"))
	}

	switch cfg.Scope {
	case "", ScopeProject, ScopeUser:
	default:
		errs = append(errs, fmt.Errorf("scope %q is not supported", cfg.Scope))
	}

	if cfg.MaxRecursion != nil {
		if v := *cfg.MaxRecursion; v < 0 || v > MaxRecursionCeiling {
			errs = append(errs, fmt.Errorf("max_recursion must be between 0 and %d, got %d", MaxRecursionCeiling, v))
		}
	}
	if cfg.TimeoutMS < 0 {
		errs = append(errs, fmt.Errorf("timeout_ms must be >= 0, got %d", cfg.TimeoutMS))
	}
	if cfg.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("max_tokens must be >= 0, got %d", cfg.MaxTokens))
	}
	if cfg.ContextWindow < 0 {
		errs = append(errs, fmt.Errorf("context_window must be >= 0, got %d", cfg.ContextWindow))
	}

	errs = append(errs, validatePatterns("allowed_tools", cfg.AllowedTools)...)
	errs = append(errs, validatePatterns("blocked_tools", cfg.BlockedTools)...)

	for i, tag := range cfg.Tags {
		if strings.TrimSpace(tag) == "" {
			errs = append(errs, fmt.Errorf("tags[%d] is empty", i))
		}
	}

	return errors.Join(errs...)
}

func validatePatterns(field string, patterns []string) []error {
	var errs []error
	for i, p := range patterns {
		if strings.TrimSpace(p) == "" {
			errs = append(errs, fmt.Errorf("%s[%d] is empty", field, i))
		}
	}
	return errs
}
