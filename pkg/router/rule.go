package router

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// PatternKind tags the variant held by a Pattern.
type PatternKind int

const (
	PatternLiteral PatternKind = iota + 1
	PatternRegex
	PatternPredicate
)

func (k PatternKind) String() string {
	switch k {
	case PatternLiteral:
		return "literal"
	case PatternRegex:
		return "regex"
	case PatternPredicate:
		return "predicate"
	default:
		return "unknown"
	}
}

// fixedMatchConfidence applies to literal and predicate matches; the rule's
// own confidence is multiplied on top.
const fixedMatchConfidence = 0.5

// regexCoverageScale turns the share of the message consumed by the leftmost
// regex match into a confidence. A match covering a tenth of the message already scores 1.
const regexCoverageScale = 10.0

// Pattern is one of a literal substring, a regular expression or a predicate.
type Pattern struct {
	kind      PatternKind
	literal   string
	re        *regexp.Regexp
	predicate func(string) bool
}

// Literal matches when message contains s, ignoring case.
func Literal(s string) Pattern {
	return Pattern{kind: PatternLiteral, literal: s}
}

// Regex matches with re; confidence grows with how much of the message the
// matches cover.
func Regex(re *regexp.Regexp) Pattern {
	return Pattern{kind: PatternRegex, re: re}
}

// MustRegex compiles expr and panics on error. Intended for rule tables.
func MustRegex(expr string) Pattern {
	return Regex(regexp.MustCompile(expr))
}

// Predicate matches when fn returns true.
func Predicate(fn func(string) bool) Pattern {
	return Pattern{kind: PatternPredicate, predicate: fn}
}

// Kind reports the variant.
func (p Pattern) Kind() PatternKind { return p.kind }

func (p Pattern) String() string {
	switch p.kind {
	case PatternLiteral:
		return fmt.Sprintf("literal(%q)", p.literal)
	case PatternRegex:
		if p.re == nil {
			return "regex(<nil>)"
		}
		return fmt.Sprintf("regex(/%s/)", p.re)
	case PatternPredicate:
		return "predicate"
	default:
		return "invalid"
	}
}

func (p Pattern) validate() error {
	switch p.kind {
	case PatternLiteral:
		if strings.TrimSpace(p.literal) == "" {
			return errors.New("literal pattern is empty")
		}
	case PatternRegex:
		if p.re == nil {
			return errors.New("regex pattern is nil")
		}
	case PatternPredicate:
		if p.predicate == nil {
			return errors.New("predicate is nil")
		}
	default:
		return errors.New("pattern is not set")
	}
	return nil
}

// Match evaluates the pattern against message and returns the match
// confidence in [0,1].
func (p Pattern) Match(message string) (confidence float64, ok bool) {
	switch p.kind {
	case PatternLiteral:
		if p.literal == "" || !strings.Contains(strings.ToLower(message), strings.ToLower(p.literal)) {
			return 0, false
		}
		return fixedMatchConfidence, true
	case PatternRegex:
		if p.re == nil || message == "" {
			return 0, false
		}
		loc := p.re.FindStringIndex(message)
		if loc == nil || loc[1] == loc[0] {
			return 0, false
		}
		covered := loc[1] - loc[0]
		return min(1, regexCoverageScale*float64(covered)/float64(len(message))), true
	case PatternPredicate:
		if p.predicate == nil || !callPredicate(p.predicate, message) {
			return 0, false
		}
		return fixedMatchConfidence, true
	}
	return 0, false
}

// callPredicate treats a panicking predicate as a non-match.
func callPredicate(fn func(string) bool, message string) (matched bool) {
	defer func() {
		if recover() != nil {
			matched = false
		}
	}()
	return fn(message)
}

// Conditions further restrict when a matching rule yields a candidate.
type Conditions struct {
	// Tools must all be visible to the target subagent.
	Tools []string
	// MaxComplexity rejects inputs whose RouteContext.Complexity exceeds it.
	// Zero disables the check.
	MaxComplexity int
	// MinConfidence drops candidates scoring below it.
	MinConfidence float64
}

// Rule maps a pattern to one or more target subagents.
type Rule struct {
	Name       string
	Pattern    Pattern
	Targets    []string
	Confidence float64
	Conditions Conditions
}

// Validate reports structural problems with the rule.
func (r Rule) Validate() error {
	var errs []error
	if strings.TrimSpace(r.Name) == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if err := r.Pattern.validate(); err != nil {
		errs = append(errs, err)
	}
	if len(r.Targets) == 0 {
		errs = append(errs, errors.New("at least one target is required"))
	}
	for i, target := range r.Targets {
		if strings.TrimSpace(target) == "" {
			errs = append(errs, fmt.Errorf("targets[%d] is empty", i))
		}
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		errs = append(errs, fmt.Errorf("confidence must be within [0,1], got %v", r.Confidence))
	}
	if r.Conditions.MinConfidence < 0 || r.Conditions.MinConfidence > 1 {
		errs = append(errs, fmt.Errorf("conditions.min_confidence must be within [0,1], got %v", r.Conditions.MinConfidence))
	}
	if r.Conditions.MaxComplexity < 0 {
		errs = append(errs, fmt.Errorf("conditions.max_complexity must be >= 0, got %d", r.Conditions.MaxComplexity))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("router: rule %q: %w", r.Name, errors.Join(errs...))
}

// DefaultRules returns the built-in domain rules. Targets are conventional
// subagent names; rules whose targets are not registered simply never fire.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:       "code",
			Pattern:    MustRegex(`(?i)\b(code|function|method|class|refactor|bug|compile|implement)\w*`),
			Targets:    []string{"code-analysis"},
			Confidence: 0.9,
		},
		{
			Name:       "testing",
			Pattern:    MustRegex(`(?i)\b(tests?|testing|unit[- ]test|coverage|assert|mock)\w*`),
			Targets:    []string{"test-writer"},
			Confidence: 0.85,
		},
		{
			Name:       "documentation",
			Pattern:    MustRegex(`(?i)\b(document|docs?|readme|docstring|comment|tutorial)\w*`),
			Targets:    []string{"documentation"},
			Confidence: 0.8,
		},
		{
			Name:       "review",
			Pattern:    MustRegex(`(?i)\b(review|pull request|PR|diff|feedback)\b`),
			Targets:    []string{"code-reviewer"},
			Confidence: 0.85,
		},
		{
			Name:       "security",
			Pattern:    MustRegex(`(?i)\b(security|vulnerab|exploit|xss|csrf|injection|auth|secret|cve)\w*`),
			Targets:    []string{"security-auditor"},
			Confidence: 0.9,
		},
		{
			Name:       "performance",
			Pattern:    MustRegex(`(?i)\b(performance|optimi[sz]e|latency|throughput|slow|profil|benchmark|memory leak)\w*`),
			Targets:    []string{"performance-optimizer"},
			Confidence: 0.85,
		},
		{
			Name:       "architecture",
			Pattern:    MustRegex(`(?i)\b(architecture|design pattern|system design|microservice|scalab|module boundar)\w*`),
			Targets:    []string{"architect"},
			Confidence: 0.8,
		},
		{
			Name:       "deployment",
			Pattern:    MustRegex(`(?i)\b(deploy|release|ci/cd|pipeline|docker|kubernetes|k8s|helm|rollout)\w*`),
			Targets:    []string{"deployment"},
			Confidence: 0.8,
		},
		{
			Name:       "data",
			Pattern:    MustRegex(`(?i)\b(data|dataset|sql|query|database|schema|etl|csv|analytics)\w*`),
			Targets:    []string{"data-analyst"},
			Confidence: 0.75,
		},
		{
			Name:       "api",
			Pattern:    MustRegex(`(?i)\b(api|endpoint|rest|graphql|grpc|openapi|swagger|webhook)\w*`),
			Targets:    []string{"api-designer"},
			Confidence: 0.8,
		},
	}
}
