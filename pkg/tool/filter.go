package tool

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// MatchPattern reports whether a tool name satisfies a visibility pattern.
// "prefix*" is a prefix match, a pattern without wildcards is an exact match,
// and anything else falls back to glob syntax.
func MatchPattern(pattern, name string) bool {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return false
	}
	if pattern == "*" || pattern == name {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok && !strings.ContainsAny(prefix, "*?[{") {
		return strings.HasPrefix(name, prefix)
	}
	if !strings.ContainsAny(pattern, "*?[{") {
		return false
	}
	matched, err := doublestar.Match(pattern, name)
	return err == nil && matched
}

// MatchAny reports whether any pattern matches name.
func MatchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if MatchPattern(p, name) {
			return true
		}
	}
	return false
}

// Visible applies the allow/block policy to a single tool name. A block match
// always excludes, even when an allow pattern also matches.
func Visible(name string, allowed, blocked []string) bool {
	if len(blocked) > 0 && MatchAny(blocked, name) {
		return false
	}
	if len(allowed) > 0 {
		return MatchAny(allowed, name)
	}
	return true
}

// Reachable reports whether a subagent could use name at all: it is either
// explicitly allowed or not explicitly blocked. Routing conditions use this
// looser check; invocation still filters with Visible.
func Reachable(name string, allowed, blocked []string) bool {
	return MatchAny(allowed, name) || !MatchAny(blocked, name)
}

// Filter returns the subset of tools visible under the allow/block policy,
// preserving input order.
func Filter(tools []Tool, allowed, blocked []string) []Tool {
	out := make([]Tool, 0, len(tools))
	for _, t := range tools {
		if t == nil {
			continue
		}
		if Visible(t.Name(), allowed, blocked) {
			out = append(out, t)
		}
	}
	return out
}
