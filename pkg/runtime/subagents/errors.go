package subagents

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for errors.Is checks. Every typed error below unwraps to one.
var (
	ErrValidation     = errors.New("subagents: invalid config")
	ErrDuplicateName  = errors.New("subagents: duplicate name")
	ErrNotFound       = errors.New("subagents: not found")
	ErrRecursionLimit = errors.New("subagents: recursion limit reached")
	ErrTargetNotFound = errors.New("subagents: delegation target not found")
	ErrTimeout        = errors.New("subagents: invocation timed out")
)

// ValidationError reports a malformed or invalid config. Path is empty for
// configs that did not come from a file.
type ValidationError struct {
	Path string
	Err  error
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", ErrValidation, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", ErrValidation, e.Path, e.Err)
}

func (e *ValidationError) Unwrap() []error { return []error{ErrValidation, e.Err} }

// DuplicateNameError is returned when registering a name that is already live.
type DuplicateNameError struct {
	Name string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("%s: %q is already registered", ErrDuplicateName, e.Name)
}

func (e *DuplicateNameError) Unwrap() error { return ErrDuplicateName }

// NotFoundError is returned by lookups and unregister on unknown names.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: %q", ErrNotFound, e.Name)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// RecursionLimitError names the subagent and its configured limit.
type RecursionLimitError struct {
	Name  string
	Limit int
	Depth int
}

func (e *RecursionLimitError) Error() string {
	return fmt.Sprintf("%s: %s is at depth %d, max_recursion is %d", ErrRecursionLimit, ToolName(e.Name), e.Depth, e.Limit)
}

func (e *RecursionLimitError) Unwrap() error { return ErrRecursionLimit }

// TargetNotFoundError is returned when delegating to an unregistered subagent.
type TargetNotFoundError struct {
	Target     string
	Suggestion string
}

func (e *TargetNotFoundError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%s: %q (did you mean %q?)", ErrTargetNotFound, e.Target, e.Suggestion)
	}
	return fmt.Sprintf("%s: %q", ErrTargetNotFound, e.Target)
}

func (e *TargetNotFoundError) Unwrap() error { return ErrTargetNotFound }

// TimeoutError is returned when an invocation outlives timeout_ms.
type TimeoutError struct {
	Name    string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: %s exceeded %s", ErrTimeout, ToolName(e.Name), e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return ErrTimeout }
