package events

import (
	"fmt"
	"time"
)

// EventType enumerates the lifecycle notifications emitted by the subagent
// runtime. The list is explicit so subscribers can switch exhaustively.
type EventType string

const (
	SubagentRegistered   EventType = "SubagentRegistered"
	SubagentUnregistered EventType = "SubagentUnregistered"
	SubagentsReloaded    EventType = "SubagentsReloaded"
	SubagentStart        EventType = "SubagentStart"
	SubagentStop         EventType = "SubagentStop"
)

// Event represents a single occurrence in the system. Structured data lives in
// Payload and is type asserted by subscribers.
type Event struct {
	ID        string    // optional explicit identifier
	Type      EventType // required
	Timestamp time.Time // auto-populated when zero
	Payload   interface{}
}

// Validate performs cheap sanity checks.
func (e Event) Validate() error {
	if e.Type == "" {
		return fmt.Errorf("events: missing type")
	}
	return nil
}

// New stamps an event with the current time.
func New(typ EventType, payload interface{}) Event {
	return Event{Type: typ, Timestamp: time.Now(), Payload: payload}
}

// RegistrationPayload accompanies SubagentRegistered and SubagentUnregistered.
type RegistrationPayload struct {
	Name     string
	ToolName string
	Scope    string
}

// ReloadPayload summarises a diff-based reload.
type ReloadPayload struct {
	Added   []string
	Removed []string
}

// SubagentStartPayload is emitted when a materialized subagent begins running.
type SubagentStartPayload struct {
	Name     string
	AgentID  string // unique identifier for the invocation
	ChainID  string
	Depth    int
	ParentID string
}

// SubagentStopPayload is emitted when an invocation finishes, successfully or not.
type SubagentStopPayload struct {
	Name     string
	AgentID  string
	Duration time.Duration
	Err      error
}

// Handler receives events.
type Handler func(Event)
