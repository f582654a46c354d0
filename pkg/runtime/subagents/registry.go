package subagents

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/cexll/subagentsdk/pkg/core/events"
	"github.com/cexll/subagentsdk/pkg/logging"
	"github.com/cexll/subagentsdk/pkg/tool"
)

// ToolFactory materializes configs into tools. RemoveTool must be idempotent.
type ToolFactory interface {
	CreateTool(cfg *Config) (tool.Tool, error)
	RemoveTool(name string)
}

// Filter narrows List. Zero values match everything; Tags match when at least
// one tag is shared.
type Filter struct {
	Scope Scope
	Tags  []string
}

// ReloadResult lists the names touched by a reload, sorted.
type ReloadResult struct {
	Added   []string
	Removed []string
}

// Registry is the authoritative store of live subagents. All writes go through
// Register, Unregister and Reload.
type Registry struct {
	factory ToolFactory

	// writeMu serializes mutations so a register/unregister pair never
	// leaves a tool without its config or the reverse.
	writeMu sync.Mutex

	mu      sync.RWMutex
	configs map[string]*Config

	subMu  sync.Mutex
	subs   map[int]events.Handler
	nextID int
}

// NewRegistry builds an empty registry. factory may be nil, in which case
// configs are stored without being materialized.
func NewRegistry(factory ToolFactory) *Registry {
	return &Registry{
		factory: factory,
		configs: map[string]*Config{},
		subs:    map[int]events.Handler{},
	}
}

// Subscribe registers fn for lifecycle notifications. Handlers run
// synchronously after the mutation completes, outside any registry lock.
func (r *Registry) Subscribe(fn events.Handler) (cancel func()) {
	if fn == nil {
		return func() {}
	}
	r.subMu.Lock()
	id := r.nextID
	r.nextID++
	r.subs[id] = fn
	r.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.subMu.Lock()
			delete(r.subs, id)
			r.subMu.Unlock()
		})
	}
}

func (r *Registry) emit(evts ...events.Event) {
	if len(evts) == 0 {
		return
	}
	r.subMu.Lock()
	ids := make([]int, 0, len(r.subs))
	for id := range r.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	handlers := make([]events.Handler, 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, r.subs[id])
	}
	r.subMu.Unlock()

	for _, evt := range evts {
		for _, h := range handlers {
			h(evt)
		}
	}
}

// Register validates cfg, stores a copy and materializes it.
func (r *Registry) Register(cfg *Config) error {
	if err := Validate(cfg); err != nil {
		return err
	}
	r.writeMu.Lock()
	evt, err := r.registerLocked(cfg.Clone())
	r.writeMu.Unlock()
	if err != nil {
		return err
	}
	r.emit(evt)
	return nil
}

func (r *Registry) registerLocked(cfg *Config) (events.Event, error) {
	r.mu.Lock()
	if _, exists := r.configs[cfg.Name]; exists {
		r.mu.Unlock()
		return events.Event{}, &DuplicateNameError{Name: cfg.Name}
	}
	r.configs[cfg.Name] = cfg
	r.mu.Unlock()

	if r.factory != nil {
		if _, err := r.factory.CreateTool(cfg.Clone()); err != nil {
			r.mu.Lock()
			delete(r.configs, cfg.Name)
			r.mu.Unlock()
			return events.Event{}, fmt.Errorf("subagents: materialize %s: %w", cfg.Name, err)
		}
	}

	logging.With("subagents.registry").Info().
		Str("subagent", cfg.Name).
		Str("scope", string(cfg.EffectiveScope())).
		Msg("subagent registered")

	return events.New(events.SubagentRegistered, events.RegistrationPayload{
		Name:     cfg.Name,
		ToolName: cfg.ToolName(),
		Scope:    string(cfg.EffectiveScope()),
	}), nil
}

// Unregister removes the subagent and its materialized tool.
func (r *Registry) Unregister(name string) error {
	r.writeMu.Lock()
	evt, err := r.unregisterLocked(name)
	r.writeMu.Unlock()
	if err != nil {
		return err
	}
	r.emit(evt)
	return nil
}

func (r *Registry) unregisterLocked(name string) (events.Event, error) {
	r.mu.RLock()
	cfg, ok := r.configs[name]
	r.mu.RUnlock()
	if !ok {
		return events.Event{}, &NotFoundError{Name: name}
	}

	if r.factory != nil {
		r.factory.RemoveTool(name)
	}
	r.mu.Lock()
	delete(r.configs, name)
	r.mu.Unlock()

	logging.With("subagents.registry").Info().Str("subagent", name).Msg("subagent unregistered")

	return events.New(events.SubagentUnregistered, events.RegistrationPayload{
		Name:     name,
		ToolName: ToolName(name),
		Scope:    string(cfg.EffectiveScope()),
	}), nil
}

// Get returns a copy of the named config.
func (r *Registry) Get(name string) (*Config, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.configs[name]
	if !ok {
		return nil, &NotFoundError{Name: name}
	}
	return cfg.Clone(), nil
}

// Exists reports whether name is registered.
func (r *Registry) Exists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.configs[name]
	return ok
}

// List returns copies of the configs matching f, sorted by name.
func (r *Registry) List(f Filter) []*Config {
	r.mu.RLock()
	out := make([]*Config, 0, len(r.configs))
	for _, cfg := range r.configs {
		if f.matches(cfg) {
			out = append(out, cfg.Clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (f Filter) matches(cfg *Config) bool {
	if f.Scope != "" && cfg.EffectiveScope() != f.Scope {
		return false
	}
	if len(f.Tags) == 0 {
		return true
	}
	for _, tag := range f.Tags {
		if slices.Contains(cfg.Tags, tag) {
			return true
		}
	}
	return false
}

// Names returns every registered name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.configs))
	for name := range r.configs {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// ToolNames returns the agent.<name> identifier of every registered subagent.
func (r *Registry) ToolNames() []string {
	names := r.Names()
	for i, name := range names {
		names[i] = ToolName(name)
	}
	return names
}

// Len reports how many subagents are registered.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.configs)
}

// Reload loads a fresh set from src and applies the difference: names no
// longer present are unregistered, new names are registered and names present
// on both sides are left untouched. A load failure leaves the registry as is.
func (r *Registry) Reload(src Source) (ReloadResult, error) {
	if src == nil {
		return ReloadResult{}, errors.New("subagents: reload source is nil")
	}
	loaded, err := src.LoadAll()
	if err != nil {
		return ReloadResult{}, fmt.Errorf("subagents: reload: %w", err)
	}

	r.writeMu.Lock()

	r.mu.RLock()
	var removed []string
	for name := range r.configs {
		if _, ok := loaded[name]; !ok {
			removed = append(removed, name)
		}
	}
	r.mu.RUnlock()
	sort.Strings(removed)

	var added []string
	for name := range loaded {
		if !r.Exists(name) {
			added = append(added, name)
		}
	}
	sort.Strings(added)

	var (
		evts []events.Event
		errs []error
		res  ReloadResult
	)
	for _, name := range removed {
		evt, err := r.unregisterLocked(name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		res.Removed = append(res.Removed, name)
		evts = append(evts, evt)
	}
	for _, name := range added {
		cfg := loaded[name]
		if err := Validate(cfg); err != nil {
			errs = append(errs, err)
			continue
		}
		evt, err := r.registerLocked(cfg.Clone())
		if err != nil {
			errs = append(errs, err)
			continue
		}
		res.Added = append(res.Added, name)
		evts = append(evts, evt)
	}

	r.writeMu.Unlock()

	evts = append(evts, events.New(events.SubagentsReloaded, events.ReloadPayload{
		Added:   slices.Clone(res.Added),
		Removed: slices.Clone(res.Removed),
	}))
	r.emit(evts...)

	logging.With("subagents.registry").Info().
		Strs("added", res.Added).
		Strs("removed", res.Removed).
		Msg("subagents reloaded")

	return res, errors.Join(errs...)
}
