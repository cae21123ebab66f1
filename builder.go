package lifeline

import (
	"fmt"

	"github.com/perola/lifeline/pkg/api"
)

// LifecycleBuilder provides a fluent API for defining lifecycles:
//
//	def := lifeline.NewLifecycle("ticket", "open").
//	    Statuses("open", "in-progress", "closed").
//	    Terminal("closed").
//	    State(func() any { return &TicketState{} }).
//	    Transition("start", lifeline.From("open"), "in-progress", startWork).
//	    Transition("close", lifeline.From("open", "in-progress"), "closed", closeOut).
//	    Build()
//
//	if err := engine.RegisterLifecycle(def); err != nil {
//	    log.Fatal(err)
//	}
type LifecycleBuilder struct {
	def api.LifecycleDefinition
}

// NewLifecycle creates a builder for a lifecycle of the given entity type
// starting in the given status.
func NewLifecycle(entityType EntityType, initial Status) *LifecycleBuilder {
	return &LifecycleBuilder{
		def: api.LifecycleDefinition{
			EntityType: entityType,
			Initial:    initial,
			Queries:    make(map[string]api.QueryFunc),
		},
	}
}

// From is a readability helper for a transition's source statuses.
func From(statuses ...Status) []Status {
	return statuses
}

// Statuses declares the full fixed set of statuses.
func (b *LifecycleBuilder) Statuses(statuses ...Status) *LifecycleBuilder {
	b.def.Statuses = statuses
	return b
}

// Terminal declares which statuses are terminal.
func (b *LifecycleBuilder) Terminal(statuses ...Status) *LifecycleBuilder {
	b.def.Terminal = statuses
	return b
}

// State sets the constructor for the lifecycle's state document.
func (b *LifecycleBuilder) State(newState func() any) *LifecycleBuilder {
	b.def.NewState = newState
	return b
}

// Seed sets the function applied when an instance is created.
func (b *LifecycleBuilder) Seed(seed ApplyFunc) *LifecycleBuilder {
	b.def.Seed = seed
	return b
}

// Transition appends an unguarded transition.
func (b *LifecycleBuilder) Transition(signal string, from []Status, to Status, apply ApplyFunc) *LifecycleBuilder {
	return b.add(api.Transition{Signal: signal, From: from, To: to, Apply: apply})
}

// GuardedTransition appends a transition whose guard must pass before the
// transition is committed.
func (b *LifecycleBuilder) GuardedTransition(signal string, from []Status, to Status, guard GuardFunc, apply ApplyFunc) *LifecycleBuilder {
	return b.add(api.Transition{Signal: signal, From: from, To: to, Guard: guard, Apply: apply})
}

// TerminalTransition appends a transition that is allowed from terminal
// statuses (subject to its guard), such as archival or access-control
// updates on published documents.
func (b *LifecycleBuilder) TerminalTransition(signal string, to Status, guard GuardFunc, apply ApplyFunc) *LifecycleBuilder {
	return b.add(api.Transition{Signal: signal, FromTerminal: true, To: to, Guard: guard, Apply: apply})
}

// Add appends a fully specified transition for cases the shorthand methods
// don't cover (synchronous activities, audit actions).
func (b *LifecycleBuilder) Add(t Transition) *LifecycleBuilder {
	return b.add(t)
}

func (b *LifecycleBuilder) add(t api.Transition) *LifecycleBuilder {
	if t.Signal == "" {
		panic("lifeline: transition signal must not be empty")
	}
	if t.Apply == nil {
		panic(fmt.Sprintf("lifeline: transition %q has nil apply function", t.Signal))
	}
	b.def.Transitions = append(b.def.Transitions, t)
	return b
}

// Query registers a named read-only query over the state document.
func (b *LifecycleBuilder) Query(name string, fn QueryFunc) *LifecycleBuilder {
	if name == "" {
		panic("lifeline: query name must not be empty")
	}
	b.def.Queries[name] = fn
	return b
}

// Definition returns a pointer to the definition under construction, for
// the few hooks that have no fluent shorthand (OnActivityResult, DueDates,
// Escalate).
func (b *LifecycleBuilder) Definition() *api.LifecycleDefinition {
	return &b.def
}

// Build validates and returns the definition.
// It panics if the definition is invalid; use Definition() plus
// LifecycleDefinition.Validate for error-returning construction.
func (b *LifecycleBuilder) Build() api.LifecycleDefinition {
	if err := b.def.Validate(); err != nil {
		panic(fmt.Sprintf("lifeline: invalid lifecycle %q: %v", b.def.EntityType, err))
	}
	return b.def
}

// Register validates the definition and registers it with the engine.
func (b *LifecycleBuilder) Register(eng Engine) error {
	return eng.RegisterLifecycle(b.def)
}

// MustRegister is like Register but panics on error.
// Useful for initialization in main().
func (b *LifecycleBuilder) MustRegister(eng Engine) {
	if err := b.Register(eng); err != nil {
		panic(err)
	}
}
