package workflow

import (
	"context"
	"fmt"
	"sort"
)

// GuardFunc decides whether a guarded transition may be taken
type GuardFunc func(ctx context.Context) bool

// StateMachineBuilder collects transitions and builds independent machines
type StateMachineBuilder interface {
	// Configure returns the transition table of the given state
	Configure(state State) StateConfiguration

	// Build creates a machine positioned at initialState
	Build(initialState State) StateMachine
}

// StateConfiguration configures the outgoing transitions of one state
type StateConfiguration interface {
	// Permit allows trigger to move to toState unconditionally
	Permit(trigger Trigger, toState State) StateConfiguration

	// PermitIf allows trigger to move to toState when guard passes.
	// Transitions of one trigger are tried in registration order.
	PermitIf(trigger Trigger, toState State, guard GuardFunc) StateConfiguration
}

type transition struct {
	toState State
	guard   GuardFunc
}

type transitionTable map[Trigger][]transition

type stateConfig struct {
	fromState   State
	transitions transitionTable
}

type stateMachineBuilder struct {
	configurations map[State]*stateConfig
}

type stateMachine struct {
	currentState State
	table        map[State]transitionTable
}

// NewBuilder creates an empty builder
func NewBuilder() StateMachineBuilder {
	return &stateMachineBuilder{
		configurations: make(map[State]*stateConfig),
	}
}

func (b *stateMachineBuilder) Configure(state State) StateConfiguration {
	if !state.IsValid() {
		panic(fmt.Sprintf("invalid state: %s", state))
	}
	if state.IsTerminal() {
		panic(fmt.Sprintf("terminal state %s cannot have outgoing transitions", state))
	}

	config, exists := b.configurations[state]
	if !exists {
		config = &stateConfig{
			fromState:   state,
			transitions: make(transitionTable),
		}
		b.configurations[state] = config
	}
	return config
}

func (b *stateMachineBuilder) Build(initialState State) StateMachine {
	if !initialState.IsValid() {
		panic(fmt.Sprintf("invalid initial state: %s", initialState))
	}

	// machines never share transition slices with the builder
	table := make(map[State]transitionTable, len(b.configurations))
	for state, config := range b.configurations {
		copied := make(transitionTable, len(config.transitions))
		for trigger, ts := range config.transitions {
			copied[trigger] = append([]transition(nil), ts...)
		}
		table[state] = copied
	}

	return &stateMachine{
		currentState: initialState,
		table:        table,
	}
}

func (c *stateConfig) Permit(trigger Trigger, toState State) StateConfiguration {
	return c.PermitIf(trigger, toState, nil)
}

func (c *stateConfig) PermitIf(trigger Trigger, toState State, guard GuardFunc) StateConfiguration {
	if !toState.IsValid() {
		panic(fmt.Sprintf("invalid target state: %s", toState))
	}

	c.transitions[trigger] = append(c.transitions[trigger], transition{
		toState: toState,
		guard:   guard,
	})
	return c
}

func (m *stateMachine) State() State {
	return m.currentState
}

func (m *stateMachine) CanFire(ctx context.Context, trigger Trigger) bool {
	_, ok := m.resolve(ctx, trigger)
	return ok
}

func (m *stateMachine) Fire(ctx context.Context, trigger Trigger) (Transition, error) {
	from := m.currentState
	if from.IsTerminal() {
		return Transition{}, fmt.Errorf("%w: cannot fire %s from %s", ErrTerminalState, trigger, from)
	}

	if len(m.table[from][trigger]) == 0 {
		return Transition{}, fmt.Errorf("%w: cannot fire %s from %s", ErrInvalidTransition, trigger, from)
	}

	to, ok := m.resolve(ctx, trigger)
	if !ok {
		return Transition{}, fmt.Errorf("%w: trigger %s from %s", ErrGuardFailed, trigger, from)
	}

	m.currentState = to
	return Transition{From: from, To: to, Trigger: trigger}, nil
}

func (m *stateMachine) PermittedTriggers() []Trigger {
	transitions := m.table[m.currentState]
	triggers := make([]Trigger, 0, len(transitions))
	for trigger, ts := range transitions {
		if len(ts) > 0 {
			triggers = append(triggers, trigger)
		}
	}
	sort.Slice(triggers, func(i, j int) bool { return triggers[i] < triggers[j] })
	return triggers
}

// resolve returns the target of the first transition whose guard passes
func (m *stateMachine) resolve(ctx context.Context, trigger Trigger) (State, bool) {
	for _, t := range m.table[m.currentState][trigger] {
		if t.guard == nil || t.guard(ctx) {
			return t.toState, true
		}
	}
	return "", false
}
