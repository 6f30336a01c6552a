package workflow

import "context"

// Transition describes one executed state change
type Transition struct {
	From    State
	To      State
	Trigger Trigger
}

// StateMachine tracks the current state of one expense and validates transitions
type StateMachine interface {
	// State returns the current state
	State() State

	// CanFire reports whether the trigger would succeed now, guards included
	CanFire(ctx context.Context, trigger Trigger) bool

	// Fire executes the trigger and returns the transition taken
	Fire(ctx context.Context, trigger Trigger) (Transition, error)

	// PermittedTriggers returns the configured triggers of the current state, sorted
	PermittedTriggers() []Trigger
}
