package workflow

import "errors"

var (
	// ErrInvalidTransition is returned when no transition is configured for a trigger
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrInvalidState is returned when a state is not a lifecycle state
	ErrInvalidState = errors.New("invalid state")

	// ErrGuardFailed is returned when every guarded transition for a trigger refused
	ErrGuardFailed = errors.New("guard condition failed")

	// ErrTerminalState is returned when firing from a terminal state
	ErrTerminalState = errors.New("state is terminal")
)
