package workflow

// State is an expense lifecycle state
type State string

const (
	StateDraft     State = "DRAFT"
	StatePending   State = "PENDING"
	StateApproved  State = "APPROVED"
	StateRejected  State = "REJECTED"
	StateCancelled State = "CANCELLED"
)

var validStates = map[State]bool{
	StateDraft:     true,
	StatePending:   true,
	StateApproved:  true,
	StateRejected:  true,
	StateCancelled: true,
}

var terminalStates = map[State]bool{
	StateApproved:  true,
	StateRejected:  true,
	StateCancelled: true,
}

// IsTerminal returns true if no transition may leave the state
func (s State) IsTerminal() bool {
	return terminalStates[s]
}

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// IsValid returns true if the state is a known lifecycle state
func (s State) IsValid() bool {
	return validStates[s]
}
