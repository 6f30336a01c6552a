package workflow

// Trigger is an action that may move an expense between states
type Trigger string

const (
	TriggerSubmit  Trigger = "SUBMIT"
	TriggerApprove Trigger = "APPROVE"
	TriggerReject  Trigger = "REJECT"
	TriggerCancel  Trigger = "CANCEL"
)

// String returns the string representation of the trigger
func (t Trigger) String() string {
	return string(t)
}
