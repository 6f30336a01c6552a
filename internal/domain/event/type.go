package event

// Type identifies the type of domain event
type Type string

const (
	TypeExpenseSubmitted Type = "expense.submitted"
	TypeApprovalRecorded Type = "expense.approval_recorded"
	TypeExpenseApproved  Type = "expense.approved"
	TypeExpenseRejected  Type = "expense.rejected"
	TypeExpenseCancelled Type = "expense.cancelled"
	TypeReminderDue      Type = "expense.reminder_due"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeExpenseSubmitted,
		TypeApprovalRecorded,
		TypeExpenseApproved,
		TypeExpenseRejected,
		TypeExpenseCancelled,
		TypeReminderDue:
		return true
	default:
		return false
	}
}

// Payload keys shared by producers and handlers
const (
	KeySubmitterID    = "submitter_id"
	KeyActorID        = "actor_id"
	KeyRecipientIDs   = "recipient_ids"
	KeyStepName       = "step_name"
	KeyComment        = "comment"
	KeyPreviousStatus = "previous_status"
	KeyNewStatus      = "new_status"
	KeyAmount         = "amount"
	KeyDaysPending    = "days_pending"
)
