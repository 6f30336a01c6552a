package entity

import "time"

// Expense is a reimbursement request moving through an approval workflow
type Expense struct {
	ID               string        `json:"id"`
	CompanyID        string        `json:"company_id"`
	SubmitterID      string        `json:"submitter_id"`
	Description      string        `json:"description"`
	Category         string        `json:"category"`
	OriginalAmount   float64       `json:"original_amount"`
	OriginalCurrency string        `json:"original_currency"`
	Amount           float64       `json:"amount"` // in the company default currency
	ExchangeRate     float64       `json:"exchange_rate"`
	ExpenseDate      time.Time     `json:"expense_date"`
	Notes            string        `json:"notes,omitempty"`
	Status           ExpenseStatus `json:"status"`

	WorkflowID       string           `json:"workflow_id,omitempty"`
	CurrentStepIndex int              `json:"current_step_index"`
	Approvals        []ApprovalRecord `json:"approvals"`
	RejectionReason  string           `json:"rejection_reason,omitempty"`
	CancelReason     string           `json:"cancel_reason,omitempty"`

	SubmittedAt    *time.Time `json:"submitted_at,omitempty"`
	LastRemindedAt *time.Time `json:"last_reminded_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`

	// Version is bumped on every update and used for optimistic locking
	Version int64 `json:"version"`
}

// NoStepIndex marks a record that signs off no sequential step
const NoStepIndex = -1

// ApprovalRecord is one logged decision by one actor at one step.
// Records are append-only and never modified.
type ApprovalRecord struct {
	ID            int64     `json:"id"`
	ExpenseID     string    `json:"expense_id"`
	ActorID       string    `json:"actor_id"`
	ActorName     string    `json:"actor_name"`
	ActorRole     Role      `json:"actor_role"`
	Decision      Decision  `json:"decision"`
	Comment       string    `json:"comment,omitempty"`
	StepIndex     int       `json:"step_index"`
	StepName      string    `json:"step_name"`
	ApprovalLevel string    `json:"approval_level,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// RecordBy returns the first record logged by the given actor
func (e *Expense) RecordBy(actorID string) (ApprovalRecord, bool) {
	for _, r := range e.Approvals {
		if r.ActorID == actorID {
			return r, true
		}
	}
	return ApprovalRecord{}, false
}

// ApprovedRecords returns the APPROVED records in chronological order
func (e *Expense) ApprovedRecords() []ApprovalRecord {
	approved := make([]ApprovalRecord, 0, len(e.Approvals))
	for _, r := range e.Approvals {
		if r.Decision == DecisionApproved {
			approved = append(approved, r)
		}
	}
	return approved
}

// DaysPending returns the number of started days since submission
func (e *Expense) DaysPending(now time.Time) int {
	if e.SubmittedAt == nil {
		return 0
	}
	elapsed := now.Sub(*e.SubmittedAt)
	if elapsed <= 0 {
		return 0
	}
	days := int(elapsed / (24 * time.Hour))
	if elapsed%(24*time.Hour) != 0 {
		days++
	}
	return days
}

// Clone returns a deep copy so evaluators can work on a snapshot
func (e *Expense) Clone() *Expense {
	c := *e
	c.Approvals = append([]ApprovalRecord(nil), e.Approvals...)
	if e.SubmittedAt != nil {
		t := *e.SubmittedAt
		c.SubmittedAt = &t
	}
	if e.LastRemindedAt != nil {
		t := *e.LastRemindedAt
		c.LastRemindedAt = &t
	}
	return &c
}
