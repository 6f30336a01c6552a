package approval

import (
	"fmt"

	"github.com/garyjia/expense-approval/internal/domain/entity"
)

// ProgressResult is the engine state after one recorded decision
type ProgressResult struct {
	NextStepIndex int
	FinalStatus   entity.ExpenseStatus
	IsComplete    bool
	Message       string
}

// Advance computes the status and pointer after record was appended to
// expense.Approvals. Completion is always derived from the full approvals
// history, never from the stored pointer.
func Advance(expense *entity.Expense, def *entity.WorkflowDefinition, record entity.ApprovalRecord) ProgressResult {
	if record.Decision == entity.DecisionRejected {
		return ProgressResult{
			NextStepIndex: expense.CurrentStepIndex,
			FinalStatus:   entity.StatusRejected,
			IsComplete:    true,
			Message:       "Expense rejected",
		}
	}

	// without a workflow the submitter's manager (or an admin) decides alone
	if def == nil {
		return ProgressResult{
			NextStepIndex: expense.CurrentStepIndex,
			FinalStatus:   entity.StatusApproved,
			IsComplete:    true,
			Message:       "Expense fully approved",
		}
	}

	next := NextStepIndex(expense, def)
	if IsComplete(expense, def) {
		return ProgressResult{
			NextStepIndex: next,
			FinalStatus:   entity.StatusApproved,
			IsComplete:    true,
			Message:       "Expense fully approved",
		}
	}

	return ProgressResult{
		NextStepIndex: next,
		FinalStatus:   entity.StatusPending,
		Message:       pendingMessage(expense, def, next),
	}
}

// IsComplete reports whether the approvals history satisfies def
func IsComplete(expense *entity.Expense, def *entity.WorkflowDefinition) bool {
	switch def.RuleFamily {
	case entity.RuleSequential:
		if len(def.Steps) == 0 {
			return false
		}
		return firstUnapprovedStep(expense, len(def.Steps)) == len(def.Steps)

	case entity.RulePercentage:
		if len(def.EligibleApprovers) == 0 {
			return false
		}
		required := RequiredApprovals(def.ThresholdPercentage, len(def.EligibleApprovers))
		return len(expense.ApprovedRecords()) >= required

	case entity.RuleSpecific:
		if len(def.RequiredApprovers) == 0 {
			return false
		}
		return len(OutstandingApprovers(expense, def)) == 0

	case entity.RuleHybrid:
		// primary and secondary are independent alternatives
		primary := def.PrimaryRule == entity.RuleSequential &&
			IsComplete(expense, def.Sub(entity.RuleSequential))
		return primary || hybridSecondaryComplete(expense, def)

	default:
		return false
	}
}

// hybridSecondaryComplete runs the secondary completion check. Step
// sign-offs by actors outside the eligible list do not count toward the
// quorum.
func hybridSecondaryComplete(expense *entity.Expense, def *entity.WorkflowDefinition) bool {
	switch def.SecondaryRule {
	case entity.RulePercentage:
		if len(def.EligibleApprovers) == 0 {
			return false
		}
		votes := 0
		for _, r := range expense.ApprovedRecords() {
			if r.ApprovalLevel == entity.LevelHybridSequential &&
				!matchesAny(def.EligibleApprovers, entity.Actor{ID: r.ActorID, Role: r.ActorRole}) {
				continue
			}
			votes++
		}
		return votes >= RequiredApprovals(def.ThresholdPercentage, len(def.EligibleApprovers))
	case entity.RuleSpecific:
		return IsComplete(expense, def.Sub(entity.RuleSpecific))
	default:
		return false
	}
}

// RecordStepIndex is the step a vote authorized by perm signs off. Votes
// cast through a hybrid secondary rule sign off none.
func RecordStepIndex(expense *entity.Expense, perm PermissionResult) int {
	if isSecondaryVote(perm.ApprovalLevel) {
		return entity.NoStepIndex
	}
	return expense.CurrentStepIndex
}

// RequiredApprovals is ceil(threshold/100 * eligible) in integer arithmetic.
// A threshold of 0 requires no approvals.
func RequiredApprovals(threshold, eligible int) int {
	if threshold <= 0 || eligible <= 0 {
		return 0
	}
	if threshold > 100 {
		threshold = 100
	}
	return (threshold*eligible + 99) / 100
}

// NextStepIndex is the lowest step with no APPROVED record, or len(steps)
// when all are approved. Families without steps keep the stored pointer.
func NextStepIndex(expense *entity.Expense, def *entity.WorkflowDefinition) int {
	if !hasSteps(def) {
		return expense.CurrentStepIndex
	}
	return firstUnapprovedStep(expense, len(def.Steps))
}

// StepAt returns the sequential step at index when def has one there
func StepAt(def *entity.WorkflowDefinition, index int) (entity.ApprovalStep, bool) {
	if def == nil || !hasSteps(def) || index < 0 || index >= len(def.Steps) {
		return entity.ApprovalStep{}, false
	}
	return def.Steps[index], true
}

// OutstandingApprovers returns the required approvers of a specific-approver
// rule that no APPROVED record satisfies yet
func OutstandingApprovers(expense *entity.Expense, def *entity.WorkflowDefinition) []entity.ApproverRef {
	approved := expense.ApprovedRecords()
	var outstanding []entity.ApproverRef
	for _, ref := range def.RequiredApprovers {
		satisfied := false
		for _, r := range approved {
			if (ref.Kind == entity.ApproverRole && string(r.ActorRole) == ref.Value) ||
				(ref.Kind == entity.ApproverUser && r.ActorID == ref.Value) {
				satisfied = true
				break
			}
		}
		if !satisfied {
			outstanding = append(outstanding, ref)
		}
	}
	return outstanding
}

func hasSteps(def *entity.WorkflowDefinition) bool {
	switch def.RuleFamily {
	case entity.RuleSequential:
		return true
	case entity.RuleHybrid:
		return def.PrimaryRule == entity.RuleSequential
	default:
		return false
	}
}

func firstUnapprovedStep(expense *entity.Expense, total int) int {
	approved := approvedSteps(expense)
	for i := 0; i < total; i++ {
		if !approved[i] {
			return i
		}
	}
	return total
}

func pendingMessage(expense *entity.Expense, def *entity.WorkflowDefinition, next int) string {
	switch def.RuleFamily {
	case entity.RulePercentage:
		return fmt.Sprintf("Approval recorded (%d of %d required approvals)",
			len(expense.ApprovedRecords()),
			RequiredApprovals(def.ThresholdPercentage, len(def.EligibleApprovers)))
	case entity.RuleSpecific:
		return fmt.Sprintf("Approval recorded, %d required approver(s) outstanding",
			len(OutstandingApprovers(expense, def)))
	}

	if step, ok := StepAt(def, next); ok {
		return fmt.Sprintf("Approval recorded, awaiting step %d: %s", next+1, step.Name)
	}
	return "Approval recorded"
}
