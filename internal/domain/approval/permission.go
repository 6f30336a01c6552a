// Package approval holds the pure decision logic of the expense approval
// engine: who may act on an expense now, when the workflow is satisfied,
// and which workflow definitions are well formed.
package approval

import (
	"fmt"
	"strings"

	"github.com/garyjia/expense-approval/internal/domain/entity"
)

const (
	stepAdminOverride = "Admin Override"
	stepManager       = "Manager Approval"
	stepPercentage    = "Percentage Approval"
	stepSpecific      = "Specific Approval"
	stepHybrid        = "Hybrid Approval"
	hybridPrefix      = "Hybrid: "
)

// PermissionResult is the outcome of a permission check
type PermissionResult struct {
	CanAct          bool   `json:"can_act"`
	Reason          string `json:"reason"`
	CurrentStepName string `json:"current_step_name,omitempty"`
	StepDescription string `json:"step_description,omitempty"`
	ApprovalLevel   string `json:"approval_level,omitempty"`
	AlreadyVoted    bool   `json:"already_voted,omitempty"`
}

// Err returns nil when the actor may act, otherwise a *ForbiddenError
func (r PermissionResult) Err() error {
	if r.CanAct {
		return nil
	}
	return &ForbiddenError{
		Reason:       r.Reason,
		StepName:     r.CurrentStepName,
		AlreadyVoted: r.AlreadyVoted,
	}
}

// CheckPermission decides whether actor may approve or reject expense in its
// current state. def is nil when no workflow is attached. The actor's
// ManagerOfSubmitter flag must already be resolved against the org chart.
func CheckPermission(expense *entity.Expense, def *entity.WorkflowDefinition, actor entity.Actor) PermissionResult {
	if prior, ok := expense.RecordBy(actor.ID); ok {
		return PermissionResult{
			Reason:       fmt.Sprintf("You have already %s this expense", strings.ToLower(string(prior.Decision))),
			AlreadyVoted: true,
		}
	}

	if actor.Role == entity.RoleAdmin && actor.CompanyID == expense.CompanyID {
		return allow("Admin override permission", stepAdminOverride,
			"Administrator can approve any expense", entity.LevelAdminOverride)
	}

	if def == nil {
		if actor.Role == entity.RoleManager && actor.ManagerOfSubmitter {
			return allow("Manager approval for subordinate", stepManager,
				"Direct manager approval required", entity.LevelManager)
		}
		return deny("No approval workflow defined and user is not authorized", "", "")
	}

	return evaluate(expense, def, actor)
}

// evaluate dispatches on the rule family. Hybrid definitions call back into
// it with single-family sub-definitions.
func evaluate(expense *entity.Expense, def *entity.WorkflowDefinition, actor entity.Actor) PermissionResult {
	switch def.RuleFamily {
	case entity.RuleSequential:
		return checkSequential(expense, def, actor)
	case entity.RulePercentage:
		return checkPercentage(def, actor)
	case entity.RuleSpecific:
		return checkSpecific(def, actor)
	case entity.RuleHybrid:
		return checkHybrid(expense, def, actor)
	default:
		return deny(fmt.Sprintf("Unknown workflow type %q", def.RuleFamily), "", "")
	}
}

func checkSequential(expense *entity.Expense, def *entity.WorkflowDefinition, actor entity.Actor) PermissionResult {
	steps := def.Steps
	if len(steps) == 0 {
		return deny("No approval steps defined", "", "")
	}

	current := expense.CurrentStepIndex
	if current < 0 {
		current = 0
	}

	// every earlier step needs an approval of its own, whatever the pointer says
	approved := approvedSteps(expense)
	for i := 0; i < current && i < len(steps); i++ {
		if !approved[i] {
			return deny(fmt.Sprintf("Step %d is not yet approved", i+1), "", "")
		}
	}

	if current >= len(steps) {
		return deny("All approval steps completed", "", "")
	}

	step := steps[current]

	if def.ManagerFirst && current == 0 && actor.ManagerOfSubmitter {
		return allow("Manager first approval required",
			valueOr(step.Name, stepManager),
			valueOr(step.Description, "Direct manager must approve first"),
			entity.LevelManagerFirst)
	}

	switch step.ApproverKind {
	case entity.ApproverRole:
		if string(actor.Role) == step.ApproverValue {
			return allow("Role-based approval: "+step.ApproverValue, step.Name, step.Description, step.ApproverValue)
		}
	case entity.ApproverUser:
		if actor.ID == step.ApproverValue {
			return allow("Specific user approval", step.Name, step.Description, entity.LevelSpecificUser)
		}
	case entity.ApproverManager:
		if actor.ManagerOfSubmitter {
			return allow("Manager approval", step.Name, step.Description, entity.LevelManager)
		}
	}

	return deny(fmt.Sprintf("Not authorized for step %d: %s", current+1, step.Name), step.Name, step.Description)
}

func checkPercentage(def *entity.WorkflowDefinition, actor entity.Actor) PermissionResult {
	if len(def.EligibleApprovers) == 0 {
		return deny("No eligible approvers defined", stepPercentage, "")
	}

	description := fmt.Sprintf("Requires %d%% approval from eligible approvers", def.ThresholdPercentage)
	if !matchesAny(def.EligibleApprovers, actor) {
		return deny("Not in eligible approvers list", stepPercentage, description)
	}
	return allow("Eligible for percentage approval", stepPercentage, description, entity.LevelPercentage)
}

func checkSpecific(def *entity.WorkflowDefinition, actor entity.Actor) PermissionResult {
	if len(def.RequiredApprovers) == 0 {
		return deny("No required approvers defined", stepSpecific, "")
	}

	const description = "All specified approvers must approve"
	if !matchesAny(def.RequiredApprovers, actor) {
		return deny("Not in required approvers list", stepSpecific, description)
	}
	return allow("Required approver", stepSpecific, description, entity.LevelSpecific)
}

func checkHybrid(expense *entity.Expense, def *entity.WorkflowDefinition, actor entity.Actor) PermissionResult {
	if def.PrimaryRule == entity.RuleSequential {
		if r := evaluate(expense, def.Sub(entity.RuleSequential), actor); r.CanAct {
			return asHybrid(r, entity.LevelHybridSequential)
		}
	}

	switch def.SecondaryRule {
	case entity.RulePercentage:
		if r := evaluate(expense, def.Sub(entity.RulePercentage), actor); r.CanAct {
			return asHybrid(r, entity.LevelHybridPercentage)
		}
	case entity.RuleSpecific:
		if r := evaluate(expense, def.Sub(entity.RuleSpecific), actor); r.CanAct {
			return asHybrid(r, entity.LevelHybridSpecific)
		}
	}

	return deny("Does not meet any hybrid approval criteria", stepHybrid, "Multiple approval criteria required")
}

func asHybrid(r PermissionResult, level string) PermissionResult {
	r.CurrentStepName = hybridPrefix + r.CurrentStepName
	r.ApprovalLevel = level
	return r
}

func matchesAny(refs []entity.ApproverRef, actor entity.Actor) bool {
	for _, ref := range refs {
		if ref.Matches(actor) {
			return true
		}
	}
	return false
}

// approvedSteps returns the step indexes holding at least one APPROVED
// record. Votes cast through a hybrid secondary rule sign off no step.
func approvedSteps(expense *entity.Expense) map[int]bool {
	approved := make(map[int]bool, len(expense.Approvals))
	for _, r := range expense.Approvals {
		if r.Decision != entity.DecisionApproved || r.StepIndex < 0 || isSecondaryVote(r.ApprovalLevel) {
			continue
		}
		approved[r.StepIndex] = true
	}
	return approved
}

func isSecondaryVote(level string) bool {
	return level == entity.LevelHybridPercentage || level == entity.LevelHybridSpecific
}

func allow(reason, step, description, level string) PermissionResult {
	return PermissionResult{
		CanAct:          true,
		Reason:          reason,
		CurrentStepName: step,
		StepDescription: description,
		ApprovalLevel:   level,
	}
}

func deny(reason, step, description string) PermissionResult {
	return PermissionResult{
		Reason:          reason,
		CurrentStepName: step,
		StepDescription: description,
	}
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
