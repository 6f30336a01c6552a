package workflow

import (
	"context"

	"github.com/garyjia/expense-approval/internal/domain/approval"
	"github.com/garyjia/expense-approval/internal/domain/entity"
)

// ApprovalEngine orchestrates expense submission and approval decisions.
// Operations that change an expense are serialized per expense and run in
// one transaction; notification intents are dispatched after commit.
type ApprovalEngine interface {
	// ValidateDefinition checks workflow parameters before they are stored
	ValidateDefinition(def *entity.WorkflowDefinition) error

	// Submit moves a DRAFT expense to PENDING under workflowID. An empty
	// workflowID submits without a workflow (direct manager approval).
	Submit(ctx context.Context, submitter *entity.User, expenseID, workflowID string) (*entity.Expense, error)

	// Act records one decision by actor on a PENDING expense
	Act(ctx context.Context, actor *entity.User, expenseID string, decision entity.Decision, comment string) (*TransitionResult, error)

	// Approve is Act with DecisionApproved
	Approve(ctx context.Context, actor *entity.User, expenseID, comment string) (*TransitionResult, error)

	// Reject is Act with DecisionRejected
	Reject(ctx context.Context, actor *entity.User, expenseID, comment string) (*TransitionResult, error)

	// Cancel is the administrative override moving PENDING to CANCELLED
	Cancel(ctx context.Context, admin *entity.User, expenseID, reason string) (*entity.Expense, error)

	// CheckPermission evaluates whether actor may act on expense now,
	// without changing anything
	CheckPermission(ctx context.Context, expense *entity.Expense, actor *entity.User) (approval.PermissionResult, error)

	// NextApprovers returns the users deterministically expected to act
	// next. Empty for percentage and specific rules.
	NextApprovers(ctx context.Context, expense *entity.Expense) ([]*entity.User, error)
}

// TransitionResult is the outcome of one Act call
type TransitionResult struct {
	Expense         *entity.Expense         `json:"expense"`
	Status          entity.ExpenseStatus    `json:"status"`
	CurrentStepName string                  `json:"current_step_name,omitempty"`
	NextStepName    string                  `json:"next_step_name,omitempty"`
	ApprovalLevel   string                  `json:"approval_level,omitempty"`
	Approvals       []entity.ApprovalRecord `json:"approvals"`
	IsComplete      bool                    `json:"is_complete"`
	Message         string                  `json:"message"`
}
