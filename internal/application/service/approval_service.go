package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/approval"
	"github.com/garyjia/expense-approval/internal/domain/entity"
)

const (
	defaultPageLimit = 10
	maxPageLimit     = 100

	urgentDaysPending = 5
	highValueAmount   = 1000
)

// PermissionChecker evaluates an actor against an expense without writing
type PermissionChecker interface {
	CheckPermission(ctx context.Context, expense *entity.Expense, actor *entity.User) (approval.PermissionResult, error)
}

// CurrentStep describes the step the caller would act on
type CurrentStep struct {
	Index         int    `json:"index"`
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	ApprovalLevel string `json:"approval_level"`
}

// WorkflowProgress summarizes how far an expense has come
type WorkflowProgress struct {
	TotalSteps       int               `json:"total_steps"`
	CurrentStepIndex int               `json:"current_step_index"`
	CompletedSteps   int               `json:"completed_steps"`
	WorkflowType     entity.RuleFamily `json:"workflow_type,omitempty"`
}

// PendingApproval is one expense the caller may act on now
type PendingApproval struct {
	Expense          *entity.Expense  `json:"expense"`
	CurrentStep      CurrentStep      `json:"current_step"`
	WorkflowProgress WorkflowProgress `json:"workflow_progress"`
	DaysPending      int              `json:"days_pending"`
	Priority         float64          `json:"priority"`
}

// PendingSummary aggregates the whole pending set, not just one page
type PendingSummary struct {
	TotalPending   int     `json:"total_pending"`
	TotalAmount    float64 `json:"total_amount"`
	AvgDaysPending int     `json:"avg_days_pending"`
	UrgentCount    int     `json:"urgent_count"`
	HighValueCount int     `json:"high_value_count"`
}

// Pagination describes the returned page
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// PendingApprovalsPage is the "pending approvals for me" result
type PendingApprovalsPage struct {
	Items      []PendingApproval `json:"items"`
	Summary    PendingSummary    `json:"summary"`
	Pagination Pagination        `json:"pagination"`
}

// ApprovalService answers which expenses a user may approve now
type ApprovalService interface {
	ListPendingFor(ctx context.Context, caller *entity.User, page, limit int) (*PendingApprovalsPage, error)

	// Permission evaluates whether caller may act on the expense now
	Permission(ctx context.Context, caller *entity.User, expenseID string) (approval.PermissionResult, error)
}

type approvalServiceImpl struct {
	expenseRepo  port.ExpenseRepository
	workflowRepo port.WorkflowRepository
	checker      PermissionChecker
	logger       Logger
	now          func() time.Time
}

// NewApprovalService creates a new ApprovalService
func NewApprovalService(
	expenseRepo port.ExpenseRepository,
	workflowRepo port.WorkflowRepository,
	checker PermissionChecker,
	logger Logger,
) ApprovalService {
	return &approvalServiceImpl{
		expenseRepo:  expenseRepo,
		workflowRepo: workflowRepo,
		checker:      checker,
		logger:       loggerOrNop(logger),
		now:          time.Now,
	}
}

// ListPendingFor returns the PENDING expenses caller may act on, highest
// priority first
func (s *approvalServiceImpl) ListPendingFor(ctx context.Context, caller *entity.User, page, limit int) (*PendingApprovalsPage, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	pending, err := s.expenseRepo.ListPending(ctx, caller.CompanyID)
	if err != nil {
		s.logger.Error("Failed to list pending expenses", "error", err, "company_id", caller.CompanyID)
		return nil, fmt.Errorf("list pending expenses: %w", err)
	}

	now := s.now()
	defs := make(map[string]*entity.WorkflowDefinition)
	items := make([]PendingApproval, 0, len(pending))

	for _, expense := range pending {
		perm, err := s.checker.CheckPermission(ctx, expense, caller)
		if err != nil {
			return nil, err
		}
		if !perm.CanAct {
			continue
		}

		def, err := s.definition(ctx, defs, expense)
		if err != nil {
			return nil, err
		}

		days := expense.DaysPending(now)
		items = append(items, PendingApproval{
			Expense: expense,
			CurrentStep: CurrentStep{
				Index:         expense.CurrentStepIndex,
				Name:          perm.CurrentStepName,
				Description:   perm.StepDescription,
				ApprovalLevel: perm.ApprovalLevel,
			},
			WorkflowProgress: progressOf(expense, def),
			DaysPending:      days,
			Priority:         expense.Amount*0.7 + float64(days)*0.3,
		})
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Priority > items[j].Priority
	})

	result := &PendingApprovalsPage{
		Summary: summarize(items),
		Pagination: Pagination{
			Page:       page,
			Limit:      limit,
			Total:      len(items),
			TotalPages: (len(items) + limit - 1) / limit,
		},
	}

	start := (page - 1) * limit
	if start > len(items) {
		start = len(items)
	}
	end := start + limit
	if end > len(items) {
		end = len(items)
	}
	result.Items = items[start:end]

	return result, nil
}

func (s *approvalServiceImpl) Permission(ctx context.Context, caller *entity.User, expenseID string) (approval.PermissionResult, error) {
	expense, err := s.expenseRepo.GetByID(ctx, caller.CompanyID, expenseID)
	if err != nil {
		return approval.PermissionResult{}, fmt.Errorf("get expense: %w", err)
	}
	if expense == nil {
		return approval.PermissionResult{}, port.ErrExpenseNotFound
	}
	return s.checker.CheckPermission(ctx, expense, caller)
}

func (s *approvalServiceImpl) definition(ctx context.Context, cache map[string]*entity.WorkflowDefinition, expense *entity.Expense) (*entity.WorkflowDefinition, error) {
	if expense.WorkflowID == "" {
		return nil, nil
	}
	if def, ok := cache[expense.WorkflowID]; ok {
		return def, nil
	}
	def, err := s.workflowRepo.GetByID(ctx, expense.CompanyID, expense.WorkflowID)
	if err != nil {
		return nil, fmt.Errorf("get workflow: %w", err)
	}
	cache[expense.WorkflowID] = def
	return def, nil
}

func progressOf(expense *entity.Expense, def *entity.WorkflowDefinition) WorkflowProgress {
	progress := WorkflowProgress{
		TotalSteps:       1,
		CurrentStepIndex: expense.CurrentStepIndex,
		CompletedSteps:   len(expense.ApprovedRecords()),
	}
	if def != nil {
		progress.TotalSteps = def.TotalSteps()
		progress.WorkflowType = def.RuleFamily
		if progress.CompletedSteps > progress.TotalSteps {
			progress.CompletedSteps = progress.TotalSteps
		}
	}
	return progress
}

func summarize(items []PendingApproval) PendingSummary {
	summary := PendingSummary{TotalPending: len(items)}
	if len(items) == 0 {
		return summary
	}

	totalDays := 0
	for _, item := range items {
		summary.TotalAmount += item.Expense.Amount
		totalDays += item.DaysPending
		if item.DaysPending > urgentDaysPending {
			summary.UrgentCount++
		}
		if item.Expense.Amount > highValueAmount {
			summary.HighValueCount++
		}
	}
	summary.TotalAmount = roundCents(summary.TotalAmount)
	summary.AvgDaysPending = int(math.Round(float64(totalDays) / float64(len(items))))
	return summary
}
