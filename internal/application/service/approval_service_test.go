package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/approval"
	"github.com/garyjia/expense-approval/internal/domain/entity"
)

// allowListChecker allows acting on the listed expense ids only
type allowListChecker struct {
	allowed map[string]bool
}

func (c *allowListChecker) CheckPermission(ctx context.Context, expense *entity.Expense, actor *entity.User) (approval.PermissionResult, error) {
	if !c.allowed[expense.ID] {
		return approval.PermissionResult{Reason: "not yours"}, nil
	}
	return approval.PermissionResult{
		CanAct:          true,
		CurrentStepName: "Manager Review",
		ApprovalLevel:   entity.LevelManager,
	}, nil
}

func pendingAt(id string, amount float64, submitted time.Time, workflowID string) *entity.Expense {
	return &entity.Expense{
		ID:          id,
		CompanyID:   testCompany,
		SubmitterID: "emp",
		Amount:      amount,
		Status:      entity.StatusPending,
		WorkflowID:  workflowID,
		SubmittedAt: &submitted,
	}
}

func TestApprovalService_ListPendingFor(t *testing.T) {
	now := time.Date(2026, 5, 20, 12, 0, 0, 0, time.UTC)
	day := 24 * time.Hour

	expenses := newMemExpenseRepo(
		pendingAt("small-old", 100, now.Add(-10*day), "wf-seq"),
		pendingAt("big-new", 2000, now.Add(-2*time.Hour), ""),
		pendingAt("mid", 500, now.Add(-3*day), "wf-seq"),
		pendingAt("not-mine", 9000, now.Add(-day), ""),
	)
	workflows := newMemWorkflowRepo(&entity.WorkflowDefinition{
		ID:         "wf-seq",
		CompanyID:  testCompany,
		Name:       "Three step",
		RuleFamily: entity.RuleSequential,
		Steps:      make([]entity.ApprovalStep, 3),
	})
	checker := &allowListChecker{allowed: map[string]bool{"small-old": true, "big-new": true, "mid": true}}

	svc := NewApprovalService(expenses, workflows, checker, &mockLogger{}).(*approvalServiceImpl)
	svc.now = func() time.Time { return now }

	page, err := svc.ListPendingFor(context.Background(), testUsers().users["mgr"], 1, 2)
	require.NoError(t, err)

	require.Len(t, page.Items, 2)
	assert.Equal(t, "big-new", page.Items[0].Expense.ID)
	assert.Equal(t, "mid", page.Items[1].Expense.ID)

	assert.Equal(t, 1, page.Items[0].DaysPending)
	assert.Equal(t, 2000*0.7+1*0.3, page.Items[0].Priority)
	assert.Equal(t, 1, page.Items[0].WorkflowProgress.TotalSteps)
	assert.Equal(t, 3, page.Items[1].WorkflowProgress.TotalSteps)
	assert.Equal(t, entity.RuleSequential, page.Items[1].WorkflowProgress.WorkflowType)
	assert.Equal(t, "Manager Review", page.Items[1].CurrentStep.Name)
	assert.Equal(t, entity.LevelManager, page.Items[1].CurrentStep.ApprovalLevel)

	assert.Equal(t, Pagination{Page: 1, Limit: 2, Total: 3, TotalPages: 2}, page.Pagination)
	assert.Equal(t, PendingSummary{
		TotalPending:   3,
		TotalAmount:    2600,
		AvgDaysPending: 5, // (10 + 1 + 3) / 3 rounded
		UrgentCount:    1,
		HighValueCount: 1,
	}, page.Summary)

	second, err := svc.ListPendingFor(context.Background(), testUsers().users["mgr"], 2, 2)
	require.NoError(t, err)
	require.Len(t, second.Items, 1)
	assert.Equal(t, "small-old", second.Items[0].Expense.ID)
	assert.Equal(t, 3, second.Summary.TotalPending)
}

func TestApprovalService_PaginationBounds(t *testing.T) {
	svc := NewApprovalService(newMemExpenseRepo(), newMemWorkflowRepo(), &allowListChecker{}, nil)

	page, err := svc.ListPendingFor(context.Background(), testUsers().users["mgr"], 0, 500)
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.Equal(t, 1, page.Pagination.Page)
	assert.Equal(t, 100, page.Pagination.Limit)
	assert.Equal(t, 0, page.Pagination.TotalPages)

	page, err = svc.ListPendingFor(context.Background(), testUsers().users["mgr"], 7, 0)
	require.NoError(t, err)
	assert.Equal(t, 10, page.Pagination.Limit)
	assert.Empty(t, page.Items)
}

func TestApprovalService_Permission(t *testing.T) {
	now := time.Now()
	expenses := newMemExpenseRepo(pendingAt("exp-1", 50, now, ""))
	checker := &allowListChecker{allowed: map[string]bool{"exp-1": true}}
	svc := NewApprovalService(expenses, newMemWorkflowRepo(), checker, nil)
	mgr := testUsers().users["mgr"]

	perm, err := svc.Permission(context.Background(), mgr, "exp-1")
	require.NoError(t, err)
	assert.True(t, perm.CanAct)
	assert.Equal(t, "Manager Review", perm.CurrentStepName)

	_, err = svc.Permission(context.Background(), mgr, "missing")
	assert.ErrorIs(t, err, port.ErrExpenseNotFound)
	assert.True(t, IsNotFound(err))
}
