package port

import (
	"context"
	"time"

	"github.com/garyjia/expense-approval/internal/domain/entity"
)

// ExpenseFilter narrows expense listings. Empty fields do not filter.
type ExpenseFilter struct {
	CompanyID    string
	SubmitterIDs []string
	Status       entity.ExpenseStatus
	Limit        int
	Offset       int
}

// ExpenseRepository defines persistence operations for Expense and its
// append-only approval records. Loads return (nil, nil) when not found.
type ExpenseRepository interface {
	Create(ctx context.Context, expense *entity.Expense) error

	// GetByID loads an expense with its approvals, scoped to companyID
	GetByID(ctx context.Context, companyID, id string) (*entity.Expense, error)

	// GetForUpdate loads like GetByID and locks the row for the rest of the
	// surrounding transaction
	GetForUpdate(ctx context.Context, companyID, id string) (*entity.Expense, error)

	// Update writes the mutable expense columns when the stored version
	// equals expense.Version, then bumps expense.Version. Returns
	// ErrConcurrentUpdate when the version moved.
	Update(ctx context.Context, expense *entity.Expense) error

	// AppendApproval inserts one approval record and sets record.ID
	AppendApproval(ctx context.Context, record *entity.ApprovalRecord) error

	List(ctx context.Context, filter ExpenseFilter) ([]*entity.Expense, error)

	// ListPending returns all PENDING expenses of a company with approvals
	ListPending(ctx context.Context, companyID string) ([]*entity.Expense, error)

	// ListReminderCandidates returns PENDING expenses of any company submitted
	// before submittedBefore and not reminded since remindedBefore
	ListReminderCandidates(ctx context.Context, submittedBefore, remindedBefore time.Time, limit int) ([]*entity.Expense, error)

	// MarkReminded stamps last_reminded_at without touching the version
	MarkReminded(ctx context.Context, id string, at time.Time) error

	// CountActiveByWorkflow counts PENDING and APPROVED expenses referencing a workflow
	CountActiveByWorkflow(ctx context.Context, companyID, workflowID string) (int, error)
}

// WorkflowRepository defines persistence operations for WorkflowDefinition
type WorkflowRepository interface {
	Create(ctx context.Context, def *entity.WorkflowDefinition) error
	GetByID(ctx context.Context, companyID, id string) (*entity.WorkflowDefinition, error)
	List(ctx context.Context, companyID string) ([]*entity.WorkflowDefinition, error)
	Update(ctx context.Context, def *entity.WorkflowDefinition) error
	Delete(ctx context.Context, companyID, id string) error
}

// CompanyRepository defines persistence operations for Company
type CompanyRepository interface {
	Create(ctx context.Context, company *entity.Company) error
	GetByID(ctx context.Context, id string) (*entity.Company, error)
}

// UserRepository defines persistence operations for User
type UserRepository interface {
	Create(ctx context.Context, user *entity.User) error
	GetByID(ctx context.Context, id string) (*entity.User, error)
	GetByEmail(ctx context.Context, email string) (*entity.User, error)
	ListByCompany(ctx context.Context, companyID string) ([]*entity.User, error)
	ListByRole(ctx context.Context, companyID string, role entity.Role) ([]*entity.User, error)

	// ListReports returns the direct reports of a manager
	ListReports(ctx context.Context, managerID string) ([]*entity.User, error)
}

// OrgChart answers reporting-line questions
type OrgChart interface {
	IsManagerOf(ctx context.Context, managerID, userID string) (bool, error)

	// ManagerOf returns the direct manager of userID, or nil
	ManagerOf(ctx context.Context, userID string) (*entity.User, error)
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
