package service

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/approval"
	"github.com/garyjia/expense-approval/internal/domain/entity"
)

// ExpenseInput carries the editable fields of a draft
type ExpenseInput struct {
	Description string    `json:"description"`
	Category    string    `json:"category"`
	Amount      float64   `json:"amount"`
	Currency    string    `json:"currency"`
	ExpenseDate time.Time `json:"expense_date"`
	Notes       string    `json:"notes"`
}

// ExpenseListOptions narrows a role-filtered listing
type ExpenseListOptions struct {
	Status entity.ExpenseStatus
	Limit  int
	Offset int
}

// ExpenseService manages expense drafts and role-scoped reads
type ExpenseService interface {
	Create(ctx context.Context, submitter *entity.User, input ExpenseInput) (*entity.Expense, error)
	Update(ctx context.Context, submitter *entity.User, id string, input ExpenseInput) (*entity.Expense, error)
	Get(ctx context.Context, caller *entity.User, id string) (*entity.Expense, error)
	List(ctx context.Context, caller *entity.User, opts ExpenseListOptions) ([]*entity.Expense, error)
}

type expenseServiceImpl struct {
	expenseRepo port.ExpenseRepository
	companyRepo port.CompanyRepository
	userRepo    port.UserRepository
	orgChart    port.OrgChart
	converter   port.CurrencyConverter
	logger      Logger
	now         func() time.Time
}

// NewExpenseService creates a new ExpenseService
func NewExpenseService(
	expenseRepo port.ExpenseRepository,
	companyRepo port.CompanyRepository,
	userRepo port.UserRepository,
	orgChart port.OrgChart,
	converter port.CurrencyConverter,
	logger Logger,
) ExpenseService {
	return &expenseServiceImpl{
		expenseRepo: expenseRepo,
		companyRepo: companyRepo,
		userRepo:    userRepo,
		orgChart:    orgChart,
		converter:   converter,
		logger:      loggerOrNop(logger),
		now:         time.Now,
	}
}

// Create stores a DRAFT expense converted into the company currency
func (s *expenseServiceImpl) Create(ctx context.Context, submitter *entity.User, input ExpenseInput) (*entity.Expense, error) {
	now := s.now()
	expense := &entity.Expense{
		ID:          uuid.NewString(),
		CompanyID:   submitter.CompanyID,
		SubmitterID: submitter.ID,
		Status:      entity.StatusDraft,
		Approvals:   []entity.ApprovalRecord{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.apply(ctx, expense, input); err != nil {
		return nil, err
	}

	if err := s.expenseRepo.Create(ctx, expense); err != nil {
		s.logger.Error("Failed to create expense", "error", err, "submitter_id", submitter.ID)
		return nil, fmt.Errorf("create expense: %w", err)
	}

	s.logger.Info("Expense draft created",
		"expense_id", expense.ID,
		"amount", expense.Amount,
		"original_currency", expense.OriginalCurrency,
	)
	return expense, nil
}

// Update edits a draft; only its submitter may do so
func (s *expenseServiceImpl) Update(ctx context.Context, submitter *entity.User, id string, input ExpenseInput) (*entity.Expense, error) {
	expense, err := s.expenseRepo.GetByID(ctx, submitter.CompanyID, id)
	if err != nil {
		return nil, fmt.Errorf("get expense: %w", err)
	}
	if expense == nil {
		return nil, port.ErrExpenseNotFound
	}
	if expense.SubmitterID != submitter.ID {
		return nil, &approval.ForbiddenError{Reason: "Only the submitter can edit this expense"}
	}
	if expense.Status != entity.StatusDraft {
		return nil, approval.ErrNotDraft
	}

	if err := s.apply(ctx, expense, input); err != nil {
		return nil, err
	}
	expense.UpdatedAt = s.now()

	if err := s.expenseRepo.Update(ctx, expense); err != nil {
		return nil, fmt.Errorf("update expense: %w", err)
	}

	s.logger.Info("Expense draft updated", "expense_id", id)
	return expense, nil
}

// Get returns an expense to its submitter, an admin, the submitter's manager
// or anyone who already decided on it
func (s *expenseServiceImpl) Get(ctx context.Context, caller *entity.User, id string) (*entity.Expense, error) {
	expense, err := s.expenseRepo.GetByID(ctx, caller.CompanyID, id)
	if err != nil {
		return nil, fmt.Errorf("get expense: %w", err)
	}
	if expense == nil {
		return nil, port.ErrExpenseNotFound
	}

	if expense.SubmitterID == caller.ID || caller.Role == entity.RoleAdmin {
		return expense, nil
	}
	if _, voted := expense.RecordBy(caller.ID); voted {
		return expense, nil
	}

	isManager, err := s.orgChart.IsManagerOf(ctx, caller.ID, expense.SubmitterID)
	if err != nil {
		return nil, fmt.Errorf("org chart lookup failed: %w", err)
	}
	if !isManager {
		return nil, &approval.ForbiddenError{Reason: "You cannot view this expense"}
	}
	return expense, nil
}

// List returns own expenses for employees, own plus direct reports for
// managers and the whole company for admins
func (s *expenseServiceImpl) List(ctx context.Context, caller *entity.User, opts ExpenseListOptions) ([]*entity.Expense, error) {
	filter := port.ExpenseFilter{
		CompanyID: caller.CompanyID,
		Status:    opts.Status,
		Limit:     opts.Limit,
		Offset:    opts.Offset,
	}

	switch caller.Role {
	case entity.RoleAdmin:
	case entity.RoleManager:
		reports, err := s.userRepo.ListReports(ctx, caller.ID)
		if err != nil {
			return nil, fmt.Errorf("list reports: %w", err)
		}
		filter.SubmitterIDs = append([]string{caller.ID}, userIDs(reports)...)
	default:
		filter.SubmitterIDs = []string{caller.ID}
	}

	expenses, err := s.expenseRepo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	return expenses, nil
}

// apply validates input and converts the amount into the company currency
func (s *expenseServiceImpl) apply(ctx context.Context, expense *entity.Expense, input ExpenseInput) error {
	description := strings.TrimSpace(input.Description)
	if description == "" {
		return invalidInput("description is required")
	}
	category := strings.ToUpper(strings.TrimSpace(input.Category))
	if !entity.IsValidCategory(category) {
		return invalidInput("unknown category %q", input.Category)
	}
	if input.Amount <= 0 || math.IsInf(input.Amount, 0) || math.IsNaN(input.Amount) {
		return invalidInput("amount must be positive")
	}

	company, err := s.companyRepo.GetByID(ctx, expense.CompanyID)
	if err != nil {
		return fmt.Errorf("get company: %w", err)
	}
	if company == nil {
		return port.ErrCompanyNotFound
	}

	currency := strings.ToUpper(strings.TrimSpace(input.Currency))
	if currency == "" {
		currency = company.DefaultCurrency
	}
	if len(currency) != 3 {
		return invalidInput("currency must be a 3-letter ISO code, got %q", input.Currency)
	}

	rate := 1.0
	if currency != company.DefaultCurrency {
		rate, err = s.converter.Rate(ctx, currency, company.DefaultCurrency)
		if err != nil {
			return fmt.Errorf("currency conversion %s->%s: %w", currency, company.DefaultCurrency, err)
		}
	}

	expenseDate := input.ExpenseDate
	if expenseDate.IsZero() {
		expenseDate = s.now()
	}

	expense.Description = description
	expense.Category = category
	expense.OriginalAmount = input.Amount
	expense.OriginalCurrency = currency
	expense.ExchangeRate = rate
	expense.Amount = roundCents(input.Amount * rate)
	expense.ExpenseDate = expenseDate
	expense.Notes = strings.TrimSpace(input.Notes)
	return nil
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

func userIDs(users []*entity.User) []string {
	ids := make([]string, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.ID)
	}
	return ids
}
