package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

const expenseColumns = `id, company_id, submitter_id, description, category,
	original_amount, original_currency, amount, exchange_rate, expense_date, notes,
	status, workflow_id, current_step_index, rejection_reason, cancel_reason,
	submitted_at, last_reminded_at, created_at, updated_at, version`

// ExpenseRepository implements port.ExpenseRepository
type ExpenseRepository struct {
	store  *Store
	logger *zap.Logger
}

// NewExpenseRepository creates a new expense repository
func NewExpenseRepository(store *Store, logger *zap.Logger) *ExpenseRepository {
	return &ExpenseRepository{store: store, logger: logger}
}

func (r *ExpenseRepository) Create(ctx context.Context, e *entity.Expense) error {
	_, err := r.store.getExecutor(ctx).Exec(ctx, `
		INSERT INTO expenses (`+expenseColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`,
		e.ID, e.CompanyID, e.SubmitterID, e.Description, e.Category,
		e.OriginalAmount, e.OriginalCurrency, e.Amount, e.ExchangeRate, e.ExpenseDate, e.Notes,
		string(e.Status), optional(e.WorkflowID), e.CurrentStepIndex, e.RejectionReason, e.CancelReason,
		e.SubmittedAt, e.LastRemindedAt, e.CreatedAt, e.UpdatedAt, e.Version)
	if err != nil {
		r.logger.Error("Failed to create expense", zap.String("expense_id", e.ID), zap.Error(err))
		return fmt.Errorf("failed to create expense: %w", translateErr(err))
	}
	return nil
}

func (r *ExpenseRepository) GetByID(ctx context.Context, companyID, id string) (*entity.Expense, error) {
	return r.getOne(ctx, `SELECT `+expenseColumns+` FROM expenses WHERE company_id = $1 AND id = $2`, companyID, id)
}

// GetForUpdate locks the expense row until the surrounding transaction ends
func (r *ExpenseRepository) GetForUpdate(ctx context.Context, companyID, id string) (*entity.Expense, error) {
	return r.getOne(ctx, `SELECT `+expenseColumns+` FROM expenses WHERE company_id = $1 AND id = $2 FOR UPDATE`, companyID, id)
}

func (r *ExpenseRepository) Update(ctx context.Context, e *entity.Expense) error {
	tag, err := r.store.getExecutor(ctx).Exec(ctx, `
		UPDATE expenses SET
			description = $1, category = $2, original_amount = $3, original_currency = $4,
			amount = $5, exchange_rate = $6, expense_date = $7, notes = $8,
			status = $9, workflow_id = $10, current_step_index = $11,
			rejection_reason = $12, cancel_reason = $13, submitted_at = $14,
			updated_at = $15, version = version + 1
		WHERE id = $16 AND company_id = $17 AND version = $18`,
		e.Description, e.Category, e.OriginalAmount, e.OriginalCurrency,
		e.Amount, e.ExchangeRate, e.ExpenseDate, e.Notes,
		string(e.Status), optional(e.WorkflowID), e.CurrentStepIndex,
		e.RejectionReason, e.CancelReason, e.SubmittedAt,
		e.UpdatedAt, e.ID, e.CompanyID, e.Version)
	if err != nil {
		r.logger.Error("Failed to update expense", zap.String("expense_id", e.ID), zap.Error(err))
		return fmt.Errorf("failed to update expense: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return port.ErrConcurrentUpdate
	}
	e.Version++
	return nil
}

func (r *ExpenseRepository) AppendApproval(ctx context.Context, rec *entity.ApprovalRecord) error {
	err := r.store.getExecutor(ctx).QueryRow(ctx, `
		INSERT INTO approval_records (
			expense_id, actor_id, actor_name, actor_role, decision, comment,
			step_index, step_name, approval_level, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`,
		rec.ExpenseID, rec.ActorID, rec.ActorName, string(rec.ActorRole), string(rec.Decision), rec.Comment,
		rec.StepIndex, rec.StepName, rec.ApprovalLevel, rec.Timestamp,
	).Scan(&rec.ID)
	if err != nil {
		r.logger.Error("Failed to append approval",
			zap.String("expense_id", rec.ExpenseID),
			zap.String("actor_id", rec.ActorID),
			zap.Error(err))
		return fmt.Errorf("failed to append approval: %w", translateErr(err))
	}
	return nil
}

func (r *ExpenseRepository) List(ctx context.Context, filter port.ExpenseFilter) ([]*entity.Expense, error) {
	conds := []string{"company_id = $1"}
	args := []any{filter.CompanyID}

	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if len(filter.SubmitterIDs) > 0 {
		args = append(args, filter.SubmitterIDs)
		conds = append(conds, fmt.Sprintf("submitter_id = ANY($%d)", len(args)))
	}

	query := `SELECT ` + expenseColumns + ` FROM expenses WHERE ` + strings.Join(conds, " AND ") +
		` ORDER BY created_at DESC, id`
	if filter.Limit > 0 {
		args = append(args, filter.Limit, filter.Offset)
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}
	return r.query(ctx, query, args...)
}

func (r *ExpenseRepository) ListPending(ctx context.Context, companyID string) ([]*entity.Expense, error) {
	return r.query(ctx, `SELECT `+expenseColumns+` FROM expenses
		WHERE company_id = $1 AND status = $2
		ORDER BY submitted_at, id`, companyID, string(entity.StatusPending))
}

func (r *ExpenseRepository) ListReminderCandidates(ctx context.Context, submittedBefore, remindedBefore time.Time, limit int) ([]*entity.Expense, error) {
	return r.query(ctx, `SELECT `+expenseColumns+` FROM expenses
		WHERE status = $1 AND submitted_at < $2
			AND (last_reminded_at IS NULL OR last_reminded_at < $3)
		ORDER BY submitted_at, id
		LIMIT $4`, string(entity.StatusPending), submittedBefore, remindedBefore, limit)
}

func (r *ExpenseRepository) MarkReminded(ctx context.Context, id string, at time.Time) error {
	if _, err := r.store.getExecutor(ctx).Exec(ctx,
		`UPDATE expenses SET last_reminded_at = $1 WHERE id = $2`, at, id); err != nil {
		r.logger.Error("Failed to mark reminded", zap.String("expense_id", id), zap.Error(err))
		return fmt.Errorf("failed to mark reminded: %w", err)
	}
	return nil
}

func (r *ExpenseRepository) CountActiveByWorkflow(ctx context.Context, companyID, workflowID string) (int, error) {
	var n int
	err := r.store.getExecutor(ctx).QueryRow(ctx, `
		SELECT COUNT(1) FROM expenses
		WHERE company_id = $1 AND workflow_id = $2 AND status IN ($3, $4)`,
		companyID, workflowID, string(entity.StatusPending), string(entity.StatusApproved),
	).Scan(&n)
	if err != nil {
		r.logger.Error("Failed to count expenses by workflow", zap.String("workflow_id", workflowID), zap.Error(err))
		return 0, fmt.Errorf("failed to count expenses: %w", err)
	}
	return n, nil
}

func (r *ExpenseRepository) getOne(ctx context.Context, query string, args ...any) (*entity.Expense, error) {
	e, err := scanExpense(r.store.getExecutor(ctx).QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get expense", zap.Any("args", args), zap.Error(err))
		return nil, fmt.Errorf("failed to get expense: %w", err)
	}
	if err := r.attachApprovals(ctx, []*entity.Expense{e}); err != nil {
		return nil, err
	}
	return e, nil
}

func (r *ExpenseRepository) query(ctx context.Context, query string, args ...any) ([]*entity.Expense, error) {
	rows, err := r.store.getExecutor(ctx).Query(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list expenses", zap.Error(err))
		return nil, fmt.Errorf("failed to list expenses: %w", err)
	}

	var expenses []*entity.Expense
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan expense: %w", err)
		}
		expenses = append(expenses, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := r.attachApprovals(ctx, expenses); err != nil {
		return nil, err
	}
	return expenses, nil
}

func (r *ExpenseRepository) attachApprovals(ctx context.Context, expenses []*entity.Expense) error {
	if len(expenses) == 0 {
		return nil
	}
	ids := make([]string, 0, len(expenses))
	byID := make(map[string]*entity.Expense, len(expenses))
	for _, e := range expenses {
		e.Approvals = []entity.ApprovalRecord{}
		ids = append(ids, e.ID)
		byID[e.ID] = e
	}

	rows, err := r.store.getExecutor(ctx).Query(ctx, `
		SELECT id, expense_id, actor_id, actor_name, actor_role, decision, comment,
			step_index, step_name, approval_level, created_at
		FROM approval_records
		WHERE expense_id = ANY($1)
		ORDER BY id`, ids)
	if err != nil {
		r.logger.Error("Failed to load approvals", zap.Error(err))
		return fmt.Errorf("failed to load approvals: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rec entity.ApprovalRecord
		var role, decision string
		if err := rows.Scan(&rec.ID, &rec.ExpenseID, &rec.ActorID, &rec.ActorName, &role, &decision,
			&rec.Comment, &rec.StepIndex, &rec.StepName, &rec.ApprovalLevel, &rec.Timestamp); err != nil {
			return fmt.Errorf("failed to scan approval: %w", err)
		}
		rec.ActorRole = entity.Role(role)
		rec.Decision = entity.Decision(decision)
		if e := byID[rec.ExpenseID]; e != nil {
			e.Approvals = append(e.Approvals, rec)
		}
	}
	return rows.Err()
}

func scanExpense(row pgx.Row) (*entity.Expense, error) {
	var e entity.Expense
	var status string
	var workflowID *string
	if err := row.Scan(
		&e.ID, &e.CompanyID, &e.SubmitterID, &e.Description, &e.Category,
		&e.OriginalAmount, &e.OriginalCurrency, &e.Amount, &e.ExchangeRate, &e.ExpenseDate, &e.Notes,
		&status, &workflowID, &e.CurrentStepIndex, &e.RejectionReason, &e.CancelReason,
		&e.SubmittedAt, &e.LastRemindedAt, &e.CreatedAt, &e.UpdatedAt, &e.Version,
	); err != nil {
		return nil, err
	}
	e.Status = entity.ExpenseStatus(status)
	e.WorkflowID = deref(workflowID)
	return &e, nil
}

var _ port.ExpenseRepository = (*ExpenseRepository)(nil)
