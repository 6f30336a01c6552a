package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"go.uber.org/zap"
)

const expenseColumns = `id, company_id, submitter_id, description, category,
	original_amount, original_currency, amount, exchange_rate, expense_date, notes,
	status, workflow_id, current_step_index, rejection_reason, cancel_reason,
	submitted_at, last_reminded_at, created_at, updated_at, version`

const approvalColumns = `id, expense_id, actor_id, actor_name, actor_role, decision, comment,
	step_index, step_name, approval_level, created_at`

// ExpenseRepository implements port.ExpenseRepository. Times are stored
// in UTC so text comparisons order correctly.
type ExpenseRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewExpenseRepository creates a new expense repository
func NewExpenseRepository(db *DB, logger *zap.Logger) *ExpenseRepository {
	return &ExpenseRepository{db: db, logger: logger}
}

// Create inserts a new expense. Approvals on the entity are ignored.
func (r *ExpenseRepository) Create(ctx context.Context, expense *entity.Expense) error {
	query := `INSERT INTO expenses (` + expenseColumns + `) VALUES (` + placeholders(21) + `)`

	_, err := r.db.getExecutor(ctx).ExecContext(ctx, query,
		expense.ID,
		expense.CompanyID,
		expense.SubmitterID,
		expense.Description,
		expense.Category,
		expense.OriginalAmount,
		expense.OriginalCurrency,
		expense.Amount,
		expense.ExchangeRate,
		expense.ExpenseDate.UTC(),
		expense.Notes,
		expense.Status,
		nullString(expense.WorkflowID),
		expense.CurrentStepIndex,
		expense.RejectionReason,
		expense.CancelReason,
		nullTime(expense.SubmittedAt),
		nullTime(expense.LastRemindedAt),
		expense.CreatedAt.UTC(),
		expense.UpdatedAt.UTC(),
		expense.Version,
	)
	if err != nil {
		r.logger.Error("Failed to create expense", zap.String("expense_id", expense.ID), zap.Error(err))
		return fmt.Errorf("failed to create expense: %w", translateErr(err))
	}
	return nil
}

// GetByID loads an expense with its approval trail
func (r *ExpenseRepository) GetByID(ctx context.Context, companyID, id string) (*entity.Expense, error) {
	query := `SELECT ` + expenseColumns + ` FROM expenses WHERE company_id = ? AND id = ?`

	expense, err := scanExpense(r.db.getExecutor(ctx).QueryRowContext(ctx, query, companyID, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get expense", zap.String("expense_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get expense: %w", err)
	}

	if err := r.attachApprovals(ctx, []*entity.Expense{expense}); err != nil {
		return nil, err
	}
	return expense, nil
}

// GetForUpdate loads like GetByID. Transactions begin IMMEDIATE, so the
// surrounding transaction already holds the write lock.
func (r *ExpenseRepository) GetForUpdate(ctx context.Context, companyID, id string) (*entity.Expense, error) {
	return r.GetByID(ctx, companyID, id)
}

// Update writes the mutable columns guarded by the version column
func (r *ExpenseRepository) Update(ctx context.Context, expense *entity.Expense) error {
	query := `
		UPDATE expenses SET
			description = ?, category = ?, original_amount = ?, original_currency = ?,
			amount = ?, exchange_rate = ?, expense_date = ?, notes = ?,
			status = ?, workflow_id = ?, current_step_index = ?,
			rejection_reason = ?, cancel_reason = ?, submitted_at = ?,
			updated_at = ?, version = version + 1
		WHERE id = ? AND company_id = ? AND version = ?
	`
	result, err := r.db.getExecutor(ctx).ExecContext(ctx, query,
		expense.Description,
		expense.Category,
		expense.OriginalAmount,
		expense.OriginalCurrency,
		expense.Amount,
		expense.ExchangeRate,
		expense.ExpenseDate.UTC(),
		expense.Notes,
		expense.Status,
		nullString(expense.WorkflowID),
		expense.CurrentStepIndex,
		expense.RejectionReason,
		expense.CancelReason,
		nullTime(expense.SubmittedAt),
		expense.UpdatedAt.UTC(),
		expense.ID,
		expense.CompanyID,
		expense.Version,
	)
	if err != nil {
		r.logger.Error("Failed to update expense", zap.String("expense_id", expense.ID), zap.Error(err))
		return fmt.Errorf("failed to update expense: %w", err)
	}
	if err := requireRow(result, port.ErrConcurrentUpdate); err != nil {
		return err
	}

	expense.Version++
	return nil
}

// AppendApproval inserts one approval record. A second record by the same
// actor on the same expense returns port.ErrDuplicate.
func (r *ExpenseRepository) AppendApproval(ctx context.Context, record *entity.ApprovalRecord) error {
	query := `
		INSERT INTO approval_records (
			expense_id, actor_id, actor_name, actor_role, decision, comment,
			step_index, step_name, approval_level, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := r.db.getExecutor(ctx).ExecContext(ctx, query,
		record.ExpenseID,
		record.ActorID,
		record.ActorName,
		record.ActorRole,
		record.Decision,
		record.Comment,
		record.StepIndex,
		record.StepName,
		record.ApprovalLevel,
		record.Timestamp.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to append approval",
			zap.String("expense_id", record.ExpenseID),
			zap.String("actor_id", record.ActorID),
			zap.Error(err))
		return fmt.Errorf("failed to append approval: %w", translateErr(err))
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	record.ID = id
	return nil
}

// List returns expenses matching filter, newest first
func (r *ExpenseRepository) List(ctx context.Context, filter port.ExpenseFilter) ([]*entity.Expense, error) {
	conds := []string{"company_id = ?"}
	args := []interface{}{filter.CompanyID}

	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, filter.Status)
	}
	if len(filter.SubmitterIDs) > 0 {
		conds = append(conds, "submitter_id IN ("+placeholders(len(filter.SubmitterIDs))+")")
		for _, id := range filter.SubmitterIDs {
			args = append(args, id)
		}
	}

	query := `SELECT ` + expenseColumns + ` FROM expenses WHERE ` + strings.Join(conds, " AND ") +
		` ORDER BY created_at DESC, id`
	if filter.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, filter.Limit, filter.Offset)
	}

	return r.query(ctx, query, args...)
}

// ListPending returns a company's PENDING expenses, oldest submission first
func (r *ExpenseRepository) ListPending(ctx context.Context, companyID string) ([]*entity.Expense, error) {
	query := `SELECT ` + expenseColumns + ` FROM expenses
		WHERE company_id = ? AND status = ?
		ORDER BY submitted_at, id`
	return r.query(ctx, query, companyID, entity.StatusPending)
}

// ListReminderCandidates returns PENDING expenses of every company that
// are due a reminder
func (r *ExpenseRepository) ListReminderCandidates(ctx context.Context, submittedBefore, remindedBefore time.Time, limit int) ([]*entity.Expense, error) {
	query := `SELECT ` + expenseColumns + ` FROM expenses
		WHERE status = ? AND submitted_at IS NOT NULL AND submitted_at < ?
			AND (last_reminded_at IS NULL OR last_reminded_at < ?)
		ORDER BY submitted_at, id
		LIMIT ?`
	return r.query(ctx, query, entity.StatusPending, submittedBefore.UTC(), remindedBefore.UTC(), limit)
}

// MarkReminded stamps last_reminded_at
func (r *ExpenseRepository) MarkReminded(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.getExecutor(ctx).ExecContext(ctx,
		`UPDATE expenses SET last_reminded_at = ? WHERE id = ?`, at.UTC(), id)
	if err != nil {
		r.logger.Error("Failed to mark reminded", zap.String("expense_id", id), zap.Error(err))
		return fmt.Errorf("failed to mark reminded: %w", err)
	}
	return nil
}

// CountActiveByWorkflow counts PENDING and APPROVED expenses on a workflow
func (r *ExpenseRepository) CountActiveByWorkflow(ctx context.Context, companyID, workflowID string) (int, error) {
	var n int
	err := r.db.getExecutor(ctx).QueryRowContext(ctx, `
		SELECT COUNT(1) FROM expenses
		WHERE company_id = ? AND workflow_id = ? AND status IN (?, ?)
	`, companyID, workflowID, entity.StatusPending, entity.StatusApproved).Scan(&n)
	if err != nil {
		r.logger.Error("Failed to count expenses by workflow", zap.String("workflow_id", workflowID), zap.Error(err))
		return 0, fmt.Errorf("failed to count expenses: %w", err)
	}
	return n, nil
}

func (r *ExpenseRepository) query(ctx context.Context, query string, args ...interface{}) ([]*entity.Expense, error) {
	rows, err := r.db.getExecutor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list expenses", zap.Error(err))
		return nil, fmt.Errorf("failed to list expenses: %w", err)
	}

	var expenses []*entity.Expense
	for rows.Next() {
		expense, err := scanExpense(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan expense: %w", err)
		}
		expenses = append(expenses, expense)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if err := r.attachApprovals(ctx, expenses); err != nil {
		return nil, err
	}
	return expenses, nil
}

// attachApprovals loads the approval trails of expenses in one query
func (r *ExpenseRepository) attachApprovals(ctx context.Context, expenses []*entity.Expense) error {
	if len(expenses) == 0 {
		return nil
	}

	byID := make(map[string]*entity.Expense, len(expenses))
	args := make([]interface{}, 0, len(expenses))
	for _, e := range expenses {
		e.Approvals = []entity.ApprovalRecord{}
		byID[e.ID] = e
		args = append(args, e.ID)
	}

	query := `SELECT ` + approvalColumns + ` FROM approval_records
		WHERE expense_id IN (` + placeholders(len(args)) + `)
		ORDER BY id`
	rows, err := r.db.getExecutor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to load approvals", zap.Error(err))
		return fmt.Errorf("failed to load approvals: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rec entity.ApprovalRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.ExpenseID,
			&rec.ActorID,
			&rec.ActorName,
			&rec.ActorRole,
			&rec.Decision,
			&rec.Comment,
			&rec.StepIndex,
			&rec.StepName,
			&rec.ApprovalLevel,
			&rec.Timestamp,
		); err != nil {
			return fmt.Errorf("failed to scan approval: %w", err)
		}
		rec.Timestamp = rec.Timestamp.UTC()
		if e := byID[rec.ExpenseID]; e != nil {
			e.Approvals = append(e.Approvals, rec)
		}
	}
	return rows.Err()
}

func scanExpense(row rowScanner) (*entity.Expense, error) {
	var e entity.Expense
	var workflowID sql.NullString
	var submittedAt, remindedAt sql.NullTime
	if err := row.Scan(
		&e.ID,
		&e.CompanyID,
		&e.SubmitterID,
		&e.Description,
		&e.Category,
		&e.OriginalAmount,
		&e.OriginalCurrency,
		&e.Amount,
		&e.ExchangeRate,
		&e.ExpenseDate,
		&e.Notes,
		&e.Status,
		&workflowID,
		&e.CurrentStepIndex,
		&e.RejectionReason,
		&e.CancelReason,
		&submittedAt,
		&remindedAt,
		&e.CreatedAt,
		&e.UpdatedAt,
		&e.Version,
	); err != nil {
		return nil, err
	}
	e.WorkflowID = workflowID.String
	e.SubmittedAt = timePtr(submittedAt)
	e.LastRemindedAt = timePtr(remindedAt)
	e.ExpenseDate = e.ExpenseDate.UTC()
	e.CreatedAt = e.CreatedAt.UTC()
	e.UpdatedAt = e.UpdatedAt.UTC()
	return &e, nil
}

var _ port.ExpenseRepository = (*ExpenseRepository)(nil)
