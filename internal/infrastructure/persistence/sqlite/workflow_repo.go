package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/infrastructure/persistence"
	"go.uber.org/zap"
)

const workflowColumns = `id, company_id, name, description, active, rule_family, rules, created_at, updated_at`

// WorkflowRepository implements port.WorkflowRepository
type WorkflowRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewWorkflowRepository creates a new workflow repository
func NewWorkflowRepository(db *DB, logger *zap.Logger) *WorkflowRepository {
	return &WorkflowRepository{db: db, logger: logger}
}

// Create inserts a workflow definition
func (r *WorkflowRepository) Create(ctx context.Context, def *entity.WorkflowDefinition) error {
	rules, err := persistence.EncodeRules(def)
	if err != nil {
		return fmt.Errorf("failed to encode workflow rules: %w", err)
	}

	query := `INSERT INTO workflows (` + workflowColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = r.db.getExecutor(ctx).ExecContext(ctx, query,
		def.ID,
		def.CompanyID,
		def.Name,
		def.Description,
		def.Active,
		def.RuleFamily,
		string(rules),
		def.CreatedAt.UTC(),
		def.UpdatedAt.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to create workflow", zap.String("workflow_id", def.ID), zap.Error(err))
		return fmt.Errorf("failed to create workflow: %w", translateErr(err))
	}
	return nil
}

// GetByID retrieves a workflow of a company
func (r *WorkflowRepository) GetByID(ctx context.Context, companyID, id string) (*entity.WorkflowDefinition, error) {
	query := `SELECT ` + workflowColumns + ` FROM workflows WHERE company_id = ? AND id = ?`

	def, err := scanWorkflow(r.db.getExecutor(ctx).QueryRowContext(ctx, query, companyID, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get workflow", zap.String("workflow_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}
	return def, nil
}

// List returns a company's workflows, newest first
func (r *WorkflowRepository) List(ctx context.Context, companyID string) ([]*entity.WorkflowDefinition, error) {
	query := `SELECT ` + workflowColumns + ` FROM workflows WHERE company_id = ? ORDER BY created_at DESC, id`

	rows, err := r.db.getExecutor(ctx).QueryContext(ctx, query, companyID)
	if err != nil {
		r.logger.Error("Failed to list workflows", zap.String("company_id", companyID), zap.Error(err))
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	defer rows.Close()

	var defs []*entity.WorkflowDefinition
	for rows.Next() {
		def, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

// Update overwrites the definition. Returns port.ErrWorkflowNotFound when
// the row is gone.
func (r *WorkflowRepository) Update(ctx context.Context, def *entity.WorkflowDefinition) error {
	rules, err := persistence.EncodeRules(def)
	if err != nil {
		return fmt.Errorf("failed to encode workflow rules: %w", err)
	}

	query := `
		UPDATE workflows
		SET name = ?, description = ?, active = ?, rule_family = ?, rules = ?, updated_at = ?
		WHERE company_id = ? AND id = ?
	`
	result, err := r.db.getExecutor(ctx).ExecContext(ctx, query,
		def.Name,
		def.Description,
		def.Active,
		def.RuleFamily,
		string(rules),
		def.UpdatedAt.UTC(),
		def.CompanyID,
		def.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update workflow", zap.String("workflow_id", def.ID), zap.Error(err))
		return fmt.Errorf("failed to update workflow: %w", err)
	}
	return requireRow(result, port.ErrWorkflowNotFound)
}

// Delete removes a workflow
func (r *WorkflowRepository) Delete(ctx context.Context, companyID, id string) error {
	result, err := r.db.getExecutor(ctx).ExecContext(ctx,
		`DELETE FROM workflows WHERE company_id = ? AND id = ?`, companyID, id)
	if err != nil {
		r.logger.Error("Failed to delete workflow", zap.String("workflow_id", id), zap.Error(err))
		return fmt.Errorf("failed to delete workflow: %w", err)
	}
	return requireRow(result, port.ErrWorkflowNotFound)
}

func scanWorkflow(row rowScanner) (*entity.WorkflowDefinition, error) {
	var def entity.WorkflowDefinition
	var rules string
	if err := row.Scan(
		&def.ID,
		&def.CompanyID,
		&def.Name,
		&def.Description,
		&def.Active,
		&def.RuleFamily,
		&rules,
		&def.CreatedAt,
		&def.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := persistence.DecodeRules([]byte(rules), &def); err != nil {
		return nil, fmt.Errorf("failed to decode workflow rules: %w", err)
	}
	return &def, nil
}

func requireRow(result sql.Result, notFound error) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

var _ port.WorkflowRepository = (*WorkflowRepository)(nil)
