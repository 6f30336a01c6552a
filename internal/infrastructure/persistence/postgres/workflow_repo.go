package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/infrastructure/persistence"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

const workflowColumns = `id, company_id, name, description, active, rule_family, rules, created_at, updated_at`

// WorkflowRepository implements port.WorkflowRepository with rules in JSONB
type WorkflowRepository struct {
	store  *Store
	logger *zap.Logger
}

// NewWorkflowRepository creates a new workflow repository
func NewWorkflowRepository(store *Store, logger *zap.Logger) *WorkflowRepository {
	return &WorkflowRepository{store: store, logger: logger}
}

func (r *WorkflowRepository) Create(ctx context.Context, def *entity.WorkflowDefinition) error {
	rules, err := persistence.EncodeRules(def)
	if err != nil {
		return fmt.Errorf("failed to encode workflow rules: %w", err)
	}
	_, err = r.store.getExecutor(ctx).Exec(ctx,
		`INSERT INTO workflows (`+workflowColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8, $9)`,
		def.ID, def.CompanyID, def.Name, def.Description, def.Active, string(def.RuleFamily),
		string(rules), def.CreatedAt, def.UpdatedAt)
	if err != nil {
		r.logger.Error("Failed to create workflow", zap.String("workflow_id", def.ID), zap.Error(err))
		return fmt.Errorf("failed to create workflow: %w", translateErr(err))
	}
	return nil
}

func (r *WorkflowRepository) GetByID(ctx context.Context, companyID, id string) (*entity.WorkflowDefinition, error) {
	def, err := scanWorkflow(r.store.getExecutor(ctx).QueryRow(ctx,
		`SELECT `+workflowColumns+` FROM workflows WHERE company_id = $1 AND id = $2`, companyID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get workflow", zap.String("workflow_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}
	return def, nil
}

func (r *WorkflowRepository) List(ctx context.Context, companyID string) ([]*entity.WorkflowDefinition, error) {
	rows, err := r.store.getExecutor(ctx).Query(ctx,
		`SELECT `+workflowColumns+` FROM workflows WHERE company_id = $1 ORDER BY created_at DESC, id`, companyID)
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

func (r *WorkflowRepository) Update(ctx context.Context, def *entity.WorkflowDefinition) error {
	rules, err := persistence.EncodeRules(def)
	if err != nil {
		return fmt.Errorf("failed to encode workflow rules: %w", err)
	}
	tag, err := r.store.getExecutor(ctx).Exec(ctx, `
		UPDATE workflows
		SET name = $1, description = $2, active = $3, rule_family = $4, rules = $5::jsonb, updated_at = $6
		WHERE company_id = $7 AND id = $8`,
		def.Name, def.Description, def.Active, string(def.RuleFamily), string(rules), def.UpdatedAt,
		def.CompanyID, def.ID)
	if err != nil {
		r.logger.Error("Failed to update workflow", zap.String("workflow_id", def.ID), zap.Error(err))
		return fmt.Errorf("failed to update workflow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return port.ErrWorkflowNotFound
	}
	return nil
}

func (r *WorkflowRepository) Delete(ctx context.Context, companyID, id string) error {
	tag, err := r.store.getExecutor(ctx).Exec(ctx,
		`DELETE FROM workflows WHERE company_id = $1 AND id = $2`, companyID, id)
	if err != nil {
		r.logger.Error("Failed to delete workflow", zap.String("workflow_id", id), zap.Error(err))
		return fmt.Errorf("failed to delete workflow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return port.ErrWorkflowNotFound
	}
	return nil
}

func scanWorkflow(row pgx.Row) (*entity.WorkflowDefinition, error) {
	var def entity.WorkflowDefinition
	var family string
	var rules []byte
	if err := row.Scan(&def.ID, &def.CompanyID, &def.Name, &def.Description, &def.Active,
		&family, &rules, &def.CreatedAt, &def.UpdatedAt); err != nil {
		return nil, err
	}
	def.RuleFamily = entity.RuleFamily(family)
	if err := persistence.DecodeRules(rules, &def); err != nil {
		return nil, fmt.Errorf("failed to decode workflow rules: %w", err)
	}
	return &def, nil
}

var _ port.WorkflowRepository = (*WorkflowRepository)(nil)
