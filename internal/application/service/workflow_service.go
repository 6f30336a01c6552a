package service

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/entity"
)

//go:embed templates/workflows.yaml
var workflowTemplates []byte

// DefinitionValidator checks workflow definitions before they are stored
type DefinitionValidator interface {
	ValidateDefinition(def *entity.WorkflowDefinition) error
}

// WorkflowService administers company workflow definitions
type WorkflowService interface {
	Create(ctx context.Context, admin *entity.User, def *entity.WorkflowDefinition) (*entity.WorkflowDefinition, error)
	Update(ctx context.Context, admin *entity.User, id string, def *entity.WorkflowDefinition) (*entity.WorkflowDefinition, error)
	SetActive(ctx context.Context, admin *entity.User, id string, active bool) (*entity.WorkflowDefinition, error)
	Delete(ctx context.Context, admin *entity.User, id string) error
	Get(ctx context.Context, caller *entity.User, id string) (*entity.WorkflowDefinition, error)
	List(ctx context.Context, caller *entity.User) ([]*entity.WorkflowDefinition, error)
	Templates() ([]*entity.WorkflowDefinition, error)
}

type workflowServiceImpl struct {
	workflowRepo port.WorkflowRepository
	expenseRepo  port.ExpenseRepository
	validator    DefinitionValidator
	txManager    port.TransactionManager
	logger       Logger
	now          func() time.Time
}

// NewWorkflowService creates a new WorkflowService
func NewWorkflowService(
	workflowRepo port.WorkflowRepository,
	expenseRepo port.ExpenseRepository,
	validator DefinitionValidator,
	txManager port.TransactionManager,
	logger Logger,
) WorkflowService {
	return &workflowServiceImpl{
		workflowRepo: workflowRepo,
		expenseRepo:  expenseRepo,
		validator:    validator,
		txManager:    txManager,
		logger:       loggerOrNop(logger),
		now:          time.Now,
	}
}

// Create validates and stores a new definition in the admin's company
func (s *workflowServiceImpl) Create(ctx context.Context, admin *entity.User, def *entity.WorkflowDefinition) (*entity.WorkflowDefinition, error) {
	if err := requireAdmin(admin, "manage workflows"); err != nil {
		return nil, err
	}
	if def == nil {
		return nil, invalidInput("workflow definition is required")
	}

	created := *def
	created.ID = uuid.NewString()
	created.CompanyID = admin.CompanyID
	created.Name = strings.TrimSpace(created.Name)
	created.CreatedAt = s.now()
	created.UpdatedAt = created.CreatedAt

	if err := s.validator.ValidateDefinition(&created); err != nil {
		return nil, err
	}

	if err := s.workflowRepo.Create(ctx, &created); err != nil {
		s.logger.Error("Failed to create workflow", "error", err, "name", created.Name)
		return nil, fmt.Errorf("create workflow: %w", err)
	}

	s.logger.Info("Workflow created",
		"workflow_id", created.ID,
		"rule_family", created.RuleFamily,
		"company_id", created.CompanyID,
	)
	return &created, nil
}

// Update replaces the parameters of an existing definition
func (s *workflowServiceImpl) Update(ctx context.Context, admin *entity.User, id string, def *entity.WorkflowDefinition) (*entity.WorkflowDefinition, error) {
	if err := requireAdmin(admin, "manage workflows"); err != nil {
		return nil, err
	}
	if def == nil {
		return nil, invalidInput("workflow definition is required")
	}

	existing, err := s.load(ctx, admin.CompanyID, id)
	if err != nil {
		return nil, err
	}

	updated := *def
	updated.ID = existing.ID
	updated.CompanyID = existing.CompanyID
	updated.Name = strings.TrimSpace(updated.Name)
	updated.CreatedAt = existing.CreatedAt
	updated.UpdatedAt = s.now()

	if err := s.validator.ValidateDefinition(&updated); err != nil {
		return nil, err
	}

	if err := s.workflowRepo.Update(ctx, &updated); err != nil {
		s.logger.Error("Failed to update workflow", "error", err, "workflow_id", id)
		return nil, fmt.Errorf("update workflow: %w", err)
	}

	s.logger.Info("Workflow updated", "workflow_id", id, "rule_family", updated.RuleFamily)
	return &updated, nil
}

// SetActive toggles whether new submissions may use the definition
func (s *workflowServiceImpl) SetActive(ctx context.Context, admin *entity.User, id string, active bool) (*entity.WorkflowDefinition, error) {
	if err := requireAdmin(admin, "manage workflows"); err != nil {
		return nil, err
	}

	def, err := s.load(ctx, admin.CompanyID, id)
	if err != nil {
		return nil, err
	}

	def.Active = active
	def.UpdatedAt = s.now()
	if err := s.workflowRepo.Update(ctx, def); err != nil {
		return nil, fmt.Errorf("update workflow: %w", err)
	}

	s.logger.Info("Workflow activation changed", "workflow_id", id, "active", active)
	return def, nil
}

// Delete removes a definition unless PENDING or APPROVED expenses use it
func (s *workflowServiceImpl) Delete(ctx context.Context, admin *entity.User, id string) error {
	if err := requireAdmin(admin, "manage workflows"); err != nil {
		return err
	}

	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if _, err := s.load(txCtx, admin.CompanyID, id); err != nil {
			return err
		}

		inUse, err := s.expenseRepo.CountActiveByWorkflow(txCtx, admin.CompanyID, id)
		if err != nil {
			return fmt.Errorf("count expenses: %w", err)
		}
		if inUse > 0 {
			return fmt.Errorf("%w: %d expense(s)", port.ErrWorkflowInUse, inUse)
		}

		if err := s.workflowRepo.Delete(txCtx, admin.CompanyID, id); err != nil {
			return fmt.Errorf("delete workflow: %w", err)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to delete workflow", "error", err, "workflow_id", id)
		return err
	}

	s.logger.Info("Workflow deleted", "workflow_id", id)
	return nil
}

func (s *workflowServiceImpl) Get(ctx context.Context, caller *entity.User, id string) (*entity.WorkflowDefinition, error) {
	return s.load(ctx, caller.CompanyID, id)
}

func (s *workflowServiceImpl) List(ctx context.Context, caller *entity.User) ([]*entity.WorkflowDefinition, error) {
	defs, err := s.workflowRepo.List(ctx, caller.CompanyID)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	return defs, nil
}

// Templates returns the built-in example definitions
func (s *workflowServiceImpl) Templates() ([]*entity.WorkflowDefinition, error) {
	return LoadTemplates()
}

// LoadTemplates parses the embedded template document
func LoadTemplates() ([]*entity.WorkflowDefinition, error) {
	var defs []*entity.WorkflowDefinition
	if err := yaml.Unmarshal(workflowTemplates, &defs); err != nil {
		return nil, fmt.Errorf("parse workflow templates: %w", err)
	}
	return defs, nil
}

func (s *workflowServiceImpl) load(ctx context.Context, companyID, id string) (*entity.WorkflowDefinition, error) {
	def, err := s.workflowRepo.GetByID(ctx, companyID, id)
	if err != nil {
		return nil, fmt.Errorf("get workflow: %w", err)
	}
	if def == nil {
		return nil, port.ErrWorkflowNotFound
	}
	return def, nil
}
