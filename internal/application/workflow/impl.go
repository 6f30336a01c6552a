package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/expense-approval/internal/application/dispatcher"
	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/approval"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/domain/event"
	domainwf "github.com/garyjia/expense-approval/internal/domain/workflow"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

// engineImpl is the concrete implementation of ApprovalEngine
type engineImpl struct {
	expenseRepo  port.ExpenseRepository
	workflowRepo port.WorkflowRepository
	userRepo     port.UserRepository
	orgChart     port.OrgChart
	txManager    port.TransactionManager
	dispatcher   dispatcher.Dispatcher
	logger       Logger
	now          func() time.Time

	locks *keyedMutex
}

// EngineOption configures the approval engine
type EngineOption func(*engineImpl)

// WithDispatcher sets the event dispatcher for notification intents
func WithDispatcher(d dispatcher.Dispatcher) EngineOption {
	return func(e *engineImpl) {
		e.dispatcher = d
	}
}

// WithLogger sets the engine logger
func WithLogger(logger Logger) EngineOption {
	return func(e *engineImpl) {
		e.logger = logger
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) EngineOption {
	return func(e *engineImpl) {
		e.now = now
	}
}

// NewEngine creates a new approval engine
func NewEngine(
	expenseRepo port.ExpenseRepository,
	workflowRepo port.WorkflowRepository,
	userRepo port.UserRepository,
	orgChart port.OrgChart,
	txManager port.TransactionManager,
	opts ...EngineOption,
) ApprovalEngine {
	e := &engineImpl{
		expenseRepo:  expenseRepo,
		workflowRepo: workflowRepo,
		userRepo:     userRepo,
		orgChart:     orgChart,
		txManager:    txManager,
		logger:       nopLogger{},
		now:          time.Now,
		locks:        newKeyedMutex(),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

func (e *engineImpl) ValidateDefinition(def *entity.WorkflowDefinition) error {
	return approval.ValidateDefinition(def)
}

// Submit moves a DRAFT expense to PENDING
func (e *engineImpl) Submit(ctx context.Context, submitter *entity.User, expenseID, workflowID string) (*entity.Expense, error) {
	unlock := e.locks.Lock(expenseID)
	defer unlock()

	var (
		submitted *entity.Expense
		events    []*event.Event
	)

	err := e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		expense, err := e.loadForUpdate(txCtx, submitter.CompanyID, expenseID)
		if err != nil {
			return err
		}

		if expense.SubmitterID != submitter.ID {
			return &approval.ForbiddenError{Reason: "Only the submitter can submit this expense"}
		}
		if expense.Status != entity.StatusDraft {
			return approval.ErrNotDraft
		}

		var def *entity.WorkflowDefinition
		if workflowID != "" {
			def, err = e.workflowRepo.GetByID(txCtx, expense.CompanyID, workflowID)
			if err != nil {
				return fmt.Errorf("failed to load workflow: %w", err)
			}
			if def == nil || !def.Active {
				return fmt.Errorf("%w: %s", approval.ErrInvalidWorkflow, workflowID)
			}
		}

		machine := BuildExpenseStateMachine(domainwf.State(expense.Status), nil)
		tr, err := machine.Fire(txCtx, domainwf.TriggerSubmit)
		if err != nil {
			return fmt.Errorf("state machine fire failed: %w", err)
		}

		now := e.now()
		expense.Status = entity.ExpenseStatus(tr.To)
		expense.WorkflowID = workflowID
		expense.CurrentStepIndex = 0
		expense.SubmittedAt = &now
		expense.UpdatedAt = now

		if err := e.expenseRepo.Update(txCtx, expense); err != nil {
			return fmt.Errorf("failed to update expense: %w", err)
		}

		recipients, err := e.nextApprovers(txCtx, expense, def)
		if err != nil {
			return err
		}

		payload := map[string]interface{}{
			event.KeySubmitterID:  expense.SubmitterID,
			event.KeyRecipientIDs: userIDs(recipients),
			event.KeyAmount:       expense.Amount,
		}
		if step, ok := approval.StepAt(def, 0); ok {
			payload[event.KeyStepName] = step.Name
		}
		events = append(events, event.NewEvent(event.TypeExpenseSubmitted, expense.ID, expense.CompanyID, payload))

		submitted = expense
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("Expense submitted",
		"expense_id", submitted.ID,
		"workflow_id", workflowID,
		"submitter_id", submitter.ID,
	)
	e.dispatch(ctx, events)

	return submitted, nil
}

func (e *engineImpl) Approve(ctx context.Context, actor *entity.User, expenseID, comment string) (*TransitionResult, error) {
	return e.Act(ctx, actor, expenseID, entity.DecisionApproved, comment)
}

func (e *engineImpl) Reject(ctx context.Context, actor *entity.User, expenseID, comment string) (*TransitionResult, error) {
	return e.Act(ctx, actor, expenseID, entity.DecisionRejected, comment)
}

// Act records one decision. The sequence read, evaluate, append, advance,
// write runs under the expense lock and inside one transaction.
func (e *engineImpl) Act(ctx context.Context, actor *entity.User, expenseID string, decision entity.Decision, comment string) (*TransitionResult, error) {
	if !decision.IsValid() {
		return nil, fmt.Errorf("%w: unknown decision %q", port.ErrInvalidInput, decision)
	}

	unlock := e.locks.Lock(expenseID)
	defer unlock()

	var (
		result *TransitionResult
		events []*event.Event
	)

	err := e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		expense, err := e.loadForUpdate(txCtx, actor.CompanyID, expenseID)
		if err != nil {
			return err
		}

		if expense.Status != entity.StatusPending {
			return fmt.Errorf("%w: status is %s", approval.ErrNotPending, expense.Status)
		}
		comment = strings.TrimSpace(comment)
		if decision == entity.DecisionRejected && comment == "" {
			return approval.ErrCommentRequired
		}

		def, err := e.definitionFor(txCtx, expense)
		if err != nil {
			return err
		}

		perm, err := e.evaluate(txCtx, expense, def, actor)
		if err != nil {
			return err
		}
		if !perm.CanAct {
			return perm.Err()
		}

		now := e.now()
		record := entity.ApprovalRecord{
			ExpenseID:     expense.ID,
			ActorID:       actor.ID,
			ActorName:     actor.Name,
			ActorRole:     actor.Role,
			Decision:      decision,
			Comment:       comment,
			StepIndex:     approval.RecordStepIndex(expense, perm),
			StepName:      perm.CurrentStepName,
			ApprovalLevel: perm.ApprovalLevel,
			Timestamp:     now,
		}
		if err := e.expenseRepo.AppendApproval(txCtx, &record); err != nil {
			if errors.Is(err, port.ErrDuplicate) {
				// another process recorded this actor's vote first
				return &approval.ForbiddenError{
					Reason:       "You have already acted on this expense",
					StepName:     perm.CurrentStepName,
					AlreadyVoted: true,
				}
			}
			return fmt.Errorf("failed to append approval: %w", err)
		}
		expense.Approvals = append(expense.Approvals, record)

		progress := approval.Advance(expense, def, record)

		trigger := domainwf.TriggerApprove
		if decision == entity.DecisionRejected {
			trigger = domainwf.TriggerReject
		}
		machine := BuildExpenseStateMachine(domainwf.StatePending, func() bool { return progress.IsComplete })
		tr, err := machine.Fire(txCtx, trigger)
		if err != nil {
			return fmt.Errorf("state machine fire failed: %w", err)
		}

		expense.Status = entity.ExpenseStatus(tr.To)
		expense.CurrentStepIndex = progress.NextStepIndex
		if decision == entity.DecisionRejected {
			expense.RejectionReason = comment
		}
		expense.UpdatedAt = now

		if err := e.expenseRepo.Update(txCtx, expense); err != nil {
			return fmt.Errorf("failed to update expense: %w", err)
		}

		result = &TransitionResult{
			Expense:         expense,
			Status:          expense.Status,
			CurrentStepName: record.StepName,
			ApprovalLevel:   record.ApprovalLevel,
			Approvals:       expense.Approvals,
			IsComplete:      progress.IsComplete,
			Message:         progress.Message,
		}
		if expense.Status == entity.StatusPending {
			if step, ok := approval.StepAt(def, progress.NextStepIndex); ok {
				result.NextStepName = step.Name
			}
		}

		events, err = e.transitionEvents(txCtx, expense, def, record)
		return err
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("Approval decision recorded",
		"expense_id", expenseID,
		"actor_id", actor.ID,
		"decision", decision,
		"status", result.Status,
		"step_index", result.Expense.CurrentStepIndex,
	)
	e.dispatch(ctx, events)

	return result, nil
}

// Cancel moves a PENDING expense to CANCELLED on behalf of a company admin
func (e *engineImpl) Cancel(ctx context.Context, admin *entity.User, expenseID, reason string) (*entity.Expense, error) {
	if admin.Role != entity.RoleAdmin {
		return nil, &approval.ForbiddenError{Reason: "Only administrators can cancel expenses"}
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: cancellation reason is required", port.ErrInvalidInput)
	}

	unlock := e.locks.Lock(expenseID)
	defer unlock()

	var (
		cancelled *entity.Expense
		events    []*event.Event
	)

	err := e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		expense, err := e.loadForUpdate(txCtx, admin.CompanyID, expenseID)
		if err != nil {
			return err
		}
		if expense.Status != entity.StatusPending {
			return fmt.Errorf("%w: status is %s", approval.ErrNotPending, expense.Status)
		}

		machine := BuildExpenseStateMachine(domainwf.StatePending, nil)
		tr, err := machine.Fire(txCtx, domainwf.TriggerCancel)
		if err != nil {
			return fmt.Errorf("state machine fire failed: %w", err)
		}

		expense.Status = entity.ExpenseStatus(tr.To)
		expense.CancelReason = reason
		expense.UpdatedAt = e.now()

		if err := e.expenseRepo.Update(txCtx, expense); err != nil {
			return fmt.Errorf("failed to update expense: %w", err)
		}

		events = append(events, event.NewEvent(event.TypeExpenseCancelled, expense.ID, expense.CompanyID, map[string]interface{}{
			event.KeySubmitterID:  expense.SubmitterID,
			event.KeyActorID:      admin.ID,
			event.KeyRecipientIDs: []string{expense.SubmitterID},
			event.KeyComment:      reason,
			event.KeyAmount:       expense.Amount,
		}))

		cancelled = expense
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("Expense cancelled", "expense_id", expenseID, "admin_id", admin.ID)
	e.dispatch(ctx, events)

	return cancelled, nil
}

// CheckPermission evaluates without locking or writing
func (e *engineImpl) CheckPermission(ctx context.Context, expense *entity.Expense, actor *entity.User) (approval.PermissionResult, error) {
	if actor.CompanyID != expense.CompanyID {
		return approval.PermissionResult{Reason: "Expense belongs to another company"}, nil
	}
	if expense.Status != entity.StatusPending {
		return approval.PermissionResult{Reason: "Expense is not pending approval"}, nil
	}

	def, err := e.definitionFor(ctx, expense)
	if err != nil {
		return approval.PermissionResult{}, err
	}
	return e.evaluate(ctx, expense, def, actor)
}

func (e *engineImpl) NextApprovers(ctx context.Context, expense *entity.Expense) ([]*entity.User, error) {
	def, err := e.definitionFor(ctx, expense)
	if err != nil {
		return nil, err
	}
	return e.nextApprovers(ctx, expense, def)
}

func (e *engineImpl) loadForUpdate(ctx context.Context, companyID, expenseID string) (*entity.Expense, error) {
	expense, err := e.expenseRepo.GetForUpdate(ctx, companyID, expenseID)
	if err != nil {
		return nil, fmt.Errorf("failed to load expense: %w", err)
	}
	if expense == nil {
		return nil, port.ErrExpenseNotFound
	}
	return expense, nil
}

// definitionFor returns the expense's workflow, or nil when it has none
func (e *engineImpl) definitionFor(ctx context.Context, expense *entity.Expense) (*entity.WorkflowDefinition, error) {
	if expense.WorkflowID == "" {
		return nil, nil
	}
	def, err := e.workflowRepo.GetByID(ctx, expense.CompanyID, expense.WorkflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow: %w", err)
	}
	return def, nil
}

// evaluate resolves the org-chart relation and runs the permission rules
func (e *engineImpl) evaluate(ctx context.Context, expense *entity.Expense, def *entity.WorkflowDefinition, actor *entity.User) (approval.PermissionResult, error) {
	isManager, err := e.orgChart.IsManagerOf(ctx, actor.ID, expense.SubmitterID)
	if err != nil {
		return approval.PermissionResult{}, fmt.Errorf("org chart lookup failed: %w", err)
	}
	return approval.CheckPermission(expense, def, entity.NewActor(actor, isManager)), nil
}

// nextApprovers resolves who is expected to act next. Only step-based rules
// and the no-workflow default have a deterministic answer.
func (e *engineImpl) nextApprovers(ctx context.Context, expense *entity.Expense, def *entity.WorkflowDefinition) ([]*entity.User, error) {
	if expense.Status != entity.StatusPending {
		return nil, nil
	}

	var candidates []*entity.User

	if def == nil {
		manager, err := e.orgChart.ManagerOf(ctx, expense.SubmitterID)
		if err != nil {
			return nil, fmt.Errorf("org chart lookup failed: %w", err)
		}
		if manager != nil {
			candidates = append(candidates, manager)
		}
		return excludeVoted(expense, candidates), nil
	}

	index := approval.NextStepIndex(expense, def)
	step, ok := approval.StepAt(def, index)
	if !ok {
		return nil, nil
	}

	if (def.ManagerFirst && index == 0) || step.ApproverKind == entity.ApproverManager {
		manager, err := e.orgChart.ManagerOf(ctx, expense.SubmitterID)
		if err != nil {
			return nil, fmt.Errorf("org chart lookup failed: %w", err)
		}
		if manager != nil {
			candidates = append(candidates, manager)
		}
	}

	switch step.ApproverKind {
	case entity.ApproverUser:
		user, err := e.userRepo.GetByID(ctx, step.ApproverValue)
		if err != nil {
			return nil, fmt.Errorf("failed to load approver: %w", err)
		}
		if user != nil && user.CompanyID == expense.CompanyID {
			candidates = append(candidates, user)
		}
	case entity.ApproverRole:
		users, err := e.userRepo.ListByRole(ctx, expense.CompanyID, entity.Role(step.ApproverValue))
		if err != nil {
			return nil, fmt.Errorf("failed to list approvers: %w", err)
		}
		candidates = append(candidates, users...)
	}

	return excludeVoted(expense, candidates), nil
}

// transitionEvents builds the notification intents for a recorded decision
func (e *engineImpl) transitionEvents(ctx context.Context, expense *entity.Expense, def *entity.WorkflowDefinition, record entity.ApprovalRecord) ([]*event.Event, error) {
	base := map[string]interface{}{
		event.KeySubmitterID: expense.SubmitterID,
		event.KeyActorID:     record.ActorID,
		event.KeyStepName:    record.StepName,
		event.KeyComment:     record.Comment,
		event.KeyAmount:      expense.Amount,
		event.KeyNewStatus:   string(expense.Status),
	}

	switch expense.Status {
	case entity.StatusRejected:
		base[event.KeyRecipientIDs] = []string{expense.SubmitterID}
		return []*event.Event{event.NewEvent(event.TypeExpenseRejected, expense.ID, expense.CompanyID, base)}, nil

	case entity.StatusApproved:
		base[event.KeyRecipientIDs] = []string{expense.SubmitterID}
		return []*event.Event{event.NewEvent(event.TypeExpenseApproved, expense.ID, expense.CompanyID, base)}, nil

	default:
		recipients, err := e.nextApprovers(ctx, expense, def)
		if err != nil {
			return nil, err
		}
		if step, ok := approval.StepAt(def, expense.CurrentStepIndex); ok {
			base[event.KeyStepName] = step.Name
		}
		base[event.KeyRecipientIDs] = userIDs(recipients)
		return []*event.Event{event.NewEvent(event.TypeApprovalRecorded, expense.ID, expense.CompanyID, base)}, nil
	}
}

func (e *engineImpl) dispatch(ctx context.Context, events []*event.Event) {
	if e.dispatcher == nil {
		return
	}
	for _, evt := range events {
		e.dispatcher.DispatchAsync(ctx, evt)
	}
}

// excludeVoted drops users who already recorded a decision and duplicates
func excludeVoted(expense *entity.Expense, users []*entity.User) []*entity.User {
	seen := make(map[string]bool, len(users))
	out := make([]*entity.User, 0, len(users))
	for _, u := range users {
		if seen[u.ID] {
			continue
		}
		seen[u.ID] = true
		if _, voted := expense.RecordBy(u.ID); voted {
			continue
		}
		out = append(out, u)
	}
	return out
}

func userIDs(users []*entity.User) []string {
	ids := make([]string, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.ID)
	}
	return ids
}

var _ ApprovalEngine = (*engineImpl)(nil)
