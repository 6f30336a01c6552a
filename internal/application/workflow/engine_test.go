package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/expense-approval/internal/application/dispatcher"
	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/approval"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/domain/event"
)

// In-memory fakes

type memExpenseRepo struct {
	mu       sync.Mutex
	expenses map[string]*entity.Expense
	nextID   int64
}

func newMemExpenseRepo() *memExpenseRepo {
	return &memExpenseRepo{expenses: make(map[string]*entity.Expense)}
}

func (m *memExpenseRepo) Create(ctx context.Context, expense *entity.Expense) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expenses[expense.ID] = expense.Clone()
	return nil
}

func (m *memExpenseRepo) GetByID(ctx context.Context, companyID, id string) (*entity.Expense, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.expenses[id]
	if !ok || stored.CompanyID != companyID {
		return nil, nil
	}
	return stored.Clone(), nil
}

func (m *memExpenseRepo) GetForUpdate(ctx context.Context, companyID, id string) (*entity.Expense, error) {
	return m.GetByID(ctx, companyID, id)
}

func (m *memExpenseRepo) Update(ctx context.Context, expense *entity.Expense) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.expenses[expense.ID]
	if !ok || stored.Version != expense.Version {
		return port.ErrConcurrentUpdate
	}
	updated := expense.Clone()
	updated.Approvals = stored.Approvals
	updated.Version++
	m.expenses[expense.ID] = updated
	expense.Version = updated.Version
	return nil
}

func (m *memExpenseRepo) AppendApproval(ctx context.Context, record *entity.ApprovalRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	record.ID = m.nextID
	stored := m.expenses[record.ExpenseID]
	stored.Approvals = append(stored.Approvals, *record)
	return nil
}

func (m *memExpenseRepo) List(ctx context.Context, filter port.ExpenseFilter) ([]*entity.Expense, error) {
	return nil, nil
}

func (m *memExpenseRepo) ListPending(ctx context.Context, companyID string) ([]*entity.Expense, error) {
	return nil, nil
}

func (m *memExpenseRepo) ListReminderCandidates(ctx context.Context, submittedBefore, remindedBefore time.Time, limit int) ([]*entity.Expense, error) {
	return nil, nil
}

func (m *memExpenseRepo) MarkReminded(ctx context.Context, id string, at time.Time) error {
	return nil
}

func (m *memExpenseRepo) CountActiveByWorkflow(ctx context.Context, companyID, workflowID string) (int, error) {
	return 0, nil
}

func (m *memExpenseRepo) stored(id string) *entity.Expense {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.expenses[id].Clone()
}

type memWorkflowRepo struct {
	defs map[string]*entity.WorkflowDefinition
}

func (m *memWorkflowRepo) Create(ctx context.Context, def *entity.WorkflowDefinition) error {
	m.defs[def.ID] = def
	return nil
}

func (m *memWorkflowRepo) GetByID(ctx context.Context, companyID, id string) (*entity.WorkflowDefinition, error) {
	def, ok := m.defs[id]
	if !ok || def.CompanyID != companyID {
		return nil, nil
	}
	return def, nil
}

func (m *memWorkflowRepo) List(ctx context.Context, companyID string) ([]*entity.WorkflowDefinition, error) {
	return nil, nil
}

func (m *memWorkflowRepo) Update(ctx context.Context, def *entity.WorkflowDefinition) error {
	return nil
}

func (m *memWorkflowRepo) Delete(ctx context.Context, companyID, id string) error {
	return nil
}

// memUserRepo doubles as the org chart
type memUserRepo struct {
	users     map[string]*entity.User
	lookupErr error
}

func (m *memUserRepo) Create(ctx context.Context, user *entity.User) error {
	m.users[user.ID] = user
	return nil
}

func (m *memUserRepo) GetByID(ctx context.Context, id string) (*entity.User, error) {
	return m.users[id], nil
}

func (m *memUserRepo) GetByEmail(ctx context.Context, email string) (*entity.User, error) {
	return nil, nil
}

func (m *memUserRepo) ListByCompany(ctx context.Context, companyID string) ([]*entity.User, error) {
	return nil, nil
}

func (m *memUserRepo) ListByRole(ctx context.Context, companyID string, role entity.Role) ([]*entity.User, error) {
	var out []*entity.User
	for _, id := range []string{"admin", "admin2", "mgr", "emp", "fin", "u1", "u2", "u3", "u4"} {
		if u, ok := m.users[id]; ok && u.CompanyID == companyID && u.Role == role {
			out = append(out, u)
		}
	}
	return out, nil
}

func (m *memUserRepo) ListReports(ctx context.Context, managerID string) ([]*entity.User, error) {
	return nil, nil
}

func (m *memUserRepo) IsManagerOf(ctx context.Context, managerID, userID string) (bool, error) {
	if m.lookupErr != nil {
		return false, m.lookupErr
	}
	u, ok := m.users[userID]
	return ok && u.ManagerID != "" && u.ManagerID == managerID, nil
}

func (m *memUserRepo) ManagerOf(ctx context.Context, userID string) (*entity.User, error) {
	if m.lookupErr != nil {
		return nil, m.lookupErr
	}
	u, ok := m.users[userID]
	if !ok || u.ManagerID == "" {
		return nil, nil
	}
	return m.users[u.ManagerID], nil
}

type mockTxManager struct {
	commitErr error
}

func (m *mockTxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := fn(ctx); err != nil {
		return err
	}
	return m.commitErr
}

type mockDispatcher struct {
	mu     sync.Mutex
	events []*event.Event
}

func (m *mockDispatcher) Subscribe(eventType event.Type, handler dispatcher.Handler) {}

func (m *mockDispatcher) SubscribeNamed(eventType event.Type, name string, handler dispatcher.Handler) {
}

func (m *mockDispatcher) Unsubscribe(eventType event.Type, name string) {}

func (m *mockDispatcher) Dispatch(ctx context.Context, evt *event.Event) error {
	m.DispatchAsync(ctx, evt)
	return nil
}

func (m *mockDispatcher) DispatchAsync(ctx context.Context, evt *event.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
}

func (m *mockDispatcher) ListHandlers(eventType event.Type) []dispatcher.HandlerInfo { return nil }

func (m *mockDispatcher) Close() error { return nil }

func (m *mockDispatcher) last() *event.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) == 0 {
		return nil
	}
	return m.events[len(m.events)-1]
}

// Fixture

const company = "co-1"

type fixture struct {
	engine     ApprovalEngine
	expenses   *memExpenseRepo
	workflows  *memWorkflowRepo
	users      *memUserRepo
	tx         *mockTxManager
	dispatcher *mockDispatcher
	now        time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	users := &memUserRepo{users: map[string]*entity.User{}}
	for _, u := range []*entity.User{
		{ID: "admin", Name: "Ada Admin", Role: entity.RoleAdmin},
		{ID: "admin2", Name: "Second Admin", Role: entity.RoleAdmin},
		{ID: "mgr", Name: "Max Manager", Role: entity.RoleManager},
		{ID: "emp", Name: "Eve Employee", Role: entity.RoleEmployee, ManagerID: "mgr"},
		{ID: "fin", Name: "Finn Finance", Role: "FINANCE"},
		{ID: "u1", Name: "User One", Role: entity.RoleEmployee},
		{ID: "u2", Name: "User Two", Role: entity.RoleEmployee},
		{ID: "u3", Name: "User Three", Role: entity.RoleEmployee},
		{ID: "u4", Name: "User Four", Role: entity.RoleEmployee},
	} {
		u.CompanyID = company
		users.users[u.ID] = u
	}
	users.users["outsider"] = &entity.User{ID: "outsider", CompanyID: "co-2", Role: entity.RoleAdmin}

	f := &fixture{
		expenses:   newMemExpenseRepo(),
		workflows:  &memWorkflowRepo{defs: map[string]*entity.WorkflowDefinition{}},
		users:      users,
		tx:         &mockTxManager{},
		dispatcher: &mockDispatcher{},
		now:        time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
	}
	f.engine = NewEngine(f.expenses, f.workflows, f.users, f.users, f.tx,
		WithDispatcher(f.dispatcher),
		WithClock(func() time.Time { return f.now }),
	)
	return f
}

func (f *fixture) user(id string) *entity.User {
	return f.users.users[id]
}

func (f *fixture) addWorkflow(def *entity.WorkflowDefinition) string {
	if def.ID == "" {
		def.ID = fmt.Sprintf("wf-%d", len(f.workflows.defs)+1)
	}
	if def.CompanyID == "" {
		def.CompanyID = company
	}
	def.Active = true
	f.workflows.defs[def.ID] = def
	return def.ID
}

func (f *fixture) draft(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, f.expenses.Create(context.Background(), &entity.Expense{
		ID:          id,
		CompanyID:   company,
		SubmitterID: "emp",
		Description: "Client dinner",
		Category:    entity.CategoryMeals,
		Amount:      250,
		Status:      entity.StatusDraft,
	}))
}

func (f *fixture) submitted(t *testing.T, id, workflowID string) {
	t.Helper()
	f.draft(t, id)
	_, err := f.engine.Submit(context.Background(), f.user("emp"), id, workflowID)
	require.NoError(t, err)
}

func percentageOf(threshold int, ids ...string) *entity.WorkflowDefinition {
	refs := make([]entity.ApproverRef, 0, len(ids))
	for _, id := range ids {
		refs = append(refs, entity.ApproverRef{Kind: entity.ApproverUser, Value: id})
	}
	return &entity.WorkflowDefinition{
		Name:                "Quorum",
		RuleFamily:          entity.RulePercentage,
		EligibleApprovers:   refs,
		ThresholdPercentage: threshold,
	}
}

// Tests

func TestEngine_SequentialManagerThenAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wf := f.addWorkflow(&entity.WorkflowDefinition{
		Name:       "Two step",
		RuleFamily: entity.RuleSequential,
		Steps: []entity.ApprovalStep{
			{Name: "Manager Review", ApproverKind: entity.ApproverManager},
			{Name: "Admin Sign-off", ApproverKind: entity.ApproverRole, ApproverValue: "ADMIN"},
		},
	})

	f.submitted(t, "exp-1", wf)
	submitted := f.dispatcher.last()
	require.NotNil(t, submitted)
	assert.Equal(t, event.TypeExpenseSubmitted, submitted.Type)
	assert.Equal(t, []string{"mgr"}, submitted.GetPayloadStrings(event.KeyRecipientIDs))

	first, err := f.engine.Approve(ctx, f.user("mgr"), "exp-1", "")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusPending, first.Status)
	assert.Equal(t, 1, first.Expense.CurrentStepIndex)
	assert.Equal(t, "Manager Review", first.CurrentStepName)
	assert.Equal(t, "Admin Sign-off", first.NextStepName)
	assert.False(t, first.IsComplete)

	recorded := f.dispatcher.last()
	assert.Equal(t, event.TypeApprovalRecorded, recorded.Type)
	assert.Equal(t, []string{"admin", "admin2"}, recorded.GetPayloadStrings(event.KeyRecipientIDs))

	second, err := f.engine.Approve(ctx, f.user("admin"), "exp-1", "ok")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusApproved, second.Status)
	assert.Equal(t, 2, second.Expense.CurrentStepIndex)
	assert.True(t, second.IsComplete)
	assert.Len(t, second.Approvals, 2)

	approved := f.dispatcher.last()
	assert.Equal(t, event.TypeExpenseApproved, approved.Type)
	assert.Equal(t, []string{"emp"}, approved.GetPayloadStrings(event.KeyRecipientIDs))

	stored := f.expenses.stored("exp-1")
	assert.Equal(t, entity.StatusApproved, stored.Status)
	require.Len(t, stored.Approvals, 2)
	assert.Equal(t, 0, stored.Approvals[0].StepIndex)
	assert.Equal(t, entity.LevelManager, stored.Approvals[0].ApprovalLevel)
	assert.Equal(t, 1, stored.Approvals[1].StepIndex)
}

func TestEngine_VotingIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wf := f.addWorkflow(percentageOf(100, "u1", "u2", "u3"))
	f.submitted(t, "exp-1", wf)

	_, err := f.engine.Approve(ctx, f.user("u1"), "exp-1", "")
	require.NoError(t, err)

	_, err = f.engine.Approve(ctx, f.user("u1"), "exp-1", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, approval.ErrForbidden))
	assert.True(t, errors.Is(err, approval.ErrAlreadyVoted))

	_, err = f.engine.Reject(ctx, f.user("u1"), "exp-1", "changed my mind")
	assert.True(t, errors.Is(err, approval.ErrAlreadyVoted))

	assert.Len(t, f.expenses.stored("exp-1").Approvals, 1)
}

func TestEngine_ConcurrentVotesBySameActor(t *testing.T) {
	f := newFixture(t)
	wf := f.addWorkflow(percentageOf(100, "u1", "u2", "u3", "u4"))
	f.submitted(t, "exp-1", wf)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		voted     int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.Approve(context.Background(), f.user("u2"), "exp-1", "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, approval.ErrAlreadyVoted):
				voted++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, 7, voted)
	assert.Len(t, f.expenses.stored("exp-1").Approvals, 1)
	assert.Equal(t, 0, f.engine.(*engineImpl).locks.size())
}

func TestEngine_RejectionIsTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wf := f.addWorkflow(percentageOf(50, "u1", "u2"))
	f.submitted(t, "exp-1", wf)

	_, err := f.engine.Reject(ctx, f.user("u1"), "exp-1", "   ")
	assert.True(t, errors.Is(err, approval.ErrCommentRequired))
	assert.Empty(t, f.expenses.stored("exp-1").Approvals)

	result, err := f.engine.Reject(ctx, f.user("u1"), "exp-1", "No receipt attached")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusRejected, result.Status)
	assert.True(t, result.IsComplete)
	assert.Equal(t, "No receipt attached", result.Expense.RejectionReason)

	rejected := f.dispatcher.last()
	assert.Equal(t, event.TypeExpenseRejected, rejected.Type)
	assert.Equal(t, []string{"emp"}, rejected.GetPayloadStrings(event.KeyRecipientIDs))
	assert.Equal(t, "No receipt attached", rejected.GetPayloadString(event.KeyComment))

	_, err = f.engine.Approve(ctx, f.user("u2"), "exp-1", "")
	assert.True(t, errors.Is(err, approval.ErrNotPending))
	_, err = f.engine.Approve(ctx, f.user("admin"), "exp-1", "")
	assert.True(t, errors.Is(err, approval.ErrNotPending))
}

func TestEngine_PercentageFourAtFifty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wf := f.addWorkflow(percentageOf(50, "u1", "u2", "u3", "u4"))
	f.submitted(t, "exp-1", wf)

	assert.Empty(t, f.dispatcher.last().GetPayloadStrings(event.KeyRecipientIDs))

	first, err := f.engine.Approve(ctx, f.user("u4"), "exp-1", "")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusPending, first.Status)
	assert.Empty(t, first.NextStepName)

	second, err := f.engine.Approve(ctx, f.user("u2"), "exp-1", "")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusApproved, second.Status)

	_, err = f.engine.Approve(ctx, f.user("mgr"), "exp-1", "")
	assert.True(t, errors.Is(err, approval.ErrNotPending))
}

func hybridOf(secondary entity.RuleFamily) *entity.WorkflowDefinition {
	return &entity.WorkflowDefinition{
		Name:          "Hybrid",
		RuleFamily:    entity.RuleHybrid,
		PrimaryRule:   entity.RuleSequential,
		SecondaryRule: secondary,
		Steps: []entity.ApprovalStep{
			{Name: "Finance", ApproverKind: entity.ApproverUser, ApproverValue: "fin"},
			{Name: "Director", ApproverKind: entity.ApproverUser, ApproverValue: "mgr"},
		},
	}
}

func TestEngine_HybridQuorumVotesDoNotSignSteps(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	def := hybridOf(entity.RulePercentage)
	def.EligibleApprovers = percentageOf(100, "u1", "u2", "u3", "u4").EligibleApprovers
	def.ThresholdPercentage = 100
	wf := f.addWorkflow(def)
	f.submitted(t, "exp-1", wf)

	for _, id := range []string{"u1", "u2"} {
		result, err := f.engine.Approve(ctx, f.user(id), "exp-1", "")
		require.NoError(t, err)
		assert.Equal(t, entity.StatusPending, result.Status, "after %s", id)
		assert.Equal(t, 0, result.Expense.CurrentStepIndex, "after %s", id)
	}

	stored := f.expenses.stored("exp-1")
	require.Len(t, stored.Approvals, 2)
	for _, r := range stored.Approvals {
		assert.Equal(t, entity.NoStepIndex, r.StepIndex)
		assert.Equal(t, entity.LevelHybridPercentage, r.ApprovalLevel)
		assert.Equal(t, "Hybrid: Percentage Approval", r.StepName)
	}

	// the step approvers still have to act in order
	_, err := f.engine.Approve(ctx, f.user("mgr"), "exp-1", "")
	var forbidden *approval.ForbiddenError
	require.True(t, errors.As(err, &forbidden))

	first, err := f.engine.Approve(ctx, f.user("fin"), "exp-1", "")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusPending, first.Status)
	assert.Equal(t, 1, first.Expense.CurrentStepIndex)

	second, err := f.engine.Approve(ctx, f.user("mgr"), "exp-1", "")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusApproved, second.Status)
	assert.Equal(t, 2, second.Expense.CurrentStepIndex)
}

func TestEngine_HybridQuorumCompletesAlone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	def := hybridOf(entity.RulePercentage)
	def.EligibleApprovers = percentageOf(50, "u1", "u2", "u3", "u4").EligibleApprovers
	def.ThresholdPercentage = 50
	wf := f.addWorkflow(def)
	f.submitted(t, "exp-1", wf)

	// a step sign-off by a non-eligible approver is not a quorum vote
	step, err := f.engine.Approve(ctx, f.user("fin"), "exp-1", "")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusPending, step.Status)

	vote, err := f.engine.Approve(ctx, f.user("u3"), "exp-1", "")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusPending, vote.Status)
	assert.Equal(t, 1, vote.Expense.CurrentStepIndex)

	done, err := f.engine.Approve(ctx, f.user("u4"), "exp-1", "")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusApproved, done.Status)
	assert.Equal(t, 1, done.Expense.CurrentStepIndex)
}

func TestEngine_HybridSpecificVotesDoNotSignSteps(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	def := hybridOf(entity.RuleSpecific)
	def.RequiredApprovers = []entity.ApproverRef{
		{Kind: entity.ApproverUser, Value: "u1"},
		{Kind: entity.ApproverUser, Value: "u2"},
	}
	wf := f.addWorkflow(def)
	f.submitted(t, "exp-1", wf)

	first, err := f.engine.Approve(ctx, f.user("u1"), "exp-1", "")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusPending, first.Status)
	assert.Equal(t, 0, first.Expense.CurrentStepIndex)

	record := f.expenses.stored("exp-1").Approvals[0]
	assert.Equal(t, entity.NoStepIndex, record.StepIndex)
	assert.Equal(t, entity.LevelHybridSpecific, record.ApprovalLevel)
	assert.Equal(t, "Hybrid: Specific Approval", record.StepName)

	step, err := f.engine.Approve(ctx, f.user("fin"), "exp-1", "")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusPending, step.Status)
	assert.Equal(t, 1, step.Expense.CurrentStepIndex)

	done, err := f.engine.Approve(ctx, f.user("u2"), "exp-1", "")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusApproved, done.Status)
	assert.Equal(t, 1, done.Expense.CurrentStepIndex)
}

func TestEngine_ZeroThresholdCompletesOnFirstApproval(t *testing.T) {
	f := newFixture(t)
	wf := f.addWorkflow(percentageOf(0, "u1", "u2"))
	f.submitted(t, "exp-1", wf)

	assert.Equal(t, entity.StatusPending, f.expenses.stored("exp-1").Status)

	result, err := f.engine.Approve(context.Background(), f.user("u2"), "exp-1", "")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusApproved, result.Status)
}

func TestEngine_NonEligibleActorIsForbidden(t *testing.T) {
	f := newFixture(t)
	wf := f.addWorkflow(&entity.WorkflowDefinition{
		Name:       "Finance only",
		RuleFamily: entity.RuleSequential,
		Steps:      []entity.ApprovalStep{{Name: "Finance", ApproverKind: entity.ApproverRole, ApproverValue: "FINANCE"}},
	})
	f.submitted(t, "exp-1", wf)

	_, err := f.engine.Approve(context.Background(), f.user("mgr"), "exp-1", "")

	var forbidden *approval.ForbiddenError
	require.True(t, errors.As(err, &forbidden))
	assert.Equal(t, "Finance", forbidden.StepName)
	assert.False(t, errors.Is(err, approval.ErrAlreadyVoted))
	assert.Empty(t, f.expenses.stored("exp-1").Approvals)
}

func TestEngine_NoWorkflowUsesDirectManager(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.submitted(t, "exp-1", "")

	assert.Equal(t, []string{"mgr"}, f.dispatcher.last().GetPayloadStrings(event.KeyRecipientIDs))

	_, err := f.engine.Approve(ctx, f.user("u1"), "exp-1", "")
	assert.True(t, errors.Is(err, approval.ErrForbidden))

	result, err := f.engine.Approve(ctx, f.user("mgr"), "exp-1", "")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusApproved, result.Status)
}

func TestEngine_SubmitValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inactive := f.addWorkflow(percentageOf(50, "u1"))
	f.workflows.defs[inactive].Active = false
	foreign := f.addWorkflow(&entity.WorkflowDefinition{
		CompanyID:         "co-2",
		Name:              "Foreign",
		RuleFamily:        entity.RuleSpecific,
		RequiredApprovers: []entity.ApproverRef{{Kind: entity.ApproverUser, Value: "u1"}},
	})

	tests := []struct {
		name       string
		workflowID string
	}{
		{"missing workflow", "wf-missing"},
		{"inactive workflow", inactive},
		{"other company's workflow", foreign},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f.draft(t, "exp-"+tt.name)
			_, err := f.engine.Submit(ctx, f.user("emp"), "exp-"+tt.name, tt.workflowID)
			assert.True(t, errors.Is(err, approval.ErrInvalidWorkflow))
			assert.Equal(t, entity.StatusDraft, f.expenses.stored("exp-"+tt.name).Status)
		})
	}

	f.draft(t, "exp-1")
	_, err := f.engine.Submit(ctx, f.user("u1"), "exp-1", "")
	assert.True(t, errors.Is(err, approval.ErrForbidden))

	_, err = f.engine.Submit(ctx, f.user("emp"), "exp-1", "")
	require.NoError(t, err)
	stored := f.expenses.stored("exp-1")
	assert.Equal(t, entity.StatusPending, stored.Status)
	require.NotNil(t, stored.SubmittedAt)
	assert.Equal(t, f.now, *stored.SubmittedAt)

	_, err = f.engine.Submit(ctx, f.user("emp"), "exp-1", "")
	assert.True(t, errors.Is(err, approval.ErrNotDraft))

	_, err = f.engine.Submit(ctx, f.user("emp"), "exp-unknown", "")
	assert.True(t, errors.Is(err, port.ErrExpenseNotFound))
}

func TestEngine_CrossCompanyActorCannotSeeExpense(t *testing.T) {
	f := newFixture(t)
	f.submitted(t, "exp-1", "")

	_, err := f.engine.Approve(context.Background(), f.user("outsider"), "exp-1", "")
	assert.True(t, errors.Is(err, port.ErrExpenseNotFound))

	perm, err := f.engine.CheckPermission(context.Background(), f.expenses.stored("exp-1"), f.user("outsider"))
	require.NoError(t, err)
	assert.False(t, perm.CanAct)
}

func TestEngine_CheckPermissionAdminOverride(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wf := f.addWorkflow(&entity.WorkflowDefinition{
		Name:              "CFO required",
		RuleFamily:        entity.RuleSpecific,
		RequiredApprovers: []entity.ApproverRef{{Kind: entity.ApproverUser, Value: "u3"}},
	})
	f.submitted(t, "exp-1", wf)
	expense := f.expenses.stored("exp-1")

	perm, err := f.engine.CheckPermission(ctx, expense, f.user("admin"))
	require.NoError(t, err)
	assert.True(t, perm.CanAct)
	assert.Equal(t, entity.LevelAdminOverride, perm.ApprovalLevel)

	perm, err = f.engine.CheckPermission(ctx, expense, f.user("u1"))
	require.NoError(t, err)
	assert.False(t, perm.CanAct)

	// admin override records a vote but does not satisfy the specific rule
	result, err := f.engine.Approve(ctx, f.user("admin"), "exp-1", "")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusPending, result.Status)

	perm, err = f.engine.CheckPermission(ctx, result.Expense, f.user("admin"))
	require.NoError(t, err)
	assert.False(t, perm.CanAct)
	assert.True(t, perm.AlreadyVoted)
}

func TestEngine_Cancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.submitted(t, "exp-1", "")

	_, err := f.engine.Cancel(ctx, f.user("mgr"), "exp-1", "duplicate")
	assert.True(t, errors.Is(err, approval.ErrForbidden))

	_, err = f.engine.Cancel(ctx, f.user("admin"), "exp-1", "")
	assert.True(t, errors.Is(err, port.ErrInvalidInput))

	cancelled, err := f.engine.Cancel(ctx, f.user("admin"), "exp-1", "duplicate")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusCancelled, cancelled.Status)
	assert.Equal(t, "duplicate", cancelled.CancelReason)
	assert.Equal(t, event.TypeExpenseCancelled, f.dispatcher.last().Type)

	_, err = f.engine.Cancel(ctx, f.user("admin"), "exp-1", "again")
	assert.True(t, errors.Is(err, approval.ErrNotPending))
	_, err = f.engine.Approve(ctx, f.user("mgr"), "exp-1", "")
	assert.True(t, errors.Is(err, approval.ErrNotPending))
}

func TestEngine_CollaboratorErrorsPropagate(t *testing.T) {
	f := newFixture(t)
	f.submitted(t, "exp-1", "")
	f.users.lookupErr = errors.New("directory unavailable")

	_, err := f.engine.Approve(context.Background(), f.user("mgr"), "exp-1", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "directory unavailable")
	assert.Empty(t, f.expenses.stored("exp-1").Approvals)
}

func TestEngine_CommitFailureDispatchesNothing(t *testing.T) {
	f := newFixture(t)
	f.submitted(t, "exp-1", "")
	before := len(f.dispatcher.events)

	f.tx.commitErr = errors.New("disk full")
	_, err := f.engine.Approve(context.Background(), f.user("mgr"), "exp-1", "")

	require.Error(t, err)
	assert.Len(t, f.dispatcher.events, before)
}

func TestEngine_NextApprovers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seq := f.addWorkflow(&entity.WorkflowDefinition{
		Name:         "Manager first",
		RuleFamily:   entity.RuleSequential,
		ManagerFirst: true,
		Steps: []entity.ApprovalStep{
			{Name: "Finance", ApproverKind: entity.ApproverRole, ApproverValue: "FINANCE"},
			{Name: "Named", ApproverKind: entity.ApproverUser, ApproverValue: "u3"},
		},
	})
	f.submitted(t, "exp-1", seq)

	users, err := f.engine.NextApprovers(ctx, f.expenses.stored("exp-1"))
	require.NoError(t, err)
	assert.Equal(t, []string{"mgr", "fin"}, userIDs(users))

	_, err = f.engine.Approve(ctx, f.user("fin"), "exp-1", "")
	require.NoError(t, err)

	users, err = f.engine.NextApprovers(ctx, f.expenses.stored("exp-1"))
	require.NoError(t, err)
	assert.Equal(t, []string{"u3"}, userIDs(users))

	pct := f.addWorkflow(percentageOf(50, "u1", "u2"))
	f.submitted(t, "exp-2", pct)
	users, err = f.engine.NextApprovers(ctx, f.expenses.stored("exp-2"))
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestEngine_InvalidDecision(t *testing.T) {
	f := newFixture(t)
	f.submitted(t, "exp-1", "")

	_, err := f.engine.Act(context.Background(), f.user("mgr"), "exp-1", entity.Decision("ABSTAIN"), "")
	assert.True(t, errors.Is(err, port.ErrInvalidInput))
}

func TestEngine_ValidateDefinition(t *testing.T) {
	f := newFixture(t)

	err := f.engine.ValidateDefinition(&entity.WorkflowDefinition{Name: "x", RuleFamily: "ROUND_ROBIN"})
	assert.True(t, errors.Is(err, approval.ErrInvalidDefinition))
	assert.NoError(t, f.engine.ValidateDefinition(percentageOf(60, "u1", "u2", "u3")))
}

func TestBuildExpenseStateMachine(t *testing.T) {
	ctx := context.Background()

	complete := BuildExpenseStateMachine("PENDING", func() bool { return true })
	tr, err := complete.Fire(ctx, "APPROVE")
	require.NoError(t, err)
	assert.Equal(t, "APPROVED", string(tr.To))

	incomplete := BuildExpenseStateMachine("PENDING", func() bool { return false })
	tr, err = incomplete.Fire(ctx, "APPROVE")
	require.NoError(t, err)
	assert.Equal(t, "PENDING", string(tr.To))

	draft := BuildExpenseStateMachine("DRAFT", nil)
	assert.False(t, draft.CanFire(ctx, "APPROVE"))
	assert.True(t, draft.CanFire(ctx, "SUBMIT"))

	_, err = BuildExpenseStateMachine("REJECTED", nil).Fire(ctx, "APPROVE")
	assert.Error(t, err)
}
