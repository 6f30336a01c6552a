package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/garyjia/expense-approval/internal/application/dispatcher"
	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/approval"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/domain/event"
)

type mockLogger struct{}

func (m *mockLogger) Info(msg string, keysAndValues ...interface{})  {}
func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {}

type mockTxManager struct{}

func (m *mockTxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// memExpenseRepo keeps expenses in insertion order
type memExpenseRepo struct {
	mu       sync.Mutex
	order    []string
	expenses map[string]*entity.Expense
	reminded map[string]time.Time
	listErr  error
}

func newMemExpenseRepo(expenses ...*entity.Expense) *memExpenseRepo {
	m := &memExpenseRepo{
		expenses: make(map[string]*entity.Expense),
		reminded: make(map[string]time.Time),
	}
	for _, e := range expenses {
		_ = m.Create(context.Background(), e)
	}
	return m
}

func (m *memExpenseRepo) Create(ctx context.Context, expense *entity.Expense) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.order = append(m.order, expense.ID)
	m.expenses[expense.ID] = expense.Clone()
	return nil
}

func (m *memExpenseRepo) GetByID(ctx context.Context, companyID, id string) (*entity.Expense, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.expenses[id]
	if !ok || e.CompanyID != companyID {
		return nil, nil
	}
	return e.Clone(), nil
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
	expense.Version++
	m.expenses[expense.ID] = expense.Clone()
	return nil
}

func (m *memExpenseRepo) AppendApproval(ctx context.Context, record *entity.ApprovalRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := m.expenses[record.ExpenseID]
	record.ID = int64(len(stored.Approvals) + 1)
	stored.Approvals = append(stored.Approvals, *record)
	return nil
}

func (m *memExpenseRepo) List(ctx context.Context, filter port.ExpenseFilter) ([]*entity.Expense, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*entity.Expense
	for _, id := range m.order {
		e := m.expenses[id]
		if e.CompanyID != filter.CompanyID {
			continue
		}
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		if len(filter.SubmitterIDs) > 0 && !contains(filter.SubmitterIDs, e.SubmitterID) {
			continue
		}
		out = append(out, e.Clone())
	}
	return out, nil
}

func (m *memExpenseRepo) ListPending(ctx context.Context, companyID string) ([]*entity.Expense, error) {
	return m.List(ctx, port.ExpenseFilter{CompanyID: companyID, Status: entity.StatusPending})
}

func (m *memExpenseRepo) ListReminderCandidates(ctx context.Context, submittedBefore, remindedBefore time.Time, limit int) ([]*entity.Expense, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*entity.Expense
	for _, id := range m.order {
		e := m.expenses[id]
		if e.Status != entity.StatusPending || e.SubmittedAt == nil || !e.SubmittedAt.Before(submittedBefore) {
			continue
		}
		if e.LastRemindedAt != nil && !e.LastRemindedAt.Before(remindedBefore) {
			continue
		}
		out = append(out, e.Clone())
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memExpenseRepo) MarkReminded(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reminded[id] = at
	m.expenses[id].LastRemindedAt = &at
	return nil
}

func (m *memExpenseRepo) CountActiveByWorkflow(ctx context.Context, companyID, workflowID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.expenses {
		if e.CompanyID == companyID && e.WorkflowID == workflowID &&
			(e.Status == entity.StatusPending || e.Status == entity.StatusApproved) {
			n++
		}
	}
	return n, nil
}

type memWorkflowRepo struct {
	defs map[string]*entity.WorkflowDefinition
}

func newMemWorkflowRepo(defs ...*entity.WorkflowDefinition) *memWorkflowRepo {
	m := &memWorkflowRepo{defs: make(map[string]*entity.WorkflowDefinition)}
	for _, d := range defs {
		m.defs[d.ID] = d
	}
	return m
}

func (m *memWorkflowRepo) Create(ctx context.Context, def *entity.WorkflowDefinition) error {
	m.defs[def.ID] = def
	return nil
}

func (m *memWorkflowRepo) GetByID(ctx context.Context, companyID, id string) (*entity.WorkflowDefinition, error) {
	d, ok := m.defs[id]
	if !ok || d.CompanyID != companyID {
		return nil, nil
	}
	c := *d
	return &c, nil
}

func (m *memWorkflowRepo) List(ctx context.Context, companyID string) ([]*entity.WorkflowDefinition, error) {
	var out []*entity.WorkflowDefinition
	for _, d := range m.defs {
		if d.CompanyID == companyID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memWorkflowRepo) Update(ctx context.Context, def *entity.WorkflowDefinition) error {
	m.defs[def.ID] = def
	return nil
}

func (m *memWorkflowRepo) Delete(ctx context.Context, companyID, id string) error {
	delete(m.defs, id)
	return nil
}

type memCompanyRepo struct {
	companies map[string]*entity.Company
}

func (m *memCompanyRepo) Create(ctx context.Context, company *entity.Company) error {
	m.companies[company.ID] = company
	return nil
}

func (m *memCompanyRepo) GetByID(ctx context.Context, id string) (*entity.Company, error) {
	return m.companies[id], nil
}

// memUserRepo doubles as the org chart
type memUserRepo struct {
	order []string
	users map[string]*entity.User
}

func newMemUserRepo(users ...*entity.User) *memUserRepo {
	m := &memUserRepo{users: make(map[string]*entity.User)}
	for _, u := range users {
		_ = m.Create(context.Background(), u)
	}
	return m
}

func (m *memUserRepo) Create(ctx context.Context, user *entity.User) error {
	m.order = append(m.order, user.ID)
	m.users[user.ID] = user
	return nil
}

func (m *memUserRepo) GetByID(ctx context.Context, id string) (*entity.User, error) {
	return m.users[id], nil
}

func (m *memUserRepo) GetByEmail(ctx context.Context, email string) (*entity.User, error) {
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, nil
}

func (m *memUserRepo) ListByCompany(ctx context.Context, companyID string) ([]*entity.User, error) {
	return m.filter(func(u *entity.User) bool { return u.CompanyID == companyID }), nil
}

func (m *memUserRepo) ListByRole(ctx context.Context, companyID string, role entity.Role) ([]*entity.User, error) {
	return m.filter(func(u *entity.User) bool { return u.CompanyID == companyID && u.Role == role }), nil
}

func (m *memUserRepo) ListReports(ctx context.Context, managerID string) ([]*entity.User, error) {
	return m.filter(func(u *entity.User) bool { return u.ManagerID == managerID }), nil
}

func (m *memUserRepo) IsManagerOf(ctx context.Context, managerID, userID string) (bool, error) {
	u, ok := m.users[userID]
	return ok && u.ManagerID != "" && u.ManagerID == managerID, nil
}

func (m *memUserRepo) ManagerOf(ctx context.Context, userID string) (*entity.User, error) {
	u, ok := m.users[userID]
	if !ok || u.ManagerID == "" {
		return nil, nil
	}
	return m.users[u.ManagerID], nil
}

func (m *memUserRepo) filter(keep func(*entity.User) bool) []*entity.User {
	var out []*entity.User
	for _, id := range m.order {
		if u := m.users[id]; keep(u) {
			out = append(out, u)
		}
	}
	return out
}

type recordingDispatcher struct {
	mu     sync.Mutex
	events []*event.Event
}

func (d *recordingDispatcher) Subscribe(eventType event.Type, handler dispatcher.Handler) {}
func (d *recordingDispatcher) SubscribeNamed(eventType event.Type, name string, handler dispatcher.Handler) {
}
func (d *recordingDispatcher) Unsubscribe(eventType event.Type, name string) {}
func (d *recordingDispatcher) Dispatch(ctx context.Context, evt *event.Event) error {
	d.DispatchAsync(ctx, evt)
	return nil
}
func (d *recordingDispatcher) DispatchAsync(ctx context.Context, evt *event.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, evt)
}
func (d *recordingDispatcher) ListHandlers(eventType event.Type) []dispatcher.HandlerInfo { return nil }
func (d *recordingDispatcher) Close() error                                             { return nil }

type validatorFunc func(def *entity.WorkflowDefinition) error

func (f validatorFunc) ValidateDefinition(def *entity.WorkflowDefinition) error {
	return f(def)
}

var domainValidator = validatorFunc(approval.ValidateDefinition)

// Shared fixture: company co-1 with an admin, a manager and two reports

const testCompany = "co-1"

func testUsers() *memUserRepo {
	return newMemUserRepo(
		&entity.User{ID: "admin", CompanyID: testCompany, Name: "Ada Admin", Email: "ada@example.com", Role: entity.RoleAdmin},
		&entity.User{ID: "mgr", CompanyID: testCompany, Name: "Max Manager", Email: "max@example.com", Role: entity.RoleManager},
		&entity.User{ID: "emp", CompanyID: testCompany, Name: "Eve Employee", Email: "eve@example.com", Role: entity.RoleEmployee, ManagerID: "mgr"},
		&entity.User{ID: "emp2", CompanyID: testCompany, Name: "Sam Staff", Email: "sam@example.com", Role: entity.RoleEmployee},
		&entity.User{ID: "stranger", CompanyID: "co-2", Name: "Other Co", Email: "other@example.com", Role: entity.RoleAdmin},
	)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
