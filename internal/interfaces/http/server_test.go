package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/garyjia/expense-approval/internal/config"
	"github.com/garyjia/expense-approval/internal/container"
	"github.com/garyjia/expense-approval/pkg/utils"
)

type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

type testAPI struct {
	t      *testing.T
	router http.Handler
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	dir := t.TempDir()

	cfg := &config.Config{
		Server:   config.ServerConfig{Host: "127.0.0.1", Port: 8080},
		Database: config.DatabaseConfig{Driver: config.DriverSQLite, Path: filepath.Join(dir, "api.db"), MaxOpenConns: 4},
		Notifier: config.NotifierConfig{Drivers: []string{config.NotifierLog}},
		Currency: config.CurrencyConfig{Base: "USD", Rates: map[string]float64{"EUR": 1.1}},
		Report:   config.ReportConfig{ArchiveDir: filepath.Join(dir, "archive")},
	}

	logger := zap.NewNop()
	c, err := container.NewContainer(cfg, logger)
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { _ = c.Close() })

	s := c.Services()
	health := func(ctx context.Context) (bool, interface{}) {
		status := c.Health(ctx)
		return status.Overall, status.Components
	}
	server := NewServer(DefaultServerConfig(), Services{
		Engine:    s.Engine,
		Companies: s.Companies,
		Workflows: s.Workflows,
		Expenses:  s.Expenses,
		Approvals: s.Approvals,
		Reports:   s.Reports,
	}, health, utils.NewKeyValueLogger(logger, "http"))

	return &testAPI{t: t, router: server.Router()}
}

func (a *testAPI) raw(method, path, userID string, body interface{}) *httptest.ResponseRecorder {
	a.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(a.t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set(UserIDHeader, userID)
	}

	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) do(method, path, userID string, body interface{}, wantStatus int, out interface{}) apiResponse {
	a.t.Helper()
	rec := a.raw(method, path, userID, body)
	require.Equal(a.t, wantStatus, rec.Code, "%s %s: %s", method, path, rec.Body.String())

	var resp apiResponse
	require.NoError(a.t, json.Unmarshal(rec.Body.Bytes(), &resp))
	if out != nil {
		require.NoError(a.t, json.Unmarshal(resp.Data, out))
	}
	return resp
}

type idOnly struct {
	ID string `json:"id"`
}

func TestHealth(t *testing.T) {
	api := newTestAPI(t)

	var health HealthResponse
	api.do(http.MethodGet, "/health", "", nil, http.StatusOK, &health)
	assert.Equal(t, "healthy", health.Status)
}

func TestAuthentication(t *testing.T) {
	api := newTestAPI(t)

	resp := api.do(http.MethodGet, "/api/expenses", "", nil, http.StatusUnauthorized, nil)
	assert.False(t, resp.Success)

	api.do(http.MethodGet, "/api/expenses", "nobody", nil, http.StatusUnauthorized, nil)
}

func TestExpenseApprovalFlow(t *testing.T) {
	api := newTestAPI(t)

	var boot struct {
		Company idOnly `json:"company"`
		Admin   idOnly `json:"admin"`
	}
	api.do(http.MethodPost, "/api/companies", "", map[string]string{
		"company_name":     "Acme",
		"default_currency": "USD",
		"admin_name":       "Ada Admin",
		"admin_email":      "ada@acme.test",
	}, http.StatusCreated, &boot)
	admin := boot.Admin.ID
	require.NotEmpty(t, admin)

	var mgr, emp idOnly
	api.do(http.MethodPost, "/api/users", admin, map[string]string{
		"name": "Max Manager", "email": "max@acme.test", "role": "MANAGER",
	}, http.StatusCreated, &mgr)
	api.do(http.MethodPost, "/api/users", admin, map[string]string{
		"name": "Eve Employee", "email": "eve@acme.test", "role": "EMPLOYEE", "manager_id": mgr.ID,
	}, http.StatusCreated, &emp)

	// employees cannot create users
	api.do(http.MethodPost, "/api/users", emp.ID, map[string]string{
		"name": "Sneaky", "email": "sneaky@acme.test", "role": "ADMIN",
	}, http.StatusForbidden, nil)

	// invalid definitions are rejected with the offending field
	resp := api.do(http.MethodPost, "/api/workflows", admin, map[string]interface{}{
		"name": "Broken", "rule_family": "SEQUENTIAL", "active": true,
	}, http.StatusBadRequest, nil)
	assert.Contains(t, resp.Error, "steps")

	var wf idOnly
	api.do(http.MethodPost, "/api/workflows", admin, map[string]interface{}{
		"name":        "Manager then Finance",
		"rule_family": "SEQUENTIAL",
		"active":      true,
		"steps": []map[string]string{
			{"name": "Manager Review", "approver_kind": "MANAGER"},
			{"name": "Finance Review", "approver_kind": "ROLE", "approver_value": "ADMIN"},
		},
	}, http.StatusCreated, &wf)

	var exp struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Amount float64
	}
	api.do(http.MethodPost, "/api/expenses", emp.ID, map[string]interface{}{
		"description":  "Client dinner",
		"category":     "MEALS",
		"amount":       100,
		"currency":     "EUR",
		"expense_date": time.Now().UTC().Format(time.RFC3339),
	}, http.StatusCreated, &exp)
	assert.Equal(t, "DRAFT", exp.Status)

	// only the submitter may submit
	api.do(http.MethodPost, "/api/expenses/"+exp.ID+"/submit", mgr.ID, map[string]string{
		"workflow_id": wf.ID,
	}, http.StatusForbidden, nil)

	api.do(http.MethodPost, "/api/expenses/"+exp.ID+"/submit", emp.ID, map[string]string{
		"workflow_id": "missing",
	}, http.StatusBadRequest, nil)

	api.do(http.MethodPost, "/api/expenses/"+exp.ID+"/submit", emp.ID, map[string]string{
		"workflow_id": wf.ID,
	}, http.StatusOK, &exp)
	assert.Equal(t, "PENDING", exp.Status)

	// a second submit is refused
	api.do(http.MethodPost, "/api/expenses/"+exp.ID+"/submit", emp.ID, map[string]string{
		"workflow_id": wf.ID,
	}, http.StatusBadRequest, nil)

	var perm struct {
		CanAct          bool   `json:"can_act"`
		CurrentStepName string `json:"current_step_name"`
	}
	api.do(http.MethodGet, "/api/expenses/"+exp.ID+"/permission", mgr.ID, nil, http.StatusOK, &perm)
	assert.True(t, perm.CanAct)
	assert.Equal(t, "Manager Review", perm.CurrentStepName)

	api.do(http.MethodGet, "/api/expenses/"+exp.ID+"/permission", emp.ID, nil, http.StatusOK, &perm)
	assert.False(t, perm.CanAct)

	var pending struct {
		Items []struct {
			Expense     idOnly `json:"expense"`
			CurrentStep struct {
				Name string `json:"name"`
			} `json:"current_step"`
		} `json:"items"`
	}
	api.do(http.MethodGet, "/api/expenses/pending", mgr.ID, nil, http.StatusOK, &pending)
	require.Len(t, pending.Items, 1)
	assert.Equal(t, exp.ID, pending.Items[0].Expense.ID)
	assert.Equal(t, "Manager Review", pending.Items[0].CurrentStep.Name)

	// rejecting needs a comment
	api.do(http.MethodPost, "/api/expenses/"+exp.ID+"/reject", mgr.ID, map[string]string{}, http.StatusBadRequest, nil)

	var result struct {
		Status       string `json:"status"`
		NextStepName string `json:"next_step_name"`
		IsComplete   bool   `json:"is_complete"`
	}
	api.do(http.MethodPost, "/api/expenses/"+exp.ID+"/approve", mgr.ID, map[string]string{
		"comment": "fine",
	}, http.StatusOK, &result)
	assert.Equal(t, "PENDING", result.Status)
	assert.False(t, result.IsComplete)

	// a repeat vote is forbidden
	resp = api.do(http.MethodPost, "/api/expenses/"+exp.ID+"/approve", mgr.ID, nil, http.StatusForbidden, nil)
	assert.Contains(t, resp.Error, "already approved")

	// the workflow is in use and cannot be deleted
	api.do(http.MethodDelete, "/api/workflows/"+wf.ID, admin, nil, http.StatusConflict, nil)

	api.do(http.MethodPost, "/api/expenses/"+exp.ID+"/approve", admin, nil, http.StatusOK, &result)
	assert.Equal(t, "APPROVED", result.Status)
	assert.True(t, result.IsComplete)

	// terminal expenses accept no further decisions
	api.do(http.MethodPost, "/api/expenses/"+exp.ID+"/reject", mgr.ID, map[string]string{
		"comment": "too late",
	}, http.StatusBadRequest, nil)

	var fetched struct {
		Status    string `json:"status"`
		Approvals []struct {
			ActorID  string `json:"actor_id"`
			StepName string `json:"step_name"`
		} `json:"approvals"`
	}
	api.do(http.MethodGet, "/api/expenses/"+exp.ID, emp.ID, nil, http.StatusOK, &fetched)
	assert.Equal(t, "APPROVED", fetched.Status)
	require.Len(t, fetched.Approvals, 2)
	assert.Equal(t, mgr.ID, fetched.Approvals[0].ActorID)

	api.do(http.MethodGet, "/api/expenses/does-not-exist", emp.ID, nil, http.StatusNotFound, nil)

	var listed []idOnly
	api.do(http.MethodGet, "/api/expenses?status=approved", mgr.ID, nil, http.StatusOK, &listed)
	assert.Len(t, listed, 1)
	api.do(http.MethodGet, "/api/expenses?status=bogus", mgr.ID, nil, http.StatusBadRequest, nil)

	// reports are admin only
	api.do(http.MethodGet, "/api/reports/approvals.xlsx", emp.ID, nil, http.StatusForbidden, nil)

	rec := api.raw(http.MethodGet, "/api/reports/approvals.xlsx", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	archived := rec.Header().Get(ArchiveNameHeader)
	assert.NotEmpty(t, archived)

	book, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	rows, err := book.GetRows("Approvals")
	require.NoError(t, err)
	assert.Len(t, rows, 3, "header plus two approval records")
	require.NoError(t, book.Close())

	var files []struct {
		Name string `json:"name"`
	}
	api.do(http.MethodGet, "/api/reports/archive", admin, nil, http.StatusOK, &files)
	require.Len(t, files, 1)
	assert.Equal(t, archived, files[0].Name)

	rec = api.raw(http.MethodGet, "/api/reports/archive/"+archived, admin, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", rec.Header().Get("Content-Type"))

	api.do(http.MethodGet, "/api/reports/archive/missing.xlsx", admin, nil, http.StatusNotFound, nil)
}

func TestWorkflowAdministration(t *testing.T) {
	api := newTestAPI(t)

	var boot struct {
		Admin idOnly `json:"admin"`
	}
	api.do(http.MethodPost, "/api/companies", "", map[string]string{
		"company_name": "Globex", "default_currency": "USD",
		"admin_name": "Hank", "admin_email": "hank@globex.test",
	}, http.StatusCreated, &boot)
	admin := boot.Admin.ID

	var templates []struct {
		Name string `json:"name"`
	}
	api.do(http.MethodGet, "/api/workflows/templates", admin, nil, http.StatusOK, &templates)
	assert.NotEmpty(t, templates)

	var wf struct {
		ID     string `json:"id"`
		Active bool   `json:"active"`
	}
	api.do(http.MethodPost, "/api/workflows", admin, map[string]interface{}{
		"name":                 "Half the admins",
		"rule_family":          "PERCENTAGE",
		"active":               true,
		"threshold_percentage": 50,
		"eligible_approvers":   []map[string]string{{"kind": "ROLE", "value": "ADMIN"}},
	}, http.StatusCreated, &wf)
	assert.True(t, wf.Active)

	api.do(http.MethodPut, "/api/workflows/"+wf.ID, admin, map[string]bool{"active": false}, http.StatusOK, &wf)
	assert.False(t, wf.Active)

	api.do(http.MethodGet, "/api/workflows/"+wf.ID, admin, nil, http.StatusOK, &wf)
	assert.False(t, wf.Active)

	api.do(http.MethodPut, "/api/workflows/"+wf.ID, admin, map[string]interface{}{
		"name":                 "Half the admins",
		"rule_family":          "PERCENTAGE",
		"threshold_percentage": 150,
		"eligible_approvers":   []map[string]string{{"kind": "ROLE", "value": "ADMIN"}},
	}, http.StatusBadRequest, nil)

	var listed []idOnly
	api.do(http.MethodGet, "/api/workflows", admin, nil, http.StatusOK, &listed)
	assert.Len(t, listed, 1)

	api.do(http.MethodDelete, "/api/workflows/"+wf.ID, admin, nil, http.StatusOK, nil)
	api.do(http.MethodGet, "/api/workflows/"+wf.ID, admin, nil, http.StatusNotFound, nil)
}
