package http

import (
	"github.com/gin-gonic/gin"

	"github.com/garyjia/expense-approval/internal/application/service"
)

// SubmitRequest selects the workflow an expense is submitted under. An
// empty workflow id submits for direct manager approval.
type SubmitRequest struct {
	WorkflowID string `json:"workflow_id"`
}

// DecisionRequest carries an optional approval comment or a required
// rejection comment
type DecisionRequest struct {
	Comment string `json:"comment"`
}

// CancelRequest carries the reason of an administrative cancellation
type CancelRequest struct {
	Reason string `json:"reason"`
}

// CreateExpense handles POST /api/expenses
func (h *Handlers) CreateExpense(c *gin.Context) {
	var req service.ExpenseInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	expense, err := h.services.Expenses.Create(c.Request.Context(), caller(c), req)
	if err != nil {
		h.fail(c, "create expense", err)
		return
	}
	created(c, expense)
}

// ListExpenses handles GET /api/expenses
func (h *Handlers) ListExpenses(c *gin.Context) {
	status, valid := queryStatus(c)
	if !valid {
		return
	}
	limit, valid := queryInt(c, "limit", 50)
	if !valid {
		return
	}
	offset, valid := queryInt(c, "offset", 0)
	if !valid {
		return
	}

	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	expenses, err := h.services.Expenses.List(c.Request.Context(), caller(c), service.ExpenseListOptions{
		Status: status,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		h.fail(c, "list expenses", err)
		return
	}
	ok(c, expenses)
}

// PendingApprovals handles GET /api/expenses/pending
func (h *Handlers) PendingApprovals(c *gin.Context) {
	page, valid := queryInt(c, "page", 1)
	if !valid {
		return
	}
	limit, valid := queryInt(c, "limit", 10)
	if !valid {
		return
	}

	result, err := h.services.Approvals.ListPendingFor(c.Request.Context(), caller(c), page, limit)
	if err != nil {
		h.fail(c, "pending approvals", err)
		return
	}
	ok(c, result)
}

// GetExpense handles GET /api/expenses/:id
func (h *Handlers) GetExpense(c *gin.Context) {
	expense, err := h.services.Expenses.Get(c.Request.Context(), caller(c), c.Param("id"))
	if err != nil {
		h.fail(c, "get expense", err)
		return
	}
	ok(c, expense)
}

// UpdateExpense handles PUT /api/expenses/:id
func (h *Handlers) UpdateExpense(c *gin.Context) {
	var req service.ExpenseInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	expense, err := h.services.Expenses.Update(c.Request.Context(), caller(c), c.Param("id"), req)
	if err != nil {
		h.fail(c, "update expense", err)
		return
	}
	ok(c, expense)
}

// SubmitExpense handles POST /api/expenses/:id/submit
func (h *Handlers) SubmitExpense(c *gin.Context) {
	var req SubmitRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	expense, err := h.services.Engine.Submit(c.Request.Context(), caller(c), c.Param("id"), req.WorkflowID)
	if err != nil {
		h.fail(c, "submit expense", err)
		return
	}
	ok(c, expense)
}

// ApproveExpense handles POST /api/expenses/:id/approve
func (h *Handlers) ApproveExpense(c *gin.Context) {
	var req DecisionRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	result, err := h.services.Engine.Approve(c.Request.Context(), caller(c), c.Param("id"), req.Comment)
	if err != nil {
		h.fail(c, "approve expense", err)
		return
	}
	ok(c, result)
}

// RejectExpense handles POST /api/expenses/:id/reject
func (h *Handlers) RejectExpense(c *gin.Context) {
	var req DecisionRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	result, err := h.services.Engine.Reject(c.Request.Context(), caller(c), c.Param("id"), req.Comment)
	if err != nil {
		h.fail(c, "reject expense", err)
		return
	}
	ok(c, result)
}

// CancelExpense handles POST /api/expenses/:id/cancel
func (h *Handlers) CancelExpense(c *gin.Context) {
	var req CancelRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	expense, err := h.services.Engine.Cancel(c.Request.Context(), caller(c), c.Param("id"), req.Reason)
	if err != nil {
		h.fail(c, "cancel expense", err)
		return
	}
	ok(c, expense)
}

// ExpensePermission handles GET /api/expenses/:id/permission
func (h *Handlers) ExpensePermission(c *gin.Context) {
	perm, err := h.services.Approvals.Permission(c.Request.Context(), caller(c), c.Param("id"))
	if err != nil {
		h.fail(c, "check permission", err)
		return
	}
	ok(c, perm)
}

// bindOptionalJSON decodes the body when there is one
func bindOptionalJSON(c *gin.Context, dst interface{}) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dst); err != nil {
		badRequest(c, "invalid request body")
		return false
	}
	return true
}
