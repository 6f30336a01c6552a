package http

import (
	"encoding/json"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/expense-approval/internal/domain/entity"
)

// ListWorkflows handles GET /api/workflows
func (h *Handlers) ListWorkflows(c *gin.Context) {
	defs, err := h.services.Workflows.List(c.Request.Context(), caller(c))
	if err != nil {
		h.fail(c, "list workflows", err)
		return
	}
	ok(c, defs)
}

// WorkflowTemplates handles GET /api/workflows/templates
func (h *Handlers) WorkflowTemplates(c *gin.Context) {
	templates, err := h.services.Workflows.Templates()
	if err != nil {
		h.fail(c, "workflow templates", err)
		return
	}
	ok(c, templates)
}

// GetWorkflow handles GET /api/workflows/:id
func (h *Handlers) GetWorkflow(c *gin.Context) {
	def, err := h.services.Workflows.Get(c.Request.Context(), caller(c), c.Param("id"))
	if err != nil {
		h.fail(c, "get workflow", err)
		return
	}
	ok(c, def)
}

// CreateWorkflow handles POST /api/workflows
func (h *Handlers) CreateWorkflow(c *gin.Context) {
	var def entity.WorkflowDefinition
	if err := c.ShouldBindJSON(&def); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	stored, err := h.services.Workflows.Create(c.Request.Context(), caller(c), &def)
	if err != nil {
		h.fail(c, "create workflow", err)
		return
	}
	created(c, stored)
}

// UpdateWorkflow handles PUT /api/workflows/:id. A body holding only
// "active" toggles activation without revalidating the rules.
func (h *Handlers) UpdateWorkflow(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		badRequest(c, "invalid request body")
		return
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	ctx := c.Request.Context()
	id := c.Param("id")

	if raw, found := fields["active"]; found && len(fields) == 1 {
		var active bool
		if err := json.Unmarshal(raw, &active); err != nil {
			badRequest(c, "active must be a boolean")
			return
		}
		def, err := h.services.Workflows.SetActive(ctx, caller(c), id, active)
		if err != nil {
			h.fail(c, "set workflow active", err)
			return
		}
		ok(c, def)
		return
	}

	var def entity.WorkflowDefinition
	if err := json.Unmarshal(body, &def); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	updated, err := h.services.Workflows.Update(ctx, caller(c), id, &def)
	if err != nil {
		h.fail(c, "update workflow", err)
		return
	}
	ok(c, updated)
}

// DeleteWorkflow handles DELETE /api/workflows/:id
func (h *Handlers) DeleteWorkflow(c *gin.Context) {
	id := c.Param("id")
	if err := h.services.Workflows.Delete(c.Request.Context(), caller(c), id); err != nil {
		h.fail(c, "delete workflow", err)
		return
	}
	ok(c, gin.H{"id": id, "deleted": true})
}
