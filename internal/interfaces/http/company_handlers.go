package http

import (
	"github.com/gin-gonic/gin"

	"github.com/garyjia/expense-approval/internal/application/service"
	"github.com/garyjia/expense-approval/internal/domain/entity"
)

// BootstrapResponse is the company created with its first administrator
type BootstrapResponse struct {
	Company *entity.Company `json:"company"`
	Admin   *entity.User    `json:"admin"`
}

// BootstrapCompany handles POST /api/companies
func (h *Handlers) BootstrapCompany(c *gin.Context) {
	var req service.BootstrapInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	company, admin, err := h.services.Companies.Bootstrap(c.Request.Context(), req)
	if err != nil {
		h.fail(c, "bootstrap company", err)
		return
	}

	h.logger.Info("Company bootstrapped", "company_id", company.ID, "admin_id", admin.ID)
	created(c, BootstrapResponse{Company: company, Admin: admin})
}

// CreateUser handles POST /api/users
func (h *Handlers) CreateUser(c *gin.Context) {
	var req service.CreateUserInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	user, err := h.services.Companies.CreateUser(c.Request.Context(), caller(c), req)
	if err != nil {
		h.fail(c, "create user", err)
		return
	}
	created(c, user)
}

// ListUsers handles GET /api/users
func (h *Handlers) ListUsers(c *gin.Context) {
	users, err := h.services.Companies.ListUsers(c.Request.Context(), caller(c))
	if err != nil {
		h.fail(c, "list users", err)
		return
	}
	ok(c, users)
}

// CurrentUser handles GET /api/users/me
func (h *Handlers) CurrentUser(c *gin.Context) {
	ok(c, caller(c))
}
