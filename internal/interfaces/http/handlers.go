package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/application/service"
	"github.com/garyjia/expense-approval/internal/domain/approval"
	"github.com/garyjia/expense-approval/internal/domain/entity"
)

// UserIDHeader carries the caller identity set by the upstream gateway
const UserIDHeader = "X-User-ID"

const userKey = "user"

// Handlers contains all HTTP request handlers
type Handlers struct {
	services Services
	health   HealthFunc
	logger   Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(services Services, health HealthFunc, logger Logger) *Handlers {
	return &Handlers{
		services: services,
		health:   health,
		logger:   logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status     string      `json:"status"`
	Timestamp  string      `json:"timestamp"`
	Version    string      `json:"version"`
	Components interface{} `json:"components,omitempty"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   "1.0.0",
	}

	status := http.StatusOK
	if h.health != nil {
		healthy, components := h.health(c.Request.Context())
		response.Components = components
		if !healthy {
			response.Status = "unhealthy"
			status = http.StatusServiceUnavailable
		}
	}

	c.JSON(status, Response{
		Success: status == http.StatusOK,
		Data:    response,
	})
}

// Authenticate loads the caller named by the X-User-ID header
func (h *Handlers) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(UserIDHeader))
		if id == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, Response{
				Success: false,
				Error:   "missing " + UserIDHeader + " header",
			})
			return
		}

		user, err := h.services.Companies.GetUser(c.Request.Context(), id)
		if err != nil {
			if service.IsNotFound(err) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, Response{
					Success: false,
					Error:   "unknown user",
				})
				return
			}
			h.logger.Error("Failed to load caller", "user_id", id, "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, Response{
				Success: false,
				Error:   "internal server error",
			})
			return
		}

		c.Set(userKey, user)
		c.Next()
	}
}

func userFrom(v interface{}) *entity.User {
	user, _ := v.(*entity.User)
	if user == nil {
		return &entity.User{}
	}
	return user
}

// caller returns the authenticated user
func caller(c *gin.Context) *entity.User {
	v, _ := c.Get(userKey)
	return userFrom(v)
}

func ok(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{Success: true, Data: data})
}

func created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{Success: true, Data: data})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, Response{Success: false, Error: message})
}

// fail writes err with the status of its error kind
func (h *Handlers) fail(c *gin.Context, action string, err error) {
	status, message, data := classify(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed",
			"action", action,
			"path", c.Request.URL.Path,
			"error", err,
		)
	}
	c.JSON(status, Response{Success: false, Data: data, Error: message})
}

// classify maps an error onto an HTTP status, a display message and
// optional details
func classify(err error) (int, string, interface{}) {
	var forbidden *approval.ForbiddenError
	var definition *approval.DefinitionError

	switch {
	case errors.As(err, &definition):
		return http.StatusBadRequest, definition.Error(), gin.H{"field": definition.Field}

	case errors.As(err, &forbidden):
		var data interface{}
		if forbidden.StepName != "" || forbidden.AlreadyVoted {
			data = gin.H{
				"current_step_name": forbidden.StepName,
				"already_voted":     forbidden.AlreadyVoted,
			}
		}
		return http.StatusForbidden, forbidden.Reason, data

	case errors.Is(err, approval.ErrInvalidDefinition),
		errors.Is(err, approval.ErrInvalidWorkflow),
		errors.Is(err, approval.ErrCommentRequired),
		errors.Is(err, approval.ErrNotPending),
		errors.Is(err, approval.ErrNotDraft),
		errors.Is(err, port.ErrInvalidInput):
		return http.StatusBadRequest, err.Error(), nil

	case errors.Is(err, approval.ErrForbidden):
		return http.StatusForbidden, err.Error(), nil

	case service.IsNotFound(err):
		return http.StatusNotFound, err.Error(), nil

	case errors.Is(err, port.ErrWorkflowInUse),
		errors.Is(err, port.ErrConcurrentUpdate),
		errors.Is(err, port.ErrDuplicate):
		return http.StatusConflict, err.Error(), nil

	default:
		return http.StatusInternalServerError, "internal server error", nil
	}
}

// queryInt parses an optional integer query parameter
func queryInt(c *gin.Context, name string, fallback int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return fallback, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		badRequest(c, "invalid "+name+" parameter")
		return 0, false
	}
	return v, true
}

// queryStatus parses an optional expense status filter
func queryStatus(c *gin.Context) (entity.ExpenseStatus, bool) {
	raw := strings.ToUpper(strings.TrimSpace(c.Query("status")))
	if raw == "" {
		return "", true
	}
	status := entity.ExpenseStatus(raw)
	if !status.IsValid() {
		badRequest(c, "invalid status parameter")
		return "", false
	}
	return status, true
}
