// Package service holds the application use cases around the approval
// engine: companies and users, workflow administration, expense drafts,
// pending-approval listings, notifications, reminders and reports.
package service

import (
	"errors"
	"fmt"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/approval"
	"github.com/garyjia/expense-approval/internal/domain/entity"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

func loggerOrNop(logger Logger) Logger {
	if logger == nil {
		return nopLogger{}
	}
	return logger
}

func requireAdmin(user *entity.User, action string) error {
	if user.Role != entity.RoleAdmin {
		return &approval.ForbiddenError{Reason: fmt.Sprintf("Only administrators can %s", action)}
	}
	return nil
}

func invalidInput(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", port.ErrInvalidInput, fmt.Sprintf(format, args...))
}

// IsNotFound reports whether err is one of the not-found sentinels
func IsNotFound(err error) bool {
	return errors.Is(err, port.ErrExpenseNotFound) ||
		errors.Is(err, port.ErrWorkflowNotFound) ||
		errors.Is(err, port.ErrUserNotFound) ||
		errors.Is(err, port.ErrCompanyNotFound) ||
		errors.Is(err, port.ErrReportNotFound)
}
