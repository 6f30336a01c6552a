package port

import "errors"

var (
	// ErrConcurrentUpdate is returned by ExpenseRepository.Update when the
	// stored version no longer matches
	ErrConcurrentUpdate = errors.New("expense was modified concurrently")

	ErrExpenseNotFound  = errors.New("expense not found")
	ErrWorkflowNotFound = errors.New("workflow not found")
	ErrUserNotFound     = errors.New("user not found")
	ErrCompanyNotFound  = errors.New("company not found")
	ErrReportNotFound   = errors.New("report not found")

	// ErrWorkflowInUse is returned when deleting a workflow that PENDING or
	// APPROVED expenses still reference
	ErrWorkflowInUse = errors.New("workflow is referenced by active expenses")

	// ErrInvalidInput wraps request validation failures
	ErrInvalidInput = errors.New("invalid input")

	// ErrDuplicate is returned on unique key conflicts
	ErrDuplicate = errors.New("already exists")
)
