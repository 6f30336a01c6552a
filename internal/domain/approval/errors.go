package approval

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidDefinition is returned when workflow parameters are malformed
	ErrInvalidDefinition = errors.New("invalid workflow definition")

	// ErrInvalidWorkflow is returned when Submit references a missing, inactive or foreign workflow
	ErrInvalidWorkflow = errors.New("invalid or inactive workflow")

	// ErrNotPending is returned when acting on an expense that is not PENDING
	ErrNotPending = errors.New("expense is not pending approval")

	// ErrNotDraft is returned when submitting or editing an expense that left DRAFT
	ErrNotDraft = errors.New("expense has already been submitted")

	// ErrCommentRequired is returned when rejecting without a comment
	ErrCommentRequired = errors.New("rejection comment is required")

	// ErrForbidden is matched by every ForbiddenError
	ErrForbidden = errors.New("forbidden")

	// ErrAlreadyVoted is matched by a ForbiddenError caused by a prior vote
	ErrAlreadyVoted = errors.New("already voted")
)

// ForbiddenError carries the permission denial for display
type ForbiddenError struct {
	Reason       string
	StepName     string
	AlreadyVoted bool
}

func (e *ForbiddenError) Error() string {
	if e.StepName != "" {
		return fmt.Sprintf("forbidden at step %q: %s", e.StepName, e.Reason)
	}
	return "forbidden: " + e.Reason
}

// Is makes errors.Is match ErrForbidden, and ErrAlreadyVoted for repeat votes
func (e *ForbiddenError) Is(target error) bool {
	switch target {
	case ErrForbidden:
		return true
	case ErrAlreadyVoted:
		return e.AlreadyVoted
	default:
		return false
	}
}

// DefinitionError names the offending field of an invalid definition
type DefinitionError struct {
	Field   string
	Message string
}

func (e *DefinitionError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Is makes errors.Is match ErrInvalidDefinition
func (e *DefinitionError) Is(target error) bool {
	return target == ErrInvalidDefinition
}

func invalid(field, format string, args ...interface{}) error {
	return &DefinitionError{Field: field, Message: fmt.Sprintf(format, args...)}
}
