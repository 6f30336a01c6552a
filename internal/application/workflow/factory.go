package workflow

import (
	"context"

	domainwf "github.com/garyjia/expense-approval/internal/domain/workflow"
)

// BuildExpenseStateMachine creates the expense lifecycle machine.
// complete decides whether an approval finishes the workflow; it is
// consulted only for APPROVE from PENDING.
func BuildExpenseStateMachine(initialState domainwf.State, complete func() bool) domainwf.StateMachine {
	builder := domainwf.NewBuilder()

	builder.Configure(domainwf.StateDraft).
		Permit(domainwf.TriggerSubmit, domainwf.StatePending)

	builder.Configure(domainwf.StatePending).
		PermitIf(domainwf.TriggerApprove, domainwf.StateApproved, func(ctx context.Context) bool {
			return complete != nil && complete()
		}).
		Permit(domainwf.TriggerApprove, domainwf.StatePending).
		Permit(domainwf.TriggerReject, domainwf.StateRejected).
		Permit(domainwf.TriggerCancel, domainwf.StateCancelled)

	// APPROVED, REJECTED and CANCELLED are terminal

	return builder.Build(initialState)
}
