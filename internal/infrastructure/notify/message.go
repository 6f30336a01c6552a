// Package notify delivers approval notifications over log, NATS and Lark
package notify

import (
	"fmt"
	"strings"

	"github.com/garyjia/expense-approval/internal/application/port"
)

// Subject returns the one-line summary of n
func Subject(n port.Notification) string {
	switch n.Kind {
	case port.NotifyNextApprover:
		return fmt.Sprintf("Approval needed: %s", n.Description)
	case port.NotifyRejected:
		return fmt.Sprintf("Expense rejected: %s", n.Description)
	case port.NotifyApproved:
		return fmt.Sprintf("Expense approved: %s", n.Description)
	case port.NotifyReminder:
		return fmt.Sprintf("Reminder: %s is waiting for you", n.Description)
	case port.NotifyCancelled:
		return fmt.Sprintf("Expense cancelled: %s", n.Description)
	default:
		return n.Description
	}
}

// Body renders the plain-text message for n
func Body(n port.Notification) string {
	var b strings.Builder
	b.WriteString(Subject(n))
	fmt.Fprintf(&b, "\nAmount: %.2f", n.Amount)
	if n.StepName != "" {
		fmt.Fprintf(&b, "\nStep: %s", n.StepName)
	}
	if n.DaysPending > 0 {
		fmt.Fprintf(&b, "\nPending for %d day(s)", n.DaysPending)
	}
	if n.Comment != "" {
		fmt.Fprintf(&b, "\nComment: %s", n.Comment)
	}
	fmt.Fprintf(&b, "\nExpense: %s", n.ExpenseID)
	return b.String()
}
