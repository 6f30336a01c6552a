package port

import (
	"context"
	"io"
	"time"

	"github.com/garyjia/expense-approval/internal/domain/entity"
)

// NotificationKind names what a notification asks of its recipient
type NotificationKind string

const (
	NotifyNextApprover NotificationKind = "NEXT_APPROVER"
	NotifyRejected     NotificationKind = "REJECTED"
	NotifyApproved     NotificationKind = "APPROVED"
	NotifyReminder     NotificationKind = "REMINDER"
	NotifyCancelled    NotificationKind = "CANCELLED"
)

// Notification is one message to one recipient about one expense
type Notification struct {
	Kind        NotificationKind `json:"kind"`
	ExpenseID   string           `json:"expense_id"`
	CompanyID   string           `json:"company_id"`
	Recipient   *entity.User     `json:"recipient"`
	Description string           `json:"description"`
	Amount      float64          `json:"amount"`
	StepName    string           `json:"step_name,omitempty"`
	Comment     string           `json:"comment,omitempty"`
	DaysPending int              `json:"days_pending,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

// Notifier delivers notifications. Callers log failures and move on.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, n Notification) error
}

// CurrencyConverter converts amounts between ISO 4217 currencies
type CurrencyConverter interface {
	// Rate returns the multiplier from one currency to another
	Rate(ctx context.Context, from, to string) (float64, error)
}

// ReportExporter renders expenses and their approval trails
type ReportExporter interface {
	ContentType() string
	Export(ctx context.Context, w io.Writer, expenses []*entity.Expense, users map[string]*entity.User) error
}
