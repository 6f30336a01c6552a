package notify

import (
	"context"

	"github.com/garyjia/expense-approval/internal/application/port"
	"go.uber.org/zap"
)

// LogNotifier writes notifications to the application log
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a new LogNotifier
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Name() string { return "log" }

// Notify logs one notification at info level
func (n *LogNotifier) Notify(ctx context.Context, msg port.Notification) error {
	fields := []zap.Field{
		zap.String("kind", string(msg.Kind)),
		zap.String("expense_id", msg.ExpenseID),
		zap.String("company_id", msg.CompanyID),
		zap.String("subject", Subject(msg)),
		zap.Float64("amount", msg.Amount),
	}
	if msg.Recipient != nil {
		fields = append(fields,
			zap.String("recipient_id", msg.Recipient.ID),
			zap.String("recipient_email", msg.Recipient.Email))
	}
	if msg.StepName != "" {
		fields = append(fields, zap.String("step", msg.StepName))
	}
	if msg.Comment != "" {
		fields = append(fields, zap.String("comment", msg.Comment))
	}
	if msg.DaysPending > 0 {
		fields = append(fields, zap.Int("days_pending", msg.DaysPending))
	}

	n.logger.Info("Notification", fields...)
	return nil
}

var _ port.Notifier = (*LogNotifier)(nil)
