package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/garyjia/expense-approval/internal/application/dispatcher"
	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/domain/event"
)

// eventKinds maps the events that notify someone to the notification kind
var eventKinds = map[event.Type]port.NotificationKind{
	event.TypeExpenseSubmitted: port.NotifyNextApprover,
	event.TypeApprovalRecorded: port.NotifyNextApprover,
	event.TypeExpenseApproved:  port.NotifyApproved,
	event.TypeExpenseRejected:  port.NotifyRejected,
	event.TypeExpenseCancelled: port.NotifyCancelled,
	event.TypeReminderDue:      port.NotifyReminder,
}

// NotificationService turns expense events into notifications
type NotificationService interface {
	// Register subscribes the service to every notifying event type
	Register(d dispatcher.Dispatcher)

	// HandleEvent notifies each recipient named by the event
	HandleEvent(ctx context.Context, evt *event.Event) error
}

type notificationServiceImpl struct {
	expenseRepo port.ExpenseRepository
	userRepo    port.UserRepository
	notifier    port.Notifier
	logger      Logger
	now         func() time.Time
}

// NewNotificationService creates a new NotificationService
func NewNotificationService(
	expenseRepo port.ExpenseRepository,
	userRepo port.UserRepository,
	notifier port.Notifier,
	logger Logger,
) NotificationService {
	return &notificationServiceImpl{
		expenseRepo: expenseRepo,
		userRepo:    userRepo,
		notifier:    notifier,
		logger:      loggerOrNop(logger),
		now:         time.Now,
	}
}

func (s *notificationServiceImpl) Register(d dispatcher.Dispatcher) {
	for eventType := range eventKinds {
		d.SubscribeNamed(eventType, "notification:"+s.notifier.Name(), s.HandleEvent)
	}
}

// HandleEvent sends one notification per recipient. Delivery failures are
// logged and joined into the returned error; they never stop the others.
func (s *notificationServiceImpl) HandleEvent(ctx context.Context, evt *event.Event) error {
	kind, ok := eventKinds[evt.Type]
	if !ok {
		return nil
	}

	recipients := evt.GetPayloadStrings(event.KeyRecipientIDs)
	if len(recipients) == 0 {
		return nil
	}

	expense, err := s.expenseRepo.GetByID(ctx, evt.CompanyID, evt.ExpenseID)
	if err != nil {
		s.logger.Error("Failed to load expense for notification", "error", err, "expense_id", evt.ExpenseID)
		return fmt.Errorf("get expense: %w", err)
	}

	base := port.Notification{
		Kind:        kind,
		ExpenseID:   evt.ExpenseID,
		CompanyID:   evt.CompanyID,
		Amount:      evt.GetPayloadFloat(event.KeyAmount),
		StepName:    evt.GetPayloadString(event.KeyStepName),
		Comment:     evt.GetPayloadString(event.KeyComment),
		DaysPending: int(evt.GetPayloadInt(event.KeyDaysPending)),
		CreatedAt:   s.now(),
	}
	if expense != nil {
		base.Description = expense.Description
		base.Amount = expense.Amount
	}

	var errs []error
	for _, id := range recipients {
		recipient, err := s.recipient(ctx, id, evt.CompanyID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if recipient == nil {
			continue
		}

		n := base
		n.Recipient = recipient
		if err := s.notifier.Notify(ctx, n); err != nil {
			s.logger.Error("Failed to send notification",
				"error", err,
				"notifier", s.notifier.Name(),
				"kind", kind,
				"expense_id", evt.ExpenseID,
				"recipient_id", id,
			)
			errs = append(errs, fmt.Errorf("notify %s: %w", id, err))
			continue
		}

		s.logger.Info("Notification sent",
			"notifier", s.notifier.Name(),
			"kind", kind,
			"expense_id", evt.ExpenseID,
			"recipient_id", id,
		)
	}

	return errors.Join(errs...)
}

func (s *notificationServiceImpl) recipient(ctx context.Context, id, companyID string) (*entity.User, error) {
	user, err := s.userRepo.GetByID(ctx, id)
	if err != nil {
		s.logger.Error("Failed to load notification recipient", "error", err, "recipient_id", id)
		return nil, fmt.Errorf("get recipient %s: %w", id, err)
	}
	if user == nil || user.CompanyID != companyID {
		s.logger.Info("Skipping unknown notification recipient", "recipient_id", id)
		return nil, nil
	}
	return user, nil
}
