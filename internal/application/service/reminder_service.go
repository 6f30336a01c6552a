package service

import (
	"context"
	"fmt"
	"time"

	"github.com/garyjia/expense-approval/internal/application/dispatcher"
	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/domain/event"
)

// NextApproverResolver names who is expected to act next on an expense
type NextApproverResolver interface {
	NextApprovers(ctx context.Context, expense *entity.Expense) ([]*entity.User, error)
}

// ReminderConfig controls which pending expenses are due a reminder
type ReminderConfig struct {
	// After is how long an expense waits before the first reminder
	After time.Duration
	// Interval is the minimum gap between two reminders for one expense
	Interval  time.Duration
	BatchSize int
}

// ReminderService nudges the next approvers of long-pending expenses
type ReminderService interface {
	// SendDue emits reminders for one batch and returns how many expenses
	// were reminded
	SendDue(ctx context.Context) (int, error)
}

type reminderServiceImpl struct {
	expenseRepo port.ExpenseRepository
	resolver    NextApproverResolver
	dispatcher  dispatcher.Dispatcher
	config      ReminderConfig
	logger      Logger
	now         func() time.Time
}

// NewReminderService creates a new ReminderService
func NewReminderService(
	expenseRepo port.ExpenseRepository,
	resolver NextApproverResolver,
	d dispatcher.Dispatcher,
	config ReminderConfig,
	logger Logger,
) ReminderService {
	if config.BatchSize <= 0 {
		config.BatchSize = 50
	}
	return &reminderServiceImpl{
		expenseRepo: expenseRepo,
		resolver:    resolver,
		dispatcher:  d,
		config:      config,
		logger:      loggerOrNop(logger),
		now:         time.Now,
	}
}

func (s *reminderServiceImpl) SendDue(ctx context.Context) (int, error) {
	now := s.now()
	candidates, err := s.expenseRepo.ListReminderCandidates(ctx,
		now.Add(-s.config.After),
		now.Add(-s.config.Interval),
		s.config.BatchSize,
	)
	if err != nil {
		return 0, fmt.Errorf("list reminder candidates: %w", err)
	}

	sent := 0
	for _, expense := range candidates {
		if err := ctx.Err(); err != nil {
			return sent, err
		}

		approvers, err := s.resolver.NextApprovers(ctx, expense)
		if err != nil {
			s.logger.Error("Failed to resolve next approvers", "error", err, "expense_id", expense.ID)
			continue
		}

		if len(approvers) > 0 {
			s.dispatcher.DispatchAsync(ctx, event.NewEvent(event.TypeReminderDue, expense.ID, expense.CompanyID, map[string]interface{}{
				event.KeySubmitterID:  expense.SubmitterID,
				event.KeyRecipientIDs: userIDs(approvers),
				event.KeyAmount:       expense.Amount,
				event.KeyDaysPending:  expense.DaysPending(now),
			}))
			sent++
		}

		// stamped even without recipients so the expense is not rescanned every tick
		if err := s.expenseRepo.MarkReminded(ctx, expense.ID, now); err != nil {
			s.logger.Error("Failed to mark expense reminded", "error", err, "expense_id", expense.ID)
		}
	}

	if sent > 0 {
		s.logger.Info("Approval reminders sent", "count", sent, "candidates", len(candidates))
	}
	return sent, nil
}
