package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ReminderSender sends one batch of due reminders
type ReminderSender interface {
	SendDue(ctx context.Context) (int, error)
}

// ReminderWorkerConfig holds configuration for the reminder worker
type ReminderWorkerConfig struct {
	PollInterval time.Duration
	RunTimeout   time.Duration
}

// DefaultReminderWorkerConfig returns default configuration
func DefaultReminderWorkerConfig() ReminderWorkerConfig {
	return ReminderWorkerConfig{
		PollInterval: time.Hour,
		RunTimeout:   2 * time.Minute,
	}
}

// ReminderWorker polls for pending expenses that are due a reminder
type ReminderWorker struct {
	config ReminderWorkerConfig
	sender ReminderSender
	logger *zap.Logger

	mu        sync.RWMutex
	cancel    context.CancelFunc
	done      chan struct{}
	isRunning bool
	sentCount int
	lastRun   time.Time
	lastError error
}

// NewReminderWorker creates a new reminder worker
func NewReminderWorker(config ReminderWorkerConfig, sender ReminderSender, logger *zap.Logger) *ReminderWorker {
	defaults := DefaultReminderWorkerConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.RunTimeout <= 0 {
		config.RunTimeout = defaults.RunTimeout
	}
	return &ReminderWorker{config: config, sender: sender, logger: logger}
}

// Start runs one pass immediately, then one per poll interval
func (w *ReminderWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.isRunning {
		return fmt.Errorf("reminder worker already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.isRunning = true

	w.logger.Info("ReminderWorker started", zap.Duration("poll_interval", w.config.PollInterval))
	go w.pollLoop(runCtx, w.done)
	return nil
}

// Stop cancels the loop and waits for an in-flight pass to finish
func (w *ReminderWorker) Stop() error {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return nil
	}
	w.isRunning = false
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	cancel()
	<-done

	w.logger.Info("ReminderWorker stopped", zap.Int("sent_count", w.SentCount()))
	return nil
}

func (w *ReminderWorker) Name() string {
	return "ReminderWorker"
}

// SentCount returns how many expenses were reminded since creation
func (w *ReminderWorker) SentCount() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.sentCount
}

// LastError returns the error of the most recent pass, if any
func (w *ReminderWorker) LastError() error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastError
}

func (w *ReminderWorker) pollLoop(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	w.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

func (w *ReminderWorker) runOnce(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, w.config.RunTimeout)
	defer cancel()

	sent, err := w.sender.SendDue(runCtx)

	w.mu.Lock()
	w.sentCount += sent
	w.lastRun = time.Now()
	w.lastError = err
	w.mu.Unlock()

	if err != nil {
		w.logger.Error("Reminder pass failed", zap.Error(err))
		return
	}
	if sent > 0 {
		w.logger.Info("Reminders sent", zap.Int("count", sent))
	}
}
