package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/garyjia/expense-approval/internal/application/port"
)

// MultiNotifier fans one notification out to every configured channel.
// A failing channel does not stop the others.
type MultiNotifier struct {
	notifiers []port.Notifier
}

// NewMultiNotifier combines notifiers
func NewMultiNotifier(notifiers ...port.Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

func (m *MultiNotifier) Name() string {
	names := make([]string, 0, len(m.notifiers))
	for _, n := range m.notifiers {
		names = append(names, n.Name())
	}
	return strings.Join(names, "+")
}

func (m *MultiNotifier) Notify(ctx context.Context, msg port.Notification) error {
	var errs []error
	for _, n := range m.notifiers {
		if err := n.Notify(ctx, msg); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", n.Name(), err))
		}
	}
	return errors.Join(errs...)
}

var _ port.Notifier = (*MultiNotifier)(nil)
