package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// DefaultSubjectPrefix is used when no prefix is configured
const DefaultSubjectPrefix = "notifications.expense"

// publisher is the part of *nats.Conn the notifier uses
type publisher interface {
	Publish(subject string, data []byte) error
}

// natsMessage is the JSON document published per notification
type natsMessage struct {
	Kind        string    `json:"kind"`
	ExpenseID   string    `json:"expense_id"`
	CompanyID   string    `json:"company_id"`
	RecipientID string    `json:"recipient_id"`
	Email       string    `json:"email,omitempty"`
	LarkOpenID  string    `json:"lark_open_id,omitempty"`
	Subject     string    `json:"subject"`
	Body        string    `json:"body"`
	Amount      float64   `json:"amount"`
	StepName    string    `json:"step_name,omitempty"`
	Comment     string    `json:"comment,omitempty"`
	DaysPending int       `json:"days_pending,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// NATSNotifier publishes each notification on <prefix>.<kind> for a
// downstream delivery service
type NATSNotifier struct {
	conn   publisher
	prefix string
	logger *zap.Logger
}

// ConnectNATS dials the server and returns the connection for the notifier
func ConnectNATS(url string, logger *zap.Logger) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name("expense-approval"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	return conn, nil
}

// NewNATSNotifier creates a notifier publishing through conn
func NewNATSNotifier(conn publisher, prefix string, logger *zap.Logger) *NATSNotifier {
	prefix = strings.TrimSuffix(prefix, ".")
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSNotifier{conn: conn, prefix: prefix, logger: logger}
}

func (n *NATSNotifier) Name() string { return "nats" }

// Subject returns the subject a notification kind is published on
func (n *NATSNotifier) Subject(kind port.NotificationKind) string {
	return n.prefix + "." + strings.ToLower(string(kind))
}

// Notify publishes one notification
func (n *NATSNotifier) Notify(ctx context.Context, msg port.Notification) error {
	if msg.Recipient == nil {
		return fmt.Errorf("notification for %s has no recipient", msg.ExpenseID)
	}

	data, err := json.Marshal(natsMessage{
		Kind:        string(msg.Kind),
		ExpenseID:   msg.ExpenseID,
		CompanyID:   msg.CompanyID,
		RecipientID: msg.Recipient.ID,
		Email:       msg.Recipient.Email,
		LarkOpenID:  msg.Recipient.LarkOpenID,
		Subject:     Subject(msg),
		Body:        Body(msg),
		Amount:      msg.Amount,
		StepName:    msg.StepName,
		Comment:     msg.Comment,
		DaysPending: msg.DaysPending,
		CreatedAt:   msg.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	subject := n.Subject(msg.Kind)
	if err := n.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish %s: %w", subject, err)
	}

	n.logger.Debug("Notification published",
		zap.String("subject", subject),
		zap.String("expense_id", msg.ExpenseID),
		zap.String("recipient_id", msg.Recipient.ID))
	return nil
}

var _ port.Notifier = (*NATSNotifier)(nil)
