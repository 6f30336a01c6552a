package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/garyjia/expense-approval/internal/application/port"
	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"go.uber.org/zap"
)

// messageSender sends one IM message and returns its id
type messageSender interface {
	SendMessage(ctx context.Context, receiveIDType, receiveID, msgType, content string) (string, error)
}

// LarkConfig holds Lark app credentials
type LarkConfig struct {
	AppID     string
	AppSecret string
}

// LarkMessageAPI sends IM messages through the Lark SDK
type LarkMessageAPI struct {
	client *lark.Client
	logger *zap.Logger
}

// NewLarkMessageAPI creates a Lark SDK client with token caching
func NewLarkMessageAPI(cfg LarkConfig, logger *zap.Logger) *LarkMessageAPI {
	client := lark.NewClient(cfg.AppID, cfg.AppSecret,
		lark.WithLogLevel(larkcore.LogLevelInfo),
		lark.WithEnableTokenCache(true),
	)
	return &LarkMessageAPI{client: client, logger: logger}
}

// SendMessage sends a message to a user addressed by receiveIDType
func (m *LarkMessageAPI) SendMessage(ctx context.Context, receiveIDType, receiveID, msgType, content string) (string, error) {
	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType(receiveIDType).
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(receiveID).
			MsgType(msgType).
			Content(content).
			Build()).
		Build()

	resp, err := m.client.Im.Message.Create(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to send message: %w", err)
	}
	if !resp.Success() {
		m.logger.Error("Lark API returned failure",
			zap.String("receive_id", receiveID),
			zap.Int("code", resp.Code),
			zap.String("msg", resp.Msg))
		return "", fmt.Errorf("API error: code=%d, msg=%s", resp.Code, resp.Msg)
	}

	messageID := ""
	if resp.Data != nil && resp.Data.MessageId != nil {
		messageID = *resp.Data.MessageId
	}
	return messageID, nil
}

// LarkNotifier sends notifications as Lark text messages. Recipients are
// addressed by open_id, falling back to email.
type LarkNotifier struct {
	sender messageSender
	logger *zap.Logger
}

// NewLarkNotifier creates a new LarkNotifier
func NewLarkNotifier(sender messageSender, logger *zap.Logger) *LarkNotifier {
	return &LarkNotifier{sender: sender, logger: logger}
}

func (n *LarkNotifier) Name() string { return "lark" }

// Notify sends one text message
func (n *LarkNotifier) Notify(ctx context.Context, msg port.Notification) error {
	if msg.Recipient == nil {
		return fmt.Errorf("notification for %s has no recipient", msg.ExpenseID)
	}

	idType, id := "open_id", msg.Recipient.LarkOpenID
	if id == "" {
		idType, id = "email", msg.Recipient.Email
	}
	if id == "" {
		return fmt.Errorf("user %s has no lark open_id or email", msg.Recipient.ID)
	}

	content, err := json.Marshal(map[string]string{"text": Body(msg)})
	if err != nil {
		return fmt.Errorf("failed to marshal message content: %w", err)
	}

	messageID, err := n.sender.SendMessage(ctx, idType, id, "text", string(content))
	if err != nil {
		return err
	}

	n.logger.Info("Lark notification sent",
		zap.String("message_id", messageID),
		zap.String("expense_id", msg.ExpenseID),
		zap.String("recipient_id", msg.Recipient.ID))
	return nil
}

var _ port.Notifier = (*LarkNotifier)(nil)
