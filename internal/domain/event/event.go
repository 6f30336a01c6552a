package event

import (
	"time"

	"github.com/google/uuid"
)

// Event represents a domain event raised by an expense transition
type Event struct {
	ID            string                 `json:"id"`
	Type          Type                   `json:"type"`
	ExpenseID     string                 `json:"expense_id"`
	CompanyID     string                 `json:"company_id"`
	Payload       map[string]interface{} `json:"payload"`
	Timestamp     time.Time              `json:"timestamp"`
	CorrelationID string                 `json:"correlation_id"`
}

// NewEvent creates a new domain event with a generated ID and timestamp
func NewEvent(eventType Type, expenseID, companyID string, payload map[string]interface{}) *Event {
	id := uuid.NewString()
	return &Event{
		ID:            id,
		Type:          eventType,
		ExpenseID:     expenseID,
		CompanyID:     companyID,
		Payload:       payload,
		Timestamp:     time.Now(),
		CorrelationID: id,
	}
}

// NewEventWithCorrelation creates an event linked to a correlation chain,
// typically the ID of the request that caused it
func NewEventWithCorrelation(eventType Type, expenseID, companyID string, payload map[string]interface{}, correlationID string) *Event {
	evt := NewEvent(eventType, expenseID, companyID, payload)
	evt.CorrelationID = correlationID
	return evt
}

// WithPayload returns a copy of the event with key set (the receiver is not modified)
func (e *Event) WithPayload(key string, value interface{}) *Event {
	payload := make(map[string]interface{}, len(e.Payload)+1)
	for k, v := range e.Payload {
		payload[k] = v
	}
	payload[key] = value

	c := *e
	c.Payload = payload
	return &c
}

// GetPayloadString retrieves a string value from the payload
func (e *Event) GetPayloadString(key string) string {
	if s, ok := e.Payload[key].(string); ok {
		return s
	}
	return ""
}

// GetPayloadStrings retrieves a string list from the payload. Lists decoded
// from JSON arrive as []interface{} and are converted.
func (e *Event) GetPayloadStrings(key string) []string {
	switch v := e.Payload[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// GetPayloadInt retrieves an int64 value from the payload
func (e *Event) GetPayloadInt(key string) int64 {
	switch v := e.Payload[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

// GetPayloadFloat retrieves a float64 value from the payload
func (e *Event) GetPayloadFloat(key string) float64 {
	switch v := e.Payload[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	}
	return 0
}
