package amqp

import (
	"encoding/json"
	"time"

	"github.com/Veraticus/spice-sentinel/internal/model"
)

// AlertMessage announces an alert that was created or re-opened. Consumers
// fetch nothing: the message carries everything needed to notify the user.
type AlertMessage struct {
	Timestamp      time.Time       `json:"timestamp"`
	SubscriptionID *int64          `json:"subscription_id,omitempty"`
	TransactionID  *string         `json:"transaction_id,omitempty"`
	Metadata       map[string]any  `json:"metadata,omitempty"`
	Event          string          `json:"event"`
	AlertID        string          `json:"alert_id"`
	Type           model.AlertType `json:"type"`
	Severity       model.Severity  `json:"severity"`
	Message        string          `json:"message"`
}

// NewAlertMessage builds the message for alert a.
func NewAlertMessage(event string, a model.Alert) *AlertMessage {
	return &AlertMessage{
		Timestamp:      time.Now(),
		Event:          event,
		AlertID:        a.ID,
		Type:           a.Type,
		Severity:       a.Severity,
		Message:        a.Message,
		SubscriptionID: a.SubscriptionID,
		TransactionID:  a.TransactionID,
		Metadata:       a.Metadata,
	}
}

// ToJSON converts the message to JSON bytes.
func (m *AlertMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// AlertMessageFromJSON decodes a message.
func AlertMessageFromJSON(data []byte) (*AlertMessage, error) {
	var msg AlertMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
