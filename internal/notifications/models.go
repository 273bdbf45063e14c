package notifications

import (
	"time"
)

// WebSocket message types
const (
	WSMessageTypeState    = "onboarding_state"
	WSMessageTypeStatus   = "status"
	WSMessageTypePresence = "presence"
	WSMessageTypeError    = "error"
)

// WebSocketMessage is the envelope of everything pushed to browser tabs.
type WebSocketMessage struct {
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Channel   string                 `json:"channel,omitempty"`
	Target    string                 `json:"target,omitempty"`
}

// Email is a message handed to a Mailer.
type Email struct {
	To       []string
	Subject  string
	TextBody string
	HTMLBody string
}

// DeliveryStatus reports what happened to one notification.
type DeliveryStatus struct {
	Channel    string    `json:"channel"`
	Status     string    `json:"status"` // sent, skipped, failed
	ProviderID string    `json:"provider_id,omitempty"`
	Error      string    `json:"error,omitempty"`
	At         time.Time `json:"at"`
}
