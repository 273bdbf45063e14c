package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"time"

	"go.uber.org/zap"
)

// Pusher delivers a message to the live connections of a key.
type Pusher interface {
	SendToUser(key string, message WebSocketMessage) int
	Rekey(from, to string)
}

// Service fans onboarding events out to WebSocket tabs and email.
type Service struct {
	pusher Pusher
	mailer Mailer
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates a notification service. mailer may be nil when no
// sender address is configured; emails are then skipped.
func NewService(pusher Pusher, mailer Mailer, logger *zap.Logger) *Service {
	return &Service{
		pusher: pusher,
		mailer: mailer,
		logger: logger,
		now:    time.Now,
	}
}

// PublishState pushes a state snapshot to every tab of key.
func (s *Service) PublishState(key string, state interface{}) DeliveryStatus {
	data, err := toMap(state)
	if err != nil {
		s.logger.Error("Failed to encode state for push", zap.String("key", key), zap.Error(err))
		return DeliveryStatus{Channel: "websocket", Status: "failed", Error: err.Error(), At: s.now()}
	}

	sent := s.pusher.SendToUser(key, WebSocketMessage{
		Type:      WSMessageTypeState,
		Data:      data,
		Timestamp: s.now(),
		Channel:   "onboarding",
	})
	status := "sent"
	if sent == 0 {
		status = "skipped"
	}
	return DeliveryStatus{Channel: "websocket", Status: status, At: s.now()}
}

// MoveSubscribers re-targets live tabs after sign-in.
func (s *Service) MoveSubscribers(from, to string) {
	if from != to {
		s.pusher.Rekey(from, to)
	}
}

// SendOnboardingComplete emails the account that finished onboarding.
func (s *Service) SendOnboardingComplete(ctx context.Context, to, garageName string) DeliveryStatus {
	status := DeliveryStatus{Channel: "email", At: s.now()}
	if s.mailer == nil || to == "" {
		status.Status = "skipped"
		return status
	}

	id, err := s.mailer.Send(ctx, Email{
		To:      []string{to},
		Subject: "Your garage is ready",
		TextBody: fmt.Sprintf(
			"Onboarding is complete. %s is set up and ready to take appointments.\n", garageName),
		HTMLBody: fmt.Sprintf(
			"<p>Onboarding is complete.</p><p><strong>%s</strong> is set up and ready to take appointments.</p>", html.EscapeString(garageName)),
	})
	if err != nil {
		s.logger.Warn("Failed to send onboarding completion email", zap.String("to", to), zap.Error(err))
		status.Status = "failed"
		status.Error = err.Error()
		return status
	}

	s.logger.Info("Onboarding completion email sent", zap.String("to", to), zap.String("message_id", id))
	status.Status = "sent"
	status.ProviderID = id
	return status
}

func toMap(v interface{}) (map[string]interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := map[string]interface{}{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
