package messaging

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
)

// SMSSender sends a single text message.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// MessageService handles SMS messaging operations
type MessageService struct {
	sender SMSSender
}

// NewMessageService creates a new message service
func NewMessageService(sender SMSSender) *MessageService {
	return &MessageService{sender: sender}
}

// SendBroadcast sends message to every recipient and returns how many were
// sent along with the combined errors of the rest.
func (m *MessageService) SendBroadcast(ctx context.Context, recipients []string, message string) (int, error) {
	var sent int
	var errs error
	for _, to := range recipients {
		if err := m.sender.SendSMS(ctx, to, message); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("failed to send to %s: %w", to, err))
			continue
		}
		sent++
	}
	return sent, errs
}
