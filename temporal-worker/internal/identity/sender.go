package identity

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Sender delivers a one-time code to a phone number
type Sender interface {
	Send(ctx context.Context, phone, code string, ttl time.Duration) error
}

// LogSender writes codes to the log instead of sending an SMS. Suitable
// for development and demos only.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender creates a sender that logs through logger
func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, phone, code string, ttl time.Duration) error {
	message := fmt.Sprintf("Your RShare verification code is: %s. It expires in %d minutes.", code, int(ttl.Minutes()))
	s.logger.Info("Sending verification SMS", zap.String("phone", phone), zap.String("message", message))
	return nil
}
