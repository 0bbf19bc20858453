package notify

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Message is a learner notification ready for delivery.
type Message struct {
	ID          string    `json:"id"`
	RecipientID string    `json:"recipient_id"`
	Email       string    `json:"-"`
	Name        string    `json:"-"`
	Type        string    `json:"type"`
	Subject     string    `json:"subject"`
	Body        string    `json:"body"`
	CreatedAt   time.Time `json:"created_at"`
}

// Sink delivers messages to learners.
type Sink interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// LogSink writes notifications to the application log.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink constructs a LogSink.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Name identifies the sink in metrics.
func (s *LogSink) Name() string { return "log" }

// Send logs the message.
func (s *LogSink) Send(_ context.Context, msg Message) error {
	s.logger.Info("notification",
		zap.String("id", msg.ID),
		zap.String("recipient_id", msg.RecipientID),
		zap.String("type", msg.Type),
		zap.String("body", msg.Body),
	)
	return nil
}
