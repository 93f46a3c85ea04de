package email

import (
	"context"
	"log/slog"
)

// Sender delivers one HTML message. Implementations must be safe for concurrent use.
type Sender interface {
	Send(ctx context.Context, to, subject, html string) error
}

// LogSender writes messages to the log instead of delivering them. Used in development.
type LogSender struct{}

func NewLogSender() *LogSender {
	return &LogSender{}
}

func (s *LogSender) Send(ctx context.Context, to, subject, html string) error {
	slog.InfoContext(ctx, "email not delivered, log provider in use",
		"to", to,
		"subject", subject,
		"bytes", len(html),
	)
	return nil
}
