package email

import (
	"context"
	"log/slog"
	"strings"

	"kpi/internal/domain/notifications"
)

// LogMailer hands messages to the structured log. A relay that tails the
// log (or a real transport implementing notifications.Mailer) delivers them.
type LogMailer struct {
	Logger *slog.Logger
}

func New(logger *slog.Logger) notifications.Mailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMailer{Logger: logger}
}

func (m *LogMailer) Send(ctx context.Context, from, to, subject, body string) error {
	if strings.TrimSpace(to) == "" {
		return nil
	}
	m.Logger.InfoContext(ctx, "email queued",
		"from", from,
		"to", to,
		"subject", subject,
		"bodyBytes", len(body),
	)
	return nil
}
