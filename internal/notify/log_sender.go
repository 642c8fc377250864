package notify

import (
	"context"

	"github.com/keithlinneman/natours-api/internal/log"
)

// LogSender writes messages to the logger instead of delivering them.
// Used when no SMTP relay is configured.
type LogSender struct {
	Logger log.Logger
}

func (l LogSender) Send(ctx context.Context, m Message) error {
	lg := l.Logger
	if lg == nil {
		lg = log.FromContext(ctx)
	}
	lg.Info(ctx, "email not delivered (no smtp relay configured)",
		"to", m.To,
		"subject", m.Subject,
		"text", m.Text,
	)
	return nil
}
