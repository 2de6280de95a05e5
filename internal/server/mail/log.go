package mail

import (
	"context"

	"github.com/dmitrijs2005/entryledger/internal/logging"
)

// LogSink renders messages and writes them to the log instead of sending
// them. It is the default driver for development.
type LogSink struct {
	log logging.Logger
}

func NewLogSink(log logging.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Send(ctx context.Context, msg Message) error {
	subject, body, err := Render(msg)
	if err != nil {
		return err
	}
	s.log.Info(ctx, "mail", "template", msg.Template, "to", msg.To, "cc", msg.Cc, "subject", subject, "body", body)
	return nil
}
