package notify

import (
	"context"

	"github.com/rs/zerolog"
)

// ConsoleSink writes reports to a zerolog logger.
type ConsoleSink struct {
	logger zerolog.Logger
}

// NewConsoleSink creates a console sink.
func NewConsoleSink(logger zerolog.Logger) *ConsoleSink {
	return &ConsoleSink{logger: logger}
}

// Name implements Sink.
func (c *ConsoleSink) Name() string { return "console" }

// Deliver implements Sink.
func (c *ConsoleSink) Deliver(_ context.Context, m Message) error {
	ev := c.logger.Info()
	if m.Kind == KindErr {
		ev = c.logger.Warn()
		if m.Verbosity == 0 {
			ev = c.logger.Error()
		}
	}
	if m.Dir != "" {
		ev = ev.Str("dir", m.Dir)
	}
	if m.Subject != "" {
		ev = ev.Str("subject", m.Subject)
	}
	ev.Msg(m.Text)
	return nil
}
