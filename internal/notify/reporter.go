// Package notify delivers monitoring reports to the console, the per
// directory log files, email, desktop popups and a webhook.
package notify

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Kind separates routine reports from error reports.
type Kind int

const (
	KindLog Kind = iota
	KindErr
)

func (k Kind) String() string {
	if k == KindErr {
		return "err"
	}
	return "log"
}

// DefaultVerbosity reports everything up to routine housekeeping.
const DefaultVerbosity = 3

// Message is one report.
type Message struct {
	Dir       string
	Text      string
	Verbosity int
	Kind      Kind
	Subject   string
	// Attachments are file paths offered to sinks that can carry them.
	Attachments []string
	// NoEmail keeps this message out of email even when email is enabled.
	NoEmail bool
}

// Sink delivers messages that passed the verbosity gate.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, m Message) error
}

// Reporter fans messages out to its sinks. Messages with a verbosity above
// the reporter's level are dropped.
type Reporter struct {
	mu        sync.Mutex
	verbosity int
	sinks     []Sink
	logger    zerolog.Logger
}

// NewReporter creates a reporter. Sink delivery failures are logged to logger.
func NewReporter(verbosity int, logger zerolog.Logger, sinks ...Sink) *Reporter {
	return &Reporter{verbosity: verbosity, sinks: sinks, logger: logger}
}

// Add registers another sink.
func (r *Reporter) Add(s Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks = append(r.sinks, s)
}

// Verbosity returns the reporting level.
func (r *Reporter) Verbosity() int {
	return r.verbosity
}

// Report sends a message without attachments.
func (r *Reporter) Report(dir, msg string, verbosity int, kind Kind, subject string) {
	r.Send(context.Background(), Message{Dir: dir, Text: msg, Verbosity: verbosity, Kind: kind, Subject: subject})
}

// Send delivers m to every sink if it passes the verbosity gate.
func (r *Reporter) Send(ctx context.Context, m Message) {
	if m.Verbosity > r.verbosity {
		return
	}
	r.mu.Lock()
	sinks := append([]Sink(nil), r.sinks...)
	r.mu.Unlock()

	for _, s := range sinks {
		if err := s.Deliver(ctx, m); err != nil {
			r.logger.Warn().Err(err).Str("sink", s.Name()).Str("dir", m.Dir).Msg("Failed to deliver report")
		}
	}
}

// Close closes sinks that hold resources.
func (r *Reporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var first error
	for _, s := range r.sinks {
		if c, ok := s.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}

// Banner frames msg in a line of hashes above and below, matching the
// width of msg.
func Banner(msg string) string {
	hashes := strings.Repeat("#", len(msg))
	return hashes + "\n" + msg + "\n" + hashes
}

// Framed wraps text in "# ... #" and frames it with Banner.
func Framed(text string) string {
	return Banner("# " + text + " #")
}
