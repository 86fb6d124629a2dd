package notify

import (
	"context"
	"strings"

	"github.com/gen2brain/beeep"
)

// Urgency of a desktop popup.
type Urgency int

const (
	UrgencyLow Urgency = iota
	UrgencyNormal
	UrgencyCritical
)

var subjectUrgency = map[string]Urgency{
	SubjectError:       UrgencyCritical,
	SubjectSimFinished: UrgencyCritical,
	SubjectAllFinished: UrgencyCritical,
	SubjectFixed:       UrgencyNormal,
	SubjectSubmitted:   UrgencyNormal,
	SubjectRanNormally: UrgencyNormal,
	SubjectCleanedUp:   UrgencyLow,
}

// UrgencyFor returns the popup urgency of a subject.
func UrgencyFor(subject string) Urgency {
	return subjectUrgency[subject]
}

// PopupSink shows reports as desktop notifications.
type PopupSink struct {
	notify func(title, message string) error
	alert  func(title, message string) error
}

// NewPopupSink creates a popup sink backed by beeep.
func NewPopupSink() *PopupSink {
	return &PopupSink{
		notify: func(title, message string) error { return beeep.Notify(title, message, "") },
		alert:  func(title, message string) error { return beeep.Alert(title, message, "") },
	}
}

// Name implements Sink.
func (p *PopupSink) Name() string { return "popup" }

// Deliver implements Sink. Critical subjects use an alert, which also beeps.
func (p *PopupSink) Deliver(_ context.Context, m Message) error {
	title := stripHashes(m.Subject)
	if title == "" {
		title = "simwatch"
	}
	body := truncate(stripHashes(m.Text), 200)
	if UrgencyFor(m.Subject) == UrgencyCritical {
		if err := p.alert(title, body); err == nil {
			return nil
		}
	}
	return p.notify(title, body)
}

func stripHashes(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	var kept []string
	for _, l := range lines {
		l = strings.TrimSpace(strings.Trim(strings.TrimSpace(l), "#"))
		if l != "" {
			kept = append(kept, l)
		}
	}
	return strings.Join(kept, "\n")
}

// truncate shortens a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
