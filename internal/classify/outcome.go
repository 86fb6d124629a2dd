// Package classify turns raw output of remote operations into outcomes the
// lifecycle controller can act on.
package classify

import (
	"errors"
	"fmt"
)

// Kind is the class of an operation result.
type Kind int

const (
	// KindOk means the operation succeeded.
	KindOk Kind = iota
	// KindTransient means the operation should be retried on a later pass.
	KindTransient
	// KindCrucial means retrying cannot help; the process must stop.
	KindCrucial
	// KindDomain means the job itself failed and needs manual remediation.
	KindDomain
	// KindQuota means the cluster disk quota was exceeded. Treated as process-fatal.
	KindQuota
)

var kindNames = map[Kind]string{
	KindOk:        "ok",
	KindTransient: "transient",
	KindCrucial:   "crucial",
	KindDomain:    "domain",
	KindQuota:     "quota",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

var (
	// ErrCrucial is wrapped by errors raised for crucial outcomes.
	ErrCrucial = errors.New("crucial failure")
	// ErrQuotaExceeded is wrapped by errors raised for quota outcomes.
	ErrQuotaExceeded = errors.New("disk quota exceeded")
)

// Outcome is the classified result of one operation.
type Outcome struct {
	Kind   Kind
	Reason string
	// Output is the raw text the operation produced.
	Output string
	// Exhausted is set when a transient outcome ran out of retry attempts.
	Exhausted bool
}

// Ok returns a successful outcome. A non-empty note is kept as the reason so
// callers can report minor problems that did not fail the operation.
func Ok(note string) Outcome { return Outcome{Kind: KindOk, Reason: note} }

// Transient returns a retry-later outcome.
func Transient(reason string) Outcome { return Outcome{Kind: KindTransient, Reason: reason} }

// Crucial returns a process-fatal outcome.
func Crucial(reason string) Outcome { return Outcome{Kind: KindCrucial, Reason: reason} }

// Domain returns a job-failure outcome.
func Domain(reason string) Outcome { return Outcome{Kind: KindDomain, Reason: reason} }

// Quota returns a disk-quota outcome.
func Quota(reason string) Outcome { return Outcome{Kind: KindQuota, Reason: reason} }

// IsOk reports whether the outcome is a success.
func (o Outcome) IsOk() bool { return o.Kind == KindOk }

// Fatal reports whether the outcome must stop the whole process.
func (o Outcome) Fatal() bool { return o.Kind == KindCrucial || o.Kind == KindQuota }

// WithOutput returns a copy of o carrying raw output.
func (o Outcome) WithOutput(out string) Outcome {
	o.Output = out
	return o
}

// Err converts a fatal outcome into an error wrapping ErrCrucial or
// ErrQuotaExceeded. Non-fatal outcomes return nil.
func (o Outcome) Err() error {
	switch o.Kind {
	case KindCrucial:
		return fmt.Errorf("%w: %s", ErrCrucial, o.Reason)
	case KindQuota:
		return fmt.Errorf("%w: %s", ErrQuotaExceeded, o.Reason)
	}
	return nil
}

func (o Outcome) String() string {
	if o.Reason == "" {
		return o.Kind.String()
	}
	return o.Kind.String() + ": " + o.Reason
}
