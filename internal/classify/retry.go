package classify

import (
	"context"
	"fmt"
	"time"
)

// RetryPolicy bounds how often a transient operation is attempted within one pass.
type RetryPolicy struct {
	// MaxAttempts is the number of attempts (errmaxcnt).
	MaxAttempts int
	// Wait is the fixed pause between attempts (errwaittime).
	Wait time.Duration
	// OnRetry is called before each repeated attempt.
	OnRetry func(attempt int, last Outcome)
}

// DefaultRetryPolicy returns 100 attempts 10ms apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 100,
		Wait:        10 * time.Millisecond,
	}
}

// Run calls op until it returns a non-transient outcome or the attempt budget
// is spent. An exhausted budget yields the last transient outcome with
// Exhausted set; it never escalates to crucial. Context cancellation also ends
// the loop with a transient outcome.
func (p RetryPolicy) Run(ctx context.Context, op func(ctx context.Context) Outcome) Outcome {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var last Outcome
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Transient(fmt.Sprintf("cancelled: %v", err))
		}
		last = op(ctx)
		if last.Kind != KindTransient {
			return last
		}
		if attempt == attempts {
			break
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, last)
		}
		if p.Wait > 0 {
			timer := time.NewTimer(p.Wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return Transient(fmt.Sprintf("cancelled: %v", ctx.Err()))
			case <-timer.C:
			}
		}
	}
	last.Exhausted = true
	last.Reason = fmt.Sprintf("%s (gave up after %d attempts)", last.Reason, attempts)
	return last
}
