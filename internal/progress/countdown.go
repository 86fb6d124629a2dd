// Package progress renders the wait between supervisor passes.
package progress

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"
)

const countdownLabel = " Seconds to wait until next iteration"

// Countdown blocks for d or until ctx is done. On a terminal the remaining
// seconds are shown as a live bar on w; otherwise it waits silently.
func Countdown(ctx context.Context, d time.Duration, w io.Writer) error {
	if d <= 0 {
		return ctx.Err()
	}
	if !isTerminal(w) {
		return sleep(ctx, d)
	}

	secs := int64(d / time.Second)
	if secs < 1 {
		return sleep(ctx, d)
	}
	bar := progressbar.NewOptions64(secs,
		progressbar.OptionSetDescription(fmt.Sprintf("%s: %d", countdownLabel, secs)),
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetWidth(30),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetRenderBlankState(true),
	)
	defer func() { _ = bar.Finish() }()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for remaining := secs; remaining > 0; {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			remaining--
			bar.Describe(fmt.Sprintf("%s: %d", countdownLabel, remaining))
			_ = bar.Add64(1)
		}
	}
	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
