package progress

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"
)

func TestCountdown_NotATerminal(t *testing.T) {
	var buf bytes.Buffer
	start := time.Now()
	if err := Countdown(context.Background(), 20*time.Millisecond, &buf); err != nil {
		t.Fatalf("Countdown() error = %v", err)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Errorf("Countdown() returned early")
	}
	if buf.Len() != 0 {
		t.Errorf("Countdown() wrote %q to a non-terminal writer", buf.String())
	}
}

func TestCountdown_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Countdown(ctx, time.Hour, &bytes.Buffer{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Countdown() error = %v, want context.Canceled", err)
	}
}

func TestCountdown_ZeroDuration(t *testing.T) {
	if err := Countdown(context.Background(), 0, &bytes.Buffer{}); err != nil {
		t.Errorf("Countdown() error = %v", err)
	}
}
