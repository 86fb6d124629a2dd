package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoggerWritesConsoleAndFile(t *testing.T) {
	var console bytes.Buffer
	path := filepath.Join(t.TempDir(), "simwatch.log")

	l := NewLogger(Options{Console: &console, File: path, NoColor: true})
	l.Info().Str("dir", "run1").Msg("submitted")
	if err := l.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if !strings.Contains(console.String(), "submitted") || !strings.Contains(console.String(), "dir=run1") {
		t.Errorf("console output = %q", console.String())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), `"message":"submitted"`) {
		t.Errorf("file output = %q, want JSON line", data)
	}
}

func TestSetOutput(t *testing.T) {
	var first, second bytes.Buffer
	l := NewLogger(Options{Console: &first, NoColor: true})
	l.SetOutput(&second)
	l.Infof("pass %d", 3)

	if first.Len() != 0 {
		t.Errorf("old writer received %q", first.String())
	}
	if !strings.Contains(second.String(), "pass 3") {
		t.Errorf("new writer = %q", second.String())
	}
	if l.Output() != &second {
		t.Error("Output() did not return the new writer")
	}
}
