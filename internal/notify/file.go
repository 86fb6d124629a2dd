package notify

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/rescale/simwatch/internal/logging"
)

// GlobalLogName is used for reports that are not about one directory.
const GlobalLogName = "monitor"

// FileSink appends reports to <logDir>/<dir>.log. Error reports also go to
// <logDir>/<dir>.err.
type FileSink struct {
	logDir string
	now    func() time.Time

	mu    sync.Mutex
	files map[string]*lumberjack.Logger
}

// NewFileSink creates a file sink writing below logDir.
func NewFileSink(logDir string) *FileSink {
	return &FileSink{logDir: logDir, now: time.Now, files: map[string]*lumberjack.Logger{}}
}

// Name implements Sink.
func (f *FileSink) Name() string { return "file" }

// Deliver implements Sink.
func (f *FileSink) Deliver(_ context.Context, m Message) error {
	name := m.Dir
	if name == "" || name == "." {
		name = GlobalLogName
	}
	entry := []byte(f.now().Format("2006-01-02 15:04:05") + " [" + m.Kind.String() + "] " + m.Text + "\n")

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.file(name + ".log").Write(entry); err != nil {
		return err
	}
	if m.Kind == KindErr {
		if _, err := f.file(name + ".err").Write(entry); err != nil {
			return err
		}
	}
	return nil
}

func (f *FileSink) file(name string) *lumberjack.Logger {
	lj, ok := f.files[name]
	if !ok {
		lj = logging.NewRotatingFile(filepath.Join(f.logDir, name))
		f.files[name] = lj
	}
	return lj
}

// Close closes all open log files.
func (f *FileSink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var first error
	for name, lj := range f.files {
		if err := lj.Close(); err != nil && first == nil {
			first = err
		}
		delete(f.files, name)
	}
	return first
}
