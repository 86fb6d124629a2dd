// Package logging provides the structured logger shared by the CLI and the
// supervisor loop.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

const timeFormat = "15:04:05"

// Options configures a Logger.
type Options struct {
	// Console is where human readable output goes. Nil means stdout.
	Console io.Writer
	// File, when set, receives JSON lines through a rotating writer.
	File string
	// NoColor disables ANSI colors on the console.
	NoColor bool
}

// Logger wraps zerolog with a console writer and an optional rotating file.
type Logger struct {
	zlog    zerolog.Logger
	file    *lumberjack.Logger
	console io.Writer
	noColor bool
}

// NewLogger creates a logger from opts.
func NewLogger(opts Options) *Logger {
	console := opts.Console
	if console == nil {
		console = os.Stdout
	}
	l := &Logger{console: console, noColor: opts.NoColor}
	if opts.File != "" {
		l.file = NewRotatingFile(opts.File)
	}
	l.rebuild()
	return l
}

// NewDefaultCLILogger creates a console-only logger on stdout.
func NewDefaultCLILogger() *Logger {
	return NewLogger(Options{})
}

// NewRotatingFile returns the rotating writer used for every simwatch log file.
func NewRotatingFile(path string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // MB
		MaxBackups: 5,
		MaxAge:     30, // days
		Compress:   true,
	}
}

func (l *Logger) rebuild() {
	var out io.Writer = zerolog.ConsoleWriter{
		Out:        l.console,
		TimeFormat: timeFormat,
		NoColor:    l.noColor,
	}
	if l.file != nil {
		out = zerolog.MultiLevelWriter(out, l.file)
	}
	l.zlog = zerolog.New(out).With().Timestamp().Logger()
}

// Info returns an info level event.
func (l *Logger) Info() *zerolog.Event {
	return l.zlog.Info()
}

// Error returns an error level event.
func (l *Logger) Error() *zerolog.Event {
	return l.zlog.Error()
}

// Debug returns a debug level event.
func (l *Logger) Debug() *zerolog.Event {
	return l.zlog.Debug()
}

// Warn returns a warn level event.
func (l *Logger) Warn() *zerolog.Event {
	return l.zlog.Warn()
}

// With creates a child logger context.
func (l *Logger) With() zerolog.Context {
	return l.zlog.With()
}

// Zerolog returns the underlying logger for packages that take a zerolog.Logger.
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zlog
}

// SetOutput redirects the console part of the logger, e.g. around a progress bar.
func (l *Logger) SetOutput(w io.Writer) {
	l.console = w
	l.rebuild()
}

// Output returns the current console writer.
func (l *Logger) Output() io.Writer {
	return l.console
}

// Close flushes and closes the log file, if any.
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// Debugf logs a debug message with printf-style formatting.
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.zlog.Debug().Msgf(format, args...)
}

// Infof logs an info message with printf-style formatting.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.zlog.Info().Msgf(format, args...)
}

// Errorf logs an error message with printf-style formatting.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.zlog.Error().Msgf(format, args...)
}

// Warnf logs a warning message with printf-style formatting.
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.zlog.Warn().Msgf(format, args...)
}

// SetGlobalLevel sets the global log level.
func SetGlobalLevel(level zerolog.Level) {
	zerolog.SetGlobalLevel(level)
}

func init() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: timeFormat,
	})
}
