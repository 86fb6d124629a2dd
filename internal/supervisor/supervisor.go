// Package supervisor runs the monitoring loop: it discovers the job
// directories, steps each of them through the lifecycle once per pass and
// sleeps between passes until every simulation has finished.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/rescale/simwatch/internal/lifecycle"
	"github.com/rescale/simwatch/internal/localfs"
	"github.com/rescale/simwatch/internal/metrics"
	"github.com/rescale/simwatch/internal/models"
	"github.com/rescale/simwatch/internal/notify"
	"github.com/rescale/simwatch/internal/progress"
	"github.com/rescale/simwatch/internal/state"
	"github.com/rescale/simwatch/internal/workspace"
)

// ErrNoDirectories is returned when discovery finds nothing to monitor.
var ErrNoDirectories = errors.New("no job directories found")

// Stepper advances one record by one pass.
type Stepper interface {
	Step(ctx context.Context, rec *models.SimulationRecord, firstRun bool) error
}

// WaitFunc blocks between passes.
type WaitFunc func(ctx context.Context, d time.Duration) error

// Options configures a Supervisor.
type Options struct {
	Layout     workspace.Layout
	Store      *state.Store
	Controller Stepper
	Reporter   *notify.Reporter
	Basename   string
	QueryWait  time.Duration
	Defaults   RecordDefaults

	// Metrics is optional; MetricsPath is where the textfile is written.
	Metrics     *metrics.Metrics
	MetricsPath string

	// Wait defaults to a countdown on stdout.
	Wait   WaitFunc
	Logger zerolog.Logger
}

// Supervisor owns the table of records and drives the passes.
type Supervisor struct {
	layout    workspace.Layout
	store     *state.Store
	ctrl      Stepper
	reporter  *notify.Reporter
	basename  string
	queryWait time.Duration
	defaults  RecordDefaults

	metrics     *metrics.Metrics
	metricsPath string

	wait   WaitFunc
	logger zerolog.Logger

	table    *Table
	firstRun map[string]bool
}

// New creates a supervisor. Call Load or Run next.
func New(opts Options) *Supervisor {
	wait := opts.Wait
	if wait == nil {
		wait = func(ctx context.Context, d time.Duration) error {
			return progress.Countdown(ctx, d, os.Stdout)
		}
	}
	return &Supervisor{
		layout:      opts.Layout,
		store:       opts.Store,
		ctrl:        opts.Controller,
		reporter:    opts.Reporter,
		basename:    opts.Basename,
		queryWait:   opts.QueryWait,
		defaults:    opts.Defaults,
		metrics:     opts.Metrics,
		metricsPath: opts.MetricsPath,
		wait:        wait,
		logger:      opts.Logger,
		table:       NewTable(),
		firstRun:    make(map[string]bool),
	}
}

// Table returns the records under supervision.
func (s *Supervisor) Table() *Table {
	return s.table
}

// Load discovers the job directories and loads or creates their records.
// Directories without a status file are marked for a first run.
func (s *Supervisor) Load() error {
	dirs, err := s.layout.Discover(s.basename)
	if err != nil {
		return fmt.Errorf("failed to list job directories: %w", err)
	}
	if len(dirs) == 0 {
		return fmt.Errorf("%w in %s matching %q", ErrNoDirectories, s.layout.Root, s.basename)
	}
	if err := s.layout.Prepare(dirs); err != nil {
		return fmt.Errorf("failed to prepare working directory: %w", err)
	}

	for _, dir := range dirs {
		if !s.store.Exists(dir) {
			rec, err := NewRecord(s.layout, dir, s.defaults)
			if err != nil {
				return err
			}
			s.table.Put(rec)
			s.firstRun[dir] = true
			continue
		}

		rec, err := s.store.Load(dir)
		if err != nil {
			return fmt.Errorf("failed to load status of %s: %w", dir, err)
		}
		if !rec.CleanExit && !rec.Finished {
			s.logger.Warn().Str("dir", dir).Str("stage", rec.ErrorStatus.String()).
				Msg("Previous run did not exit cleanly, resuming")
		}
		s.table.Put(rec)
	}

	s.logger.Info().Int("directories", s.table.Len()).Strs("dirs", s.table.Keys()).Msg("Job directories loaded")
	return nil
}

// Run loads the directories and passes over them until all have finished,
// the context is cancelled or a directory aborts the supervisor.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.Load(); err != nil {
		return err
	}

	s.report("", notify.Framed(fmt.Sprintf("Monitoring %d directories in %s", s.table.Len(), s.layout.Root)), 3, notify.KindLog, "")

	for pass := 1; ; pass++ {
		start := time.Now()
		s.logger.Debug().Int("pass", pass).Msg("Starting pass")

		err := s.Pass(ctx)
		s.afterPass(start)
		if err != nil {
			return s.abort(ctx, err)
		}

		if s.table.AllFinished() {
			s.finished(ctx)
			return nil
		}

		if err := s.wait(ctx, s.queryWait); err != nil {
			return s.abort(ctx, err)
		}
	}
}

// RunOnce loads the directories and makes a single pass.
func (s *Supervisor) RunOnce(ctx context.Context) error {
	if err := s.Load(); err != nil {
		return err
	}
	start := time.Now()
	err := s.Pass(ctx)
	s.afterPass(start)
	if err != nil {
		return s.abort(ctx, err)
	}
	if s.table.AllFinished() {
		s.finished(ctx)
	}
	return nil
}

// Pass steps every record once, in directory order.
func (s *Supervisor) Pass(ctx context.Context) error {
	for _, dir := range s.table.Keys() {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, _ := s.table.Get(dir)
		first := s.firstRun[dir]
		err := s.ctrl.Step(ctx, rec, first)
		delete(s.firstRun, dir)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Supervisor) afterPass(start time.Time) {
	recs := s.table.Records()
	if err := SaveStatus(s.layout.StatusTablePath(), recs); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to write status table")
	}
	if s.metrics == nil {
		return
	}
	s.metrics.ObserveRecords(recs)
	s.metrics.PassDone(start, time.Now())
	if err := s.metrics.WriteTextfile(s.metricsPath); err != nil {
		s.logger.Warn().Err(err).Str("path", s.metricsPath).Msg("Failed to write metrics")
	}
}

// abort persists every record with CleanExit set, writes the status table and
// sends the final report. Cancellation is a clean stop; anything else is
// reported as an error and returned.
func (s *Supervisor) abort(ctx context.Context, cause error) error {
	for _, rec := range s.table.Records() {
		if rec.Finished {
			continue
		}
		rec.CleanExit = true
		if err := s.store.Save(rec); err != nil {
			s.logger.Error().Err(err).Str("dir", rec.Directory).Msg("Failed to save status")
		}
	}
	table := s.layout.StatusTablePath()
	if err := SaveStatus(table, s.table.Records()); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to write status table")
	}

	var attachments []string
	if localfs.Exists(table) {
		attachments = []string{table}
	}
	final := context.WithoutCancel(ctx)

	if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		s.send(final, notify.Message{
			Text:        notify.Framed("Monitoring stopped, the status of every directory was saved"),
			Verbosity:   1,
			Kind:        notify.KindLog,
			Subject:     notify.SubjectCleanExit,
			Attachments: attachments,
			NoEmail:     true,
		})
		return cause
	}

	var abort *lifecycle.AbortError
	where := ""
	if errors.As(cause, &abort) {
		where = fmt.Sprintf(" while processing %s (stage %s)", abort.Dir, abort.Stage)
	}
	lines := []string{
		notify.Framed("Error: Program aborted" + where),
		cause.Error(),
		"The status of every directory was saved. Fix the problem and restart the monitor.",
	}
	s.send(final, notify.Message{
		Text:        strings.Join(lines, "\n"),
		Verbosity:   0,
		Kind:        notify.KindErr,
		Subject:     notify.SubjectAborted,
		Attachments: attachments,
	})
	return cause
}

func (s *Supervisor) finished(ctx context.Context) {
	m := notify.Message{
		Text:      notify.Framed("All simulations have successfully finished"),
		Verbosity: 0,
		Kind:      notify.KindLog,
		Subject:   notify.SubjectAllFinished,
	}
	if table := s.layout.StatusTablePath(); localfs.Exists(table) {
		m.Attachments = []string{table}
	}
	s.send(ctx, m)
}

func (s *Supervisor) report(dir, msg string, verbosity int, kind notify.Kind, subject string) {
	if s.reporter != nil {
		s.reporter.Report(dir, msg, verbosity, kind, subject)
	}
}

func (s *Supervisor) send(ctx context.Context, m notify.Message) {
	if s.reporter != nil {
		s.reporter.Send(ctx, m)
	}
}
