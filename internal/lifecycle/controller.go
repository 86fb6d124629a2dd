// Package lifecycle drives one job directory through poll, fetch, crash
// check, result merging, postprocessing and resubmission. Every stage
// transition is persisted before the next stage starts, so a restarted
// supervisor resumes at the stage that last failed.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/rescale/simwatch/internal/classify"
	"github.com/rescale/simwatch/internal/metrics"
	"github.com/rescale/simwatch/internal/mirror"
	"github.com/rescale/simwatch/internal/models"
	"github.com/rescale/simwatch/internal/notify"
	"github.com/rescale/simwatch/internal/pbs"
	"github.com/rescale/simwatch/internal/remote"
	"github.com/rescale/simwatch/internal/state"
	"github.com/rescale/simwatch/internal/workspace"
)

// Options configures a Controller.
type Options struct {
	Store    *state.Store
	Gateway  remote.Gateway
	Layout   workspace.Layout
	Reporter *notify.Reporter
	Retry    classify.RetryPolicy
	Flavor   pbs.Flavor

	// QueryWait, Grace and SlackFactor tune the crash heuristic.
	QueryWait   time.Duration
	Grace       time.Duration
	SlackFactor float64

	// Metrics and Mirror are optional.
	Metrics *metrics.Metrics
	Mirror  mirror.Mirror

	Logger zerolog.Logger
}

// Controller runs the per-directory state machine.
type Controller struct {
	store    *state.Store
	gateway  remote.Gateway
	layout   workspace.Layout
	reporter *notify.Reporter
	retry    classify.RetryPolicy
	flavor   pbs.Flavor

	queryWait   time.Duration
	grace       time.Duration
	slackFactor float64

	metrics *metrics.Metrics
	mirror  mirror.Mirror
	logger  zerolog.Logger
}

// New creates a controller.
func New(opts Options) *Controller {
	c := &Controller{
		store:       opts.Store,
		gateway:     opts.Gateway,
		layout:      opts.Layout,
		reporter:    opts.Reporter,
		retry:       opts.Retry,
		flavor:      opts.Flavor,
		queryWait:   opts.QueryWait,
		grace:       opts.Grace,
		slackFactor: opts.SlackFactor,
		metrics:     opts.Metrics,
		mirror:      opts.Mirror,
		logger:      opts.Logger,
	}
	if c.retry.OnRetry == nil {
		c.retry.OnRetry = func(attempt int, last classify.Outcome) {
			c.logger.Debug().Int("attempt", attempt).Str("outcome", last.String()).Msg("Retrying remote operation")
		}
	}
	return c
}

// AbortError stops the supervisor. It wraps classify.ErrCrucial or
// classify.ErrQuotaExceeded.
type AbortError struct {
	Dir   string
	Stage models.Stage
	Err   error
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Dir, e.Stage, e.Err)
}

func (e *AbortError) Unwrap() error {
	return e.Err
}

// Step advances rec as far as it can in this pass. firstRun is true only on
// the first pass for a directory that had no status file at startup. A
// non-nil error is always an *AbortError.
func (c *Controller) Step(ctx context.Context, rec *models.SimulationRecord, firstRun bool) error {
	if rec.Finished {
		return nil
	}
	if !firstRun {
		rec.CleanExit = false
		if err := c.save(rec); err != nil {
			return err
		}
	}

	if rec.ErrorStatus.Resumes(models.StagePoll) {
		stop, err := c.poll(ctx, rec)
		if err != nil || stop {
			return err
		}
	}

	c.logger.Info().Msg("\n" + frame("| Processing dir = "+rec.Directory+" |"))

	if !rec.Crashed && !firstRun && rec.ErrorStatus.Resumes(models.StageFetch) {
		stop, err := c.fetch(ctx, rec)
		if err != nil || stop {
			return err
		}
	}

	if !rec.Crashed && !firstRun && rec.ErrorStatus.Resumes(models.StageCrashCheck) {
		stop, err := c.crashCheck(ctx, rec)
		if err != nil || stop {
			return err
		}
	} else if rec.Crashed && rec.ErrorStatus.Resumes(models.StageCrashCheck, models.StageAppend, models.StagePostprocess) {
		stop, err := c.checkFixed(ctx, rec)
		if err != nil || stop {
			return err
		}
	}

	if !rec.Crashed && !firstRun {
		if rec.ErrorStatus.Resumes(models.StageAppend) {
			stop, err := c.appendResults(ctx, rec)
			if err != nil || stop {
				return err
			}
		}
		if rec.ErrorStatus.Resumes(models.StageRenameCheckpoint) {
			stop, err := c.renameCheckpoint(ctx, rec)
			if err != nil || stop {
				return err
			}
		}
	}

	if !rec.Crashed && rec.ErrorStatus.Resumes(models.StagePostprocess) {
		stop, err := c.postprocess(ctx, rec)
		if err != nil || stop {
			return err
		}
	}

	if !rec.Crashed && !rec.Finished && rec.ErrorStatus.Resumes(models.StageSubmit) {
		if err := c.submit(ctx, rec); err != nil {
			return err
		}
	} else if rec.Finished && rec.ErrorStatus == models.StageHealthy {
		c.cleanAndBackup(ctx, rec)
	}

	rec.CleanExit = true
	return c.save(rec)
}

// save persists rec. A record that cannot be written makes resumption
// impossible, so the failure aborts the supervisor.
func (c *Controller) save(rec *models.SimulationRecord) error {
	if err := c.store.Save(rec); err != nil {
		return &AbortError{
			Dir:   rec.Directory,
			Stage: rec.ErrorStatus,
			Err:   fmt.Errorf("%w: %v", classify.ErrCrucial, err),
		}
	}
	return nil
}

// remoteOp runs op under the retry policy and classifies its output with rule.
func (c *Controller) remoteOp(ctx context.Context, name string, op func(context.Context) (string, error), rule func(string) classify.Outcome) classify.Outcome {
	return c.retry.Run(ctx, func(ctx context.Context) classify.Outcome {
		out, err := op(ctx)
		if err != nil {
			switch {
			case errors.Is(err, remote.ErrNoAnswer):
				if o := classify.SSH(out); !o.IsOk() {
					return o
				}
				return classify.Transient(name + ": cluster did not answer").WithOutput(out)
			case ctx.Err() != nil:
				return classify.Transient(name + ": cancelled").WithOutput(out)
			case errors.Is(err, remote.ErrUnreachable):
				return classify.Transient(fmt.Sprintf("%s: %v", name, err)).WithOutput(out)
			case errors.Is(err, remote.ErrSSHSetup):
				return classify.Crucial(fmt.Sprintf("%s: %v", name, err)).WithOutput(out)
			}
			return classify.Crucial(fmt.Sprintf("%s: %v", name, err)).WithOutput(out)
		}
		return rule(out)
	})
}

// fail records a failed stage. Transient and domain failures are reported
// and the directory waits for the next pass; fatal ones also set CleanExit
// and return an *AbortError.
func (c *Controller) fail(rec *models.SimulationRecord, stage models.Stage, o classify.Outcome, msg, subject string) error {
	rec.ErrorStatus = stage
	if c.metrics != nil {
		c.metrics.StageFailed(stage)
	}
	if !o.Fatal() {
		verbosity := 1
		if o.Exhausted {
			verbosity = 0
		}
		c.report(rec.Directory, msg, verbosity, notify.KindErr, subject)
		return c.save(rec)
	}

	rec.CleanExit = true
	if err := c.save(rec); err != nil {
		return err
	}
	if o.Kind == classify.KindQuota {
		subject = notify.SubjectQuota
	}
	c.report(rec.Directory, msg, 0, notify.KindErr, subject)
	return &AbortError{Dir: rec.Directory, Stage: stage, Err: o.Err()}
}

func (c *Controller) report(dir, msg string, verbosity int, kind notify.Kind, subject string) {
	if c.reporter != nil {
		c.reporter.Report(dir, msg, verbosity, kind, subject)
	}
}

func (c *Controller) send(ctx context.Context, m notify.Message) {
	if c.reporter != nil {
		c.reporter.Send(ctx, m)
	}
}

// describe renders an outcome and a trimmed excerpt of its output.
func describe(o classify.Outcome) string {
	s := o.Reason
	if out := strings.TrimSpace(o.Output); out != "" {
		if len(out) > 500 {
			out = out[:500] + "..."
		}
		s += "\nOutput: " + out
	}
	if o.Exhausted {
		s += "\nGave up after the maximum number of attempts, trying again at the next iteration."
	}
	return s
}

func frame(line string) string {
	bar := strings.Repeat("=", len(line))
	return bar + "\n" + line + "\n" + bar
}
