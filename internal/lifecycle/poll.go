package lifecycle

import (
	"context"

	"github.com/rescale/simwatch/internal/classify"
	"github.com/rescale/simwatch/internal/models"
	"github.com/rescale/simwatch/internal/notify"
	"github.com/rescale/simwatch/internal/remote"
)

// poll asks the scheduler whether the job of rec is still queued or running.
// It returns stop when the remaining stages must wait for a later pass.
func (c *Controller) poll(ctx context.Context, rec *models.SimulationRecord) (bool, error) {
	o := c.remoteOp(ctx, "qstat", c.gateway.PollQueue, func(out string) classify.Outcome {
		return classify.Qstat(out, c.flavor.QstatHeaderOptional())
	})
	if !o.IsOk() {
		msg := "Error: could not query the queue on " + rec.ClusterName + ": " + describe(o)
		return true, c.fail(rec, models.StagePoll, o, msg, notify.SubjectSSH)
	}

	entry, found := remote.QueueEntry{}, false
	if rec.HasJob() {
		entry, found = remote.FindJob(o.Output, rec.Username, rec.JobID)
	}
	if found {
		rec.Running = true
		rec.Status = entry.Status
		rec.Walltime = entry.Walltime
	} else {
		rec.Running = false
		rec.ClearJob(models.StatusUnknown)
	}
	rec.ErrorStatus = models.StageHealthy
	if err := c.save(rec); err != nil {
		return true, err
	}

	if rec.Running {
		c.logger.Debug().Str("dir", rec.Directory).Str("status", string(rec.Status)).Str("walltime", rec.Walltime).Msg("Job still in queue")
		rec.CleanExit = true
		return true, c.save(rec)
	}
	return false, nil
}
