package lifecycle

import (
	"context"
	"fmt"

	"github.com/rescale/simwatch/internal/classify"
	"github.com/rescale/simwatch/internal/inspect"
	"github.com/rescale/simwatch/internal/models"
	"github.com/rescale/simwatch/internal/notify"
)

// crashCheck inspects the fetched output of a job that left the queue.
func (c *Controller) crashCheck(ctx context.Context, rec *models.SimulationRecord) (bool, error) {
	v, err := inspect.Check(c.layout.JobDir(rec.Directory), inspect.Params{
		Flavor:      c.flavor,
		Walltime:    rec.Walltime,
		PBSWalltime: rec.PBSWalltime,
		QueryWait:   c.queryWait,
		Grace:       c.grace,
		SlackFactor: c.slackFactor,
	})
	if err != nil {
		o := classify.Crucial(fmt.Sprintf("crash check failed: %v", err))
		return true, c.fail(rec, models.StageCrashCheck, o, "Error: could not check "+rec.Directory+" for a crash: "+err.Error(), notify.SubjectError)
	}

	switch {
	case v.Quota:
		o := classify.Quota(v.Reason)
		msg := "Error: Disk quota on " + rec.ClusterName + " was exceeded. Clean up your space."
		return true, c.fail(rec, models.StageCrashCheck, o, msg, notify.SubjectQuota)

	case v.Crashed:
		rec.Crashed = true
		rec.ErrorStatus = models.StageCrashCheck
		rec.ClearJob(models.StatusError)
		if c.metrics != nil {
			c.metrics.StageFailed(models.StageCrashCheck)
		}
		if err := c.save(rec); err != nil {
			return true, err
		}
		c.send(ctx, notify.Message{
			Dir:         rec.Directory,
			Text:        "Error: Simulation in " + rec.Directory + " crashed: " + v.Reason + "\nThis simulation has been flagged as crashed and has to be taken care of manually!",
			Verbosity:   0,
			Kind:        notify.KindErr,
			Subject:     notify.SubjectError,
			Attachments: v.Files,
		})
		return true, nil
	}

	rec.ErrorStatus = models.StageHealthy
	rec.ClearJob(models.StatusUnknown)
	if err := c.save(rec); err != nil {
		return true, err
	}
	c.report(rec.Directory, "Simulation in "+rec.Directory+" exited normally", 2, notify.KindLog, notify.SubjectRanNormally)
	return false, nil
}
