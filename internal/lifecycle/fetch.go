package lifecycle

import (
	"context"

	"github.com/rescale/simwatch/internal/classify"
	"github.com/rescale/simwatch/internal/models"
	"github.com/rescale/simwatch/internal/notify"
	"github.com/rescale/simwatch/internal/workspace"
)

// fetch syncs the results of the last run back from the cluster.
func (c *Controller) fetch(ctx context.Context, rec *models.SimulationRecord) (bool, error) {
	p := workspace.InPatterns(rec.SimName, rec.Running)
	o := c.remoteOp(ctx, "rsync", func(ctx context.Context) (string, error) {
		return c.gateway.SyncIn(ctx, rec.Directory, p.Include, p.Exclude)
	}, classify.Sync)
	if !o.IsOk() {
		msg := "Error: could not sync results of " + rec.Directory + " from " + rec.ClusterName + ": " + describe(o)
		return true, c.fail(rec, models.StageFetch, o, msg, notify.SubjectError)
	}

	rec.ErrorStatus = models.StageHealthy
	if err := c.save(rec); err != nil {
		return true, err
	}
	c.report(rec.Directory, "Synced results from cluster into directory "+rec.Directory, 2, notify.KindLog, notify.SubjectSynced)

	if rec.Running {
		rec.CleanExit = true
		return true, c.save(rec)
	}
	return false, nil
}
