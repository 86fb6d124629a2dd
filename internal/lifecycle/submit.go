package lifecycle

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/rescale/simwatch/internal/classify"
	"github.com/rescale/simwatch/internal/control"
	"github.com/rescale/simwatch/internal/localfs"
	"github.com/rescale/simwatch/internal/models"
	"github.com/rescale/simwatch/internal/notify"
	"github.com/rescale/simwatch/internal/workspace"
)

// submit ships the continuation run to the cluster and queues it.
func (c *Controller) submit(ctx context.Context, rec *models.SimulationRecord) error {
	jobDir := c.layout.JobDir(rec.Directory)
	remoteDir := rec.ClusterName + ":" + rec.ClusterDir + "/" + rec.Directory

	p, err := outPatterns(jobDir)
	if err != nil {
		o := classify.Transient(err.Error())
		return c.fail(rec, models.StageSubmit, o, "Error: could not prepare the submission of "+rec.Directory+": "+err.Error(), notify.SubjectSubmitFailed)
	}

	steps := []struct {
		name string
		op   func(context.Context) (string, error)
		rule func(string) classify.Outcome
	}{
		{"rm", func(ctx context.Context) (string, error) {
			return c.gateway.RemoveRemoteDir(ctx, rec.Directory)
		}, classify.SSHCommand},
		{"rsync", func(ctx context.Context) (string, error) {
			return c.gateway.SyncOut(ctx, rec.Directory, p.Include, p.Exclude)
		}, classify.Sync},
		{"cp", func(ctx context.Context) (string, error) {
			return c.gateway.CopyExecutable(ctx, rec.Directory)
		}, classify.SSHCommand},
		{"qsub", func(ctx context.Context) (string, error) {
			return c.gateway.Submit(ctx, rec.Directory)
		}, classify.Qsub},
	}

	var o classify.Outcome
	for _, s := range steps {
		o = c.remoteOp(ctx, s.name, s.op, s.rule)
		if !o.IsOk() {
			break
		}
		if s.name == "rsync" {
			c.report(rec.Directory, "rsync simulation to cluster into directory "+remoteDir, 2, notify.KindLog, notify.SubjectSynced)
		}
	}

	switch {
	case o.Kind == classify.KindDomain:
		rec.Crashed = true
		rec.Running = false
		rec.ClearJob(models.StatusError)
		rec.Walltime = models.NoJob
		rec.ErrorStatus = models.StageHealthy
		if c.metrics != nil {
			c.metrics.StageFailed(models.StageSubmit)
		}
		if err := c.save(rec); err != nil {
			return err
		}
		c.report(rec.Directory, "Error: Access to queue is denied\nError: This Simulation has been flagged as crashed and has to be taken care of manually!", 0, notify.KindErr, notify.SubjectQueueDenied)
		return nil

	case !o.IsOk():
		msg := fmt.Sprintf("Error: Job of %s could not be successfully submitted to the queue.\nTrying again at the next monitoring iteration...\nLast output was: %s", remoteDir, describe(o))
		return c.fail(rec, models.StageSubmit, o, msg, notify.SubjectSubmitFailed)
	}

	rec.JobID = o.Output
	rec.Status = models.StatusQueued
	rec.Walltime = "00:00"
	rec.Running = true
	rec.DecompNCPUs = 0
	rec.ErrorStatus = models.StageHealthy
	if err := c.save(rec); err != nil {
		return err
	}
	if c.metrics != nil {
		c.metrics.Submitted()
	}
	c.report(rec.Directory, "Simulation of "+rec.Directory+" was successfully submitted.\nJobID: "+rec.JobID, 0, notify.KindLog, notify.SubjectSubmitted)

	c.cleanAndBackup(ctx, rec)
	return nil
}

// outPatterns selects what the next run needs from the latest control file.
func outPatterns(jobDir string) (workspace.Patterns, error) {
	latest, err := control.FindLatest(jobDir)
	if err != nil {
		return workspace.Patterns{}, err
	}
	f, err := control.Open(filepath.Join(jobDir, latest))
	if err != nil {
		return workspace.Patterns{}, err
	}
	t, err := f.CurrentTime()
	if err != nil {
		return workspace.Patterns{}, err
	}
	return workspace.OutPatterns(latest, t)
}

// cleanAndBackup tidies the local directory after the archive was written
// and mirrors the new backup archive when a mirror is configured. Failures
// are reported but never stop the directory.
func (c *Controller) cleanAndBackup(ctx context.Context, rec *models.SimulationRecord) {
	if err := c.layout.CleanAndBackup(rec.Directory, rec.SimName, c.layout.ArchivePath(rec.Directory)); err != nil {
		c.report(rec.Directory, "Error: local clean up was incomplete: "+err.Error(), 1, notify.KindErr, notify.SubjectError)
	} else {
		msg := "Local directory has been cleaned up, and most recent checkpoint, plus stat/detectors-files have been copied to " + rec.Directory + "/" + workspace.BackupDirName + "/"
		c.report(rec.Directory, msg, 3, notify.KindLog, notify.SubjectCleanedUp)
	}

	if c.mirror == nil {
		return
	}
	archive := c.layout.RecentArchivePath(rec.Directory)
	if !localfs.Exists(archive) {
		return
	}
	loc, err := c.mirror.Upload(ctx, rec.Directory, archive)
	if err != nil {
		c.report(rec.Directory, "Error: could not mirror the backup archive: "+err.Error(), 1, notify.KindErr, notify.SubjectError)
		return
	}
	c.logger.Info().Str("dir", rec.Directory).Str("location", loc).Msg("Mirrored backup archive")
}
