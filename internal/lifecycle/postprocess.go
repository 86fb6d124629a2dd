package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rescale/simwatch/internal/classify"
	"github.com/rescale/simwatch/internal/control"
	"github.com/rescale/simwatch/internal/inspect"
	"github.com/rescale/simwatch/internal/localfs"
	"github.com/rescale/simwatch/internal/models"
	"github.com/rescale/simwatch/internal/notify"
	"github.com/rescale/simwatch/internal/pbs"
	"github.com/rescale/simwatch/internal/results"
	"github.com/rescale/simwatch/internal/workspace"
)

const autocheckpSuffix = "_autocheckp"

// postprocess prepares the continuation run: the script is resized for the
// current mesh, the control file is renamed to an automatic checkpoint run and
// the restart archive is written. A simulation that reached its finish time
// or a steady state is marked finished instead.
func (c *Controller) postprocess(ctx context.Context, rec *models.SimulationRecord) (bool, error) {
	jobDir := c.layout.JobDir(rec.Directory)
	abort := func(err error) (bool, error) {
		o := classify.Crucial(err.Error())
		return true, c.fail(rec, models.StagePostprocess, o, "Error: postprocessing of "+rec.Directory+" failed: "+err.Error(), notify.SubjectError)
	}

	latest, err := control.FindLatest(jobDir)
	if err != nil {
		return abort(err)
	}
	f, err := control.Open(filepath.Join(jobDir, latest))
	if err != nil {
		return abort(err)
	}
	currentTime, err := f.CurrentTime()
	if err != nil {
		return abort(err)
	}
	finishTime, err := f.FinishTime()
	if err != nil {
		return abort(err)
	}
	rec.SetSimTime(currentTime)

	z, err := pbs.RewriteFile(filepath.Join(jobDir, workspace.ScriptName), rec, pbs.RewriteOptions{
		Flavor:           c.flavor,
		Flml:             latest,
		FluidityDir:      rec.ClusterFluidityDir,
		TargetTotalNCPUs: results.TargetCores(jobDir, rec.NNodesPerCPU),
	})
	if err != nil {
		if errors.Is(err, pbs.ErrTooManyMachines) {
			return abort(fmt.Errorf("%w (%s allows at most %d machines)", err, c.flavor, c.flavor.MaxMachines()))
		}
		return abort(err)
	}
	if z.Grows() {
		c.report(rec.Directory, fmt.Sprintf("Mesh has grown, continuing on %d cores (%d machines) instead of %d", z.NewTotalNCPUs, z.NewNMachines, z.TotalNCPUs), 2, notify.KindLog, "")
	}
	z.ApplyTo(rec)

	name, err := f.SimulationName()
	if err != nil {
		return abort(err)
	}
	if next := continuationName(name); next != name {
		name = next
		if err := f.Set(control.OptSimulationName, name); err != nil {
			return abort(err)
		}
	}
	if strings.Contains(latest, "checkpoint") {
		f.Delete(control.OptAdaptAtFirstTimestep)
	}
	if err := f.Save(); err != nil {
		return abort(err)
	}
	rec.SimName = name

	finished := reachedFinish(jobDir, name, currentTime, finishTime) || inspect.SteadyState(jobDir)
	if err := c.save(rec); err != nil {
		return true, err
	}

	if finished {
		o := c.remoteOp(ctx, "rm", func(ctx context.Context) (string, error) {
			return c.gateway.RemoveRemoteDir(ctx, rec.Directory)
		}, classify.SSHCommand)
		if !o.IsOk() {
			msg := "Error: could not remove the finished run of " + rec.Directory + " from " + rec.ClusterName + ": " + describe(o)
			return true, c.fail(rec, models.StagePostprocess, o, msg, notify.SubjectSSH)
		}
	}

	if _, err := c.layout.Archive(rec.Directory, latest, currentTime); err != nil {
		return abort(fmt.Errorf("failed to archive %s: %w", rec.Directory, err))
	}

	rec.ErrorStatus = models.StageHealthy
	if !finished {
		return false, c.save(rec)
	}

	rec.Finished = true
	rec.Running = false
	rec.DecompNCPUs = 0
	rec.ClearJob(models.StatusFinished)
	rec.Walltime = models.NoJob
	if err := c.save(rec); err != nil {
		return true, err
	}

	m := notify.Message{
		Dir:       rec.Directory,
		Text:      "Simulation in " + rec.Directory + " has successfully finished.",
		Verbosity: 0,
		Kind:      notify.KindLog,
		Subject:   notify.SubjectSimFinished,
	}
	if table := c.layout.StatusTablePath(); localfs.Exists(table) {
		m.Attachments = []string{table}
	}
	c.send(ctx, m)
	return false, nil
}

// continuationName maps the simulation name of a Fluidity checkpoint onto the
// name of the automatic continuation run: "channel_checkpoint" and
// "channel_autocheckp_checkpoint" both become "channel_autocheckp". Names
// without "_checkpoint" are kept.
func continuationName(name string) string {
	if !strings.Contains(name, "_checkpoint") {
		return name
	}
	base, _, _ := strings.Cut(name, "_checkpoint")
	base, _, _ = strings.Cut(base, autocheckpSuffix)
	return base + autocheckpSuffix
}

// reachedFinish compares the last simulated time with the finish time. The
// merged stat file is preferred; the control file's current_time is used when
// there is none.
func reachedFinish(jobDir, simName string, currentTime, finishTime float64) bool {
	t := currentTime
	if !strings.Contains(simName, "checkpoint") {
		if last, err := results.LastTime(filepath.Join(jobDir, simName+".stat")); err == nil {
			t = last
		}
	}
	return t >= finishTime
}
