package lifecycle

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/rescale/simwatch/internal/control"
	"github.com/rescale/simwatch/internal/models"
	"github.com/rescale/simwatch/internal/notify"
	"github.com/rescale/simwatch/internal/results"
)

// appendResults merges the series of the last run into the cumulative
// series. A failure leaves the series in an unknown state, so the directory
// is parked as crashed.
func (c *Controller) appendResults(_ context.Context, rec *models.SimulationRecord) (bool, error) {
	if err := results.AppendSeries(c.layout.JobDir(rec.Directory), rec.SimName); err != nil {
		rec.Crashed = true
		rec.ErrorStatus = models.StageAppend
		if c.metrics != nil {
			c.metrics.StageFailed(models.StageAppend)
		}
		if err := c.save(rec); err != nil {
			return true, err
		}
		msg := "Error: An error occured during the attempt to append results from stat/detector files: " + err.Error()
		c.report(rec.Directory, msg, 0, notify.KindErr, notify.SubjectAppend)
		return true, nil
	}
	rec.ErrorStatus = models.StageHealthy
	return false, c.save(rec)
}

// renameCheckpoint renumbers the dumps of an automatic checkpoint run.
func (c *Controller) renameCheckpoint(_ context.Context, rec *models.SimulationRecord) (bool, error) {
	jobDir := c.layout.JobDir(rec.Directory)

	fsi := false
	if latest, err := control.FindLatest(jobDir); err == nil {
		if f, err := control.Open(filepath.Join(jobDir, latest)); err == nil {
			fsi = f.HasFSIModel()
		}
	}

	renames, err := results.RenumberDumps(jobDir, rec.SimName, rec.TotalNCPUs, fsi)
	if err != nil {
		rec.ErrorStatus = models.StageRenameCheckpoint
		if c.metrics != nil {
			c.metrics.StageFailed(models.StageRenameCheckpoint)
		}
		if err := c.save(rec); err != nil {
			return true, err
		}
		c.report(rec.Directory, "Error: renaming checkpointed dumps failed: "+err.Error(), 0, notify.KindErr, notify.SubjectRename)
		return true, nil
	}
	if len(renames) > 0 {
		c.report(rec.Directory, fmt.Sprintf("Renamed %d checkpointed dumps", len(renames)), 3, notify.KindLog, "")
	}
	rec.ErrorStatus = models.StageHealthy
	return false, c.save(rec)
}
