package lifecycle

import (
	"context"
	"fmt"

	"github.com/rescale/simwatch/internal/models"
	"github.com/rescale/simwatch/internal/notify"
)

// checkFixed looks for the marker a user leaves in a crashed directory after
// repairing it. Without the marker the directory stays parked.
func (c *Controller) checkFixed(_ context.Context, rec *models.SimulationRecord) (bool, error) {
	fixed, err := c.layout.TakeFixMarker(rec.Directory)
	if err != nil {
		c.report(rec.Directory, "Error: could not clear the fix marker: "+err.Error(), 1, notify.KindErr, notify.SubjectError)
	}
	if !fixed {
		rec.ErrorStatus = models.StageCrashCheck
		return true, c.save(rec)
	}

	rec.Crashed = false
	rec.ErrorStatus = models.StageHealthy
	if err := c.save(rec); err != nil {
		return true, err
	}
	c.report(rec.Directory, "Simulation has been flagged as fixed. Script will take it from here...", 0, notify.KindErr, notify.SubjectFixed)

	removed, err := c.layout.RemovePreviousOutputs(rec.Directory)
	if err != nil {
		c.report(rec.Directory, "Error: could not remove the output of the crashed run: "+err.Error(), 1, notify.KindErr, notify.SubjectError)
		return false, nil
	}
	c.report(rec.Directory, fmt.Sprintf("Removed %d output files of the crashed run", len(removed)), 3, notify.KindLog, notify.SubjectCleanedUp)
	return false, nil
}
