package supervisor

import (
	"fmt"
	"path/filepath"

	"github.com/rescale/simwatch/internal/control"
	"github.com/rescale/simwatch/internal/models"
	"github.com/rescale/simwatch/internal/pbs"
	"github.com/rescale/simwatch/internal/state"
	"github.com/rescale/simwatch/internal/workspace"
)

// RecordDefaults fills in what a new record cannot learn from its directory.
type RecordDefaults struct {
	Flavor       pbs.Flavor
	Target       models.ClusterTarget
	NNodesPerCPU int
	// Queue overrides the queue of pbs.sh when set.
	Queue string
}

// NewRecord builds the record of a directory that has no status file yet,
// from its pbs.sh and the control file pbs.sh runs.
func NewRecord(layout workspace.Layout, dir string, d RecordDefaults) (*models.SimulationRecord, error) {
	rec := models.NewSimulationRecord(dir)
	rec.ClusterTarget = d.Target
	if d.NNodesPerCPU > 0 {
		rec.NNodesPerCPU = d.NNodesPerCPU
	}
	rec.Queue = d.Queue

	script, err := pbs.NewParser().ParseFile(filepath.Join(layout.JobDir(dir), workspace.ScriptName), d.Flavor)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", dir, err)
	}
	script.ApplyTo(rec)

	flml, err := layout.ScriptControlFile(dir)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", dir, err)
	}
	f, err := control.Open(filepath.Join(layout.JobDir(dir), flml))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", dir, err)
	}
	if rec.SimName, err = f.SimulationName(); err != nil {
		return nil, fmt.Errorf("%s: %w", dir, err)
	}
	if t, err := f.CurrentTime(); err == nil {
		rec.SetSimTime(t)
	}
	return rec, nil
}

// Snapshot returns the records of the directories below layout that match
// basename: the persisted record where one exists, a fresh one otherwise.
// Nothing is written.
func Snapshot(layout workspace.Layout, store *state.Store, basename string, d RecordDefaults) ([]*models.SimulationRecord, error) {
	dirs, err := layout.Discover(basename)
	if err != nil {
		return nil, err
	}
	t := NewTable()
	for _, dir := range dirs {
		var rec *models.SimulationRecord
		if store.Exists(dir) {
			rec, err = store.Load(dir)
		} else {
			rec, err = NewRecord(layout, dir, d)
		}
		if err != nil {
			return nil, err
		}
		t.Put(rec)
	}
	return t.Records(), nil
}
