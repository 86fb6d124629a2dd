package workspace

import (
	"fmt"
	"strings"
)

// Checkpoint identifies a checkpoint control file such as
// channel_12_checkpoint.flml: base "channel", number "12".
type Checkpoint struct {
	Base   string
	Number string
}

// ParseCheckpoint splits a checkpoint control file name. It fails for
// control files that were not written by a checkpoint.
func ParseCheckpoint(flml string) (Checkpoint, error) {
	name := strings.TrimSuffix(flml, ".flml")
	i := strings.Index(name, "_checkpoint")
	if i < 0 {
		return Checkpoint{}, fmt.Errorf("%s is not a checkpoint", flml)
	}
	head := name[:i]
	j := strings.LastIndex(head, "_")
	if j < 0 {
		return Checkpoint{}, fmt.Errorf("%s has no checkpoint number", flml)
	}
	return Checkpoint{Base: head[:j], Number: head[j+1:]}, nil
}

// Glob returns the pattern matching every file of the checkpoint.
func (c Checkpoint) Glob() string {
	return c.Base + "*" + c.Number + "_checkpoint*"
}

// Patterns is an rsync include/exclude list.
type Patterns struct {
	Include []string
	Exclude []string
}

// OutPatterns lists what is sent to the cluster before a submission. A run
// that has not started yet (currentTime 0) sends everything; a continuation
// sends the latest checkpoint and the submission script.
func OutPatterns(flml string, currentTime float64) (Patterns, error) {
	p := Patterns{Exclude: []string{BackupDirName, "*"}}
	switch {
	case currentTime == 0:
		p.Include = []string{"*"}
	case currentTime > 0:
		c, err := ParseCheckpoint(flml)
		if err != nil {
			return p, err
		}
		p.Include = []string{c.Glob(), ScriptName}
	default:
		return p, fmt.Errorf("control file %s has a negative current_time", flml)
	}
	return p, nil
}

// InPatterns lists what is fetched back from the cluster. Log files are only
// complete once the job has left the queue.
func InPatterns(simName string, running bool) Patterns {
	include := []string{simName + "*", "first_timestep_adapted_mesh*", ScriptName}
	if !running {
		include = append(include, "stdout", "stderr", "fluidity.*")
	}
	return Patterns{Include: include, Exclude: []string{"*"}}
}
