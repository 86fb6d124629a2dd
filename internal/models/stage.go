package models

import "fmt"

// Stage names the pipeline stage that last failed for a directory.
// Zero means healthy. The numeric values are persisted as error_status.
type Stage int

const (
	StageHealthy Stage = iota
	StagePoll
	StageFetch
	StageCrashCheck
	StageAppend
	StageRenameCheckpoint
	StagePostprocess
	StageSubmit
)

var stageNames = map[Stage]string{
	StageHealthy:          "healthy",
	StagePoll:             "poll",
	StageFetch:            "fetch",
	StageCrashCheck:       "crash-check",
	StageAppend:           "append-results",
	StageRenameCheckpoint: "rename-checkpoint",
	StagePostprocess:      "postprocess",
	StageSubmit:           "submit",
}

func (s Stage) String() string {
	if n, ok := stageNames[s]; ok {
		return n
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	_, ok := stageNames[s]
	return ok
}

// Resumes reports whether a record in error state s should run stage.
func (s Stage) Resumes(stage Stage, also ...Stage) bool {
	if s == StageHealthy || s == stage {
		return true
	}
	for _, a := range also {
		if s == a {
			return true
		}
	}
	return false
}
