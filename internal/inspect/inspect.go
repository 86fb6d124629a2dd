// Package inspect decides whether a finished run crashed, from the output
// files fetched back from the cluster and the progress recorded in its
// control file.
package inspect

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rescale/simwatch/internal/control"
	"github.com/rescale/simwatch/internal/localfs"
	"github.com/rescale/simwatch/internal/models"
	"github.com/rescale/simwatch/internal/pbs"
)

const (
	stdoutFile = "stdout"
	stderrFile = "stderr"
	errLogGlob = "fluidity.err-*"
)

// Params configures the crash check of one directory.
type Params struct {
	Flavor pbs.Flavor
	// Walltime is the elapsed walltime last reported by qstat (HH:MM).
	Walltime string
	// PBSWalltime is the walltime requested in pbs.sh (HH:MM:SS).
	PBSWalltime string
	// QueryWait is the pause between supervisor passes.
	QueryWait time.Duration
	// Grace is subtracted from PBSWalltime.
	Grace time.Duration
	// SlackFactor multiplies QueryWait before it is subtracted from the
	// control file's wall_time_limit.
	SlackFactor float64
}

// Verdict is the result of a crash check.
type Verdict struct {
	Crashed bool
	// Quota is set when the run died on an exceeded disk quota.
	Quota  bool
	Reason string
	// Files lists output files worth attaching to a report.
	Files []string
}

// signature is one known crash marker.
type signature struct {
	file    string
	pattern string
	also    string
	reason  string
}

var signatures = []signature{
	{file: stdoutFile, pattern: "caused collective abort", reason: "'Collective abort' found in stdout"},
	{file: stderrFile, pattern: "*** ERROR ***", reason: "'*** ERROR ***' found in stderr"},
	{file: errLogGlob, pattern: "*** ERROR ***", reason: "'*** ERROR ***' found in " + errLogGlob},
	{file: errLogGlob, pattern: "error", reason: "'error' found in " + errLogGlob},
	{file: stderrFile, pattern: "ERROR:", reason: "'ERROR:' found in stderr"},
	{file: stdoutFile, pattern: "cannot be run.", reason: "executable could not be run"},
	{file: stderrFile, pattern: "PBS: job killed: mem", also: "exceeded limit", reason: "memory limit was exceeded"},
}

// Check inspects dir for evidence that the last run crashed. When no crash
// signature is found, the run's progress is compared with its time budgets.
func Check(dir string, p Params) (Verdict, error) {
	if reason, crashed := Signatures(dir); crashed {
		return Verdict{Crashed: true, Reason: reason, Files: outputFiles(dir)}, nil
	}

	for _, name := range []string{stdoutFile, stderrFile} {
		found, err := fileContains(filepath.Join(dir, name), "Disk quota exceeded", "")
		if err != nil {
			return Verdict{}, err
		}
		if found {
			return Verdict{Crashed: true, Quota: true, Reason: "disk quota on the cluster was exceeded"}, nil
		}
	}

	if reason, crashed, err := terminated(dir, p.Flavor); err != nil {
		return Verdict{}, err
	} else if crashed {
		return Verdict{Crashed: true, Reason: reason, Files: outputFiles(dir)}, nil
	}

	reason, crashed, err := Heuristic(dir, p)
	if err != nil {
		return Verdict{}, err
	}
	if crashed {
		return Verdict{Crashed: true, Reason: reason, Files: outputFiles(dir)}, nil
	}
	return Verdict{}, nil
}

// Signatures looks for the known crash markers in the output files of dir.
// Missing stdout or stderr counts as a crash.
func Signatures(dir string) (string, bool) {
	for _, name := range []string{stdoutFile, stderrFile} {
		if !localfs.Exists(filepath.Join(dir, name)) {
			return "files 'stdout/stderr' were not found", true
		}
	}
	for _, sig := range signatures {
		names := []string{sig.file}
		if strings.ContainsAny(sig.file, "*?[") {
			names, _ = localfs.Glob(dir, sig.file)
		}
		for _, n := range names {
			found, err := fileContains(filepath.Join(dir, n), sig.pattern, sig.also)
			if err == nil && found {
				return sig.reason, true
			}
		}
	}
	return "", false
}

// terminated applies the per-cluster check on how the job ended.
func terminated(dir string, flavor pbs.Flavor) (string, bool, error) {
	stdout := filepath.Join(dir, stdoutFile)
	switch flavor {
	case pbs.FlavorCX1:
		ok, err := fileContains(stdout, "Job terminated normally", "")
		if err != nil {
			return "", false, err
		}
		if !ok {
			return "stdout does not report a normal job termination", true, nil
		}
	case pbs.FlavorCX2:
		for _, s := range []string{"aborting job", "terminated", "Killed"} {
			ok, err := fileContains(stdout, s, "")
			if err != nil {
				return "", false, err
			}
			if ok {
				return fmt.Sprintf("'%s' found in stdout", s), true, nil
			}
		}
	}
	return "", false, nil
}

// Heuristic flags a run that stopped before its finish time although neither
// the control file's wall_time_limit nor the scheduler walltime was reached.
func Heuristic(dir string, p Params) (string, bool, error) {
	latest, err := control.FindLatest(dir)
	if err != nil {
		return "", false, err
	}
	f, err := control.Open(filepath.Join(dir, latest))
	if err != nil {
		return "", false, err
	}
	simTime, err := f.CurrentTime()
	if err != nil {
		return "", false, err
	}
	finish, err := f.FinishTime()
	if err != nil {
		return "", false, err
	}
	limit, declared, err := f.WallTimeLimit()
	if err != nil {
		return "", false, err
	}

	elapsed, err := models.WalltimeSeconds(p.Walltime)
	if err != nil {
		// Nothing to compare against.
		return "", false, nil
	}
	requested, err := models.WalltimeSeconds(p.PBSWalltime)
	if err != nil {
		return "", false, nil
	}

	if !StoppedEarly(Budget{
		SimTime:       simTime,
		FinishTime:    finish,
		WallTimeLimit: limit,
		HasLimit:      declared,
		Elapsed:       time.Duration(elapsed) * time.Second,
		Requested:     time.Duration(requested) * time.Second,
	}, p) {
		return "", false, nil
	}
	return "simulation reached neither its finish time nor the walltime limit or pbs walltime limit", true, nil
}

// Budget holds the progress and time limits of one run.
type Budget struct {
	SimTime       float64
	FinishTime    float64
	WallTimeLimit float64 // seconds
	HasLimit      bool
	Elapsed       time.Duration
	Requested     time.Duration
}

// StoppedEarly reports whether a run that did not reach its finish time
// ended before any walltime limit could have stopped it.
func StoppedEarly(b Budget, p Params) bool {
	if b.SimTime >= b.FinishTime {
		return false
	}
	current := (b.Elapsed + p.QueryWait).Seconds()
	threshold := (b.Requested - p.Grace).Seconds()
	if b.HasLimit {
		threshold = math.Min(threshold, b.WallTimeLimit-p.SlackFactor*p.QueryWait.Seconds())
	}
	return current < threshold
}

func outputFiles(dir string) []string {
	var files []string
	for _, name := range []string{stdoutFile, stderrFile} {
		if p := filepath.Join(dir, name); localfs.Exists(p) {
			files = append(files, p)
		}
	}
	return files
}

// fileContains reports whether a line of path contains pattern (and also,
// when set). A missing file never matches.
func fileContains(path, pattern, also string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(line, pattern) && (also == "" || strings.Contains(line, also)) {
			return true, nil
		}
	}
	return false, scanner.Err()
}

// SteadyState reports whether the Fluidity error logs in dir announce that a
// steady state was reached.
func SteadyState(dir string) bool {
	names, _ := localfs.Glob(dir, errLogGlob)
	for _, n := range names {
		if ok, _ := fileContains(filepath.Join(dir, n), "Steady state has been attained, exiting the timestep loop", ""); ok {
			return true
		}
	}
	return false
}
