package workspace

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rescale/simwatch/internal/control"
	"github.com/rescale/simwatch/internal/localfs"
)

// MarkFixed creates the fix marker in dir.
func (l Layout) MarkFixed(dir string) error {
	if !localfs.IsDir(l.JobDir(dir)) {
		return fmt.Errorf("%s is not a directory", l.JobDir(dir))
	}
	return os.WriteFile(filepath.Join(l.JobDir(dir), FixMarker), nil, 0644)
}

// TakeFixMarker reports whether the fix marker is present. When it is, the
// marker and the stale stdout/stderr of the crashed run are removed.
func (l Layout) TakeFixMarker(dir string) (bool, error) {
	jobDir := l.JobDir(dir)
	if !localfs.Exists(filepath.Join(jobDir, FixMarker)) {
		return false, nil
	}
	for _, n := range []string{FixMarker, "stdout", "stderr"} {
		if err := os.Remove(filepath.Join(jobDir, n)); err != nil && !os.IsNotExist(err) {
			return true, fmt.Errorf("failed to remove %s: %w", n, err)
		}
	}
	return true, nil
}

// ScriptControlFile returns the control file pbs.sh runs: the value of its
// PROJECT= line or, without one, the single line mentioning ".flml". The name
// is the last word after the last '=' on that line.
func (l Layout) ScriptControlFile(dir string) (string, error) {
	f, err := os.Open(filepath.Join(l.JobDir(dir), ScriptName))
	if err != nil {
		return "", err
	}
	defer f.Close()

	var hits []string
	project := ""
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "PROJECT=") {
			project = line
		}
		if strings.Contains(line, ".flml") {
			hits = append(hits, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}

	line := project
	if line == "" {
		if len(hits) != 1 {
			return "", fmt.Errorf("expected one control file reference in %s, found %d", ScriptName, len(hits))
		}
		line = hits[0]
	}
	if i := strings.LastIndex(line, "="); i >= 0 {
		line = line[i+1:]
	}
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", fmt.Errorf("empty control file reference in %s", ScriptName)
	}
	return fields[len(fields)-1], nil
}

// RemovePreviousOutputs deletes the output files of the run started by the
// control file pbs.sh refers to, i.e. every file starting with that run's
// simulation name.
func (l Layout) RemovePreviousOutputs(dir string) ([]string, error) {
	flml, err := l.ScriptControlFile(dir)
	if err != nil {
		return nil, err
	}
	simName, err := control.SimulationNameOf(filepath.Join(l.JobDir(dir), flml))
	if err != nil {
		return nil, err
	}
	if simName == "" {
		return nil, fmt.Errorf("control file %s has an empty simulation name", flml)
	}
	return localfs.RemoveMatching(l.JobDir(dir), simName+"*")
}
