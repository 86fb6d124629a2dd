package results

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/rescale/simwatch/internal/localfs"
)

// statHeaderLines bounds how far into a stat file the header is searched.
const statHeaderLines = 50

var fieldColumn = regexp.MustCompile(`<field column="(\d+)"`)

// LastLine returns the last non-empty line of path.
func LastLine(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	last := ""
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		if l := strings.TrimSpace(scanner.Text()); l != "" {
			last = l
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	if last == "" {
		return "", fmt.Errorf("%s is empty", path)
	}
	return last, nil
}

// LastTime reads the simulated time (first column) of the last row of a stat file.
func LastTime(path string) (float64, error) {
	line, err := LastLine(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(strings.Fields(line)[0], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid time in %s: %w", path, err)
	}
	return v, nil
}

// MeshNodes returns the node count of the coordinate mesh in the last row of
// a stat file.
func MeshNodes(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	col := 0
	scanner := bufio.NewScanner(f)
	for i := 0; i < statHeaderLines && scanner.Scan(); i++ {
		line := scanner.Text()
		if !strings.Contains(line, "CoordinateMesh") || !strings.Contains(line, "nodes") {
			continue
		}
		if m := fieldColumn.FindStringSubmatch(line); m != nil {
			col, _ = strconv.Atoi(m[1])
		}
		break
	}
	f.Close()
	if col < 1 {
		return 0, fmt.Errorf("no CoordinateMesh nodes column in %s", path)
	}

	last, err := LastLine(path)
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(last)
	if col > len(fields) {
		return 0, fmt.Errorf("last row of %s has %d columns, need %d", path, len(fields), col)
	}
	v, err := strconv.ParseFloat(fields[col-1], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid node count in %s: %w", path, err)
	}
	return int(v + 0.5), nil
}

// FindStatFile returns the cumulative stat file of dir, ignoring the series
// of automatic checkpoint runs.
func FindStatFile(dir string) (string, bool) {
	names, err := localfs.Glob(dir, "*.stat", "autocheckp")
	if err != nil || len(names) == 0 {
		return "", false
	}
	return filepath.Join(dir, names[0]), true
}

// TargetCores estimates the core count for the current mesh size, using
// nodesPerCPU mesh nodes per core. It returns 0 when no stat file is available.
func TargetCores(dir string, nodesPerCPU int) int {
	path, ok := FindStatFile(dir)
	if !ok || nodesPerCPU <= 0 {
		return 0
	}
	nodes, err := MeshNodes(path)
	if err != nil {
		return 0
	}
	return int(float64(nodes)/float64(nodesPerCPU) + 0.5)
}
