// Package results merges the result series of continuation runs into one
// timeline and renumbers dumps written after an automatic checkpoint.
package results

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rescale/simwatch/internal/localfs"
)

// Series extensions, matched as suffixes.
var seriesExtensions = []string{"stat", "detectors", "detectors.dat"}

// ErrTooManySeries is returned when more than two files share an extension.
var ErrTooManySeries = errors.New("more than two result files with the same extension")

// AppendSeries appends the series written by simName to the series of the
// earlier run. For each extension present, exactly two files are expected:
// <simName>.<ext> and the cumulative file. A single file means nothing to
// merge. Text series drop their header lines (lines containing '<'); binary
// detector series are concatenated byte for byte.
func AppendSeries(dir, simName string) error {
	for _, ext := range seriesExtensions {
		files, err := localfs.Glob(dir, "*"+ext)
		if err != nil {
			return err
		}
		if len(files) <= 1 {
			continue
		}
		if len(files) > 2 {
			return fmt.Errorf("%w: %s", ErrTooManySeries, strings.Join(files, ", "))
		}

		newName := simName + "." + ext
		oldName := ""
		for _, f := range files {
			if f != newName {
				oldName = f
			}
		}
		if oldName == "" || !localfs.Exists(filepath.Join(dir, newName)) {
			return fmt.Errorf("cannot pair %s with an earlier series in %v", newName, files)
		}

		newPath := filepath.Join(dir, newName)
		oldPath := filepath.Join(dir, oldName)
		if ext == "detectors.dat" {
			err = localfs.AppendFile(oldPath, newPath)
		} else {
			err = appendData(oldPath, newPath)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func appendData(oldPath, newPath string) error {
	in, err := os.Open(newPath)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(oldPath, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(out)

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(line, "<") {
			continue
		}
		if _, err := w.WriteString(line + "\n"); err != nil {
			out.Close()
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		out.Close()
		return fmt.Errorf("failed to read %s: %w", newPath, err)
	}
	if err := w.Flush(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
