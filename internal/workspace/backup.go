package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rescale/simwatch/internal/localfs"
)

var seriesExts = []string{".stat", ".detectors", ".detectors.dat"}

// CleanAndBackup tidies dir once its restart archive exists: stale
// checkpoints go, the archive replaces bkup/most_recent_checkpoint.tar.gz
// (the old one becomes previous_checkpoint.tar.gz), and the result series
// are copied into bkup/ with an index per continuation run. It keeps going
// after individual failures and returns them joined.
func (l Layout) CleanAndBackup(dir, simName, archive string) error {
	jobDir := l.JobDir(dir)
	bkup := l.BackupDir(dir)
	var errs []error

	if err := os.MkdirAll(bkup, 0755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}

	if _, err := localfs.RemoveMatching(jobDir, "*_checkpoint*"); err != nil {
		errs = append(errs, err)
	}

	recent := filepath.Join(bkup, mostRecentArchive)
	if localfs.Exists(recent) {
		if err := localfs.Move(recent, filepath.Join(bkup, previousArchive)); err != nil {
			errs = append(errs, err)
		}
	}
	if archive != "" && localfs.Exists(archive) {
		if err := localfs.Move(archive, recent); err != nil {
			errs = append(errs, fmt.Errorf("failed to move archive into backup: %w", err))
		}
	}

	if stats, _ := localfs.Glob(jobDir, "*.stat"); len(stats) > 0 {
		errs = append(errs, l.snapshotSeries(dir, simName)...)
	}

	if _, err := localfs.RemoveMatching(jobDir, "*autocheckp.stat", "*autocheckp.detectors*", "fluidity.*"); err != nil {
		errs = append(errs, err)
	}

	for _, pattern := range []string{"*stat", "*detectors*"} {
		names, _ := localfs.Glob(jobDir, pattern)
		for _, n := range names {
			if localfs.IsDir(filepath.Join(jobDir, n)) {
				continue
			}
			if err := localfs.CopyFile(filepath.Join(jobDir, n), filepath.Join(bkup, n)); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// snapshotSeries copies the merged series to bkup/ and keeps an indexed copy
// of the series of the run that just finished.
func (l Layout) snapshotSeries(dir, simName string) []error {
	jobDir := l.JobDir(dir)
	bkup := l.BackupDir(dir)
	base := strings.SplitN(simName, "_autocheckp", 2)[0]

	var errs []error
	copyIfPresent := func(src, dst string) {
		if !localfs.Exists(src) {
			return
		}
		if err := localfs.CopyFile(src, dst); err != nil {
			errs = append(errs, err)
		}
	}

	for _, ext := range seriesExts {
		copyIfPresent(filepath.Join(jobDir, base+ext), filepath.Join(bkup, base+ext))
	}

	stats, _ := localfs.Glob(bkup, "*.stat")
	index := len(stats) - 1
	src := simName
	if index <= 0 {
		index = 0
		src = base
	}
	for _, ext := range seriesExts {
		copyIfPresent(filepath.Join(jobDir, src+ext), filepath.Join(bkup, fmt.Sprintf("%s_%d%s", simName, index, ext)))
	}
	return errs
}
