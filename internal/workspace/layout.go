// Package workspace owns the local side of a monitored run: the layout of
// the working directory, the file sets exchanged with the cluster, the
// restart archive and the bkup/ history of every job directory.
package workspace

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	// LogDirName holds status files, per-directory logs and the status table.
	LogDirName = "logfiles"
	// BackupDirName is created inside every job directory.
	BackupDirName = "bkup"
	// ScriptName is the submission script every job directory must contain.
	ScriptName = "pbs.sh"
	// FixMarker is created by the user once a crashed run has been repaired.
	FixMarker = "is_fixed"
	// StatusTableName is written to the log directory after every pass.
	StatusTableName = "status_table.txt"

	mostRecentArchive = "most_recent_checkpoint.tar.gz"
	previousArchive   = "previous_checkpoint.tar.gz"
)

// Layout resolves paths below the working directory.
type Layout struct {
	Root string
}

// NewLayout returns the layout rooted at root.
func NewLayout(root string) Layout {
	return Layout{Root: root}
}

// JobDir returns the path of a job directory.
func (l Layout) JobDir(dir string) string {
	return filepath.Join(l.Root, dir)
}

// LogDir returns the log directory.
func (l Layout) LogDir() string {
	return filepath.Join(l.Root, LogDirName)
}

// BackupDir returns the bkup/ directory of a job.
func (l Layout) BackupDir(dir string) string {
	return filepath.Join(l.Root, dir, BackupDirName)
}

// ArchivePath returns where the restart archive of dir is written.
func (l Layout) ArchivePath(dir string) string {
	return filepath.Join(l.Root, dir+".tar.gz")
}

// RecentArchivePath returns the backup copy of the latest restart archive.
func (l Layout) RecentArchivePath(dir string) string {
	return filepath.Join(l.BackupDir(dir), mostRecentArchive)
}

// StatusTablePath returns the path of the status table.
func (l Layout) StatusTablePath() string {
	return filepath.Join(l.LogDir(), StatusTableName)
}

// Discover lists the job directories below the root: directories whose name
// starts with basename ("*" or "" match all) and that contain a pbs.sh.
func (l Layout) Discover(basename string) ([]string, error) {
	entries, err := os.ReadDir(l.Root)
	if err != nil {
		return nil, err
	}
	if basename == "*" {
		basename = ""
	}

	var dirs []string
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() || name == LogDirName || strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") {
			continue
		}
		if !strings.HasPrefix(name, basename) {
			continue
		}
		if _, err := os.Stat(filepath.Join(l.Root, name, ScriptName)); err != nil {
			continue
		}
		dirs = append(dirs, name)
	}
	sort.Strings(dirs)
	return dirs, nil
}

// Prepare creates the log directory and a bkup/ directory in every job directory.
func (l Layout) Prepare(dirs []string) error {
	if err := os.MkdirAll(l.LogDir(), 0755); err != nil {
		return err
	}
	for _, d := range dirs {
		if err := os.MkdirAll(l.BackupDir(d), 0755); err != nil {
			return err
		}
	}
	return nil
}
