package workspace

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
)

// Archive packs what is needed to restart dir into its restart archive and
// returns the archive path. A run that has not started yet (currentTime 0)
// is archived whole; a continuation keeps the latest checkpoint, pbs.sh and
// the Makefile. bkup/ is never archived. Entries are prefixed with dir.
func (l Layout) Archive(dir, flml string, currentTime float64) (string, error) {
	var selectors []string
	switch {
	case currentTime == 0:
		selectors = []string{"*"}
	case currentTime > 0:
		c, err := ParseCheckpoint(flml)
		if err != nil {
			return "", err
		}
		selectors = []string{c.Glob(), ScriptName, "Makefile"}
	default:
		return "", fmt.Errorf("control file %s has a negative current_time", flml)
	}

	out := l.ArchivePath(dir)
	if err := writeArchive(l.JobDir(dir), out, selectors); err != nil {
		return "", err
	}
	return out, nil
}

// writeArchive writes a gzipped tarball of the top-level entries of
// sourceDir that match any selector. Directories are added recursively.
func writeArchive(sourceDir, outputPath string, selectors []string) (err error) {
	info, err := os.Stat(sourceDir)
	if err != nil {
		return fmt.Errorf("source directory does not exist: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("source path is not a directory: %s", sourceDir)
	}

	entries, err := os.ReadDir(sourceDir)
	if err != nil {
		return err
	}

	outFile, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}
	defer func() {
		if cerr := outFile.Close(); err == nil && cerr != nil {
			err = cerr
		}
		if err != nil {
			os.Remove(outputPath)
		}
	}()

	gzWriter := gzip.NewWriter(outFile)
	tarWriter := tar.NewWriter(gzWriter)
	dirName := filepath.Base(sourceDir)

	for _, e := range entries {
		name := e.Name()
		if name == BackupDirName || !matchAny(selectors, name) {
			continue
		}
		if err := addTree(tarWriter, sourceDir, dirName, name); err != nil {
			return fmt.Errorf("failed to archive %s: %w", name, err)
		}
	}

	if err := tarWriter.Close(); err != nil {
		return err
	}
	return gzWriter.Close()
}

func addTree(tw *tar.Writer, sourceDir, prefix, name string) error {
	root := filepath.Join(sourceDir, name)
	return filepath.Walk(root, func(filePath string, fileInfo os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		relPath, err := filepath.Rel(sourceDir, filePath)
		if err != nil {
			return fmt.Errorf("failed to get relative path: %w", err)
		}

		header, err := tar.FileInfoHeader(fileInfo, "")
		if err != nil {
			return fmt.Errorf("failed to create tar header: %w", err)
		}
		header.Name = filepath.ToSlash(filepath.Join(prefix, relPath))
		if err := tw.WriteHeader(header); err != nil {
			return fmt.Errorf("failed to write tar header: %w", err)
		}
		if !fileInfo.Mode().IsRegular() {
			return nil
		}

		file, err := os.Open(filePath)
		if err != nil {
			return fmt.Errorf("failed to open file: %w", err)
		}
		defer file.Close()
		if _, err := io.Copy(tw, file); err != nil {
			return fmt.Errorf("failed to write file contents: %w", err)
		}
		return nil
	})
}

func matchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, name); ok {
			return true
		}
	}
	return false
}
