// Package localfs provides the local filesystem operations shared by the
// result, inspection and workspace packages: shell-style globbing inside one
// directory, copies that keep timestamps, and best-effort removal.
package localfs

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Glob returns the names of entries in dir matching pattern, sorted. Entries
// whose name contains any of the exclude substrings are dropped. A missing
// directory yields no matches.
func Glob(dir, pattern string, exclude ...string) ([]string, error) {
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid pattern %q", pattern)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []string
	for _, e := range entries {
		name := e.Name()
		ok, _ := doublestar.Match(pattern, name)
		if !ok || containsAny(name, exclude) {
			continue
		}
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

// Exists reports whether path exists.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// IsDir reports whether path is a directory.
func IsDir(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.IsDir()
}

// RemoveMatching removes every entry of dir matching any of the patterns and
// returns the removed names. Directories are removed recursively.
func RemoveMatching(dir string, patterns ...string) ([]string, error) {
	var removed []string
	for _, p := range patterns {
		names, err := Glob(dir, p)
		if err != nil {
			return removed, err
		}
		for _, n := range names {
			if err := os.RemoveAll(filepath.Join(dir, n)); err != nil {
				return removed, fmt.Errorf("failed to remove %s: %w", n, err)
			}
			removed = append(removed, n)
		}
	}
	return removed, nil
}

// CopyFile copies src to dst and keeps the modification time of src.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}

// AppendFile appends the bytes of src to dst.
func AppendFile(dst, src string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to append %s to %s: %w", src, dst, err)
	}
	return out.Close()
}

// Move renames src to dst, replacing dst.
func Move(src, dst string) error {
	return os.Rename(src, dst)
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if sub != "" && strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
