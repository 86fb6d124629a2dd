// Package state persists one SimulationRecord per job directory.
//
// Each record lives in logfiles/dict_status_<directory> as a flat list of
// "key: value" lines. The first line is always the directory, the remaining
// keys are written in sorted order so files diff cleanly between passes.
package state

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rescale/simwatch/internal/models"
)

// StatusFilePrefix is the file name prefix of persisted records.
const StatusFilePrefix = "dict_status_"

// ErrNotFound is returned by Load when no record has been saved for a directory.
var ErrNotFound = errors.New("status record not found")

// Store reads and writes status files under a log directory.
type Store struct {
	logDir string
}

// NewStore creates a store rooted at logDir, creating it if needed.
func NewStore(logDir string) (*Store, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	return &Store{logDir: logDir}, nil
}

// Dir returns the log directory.
func (s *Store) Dir() string {
	return s.logDir
}

// Path returns the status file path for a directory.
func (s *Store) Path(directory string) string {
	return filepath.Join(s.logDir, StatusFilePrefix+directory)
}

// Exists reports whether a record has been saved for directory.
func (s *Store) Exists(directory string) bool {
	_, err := os.Stat(s.Path(directory))
	return err == nil
}

// Load reads the record of directory.
func (s *Store) Load(directory string) (*models.SimulationRecord, error) {
	data, err := os.ReadFile(s.Path(directory))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read status file: %w", err)
	}
	rec, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse status file for %s: %w", directory, err)
	}
	if rec.Directory == "" {
		rec.Directory = directory
	}
	if rec.Directory != directory {
		return nil, fmt.Errorf("status file for %s names directory %s", directory, rec.Directory)
	}
	return rec, nil
}

// LoadAll loads every directory that has a saved record. Directories without
// one are omitted from the result.
func (s *Store) LoadAll(directories []string) (map[string]*models.SimulationRecord, error) {
	out := make(map[string]*models.SimulationRecord, len(directories))
	for _, d := range directories {
		rec, err := s.Load(d)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[d] = rec
	}
	return out, nil
}

// Save writes rec atomically: the new content is written to a temp file in the
// same directory, synced, then renamed over the old file.
func (s *Store) Save(rec *models.SimulationRecord) error {
	if rec.Directory == "" {
		return fmt.Errorf("cannot save record without directory")
	}
	path := s.Path(rec.Directory)
	tmp, err := os.CreateTemp(s.logDir, "."+StatusFilePrefix+rec.Directory+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp status file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(Encode(rec)); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write status file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync status file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close status file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to rename status file: %w", err)
	}
	return nil
}

// Encode renders rec in the status file format.
func Encode(rec *models.SimulationRecord) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "directory: %s\n", rec.Directory)
	for _, f := range schema {
		fmt.Fprintf(&buf, "%s: %s\n", f.key, f.get(rec))
	}
	return buf.Bytes()
}

// Decode parses the status file format. Unknown keys are ignored; keys that
// are missing keep the defaults of models.NewSimulationRecord.
func Decode(data []byte) (*models.SimulationRecord, error) {
	rec := models.NewSimulationRecord("")
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(bytes.NewReader(data))
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("line %d: missing ':' in %q", lineNum, line)
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "directory" {
			rec.Directory = value
			continue
		}
		f, known := schemaByKey[key]
		if !known {
			continue
		}
		if err := f.set(rec, value); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}
		seen[key] = true
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if !seen["mpiprocs"] {
		rec.MPIProcs = rec.NCPUs
	}
	if !seen["ompthreads"] {
		rec.OMPThreads = 1
	}
	return rec, nil
}

// Keys returns the persisted keys in file order.
func Keys() []string {
	keys := []string{"directory"}
	for _, f := range schema {
		keys = append(keys, f.key)
	}
	return keys
}

func init() {
	if !sort.SliceIsSorted(schema, func(i, j int) bool { return schema[i].key < schema[j].key }) {
		panic("state: schema keys must be sorted")
	}
}
