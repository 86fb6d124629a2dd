// Package control reads and rewrites Fluidity control files (.flml).
//
// Options are addressed by slash separated element paths relative to the
// document root, for example "timestepping/current_time". A leading slash is
// accepted. Scalar options keep their value in a string_value, real_value or
// integer_value child element.
package control

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/beevik/etree"
)

// Option paths used by the controller.
const (
	OptSimulationName       = "simulation_name"
	OptCurrentTime          = "timestepping/current_time"
	OptFinishTime           = "timestepping/finish_time"
	OptWallTimeLimit        = "timestepping/wall_time_limit"
	OptFinalTimestep        = "timestepping/final_timestep"
	OptFSIModel             = "embedded_models/fsi_model"
	OptAdaptAtFirstTimestep = "mesh_adaptivity/hr_adaptivity/adapt_at_first_timestep"
)

// ErrOptionNotFound is returned when an option path does not exist.
var ErrOptionNotFound = errors.New("option not found")

var valueTags = []string{"string_value", "real_value", "integer_value"}

// File is a loaded control file.
type File struct {
	path string
	doc  *etree.Document
}

// Open loads the control file at path.
func Open(path string) (*File, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromFile(path); err != nil {
		return nil, fmt.Errorf("failed to load control file %s: %w", path, err)
	}
	if doc.Root() == nil {
		return nil, fmt.Errorf("control file %s has no root element", path)
	}
	return &File{path: path, doc: doc}, nil
}

// Path returns the file path.
func (f *File) Path() string {
	return f.path
}

func (f *File) find(option string) *etree.Element {
	option = strings.Trim(option, "/")
	if option == "" {
		return nil
	}
	el := f.doc.Root()
	for _, part := range strings.Split(option, "/") {
		el = el.SelectElement(part)
		if el == nil {
			return nil
		}
	}
	return el
}

func valueElement(el *etree.Element) *etree.Element {
	for _, tag := range valueTags {
		if v := el.SelectElement(tag); v != nil {
			return v
		}
	}
	return nil
}

// Has reports whether option exists.
func (f *File) Has(option string) bool {
	return f.find(option) != nil
}

// Get returns the scalar value of option. Options without a value child, such
// as flags, return an empty string.
func (f *File) Get(option string) (string, error) {
	el := f.find(option)
	if el == nil {
		return "", fmt.Errorf("%s in %s: %w", option, f.path, ErrOptionNotFound)
	}
	v := valueElement(el)
	if v == nil {
		return "", nil
	}
	return strings.TrimSpace(v.Text()), nil
}

// GetFloat returns option parsed as a float.
func (f *File) GetFloat(option string) (float64, error) {
	s, err := f.Get(option)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%s in %s is not a number: %w", option, f.path, err)
	}
	return v, nil
}

// Set replaces the value of an existing scalar option.
func (f *File) Set(option, value string) error {
	el := f.find(option)
	if el == nil {
		return fmt.Errorf("%s in %s: %w", option, f.path, ErrOptionNotFound)
	}
	v := valueElement(el)
	if v == nil {
		return fmt.Errorf("%s in %s has no value to set", option, f.path)
	}
	v.SetText(value)
	return nil
}

// Delete removes option. Deleting a missing option is a no-op that returns false.
func (f *File) Delete(option string) bool {
	el := f.find(option)
	if el == nil {
		return false
	}
	parent := el.Parent()
	if parent == nil {
		return false
	}
	parent.RemoveChild(el)
	return true
}

// Save writes the document back to its path.
func (f *File) Save() error {
	if err := f.doc.WriteToFile(f.path); err != nil {
		return fmt.Errorf("failed to write control file %s: %w", f.path, err)
	}
	return nil
}

// SimulationName returns the simulation_name option.
func (f *File) SimulationName() (string, error) {
	return f.Get(OptSimulationName)
}

// CurrentTime returns timestepping/current_time.
func (f *File) CurrentTime() (float64, error) {
	return f.GetFloat(OptCurrentTime)
}

// FinishTime returns timestepping/finish_time.
func (f *File) FinishTime() (float64, error) {
	return f.GetFloat(OptFinishTime)
}

// WallTimeLimit returns timestepping/wall_time_limit in seconds and whether it is set.
func (f *File) WallTimeLimit() (float64, bool, error) {
	if !f.Has(OptWallTimeLimit) {
		return 0, false, nil
	}
	v, err := f.GetFloat(OptWallTimeLimit)
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

// HasFSIModel reports whether the run couples a solid model.
func (f *File) HasFSIModel() bool {
	return f.Has(OptFSIModel)
}

// FindLatest returns the name of the .flml file in dir with the largest
// current time. Files that cannot be read are skipped.
func FindLatest(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.flml"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("could not find flml files in directory %s", dir)
	}

	best := ""
	bestTime := -1.0
	for _, m := range matches {
		f, err := Open(m)
		if err != nil {
			continue
		}
		t, err := f.CurrentTime()
		if err != nil {
			continue
		}
		if t > bestTime {
			bestTime = t
			best = filepath.Base(m)
		}
	}
	if best == "" {
		return "", fmt.Errorf("no readable flml file in directory %s", dir)
	}
	return best, nil
}

// SimulationNameOf opens path and returns its simulation name.
func SimulationNameOf(path string) (string, error) {
	f, err := Open(path)
	if err != nil {
		return "", err
	}
	return f.SimulationName()
}

// Exists reports whether path names a regular file.
func Exists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.Mode().IsRegular()
}
