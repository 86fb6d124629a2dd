// Package pbs parses and rewrites PBS submission scripts (pbs.sh).
package pbs

import (
	"errors"
	"fmt"
	"strings"
)

// Flavor is the family of cluster a script targets. The flavor decides which
// resource directives a script uses and how many machines may be requested.
type Flavor int

const (
	FlavorCX1 Flavor = iota
	FlavorCX2
	FlavorHector
)

// ErrUnknownCluster is returned when a cluster address matches no flavor.
var ErrUnknownCluster = errors.New("unknown cluster")

// DetectFlavor derives the flavor from a cluster address such as cx1.hpc.ic.ac.uk.
func DetectFlavor(clusterName string) (Flavor, error) {
	name := strings.ToLower(clusterName)
	switch {
	case strings.Contains(name, "cx1"):
		return FlavorCX1, nil
	case strings.Contains(name, "cx2"):
		return FlavorCX2, nil
	case strings.Contains(name, "hector"):
		return FlavorHector, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownCluster, clusterName)
}

// ICT reports whether the flavor uses "#PBS -l select" lines.
func (f Flavor) ICT() bool {
	return f == FlavorCX1 || f == FlavorCX2
}

// MaxMachines is the largest machine count a job may request.
func (f Flavor) MaxMachines() int {
	switch f {
	case FlavorCX1:
		return 6
	case FlavorCX2:
		return 72
	}
	return 1024
}

// QstatHeaderOptional reports whether "qstat -a" on this flavor may print
// nothing at all. cx1 only lists the caller's own jobs.
func (f Flavor) QstatHeaderOptional() bool {
	return f == FlavorCX1
}

func (f Flavor) String() string {
	switch f {
	case FlavorCX1:
		return "cx1"
	case FlavorCX2:
		return "cx2"
	case FlavorHector:
		return "hector"
	}
	return fmt.Sprintf("flavor(%d)", int(f))
}
