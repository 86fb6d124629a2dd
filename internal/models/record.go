// Package models defines the data structures shared by the simwatch packages.
package models

import (
	"fmt"
	"strconv"
	"strings"
)

// NoJob is the sentinel used for job ids, queue states and walltimes that are not known.
const NoJob = "---"

// ClusterStatus is the scheduler state letter reported by qstat.
type ClusterStatus string

const (
	StatusQueued   ClusterStatus = "Q"
	StatusRunning  ClusterStatus = "R"
	StatusFinished ClusterStatus = "F"
	StatusError    ClusterStatus = "E"
	StatusHeld     ClusterStatus = "H"
	StatusUnknown  ClusterStatus = NoJob
	// StatusNone marks a record that has never been submitted.
	StatusNone ClusterStatus = ""
)

// ParseClusterStatus maps a qstat state column onto a ClusterStatus.
// Letters the controller does not track explicitly are kept verbatim.
func ParseClusterStatus(s string) ClusterStatus {
	return ClusterStatus(strings.TrimSpace(s))
}

// Resources is the resource request of a job's submission script.
type Resources struct {
	PBSWalltime  string // HH:MM:SS
	NMachines    int
	NCPUs        int
	Memory       string
	TotalNCPUs   int
	MPIProcs     int
	OMPThreads   int
	NNodesPerCPU int
	Infiniband   bool
	// Queue is empty when the script decides, NoJob when no queue is requested.
	Queue string
}

// DefaultResources returns the resource request used before pbs.sh is parsed.
func DefaultResources() Resources {
	return Resources{
		PBSWalltime:  "72:00:00",
		NMachines:    1,
		NCPUs:        1,
		Memory:       "NAN",
		TotalNCPUs:   1,
		MPIProcs:     1,
		OMPThreads:   1,
		NNodesPerCPU: 15000,
	}
}

// ClusterTarget identifies where a job runs.
type ClusterTarget struct {
	ClusterName        string
	ClusterDir         string
	ClusterFluidityDir string
	Username           string
}

// SimulationRecord is the persisted state of one job directory.
type SimulationRecord struct {
	Directory string
	SimName   string
	JobID     string
	Status    ClusterStatus
	Walltime  string
	SimTime   string

	Running  bool
	Crashed  bool
	Finished bool

	ErrorStatus Stage
	CleanExit   bool

	// DecompNCPUs is the core count the latest checkpoint was decomposed
	// for. It is set when the continuation script is written and cleared
	// once that run is submitted.
	DecompNCPUs int

	Resources
	ClusterTarget
}

// NewSimulationRecord returns a record for a directory that has never been submitted.
func NewSimulationRecord(directory string) *SimulationRecord {
	return &SimulationRecord{
		Directory: directory,
		JobID:     NoJob,
		Status:    StatusNone,
		Walltime:  NoJob,
		SimTime:   NoJob,
		Resources: DefaultResources(),
	}
}

// Clone returns a copy of the record.
func (r *SimulationRecord) Clone() *SimulationRecord {
	c := *r
	return &c
}

// HasJob reports whether the record refers to a scheduler job.
func (r *SimulationRecord) HasJob() bool {
	return r.JobID != "" && r.JobID != NoJob
}

// ClearJob forgets the scheduler job and sets the given queue state.
func (r *SimulationRecord) ClearJob(status ClusterStatus) {
	r.JobID = NoJob
	r.Status = status
}

// SimTimeValue returns the simulated time as a float, or false when unknown.
func (r *SimulationRecord) SimTimeValue() (float64, bool) {
	if r.SimTime == "" || r.SimTime == NoJob {
		return 0, false
	}
	v, err := strconv.ParseFloat(r.SimTime, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// SetSimTime stores a simulated time value.
func (r *SimulationRecord) SetSimTime(v float64) {
	r.SimTime = strconv.FormatFloat(v, 'g', -1, 64)
}

// WalltimeSeconds converts an "HH:MM" or "HH:MM:SS" duration to seconds.
func WalltimeSeconds(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid walltime %q", s)
	}
	mult := []int{3600, 60, 1}
	total := 0
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return 0, fmt.Errorf("invalid walltime %q: %w", s, err)
		}
		total += n * mult[i]
	}
	return total, nil
}
