package remote

import (
	"strings"

	"github.com/rescale/simwatch/internal/models"
)

// QueueEntry is a job row of "qstat -a".
type QueueEntry struct {
	JobID    string
	User     string
	Status   models.ClusterStatus
	Walltime string
}

const (
	colJobID    = 0
	colUser     = 1
	colStatus   = 9
	colWalltime = 10
)

// ParseQstat returns the job rows of raw that belong to user.
func ParseQstat(raw, user string) []QueueEntry {
	var entries []QueueEntry
	for _, line := range strings.Split(raw, "\n") {
		fields := strings.Fields(line)
		if len(fields) <= colWalltime || fields[colUser] != user {
			continue
		}
		wt := fields[colWalltime]
		if wt == "--" {
			wt = "00:00"
		}
		entries = append(entries, QueueEntry{
			JobID:    fields[colJobID],
			User:     fields[colUser],
			Status:   models.ParseClusterStatus(fields[colStatus]),
			Walltime: wt,
		})
	}
	return entries
}

// FindJob looks up jobID among the rows of raw that belong to user. qstat
// truncates long ids, so ids are compared by their numeric part.
func FindJob(raw, user, jobID string) (QueueEntry, bool) {
	want := jobNumber(jobID)
	if want == "" || jobID == models.NoJob {
		return QueueEntry{}, false
	}
	for _, e := range ParseQstat(raw, user) {
		if jobNumber(e.JobID) == want {
			return e, true
		}
	}
	return QueueEntry{}, false
}

func jobNumber(id string) string {
	return strings.SplitN(strings.TrimSpace(id), ".", 2)[0]
}
