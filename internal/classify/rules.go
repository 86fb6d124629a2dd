package classify

import (
	"regexp"
	"strings"
)

var (
	transientMarkers = []string{
		"Connection closed by",
		"Connection timed out",
		"lost connection",
		"Connection refused",
		"Connection reset",
	}
	sshCrucialMarkers = []string{
		"ssh_exchange_identification",
		"Name or service not known",
		"Permission denied",
	}
	syncCrucialMarkers = []string{
		"Name or service not known",
		"Permission denied",
	}
	quotaMarker       = "Disk quota exceeded"
	queueDeniedMarker = "qsub: Access to queue is denied"

	qstatHeaderColumns = []string{"Username", "Queue", "Jobname", "SessID", "NDS", "TSK", "Memory", "Time", "S"}

	jobIDPattern = regexp.MustCompile(`^\d+(\.\S+)?$`)
)

func firstMarker(out string, markers []string) (string, bool) {
	for _, m := range markers {
		if strings.Contains(out, m) {
			return m, true
		}
	}
	return "", false
}

// IsQuota reports whether out mentions an exceeded disk quota.
func IsQuota(out string) bool {
	return strings.Contains(out, quotaMarker)
}

// SSH classifies the output of an ssh command.
func SSH(out string) Outcome {
	if m, ok := firstMarker(out, transientMarkers); ok {
		return Transient("ssh connection not established: " + m).WithOutput(out)
	}
	if m, ok := firstMarker(out, sshCrucialMarkers); ok {
		return Crucial("ssh setup is wrong: " + m).WithOutput(out)
	}
	return Ok("").WithOutput(out)
}

// SSHCommand classifies an ssh command that should print nothing on success,
// such as a remote rm or cp.
func SSHCommand(out string) Outcome {
	if IsQuota(out) {
		return Quota("disk quota exceeded on cluster").WithOutput(out)
	}
	if o := SSH(out); !o.IsOk() {
		return o
	}
	for _, m := range []string{"No such file or directory", "cannot remove", "Cannot open"} {
		if strings.Contains(out, m) {
			return Transient("remote command failed: " + m).WithOutput(out)
		}
	}
	return Ok("").WithOutput(out)
}

// Sync classifies rsync output. rsync runs quiet, so any output other than
// an empty string is a failure.
func Sync(out string) Outcome {
	if IsQuota(out) {
		return Quota("disk quota exceeded on cluster").WithOutput(out)
	}
	if m, ok := firstMarker(out, transientMarkers); ok {
		return Transient("connection not established: " + m).WithOutput(out)
	}
	if m, ok := firstMarker(out, syncCrucialMarkers); ok {
		return Crucial("sync setup is wrong: " + m).WithOutput(out)
	}
	if strings.TrimSpace(out) != "" {
		return Transient("unexpected rsync output").WithOutput(out)
	}
	return Ok("").WithOutput(out)
}

// Qstat validates the output of "qstat -a". Clusters whose qstat only lists
// the caller's own jobs may legitimately print nothing and skip the header check.
func Qstat(out string, headerOptional bool) Outcome {
	if o := SSH(out); !o.IsOk() {
		return o
	}
	if headerOptional {
		return Ok("").WithOutput(out)
	}
	for _, line := range strings.Split(out, "\n") {
		if !strings.HasPrefix(line, "Job ID") {
			continue
		}
		for _, col := range qstatHeaderColumns {
			if !strings.Contains(line, col) {
				return Transient("qstat header is missing column " + col).WithOutput(out)
			}
		}
		return Ok("").WithOutput(out)
	}
	return Transient("qstat output has no header").WithOutput(out)
}

// Qsub classifies the output of "qsub pbs.sh". On success the reason is empty
// and the job id is the trimmed output.
func Qsub(out string) Outcome {
	trimmed := strings.TrimSpace(out)
	if strings.Contains(trimmed, queueDeniedMarker) {
		return Domain("access to queue is denied").WithOutput(out)
	}
	if IsQuota(out) {
		return Quota("disk quota exceeded on cluster").WithOutput(out)
	}
	if o := SSH(out); !o.IsOk() {
		return o
	}
	if trimmed == "" {
		return Transient("qsub returned no job id").WithOutput(out)
	}
	if strings.Contains(trimmed, "No such file or directory") || !jobIDPattern.MatchString(trimmed) {
		return Transient("qsub returned unexpected output").WithOutput(out)
	}
	return Ok("").WithOutput(trimmed)
}
