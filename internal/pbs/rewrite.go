package pbs

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rescale/simwatch/internal/models"
)

// ErrTooManyMachines is returned when a resubmission would need more machines
// than the cluster allows and the cluster treats that as an error.
var ErrTooManyMachines = errors.New("requested machine count exceeds cluster limit")

const (
	cpFluidity   = "cp $FLUIDITY_DIR/bin/fluidity"
	cpFlredecomp = "cp $FLUIDITY_DIR/bin/flredecomp $PBS_O_WORKDIR/"
)

// RewriteOptions describes a continuation run.
type RewriteOptions struct {
	Flavor Flavor
	// Flml is the control file the next run starts from.
	Flml string
	// FluidityDir is exported as FLUIDITY_DIR.
	FluidityDir string
	// TargetTotalNCPUs is the core count the mesh asks for. Zero keeps the
	// current total.
	TargetTotalNCPUs int
}

// Sizing is the resource request of the rewritten script.
type Sizing struct {
	NMachines     int
	NCPUs         int
	Memory        string
	Infiniband    bool
	Queue         string
	TotalNCPUs    int
	NewNMachines  int
	NewTotalNCPUs int
}

// Grows reports whether the continuation run uses more cores than the last one.
func (z Sizing) Grows() bool {
	return z.NewTotalNCPUs > z.TotalNCPUs
}

// ApplyTo stores the new request on rec. The first call after a submission
// also records the core count the checkpoint was decomposed for.
func (z Sizing) ApplyTo(rec *models.SimulationRecord) {
	if rec.DecompNCPUs == 0 {
		rec.DecompNCPUs = z.TotalNCPUs
	}
	rec.NMachines = z.NewNMachines
	rec.NCPUs = z.NCPUs
	rec.Memory = z.Memory
	rec.Infiniband = z.Infiniband
	rec.TotalNCPUs = z.NewTotalNCPUs
	rec.Queue = z.Queue
}

// ComputeSizing derives the continuation request from the current script,
// the record and the target core count. The machine count never shrinks and
// is capped at the flavor's limit.
func ComputeSizing(cur *Script, rec *models.SimulationRecord, opts RewriteOptions) (Sizing, error) {
	z := Sizing{
		NMachines:  cur.NMachines,
		NCPUs:      cur.NCPUs,
		Memory:     cur.Memory,
		Infiniband: cur.Infiniband || rec.Infiniband,
		Queue:      rec.Queue,
	}
	if rec.NMachines > 0 && opts.Flavor.ICT() {
		z.NMachines = rec.NMachines
	}
	if rec.NCPUs > 0 {
		z.NCPUs = rec.NCPUs
	}
	if m := rec.Memory; m != "" && m != "NAN" && m != models.NoJob {
		z.Memory = m
	}
	if z.Memory == "" {
		z.Memory = "NAN"
	}
	if z.Queue == "" && cur.HasQueue {
		z.Queue = cur.Queue
	}
	if z.NCPUs <= 0 {
		return z, fmt.Errorf("script has no usable core count")
	}

	perNode := z.NCPUs
	if opts.Flavor == FlavorCX2 && rec.MPIProcs > 0 {
		perNode = rec.MPIProcs
	}
	switch opts.Flavor {
	case FlavorHector:
		z.TotalNCPUs = cur.TotalNCPUs
		z.NMachines = roundDiv(z.TotalNCPUs, z.NCPUs)
	default:
		z.TotalNCPUs = z.NMachines * perNode
	}
	// A resumed rewrite starts from the decomposition of the checkpoint, not
	// from the request stored by the interrupted attempt.
	if rec.DecompNCPUs > 0 {
		z.TotalNCPUs = rec.DecompNCPUs
		z.NMachines = max(roundDiv(rec.DecompNCPUs, perNode), 1)
	}

	target := opts.TargetTotalNCPUs
	if target <= 0 || rec.TotalNCPUs == 1 {
		target = z.TotalNCPUs
	}

	newNM := roundDiv(target, z.NCPUs)
	if limit := opts.Flavor.MaxMachines(); newNM > limit {
		if opts.Flavor == FlavorHector {
			return z, fmt.Errorf("%w: %d machines on %s", ErrTooManyMachines, newNM, opts.Flavor)
		}
		newNM = limit
	}
	if newNM == 0 {
		newNM = 1
	}
	if newNM < z.NMachines {
		newNM = z.NMachines
	}
	z.NewNMachines = newNM
	z.NewTotalNCPUs = newNM * perNode
	return z, nil
}

// Rewrite returns the lines of a continuation script. It points PROJECT at
// the new control file, exports FLUIDITY_DIR, resets walltime, queue and
// resource directives, and inserts a flredecomp step before the run line
// when the core count grows.
func Rewrite(lines []string, rec *models.SimulationRecord, z Sizing, opts RewriteOptions) []string {
	out := make([]string, 0, len(lines)+2)
	queueFound := false
	flavor := opts.Flavor

	for _, raw := range lines {
		line := strings.TrimSpace(raw)

		switch {
		case strings.Contains(line, "PROJECT="):
			out = append(out, "PROJECT="+opts.Flml)
		case strings.Contains(line, "FLUIDITY_DIR=") && opts.FluidityDir != "":
			out = append(out, "export FLUIDITY_DIR="+opts.FluidityDir)
		case strings.Contains(line, "#PBS -l walltime="):
			out = append(out, "#PBS -l walltime="+rec.PBSWalltime)
		case flavor.ICT() && strings.HasPrefix(line, "#PBS -q"):
			queueFound = true
			if q := z.Queue; q != "" && q != models.NoJob {
				out = append(out, "#PBS -q "+q)
			}
		case flavor.ICT() && strings.Contains(line, "#PBS -l select") && strings.Contains(line, "ncpus"):
			out = append(out, selectLine(flavor, rec, z))
		case flavor == FlavorHector && strings.Contains(line, "#PBS -l mppwidth"):
			out = append(out, "#PBS -l mppwidth="+strconv.Itoa(z.NewTotalNCPUs))
		case flavor == FlavorHector && strings.Contains(line, "#PBS -l mppnppn"):
			out = append(out, "#PBS -l mppnppn="+strconv.Itoa(z.NCPUs))
		case strings.Contains(line, cpFlredecomp):
			// re-added below the fluidity copy when needed
		case strings.Contains(line, cpFluidity):
			out = append(out, line)
			if z.NewNMachines > z.NMachines {
				out = append(out, cpFlredecomp)
			}
		case isLauncher(line) && strings.Contains(line, "flredecomp"):
			// stale redecomposition from an earlier cycle
		case isLauncher(line) && strings.Contains(line, "fluidity") && !strings.HasPrefix(line, "#"):
			if z.Grows() {
				out = append(out, redecompLine(flavor, z, opts.Flml))
			}
			if flavor == FlavorHector && z.Grows() {
				line = hectorRunLine(line, z)
			}
			out = append(out, line)
		default:
			out = append(out, line)
		}
	}

	if !queueFound && flavor == FlavorCX1 {
		if q := z.Queue; q != "" && q != models.NoJob {
			for i, l := range out {
				if strings.Contains(l, "#PBS -l walltime=") {
					out = append(out[:i+1], append([]string{"#PBS -q " + q}, out[i+1:]...)...)
					break
				}
			}
		}
	}
	return out
}

// RewriteFile parses, resizes and rewrites the script at path in place. The
// returned sizing should be stored on the record.
func RewriteFile(path string, rec *models.SimulationRecord, opts RewriteOptions) (Sizing, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Sizing{}, fmt.Errorf("failed to read script: %w", err)
	}
	cur, err := NewParser().Parse(strings.NewReader(string(data)), opts.Flavor)
	if err != nil {
		return Sizing{}, err
	}
	z, err := ComputeSizing(cur, rec, opts)
	if err != nil {
		return Sizing{}, err
	}

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	newLines := Rewrite(lines, rec, z, opts)
	content := strings.Join(newLines, "\n") + "\n"

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0755); err != nil {
		return Sizing{}, fmt.Errorf("failed to write script: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return Sizing{}, fmt.Errorf("failed to replace script: %w", err)
	}
	return z, nil
}

func isLauncher(line string) bool {
	return strings.Contains(line, "mpiexec") || strings.Contains(line, "pbsexec") || strings.Contains(line, "aprun -n")
}

func selectLine(flavor Flavor, rec *models.SimulationRecord, z Sizing) string {
	if flavor == FlavorCX2 {
		mpiprocs := rec.MPIProcs
		if mpiprocs <= 0 {
			mpiprocs = z.NCPUs
		}
		omp := rec.OMPThreads
		if omp <= 0 {
			omp = 1
		}
		return fmt.Sprintf("#PBS -l select=%d:ncpus=%d:mpiprocs=%d:ompthreads=%d:mem=%s",
			z.NewNMachines, z.NCPUs, mpiprocs, omp, z.Memory)
	}
	l := fmt.Sprintf("#PBS -l select=%d:ncpus=%d:mem=%s", z.NewNMachines, z.NCPUs, z.Memory)
	if z.Infiniband {
		l += ":icib=true"
	}
	return l
}

func redecompLine(flavor Flavor, z Sizing, flml string) string {
	stem := strings.TrimSuffix(flml, ".flml")
	var b strings.Builder
	if flavor.ICT() {
		b.WriteString("pbsexec mpiexec ")
	} else {
		fmt.Fprintf(&b, "aprun -n %d -N %d ", z.NewTotalNCPUs, z.NCPUs)
	}
	fmt.Fprintf(&b, "./flredecomp -v -l -i %d -o %d %s %s_redecomped; ", z.TotalNCPUs, z.NewTotalNCPUs, stem, stem)
	if flavor == FlavorCX1 {
		b.WriteString(`pbsdsh2 cp -rpf $TMPDIR/\* $PBS_O_WORKDIR/; cd $PBS_O_WORKDIR; `)
	}
	fmt.Fprintf(&b, "mv %s_redecomped.flml %s.flml; ", stem, stem)
	if flavor == FlavorCX1 {
		b.WriteString(`pbsdsh2 cp -rpf $PBS_O_WORKDIR/\* $TMPDIR/; cd $TMPDIR`)
	}
	return strings.TrimSuffix(b.String(), "; ")
}

func hectorRunLine(line string, z Sizing) string {
	args := line
	if i := strings.LastIndex(line, "/fluidity"); i >= 0 {
		args = line[i+len("/fluidity"):]
	}
	return strings.TrimSpace(fmt.Sprintf("aprun -n %d -N %d ./fluidity %s", z.NewTotalNCPUs, z.NCPUs, strings.TrimSpace(args)))
}
