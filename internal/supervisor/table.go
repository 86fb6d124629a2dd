package supervisor

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"text/tabwriter"

	"github.com/rescale/simwatch/internal/models"
)

// Table holds the records of every monitored directory, iterated in
// directory name order.
type Table struct {
	records map[string]*models.SimulationRecord
	keys    []string
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{records: make(map[string]*models.SimulationRecord)}
}

// Put adds or replaces the record of rec.Directory.
func (t *Table) Put(rec *models.SimulationRecord) {
	if _, ok := t.records[rec.Directory]; !ok {
		t.keys = append(t.keys, rec.Directory)
		sort.Strings(t.keys)
	}
	t.records[rec.Directory] = rec
}

// Get returns the record of dir.
func (t *Table) Get(dir string) (*models.SimulationRecord, bool) {
	rec, ok := t.records[dir]
	return rec, ok
}

// Len returns the number of records.
func (t *Table) Len() int {
	return len(t.keys)
}

// Keys returns the directory names in order.
func (t *Table) Keys() []string {
	return append([]string(nil), t.keys...)
}

// Records returns the records in directory order.
func (t *Table) Records() []*models.SimulationRecord {
	out := make([]*models.SimulationRecord, 0, len(t.keys))
	for _, k := range t.keys {
		out = append(out, t.records[k])
	}
	return out
}

// AllFinished reports whether every record has finished. An empty table
// has nothing left to do.
func (t *Table) AllFinished() bool {
	for _, rec := range t.records {
		if !rec.Finished {
			return false
		}
	}
	return true
}

var statusColumns = []string{
	"dirname", "jobid", "status", "walltime", "sim_time", "nmachines", "ncpus",
	"mpiprocs", "total_ncpus", "memory", "infiniband", "error_status", "sim_clean_exit",
}

// WriteStatus renders recs as an aligned status table.
func WriteStatus(w io.Writer, recs []*models.SimulationRecord) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for i, c := range statusColumns {
		if i > 0 {
			fmt.Fprint(tw, "\t")
		}
		fmt.Fprint(tw, c)
	}
	fmt.Fprintln(tw)

	for _, r := range recs {
		status := string(r.Status)
		if status == "" {
			status = models.NoJob
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\t%s\t%d\t%s\n",
			r.Directory, r.JobID, status, r.Walltime, r.SimTime,
			r.NMachines, r.NCPUs, r.MPIProcs, r.TotalNCPUs, r.Memory,
			strconv.FormatBool(r.Infiniband), int(r.ErrorStatus), strconv.FormatBool(r.CleanExit))
	}
	return tw.Flush()
}

// SaveStatus writes the status table to path, replacing it atomically.
func SaveStatus(path string, recs []*models.SimulationRecord) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create status table: %w", err)
	}
	if err := WriteStatus(f, recs); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write status table: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
