package state

import (
	"fmt"
	"strconv"

	"github.com/rescale/simwatch/internal/models"
)

// field binds one status-file key to a record field.
type field struct {
	key string
	get func(r *models.SimulationRecord) string
	set func(r *models.SimulationRecord, v string) error
}

func strField(key string, p func(r *models.SimulationRecord) *string) field {
	return field{
		key: key,
		get: func(r *models.SimulationRecord) string { return *p(r) },
		set: func(r *models.SimulationRecord, v string) error { *p(r) = v; return nil },
	}
}

func intField(key string, p func(r *models.SimulationRecord) *int) field {
	return field{
		key: key,
		get: func(r *models.SimulationRecord) string { return strconv.Itoa(*p(r)) },
		set: func(r *models.SimulationRecord, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*p(r) = n
			return nil
		},
	}
}

func boolField(key string, p func(r *models.SimulationRecord) *bool) field {
	return field{
		key: key,
		get: func(r *models.SimulationRecord) string { return formatBool(*p(r)) },
		set: func(r *models.SimulationRecord, v string) error {
			b, err := parseBool(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*p(r) = b
			return nil
		},
	}
}

// schema lists every persisted key except "directory", which always leads the file.
// Keys are kept in sorted order.
var schema = []field{
	strField("cluster_dir", func(r *models.SimulationRecord) *string { return &r.ClusterDir }),
	strField("cluster_fluidity_dir", func(r *models.SimulationRecord) *string { return &r.ClusterFluidityDir }),
	strField("cluster_name", func(r *models.SimulationRecord) *string { return &r.ClusterName }),
	{
		key: "error_status",
		get: func(r *models.SimulationRecord) string { return strconv.Itoa(int(r.ErrorStatus)) },
		set: func(r *models.SimulationRecord, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("error_status: %w", err)
			}
			s := models.Stage(n)
			if !s.Valid() {
				return fmt.Errorf("error_status: unknown stage %d", n)
			}
			r.ErrorStatus = s
			return nil
		},
	},
	boolField("infiniband", func(r *models.SimulationRecord) *bool { return &r.Infiniband }),
	strField("jobid", func(r *models.SimulationRecord) *string { return &r.JobID }),
	strField("memory", func(r *models.SimulationRecord) *string { return &r.Memory }),
	intField("mpiprocs", func(r *models.SimulationRecord) *int { return &r.MPIProcs }),
	intField("ncpus", func(r *models.SimulationRecord) *int { return &r.NCPUs }),
	intField("nmachines", func(r *models.SimulationRecord) *int { return &r.NMachines }),
	intField("nnopercpu", func(r *models.SimulationRecord) *int { return &r.NNodesPerCPU }),
	intField("ompthreads", func(r *models.SimulationRecord) *int { return &r.OMPThreads }),
	strField("pbs_walltime", func(r *models.SimulationRecord) *string { return &r.PBSWalltime }),
	intField("prev_total_ncpus", func(r *models.SimulationRecord) *int { return &r.DecompNCPUs }),
	strField("queue", func(r *models.SimulationRecord) *string { return &r.Queue }),
	boolField("sim_clean_exit", func(r *models.SimulationRecord) *bool { return &r.CleanExit }),
	strField("sim_time", func(r *models.SimulationRecord) *string { return &r.SimTime }),
	strField("simname", func(r *models.SimulationRecord) *string { return &r.SimName }),
	boolField("simulation_crashed", func(r *models.SimulationRecord) *bool { return &r.Crashed }),
	boolField("simulation_finished", func(r *models.SimulationRecord) *bool { return &r.Finished }),
	boolField("simulation_running", func(r *models.SimulationRecord) *bool { return &r.Running }),
	{
		key: "status",
		get: func(r *models.SimulationRecord) string { return string(r.Status) },
		set: func(r *models.SimulationRecord, v string) error {
			r.Status = models.ParseClusterStatus(v)
			return nil
		},
	},
	intField("total_ncpus", func(r *models.SimulationRecord) *int { return &r.TotalNCPUs }),
	strField("username", func(r *models.SimulationRecord) *string { return &r.Username }),
	strField("walltime", func(r *models.SimulationRecord) *string { return &r.Walltime }),
}

var schemaByKey = func() map[string]field {
	m := make(map[string]field, len(schema))
	for _, f := range schema {
		m[f.key] = f
	}
	return m
}()

func formatBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

func parseBool(v string) (bool, error) {
	switch v {
	case "True", "true":
		return true, nil
	case "False", "false", "---", "":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", v)
}
