package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rescale/simwatch/internal/models"
	"github.com/rescale/simwatch/internal/state"
	"github.com/rescale/simwatch/internal/supervisor"
	"github.com/rescale/simwatch/internal/workspace"
)

// statusView is the machine readable form of a record.
type statusView struct {
	Directory   string  `json:"directory" yaml:"directory"`
	SimName     string  `json:"simName" yaml:"sim_name"`
	JobID       string  `json:"jobId" yaml:"job_id"`
	Status      string  `json:"status" yaml:"status"`
	Walltime    string  `json:"walltime" yaml:"walltime"`
	SimTime     string  `json:"simTime" yaml:"sim_time"`
	Running     bool    `json:"running" yaml:"running"`
	Crashed     bool    `json:"crashed" yaml:"crashed"`
	Finished    bool    `json:"finished" yaml:"finished"`
	ErrorStage  string  `json:"errorStage" yaml:"error_stage"`
	CleanExit   bool    `json:"cleanExit" yaml:"clean_exit"`
	Resources   resView `json:"resources" yaml:"resources"`
	ClusterName string  `json:"cluster" yaml:"cluster"`
}

type resView struct {
	PBSWalltime string `json:"pbsWalltime" yaml:"pbs_walltime"`
	NMachines   int    `json:"nmachines" yaml:"nmachines"`
	NCPUs       int    `json:"ncpus" yaml:"ncpus"`
	MPIProcs    int    `json:"mpiprocs" yaml:"mpiprocs"`
	TotalNCPUs  int    `json:"totalNcpus" yaml:"total_ncpus"`
	Memory      string `json:"memory" yaml:"memory"`
	Infiniband  bool   `json:"infiniband" yaml:"infiniband"`
	Queue       string `json:"queue,omitempty" yaml:"queue,omitempty"`
}

func toView(r *models.SimulationRecord) statusView {
	return statusView{
		Directory:  r.Directory,
		SimName:    r.SimName,
		JobID:      r.JobID,
		Status:     string(r.Status),
		Walltime:   r.Walltime,
		SimTime:    r.SimTime,
		Running:    r.Running,
		Crashed:    r.Crashed,
		Finished:   r.Finished,
		ErrorStage: r.ErrorStatus.String(),
		CleanExit:  r.CleanExit,
		Resources: resView{
			PBSWalltime: r.PBSWalltime,
			NMachines:   r.NMachines,
			NCPUs:       r.NCPUs,
			MPIProcs:    r.MPIProcs,
			TotalNCPUs:  r.TotalNCPUs,
			Memory:      r.Memory,
			Infiniband:  r.Infiniband,
			Queue:       r.Queue,
		},
		ClusterName: r.ClusterName,
	}
}

func writeRecords(w io.Writer, recs []*models.SimulationRecord, format string) error {
	switch format {
	case "table", "":
		return supervisor.WriteStatus(w, recs)
	case "json":
		views := make([]statusView, 0, len(recs))
		for _, r := range recs {
			views = append(views, toView(r))
		}
		data, err := json.MarshalIndent(views, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	case "yaml":
		views := make([]statusView, 0, len(recs))
		for _, r := range recs {
			views = append(views, toView(r))
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(views); err != nil {
			return err
		}
		return enc.Close()
	}
	return fmt.Errorf("unknown output format %q (use table, json or yaml)", format)
}

func newStatusCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the status of every job directory",
		Long: `Show the persisted status of every job directory. Directories the
monitor has not seen yet are listed with the resources read from their
pbs.sh. Nothing is contacted or written.`,
		Example: `  simwatch status
  simwatch status -o json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			defaults, err := supervisor.Defaults(cfg)
			if err != nil {
				return err
			}
			layout := workspace.NewLayout(cfg.Monitor.WorkDir)
			store, err := state.NewStore(layout.LogDir())
			if err != nil {
				return err
			}
			recs, err := supervisor.Snapshot(layout, store, cfg.Monitor.Basename, defaults)
			if err != nil {
				return err
			}
			return writeRecords(cmd.OutOrStdout(), recs, output)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format: table, json or yaml")
	return cmd
}
