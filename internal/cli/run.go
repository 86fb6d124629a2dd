package cli

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/rescale/simwatch/internal/supervisor"
)

func newRunCmd() *cobra.Command {
	var (
		once      bool
		basename  string
		queryWait time.Duration
		verbosity int
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Monitor the job directories until every simulation has finished",
		Long: `Monitor every job directory below the working directory.

Each pass polls the queue, fetches results of finished runs, checks them
for crashes, merges result series, prepares the continuation run and
resubmits it. Between passes the monitor waits query_waittime.

A crashed directory is parked until "simwatch fix <dir>" marks it as
repaired. Interrupting the monitor saves the status of every directory;
the next run resumes where it stopped.`,
		Example: `  simwatch run
  simwatch run --workdir ~/runs --basename channel --query-wait 10m
  simwatch run --once`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("basename") {
				cfg.Monitor.Basename = basename
			}
			if cmd.Flags().Changed("query-wait") {
				cfg.Monitor.QueryWait = queryWait
			}
			if cmd.Flags().Changed("verbosity") {
				cfg.Monitor.Verbosity = verbosity
			}

			ctx := GetContext()
			inst, err := supervisor.Build(ctx, cfg, GetLogger().Zerolog())
			if err != nil {
				return err
			}
			defer inst.Close()

			if once {
				err = inst.RunOnce(ctx)
			} else {
				err = inst.Run(ctx)
			}
			if errors.Is(err, context.Canceled) {
				GetLogger().Info().Msg("Monitor stopped")
				return nil
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "Make a single pass and exit")
	cmd.Flags().StringVarP(&basename, "basename", "b", "", "Only monitor directories starting with this prefix (\"*\" for all)")
	cmd.Flags().DurationVar(&queryWait, "query-wait", 0, "Pause between passes")
	cmd.Flags().IntVar(&verbosity, "verbosity", 3, "Report verbosity, 0 (errors only) to 3")

	return cmd
}
