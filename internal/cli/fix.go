package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rescale/simwatch/internal/state"
	"github.com/rescale/simwatch/internal/workspace"
)

func newFixCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fix <dir>...",
		Short: "Flag crashed directories as repaired",
		Long: `Create the fix marker in each directory. On its next pass the monitor
removes the output of the crashed run and continues the simulation.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			layout := workspace.NewLayout(cfg.Monitor.WorkDir)
			store, err := state.NewStore(layout.LogDir())
			if err != nil {
				return err
			}

			for _, dir := range args {
				if store.Exists(dir) {
					if rec, err := store.Load(dir); err == nil && !rec.Crashed {
						GetLogger().Warn().Str("dir", dir).Msg("Directory is not flagged as crashed")
					}
				}
				if err := layout.MarkFixed(dir); err != nil {
					return fmt.Errorf("failed to mark %s as fixed: %w", dir, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Marked %s as fixed, the monitor takes it from here\n", dir)
			}
			return nil
		},
	}
}
