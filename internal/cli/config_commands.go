package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rescale/simwatch/internal/config"
	"github.com/rescale/simwatch/internal/notify"
)

// newConfigCmd creates the 'config' command group.
func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the monitor configuration",
		Long: `Configuration management commands.

Commands:
  init  - Interactive configuration setup
  show  - Display the effective configuration
  path  - Show the configuration file path`,
	}

	configCmd.AddCommand(newConfigInitCmd())
	configCmd.AddCommand(newConfigShowCmd())
	configCmd.AddCommand(newConfigPathCmd())

	return configCmd
}

// newConfigInitCmd creates the 'config init' command.
func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize configuration interactively",
		Long: `Interactive configuration setup. The file is written to
<workdir>/` + config.DefaultFileName + ` unless --config is given.

Use --force to overwrite an existing configuration.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath()
			if !force {
				if _, err := os.Stat(path); err == nil {
					fmt.Fprintf(cmd.OutOrStdout(), "Configuration already exists at: %s\n", path)
					fmt.Fprintln(cmd.OutOrStdout(), "Use --force to overwrite or run 'config show' to view it.")
					return nil
				}
			}

			cfg, err := promptConfig(cmd.InOrStdin(), cmd.OutOrStdout())
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			if err := config.Save(cfg, path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\nConfiguration saved to %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite existing configuration")
	return cmd
}

// promptConfig asks for the settings every setup needs and keeps the
// defaults for everything else.
func promptConfig(in io.Reader, out io.Writer) (*config.Config, error) {
	cfg := config.Default()
	reader := bufio.NewReader(in)

	fmt.Fprintln(out, "simwatch Configuration Setup")
	fmt.Fprintln(out, "============================")
	fmt.Fprintln(out)

	ask := func(label, def string, required bool) (string, error) {
		for {
			if def != "" {
				fmt.Fprintf(out, "%s [%s]: ", label, def)
			} else {
				fmt.Fprintf(out, "%s: ", label)
			}
			line, err := reader.ReadString('\n')
			line = strings.TrimSpace(line)
			if line == "" {
				line = def
			}
			if line != "" || !required {
				return line, nil
			}
			if err != nil {
				return "", fmt.Errorf("%s is required", label)
			}
			fmt.Fprintln(out, "  a value is required")
		}
	}

	var err error
	if cfg.Cluster.Name, err = ask("Cluster address (e.g. cx1.hpc.ic.ac.uk)", "", true); err != nil {
		return nil, err
	}
	if cfg.Cluster.Username, err = ask("Cluster username", os.Getenv("USER"), true); err != nil {
		return nil, err
	}
	if cfg.Cluster.Dir, err = ask("Remote run directory", "", true); err != nil {
		return nil, err
	}
	if cfg.Cluster.FluidityDir, err = ask("Remote Fluidity installation", "", false); err != nil {
		return nil, err
	}
	if cfg.Monitor.Basename, err = ask("Directory prefix to monitor", cfg.Monitor.Basename, false); err != nil {
		return nil, err
	}
	for {
		if cfg.Notify.Email, err = ask("Report email addresses, ';' separated (empty for none)", "", false); err != nil {
			return nil, err
		}
		if cfg.Notify.Email == "" {
			break
		}
		if _, perr := notify.ParseRecipients(cfg.Notify.Email); perr != nil {
			fmt.Fprintf(out, "  %v\n", perr)
			continue
		}
		break
	}
	return cfg, nil
}

// newConfigShowCmd creates the 'config show' command.
func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			showConfig(cmd.OutOrStdout(), cfg)
			if err := cfg.Validate(); err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "\nWarning: %v\n", err)
			}
			return nil
		},
	}
}

func showConfig(w io.Writer, cfg *config.Config) {
	password := ""
	if cfg.Notify.SMTPPassword != "" {
		password = "********"
	}
	rows := []struct{ key, val string }{
		{"monitor.basename", cfg.Monitor.Basename},
		{"monitor.query_waittime", cfg.Monitor.QueryWait.String()},
		{"monitor.verbosity", fmt.Sprint(cfg.Monitor.Verbosity)},
		{"monitor.workdir", cfg.Monitor.WorkDir},
		{"cluster.name", cfg.Cluster.Name},
		{"cluster.dir", cfg.Cluster.Dir},
		{"cluster.fluidity_dir", cfg.Cluster.FluidityDir},
		{"cluster.username", cfg.Cluster.Username},
		{"cluster.port", fmt.Sprint(cfg.Cluster.Port)},
		{"cluster.identity_file", cfg.Cluster.IdentityFile},
		{"cluster.known_hosts", cfg.Cluster.KnownHosts},
		{"resources.nnodes_per_cpu", fmt.Sprint(cfg.Resources.NNodesPerCPU)},
		{"resources.queue", cfg.Resources.Queue},
		{"retry.errmaxcnt", fmt.Sprint(cfg.Retry.ErrMaxCount)},
		{"retry.errwaittime", cfg.Retry.ErrWait.String()},
		{"crash.grace_period", cfg.Crash.GracePeriod.String()},
		{"crash.slack_factor", fmt.Sprint(cfg.Crash.SlackFactor)},
		{"notify.email", cfg.Notify.Email},
		{"notify.smtp", cfg.Notify.SMTPAddr},
		{"notify.from", cfg.Notify.From},
		{"notify.smtp_user", cfg.Notify.SMTPUser},
		{"notify.smtp_password", password},
		{"notify.popup", fmt.Sprint(cfg.Notify.Popup)},
		{"notify.webhook", cfg.Notify.Webhook},
		{"metrics.enabled", fmt.Sprint(cfg.Metrics.Enabled)},
		{"metrics.path", cfg.Metrics.Path},
		{"archive.s3_bucket", cfg.Archive.S3Bucket},
		{"archive.s3_region", cfg.Archive.S3Region},
		{"archive.s3_prefix", cfg.Archive.S3Prefix},
	}
	for _, r := range rows {
		val := r.val
		if val == "" {
			val = "<not set>"
		}
		fmt.Fprintf(w, "%-26s %s\n", r.key, val)
	}
}

// newConfigPathCmd creates the 'config path' command.
func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show the configuration file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), configPath())
		},
	}
}
