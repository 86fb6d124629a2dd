package supervisor

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rescale/simwatch/internal/classify"
	"github.com/rescale/simwatch/internal/config"
	"github.com/rescale/simwatch/internal/lifecycle"
	"github.com/rescale/simwatch/internal/metrics"
	"github.com/rescale/simwatch/internal/mirror"
	"github.com/rescale/simwatch/internal/notify"
	"github.com/rescale/simwatch/internal/remote"
	"github.com/rescale/simwatch/internal/state"
	"github.com/rescale/simwatch/internal/workspace"
)

// LockFileName is created in the log directory while a monitor runs.
const LockFileName = ".simwatch.lock"

// Instance is a fully wired supervisor together with the resources it holds.
type Instance struct {
	*Supervisor
	RunID    string
	Reporter *notify.Reporter
	ssh      *remote.SSHClient
	lock     *Lock
}

// Close releases the lock, the cluster connection and the report sinks.
func (i *Instance) Close() error {
	rerr := i.Reporter.Close()
	i.ssh.Close()
	if err := i.lock.Release(); err != nil {
		return err
	}
	return rerr
}

// BuildReporter assembles the report sinks selected by cfg.
func BuildReporter(cfg *config.Config, layout workspace.Layout, logger zerolog.Logger) (*notify.Reporter, error) {
	r := notify.NewReporter(cfg.Monitor.Verbosity, logger,
		notify.NewConsoleSink(logger),
		notify.NewFileSink(layout.LogDir()),
	)

	if cfg.EmailEnabled() {
		to, err := notify.ParseRecipients(cfg.Notify.Email)
		if err != nil {
			return nil, fmt.Errorf("invalid email list: %w", err)
		}
		root, err := filepath.Abs(layout.Root)
		if err != nil {
			root = layout.Root
		}
		sink, err := notify.NewEmailSink(notify.EmailConfig{
			Addr:       cfg.Notify.SMTPAddr,
			From:       cfg.Notify.From,
			Username:   cfg.Notify.SMTPUser,
			Password:   cfg.Notify.SMTPPassword,
			Recipients: to,
			Root:       root,
		})
		if err != nil {
			return nil, err
		}
		r.Add(sink)
	}
	if cfg.Notify.Popup {
		r.Add(notify.NewPopupSink())
	}
	if cfg.Notify.Webhook != "" {
		r.Add(notify.NewWebhookSink(cfg.Notify.Webhook, logger))
	}
	return r, nil
}

// Defaults returns the record defaults cfg implies.
func Defaults(cfg *config.Config) (RecordDefaults, error) {
	flavor, err := cfg.Flavor()
	if err != nil {
		return RecordDefaults{}, err
	}
	return RecordDefaults{
		Flavor:       flavor,
		Target:       cfg.Target(),
		NNodesPerCPU: cfg.Resources.NNodesPerCPU,
		Queue:        cfg.Resources.Queue,
	}, nil
}

// Build wires a supervisor for cfg: gateway, report sinks, metrics, the
// optional S3 mirror and the lifecycle controller. The working directory is
// locked until the instance is closed.
func Build(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Instance, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	defaults, err := Defaults(cfg)
	if err != nil {
		return nil, err
	}
	flavor := defaults.Flavor

	runID := uuid.NewString()
	logger = logger.With().Str("run", runID[:8]).Logger()

	layout := workspace.NewLayout(cfg.Monitor.WorkDir)
	store, err := state.NewStore(layout.LogDir())
	if err != nil {
		return nil, err
	}
	lock, err := AcquireLock(filepath.Join(layout.LogDir(), LockFileName))
	if err != nil {
		return nil, err
	}

	reporter, err := BuildReporter(cfg, layout, logger)
	if err != nil {
		lock.Release()
		return nil, err
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	var mir mirror.Mirror
	if cfg.MirrorEnabled() {
		s3m, err := mirror.NewS3Mirror(ctx, cfg.Archive.S3Bucket, cfg.Archive.S3Region, cfg.Archive.S3Prefix)
		if err != nil {
			reporter.Close()
			lock.Release()
			return nil, fmt.Errorf("failed to set up archive mirror: %w", err)
		}
		mir = s3m
	}

	var identities []string
	if cfg.Cluster.IdentityFile != "" {
		identities = []string{cfg.Cluster.IdentityFile}
	}
	sshClient := remote.NewSSHClient(remote.ClientOptions{
		Host:          cfg.Cluster.Name,
		Port:          cfg.Cluster.Port,
		User:          cfg.Cluster.Username,
		IdentityFiles: identities,
		KnownHosts:    cfg.Cluster.KnownHosts,
	}, logger)

	gateway := remote.NewSSH(cfg.Target(), layout.Root, nil, sshClient, logger)
	gateway.SetRsyncShell(remote.RsyncShell(cfg.Cluster.Port, cfg.Cluster.IdentityFile))

	ctrl := lifecycle.New(lifecycle.Options{
		Store:    store,
		Gateway:  gateway,
		Layout:   layout,
		Reporter: reporter,
		Retry: classify.RetryPolicy{
			MaxAttempts: cfg.Retry.ErrMaxCount,
			Wait:        cfg.Retry.ErrWait,
		},
		Flavor:      flavor,
		QueryWait:   cfg.Monitor.QueryWait,
		Grace:       cfg.Crash.GracePeriod,
		SlackFactor: cfg.Crash.SlackFactor,
		Metrics:     m,
		Mirror:      mir,
		Logger:      logger,
	})

	sup := New(Options{
		Layout:      layout,
		Store:       store,
		Controller:  ctrl,
		Reporter:    reporter,
		Basename:    cfg.Monitor.Basename,
		QueryWait:   cfg.Monitor.QueryWait,
		Defaults:    defaults,
		Metrics:     m,
		MetricsPath: cfg.Resolve(cfg.Metrics.Path),
		Logger:      logger,
	})

	logger.Info().Str("cluster", cfg.Cluster.Name).Str("flavor", flavor.String()).
		Str("workdir", layout.Root).Dur("query_wait", cfg.Monitor.QueryWait).Msg("Monitor configured")

	return &Instance{Supervisor: sup, RunID: runID, Reporter: reporter, ssh: sshClient, lock: lock}, nil
}
