package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/ini.v1"

	"github.com/rescale/simwatch/internal/models"
	"github.com/rescale/simwatch/internal/pbs"
)

// DefaultFileName is the configuration file looked up in the working directory.
const DefaultFileName = "monitor.conf"

// Config is the supervisor configuration.
//
// INI format:
//
//	[monitor]
//	basename = run
//	query_waittime = 60s
//	verbosity = 3
//	workdir = .
//
//	[cluster]
//	name = cx1.hpc.ic.ac.uk
//	dir = /work/me/runs
//	fluidity_dir = /work/me/fluidity
//	username = me
//	port = 22
//	identity_file = ~/.ssh/id_ed25519
//	known_hosts = ~/.ssh/known_hosts
//
//	[resources]
//	nnodes_per_cpu = 15000
//	queue =
//
//	[retry]
//	errmaxcnt = 100
//	errwaittime = 10ms
//
//	[crash]
//	grace_period = 15m
//	slack_factor = 2
//
//	[notify]
//	email = me@example.com;you@example.com
//	smtp = localhost:25
//	from = simwatch@localhost
//	popup = false
//	webhook =
//
//	[metrics]
//	enabled = false
//	path = logfiles/simwatch.prom
//
//	[archive]
//	s3_bucket =
//	s3_region =
//	s3_prefix = simwatch
type Config struct {
	Monitor   MonitorConfig
	Cluster   ClusterConfig
	Resources ResourcesConfig
	Retry     RetryConfig
	Crash     CrashConfig
	Notify    NotifyConfig
	Metrics   MetricsConfig
	Archive   ArchiveConfig
}

// MonitorConfig holds the loop settings.
type MonitorConfig struct {
	// Basename selects job directories by prefix. "*" selects all.
	Basename string
	// QueryWait is the pause between passes.
	QueryWait time.Duration
	// Verbosity gates reports, 0 (crucial only) to 3 (everything).
	Verbosity int
	// WorkDir holds the job directories and logfiles/.
	WorkDir string
}

// ClusterConfig identifies the remote cluster.
type ClusterConfig struct {
	Name        string
	Dir         string
	FluidityDir string
	Username    string
	Port        int
	// IdentityFile and KnownHosts default to the files below ~/.ssh.
	IdentityFile string
	KnownHosts   string
}

// ResourcesConfig overrides parts of the job resource request.
type ResourcesConfig struct {
	// NNodesPerCPU is the mesh size one core should handle after a restart.
	NNodesPerCPU int
	Queue        string
}

// RetryConfig bounds transient retries.
type RetryConfig struct {
	ErrMaxCount int
	ErrWait     time.Duration
}

// CrashConfig tunes the walltime heuristic.
type CrashConfig struct {
	GracePeriod time.Duration
	SlackFactor float64
}

// NotifyConfig selects the report sinks.
type NotifyConfig struct {
	// Email is a ';' separated recipient list. Empty disables email.
	Email        string
	SMTPAddr     string
	From         string
	SMTPUser     string
	SMTPPassword string
	Popup        bool
	Webhook      string
}

// MetricsConfig controls the textfile exporter.
type MetricsConfig struct {
	Enabled bool
	Path    string
}

// ArchiveConfig configures the optional S3 mirror of backup archives.
type ArchiveConfig struct {
	S3Bucket string
	S3Region string
	S3Prefix string
}

// Validation errors
var (
	ErrMissingClusterName = errors.New("cluster name is required")
	ErrInvalidPort        = errors.New("cluster port must be between 1 and 65535")
	ErrMissingClusterDir  = errors.New("cluster dir is required")
	ErrMissingUsername    = errors.New("cluster username is required")
	ErrInvalidVerbosity   = errors.New("verbosity must be between 0 and 3")
	ErrInvalidQueryWait   = errors.New("query_waittime must be positive")
	ErrInvalidRetry       = errors.New("errmaxcnt must be at least 1")
	ErrInvalidNodesPerCPU = errors.New("nnodes_per_cpu must be positive")
	ErrInvalidSlackFactor = errors.New("slack_factor must not be negative")
	ErrMissingMetricsPath = errors.New("metrics path is required when metrics are enabled")
)

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Monitor: MonitorConfig{
			Basename:  "*",
			QueryWait: 60 * time.Second,
			Verbosity: 3,
			WorkDir:   ".",
		},
		Cluster: ClusterConfig{
			Port: 22,
		},
		Resources: ResourcesConfig{
			NNodesPerCPU: 15000,
		},
		Retry: RetryConfig{
			ErrMaxCount: 100,
			ErrWait:     10 * time.Millisecond,
		},
		Crash: CrashConfig{
			GracePeriod: 15 * time.Minute,
			SlackFactor: 2,
		},
		Notify: NotifyConfig{
			SMTPAddr: "localhost:25",
			From:     "simwatch@localhost",
		},
		Metrics: MetricsConfig{
			Path: filepath.Join("logfiles", "simwatch.prom"),
		},
		Archive: ArchiveConfig{
			S3Prefix: "simwatch",
		},
	}
}

// Load reads an INI file on top of the defaults.
// If the file doesn't exist, returns the defaults and no error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultFileName
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	// Email lists are ';' separated, so only " ;" and " #" start a comment.
	f, err := ini.LoadSources(ini.LoadOptions{SpaceBeforeInlineComment: true}, path)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}

	mon := f.Section("monitor")
	cfg.Monitor.Basename = mon.Key("basename").MustString(cfg.Monitor.Basename)
	cfg.Monitor.QueryWait = mon.Key("query_waittime").MustDuration(cfg.Monitor.QueryWait)
	cfg.Monitor.Verbosity = mon.Key("verbosity").MustInt(cfg.Monitor.Verbosity)
	cfg.Monitor.WorkDir = mon.Key("workdir").MustString(cfg.Monitor.WorkDir)

	cl := f.Section("cluster")
	cfg.Cluster.Name = cl.Key("name").String()
	cfg.Cluster.Dir = cl.Key("dir").String()
	cfg.Cluster.FluidityDir = cl.Key("fluidity_dir").String()
	cfg.Cluster.Username = cl.Key("username").String()
	cfg.Cluster.Port = cl.Key("port").MustInt(cfg.Cluster.Port)
	cfg.Cluster.IdentityFile = cl.Key("identity_file").String()
	cfg.Cluster.KnownHosts = cl.Key("known_hosts").String()

	res := f.Section("resources")
	cfg.Resources.NNodesPerCPU = res.Key("nnodes_per_cpu").MustInt(cfg.Resources.NNodesPerCPU)
	cfg.Resources.Queue = res.Key("queue").String()

	rt := f.Section("retry")
	cfg.Retry.ErrMaxCount = rt.Key("errmaxcnt").MustInt(cfg.Retry.ErrMaxCount)
	cfg.Retry.ErrWait = rt.Key("errwaittime").MustDuration(cfg.Retry.ErrWait)

	cr := f.Section("crash")
	cfg.Crash.GracePeriod = cr.Key("grace_period").MustDuration(cfg.Crash.GracePeriod)
	cfg.Crash.SlackFactor = cr.Key("slack_factor").MustFloat64(cfg.Crash.SlackFactor)

	nt := f.Section("notify")
	cfg.Notify.Email = nt.Key("email").String()
	cfg.Notify.SMTPAddr = nt.Key("smtp").MustString(cfg.Notify.SMTPAddr)
	cfg.Notify.From = nt.Key("from").MustString(cfg.Notify.From)
	cfg.Notify.SMTPUser = nt.Key("smtp_user").String()
	cfg.Notify.SMTPPassword = nt.Key("smtp_password").String()
	cfg.Notify.Popup = nt.Key("popup").MustBool(false)
	cfg.Notify.Webhook = nt.Key("webhook").String()

	mt := f.Section("metrics")
	cfg.Metrics.Enabled = mt.Key("enabled").MustBool(false)
	cfg.Metrics.Path = mt.Key("path").MustString(cfg.Metrics.Path)

	ar := f.Section("archive")
	cfg.Archive.S3Bucket = ar.Key("s3_bucket").String()
	cfg.Archive.S3Region = ar.Key("s3_region").String()
	cfg.Archive.S3Prefix = ar.Key("s3_prefix").MustString(cfg.Archive.S3Prefix)

	return cfg, nil
}

// Save writes cfg as INI. The file may hold an SMTP password, so it is
// written owner-only via a temporary file and rename.
func Save(cfg *Config, path string) error {
	if path == "" {
		path = DefaultFileName
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	f := ini.Empty()
	sections := []struct {
		name string
		keys [][2]string
	}{
		{"monitor", [][2]string{
			{"basename", cfg.Monitor.Basename},
			{"query_waittime", cfg.Monitor.QueryWait.String()},
			{"verbosity", fmt.Sprintf("%d", cfg.Monitor.Verbosity)},
			{"workdir", cfg.Monitor.WorkDir},
		}},
		{"cluster", [][2]string{
			{"name", cfg.Cluster.Name},
			{"dir", cfg.Cluster.Dir},
			{"fluidity_dir", cfg.Cluster.FluidityDir},
			{"username", cfg.Cluster.Username},
			{"port", fmt.Sprintf("%d", cfg.Cluster.Port)},
			{"identity_file", cfg.Cluster.IdentityFile},
			{"known_hosts", cfg.Cluster.KnownHosts},
		}},
		{"resources", [][2]string{
			{"nnodes_per_cpu", fmt.Sprintf("%d", cfg.Resources.NNodesPerCPU)},
			{"queue", cfg.Resources.Queue},
		}},
		{"retry", [][2]string{
			{"errmaxcnt", fmt.Sprintf("%d", cfg.Retry.ErrMaxCount)},
			{"errwaittime", cfg.Retry.ErrWait.String()},
		}},
		{"crash", [][2]string{
			{"grace_period", cfg.Crash.GracePeriod.String()},
			{"slack_factor", fmt.Sprintf("%g", cfg.Crash.SlackFactor)},
		}},
		{"notify", [][2]string{
			{"email", cfg.Notify.Email},
			{"smtp", cfg.Notify.SMTPAddr},
			{"from", cfg.Notify.From},
			{"smtp_user", cfg.Notify.SMTPUser},
			{"smtp_password", cfg.Notify.SMTPPassword},
			{"popup", fmt.Sprintf("%t", cfg.Notify.Popup)},
			{"webhook", cfg.Notify.Webhook},
		}},
		{"metrics", [][2]string{
			{"enabled", fmt.Sprintf("%t", cfg.Metrics.Enabled)},
			{"path", cfg.Metrics.Path},
		}},
		{"archive", [][2]string{
			{"s3_bucket", cfg.Archive.S3Bucket},
			{"s3_region", cfg.Archive.S3Region},
			{"s3_prefix", cfg.Archive.S3Prefix},
		}},
	}
	for _, s := range sections {
		sec, err := f.NewSection(s.name)
		if err != nil {
			return fmt.Errorf("failed to create %s section: %w", s.name, err)
		}
		for _, kv := range s.keys {
			sec.Key(kv[0]).SetValue(kv[1])
		}
	}

	tmpPath := path + ".tmp"
	if err := f.SaveTo(tmpPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := os.Chmod(tmpPath, 0600); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to set config permissions: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}

// Validate checks the settings needed to run the loop.
func (cfg *Config) Validate() error {
	if strings.TrimSpace(cfg.Cluster.Name) == "" {
		return ErrMissingClusterName
	}
	if _, err := pbs.DetectFlavor(cfg.Cluster.Name); err != nil {
		return err
	}
	if strings.TrimSpace(cfg.Cluster.Dir) == "" {
		return ErrMissingClusterDir
	}
	if strings.TrimSpace(cfg.Cluster.Username) == "" {
		return ErrMissingUsername
	}
	if cfg.Cluster.Port < 0 || cfg.Cluster.Port > 65535 {
		return ErrInvalidPort
	}
	if cfg.Monitor.Verbosity < 0 || cfg.Monitor.Verbosity > 3 {
		return ErrInvalidVerbosity
	}
	if cfg.Monitor.QueryWait <= 0 {
		return ErrInvalidQueryWait
	}
	if cfg.Retry.ErrMaxCount < 1 {
		return ErrInvalidRetry
	}
	if cfg.Resources.NNodesPerCPU <= 0 {
		return ErrInvalidNodesPerCPU
	}
	if cfg.Crash.SlackFactor < 0 {
		return ErrInvalidSlackFactor
	}
	if cfg.Metrics.Enabled && strings.TrimSpace(cfg.Metrics.Path) == "" {
		return ErrMissingMetricsPath
	}
	return nil
}

// Flavor returns the cluster flavor derived from the cluster name.
func (cfg *Config) Flavor() (pbs.Flavor, error) {
	return pbs.DetectFlavor(cfg.Cluster.Name)
}

// Target returns the cluster identity stored on each record.
func (cfg *Config) Target() models.ClusterTarget {
	return models.ClusterTarget{
		ClusterName:        cfg.Cluster.Name,
		ClusterDir:         cfg.Cluster.Dir,
		ClusterFluidityDir: cfg.Cluster.FluidityDir,
		Username:           cfg.Cluster.Username,
	}
}

// EmailEnabled reports whether any recipients are configured.
func (cfg *Config) EmailEnabled() bool {
	return strings.TrimSpace(cfg.Notify.Email) != ""
}

// MirrorEnabled reports whether backup archives are mirrored to S3.
func (cfg *Config) MirrorEnabled() bool {
	return strings.TrimSpace(cfg.Archive.S3Bucket) != ""
}

// Resolve returns p relative to the working directory unless it is absolute.
func (cfg *Config) Resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(cfg.Monitor.WorkDir, p)
}
