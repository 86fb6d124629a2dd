package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rescale/simwatch/internal/pbs"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Monitor.Basename != "*" {
		t.Errorf("Expected Basename=*, got %q", cfg.Monitor.Basename)
	}
	if cfg.Monitor.QueryWait != time.Minute {
		t.Errorf("Expected QueryWait=1m, got %v", cfg.Monitor.QueryWait)
	}
	if cfg.Retry.ErrMaxCount != 100 || cfg.Retry.ErrWait != 10*time.Millisecond {
		t.Errorf("Unexpected retry defaults: %+v", cfg.Retry)
	}
	if cfg.Crash.GracePeriod != 15*time.Minute || cfg.Crash.SlackFactor != 2 {
		t.Errorf("Unexpected crash defaults: %+v", cfg.Crash)
	}
	if cfg.Resources.NNodesPerCPU != 15000 {
		t.Errorf("Expected NNodesPerCPU=15000, got %d", cfg.Resources.NNodesPerCPU)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.conf"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Monitor.Verbosity != 3 {
		t.Errorf("Expected default verbosity, got %d", cfg.Monitor.Verbosity)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "monitor.conf")

	cfg := Default()
	cfg.Monitor.Basename = "run"
	cfg.Monitor.QueryWait = 90 * time.Second
	cfg.Monitor.Verbosity = 1
	cfg.Cluster = ClusterConfig{
		Name:         "cx2.hpc.ic.ac.uk",
		Dir:          "/work/me",
		FluidityDir:  "/work/me/fluidity",
		Username:     "me",
		Port:         2222,
		IdentityFile: "/home/me/.ssh/id_cluster",
		KnownHosts:   "/home/me/.ssh/known_hosts",
	}
	cfg.Resources.NNodesPerCPU = 20000
	cfg.Resources.Queue = "pqfoo"
	cfg.Retry.ErrMaxCount = 5
	cfg.Crash.SlackFactor = 1.5
	cfg.Notify.Email = "a@b.com;c@d.org"
	cfg.Notify.Popup = true
	cfg.Metrics.Enabled = true
	cfg.Archive.S3Bucket = "bucket"

	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("Expected mode 0600, got %v", info.Mode().Perm())
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.Monitor != cfg.Monitor {
		t.Errorf("Monitor mismatch: got %+v, want %+v", got.Monitor, cfg.Monitor)
	}
	if got.Cluster != cfg.Cluster {
		t.Errorf("Cluster mismatch: got %+v, want %+v", got.Cluster, cfg.Cluster)
	}
	if got.Resources != cfg.Resources || got.Retry != cfg.Retry || got.Crash != cfg.Crash {
		t.Errorf("Resource/retry/crash mismatch: got %+v %+v %+v", got.Resources, got.Retry, got.Crash)
	}
	if got.Notify != cfg.Notify {
		t.Errorf("Notify mismatch: got %+v, want %+v", got.Notify, cfg.Notify)
	}
	if got.Metrics != cfg.Metrics || got.Archive != cfg.Archive {
		t.Errorf("Metrics/archive mismatch: got %+v %+v", got.Metrics, got.Archive)
	}
	if !got.EmailEnabled() || !got.MirrorEnabled() {
		t.Error("Expected email and mirror to be enabled")
	}
}

func TestLoadPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "monitor.conf")
	content := "[cluster]\nname = hector.ac.uk\ndir = /home/x\nusername = x\n\n[monitor]\nquery_waittime = 5m ; five minutes\n\n[notify]\nemail = a@b.com;c@d.org\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Monitor.QueryWait != 5*time.Minute {
		t.Errorf("Expected 5m, got %v", cfg.Monitor.QueryWait)
	}
	if cfg.Notify.Email != "a@b.com;c@d.org" {
		t.Errorf("Expected both recipients, got %q", cfg.Notify.Email)
	}
	if cfg.Retry.ErrMaxCount != 100 {
		t.Errorf("Expected default errmaxcnt, got %d", cfg.Retry.ErrMaxCount)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate failed: %v", err)
	}
	flavor, err := cfg.Flavor()
	if err != nil || flavor != pbs.FlavorHector {
		t.Errorf("Expected hector flavor, got %v (%v)", flavor, err)
	}
	if target := cfg.Target(); target.Username != "x" || target.ClusterDir != "/home/x" {
		t.Errorf("Unexpected target %+v", target)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Cluster = ClusterConfig{Name: "cx1.hpc.ic.ac.uk", Dir: "/work", Username: "me"}
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"valid", func(*Config) {}, nil},
		{"no cluster", func(c *Config) { c.Cluster.Name = "" }, ErrMissingClusterName},
		{"unknown cluster", func(c *Config) { c.Cluster.Name = "archer" }, pbs.ErrUnknownCluster},
		{"no dir", func(c *Config) { c.Cluster.Dir = " " }, ErrMissingClusterDir},
		{"no user", func(c *Config) { c.Cluster.Username = "" }, ErrMissingUsername},
		{"port", func(c *Config) { c.Cluster.Port = 70000 }, ErrInvalidPort},
		{"verbosity", func(c *Config) { c.Monitor.Verbosity = 4 }, ErrInvalidVerbosity},
		{"query wait", func(c *Config) { c.Monitor.QueryWait = 0 }, ErrInvalidQueryWait},
		{"retry", func(c *Config) { c.Retry.ErrMaxCount = 0 }, ErrInvalidRetry},
		{"nodes", func(c *Config) { c.Resources.NNodesPerCPU = 0 }, ErrInvalidNodesPerCPU},
		{"slack", func(c *Config) { c.Crash.SlackFactor = -1 }, ErrInvalidSlackFactor},
		{"metrics", func(c *Config) { c.Metrics.Enabled = true; c.Metrics.Path = "" }, ErrMissingMetricsPath},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.want == nil {
				if err != nil {
					t.Errorf("Expected no error, got %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestResolve(t *testing.T) {
	cfg := Default()
	cfg.Monitor.WorkDir = "/data"
	if got := cfg.Resolve("logfiles/x.prom"); got != "/data/logfiles/x.prom" {
		t.Errorf("Resolve relative: got %s", got)
	}
	if got := cfg.Resolve("/abs/x"); got != "/abs/x" {
		t.Errorf("Resolve absolute: got %s", got)
	}
}
