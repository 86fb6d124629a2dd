package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/rescale/simwatch/internal/config"
	"github.com/rescale/simwatch/internal/models"
)

// TestConfigCommands checks the structure of the config command group.
func TestConfigCommands(t *testing.T) {
	cmd := newConfigCmd()
	want := map[string]bool{"init": false, "show": false, "path": false}
	for _, sub := range cmd.Commands() {
		if _, ok := want[sub.Name()]; ok {
			want[sub.Name()] = true
		}
		if sub.Short == "" {
			t.Errorf("%s: Short description is empty", sub.Name())
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("config %s is missing", name)
		}
	}
}

// TestConfigInit_Flags tests the config init command flags
func TestConfigInit_Flags(t *testing.T) {
	cmd := newConfigInitCmd()
	if cmd.Flags().Lookup("force") == nil {
		t.Error("--force flag not found")
	}
}

func TestPromptConfig(t *testing.T) {
	in := strings.NewReader(strings.Join([]string{
		"cx2.hpc.ic.ac.uk",
		"jdoe",
		"/work/jdoe/runs",
		"",
		"channel",
		"not-an-address",
		"a@b.com;c@d.org",
	}, "\n") + "\n")
	var out bytes.Buffer

	cfg, err := promptConfig(in, &out)
	if err != nil {
		t.Fatalf("promptConfig() error = %v", err)
	}
	if cfg.Cluster.Name != "cx2.hpc.ic.ac.uk" || cfg.Cluster.Username != "jdoe" || cfg.Cluster.Dir != "/work/jdoe/runs" {
		t.Errorf("cluster = %+v", cfg.Cluster)
	}
	if cfg.Monitor.Basename != "channel" {
		t.Errorf("Basename = %q", cfg.Monitor.Basename)
	}
	if cfg.Notify.Email != "a@b.com;c@d.org" {
		t.Errorf("Email = %q", cfg.Notify.Email)
	}
	if !strings.Contains(out.String(), "Cluster address") {
		t.Errorf("prompt output = %q", out.String())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestPromptConfig_MissingRequired(t *testing.T) {
	if _, err := promptConfig(strings.NewReader(""), &bytes.Buffer{}); err == nil {
		t.Error("promptConfig() succeeded without a cluster address")
	}
}

func TestShowConfig_HidesPassword(t *testing.T) {
	cfg := config.Default()
	cfg.Notify.SMTPPassword = "hunter2"
	var out bytes.Buffer
	showConfig(&out, cfg)
	if strings.Contains(out.String(), "hunter2") {
		t.Error("showConfig() printed the SMTP password")
	}
	if !strings.Contains(out.String(), "cluster.name") || !strings.Contains(out.String(), "<not set>") {
		t.Errorf("showConfig() output = %s", out.String())
	}
}

func sampleRecords() []*models.SimulationRecord {
	rec := models.NewSimulationRecord("run1")
	rec.SimName = "channel_autocheckp"
	rec.JobID = "4711.cx1"
	rec.Status = models.StatusQueued
	rec.ErrorStatus = models.StageFetch
	return []*models.SimulationRecord{rec}
}

func TestWriteRecords(t *testing.T) {
	recs := sampleRecords()

	var js bytes.Buffer
	if err := writeRecords(&js, recs, "json"); err != nil {
		t.Fatal(err)
	}
	var views []statusView
	if err := json.Unmarshal(js.Bytes(), &views); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if len(views) != 1 || views[0].JobID != "4711.cx1" || views[0].ErrorStage != "fetch" {
		t.Errorf("json views = %+v", views)
	}

	var ym bytes.Buffer
	if err := writeRecords(&ym, recs, "yaml"); err != nil {
		t.Fatal(err)
	}
	var parsed []map[string]interface{}
	if err := yaml.Unmarshal(ym.Bytes(), &parsed); err != nil {
		t.Fatalf("invalid yaml: %v", err)
	}
	if len(parsed) != 1 || parsed[0]["sim_name"] != "channel_autocheckp" {
		t.Errorf("yaml = %v", parsed)
	}

	var tbl bytes.Buffer
	if err := writeRecords(&tbl, recs, "table"); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(tbl.String(), "dirname") {
		t.Errorf("table = %q", tbl.String())
	}

	if err := writeRecords(&bytes.Buffer{}, recs, "xml"); err == nil {
		t.Error("writeRecords() accepted an unknown format")
	}
}

func TestFixCmd_CreatesMarker(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "run1"), 0755); err != nil {
		t.Fatal(err)
	}

	workDir, cfgFile = root, ""
	defer func() { workDir = "" }()

	cmd := newFixCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"run1"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("fix error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "run1", "is_fixed")); err != nil {
		t.Errorf("marker not created: %v", err)
	}
	if !strings.Contains(out.String(), "Marked run1 as fixed") {
		t.Errorf("output = %q", out.String())
	}

	cmd = newFixCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"missing"})
	if err := cmd.Execute(); err == nil {
		t.Error("fix succeeded for a missing directory")
	}
}
