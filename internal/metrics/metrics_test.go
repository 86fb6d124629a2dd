package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/rescale/simwatch/internal/models"
)

func TestStateOf(t *testing.T) {
	tests := []struct {
		name string
		rec  models.SimulationRecord
		want string
	}{
		{"finished wins", models.SimulationRecord{Finished: true, Crashed: true}, StateFinished},
		{"crashed", models.SimulationRecord{Crashed: true}, StateCrashed},
		{"running", models.SimulationRecord{Running: true, Status: models.StatusRunning}, StateRunning},
		{"queued", models.SimulationRecord{Running: true, Status: models.StatusQueued}, StateQueued},
		{"idle", models.SimulationRecord{}, StateIdle},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StateOf(&tt.rec); got != tt.want {
				t.Errorf("StateOf() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestObserveRecordsAndWrite(t *testing.T) {
	m := New()
	m.ObserveRecords([]*models.SimulationRecord{
		{Finished: true},
		{Finished: true},
		{Crashed: true},
	})
	m.StageFailed(models.StageSubmit)
	m.Submitted()
	m.PassDone(time.Unix(100, 0), time.Unix(130, 0))

	if got := testutil.ToFloat64(m.Directories.WithLabelValues(StateFinished)); got != 2 {
		t.Errorf("finished = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Directories.WithLabelValues(StateRunning)); got != 0 {
		t.Errorf("running = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.StageFailures.WithLabelValues(models.StageSubmit.String())); got != 1 {
		t.Errorf("submit failures = %v, want 1", got)
	}

	path := filepath.Join(t.TempDir(), "logfiles", "simwatch.prom")
	if err := m.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"simwatch_directories{state=\"crashed\"} 1", "simwatch_submissions_total 1", "simwatch_last_pass_timestamp_seconds 130"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
