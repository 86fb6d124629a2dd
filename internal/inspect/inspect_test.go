package inspect

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rescale/simwatch/internal/pbs"
)

const flmlTemplate = `<?xml version='1.0' encoding='utf-8'?>
<fluidity_options>
  <simulation_name>
    <string_value lines="1">run2</string_value>
  </simulation_name>
  <timestepping>
    <current_time>
      <real_value rank="0">%g</real_value>
    </current_time>
    <finish_time>
      <real_value rank="0">%g</real_value>
    </finish_time>
    %s
  </timestepping>
</fluidity_options>
`

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
}

func writeFlml(t *testing.T, dir string, current, finish float64, limit string) {
	t.Helper()
	extra := ""
	if limit != "" {
		extra = fmt.Sprintf(`<wall_time_limit><real_value rank="0">%s</real_value></wall_time_limit>`, limit)
	}
	writeFile(t, dir, "run2.flml", fmt.Sprintf(flmlTemplate, current, finish, extra))
}

func defaultParams(flavor pbs.Flavor) Params {
	return Params{
		Flavor:      flavor,
		Walltime:    "01:00",
		PBSWalltime: "02:00:00",
		QueryWait:   60 * time.Second,
		Grace:       15 * time.Minute,
		SlackFactor: 2,
	}
}

func TestSignatures(t *testing.T) {
	tests := []struct {
		name   string
		files  map[string]string
		crash  bool
		reason string
	}{
		{"missing output", map[string]string{"stdout": ""}, true, "files 'stdout/stderr' were not found"},
		{"clean", map[string]string{"stdout": "done\n", "stderr": ""}, false, ""},
		{"collective abort", map[string]string{"stdout": "rank 3 caused collective abort of all ranks\n", "stderr": ""}, true, "'Collective abort' found in stdout"},
		{"stderr error", map[string]string{"stdout": "", "stderr": "*** ERROR ***\n"}, true, "'*** ERROR ***' found in stderr"},
		{"fluidity log", map[string]string{"stdout": "", "stderr": "", "fluidity.err-0": "an error occurred\n"}, true, "'error' found in fluidity.err-*"},
		{"memory", map[string]string{"stdout": "", "stderr": "=>> PBS: job killed: mem 5gb exceeded limit 4gb\n"}, true, "memory limit was exceeded"},
		{"memory without limit", map[string]string{"stdout": "", "stderr": "PBS: job killed: mem\n"}, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			for n, c := range tt.files {
				writeFile(t, dir, n, c)
			}
			reason, crashed := Signatures(dir)
			if crashed != tt.crash {
				t.Fatalf("Signatures() crashed = %v, want %v (%s)", crashed, tt.crash, reason)
			}
			if reason != tt.reason {
				t.Errorf("Signatures() reason = %q, want %q", reason, tt.reason)
			}
		})
	}
}

func TestCheck_HeuristicFlagsEarlyStop(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "stdout", "")
	writeFile(t, dir, "stderr", "")
	writeFlml(t, dir, 50, 100, "")

	v, err := Check(dir, defaultParams(pbs.FlavorHector))
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if !v.Crashed || v.Quota {
		t.Fatalf("Check() = %+v, want crashed without quota", v)
	}
}

func TestCheck_FinishedRunIsClean(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "stdout", "")
	writeFile(t, dir, "stderr", "")
	writeFlml(t, dir, 100, 100, "")

	v, err := Check(dir, defaultParams(pbs.FlavorCX2))
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if v.Crashed {
		t.Errorf("Check() = %+v, want clean", v)
	}
}

func TestCheck_Quota(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "stdout", "write failed: Disk quota exceeded\n")
	writeFile(t, dir, "stderr", "")

	v, err := Check(dir, defaultParams(pbs.FlavorCX2))
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if !v.Crashed || !v.Quota {
		t.Errorf("Check() = %+v, want quota crash", v)
	}
}

func TestCheck_CX1NeedsNormalTermination(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "stdout", "PBS has allocated the following nodes\n")
	writeFile(t, dir, "stderr", "")

	v, err := Check(dir, defaultParams(pbs.FlavorCX1))
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if !v.Crashed {
		t.Errorf("Check() = %+v, want crashed", v)
	}
}

func TestStoppedEarly(t *testing.T) {
	p := defaultParams(pbs.FlavorCX2)
	tests := []struct {
		name string
		b    Budget
		want bool
	}{
		{
			name: "stopped well before pbs walltime",
			b:    Budget{SimTime: 50, FinishTime: 100, Elapsed: time.Hour, Requested: 2 * time.Hour},
			want: true,
		},
		{
			name: "ran into pbs walltime",
			b:    Budget{SimTime: 50, FinishTime: 100, Elapsed: 106 * time.Minute, Requested: 2 * time.Hour},
			want: false,
		},
		{
			name: "ran into wall_time_limit",
			b:    Budget{SimTime: 50, FinishTime: 100, WallTimeLimit: 3600, HasLimit: true, Elapsed: 59 * time.Minute, Requested: 2 * time.Hour},
			want: false,
		},
		{
			name: "stopped before wall_time_limit",
			b:    Budget{SimTime: 50, FinishTime: 100, WallTimeLimit: 7200, HasLimit: true, Elapsed: 30 * time.Minute, Requested: 24 * time.Hour},
			want: true,
		},
		{
			name: "reached finish time",
			b:    Budget{SimTime: 100, FinishTime: 100, Elapsed: time.Minute, Requested: 2 * time.Hour},
			want: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StoppedEarly(tt.b, p); got != tt.want {
				t.Errorf("StoppedEarly() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSteadyState(t *testing.T) {
	dir := t.TempDir()
	if SteadyState(dir) {
		t.Fatal("SteadyState() = true for empty dir")
	}
	writeFile(t, dir, "fluidity.err-0", "Steady state has been attained, exiting the timestep loop\n")
	if !SteadyState(dir) {
		t.Error("SteadyState() = false, want true")
	}
}
