package models

import "testing"

func TestWalltimeSeconds(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"01:00", 3600, false},
		{"02:00:00", 7200, false},
		{"00:30:15", 1815, false},
		{"---", 0, true},
		{"12", 0, true},
	}
	for _, tt := range tests {
		got, err := WalltimeSeconds(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("WalltimeSeconds(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("WalltimeSeconds(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestStageResumes(t *testing.T) {
	if !StageHealthy.Resumes(StageFetch) {
		t.Error("healthy record should run every stage")
	}
	if !StageFetch.Resumes(StageFetch) {
		t.Error("fetch error should resume fetch")
	}
	if StageFetch.Resumes(StageSubmit) {
		t.Error("fetch error should not run submit")
	}
	if !StagePostprocess.Resumes(StageCrashCheck, StageAppend, StagePostprocess) {
		t.Error("extra stages should be accepted")
	}
}

func TestSimTimeValue(t *testing.T) {
	r := NewSimulationRecord("run1")
	if _, ok := r.SimTimeValue(); ok {
		t.Error("new record should have unknown sim time")
	}
	r.SetSimTime(50.5)
	v, ok := r.SimTimeValue()
	if !ok || v != 50.5 {
		t.Errorf("SimTimeValue = %v,%v, want 50.5,true", v, ok)
	}
}
