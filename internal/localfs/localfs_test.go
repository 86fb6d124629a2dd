package localfs

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func touch(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, n := range names {
		if err := os.WriteFile(filepath.Join(dir, n), []byte(n), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestGlob(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "run_1.vtu", "run_0.vtu", "run_autocheckp_0.vtu", "run_solid_a_0.vtu", "run.stat")

	tests := []struct {
		pattern string
		exclude []string
		want    []string
	}{
		{"run*vtu", nil, []string{"run_0.vtu", "run_1.vtu", "run_autocheckp_0.vtu", "run_solid_a_0.vtu"}},
		{"run*vtu", []string{"autocheckp", "solid"}, []string{"run_0.vtu", "run_1.vtu"}},
		{"*.stat", nil, []string{"run.stat"}},
		{"*.pvtu", nil, nil},
	}
	for _, tt := range tests {
		got, err := Glob(dir, tt.pattern, tt.exclude...)
		if err != nil {
			t.Fatalf("Glob(%q) error = %v", tt.pattern, err)
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Glob(%q, %v) = %v, want %v", tt.pattern, tt.exclude, got, tt.want)
		}
	}

	if got, err := Glob(filepath.Join(dir, "missing"), "*"); err != nil || got != nil {
		t.Errorf("Glob on missing dir = %v, %v; want nil, nil", got, err)
	}
}

func TestRemoveMatching(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "a_checkpoint.flml", "b_checkpoint_0.vtu", "keep.flml")
	if err := os.Mkdir(filepath.Join(dir, "c_checkpoint_dir"), 0755); err != nil {
		t.Fatal(err)
	}

	removed, err := RemoveMatching(dir, "*_checkpoint*")
	if err != nil {
		t.Fatal(err)
	}
	if len(removed) != 3 {
		t.Errorf("removed %v, want 3 entries", removed)
	}
	if !Exists(filepath.Join(dir, "keep.flml")) {
		t.Error("keep.flml was removed")
	}
}

func TestCopyAndAppend(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	if err := os.WriteFile(src, []byte("abc"), 0644); err != nil {
		t.Fatal(err)
	}
	past := time.Now().Add(-time.Hour).Truncate(time.Second)
	if err := os.Chtimes(src, past, past); err != nil {
		t.Fatal(err)
	}

	if err := CopyFile(src, dst); err != nil {
		t.Fatalf("CopyFile() error = %v", err)
	}
	st, _ := os.Stat(dst)
	if !st.ModTime().Equal(past) {
		t.Errorf("mod time = %v, want %v", st.ModTime(), past)
	}

	if err := AppendFile(dst, src); err != nil {
		t.Fatalf("AppendFile() error = %v", err)
	}
	data, _ := os.ReadFile(dst)
	if string(data) != "abcabc" {
		t.Errorf("content = %q, want abcabc", data)
	}
}
