package workspace

import (
	"archive/tar"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func archiveEntries(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	tr := tar.NewReader(gz)

	var names []string
	for {
		h, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		names = append(names, h.Name)
	}
	sort.Strings(names)
	return names
}

func TestDiscover(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "run1", ScriptName), "")
	touch(t, filepath.Join(root, "run2", ScriptName), "")
	touch(t, filepath.Join(root, "other", ScriptName), "")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "run3"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, LogDirName), 0755))

	l := NewLayout(root)
	dirs, err := l.Discover("run")
	require.NoError(t, err)
	assert.Equal(t, []string{"run1", "run2"}, dirs)

	dirs, err = l.Discover("*")
	require.NoError(t, err)
	assert.Equal(t, []string{"other", "run1", "run2"}, dirs)

	require.NoError(t, l.Prepare(dirs))
	assert.DirExists(t, l.BackupDir("run1"))
	assert.DirExists(t, l.LogDir())
}

func TestParseCheckpoint(t *testing.T) {
	c, err := ParseCheckpoint("lock_exchange_12_checkpoint.flml")
	require.NoError(t, err)
	assert.Equal(t, Checkpoint{Base: "lock_exchange", Number: "12"}, c)
	assert.Equal(t, "lock_exchange*12_checkpoint*", c.Glob())

	_, err = ParseCheckpoint("lock_exchange.flml")
	assert.Error(t, err)
}

func TestPatterns(t *testing.T) {
	p, err := OutPatterns("channel.flml", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"*"}, p.Include)
	assert.Equal(t, []string{"bkup", "*"}, p.Exclude)

	p, err = OutPatterns("channel_3_checkpoint.flml", 4.5)
	require.NoError(t, err)
	assert.Equal(t, []string{"channel*3_checkpoint*", "pbs.sh"}, p.Include)

	_, err = OutPatterns("channel.flml", -1)
	assert.Error(t, err)

	in := InPatterns("channel_autocheckp", true)
	assert.Equal(t, []string{"channel_autocheckp*", "first_timestep_adapted_mesh*", "pbs.sh"}, in.Include)
	in = InPatterns("channel_autocheckp", false)
	assert.Contains(t, in.Include, "stdout")
	assert.Contains(t, in.Include, "fluidity.*")
	assert.Equal(t, []string{"*"}, in.Exclude)
}

func TestArchive(t *testing.T) {
	root := t.TempDir()
	l := NewLayout(root)
	dir := "run1"
	for _, n := range []string{"channel.flml", "pbs.sh", "Makefile", "mesh.msh", "channel_3_checkpoint.flml", "channel_3_checkpoint_0.vtu", "channel_2_checkpoint.flml"} {
		touch(t, filepath.Join(l.JobDir(dir), n), n)
	}
	touch(t, filepath.Join(l.BackupDir(dir), "old.stat"), "x")

	path, err := l.Archive(dir, "channel.flml", 0)
	require.NoError(t, err)
	entries := archiveEntries(t, path)
	assert.Contains(t, entries, "run1/mesh.msh")
	assert.NotContains(t, entries, "run1/bkup")
	assert.NotContains(t, entries, "run1/bkup/old.stat")

	path, err = l.Archive(dir, "channel_3_checkpoint.flml", 3)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"run1/Makefile",
		"run1/channel_3_checkpoint.flml",
		"run1/channel_3_checkpoint_0.vtu",
		"run1/pbs.sh",
	}, archiveEntries(t, path))
}

func TestCleanAndBackup(t *testing.T) {
	root := t.TempDir()
	l := NewLayout(root)
	dir := "run1"
	jobDir := l.JobDir(dir)

	touch(t, filepath.Join(jobDir, "channel.stat"), "merged")
	touch(t, filepath.Join(jobDir, "channel_autocheckp.stat"), "second run")
	touch(t, filepath.Join(jobDir, "channel_autocheckp.detectors"), "d")
	touch(t, filepath.Join(jobDir, "channel_5_checkpoint.flml"), "cp")
	touch(t, filepath.Join(jobDir, "fluidity.log-0"), "log")
	touch(t, filepath.Join(l.BackupDir(dir), mostRecentArchive), "older")
	touch(t, filepath.Join(l.BackupDir(dir), "channel.stat"), "first")
	archive := l.ArchivePath(dir)
	touch(t, archive, "newer")

	require.NoError(t, l.CleanAndBackup(dir, "channel_autocheckp", archive))

	bkup := l.BackupDir(dir)
	assert.NoFileExists(t, filepath.Join(jobDir, "channel_5_checkpoint.flml"))
	assert.NoFileExists(t, filepath.Join(jobDir, "fluidity.log-0"))
	assert.NoFileExists(t, filepath.Join(jobDir, "channel_autocheckp.stat"))
	assert.NoFileExists(t, archive)

	data, err := os.ReadFile(filepath.Join(bkup, mostRecentArchive))
	require.NoError(t, err)
	assert.Equal(t, "newer", string(data))
	data, err = os.ReadFile(filepath.Join(bkup, previousArchive))
	require.NoError(t, err)
	assert.Equal(t, "older", string(data))

	// bkup holds channel.stat only, so the indexed copy is the first one and
	// is taken from the merged series.
	data, err = os.ReadFile(filepath.Join(bkup, "channel_autocheckp_0.stat"))
	require.NoError(t, err)
	assert.Equal(t, "merged", string(data))
	data, err = os.ReadFile(filepath.Join(bkup, "channel.stat"))
	require.NoError(t, err)
	assert.Equal(t, "merged", string(data))
}

func TestFixMarker(t *testing.T) {
	root := t.TempDir()
	l := NewLayout(root)
	dir := "run1"
	touch(t, filepath.Join(l.JobDir(dir), "stdout"), "")
	touch(t, filepath.Join(l.JobDir(dir), "stderr"), "")

	fixed, err := l.TakeFixMarker(dir)
	require.NoError(t, err)
	assert.False(t, fixed)
	assert.FileExists(t, filepath.Join(l.JobDir(dir), "stdout"))

	require.NoError(t, l.MarkFixed(dir))
	fixed, err = l.TakeFixMarker(dir)
	require.NoError(t, err)
	assert.True(t, fixed)
	for _, n := range []string{FixMarker, "stdout", "stderr"} {
		assert.NoFileExists(t, filepath.Join(l.JobDir(dir), n))
	}

	assert.Error(t, l.MarkFixed("missing"))
}

const prevFlml = `<?xml version='1.0' encoding='utf-8'?>
<fluidity_options>
  <simulation_name>
    <string_value lines="1">channel_autocheckp</string_value>
  </simulation_name>
</fluidity_options>
`

func TestRemovePreviousOutputs(t *testing.T) {
	root := t.TempDir()
	l := NewLayout(root)
	dir := "run1"
	jobDir := l.JobDir(dir)
	touch(t, filepath.Join(jobDir, ScriptName), "#PBS -N channel\nPROJECT=channel_4_checkpoint.flml\nmpiexec ./fluidity $PROJECT\n")
	touch(t, filepath.Join(jobDir, "channel_4_checkpoint.flml"), prevFlml)
	touch(t, filepath.Join(jobDir, "channel_autocheckp.stat"), "")
	touch(t, filepath.Join(jobDir, "channel_autocheckp_0.vtu"), "")
	touch(t, filepath.Join(jobDir, "channel.stat"), "")

	removed, err := l.RemovePreviousOutputs(dir)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"channel_autocheckp.stat", "channel_autocheckp_0.vtu"}, removed)
	assert.FileExists(t, filepath.Join(jobDir, "channel.stat"))
}

func TestScriptControlFile(t *testing.T) {
	root := t.TempDir()
	l := NewLayout(root)
	touch(t, filepath.Join(l.JobDir("a"), ScriptName), "mpiexec ./fluidity -v2 -l channel.flml\n")
	name, err := l.ScriptControlFile("a")
	require.NoError(t, err)
	assert.Equal(t, "channel.flml", name)

	touch(t, filepath.Join(l.JobDir("b"), ScriptName), "cp a.flml b.flml\nmpiexec ./fluidity b.flml\n")
	_, err = l.ScriptControlFile("b")
	assert.Error(t, err)
}
