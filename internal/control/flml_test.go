package control

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleFlml = `<?xml version='1.0' encoding='utf-8'?>
<fluidity_options>
  <simulation_name>
    <string_value lines="1">channel</string_value>
  </simulation_name>
  <timestepping>
    <current_time>
      <real_value rank="0">%s</real_value>
    </current_time>
    <finish_time>
      <real_value rank="0">100.0</real_value>
    </finish_time>
    <wall_time_limit>
      <real_value rank="0">7200</real_value>
    </wall_time_limit>
  </timestepping>
  <mesh_adaptivity>
    <hr_adaptivity>
      <adapt_at_first_timestep/>
    </hr_adaptivity>
  </mesh_adaptivity>
</fluidity_options>
`

func writeFlml(t *testing.T, dir, name, current string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	content := []byte(fmt.Sprintf(sampleFlml, current))
	require.NoError(t, os.WriteFile(path, content, 0644))
	return path
}

func TestFile_GetSetDelete(t *testing.T) {
	path := writeFlml(t, t.TempDir(), "channel.flml", "0.0")

	f, err := Open(path)
	require.NoError(t, err)

	name, err := f.SimulationName()
	require.NoError(t, err)
	assert.Equal(t, "channel", name)

	finish, err := f.FinishTime()
	require.NoError(t, err)
	assert.Equal(t, 100.0, finish)

	limit, ok, err := f.WallTimeLimit()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 7200.0, limit)

	assert.False(t, f.HasFSIModel())
	assert.True(t, f.Has("/"+OptAdaptAtFirstTimestep))

	require.NoError(t, f.Set(OptSimulationName, "channel_autocheckp"))
	assert.True(t, f.Delete(OptAdaptAtFirstTimestep))
	assert.False(t, f.Delete(OptAdaptAtFirstTimestep))
	require.NoError(t, f.Save())

	reloaded, err := Open(path)
	require.NoError(t, err)
	name, err = reloaded.SimulationName()
	require.NoError(t, err)
	assert.Equal(t, "channel_autocheckp", name)
	assert.False(t, reloaded.Has(OptAdaptAtFirstTimestep))
}

func TestFile_MissingOption(t *testing.T) {
	f, err := Open(writeFlml(t, t.TempDir(), "a.flml", "0"))
	require.NoError(t, err)

	_, err = f.Get(OptFinalTimestep)
	assert.True(t, errors.Is(err, ErrOptionNotFound))
	assert.Error(t, f.Set(OptFinalTimestep, "1"))
}

func TestFindLatest(t *testing.T) {
	dir := t.TempDir()
	writeFlml(t, dir, "channel.flml", "0.0")
	writeFlml(t, dir, "channel_10_checkpoint.flml", "12.5")
	writeFlml(t, dir, "channel_5_checkpoint.flml", "6.0")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.flml"), []byte("<not xml"), 0644))

	latest, err := FindLatest(dir)
	require.NoError(t, err)
	assert.Equal(t, "channel_10_checkpoint.flml", latest)

	_, err = FindLatest(t.TempDir())
	assert.Error(t, err)
}
