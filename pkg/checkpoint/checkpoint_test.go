package checkpoint

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"vkharvest/pkg/logger"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	mgr, err := NewManager(t.TempDir(), logger.NewNopLogger())
	require.NoError(t, err)
	return mgr
}

func TestLoadMissingKey(t *testing.T) {
	mgr := newTestManager(t)

	var ids []string
	found, err := mgr.Load(KeyPostIDs, &ids)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, ids)
	assert.False(t, mgr.Exists(KeyPostIDs))
}

func TestSaveAndLoadIDs(t *testing.T) {
	mgr := newTestManager(t)

	require.NoError(t, mgr.SaveIDs(KeyPostIDs, []string{"-1_3", "-1_1", "5_2"}))
	assert.True(t, mgr.Exists(KeyPostIDs))

	ids, err := mgr.LoadIDs(KeyPostIDs)
	require.NoError(t, err)
	assert.Equal(t, []string{"-1_1", "-1_3", "5_2"}, ids)
}

func TestSaveLeavesNoTempFile(t *testing.T) {
	mgr := newTestManager(t)

	require.NoError(t, mgr.SaveOffsets([]int{100, 0}))

	entries, err := os.ReadDir(mgr.Dir())
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp")
	}
}

func TestSaveOverwritesPreviousVersion(t *testing.T) {
	mgr := newTestManager(t)

	require.NoError(t, mgr.SaveOffsets([]int{100}))
	require.NoError(t, mgr.SaveOffsets([]int{200}))

	offsets, err := mgr.LoadOffsets(1)
	require.NoError(t, err)
	assert.Equal(t, []int{200}, offsets)
}

func TestLoadOffsetsPositional(t *testing.T) {
	tests := []struct {
		name  string
		saved []int
		n     int
		want  []int
	}{
		{name: "nothing saved", saved: nil, n: 3, want: []int{0, 0, 0}},
		{name: "shorter saved list", saved: []int{300, 100}, n: 3, want: []int{300, 100, 0}},
		{name: "longer saved list", saved: []int{300, 100, 50}, n: 2, want: []int{300, 100}},
		{name: "exact", saved: []int{1, 2}, n: 2, want: []int{1, 2}},
		{name: "negative entries clamp to zero", saved: []int{-5}, n: 1, want: []int{0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mgr := newTestManager(t)
			if tt.saved != nil {
				require.NoError(t, mgr.SaveOffsets(tt.saved))
			}

			got, err := mgr.LoadOffsets(tt.n)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadCorruptCheckpoint(t *testing.T) {
	mgr := newTestManager(t)
	require.NoError(t, os.WriteFile(filepath.Join(mgr.Dir(), KeyOffsets+".json"), []byte("{not json"), 0644))

	_, err := mgr.LoadOffsets(2)
	assert.Error(t, err)
}

func TestLoadRejectsFutureVersion(t *testing.T) {
	mgr := newTestManager(t)
	content := `{"version": 99, "key": "offset_list", "data": [1]}`
	require.NoError(t, os.WriteFile(filepath.Join(mgr.Dir(), KeyOffsets+".json"), []byte(content), 0644))

	var offsets []int
	_, err := mgr.Load(KeyOffsets, &offsets)
	assert.ErrorContains(t, err, "unsupported version")
}

func TestDeleteAndBackup(t *testing.T) {
	mgr := newTestManager(t)
	require.NoError(t, mgr.SaveIDs(KeyProfileIDs, []string{"1"}))

	require.NoError(t, mgr.Backup(KeyProfileIDs))
	_, err := os.Stat(filepath.Join(mgr.Dir(), KeyProfileIDs+".json.backup"))
	require.NoError(t, err)

	require.NoError(t, mgr.Delete(KeyProfileIDs))
	assert.False(t, mgr.Exists(KeyProfileIDs))

	// deleting twice is not an error
	require.NoError(t, mgr.Delete(KeyProfileIDs))
	// backing up a missing key is a no-op
	require.NoError(t, mgr.Backup(KeyProfileIDs))
}

func TestInfo(t *testing.T) {
	mgr := newTestManager(t)
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	mgr.now = func() time.Time { return fixed }

	info, err := mgr.Info(KeyPostIDs)
	require.NoError(t, err)
	assert.Nil(t, info)

	require.NoError(t, mgr.SaveIDs(KeyPostIDs, []string{"a", "b", "c"}))
	info, err = mgr.Info(KeyPostIDs)
	require.NoError(t, err)
	assert.Equal(t, 3, info["entries"])
	assert.Equal(t, CurrentVersion, info["version"])
	assert.Equal(t, fixed, info["updated_at"])
}

func TestNewManagerDefaultDirectory(t *testing.T) {
	if os.Getenv("XDG_DATA_HOME") == "" && os.Getenv("HOME") == "" {
		t.Skip("no home directory")
	}
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	mgr, err := NewManager("", logger.NewNopLogger())
	require.NoError(t, err)
	assert.Contains(t, mgr.Dir(), "vkharvest")
}
