package crawler

import (
	"path/filepath"
	"testing"

	"vkharvest/pkg/checkpoint"
	"vkharvest/pkg/logger"
	"vkharvest/pkg/models"
	"vkharvest/pkg/retry"
	"vkharvest/pkg/storage"
	"vkharvest/pkg/vk"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// diskRun performs one crawl against real checkpoint and CSV files in dir
func diskRun(t *testing.T, dir string, profileScript []vk.Result[[]vk.User], postScript []vk.Result[vk.WallPage]) (*harness, Summary) {
	t.Helper()
	h := newHarness(t)
	h.client.profiles = profileScript
	h.client.posts = postScript

	checkpoints, err := checkpoint.NewManager(filepath.Join(dir, "state"), logger.NewNopLogger())
	require.NoError(t, err)
	output, err := storage.NewManager(dir, "users.csv", "posts.csv")
	require.NoError(t, err)
	defer func() { require.NoError(t, output.Close()) }()

	c, err := New(Dependencies{
		Client:      h.client,
		Checkpoints: checkpoints,
		Output:      output,
		Sleeper:     h.sleeper,
		Logger:      h.log,
		SaveBackoff: &retry.ConstantBackoff{},
	}, Options{Sources: []string{"durov"}, FetchProfiles: true})
	require.NoError(t, err)

	summary, err := c.Run(h.ctx)
	require.NoError(t, err)
	return h, summary
}

func readPostKeys(t *testing.T, dir string) []string {
	t.Helper()
	var keys []string
	err := storage.ScanFile(filepath.Join(dir, "posts.csv"), len(models.PostHeader), func(row []string) {
		if key, ok := models.PostKeyFromRow(row); ok {
			keys = append(keys, key)
		}
	})
	require.NoError(t, err)
	return keys
}

func TestResume(t *testing.T) {
	dir := t.TempDir()
	user := profiles(vk.User{ID: 1, Domain: "durov"})

	// First run
	_, summary := diskRun(t, dir,
		[]vk.Result[[]vk.User]{user},
		[]vk.Result[vk.WallPage]{wallPage(textPost(1, 1, "one"), textPost(1, 2, "two"))},
	)
	assert.Equal(t, 1, summary.NewProfiles)
	assert.Equal(t, 2, summary.NewPosts)
	assert.Equal(t, []string{"1_1", "1_2"}, readPostKeys(t, dir))

	// Second run continues from the saved offset. The wall shifted, so
	// one known post comes back.
	h, summary := diskRun(t, dir,
		[]vk.Result[[]vk.User]{user},
		[]vk.Result[vk.WallPage]{wallPage(textPost(1, 2, "two"), textPost(1, 3, "three"))},
	)
	calls := h.client.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, 2, calls[0].Offset)
	assert.Equal(t, 0, summary.NewProfiles)
	assert.Equal(t, 1, summary.NewPosts)
	assert.Equal(t, []string{"1_1", "1_2", "1_3"}, readPostKeys(t, dir))

	// Checkpoints lost: the seen sets are rebuilt from the CSV files
	checkpoints, err := checkpoint.NewManager(filepath.Join(dir, "state"), logger.NewNopLogger())
	require.NoError(t, err)
	for _, key := range []string{checkpoint.KeyPostIDs, checkpoint.KeyProfileIDs, checkpoint.KeyOffsets} {
		require.NoError(t, checkpoints.Delete(key))
	}

	h, summary = diskRun(t, dir,
		[]vk.Result[[]vk.User]{user},
		[]vk.Result[vk.WallPage]{wallPage(textPost(1, 1, "one"), textPost(1, 2, "two"), textPost(1, 3, "three"))},
	)
	assert.Equal(t, 0, h.client.calls()[0].Offset)
	assert.Equal(t, 0, summary.NewProfiles)
	assert.Equal(t, 0, summary.NewPosts)
	assert.Equal(t, []string{"1_1", "1_2", "1_3"}, readPostKeys(t, dir))
	assert.True(t, h.log.HasMessage("Recovered ids from output"))

	var saved []string
	found, err := checkpoints.Load(checkpoint.KeyPostIDs, &saved)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []string{"1_1", "1_2", "1_3"}, saved)

	offsets, err := checkpoints.LoadOffsets(1)
	require.NoError(t, err)
	assert.Equal(t, []int{3}, offsets)
}
