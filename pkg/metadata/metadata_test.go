package metadata

import (
	"bufio"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"vkharvest/pkg/crawler"
	"vkharvest/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSummary() crawler.Summary {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return crawler.Summary{
		Reason:               crawler.StopFatal,
		Started:              start,
		Finished:             start.Add(90 * time.Second),
		Elapsed:              90 * time.Second,
		NewProfiles:          1,
		NewPosts:             180,
		Throughput:           2,
		RequestSleepInterval: 2 * time.Second,
		Sources:              []models.Source{{ID: "durov", Offset: 200}, {ID: "-1", Offset: 0}},
	}
}

func TestFromSummary(t *testing.T) {
	r := FromSummary(testSummary(), errors.New("vk api error 5: User authorization failed"))

	assert.Equal(t, "fatal", r.Reason)
	assert.Equal(t, "vk api error 5: User authorization failed", r.Error)
	assert.Equal(t, 90.0, r.ElapsedSeconds)
	assert.Equal(t, 90*time.Second, r.Elapsed())
	assert.Equal(t, "2s", r.RequestSleepInterval)
	assert.Equal(t, testSummary().Sources, r.Offsets())

	clean := FromSummary(crawler.Summary{Reason: crawler.StopShutdown}, nil)
	assert.Empty(t, clean.Error)
	assert.NotNil(t, clean.Sources)
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	assert.False(t, Exists(dir))

	first := FromSummary(testSummary(), nil)
	require.NoError(t, first.Save(dir))

	second := FromSummary(crawler.Summary{Reason: crawler.StopShutdown, NewPosts: 3}, nil)
	require.NoError(t, second.Save(dir))

	assert.True(t, Exists(dir))
	loaded, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "shutdown", loaded.Reason)
	assert.Equal(t, 3, loaded.NewPosts)

	f, err := os.Open(filepath.Join(dir, HistoryFile))
	require.NoError(t, err)
	defer f.Close()

	lines := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines++
	}
	require.NoError(t, scanner.Err())
	assert.Equal(t, 2, lines)
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(t.TempDir())
	assert.Error(t, err)
}
