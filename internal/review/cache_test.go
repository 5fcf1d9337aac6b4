package review

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/MotionWatch/internal/motion"
)

func cachePath(t *testing.T) string {
	return filepath.Join(t.TempDir(), "review", "cache.json")
}

func TestCacheRecordAndReload(t *testing.T) {
	path := cachePath(t)
	c, err := LoadCache(path, nil)
	require.NoError(t, err)

	at := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	d, err := c.Record(LocalDecision{ID: "curia:1-de", Status: motion.StatusApproved, DecidedAt: at})
	require.NoError(t, err)
	assert.Equal(t, SyncPending, d.Sync)

	_, err = c.Record(LocalDecision{ID: "curia:1-de", Status: motion.StatusRejected, DecidedAt: at.Add(-time.Hour)})
	require.NoError(t, err)

	require.NoError(t, c.SetQueue([]Item{{ID: "curia:1-de", Title: "Motion"}}, at))

	reloaded, err := LoadCache(path, nil)
	require.NoError(t, err)
	assert.False(t, reloaded.Discarded)
	got, ok := reloaded.Get("curia:1-de")
	require.True(t, ok)
	assert.Equal(t, motion.StatusApproved, got.Status, "older decision must not replace a newer one")
	assert.True(t, got.DecidedAt.Equal(at))

	snap, ok := reloaded.Queue()
	require.True(t, ok)
	assert.Len(t, snap.Items, 1)
	assert.Len(t, reloaded.Pending(), 1)

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file must be renamed away")
}

func TestCacheRecordValidates(t *testing.T) {
	c, err := LoadCache(cachePath(t), nil)
	require.NoError(t, err)

	_, err = c.Record(LocalDecision{ID: "no-colon", Status: motion.StatusApproved, DecidedAt: time.Now()})
	assert.Error(t, err)
	_, err = c.Record(LocalDecision{ID: "a:b", Status: "maybe", DecidedAt: time.Now()})
	assert.Error(t, err)
	_, err = c.Record(LocalDecision{ID: "a:b", Status: motion.StatusApproved})
	assert.Error(t, err)
	assert.Empty(t, c.Decisions())
}

func TestCacheDiscardsCorruptFiles(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"invalid json", `{"decisions": [`},
		{"merge conflict", "{\n<<<<<<< HEAD\n\"decisions\": []\n=======\n\"decisions\": null\n>>>>>>> theirs\n}"},
		{"bad decision", `{"decisions":[{"id":"x","status":"approved","decidedAt":"2026-01-01T00:00:00Z","sync":"pending"}]}`},
		{"unknown sync", `{"decisions":[{"id":"a:b","status":"approved","decidedAt":"2026-01-01T00:00:00Z","sync":"maybe"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "cache.json")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))

			c, err := LoadCache(path, nil)
			require.NoError(t, err)
			assert.True(t, c.Discarded)
			assert.Empty(t, c.Decisions())
			_, err = os.Stat(path)
			assert.True(t, os.IsNotExist(err))

			_, err = c.Record(LocalDecision{ID: "a:b", Status: motion.StatusQueued, DecidedAt: time.Now()})
			require.NoError(t, err, "a discarded cache is rebuilt on the next write")
		})
	}
}
