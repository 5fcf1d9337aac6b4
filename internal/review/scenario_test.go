package review_test

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/MotionWatch/internal/database"
	"github.com/TobiSchelling/MotionWatch/internal/motion"
	"github.com/TobiSchelling/MotionWatch/internal/retry"
	"github.com/TobiSchelling/MotionWatch/internal/review"
	"github.com/TobiSchelling/MotionWatch/internal/server"
)

func TestOfflineApprovalSyncsOnce(t *testing.T) {
	ctx := context.Background()
	db, err := database.Open(filepath.Join(t.TempDir(), "server.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.UpsertMotion(ctx, database.ScoredRecord{
		Record: motion.RawRecord{SourceID: "curia", ExternalID: "4711-de", Title: "Motion Klima", Language: "de", Confidence: 1},
		Score:  0.5, Status: motion.StatusQueued, Reason: "score 0.50 >= threshold 0.50 (matched: klima, energie)",
	})
	require.NoError(t, err)

	srv, err := server.New(db)
	require.NoError(t, err)

	cache, err := review.LoadCache(filepath.Join(t.TempDir(), "cache.json"), nil)
	require.NoError(t, err)

	// Offline: the server address refuses connections.
	offline := httptest.NewServer(srv.Handler())
	offlineURL := offline.URL
	offline.Close()

	decidedAt := time.Date(2026, 3, 1, 9, 15, 0, 0, time.UTC)
	_, err = cache.Record(review.LocalDecision{ID: "curia:4711-de", Status: motion.StatusApproved, DecidedAt: decidedAt, Reviewer: "anna"})
	require.NoError(t, err)

	policy := retry.DefaultPolicy()
	policy.Retries = 0

	res, err := review.NewSyncer(cache, review.NewClient(offlineURL, nil), policy, 5, nil).SyncOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Pending)
	pending, _ := cache.Get("curia:4711-de")
	assert.Equal(t, review.SyncPending, pending.Sync)

	// Back online.
	online := httptest.NewServer(srv.Handler())
	defer online.Close()
	syncer := review.NewSyncer(cache, review.NewClient(online.URL, nil), policy, 5, nil)

	res, err = syncer.SyncOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Synced)

	res, err = syncer.SyncOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Synced, "nothing left to push")

	var human []motion.Review
	reviews, err := db.Reviews(ctx, "curia:4711-de")
	require.NoError(t, err)
	for _, r := range reviews {
		if r.Reviewer == "anna" {
			human = append(human, r)
		}
	}
	require.Len(t, human, 1)
	assert.True(t, human[0].DecidedAt.Equal(decidedAt), "original decidedAt is kept")

	st, err := db.StatusOf(ctx, "curia:4711-de")
	require.NoError(t, err)
	assert.Equal(t, motion.StatusApproved, st)

	synced, _ := cache.Get("curia:4711-de")
	assert.Equal(t, review.SyncServer, synced.Sync)

	view, err := review.LoadQueue(ctx, review.NewClient(online.URL, nil), cache, review.QueueOptions{IncludeDecided: true}, time.Now())
	require.NoError(t, err)
	require.Len(t, view.Items, 1)
	assert.Equal(t, motion.StatusApproved, view.Items[0].Status)
	assert.Empty(t, view.Items[0].Sync)
}
