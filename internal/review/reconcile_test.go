package review

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/MotionWatch/internal/motion"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func at(d time.Duration) *time.Time {
	v := t0.Add(d)
	return &v
}

func TestReconcileDropsPendingResolvedByServer(t *testing.T) {
	items := []Item{{ID: "s:1", Status: motion.StatusApproved, DecidedAt: at(time.Hour)}}
	local := []LocalDecision{{ID: "s:1", Status: motion.StatusRejected, DecidedAt: t0, Sync: SyncPending}}

	rec := Reconcile(items, local)
	require.Len(t, rec.Decisions, 1)
	assert.Equal(t, SyncServer, rec.Decisions[0].Sync)
	assert.Equal(t, 1, rec.Confirmed)
	assert.Equal(t, motion.StatusApproved, rec.Items[0].Status, "server state is not overwritten")
}

func TestReconcileNewestWins(t *testing.T) {
	items := []Item{
		{ID: "s:1", Status: motion.StatusQueued},
		{ID: "s:2", Status: motion.StatusRejected, DecidedAt: at(-time.Hour)},
		{ID: "s:3", Status: motion.StatusApproved, DecidedAt: at(time.Hour)},
	}
	local := []LocalDecision{
		{ID: "s:1", Status: motion.StatusApproved, DecidedAt: t0, Sync: SyncPending},
		{ID: "s:2", Status: motion.StatusApproved, DecidedAt: t0, Sync: SyncPending},
		{ID: "s:3", Status: motion.StatusRejected, DecidedAt: t0, Sync: SyncLocalOnly},
		{ID: "s:9", Status: motion.StatusApproved, DecidedAt: t0, Sync: SyncPending},
	}

	rec := Reconcile(items, local)
	assert.Equal(t, motion.StatusApproved, rec.Items[0].Status)
	assert.Equal(t, SyncPending, rec.Items[0].Sync)
	assert.Equal(t, motion.StatusApproved, rec.Items[1].Status, "local decision newer than the server's")
	assert.Equal(t, motion.StatusApproved, rec.Items[2].Status, "server decision newer than the local one")
	assert.Empty(t, rec.Items[2].Sync)
	assert.Len(t, rec.Decisions, 4, "decisions for unknown ids are kept")
	assert.Zero(t, rec.Confirmed)
}

func TestReconcileIsDeterministic(t *testing.T) {
	items := []Item{{ID: "s:1", Status: motion.StatusQueued}}
	local := []LocalDecision{{ID: "s:1", Status: motion.StatusRejected, DecidedAt: t0, Sync: SyncPending}}

	a := Reconcile(items, local)
	b := Reconcile(items, local)
	assert.Equal(t, a, b)
	assert.Equal(t, motion.StatusRejected, a.Items[0].Status)
	assert.Equal(t, motion.StatusQueued, items[0].Status, "input is not mutated")
}
