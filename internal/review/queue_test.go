package review

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/MotionWatch/internal/motion"
)

func ids(items []Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func TestBuildQueueMergesAffairLanguages(t *testing.T) {
	items := []Item{
		{ID: "curia:12345-fr", SourceID: "curia", ExternalID: "12345-fr", AffairID: "12345", Language: "fr", Title: "Motion climat", URL: "https://parl.example/fr/12345", Status: motion.StatusQueued, Score: 0.5, Confidence: 1},
		{ID: "curia:12345-de", SourceID: "curia", ExternalID: "12345-de", AffairID: "12345", Language: "de", Title: "Motion Klima", URL: "https://parl.example/de/12345", Status: motion.StatusQueued, Score: 0.75, Confidence: 1},
	}

	queue := BuildQueue(items, QueueOptions{Languages: []string{"de", "fr"}})
	require.Len(t, queue, 1)
	assert.Equal(t, "curia:12345-de", queue[0].ID)
	require.Len(t, queue[0].Variants, 1)
	assert.Equal(t, "fr", queue[0].Variants[0].Language)

	queue = BuildQueue(items, QueueOptions{Languages: []string{"fr", "de"}})
	require.Len(t, queue, 1)
	assert.Equal(t, "curia:12345-fr", queue[0].ID)
	assert.Equal(t, 0.75, queue[0].Score)
}

func TestBuildQueueGroupsOnlyByAffair(t *testing.T) {
	items := []Item{
		{ID: "feedA:2024-001", SourceID: "feedA", ExternalID: "2024-001", Language: "de", Title: "Energie", URL: "https://a.example/1", Status: motion.StatusQueued},
		{ID: "feedA:2024-002", SourceID: "feedA", ExternalID: "2024-002", Language: "de", Title: "Verkehr", URL: "https://a.example/2", Status: motion.StatusQueued},
		{ID: "feedB:2024-777", SourceID: "feedB", ExternalID: "2024-777", Language: "de", Title: "Klima", URL: "https://b.example/777", Status: motion.StatusQueued},
	}

	queue := BuildQueue(items, QueueOptions{Languages: []string{"de"}})
	assert.ElementsMatch(t, []string{"feedA:2024-001", "feedA:2024-002", "feedB:2024-777"}, ids(queue))
	for _, it := range queue {
		assert.Empty(t, it.Variants, it.ID)
	}
}

func TestBuildQueueSuppressesDecidedSiblings(t *testing.T) {
	decided := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	items := []Item{
		{ID: "curia:7-de", AffairID: "7", Language: "de", Title: "A", URL: "https://p.example/7de", Status: motion.StatusQueued},
		{ID: "curia:7-fr", AffairID: "7", Language: "fr", Title: "B", URL: "https://p.example/7fr", Status: motion.StatusRejected, DecidedAt: &decided, Reviewer: "anna"},
		{ID: "curia:8-de", AffairID: "8", Language: "de", Title: "C", URL: "https://p.example/8", Status: motion.StatusQueued},
	}

	open := BuildQueue(items, QueueOptions{Languages: []string{"de"}})
	assert.Equal(t, []string{"curia:8-de"}, ids(open))

	all := BuildQueue(items, QueueOptions{Languages: []string{"de"}, IncludeDecided: true})
	require.Len(t, all, 2)
	var seven Item
	for _, it := range all {
		if it.AffairID == "7" {
			seven = it
		}
	}
	assert.Equal(t, "curia:7-de", seven.ID)
	assert.Equal(t, motion.StatusRejected, seven.Status)
	assert.Equal(t, "anna", seven.Reviewer)
}

func TestBuildQueueDedupSortAndLimit(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	items := []Item{
		{ID: "feed:a", SourceID: "feed", URL: "https://www.parl.example/m/1?utm_source=x", Title: "Same", Status: motion.StatusQueued, Score: 0.25, UpdatedAt: now},
		{ID: "portal:b", SourceID: "portal", URL: "https://parl.example/m/1", Title: "Same", Status: motion.StatusQueued, Score: 0.5, UpdatedAt: now},
		{ID: "feed:c", SourceID: "feed", URL: "https://parl.example/m/2", Title: "Other", Status: motion.StatusQueued, Score: 0.25, Fastlane: true, UpdatedAt: now},
		{ID: "feed:d", SourceID: "feed", URL: "https://parl.example/m/3", Title: "Third", Status: motion.StatusNew, Score: 0.75, UpdatedAt: now},
	}

	queue := BuildQueue(items, QueueOptions{})
	assert.Equal(t, []string{"feed:c", "feed:d", "portal:b"}, ids(queue))

	limited := BuildQueue(items, QueueOptions{Limit: 2})
	assert.Equal(t, []string{"feed:c", "feed:d"}, ids(limited))
}
