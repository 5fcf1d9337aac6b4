package dedup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/MotionWatch/internal/motion"
)

func TestNormalizeURLRoundTrip(t *testing.T) {
	variants := []string{
		"https://www.parlament.example/affair/12345/",
		"https://parlament.example:443/affair/12345",
		"https://parlament.example/affair/12345?utm_source=newsletter&utm_medium=mail",
		"http://WWW.Parlament.example:80/affair/12345/?utm_campaign=x&fbclid=abc",
		"https://m.parlament.example/affair/12345/index.html",
		"https://amp.parlament.example/affair/12345#section",
	}
	want, ok := NormalizeURL(variants[0])
	require.True(t, ok)
	assert.Equal(t, "parlament.example/affair/12345", want)

	for _, v := range variants[1:] {
		got, ok := NormalizeURL(v)
		require.True(t, ok, v)
		assert.Equal(t, want, got, v)
	}
}

func TestNormalizeURLQueryHandling(t *testing.T) {
	a, _ := NormalizeURL("https://example.org/search?b=2&a=1&gclid=zz")
	b, _ := NormalizeURL("https://example.org/search?a=1&b=2")
	assert.Equal(t, a, b)
	assert.Equal(t, "example.org/search?a=1&b=2", a)

	c, _ := NormalizeURL("https://example.org:8443/x")
	assert.Equal(t, "example.org:8443/x", c)

	for _, bad := range []string{"", "not a url", "mailto:x@example.org", "/relative/path", "javascript:alert(1)"} {
		_, ok := NormalizeURL(bad)
		assert.False(t, ok, bad)
	}
}

func TestNormalizeTitle(t *testing.T) {
	assert.Equal(t, "energiestrategie 2050 revision", NormalizeTitle("  Énergiestratégie 2050 — Révision!!", "fr"))
	assert.Equal(t, "zurcher straßen", NormalizeTitle("Zürcher   Straßen", "de"))
	assert.Equal(t, NormalizeTitle("Motion: Pflege-Initiative", "de"), NormalizeTitle("MOTION  pflege initiative", "de"))
	assert.Equal(t, "", NormalizeTitle(" -- !! ", ""))
}

func candidate(id, url, title string, status motion.Status, score float64, updated time.Time) Candidate {
	return Candidate{ID: id, SourceID: "s", URL: url, Title: title, Status: status, Score: score, UpdatedAt: updated}
}

func TestVisibleTieBreak(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		items  []Candidate
		winner string
	}{
		{
			name: "status rank first",
			items: []Candidate{
				candidate("a", "https://x.org/1", "T", motion.StatusQueued, 1.0, now),
				candidate("b", "https://www.x.org/1/", "T", motion.StatusApproved, 0.1, now.Add(-time.Hour)),
			},
			winner: "b",
		},
		{
			name: "score second",
			items: []Candidate{
				candidate("a", "https://x.org/1", "T", motion.StatusQueued, 0.25, now),
				candidate("b", "https://x.org/1?utm_source=a", "T", motion.StatusNew, 0.75, now.Add(-time.Hour)),
			},
			winner: "b",
		},
		{
			name: "id breaks full ties",
			items: []Candidate{
				candidate("b", "", "Same Title!", motion.StatusQueued, 0.5, now),
				candidate("a", "", "Same title", motion.StatusQueued, 0.5, now),
			},
			winner: "a",
		},
		{
			name: "recency last",
			items: []Candidate{
				candidate("a", "https://x.org/1", "T", motion.StatusQueued, 0.5, now.Add(-time.Hour)),
				candidate("b", "https://x.org/1", "T", motion.StatusQueued, 0.5, now),
			},
			winner: "b",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Visible(tt.items, func(c Candidate) Candidate { return c })
			require.Len(t, got, 1)
			assert.Equal(t, tt.winner, got[0].ID)
		})
	}
}

func TestVisibleSafeURLBeatsUnsafeInTitleGroup(t *testing.T) {
	now := time.Now()
	a := Candidate{ID: "a", SourceID: "s", URL: "https://x.org/rail", Title: "Motion on rail", Status: motion.StatusQueued, Score: 0.5, UpdatedAt: now}
	b := Candidate{ID: "b", SourceID: "s", URL: "notaurl", Title: "Motion on rail", Status: motion.StatusQueued, Score: 0.5, UpdatedAt: now.Add(time.Hour)}
	assert.True(t, Better(a, b))
	assert.False(t, Better(b, a))
	assert.False(t, SafeURL(b.URL))
}

func TestVisibleIsFixedPoint(t *testing.T) {
	now := time.Now()
	items := []Candidate{
		candidate("a", "https://x.org/1", "One", motion.StatusQueued, 0.5, now),
		candidate("b", "https://www.x.org/1/", "One", motion.StatusQueued, 0.75, now),
		candidate("c", "", "Two", motion.StatusRejected, 0, now),
		candidate("d", "", "two", motion.StatusQueued, 0, now),
		candidate("e", "", "", motion.StatusNew, 0, now),
	}
	view := func(c Candidate) Candidate { return c }

	once := Visible(items, view)
	twice := Visible(once, view)
	assert.Equal(t, once, twice)
	assert.Len(t, once, 3)

	hidden := Hidden(items, view)
	assert.Equal(t, map[string]string{"a": "b", "c": "d"}, hidden)
	assert.Len(t, items, 5, "input must not be modified")
}

func TestMergeAffairsAcrossSources(t *testing.T) {
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	variants := []motion.Variant{
		{SourceID: "curia-fr", ExternalID: "12345-fr", Language: "fr", Title: "Motion transport", Confidence: 1, UpdatedAt: now.Add(time.Hour)},
		{SourceID: "curia-de", ExternalID: "12345-de", Language: "de", Title: "Motion Verkehr", Confidence: 1, UpdatedAt: now},
		{SourceID: "curia-de", ExternalID: "777-de", Language: "de", Title: "Andere"},
		{SourceID: "rss", ExternalID: "guid-abc", Language: "de", Title: "Loose"},
	}

	affairs, loose := MergeAffairs(variants, Preference{Languages: []string{"de", "fr", "it"}})
	require.Len(t, affairs, 2)
	require.Len(t, loose, 1)
	assert.Equal(t, "guid-abc", loose[0].ExternalID)

	affair := affairs[0]
	assert.Equal(t, "12345", affair.ID)
	assert.Equal(t, "de", affair.Best.Language)
	assert.Equal(t, "12345-de", affair.Best.ExternalID)
	require.Len(t, affair.Alternates, 1)
	assert.Equal(t, "12345-fr", affair.Alternates[0].ExternalID)

	// French first when preferred.
	affairs, _ = MergeAffairs(variants, Preference{Languages: []string{"fr", "de"}})
	assert.Equal(t, "fr", affairs[0].Best.Language)
	assert.Len(t, affairs[0].Alternates, 1)
}

func TestMergeAffairsPrefersConfidenceThenRecency(t *testing.T) {
	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	pref := Preference{Languages: []string{"de"}}

	affairs, _ := MergeAffairs([]motion.Variant{
		{SourceID: "a", ExternalID: "1-de", Language: "de", Confidence: 0.4, UpdatedAt: old.Add(time.Hour)},
		{SourceID: "b", ExternalID: "1-de", Language: "de", Confidence: 0.9, UpdatedAt: old},
	}, pref)
	assert.Equal(t, "b", affairs[0].Best.SourceID)

	affairs, _ = MergeAffairs([]motion.Variant{
		{SourceID: "a", ExternalID: "1-de", Language: "de", Confidence: 0.9, UpdatedAt: old},
		{SourceID: "b", ExternalID: "1-de", Language: "de", Confidence: 0.9, UpdatedAt: old.Add(time.Hour)},
	}, pref)
	assert.Equal(t, "b", affairs[0].Best.SourceID)
}

func TestMergeAffairsIsIdempotent(t *testing.T) {
	variants := []motion.Variant{
		{SourceID: "x", ExternalID: "9-it", Language: "it"},
		{SourceID: "x", ExternalID: "9-fr", Language: "fr"},
		{SourceID: "x", ExternalID: "9-de", Language: "de"},
	}
	pref := Preference{Languages: []string{"de", "fr", "it"}}

	first, _ := MergeAffairs(variants, pref)
	second, _ := MergeAffairs(first[0].All(), pref)
	assert.Equal(t, first, second)
	assert.Equal(t, []string{"9-de", "9-fr", "9-it"}, []string{
		first[0].Best.ExternalID, first[0].Alternates[0].ExternalID, first[0].Alternates[1].ExternalID,
	})
}
