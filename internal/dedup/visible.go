package dedup

import (
	"sort"
	"time"

	"github.com/TobiSchelling/MotionWatch/internal/motion"
)

// Candidate is the view of a record the display dedup needs.
type Candidate struct {
	ID        string
	SourceID  string
	URL       string
	Title     string
	Language  string
	Status    motion.Status
	Score     float64
	UpdatedAt time.Time
}

// Key returns the dedup key of c: normalized URL, else normalized title plus
// domain (or source), else the raw id.
func Key(c Candidate) string {
	if u, ok := NormalizeURL(c.URL); ok {
		return "url:" + u
	}
	if t := NormalizeTitle(c.Title, c.Language); t != "" {
		scope := Domain(c.URL)
		if scope == "" {
			scope = c.SourceID
		}
		return "title:" + t + "|" + scope
	}
	return "id:" + c.ID
}

// Better reports whether a wins over b within a dedup group.
func Better(a, b Candidate) bool {
	if ra, rb := a.Status.Rank(), b.Status.Rank(); ra != rb {
		return ra > rb
	}
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if sa, sb := SafeURL(a.URL), SafeURL(b.URL); sa != sb {
		return sa
	}
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.After(b.UpdatedAt)
	}
	return a.ID < b.ID
}

// Visible keeps one winner per dedup key, preserving the input order of the
// winners. Losers are only hidden from the returned slice.
func Visible[T any](items []T, view func(T) Candidate) []T {
	type slot struct {
		index int
		cand  Candidate
	}
	winners := make(map[string]slot, len(items))
	for i, item := range items {
		c := view(item)
		k := Key(c)
		cur, ok := winners[k]
		if !ok || Better(c, cur.cand) {
			winners[k] = slot{index: i, cand: c}
		}
	}

	keep := make([]int, 0, len(winners))
	for _, s := range winners {
		keep = append(keep, s.index)
	}
	sort.Ints(keep)

	out := make([]T, 0, len(keep))
	for _, i := range keep {
		out = append(out, items[i])
	}
	return out
}

// Hidden returns the ids that Visible would drop, mapped to the id of the
// record that replaced them.
func Hidden[T any](items []T, view func(T) Candidate) map[string]string {
	visible := Visible(items, view)
	winnerByKey := make(map[string]string, len(visible))
	for _, item := range visible {
		c := view(item)
		winnerByKey[Key(c)] = c.ID
	}
	hidden := make(map[string]string)
	for _, item := range items {
		c := view(item)
		if w := winnerByKey[Key(c)]; w != c.ID {
			hidden[c.ID] = w
		}
	}
	return hidden
}
