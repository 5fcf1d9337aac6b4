// Package relevance scores record text against a keyword lexicon and derives
// the ingest status of a record from that score.
package relevance

import (
	"fmt"
	"strings"

	"github.com/TobiSchelling/MotionWatch/internal/dedup"
	"github.com/TobiSchelling/MotionWatch/internal/motion"
)

// Saturation is the number of distinct keyword hits that yields a score of 1.
const Saturation = 4

// DefaultThreshold is used when the configuration leaves relevance.threshold unset.
const DefaultThreshold = 0.5

// Lexicon is an ordered, folded keyword list.
type Lexicon struct {
	keywords []string
	folded   []string
}

// NewLexicon folds keywords (diacritics removed, lower-cased) and drops blanks
// and duplicates, keeping first-seen order.
func NewLexicon(keywords []string) *Lexicon {
	l := &Lexicon{}
	seen := make(map[string]bool, len(keywords))
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		f := dedup.Fold(kw, "")
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		l.keywords = append(l.keywords, kw)
		l.folded = append(l.folded, f)
	}
	return l
}

// Len returns the number of keywords.
func (l *Lexicon) Len() int { return len(l.keywords) }

// Keywords returns the keywords as configured.
func (l *Lexicon) Keywords() []string {
	return append([]string(nil), l.keywords...)
}

// Result is the outcome of scoring one text.
type Result struct {
	Score   float64
	Matched []string
}

// Score counts distinct keyword occurrences in text (substring match on the
// folded text) and returns min(1, hits/Saturation) with the matched keywords
// in lexicon order.
func (l *Lexicon) Score(text string) Result {
	if l == nil || len(l.folded) == 0 {
		return Result{}
	}
	folded := dedup.Fold(text, "")
	var matched []string
	for i, kw := range l.folded {
		if strings.Contains(folded, kw) {
			matched = append(matched, l.keywords[i])
		}
	}
	score := float64(len(matched)) / Saturation
	if score > 1 {
		score = 1
	}
	return Result{Score: score, Matched: matched}
}

// Decision is the status the ingest path assigns to a record.
type Decision struct {
	Status motion.Status
	Reason string
}

// Assign maps a score to queued or rejected. An existing approved or
// published status is kept.
func Assign(existing motion.Status, r Result, threshold float64) Decision {
	if existing.Protected() {
		return Decision{
			Status: existing,
			Reason: fmt.Sprintf("kept %s from human review (score %.2f)", existing, r.Score),
		}
	}
	matched := "none"
	if len(r.Matched) > 0 {
		matched = strings.Join(r.Matched, ", ")
	}
	if r.Score >= threshold {
		return Decision{
			Status: motion.StatusQueued,
			Reason: fmt.Sprintf("score %.2f >= threshold %.2f (matched: %s)", r.Score, threshold, matched),
		}
	}
	return Decision{
		Status: motion.StatusRejected,
		Reason: fmt.Sprintf("score %.2f < threshold %.2f (matched: %s)", r.Score, threshold, matched),
	}
}
