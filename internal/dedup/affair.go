package dedup

import (
	"sort"
	"strings"

	"github.com/TobiSchelling/MotionWatch/internal/motion"
)

// Affair is one government business with its chosen display variant.
type Affair struct {
	ID         string
	Best       motion.Variant
	Alternates []motion.Variant
}

// All returns the best variant followed by the alternates.
func (a Affair) All() []motion.Variant {
	out := make([]motion.Variant, 0, 1+len(a.Alternates))
	out = append(out, a.Best)
	return append(out, a.Alternates...)
}

// Preference orders variants by configured language order, then confidence,
// then recency. Unlisted languages sort after listed ones.
type Preference struct {
	Languages []string
}

func (p Preference) rank(lang string) int {
	lang = strings.ToLower(strings.TrimSpace(lang))
	for i, l := range p.Languages {
		if strings.EqualFold(l, lang) {
			return i
		}
	}
	return len(p.Languages)
}

// Less reports whether a is preferred over b.
func (p Preference) Less(a, b motion.Variant) bool {
	if ra, rb := p.rank(a.Language), p.rank(b.Language); ra != rb {
		return ra < rb
	}
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.After(b.UpdatedAt)
	}
	if a.SourceID != b.SourceID {
		return a.SourceID < b.SourceID
	}
	return a.ExternalID < b.ExternalID
}

// MergeAffairs groups variants by affair id (leading numeric segment of the
// external id) and picks one display variant per group. Variants without an
// affair id are returned untouched in loose. Affairs are ordered by id.
func MergeAffairs(variants []motion.Variant, pref Preference) (affairs []Affair, loose []motion.Variant) {
	groups := make(map[string][]motion.Variant)
	var order []string
	for _, v := range variants {
		id := motion.AffairID(v.ExternalID)
		if id == "" {
			loose = append(loose, v)
			continue
		}
		if _, seen := groups[id]; !seen {
			order = append(order, id)
		}
		groups[id] = append(groups[id], v)
	}
	sort.Strings(order)

	for _, id := range order {
		members := uniqueVariants(groups[id])
		sort.SliceStable(members, func(i, j int) bool { return pref.Less(members[i], members[j]) })
		affairs = append(affairs, Affair{
			ID:         id,
			Best:       members[0],
			Alternates: members[1:],
		})
	}
	return affairs, loose
}

// uniqueVariants drops exact repeats of (source, externalId, language) so
// merging an already merged affair is a no-op.
func uniqueVariants(vs []motion.Variant) []motion.Variant {
	seen := make(map[string]bool, len(vs))
	out := make([]motion.Variant, 0, len(vs))
	for _, v := range vs {
		k := v.SourceID + "\x00" + v.ExternalID + "\x00" + strings.ToLower(v.Language)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, v)
	}
	return out
}
