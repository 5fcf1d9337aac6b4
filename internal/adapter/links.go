package adapter

import (
	"net/url"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/TobiSchelling/MotionWatch/internal/dedup"
	"github.com/TobiSchelling/MotionWatch/internal/relevance"
	"github.com/TobiSchelling/MotionWatch/internal/source"
)

// Link is a candidate anchor found on a scraped page.
type Link struct {
	URL   string
	Text  string
	Hits  int
	order int
}

// ScoreLinks collects the anchors of doc, resolves them against base and
// ranks them by distinct keyword hits in "url text". Links without a hit are
// dropped; at most topN are returned (0 keeps all).
func ScoreLinks(doc *goquery.Document, base *url.URL, lex *relevance.Lexicon, topN int) []Link {
	seen := make(map[string]bool)
	var links []Link
	doc.Find("a[href]").Each(func(i int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		abs, ok := resolveLink(base, href)
		if !ok {
			return
		}
		key, ok := dedup.NormalizeURL(abs)
		if !ok || seen[key] {
			return
		}
		text := strings.Join(strings.Fields(sel.Text()), " ")
		if text == "" {
			text, _ = sel.Attr("title")
		}
		hits := len(lex.Score(abs + " " + text).Matched)
		if hits == 0 {
			return
		}
		seen[key] = true
		links = append(links, Link{URL: abs, Text: text, Hits: hits, order: i})
	})

	sort.SliceStable(links, func(i, j int) bool {
		if links[i].Hits != links[j].Hits {
			return links[i].Hits > links[j].Hits
		}
		return links[i].order < links[j].order
	})
	if topN > 0 && len(links) > topN {
		links = links[:topN]
	}
	return links
}

func resolveLink(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	abs := ref
	if base != nil {
		abs = base.ResolveReference(ref)
	}
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", false
	}
	abs.Fragment = ""
	return abs.String(), true
}

// lexiconFor uses the source's own keywords when set, else the global list.
func lexiconFor(src source.Source, global []string) *relevance.Lexicon {
	if kws := src.Options.Strings("keywords"); len(kws) > 0 {
		return relevance.NewLexicon(kws)
	}
	return relevance.NewLexicon(global)
}
