package dedup

import (
	"net"
	"net/url"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var hostPrefixes = []string{"www.", "m.", "amp."}

var trackingParams = map[string]bool{
	"fbclid":  true,
	"gclid":   true,
	"dclid":   true,
	"yclid":   true,
	"msclkid": true,
	"mc_cid":  true,
	"mc_eid":  true,
	"igshid":  true,
	"ref":     true,
	"ref_src": true,
	"_hsenc":  true,
	"_hsmi":   true,
	"_ga":     true,
}

var indexSuffixes = []string{"/index.html", "/index.htm", "/index.php", "/default.aspx", "/default.htm"}

// NormalizeURL canonicalizes a URL for duplicate detection. It returns false
// when the input is not an absolute http(s) URL.
func NormalizeURL(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", false
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", false
	}
	for _, prefix := range hostPrefixes {
		host = strings.TrimPrefix(host, prefix)
	}
	if port := u.Port(); port != "" && !(scheme == "http" && port == "80") && !(scheme == "https" && port == "443") {
		host = net.JoinHostPort(host, port)
	}

	path := u.EscapedPath()
	lower := strings.ToLower(path)
	for _, suffix := range indexSuffixes {
		if strings.HasSuffix(lower, suffix) {
			path = path[:len(path)-len(suffix)]
			break
		}
	}
	path = strings.TrimRight(path, "/")

	query := u.Query()
	keys := make([]string, 0, len(query))
	for k := range query {
		lk := strings.ToLower(k)
		if strings.HasPrefix(lk, "utm_") || trackingParams[lk] {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	// Scheme is dropped so http and https variants collapse.
	b.WriteString(host)
	b.WriteString(path)
	if len(keys) > 0 {
		b.WriteByte('?')
		for i, k := range keys {
			values := append([]string(nil), query[k]...)
			sort.Strings(values)
			for j, v := range values {
				if i > 0 || j > 0 {
					b.WriteByte('&')
				}
				b.WriteString(url.QueryEscape(k))
				b.WriteByte('=')
				b.WriteString(url.QueryEscape(v))
			}
		}
	}
	return b.String(), true
}

// Domain returns the canonical host of a URL, or "".
func Domain(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	for _, prefix := range hostPrefixes {
		host = strings.TrimPrefix(host, prefix)
	}
	return host
}

// SafeURL reports whether raw is an absolute http(s) URL with a host.
func SafeURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// NormalizeTitle folds a title for comparison: Unicode decomposition, no
// diacritics, non-alphanumeric runs collapsed to one space, lower case using
// the casing rules of lang ("" for language-neutral).
func NormalizeTitle(title, lang string) string {
	folded := Fold(title, lang)
	var b strings.Builder
	space := false
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
			continue
		}
		space = true
	}
	return b.String()
}

// Fold strips diacritics and lower-cases s without touching punctuation.
func Fold(s, lang string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}
	return cases.Lower(tag(lang)).String(stripped)
}

func tag(lang string) language.Tag {
	if lang == "" {
		return language.Und
	}
	t, err := language.Parse(lang)
	if err != nil {
		return language.Und
	}
	return t
}
