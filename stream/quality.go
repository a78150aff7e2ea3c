package stream

import (
	"regexp"
	"sort"
	"strings"
)

// QualityOrder lists pull-URL keys from most to least preferred.
var QualityOrder = []string{"FULL_HD1", "HD1"}

// SelectQuality picks the first non-empty URL in QualityOrder.
func SelectQuality(urls map[string]string) (string, bool) {
	for _, k := range QualityOrder {
		if u := urls[k]; u != "" {
			return u, true
		}
	}
	return "", false
}

var (
	rawMediaURL     = regexp.MustCompile(`https?://[^\s"'<>\\\]]+?\.(?:flv|m3u8)[^\s"'<>\\\]]*`)
	escapedMediaURL = regexp.MustCompile(`https?:\\/\\/(?:[^\s"'<>\\\]]|\\/|\\u0026)+?\.(?:flv|m3u8)(?:[^\s"'<>\\\]]|\\/|\\u0026)*`)
)

var urlUnescaper = strings.NewReplacer(`\/`, `/`, `\u0026`, `&`, `&amp;`, `&`)

// cleanMediaURL unescapes a scraped token and truncates it at the first stray quote.
func cleanMediaURL(s string) string {
	s = urlUnescaper.Replace(s)
	for _, q := range []string{`&quot;`, `\"`, `"`} {
		if i := strings.Index(s, q); i >= 0 {
			s = s[:i]
		}
	}
	return s
}

// qualityTier ranks a scraped URL by the quality hints in its name; lower is better.
func qualityTier(u string) int {
	l := strings.ToLower(u)
	switch {
	case strings.Contains(l, "_or4") || strings.Contains(l, "origin"):
		return 0
	case strings.Contains(l, "uhd"):
		return 1
	case strings.Contains(l, "hd"):
		return 2
	case strings.Contains(l, "sd"):
		return 3
	}
	return 4
}

// ScrapeCandidates returns every media URL found in page, cleaned, de-duplicated
// and ranked: signed URLs (auth_key) first, then by quality tier. Ties keep
// document order.
func ScrapeCandidates(page string) []string {
	var found []string
	seen := make(map[string]bool)
	add := func(raw string) {
		u := cleanMediaURL(raw)
		if u == "" || seen[u] {
			return
		}
		seen[u] = true
		found = append(found, u)
	}
	for _, m := range rawMediaURL.FindAllString(page, -1) {
		add(m)
	}
	for _, m := range escapedMediaURL.FindAllString(page, -1) {
		add(m)
	}
	sort.SliceStable(found, func(i, j int) bool {
		ai, aj := strings.Contains(found[i], "auth_key"), strings.Contains(found[j], "auth_key")
		if ai != aj {
			return ai
		}
		return qualityTier(found[i]) < qualityTier(found[j])
	})
	return found
}

// ScrapeMediaURL returns the best-ranked media URL in page.
func ScrapeMediaURL(page string) (string, bool) {
	c := ScrapeCandidates(page)
	if len(c) == 0 {
		return "", false
	}
	return c[0], true
}
