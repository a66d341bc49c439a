// Package reliability computes a heuristic 0-100 trust score for a page.
//
// The score is a best-effort hint shown next to a preview. It looks only at
// the URL and the amount of extracted text, so it must not be used as a
// security control.
package reliability

import (
	"net/url"
	"strings"
	"unicode/utf8"
)

const (
	baseScore       = 50
	httpsBonus      = 10
	knownBonus      = 25
	eduGovBonus     = 15
	longBonus       = 10
	veryLongBonus   = 5
	longContent     = 1000
	veryLongContent = 3000
)

// KnownDomains are hosts with an established editorial or review process.
// A host matches when it contains one of them.
var KnownDomains = []string{
	"wikipedia.org",
	"github.com",
	"stackoverflow.com",
	"nytimes.com",
	"bbc.com",
	"bbc.co.uk",
	"reuters.com",
	"nature.com",
	"apnews.com",
	"theguardian.com",
	"arxiv.org",
	"who.int",
	"nih.gov",
}

// Score returns the reliability score of rawURL given its extracted content.
// Unparseable URLs keep the base score plus content bonuses.
func Score(rawURL, content string) int {
	score := baseScore

	if u, err := url.Parse(rawURL); err == nil {
		if strings.EqualFold(u.Scheme, "https") {
			score += httpsBonus
		}
		host := strings.ToLower(u.Hostname())
		if isKnown(host) {
			score += knownBonus
		}
		if strings.HasSuffix(host, ".edu") || strings.HasSuffix(host, ".gov") {
			score += eduGovBonus
		}
	}

	n := utf8.RuneCountInString(content)
	if n > longContent {
		score += longBonus
	}
	if n > veryLongContent {
		score += veryLongBonus
	}

	return min(max(score, 0), 100)
}

func isKnown(host string) bool {
	if host == "" {
		return false
	}
	for _, d := range KnownDomains {
		if strings.Contains(host, d) {
			return true
		}
	}
	return false
}
