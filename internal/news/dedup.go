package news

import (
	"crypto/sha1"
	"encoding/hex"
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// DefaultSimilarity is the title ratio at or above which two articles are
// the same story
const DefaultSimilarity = 0.9

// NormalizeTitle lower-cases, strips punctuation and collapses whitespace
func NormalizeTitle(title string) string {
	var b strings.Builder
	b.Grow(len(title))
	for _, r := range strings.ToLower(title) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// NormalizeURL drops fragments, tracking parameters and trailing slashes
// so syndicated copies of one link compare equal
func NormalizeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return strings.ToLower(strings.TrimSpace(raw))
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme == "http" {
		u.Scheme = "https"
	}
	u.Host = strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	u.Fragment = ""
	q := u.Query()
	for k := range q {
		lk := strings.ToLower(k)
		if strings.HasPrefix(lk, "utm_") || lk == "mod" || lk == "ref" || lk == "guccounter" {
			q.Del(k)
		}
	}
	u.RawQuery = q.Encode()
	u.Path = strings.TrimRight(u.Path, "/")
	return u.String()
}

// ArticleID derives a stable id from the normalized URL
func ArticleID(rawURL string) string {
	sum := sha1.Sum([]byte(NormalizeURL(rawURL)))
	return hex.EncodeToString(sum[:8])
}

// Similarity is 1 - distance/maxLen over normalized titles, in [0, 1]
func Similarity(a, b string) float64 {
	return ratio(NormalizeTitle(a), NormalizeTitle(b))
}

func ratio(na, nb string) float64 {
	la, lb := utf8.RuneCountInString(na), utf8.RuneCountInString(nb)
	maxLen := la
	if lb > maxLen {
		maxLen = lb
	}
	if maxLen == 0 {
		return 0
	}
	if na == nb {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(na, nb))/float64(maxLen)
}

// similarAtLeast checks ratio(na, nb) >= threshold, skipping the distance
// computation when the length gap alone rules it out
func similarAtLeast(na, nb string, threshold float64) bool {
	la, lb := utf8.RuneCountInString(na), utf8.RuneCountInString(nb)
	maxLen, diff := la, la-lb
	if lb > maxLen {
		maxLen = lb
	}
	if diff < 0 {
		diff = -diff
	}
	if maxLen == 0 || 1-float64(diff)/float64(maxLen) < threshold {
		return false
	}
	return ratio(na, nb) >= threshold
}
