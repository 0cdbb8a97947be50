// Package news holds the headline-list adapters. Each adapter reads one
// listing page and returns whatever articles it can recognise on it.
package news

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/sawpanic/moverun/internal/domain/market"
	"github.com/sawpanic/moverun/internal/source"
)

// MinTitleLength filters navigation links and teasers
const MinTitleLength = 10

// listAdapter parses a headline listing with a selector cascade: the first
// item selector that matches anything is used, otherwise anchors whose
// href matches linkPattern.
type listAdapter struct {
	id            string
	fetcher       source.Fetcher
	pageURL       string
	itemSelectors []string
	linkPattern   *regexp.Regexp
	limit         int
	now           func() time.Time
}

func (a *listAdapter) ID() string { return a.id }

func (a *listAdapter) FetchRecent(ctx context.Context) ([]market.NewsArticle, error) {
	resp, err := a.fetcher.Get(ctx, a.pageURL)
	if err != nil {
		return nil, source.Annotate(err, a.id, "")
	}
	articles, err := a.parse(resp.Body)
	if err != nil {
		return nil, source.Annotate(err, a.id, "")
	}
	return articles, nil
}

func (a *listAdapter) parse(body []byte) ([]market.NewsArticle, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, source.Errorf(source.KindMalformed, "empty listing page")
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, source.Errorf(source.KindMalformed, "parse listing: %v", err)
	}
	base, err := url.Parse(a.pageURL)
	if err != nil {
		return nil, fmt.Errorf("page url: %w", err)
	}

	var items *goquery.Selection
	for _, sel := range a.itemSelectors {
		if found := doc.Find(sel); found.Length() > 0 {
			items = found
			break
		}
	}
	if items == nil && a.linkPattern != nil {
		items = doc.Find("a[href]").FilterFunction(func(_ int, s *goquery.Selection) bool {
			href, _ := s.Attr("href")
			return a.linkPattern.MatchString(href)
		})
	}
	if items == nil {
		return nil, nil
	}

	fetchedAt := a.now()
	seen := make(map[string]bool)
	var out []market.NewsArticle
	items.EachWithBreak(func(_ int, item *goquery.Selection) bool {
		art, ok := parseItem(item, base, fetchedAt)
		if ok && !seen[art.URL] {
			seen[art.URL] = true
			art.SourceID = a.id
			out = append(out, art)
		}
		return a.limit <= 0 || len(out) < a.limit
	})
	return out, nil
}

func parseItem(item *goquery.Selection, base *url.URL, fetchedAt time.Time) (market.NewsArticle, bool) {
	link := item
	if goquery.NodeName(item) != "a" {
		link = item.Find("a[href]").First()
	}
	href, ok := link.Attr("href")
	if !ok {
		return market.NewsArticle{}, false
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return market.NewsArticle{}, false
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return market.NewsArticle{}, false
	}

	title := collapse(item.Find("h3, h2, h4").First().Text())
	if title == "" {
		title = collapse(link.Text())
	}
	if len(title) < MinTitleLength {
		return market.NewsArticle{}, false
	}

	summary := collapse(item.Find(`p, [class*="summary"], [class*="excerpt"], [class*="snippet"]`).First().Text())

	published := fetchedAt
	if dt, ok := item.Find("time[datetime]").First().Attr("datetime"); ok {
		if t, err := time.Parse(time.RFC3339, strings.TrimSpace(dt)); err == nil {
			published = t.UTC()
		}
	}

	return market.NewsArticle{
		Title:       title,
		URL:         abs.String(),
		Summary:     summary,
		PublishedAt: published,
		FirstSeenAt: fetchedAt,
	}, true
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
