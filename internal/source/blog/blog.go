// Package blog collects recent posts from a competitor blog, preferring an
// RSS or Atom feed and falling back to article links on the blog page.
package blog

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"

	"github.com/calvin1011/watchtower/internal/intel"
)

const (
	defaultMaxItems = 20
	snippetLimit    = 500
	titleLimit      = 200
	minPathLength   = 5
)

// feedPaths are probed in order against the blog host root. The empty entry
// probes the blog URL itself.
var feedPaths = []string{"/feed", "/rss", "/blog/feed", "/feed/", "/rss/", ""}

// articleMarkers identify post links on an HTML blog index.
var articleMarkers = []string{"/blog/", "/news/", "/article/", "/post/"}

// Config bounds the number of items returned.
type Config struct {
	MaxItems int
}

// Source implements intel.Source for competitor blogs.
type Source struct {
	cfg     Config
	fetcher intel.Fetcher
	logger  *zap.Logger
}

// New builds a blog source over the static fetcher.
func New(cfg Config, fetcher intel.Fetcher, logger *zap.Logger) *Source {
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = defaultMaxItems
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{cfg: cfg, fetcher: fetcher, logger: logger.Named("blog")}
}

// Name implements intel.Source.
func (s *Source) Name() string { return intel.SourceBlog }

// Fetch returns up to MaxItems posts. Feed lookup and fallback failures yield an
// empty list rather than an error.
func (s *Source) Fetch(ctx context.Context, competitor intel.Competitor) ([]intel.Item, error) {
	blogURL := strings.TrimSpace(competitor.BlogURL)
	if blogURL == "" {
		return nil, nil
	}
	base, err := url.Parse(blogURL)
	if err != nil {
		return nil, fmt.Errorf("parse blog url %q: %w", blogURL, err)
	}

	var index *intel.FetchResponse
	for _, probe := range feedPaths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		target := blogURL
		if probe != "" {
			target = base.ResolveReference(&url.URL{Path: probe}).String()
		}
		resp, err := s.fetcher.Fetch(ctx, intel.FetchRequest{URL: target})
		if err != nil {
			s.logger.Debug("feed probe failed", zap.String("url", target), zap.Error(err))
			continue
		}
		if !isFeed(resp.ContentType()) {
			if probe == "" {
				index = &resp
			}
			continue
		}
		items := s.parseFeed(target, resp.Body)
		if len(items) > 0 {
			return items, nil
		}
	}

	if index == nil {
		resp, err := s.fetcher.Fetch(ctx, intel.FetchRequest{URL: blogURL})
		if err != nil {
			s.logger.Warn("blog page fetch failed", zap.String("url", blogURL), zap.Error(err))
			return nil, nil
		}
		index = &resp
	}
	return s.parseArticles(blogURL, index.Body), nil
}

func isFeed(contentType string) bool {
	return strings.Contains(contentType, "xml") ||
		strings.Contains(contentType, "rss") ||
		strings.Contains(contentType, "atom")
}

func (s *Source) parseFeed(feedURL string, body []byte) []intel.Item {
	parsed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		s.logger.Debug("feed parse failed", zap.String("url", feedURL), zap.Error(err))
		return nil
	}
	base, _ := url.Parse(feedURL)

	items := make([]intel.Item, 0, len(parsed.Items))
	for _, entry := range parsed.Items {
		if len(items) >= s.cfg.MaxItems {
			break
		}
		title := strings.TrimSpace(entry.Title)
		link := resolve(base, extractLink(entry))
		if title == "" && link == "" {
			continue
		}
		date := entry.Published
		if date == "" {
			date = entry.Updated
		}
		items = append(items, intel.Item{
			Title:   title,
			URL:     link,
			Snippet: intel.Truncate(stripHTML(entry.Description), snippetLimit),
			Date:    strings.TrimSpace(date),
			Source:  intel.SourceBlog,
		})
	}
	return items
}

// extractLink prefers the entry link and falls back to an http GUID.
func extractLink(entry *gofeed.Item) string {
	if link := strings.TrimSpace(entry.Link); link != "" {
		return link
	}
	if strings.HasPrefix(entry.GUID, "http") {
		return entry.GUID
	}
	return ""
}

func (s *Source) parseArticles(pageURL string, body []byte) []intel.Item {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		s.logger.Warn("blog page parse failed", zap.String("url", pageURL), zap.Error(err))
		return nil
	}
	base, _ := url.Parse(pageURL)

	var items []intel.Item
	seen := make(map[string]struct{})
	doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		if !isArticleLink(href) {
			return true
		}
		full := resolve(base, href)
		if _, dup := seen[full]; dup {
			return true
		}
		seen[full] = struct{}{}

		u, err := url.Parse(full)
		if err != nil || u.Host == "" || len(u.Path) <= minPathLength {
			return true
		}
		items = append(items, intel.Item{
			Title:  intel.Truncate(strings.TrimSpace(a.Text()), titleLimit),
			URL:    full,
			Source: intel.SourceBlog,
		})
		return len(items) < s.cfg.MaxItems
	})
	return items
}

func isArticleLink(href string) bool {
	lower := strings.ToLower(href)
	for _, marker := range articleMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func resolve(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	if base == nil {
		return u.String()
	}
	return base.ResolveReference(u).String()
}

func stripHTML(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || !strings.Contains(s, "<") {
		return s
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	return intel.CollapseSpace(doc.Text())
}
