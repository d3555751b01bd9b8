// Package website captures the visible text of a competitor homepage,
// rendering it in a headless browser when the static HTML is a JS shell.
package website

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/calvin1011/watchtower/internal/intel"
)

const (
	itemTitle       = "Homepage"
	snippetLimit    = 300
	rawContentLimit = 8000
)

// Source implements intel.Source for homepages.
type Source struct {
	static   intel.Fetcher
	headless intel.Fetcher
	detector intel.HeadlessDetector
	logger   *zap.Logger
}

// New builds the website source. headless and detector may be nil, in which
// case only the static probe is used.
func New(static, headless intel.Fetcher, detector intel.HeadlessDetector, logger *zap.Logger) *Source {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{
		static:   static,
		headless: headless,
		detector: detector,
		logger:   logger.Named("website"),
	}
}

// Name implements intel.Source.
func (s *Source) Name() string { return intel.SourceWebsite }

// Fetch returns a single homepage item.
func (s *Source) Fetch(ctx context.Context, competitor intel.Competitor) ([]intel.Item, error) {
	target := strings.TrimSpace(competitor.WebsiteURL)
	if target == "" {
		return nil, nil
	}
	resp, err := s.render(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("website fetch %s: %w", target, err)
	}

	item := intel.Item{
		Title:  itemTitle,
		URL:    strings.TrimRight(target, "/"),
		Source: intel.SourceWebsite,
	}
	if text := pageText(resp); text != "" {
		item.RawContent = intel.Truncate(text, rawContentLimit)
		item.Snippet = text
		if len([]rune(text)) > snippetLimit {
			item.Snippet = intel.Truncate(text, snippetLimit) + "..."
		}
	}
	return []intel.Item{item}, nil
}

func (s *Source) render(ctx context.Context, target string) (intel.FetchResponse, error) {
	req := intel.FetchRequest{URL: target}
	probe, err := s.static.Fetch(ctx, req)
	if err != nil {
		if s.headless == nil {
			return intel.FetchResponse{}, err
		}
		s.logger.Debug("static probe failed, rendering headless", zap.String("url", target), zap.Error(err))
		return s.headless.Fetch(ctx, req)
	}
	if s.headless == nil || s.detector == nil || !s.detector.ShouldPromote(probe) {
		return probe, nil
	}
	rendered, err := s.headless.Fetch(ctx, req)
	if err != nil {
		s.logger.Warn("headless render failed, using static html", zap.String("url", target), zap.Error(err))
		return probe, nil
	}
	return rendered, nil
}

// pageText prefers text the fetcher already extracted and otherwise strips
// non-content elements from the HTML body.
func pageText(resp intel.FetchResponse) string {
	if text := intel.CollapseSpace(resp.Text); text != "" {
		return text
	}
	if len(resp.Body) == 0 {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return ""
	}
	doc.Find("script, style, nav, noscript, template").Remove()
	return intel.CollapseSpace(doc.Find("body").Text())
}
