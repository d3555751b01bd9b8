// Package reviews collects G2 and Capterra review pages through search.
package reviews

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/calvin1011/watchtower/internal/intel"
	"github.com/calvin1011/watchtower/internal/source/serpapi"
)

// Searcher runs one search query.
type Searcher interface {
	Search(ctx context.Context, params url.Values, out any) error
}

// Config bounds result sizes.
type Config struct {
	MaxPerQuery     int
	MaxItems        int
	ResultsPerQuery int
}

// Source implements intel.Source for review sites.
type Source struct {
	cfg      Config
	searcher Searcher
	logger   *zap.Logger
}

type organicResponse struct {
	OrganicResults []organicResult `json:"organic_results"`
}

type organicResult struct {
	Title       string `json:"title"`
	Link        string `json:"link"`
	Snippet     string `json:"snippet"`
	Description string `json:"description"`
	Date        string `json:"date"`
}

// New builds the review source.
func New(cfg Config, searcher Searcher, logger *zap.Logger) *Source {
	if cfg.MaxPerQuery <= 0 {
		cfg.MaxPerQuery = 15
	}
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = cfg.MaxPerQuery * 2
	}
	if cfg.ResultsPerQuery <= 0 {
		cfg.ResultsPerQuery = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{cfg: cfg, searcher: searcher, logger: logger.Named("reviews")}
}

// Name implements intel.Source.
func (s *Source) Name() string { return intel.SourceReviews }

// Fetch queries G2 then Capterra. Only a missing API key is returned as an
// error; other per-query failures are logged and skipped.
func (s *Source) Fetch(ctx context.Context, competitor intel.Competitor) ([]intel.Item, error) {
	g2, err := s.query(ctx, "g2.com", competitor.Name)
	if err != nil {
		if errors.Is(err, serpapi.ErrMissingAPIKey) {
			return nil, err
		}
		s.logger.Warn("g2 query failed", zap.String("competitor", competitor.Name), zap.Error(err))
	}
	items := g2

	capterra, err := s.query(ctx, "capterra.com", competitor.Name)
	if err != nil {
		if errors.Is(err, serpapi.ErrMissingAPIKey) {
			return nil, err
		}
		s.logger.Warn("capterra query failed", zap.String("competitor", competitor.Name), zap.Error(err))
	}
	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		if it.URL != "" {
			seen[it.URL] = struct{}{}
		}
	}
	for _, it := range capterra {
		if len(items) >= s.cfg.MaxItems {
			break
		}
		if it.URL == "" {
			continue
		}
		if _, dup := seen[it.URL]; dup {
			continue
		}
		seen[it.URL] = struct{}{}
		items = append(items, it)
	}
	if len(items) > s.cfg.MaxItems {
		items = items[:s.cfg.MaxItems]
	}
	return items, nil
}

func (s *Source) query(ctx context.Context, site, name string) ([]intel.Item, error) {
	params := url.Values{}
	params.Set("engine", "google")
	params.Set("q", fmt.Sprintf("site:%s %q reviews", site, name))
	params.Set("num", strconv.Itoa(s.cfg.ResultsPerQuery))

	var resp organicResponse
	if err := s.searcher.Search(ctx, params, &resp); err != nil {
		return nil, err
	}
	results := resp.OrganicResults
	if len(results) > s.cfg.MaxPerQuery {
		results = results[:s.cfg.MaxPerQuery]
	}
	var items []intel.Item
	for _, r := range results {
		if r.Title == "" && r.Link == "" {
			continue
		}
		snippet := r.Snippet
		if snippet == "" {
			snippet = r.Description
		}
		items = append(items, intel.Item{
			Title:   r.Title,
			URL:     r.Link,
			Snippet: snippet,
			Date:    r.Date,
			Source:  intel.SourceReviews,
		})
	}
	return items, nil
}
