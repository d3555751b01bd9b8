// Package jobs collects a competitor's open job listings through search.
package jobs

import (
	"context"
	"fmt"
	"net/url"

	"github.com/calvin1011/watchtower/internal/intel"
)

// Searcher runs one search query.
type Searcher interface {
	Search(ctx context.Context, params url.Values, out any) error
}

// Config controls the job query.
type Config struct {
	MaxItems int
	// Location narrows results; empty disables the filter.
	Location string
}

const snippetLimit = 1000

// Source implements intel.Source for job listings.
type Source struct {
	cfg      Config
	searcher Searcher
}

type jobsResponse struct {
	JobsResults []jobResult `json:"jobs_results"`
}

type jobResult struct {
	Title              string   `json:"title"`
	Link               string   `json:"link"`
	ShareLink          string   `json:"share_link"`
	Description        string   `json:"description"`
	Snippet            string   `json:"snippet"`
	PostedAt           string   `json:"posted_at"`
	Extensions         []string `json:"extensions"`
	DetectedExtensions struct {
		PostedAt string `json:"posted_at"`
	} `json:"detected_extensions"`
}

// New builds the job source.
func New(cfg Config, searcher Searcher) *Source {
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = 15
	}
	return &Source{cfg: cfg, searcher: searcher}
}

// Name implements intel.Source.
func (s *Source) Name() string { return intel.SourceJobs }

// Fetch runs the google_jobs query for the competitor.
func (s *Source) Fetch(ctx context.Context, competitor intel.Competitor) ([]intel.Item, error) {
	params := url.Values{}
	params.Set("engine", "google_jobs")
	params.Set("q", competitor.Name+" jobs")
	if s.cfg.Location != "" {
		params.Set("location", s.cfg.Location)
	}

	var resp jobsResponse
	if err := s.searcher.Search(ctx, params, &resp); err != nil {
		return nil, fmt.Errorf("jobs scrape failed: %w", err)
	}

	results := resp.JobsResults
	if len(results) > s.cfg.MaxItems {
		results = results[:s.cfg.MaxItems]
	}
	items := make([]intel.Item, 0, len(results))
	for _, job := range results {
		link := job.Link
		if link == "" {
			link = job.ShareLink
		}
		if job.Title == "" && link == "" {
			continue
		}
		snippet := job.Description
		if snippet == "" {
			snippet = job.Snippet
		}
		items = append(items, intel.Item{
			Title:   job.Title,
			URL:     link,
			Snippet: intel.Truncate(snippet, snippetLimit),
			Date:    postedAt(job),
			Source:  intel.SourceJobs,
		})
	}
	return items, nil
}

func postedAt(job jobResult) string {
	switch {
	case job.PostedAt != "":
		return job.PostedAt
	case job.DetectedExtensions.PostedAt != "":
		return job.DetectedExtensions.PostedAt
	case len(job.Extensions) > 0:
		return job.Extensions[0]
	default:
		return ""
	}
}
