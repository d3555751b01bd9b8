// Package aggregator runs every enabled source for a competitor and merges
// the results, tolerating individual source failures.
package aggregator

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/calvin1011/watchtower/internal/intel"
	"github.com/calvin1011/watchtower/internal/metrics"
)

// Result is the merged output of one collection pass.
type Result struct {
	Items []intel.Item
	// Failures maps source name to the error it returned.
	Failures map[string]error
}

// Aggregator fans out to sources.
type Aggregator struct {
	sources     []intel.Source
	concurrency int
	logger      *zap.Logger
}

// New builds an Aggregator. Sources are merged in the order given.
func New(sources []intel.Source, concurrency int, logger *zap.Logger) *Aggregator {
	if concurrency <= 0 {
		concurrency = len(sources)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{sources: sources, concurrency: concurrency, logger: logger.Named("aggregator")}
}

// Sources returns the registered source names in merge order.
func (a *Aggregator) Sources() []string {
	names := make([]string, len(a.sources))
	for i, src := range a.sources {
		names[i] = src.Name()
	}
	return names
}

// Collect runs all sources for competitor. Only context cancellation is
// returned as an error.
func (a *Aggregator) Collect(ctx context.Context, competitor intel.Competitor) (Result, error) {
	results := make([][]intel.Item, len(a.sources))
	errs := make([]error, len(a.sources))

	g, gctx := errgroup.WithContext(ctx)
	if a.concurrency > 0 {
		g.SetLimit(a.concurrency)
	}
	for i, src := range a.sources {
		g.Go(func() error {
			start := time.Now()
			items, err := src.Fetch(gctx, competitor)
			metrics.ObserveSource(src.Name(), len(items), err)
			if err != nil {
				errs[i] = err
				a.logger.Warn("source failed",
					zap.String("competitor", competitor.Name),
					zap.String("source", src.Name()),
					zap.Duration("elapsed", time.Since(start)),
					zap.Error(err),
				)
				return nil
			}
			for j := range items {
				if items[j].Source == "" {
					items[j].Source = src.Name()
				}
			}
			results[i] = items
			a.logger.Debug("source collected",
				zap.String("competitor", competitor.Name),
				zap.String("source", src.Name()),
				zap.Int("items", len(items)),
				zap.Duration("elapsed", time.Since(start)),
			)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	out := Result{Failures: map[string]error{}}
	seen := make(map[string]struct{})
	for i, items := range results {
		if errs[i] != nil {
			out.Failures[a.sources[i].Name()] = errs[i]
			continue
		}
		for _, item := range items {
			if item.URL != "" {
				if _, dup := seen[item.URL]; dup {
					continue
				}
				seen[item.URL] = struct{}{}
			}
			out.Items = append(out.Items, item)
		}
	}
	return out, nil
}
