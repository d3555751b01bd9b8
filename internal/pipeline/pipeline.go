// Package pipeline wires collection, analysis, enrichment and persistence
// into one run per competitor.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/calvin1011/watchtower/internal/aggregator"
	"github.com/calvin1011/watchtower/internal/clock/system"
	"github.com/calvin1011/watchtower/internal/embedding"
	"github.com/calvin1011/watchtower/internal/id/uuid"
	"github.com/calvin1011/watchtower/internal/intel"
	"github.com/calvin1011/watchtower/internal/metrics"
)

const tracerName = "github.com/calvin1011/watchtower/internal/pipeline"

// Collector gathers items for one competitor.
type Collector interface {
	Collect(ctx context.Context, competitor intel.Competitor) (aggregator.Result, error)
}

// Config tunes a Pipeline.
type Config struct {
	EmbedConcurrency int
	// Topic receives intel.created events.
	Topic string
}

// Deps are the collaborators of a Pipeline. Collector, Analyzer and Store
// are required.
type Deps struct {
	Collector Collector
	Analyzer  intel.Analyzer
	Embedder  intel.Embedder
	Store     intel.IntelStore
	Seen      intel.SeenStore
	Publisher intel.Publisher
	IDs       intel.IDGenerator
	Clock     intel.Clock
}

// Pipeline runs collect, analyze, embed and store.
type Pipeline struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// RunResult describes one competitor run.
type RunResult struct {
	Competitor     string
	Collected      int
	Skipped        int
	Created        int
	IDs            []string
	SourceFailures map[string]error
}

// Summary aggregates a multi-competitor run.
type Summary struct {
	Created        int               `json:"created"`
	CompetitorsRun []string          `json:"competitors_run"`
	Failures       map[string]string `json:"failures"`
}

// New validates deps and fills defaults.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Pipeline, error) {
	if deps.Collector == nil {
		return nil, errors.New("pipeline: collector is required")
	}
	if deps.Analyzer == nil {
		return nil, errors.New("pipeline: analyzer is required")
	}
	if deps.Store == nil {
		return nil, errors.New("pipeline: store is required")
	}
	if deps.Embedder == nil {
		deps.Embedder = embedding.Noop{}
	}
	if deps.IDs == nil {
		deps.IDs = uuid.New()
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if cfg.EmbedConcurrency <= 0 {
		cfg.EmbedConcurrency = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{deps: deps, cfg: cfg, logger: logger.Named("pipeline")}, nil
}

// Run executes the full pipeline for one competitor.
func (p *Pipeline) Run(ctx context.Context, competitor intel.Competitor) (res RunResult, err error) {
	start := time.Now()
	res.Competitor = competitor.Name
	ctx, span := otel.Tracer(tracerName).Start(ctx, "pipeline.run",
		trace.WithAttributes(attribute.String("competitor", competitor.Name)))
	defer func() {
		span.SetAttributes(attribute.Int("intel.created", res.Created))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		metrics.ObservePipelineRun(competitor.Name, err)
	}()

	collected, err := p.deps.Collector.Collect(ctx, competitor)
	if err != nil {
		return res, fmt.Errorf("collect %s: %w", competitor.Name, err)
	}
	res.SourceFailures = collected.Failures
	items := collected.Items
	res.Collected = len(items)
	if len(items) == 0 {
		p.logger.Info("no items collected", zap.String("competitor", competitor.Name))
		return res, nil
	}

	items = p.filterSeen(ctx, competitor.Name, items)
	res.Skipped = res.Collected - len(items)
	if len(items) == 0 {
		p.logger.Info("all items already analyzed", zap.String("competitor", competitor.Name))
		return res, nil
	}

	analyses, err := p.deps.Analyzer.Analyze(ctx, competitor.Name, items)
	if err != nil {
		return res, err
	}
	if len(analyses) == 0 {
		return res, nil
	}

	records, err := p.buildRecords(competitor.Name, analyses, items)
	if err != nil {
		return res, err
	}
	p.embed(ctx, records)

	if err := p.deps.Store.InsertIntel(ctx, records); err != nil {
		return res, fmt.Errorf("store intel for %s: %w", competitor.Name, err)
	}

	res.Created = len(records)
	res.IDs = make([]string, len(records))
	for i, rec := range records {
		res.IDs[i] = rec.ID
		metrics.ObserveIntelCreated(rec.Competitor, string(rec.ThreatLevel))
	}
	p.markSeen(ctx, items)
	p.publish(ctx, competitor.Name, res.IDs)

	p.logger.Info("pipeline run complete",
		zap.String("competitor", competitor.Name),
		zap.Int("collected", res.Collected),
		zap.Int("skipped", res.Skipped),
		zap.Int("created", res.Created),
		zap.Duration("elapsed", time.Since(start)),
	)
	return res, nil
}

// RunAll runs each competitor in order. A competitor failure is recorded in
// the summary and does not stop the batch; only cancellation does.
func (p *Pipeline) RunAll(ctx context.Context, competitors []intel.Competitor) (Summary, error) {
	summary := Summary{CompetitorsRun: []string{}, Failures: map[string]string{}}
	for _, competitor := range competitors {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		res, err := p.Run(ctx, competitor)
		summary.CompetitorsRun = append(summary.CompetitorsRun, competitor.Name)
		if err != nil {
			p.logger.Error("pipeline run failed", zap.String("competitor", competitor.Name), zap.Error(err))
			summary.Failures[competitor.Name] = err.Error()
			continue
		}
		summary.Created += res.Created
	}
	return summary, nil
}

func (p *Pipeline) filterSeen(ctx context.Context, competitor string, items []intel.Item) []intel.Item {
	if p.deps.Seen == nil {
		return items
	}
	urls := make([]string, len(items))
	for i, it := range items {
		urls[i] = it.URL
	}
	fresh, err := p.deps.Seen.Unseen(ctx, urls)
	if err != nil {
		p.logger.Warn("seen-url lookup failed, analyzing all items", zap.String("competitor", competitor), zap.Error(err))
		return items
	}
	keep := make(map[string]int, len(fresh))
	for _, u := range fresh {
		keep[u]++
	}
	out := make([]intel.Item, 0, len(fresh))
	for _, it := range items {
		if keep[it.URL] > 0 {
			keep[it.URL]--
			out = append(out, it)
		}
	}
	return out
}

// reconcile pairs each analysis with the item it describes: the item whose
// URL matches the analysis source_url, else the item at the same index.
func reconcile(analyses []intel.Analysis, items []intel.Item) []*intel.Item {
	byURL := make(map[string]int, len(items))
	for i, it := range items {
		if it.URL == "" {
			continue
		}
		if _, exists := byURL[it.URL]; !exists {
			byURL[it.URL] = i
		}
	}
	out := make([]*intel.Item, len(analyses))
	for i, a := range analyses {
		if idx, ok := byURL[a.SourceURL]; ok && a.SourceURL != "" {
			out[i] = &items[idx]
			continue
		}
		if i < len(items) {
			out[i] = &items[i]
		}
	}
	return out
}

func (p *Pipeline) buildRecords(competitor string, analyses []intel.Analysis, items []intel.Item) ([]intel.Record, error) {
	matched := reconcile(analyses, items)
	now := p.deps.Clock.Now()
	records := make([]intel.Record, len(analyses))
	for i, a := range analyses {
		id, err := p.deps.IDs.NewID()
		if err != nil {
			return nil, fmt.Errorf("generate intel id: %w", err)
		}
		rec := intel.Record{
			ID:                  id,
			Competitor:          competitor,
			SignalType:          a.SignalType,
			ThreatLevel:         a.ThreatLevel,
			ThreatReason:        a.ThreatReason,
			Summary:             a.Summary,
			RecommendedResponse: a.RecommendedResponse,
			Confidence:          a.Confidence,
			SourceURL:           a.SourceURL,
			DetectedAt:          now,
			CreatedAt:           now,
		}
		if item := matched[i]; item != nil {
			rec.RawContent = item.RawContent
			if rec.RawContent == "" {
				rec.RawContent = item.Snippet
			}
			if rec.SourceURL == "" {
				rec.SourceURL = item.URL
			}
		}
		records[i] = rec
	}
	return records, nil
}

// embed fills record embeddings in place. Failures leave the embedding nil.
func (p *Pipeline) embed(ctx context.Context, records []intel.Record) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.EmbedConcurrency)
	for i := range records {
		text := strings.TrimSpace(records[i].Summary + " " + records[i].ThreatReason)
		if text == "" {
			continue
		}
		g.Go(func() error {
			vec, err := p.deps.Embedder.Embed(gctx, text)
			if err != nil {
				metrics.ObserveEmbeddingFailure()
				p.logger.Warn("embedding failed", zap.String("intel_id", records[i].ID), zap.Error(err))
				return nil
			}
			records[i].Embedding = vec
			return nil
		})
	}
	_ = g.Wait()
}

func (p *Pipeline) markSeen(ctx context.Context, items []intel.Item) {
	if p.deps.Seen == nil {
		return
	}
	urls := make([]string, 0, len(items))
	for _, it := range items {
		if it.URL != "" {
			urls = append(urls, it.URL)
		}
	}
	if err := p.deps.Seen.MarkSeen(ctx, urls); err != nil {
		p.logger.Warn("mark seen failed", zap.Error(err))
	}
}

func (p *Pipeline) publish(ctx context.Context, competitor string, ids []string) {
	if p.deps.Publisher == nil {
		return
	}
	event := intel.Event{
		Type:       intel.EventIntelCreated,
		Competitor: competitor,
		Count:      len(ids),
		IDs:        ids,
		OccurredAt: p.deps.Clock.Now(),
	}
	if _, err := p.deps.Publisher.Publish(ctx, p.cfg.Topic, event); err != nil {
		p.logger.Warn("publish intel event failed", zap.String("competitor", competitor), zap.Error(err))
	}
}
