// Package server provides the core application server and dependency wiring.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/calvin1011/watchtower/internal/aggregator"
	"github.com/calvin1011/watchtower/internal/analysis"
	"github.com/calvin1011/watchtower/internal/api"
	"github.com/calvin1011/watchtower/internal/clock/system"
	"github.com/calvin1011/watchtower/internal/competitor"
	"github.com/calvin1011/watchtower/internal/config"
	"github.com/calvin1011/watchtower/internal/dedupe"
	"github.com/calvin1011/watchtower/internal/digest"
	"github.com/calvin1011/watchtower/internal/embedding"
	collyfetcher "github.com/calvin1011/watchtower/internal/fetcher/colly"
	headlessfetcher "github.com/calvin1011/watchtower/internal/fetcher/headless"
	"github.com/calvin1011/watchtower/internal/headless/detector"
	"github.com/calvin1011/watchtower/internal/id/uuid"
	"github.com/calvin1011/watchtower/internal/intel"
	"github.com/calvin1011/watchtower/internal/logging"
	"github.com/calvin1011/watchtower/internal/metrics"
	"github.com/calvin1011/watchtower/internal/pipeline"
	"github.com/calvin1011/watchtower/internal/policy/ratelimit"
	memorypublisher "github.com/calvin1011/watchtower/internal/publisher/memory"
	gcppublisher "github.com/calvin1011/watchtower/internal/publisher/pubsub"
	"github.com/calvin1011/watchtower/internal/scheduler"
	"github.com/calvin1011/watchtower/internal/source/blog"
	"github.com/calvin1011/watchtower/internal/source/jobs"
	"github.com/calvin1011/watchtower/internal/source/reviews"
	"github.com/calvin1011/watchtower/internal/source/serpapi"
	"github.com/calvin1011/watchtower/internal/source/website"
	gcsstorage "github.com/calvin1011/watchtower/internal/storage/gcs"
	localstorage "github.com/calvin1011/watchtower/internal/storage/local"
	memorystorage "github.com/calvin1011/watchtower/internal/storage/memory"
	pgstore "github.com/calvin1011/watchtower/internal/storage/postgres"
	"github.com/calvin1011/watchtower/internal/telemetry"
)

// intelStore is what the app needs from a storage backend.
type intelStore interface {
	intel.IntelStore
	intel.DigestStore
	Ping(ctx context.Context) error
}

// App contains the application's dependencies.
type App struct {
	cfg       *config.Config
	logger    *zap.Logger
	registry  *competitor.Registry
	store     intelStore
	pgStore   *pgstore.Store
	seen      intel.SeenStore
	redis     *dedupe.Redis
	publisher intel.Publisher
	pubsub    *gcppublisher.Publisher
	storage   *storage.Client
	blobs     intel.BlobStore
	headless  *headlessfetcher.Fetcher
	pipeline  *pipeline.Pipeline
	digest    *digest.Service
	scheduler *scheduler.Scheduler
	apiServer *api.Server
	tracer    *sdktrace.TracerProvider
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(logging.Options{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	app := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.Int("competitors", len(cfg.Competitors)),
	)

	// Later failures release whatever was opened so far.
	ok := false
	defer func() {
		if !ok {
			app.closeInfrastructure(context.Background())
			if app.tracer != nil {
				_ = app.tracer.Shutdown(context.Background())
			}
		}
	}()

	app.tracer, err = telemetry.InitTracerProvider(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}

	app.registry, err = competitor.NewRegistry(cfg.Competitors)
	if err != nil {
		return nil, fmt.Errorf("competitor registry: %w", err)
	}

	if err = setupDatabase(ctx, app); err != nil {
		return nil, err
	}
	if err = setupDedupe(app); err != nil {
		return nil, err
	}
	if err = setupPublisher(ctx, app); err != nil {
		return nil, err
	}
	if err = setupStorage(ctx, app); err != nil {
		return nil, err
	}

	collector, err := setupCollector(app)
	if err != nil {
		return nil, err
	}
	embedder, err := embedding.New(ctx, embedding.Config{
		Provider:     cfg.Embedding.Provider,
		OpenAIAPIKey: cfg.Embedding.OpenAIAPIKey,
		GenAIAPIKey:  cfg.Embedding.GenAIAPIKey,
		Model:        cfg.Embedding.Model,
		Dimensions:   cfg.Embedding.Dimensions,
		BaseURL:      cfg.Embedding.BaseURL,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("embedding init failed: %w", err)
	}
	analyzer, err := setupAnalyzer(app)
	if err != nil {
		return nil, err
	}

	ids := uuid.New()
	clock := system.New()
	app.pipeline, err = pipeline.New(pipeline.Deps{
		Collector: collector,
		Analyzer:  analyzer,
		Embedder:  embedder,
		Store:     app.store,
		Seen:      app.seen,
		Publisher: app.publisher,
		IDs:       ids,
		Clock:     clock,
	}, pipeline.Config{
		EmbedConcurrency: cfg.Pipeline.EmbedConcurrency,
		Topic:            cfg.PubSub.TopicName,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("pipeline init failed: %w", err)
	}

	if err = setupDigest(app, ids, clock); err != nil {
		return nil, err
	}

	app.scheduler, err = scheduler.New(scheduler.Config{
		Spec:      cfg.Scheduler.Cron,
		Timezone:  cfg.Scheduler.Timezone,
		SinceDays: cfg.Digest.SinceDays,
	}, app.pipeline, app.digest, app.registry, logger)
	if err != nil {
		return nil, fmt.Errorf("scheduler init failed: %w", err)
	}

	checks := map[string]api.Pinger{"store": app.store}
	if app.redis != nil {
		checks["dedupe"] = app.redis
	}
	app.apiServer = api.NewServer(api.Deps{
		Store:    app.store,
		Registry: app.registry,
		Runner:   app.pipeline,
		Digests:  app.digest,
		Embedder: embedder,
		Checks:   checks,
	}, api.Options{
		RequestTimeout: time.Duration(cfg.Server.RequestTimeoutSeconds) * time.Second,
	}, logger)

	ok = true
	return app, nil
}

// Pipeline returns the per-competitor pipeline.
func (a *App) Pipeline() *pipeline.Pipeline { return a.pipeline }

// Digest returns the digest service.
func (a *App) Digest() *digest.Service { return a.digest }

// Scheduler returns the weekly scheduler.
func (a *App) Scheduler() *scheduler.Scheduler { return a.scheduler }

// Registry returns the tracked competitors.
func (a *App) Registry() *competitor.Registry { return a.registry }

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler { return a.apiServer.Handler() }

// Logger returns the root logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Run serves HTTP and arms the scheduler until ctx is cancelled or a signal
// arrives.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if a.cfg.Scheduler.Enabled {
		a.scheduler.Start()
	} else {
		a.logger.Info("scheduler disabled")
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	if a.cfg.Scheduler.Enabled {
		if err := a.scheduler.Stop(shutdownCtx); err != nil {
			a.logger.Warn("scheduler stop failed", zap.Error(err))
		}
	}

	return a.Close(shutdownCtx)
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	a.closeInfrastructure(ctx)
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure(_ context.Context) {
	if a.headless != nil {
		a.headless.Close()
	}
	if a.pubsub != nil {
		if err := a.pubsub.Close(); err != nil {
			a.logger.Warn("pubsub close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("redis close failed", zap.Error(err))
		}
	}
	if a.pgStore != nil {
		a.pgStore.Close()
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	// Sync fails on stdout/stderr for some platforms; nothing to do about it.
	_ = a.logger.Sync()
}

func setupDatabase(ctx context.Context, app *App) error {
	if app.cfg.Database.DSN == "" {
		app.logger.Warn("no DSN specified for database, using in-memory intel store")
		app.store = memorystorage.NewIntelStore()
		return nil
	}
	store, err := pgstore.New(ctx, pgstore.Config{
		DSN:             app.cfg.Database.DSN,
		IntelTable:      app.cfg.Database.IntelTable,
		DigestTable:     app.cfg.Database.DigestTable,
		MaxConns:        app.cfg.Database.MaxConns,
		MinConns:        app.cfg.Database.MinConns,
		MaxConnLifetime: app.cfg.Database.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("intel store init failed: %w", err)
	}
	app.pgStore = store
	app.store = store
	app.logger.Info("postgres intel store initialized",
		zap.String("intel_table", app.cfg.Database.IntelTable),
		zap.String("digest_table", app.cfg.Database.DigestTable),
	)
	return nil
}

func setupDedupe(app *App) error {
	if !app.cfg.Dedupe.Enabled {
		app.logger.Info("seen-URL dedupe disabled")
		return nil
	}
	if app.cfg.Dedupe.RedisAddr == "" {
		app.logger.Info("using in-memory seen-URL store", zap.Duration("ttl", app.cfg.DedupeTTL()))
		app.seen = dedupe.NewMemory(app.cfg.DedupeTTL(), system.New())
		return nil
	}
	r, err := dedupe.NewRedis(dedupe.Config{
		Address:   app.cfg.Dedupe.RedisAddr,
		Password:  app.cfg.Dedupe.RedisPassword,
		DB:        app.cfg.Dedupe.RedisDB,
		TTL:       app.cfg.DedupeTTL(),
		KeyPrefix: app.cfg.Dedupe.KeyPrefix,
	})
	if err != nil {
		return fmt.Errorf("dedupe init failed: %w", err)
	}
	app.redis = r
	app.seen = r
	app.logger.Info("using redis seen-URL store", zap.String("addr", app.cfg.Dedupe.RedisAddr))
	return nil
}

func setupPublisher(ctx context.Context, app *App) error {
	if app.cfg.PubSub.TopicName == "" || app.cfg.PubSub.ProjectID == "" {
		app.logger.Warn("no Pub/Sub topic configured, using in-memory publisher")
		app.publisher = memorypublisher.New()
		return nil
	}
	p, err := gcppublisher.Dial(ctx, app.cfg.PubSub.ProjectID, app.cfg.PubSub.TopicName)
	if err != nil {
		return fmt.Errorf("pubsub init failed: %w", err)
	}
	app.pubsub = p
	app.publisher = p
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return nil
}

func setupStorage(ctx context.Context, app *App) error {
	var err error
	switch app.cfg.Storage.Backend {
	case "gcs":
		app.logger.Info("using GCS archive backend")
		app.storage, err = storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		app.blobs, err = gcsstorage.New(app.storage, gcsstorage.Config{
			Bucket: app.cfg.Storage.Bucket,
			Prefix: app.cfg.Storage.Prefix,
		})
		if err != nil {
			return fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.logger.Debug("GCS archive backend", zap.String("bucket", app.cfg.Storage.Bucket))
	case "local":
		app.logger.Info("using local archive backend")
		app.blobs, err = localstorage.New(app.cfg.Storage.Local)
		if err != nil {
			return fmt.Errorf("local blob store init failed: %w", err)
		}
		app.logger.Debug("local archive backend", zap.String("path", app.cfg.Storage.Local.BaseDir))
	default:
		app.logger.Info("using in-memory archive backend")
		app.blobs = memorystorage.NewBlobStore()
	}
	return nil
}

func setupCollector(app *App) (*aggregator.Aggregator, error) {
	cfg := app.cfg
	var opts []collyfetcher.Option
	if cfg.RateLimit.Enabled {
		opts = append(opts, collyfetcher.WithLimiter(ratelimit.New(ratelimit.Config{
			DefaultRPS:   cfg.RateLimit.DefaultRPS,
			DefaultBurst: cfg.RateLimit.DefaultBurst,
		})))
		app.logger.Info("rate limiter enabled",
			zap.Float64("default_rps", cfg.RateLimit.DefaultRPS),
			zap.Int("default_burst", cfg.RateLimit.DefaultBurst),
		)
	}
	static := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.HTTP.UserAgent,
		RespectRobots: cfg.HTTP.RespectRobots,
		Timeout:       cfg.HTTPTimeout(),
	}, opts...)
	app.logger.Info("using colly fetcher", zap.String("user_agent", cfg.HTTP.UserAgent))

	attempts := cfg.HTTP.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}
	serp := serpapi.New(serpapi.Config{
		APIKey:   cfg.SerpAPI.APIKey,
		BaseURL:  cfg.SerpAPI.BaseURL,
		Attempts: uint(attempts),
	}, static, app.logger)

	var sources []intel.Source
	if cfg.Sources.Blog.Enabled {
		sources = append(sources, blog.New(blog.Config{MaxItems: cfg.Sources.Blog.MaxItems}, static, app.logger))
	}
	if cfg.Sources.Reviews.Enabled {
		sources = append(sources, reviews.New(reviews.Config{
			MaxPerQuery:     cfg.Sources.Reviews.MaxPerQuery,
			MaxItems:        cfg.Sources.Reviews.MaxItems,
			ResultsPerQuery: cfg.Sources.Reviews.ResultsPerQuery,
		}, serp, app.logger))
	}
	if cfg.Sources.Jobs.Enabled {
		sources = append(sources, jobs.New(jobs.Config{
			MaxItems: cfg.Sources.Jobs.MaxItems,
			Location: cfg.Sources.Jobs.Location,
		}, serp))
	}
	if cfg.Sources.Website.Enabled {
		var headless intel.Fetcher = headlessfetcher.NewNoop()
		if cfg.Headless.Enabled {
			f, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
				MaxParallel:       cfg.Headless.MaxParallel,
				UserAgent:         cfg.HTTP.UserAgent,
				NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
			})
			if err != nil {
				return nil, fmt.Errorf("headless fetcher init failed: %w", err)
			}
			app.headless = f
			headless = f
			app.logger.Info("using headless fetcher", zap.Int("max_parallel", cfg.Headless.MaxParallel))
		}
		sources = append(sources, website.New(
			static,
			headless,
			detector.NewHeuristic(cfg.Headless.PromotionThresh),
			app.logger,
		))
	}

	agg := aggregator.New(sources, cfg.Pipeline.SourceConcurrency, app.logger)
	app.logger.Info("sources configured", zap.Strings("sources", agg.Sources()))
	return agg, nil
}

func setupAnalyzer(app *App) (*analysis.Client, error) {
	var prompt string
	if path := app.cfg.Analysis.ContextFile; path != "" {
		loaded, err := analysis.LoadSystemPrompt(path)
		if err != nil {
			return nil, fmt.Errorf("analysis context: %w", err)
		}
		prompt = loaded
	}
	if app.cfg.Analysis.APIKey == "" {
		app.logger.Warn("ANTHROPIC_API_KEY not set, pipeline runs will fail at analysis")
	}
	return analysis.New(analysis.Config{
		APIKey:       app.cfg.Analysis.APIKey,
		BaseURL:      app.cfg.Analysis.BaseURL,
		Model:        app.cfg.Analysis.Model,
		MaxTokens:    int64(app.cfg.Analysis.MaxTokens),
		MaxRetries:   app.cfg.Analysis.MaxRetries,
		SystemPrompt: prompt,
	}, app.logger), nil
}

func setupDigest(app *App, ids intel.IDGenerator, clock intel.Clock) error {
	deps := digest.Deps{
		Store:     app.store,
		Digests:   app.store,
		Blobs:     app.blobs,
		Publisher: app.publisher,
		IDs:       ids,
		Clock:     clock,
	}
	if app.cfg.Digest.ResendAPIKey != "" {
		mailer, err := digest.NewResendMailer(digest.ResendConfig{APIKey: app.cfg.Digest.ResendAPIKey})
		if err != nil {
			return fmt.Errorf("resend init failed: %w", err)
		}
		deps.Mailer = mailer
	} else {
		app.logger.Warn("RESEND_API_KEY not set, digests can be previewed but not sent")
	}
	svc, err := digest.New(deps, digest.Config{
		From:        app.cfg.Digest.From,
		Recipient:   app.cfg.Digest.Recipient,
		CompanyName: app.cfg.Digest.CompanyName,
		ScanLimit:   app.cfg.Digest.ScanLimit,
		SinceDays:   app.cfg.Digest.SinceDays,
		Topic:       app.cfg.PubSub.TopicName,
	}, app.logger)
	if err != nil {
		return fmt.Errorf("digest init failed: %w", err)
	}
	app.digest = svc
	return nil
}
