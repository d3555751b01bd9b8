// Package collyfetcher implements the static Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/calvin1011/watchtower/internal/intel"
	"github.com/calvin1011/watchtower/internal/metrics"
)

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
}

// Waiter paces requests per host.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Fetcher implements intel.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
	limiter       Waiter
}

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithLimiter paces every fetch through w.
func WithLimiter(w Waiter) Option {
	return func(f *Fetcher) {
		f.limiter = w
	}
}

// WithTransport replaces the pooled HTTP transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(f *Fetcher) {
		f.transport = rt
	}
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config, opts ...Option) *Fetcher {
	// Sources re-fetch the same feed and API URLs on every run.
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())

	f := &Fetcher{
		cfg:           cfg,
		transport:     newHTTPTransport(),
		baseCollector: c,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.transport == nil {
		f.transport = newHTTPTransport()
	}
	c.WithTransport(newRobotsTransport(f.transport))
	return f
}

// Fetch executes a single HTTP GET using Colly. Non-2xx responses are errors.
func (f *Fetcher) Fetch(ctx context.Context, request intel.FetchRequest) (intel.FetchResponse, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, request.URL); err != nil {
			return intel.FetchResponse{}, fmt.Errorf("colly fetch: %w", err)
		}
	}
	var (
		result   intel.FetchResponse
		fetchErr error
	)
	start := time.Now()
	collector := f.buildCollector(request, start, &result, &fetchErr)

	err := f.runCollector(ctx, collector, request.URL, &fetchErr)
	metrics.ObserveFetch(request.URL, false, err)
	if err != nil {
		return intel.FetchResponse{}, err
	}
	return result, nil
}

func (f *Fetcher) buildCollector(
	request intel.FetchRequest,
	start time.Time,
	result *intel.FetchResponse,
	fetchErr *error,
) *colly.Collector {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	respectRobots := f.cfg.RespectRobots
	if request.RespectRobotsProvided {
		respectRobots = request.RespectRobots
	}
	collector.IgnoreRobotsTxt = !respectRobots
	timeout := f.cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)

	f.configureCollectorHooks(collector, request, start, result, fetchErr)
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	request intel.FetchRequest,
	start time.Time,
	result *intel.FetchResponse,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		f.copyHeaders(request, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		*result = intel.FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode >= http.StatusBadRequest {
			target := request.URL
			if r.Request != nil && r.Request.URL != nil {
				target = r.Request.URL.String()
			}
			*fetchErr = &intel.StatusError{
				URL:        target,
				StatusCode: r.StatusCode,
				Body:       append([]byte(nil), r.Body...),
			}
			return
		}
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		// OnError carries the status and body; Visit only returns the status text.
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

func (f *Fetcher) copyHeaders(request intel.FetchRequest, r *colly.Request) {
	if request.Headers == nil {
		return
	}
	for key, values := range request.Headers {
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
