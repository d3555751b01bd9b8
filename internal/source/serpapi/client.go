// Package serpapi is a small client for the SerpAPI search endpoint shared by
// the review and job-listing sources.
package serpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"go.uber.org/zap"

	"github.com/calvin1011/watchtower/internal/intel"
)

// ErrMissingAPIKey is returned when no SerpAPI key is configured.
var ErrMissingAPIKey = errors.New("serpapi: SERPAPI_KEY is required")

// DefaultBaseURL is the public search endpoint.
const DefaultBaseURL = "https://serpapi.com/search.json"

// Config controls the client.
type Config struct {
	APIKey   string
	BaseURL  string
	Attempts uint
	Delay    time.Duration
}

// APIError is the error field SerpAPI embeds in a response body.
type APIError struct {
	Message string
}

func (e *APIError) Error() string {
	return "serpapi error: " + e.Message
}

// Client issues search requests through a Fetcher.
type Client struct {
	cfg     Config
	fetcher intel.Fetcher
	logger  *zap.Logger
}

// New builds a Client. A nil logger is replaced with a no-op.
func New(cfg Config, fetcher intel.Fetcher, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = 3
	}
	if cfg.Delay <= 0 {
		cfg.Delay = 500 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{cfg: cfg, fetcher: fetcher, logger: logger.Named("serpapi")}
}

// Search runs one query and decodes the JSON body into out.
func (c *Client) Search(ctx context.Context, params url.Values, out any) error {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return ErrMissingAPIKey
	}
	if c.fetcher == nil {
		return fmt.Errorf("serpapi: fetcher is required")
	}
	endpoint, err := c.endpoint(params)
	if err != nil {
		return err
	}

	var body []byte
	err = retry.Do(
		func() error {
			resp, fetchErr := c.fetcher.Fetch(ctx, intel.FetchRequest{
				URL:                   endpoint,
				RespectRobots:         false,
				RespectRobotsProvided: true,
			})
			if fetchErr != nil {
				var statusErr *intel.StatusError
				if errors.As(fetchErr, &statusErr) {
					if apiErr := decodeAPIError(statusErr.Body); apiErr != nil && !statusErr.Temporary() {
						return apiErr
					}
				}
				return fetchErr
			}
			body = resp.Body
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(c.cfg.Attempts),
		retry.Delay(c.cfg.Delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(isTransient),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Debug("retrying search", zap.Uint("attempt", n+1), zap.Error(err))
		}),
	)
	if err != nil {
		return fmt.Errorf("serpapi request: %w", err)
	}

	if apiErr := decodeAPIError(body); apiErr != nil {
		return apiErr
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode serpapi response: %w", err)
	}
	return nil
}

func (c *Client) endpoint(params url.Values) (string, error) {
	base, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse serpapi base url: %w", err)
	}
	q := base.Query()
	for key, values := range params {
		for _, v := range values {
			q.Add(key, v)
		}
	}
	q.Set("api_key", c.cfg.APIKey)
	base.RawQuery = q.Encode()
	return base.String(), nil
}

func decodeAPIError(body []byte) error {
	var envelope struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Error == "" {
		return nil
	}
	return &APIError{Message: envelope.Error}
}

func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return false
	}
	var statusErr *intel.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Temporary()
	}
	return true
}
