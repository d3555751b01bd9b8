package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/calvin1011/watchtower/internal/metrics"
)

const allowAllRobots = "User-agent: *\nAllow: /"

// robotsTransport retries robots.txt lookups that time out. When every
// attempt times out it answers allow-all so a stalled robots endpoint does
// not block the page behind it. Other paths go straight to base.
type robotsTransport struct {
	base     http.RoundTripper
	attempts uint
	delay    time.Duration
}

func newRobotsTransport(base http.RoundTripper) *robotsTransport {
	return &robotsTransport{base: base, attempts: 4, delay: 250 * time.Millisecond}
}

func (t *robotsTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil || req.URL == nil {
		return nil, errors.New("robots transport: nil request")
	}
	if !strings.EqualFold(req.URL.Path, "/robots.txt") {
		return t.base.RoundTrip(req)
	}

	ctx := req.Context()
	resp, err := retry.DoWithData(
		func() (*http.Response, error) {
			return t.base.RoundTrip(req.Clone(ctx))
		},
		retry.Context(ctx),
		retry.Attempts(t.attempts),
		retry.Delay(t.delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(isHandshakeTimeout),
	)
	if err == nil {
		return resp, nil
	}
	if ctx.Err() != nil || !isHandshakeTimeout(err) {
		return nil, fmt.Errorf("fetch %s: %w", req.URL, err)
	}
	metrics.ObserveRobotsFallback()
	return &http.Response{
		StatusCode:    http.StatusOK,
		Status:        "200 OK",
		Body:          io.NopCloser(strings.NewReader(allowAllRobots)),
		ContentLength: int64(len(allowAllRobots)),
		Header:        http.Header{"Content-Type": {"text/plain"}},
		Request:       req,
	}, nil
}

func isHandshakeTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "tls: handshake timeout")
}
