package collyfetcher

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type scriptedTransport struct {
	errs  []error
	calls int
}

func (s *scriptedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader("User-agent: *\nDisallow: /private")),
		Request:    req,
	}, nil
}

func fastRobotsTransport(base http.RoundTripper) *robotsTransport {
	rt := newRobotsTransport(base)
	rt.delay = time.Millisecond
	return rt
}

func TestRobotsTransportFallsBackToAllowAll(t *testing.T) {
	t.Parallel()

	timeout := errors.New("net/http: tls: handshake timeout")
	base := &scriptedTransport{errs: []error{timeout, timeout, timeout, timeout}}
	req, err := http.NewRequest(http.MethodGet, "https://example.com/robots.txt", nil)
	require.NoError(t, err)

	resp, err := fastRobotsTransport(base).RoundTrip(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, 4, base.calls)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, allowAllRobots, string(body))
}

func TestRobotsTransportStopsAfterSuccess(t *testing.T) {
	t.Parallel()

	base := &scriptedTransport{errs: []error{context.DeadlineExceeded}}
	req, err := http.NewRequest(http.MethodGet, "https://example.com/robots.txt", nil)
	require.NoError(t, err)

	resp, err := fastRobotsTransport(base).RoundTrip(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, 2, base.calls)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "Disallow: /private")
}

func TestRobotsTransportSurfacesOtherErrors(t *testing.T) {
	t.Parallel()

	base := &scriptedTransport{errs: []error{errors.New("connection refused")}}
	req, err := http.NewRequest(http.MethodGet, "https://example.com/robots.txt", nil)
	require.NoError(t, err)

	_, err = fastRobotsTransport(base).RoundTrip(req)
	require.ErrorContains(t, err, "connection refused")
	require.Equal(t, 1, base.calls)
}

func TestRobotsTransportPassesThroughPages(t *testing.T) {
	t.Parallel()

	base := &scriptedTransport{errs: []error{context.DeadlineExceeded}}
	req, err := http.NewRequest(http.MethodGet, "https://example.com/pricing", nil)
	require.NoError(t, err)

	_, err = fastRobotsTransport(base).RoundTrip(req)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, 1, base.calls)
}
