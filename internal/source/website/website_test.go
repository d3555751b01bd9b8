package website

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calvin1011/watchtower/internal/headless/detector"
	"github.com/calvin1011/watchtower/internal/intel"
)

type stubFetcher struct {
	resp  intel.FetchResponse
	err   error
	calls int
}

func (s *stubFetcher) Fetch(_ context.Context, req intel.FetchRequest) (intel.FetchResponse, error) {
	s.calls++
	if s.err != nil {
		return intel.FetchResponse{}, s.err
	}
	resp := s.resp
	resp.URL = req.URL
	return resp, nil
}

type stubDetector struct{ promote bool }

func (d stubDetector) ShouldPromote(intel.FetchResponse) bool { return d.promote }

func htmlResponse(body string) intel.FetchResponse {
	return intel.FetchResponse{
		StatusCode: http.StatusOK,
		Headers:    http.Header{"Content-Type": {"text/html"}},
		Body:       []byte(body),
	}
}

func TestFetchStaticPage(t *testing.T) {
	t.Parallel()

	static := &stubFetcher{resp: htmlResponse(`<html><head><style>.x{}</style></head><body>
<nav>Menu Login</nav>
<h1>Property   management</h1>
<script>track()</script>
<p>made simple.</p>
<noscript>enable js</noscript>
</body></html>`)}
	headless := &stubFetcher{}
	src := New(static, headless, stubDetector{promote: false}, nil)

	items, err := src.Fetch(context.Background(), intel.Competitor{WebsiteURL: "https://www.example.com/"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "Homepage", items[0].Title)
	require.Equal(t, "https://www.example.com", items[0].URL)
	require.Equal(t, "Property management made simple.", items[0].RawContent)
	require.Equal(t, items[0].RawContent, items[0].Snippet)
	require.Equal(t, intel.SourceWebsite, items[0].Source)
	require.Zero(t, headless.calls)
}

func TestFetchPromotesToHeadless(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("word ", 2000)
	static := &stubFetcher{resp: htmlResponse(`<html><body><div id="root"></div></body></html>`)}
	headless := &stubFetcher{resp: intel.FetchResponse{StatusCode: 200, Text: long}}
	src := New(static, headless, stubDetector{promote: true}, nil)

	items, err := src.Fetch(context.Background(), intel.Competitor{WebsiteURL: "https://app.example.com"})
	require.NoError(t, err)
	require.Equal(t, 1, headless.calls)
	require.Len(t, []rune(items[0].RawContent), 8000)
	require.Len(t, []rune(items[0].Snippet), 303)
	require.True(t, strings.HasSuffix(items[0].Snippet, "..."))
}

func TestFetchHeadlessFailureKeepsStaticPage(t *testing.T) {
	t.Parallel()

	static := &stubFetcher{resp: htmlResponse(`<html><body><p>static copy</p></body></html>`)}
	headless := &stubFetcher{err: errors.New("chrome crashed")}
	items, err := New(static, headless, stubDetector{promote: true}, nil).
		Fetch(context.Background(), intel.Competitor{WebsiteURL: "https://www.example.com"})
	require.NoError(t, err)
	require.Equal(t, "static copy", items[0].RawContent)
}

func TestFetchStaticFailureFallsBackToHeadless(t *testing.T) {
	t.Parallel()

	static := &stubFetcher{err: errors.New("tls handshake timeout")}
	headless := &stubFetcher{resp: intel.FetchResponse{Text: "rendered"}}
	items, err := New(static, headless, nil, nil).
		Fetch(context.Background(), intel.Competitor{WebsiteURL: "https://www.example.com"})
	require.NoError(t, err)
	require.Equal(t, "rendered", items[0].Snippet)

	_, err = New(static, nil, nil, nil).Fetch(context.Background(), intel.Competitor{WebsiteURL: "https://www.example.com"})
	require.ErrorContains(t, err, "tls handshake timeout")
}

func TestFetchUsesHeuristicDetector(t *testing.T) {
	t.Parallel()

	static := &stubFetcher{resp: htmlResponse(`<html><body><noscript>You need to enable JavaScript to run this app.</noscript><div id="root"></div></body></html>`)}
	headless := &stubFetcher{resp: intel.FetchResponse{Text: "hydrated app"}}
	items, err := New(static, headless, detector.NewHeuristic(2048), nil).
		Fetch(context.Background(), intel.Competitor{WebsiteURL: "https://www.example.com"})
	require.NoError(t, err)
	require.Equal(t, "hydrated app", items[0].RawContent)
}

func TestFetchEmptyPageAndMissingURL(t *testing.T) {
	t.Parallel()

	static := &stubFetcher{resp: htmlResponse(`<html><body><script>x()</script></body></html>`)}
	src := New(static, nil, nil, nil)
	items, err := src.Fetch(context.Background(), intel.Competitor{WebsiteURL: "https://www.example.com"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Empty(t, items[0].RawContent)
	require.Empty(t, items[0].Snippet)

	none, err := src.Fetch(context.Background(), intel.Competitor{Name: "X"})
	require.NoError(t, err)
	require.Nil(t, none)
	require.Equal(t, "website", src.Name())
}
