package blog

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	collyfetcher "github.com/calvin1011/watchtower/internal/fetcher/colly"
	"github.com/calvin1011/watchtower/internal/intel"
)

type page struct {
	contentType string
	body        string
}

type fakeFetcher struct {
	pages     map[string]page
	requested []string
}

func (f *fakeFetcher) Fetch(_ context.Context, req intel.FetchRequest) (intel.FetchResponse, error) {
	f.requested = append(f.requested, req.URL)
	p, ok := f.pages[req.URL]
	if !ok {
		return intel.FetchResponse{}, &intel.StatusError{URL: req.URL, StatusCode: http.StatusNotFound}
	}
	return intel.FetchResponse{
		URL:        req.URL,
		StatusCode: http.StatusOK,
		Headers:    http.Header{"Content-Type": {p.contentType}},
		Body:       []byte(p.body),
	}, nil
}

const rssFeed = `<?xml version="1.0"?>
<rss version="2.0"><channel><title>Blog</title>
<item>
  <title>  Launching AI leasing  </title>
  <link>/blog/ai-leasing</link>
  <description><![CDATA[<p>We are <b>thrilled</b> to announce</p>]]></description>
  <pubDate>Mon, 04 Mar 2024 10:00:00 GMT</pubDate>
</item>
<item>
  <title>GUID only</title>
  <guid>https://www.example.com/blog/guid-only</guid>
</item>
<item><description>no title or link</description></item>
</channel></rss>`

const atomFeed = `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom"><title>News</title>
<entry>
  <title>Atom entry</title>
  <link href="https://www.example.com/news/atom-entry"/>
  <summary>Short summary</summary>
  <updated>2024-03-01T00:00:00Z</updated>
</entry>
</feed>`

func TestFetchParsesFirstFeed(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{pages: map[string]page{
		"https://www.example.com/rss": {contentType: "application/rss+xml; charset=utf-8", body: rssFeed},
	}}
	src := New(Config{}, f, nil)

	items, err := src.Fetch(context.Background(), intel.Competitor{Name: "X", BlogURL: "https://www.example.com/blog"})
	require.NoError(t, err)
	require.Len(t, items, 2)

	require.Equal(t, "Launching AI leasing", items[0].Title)
	require.Equal(t, "https://www.example.com/blog/ai-leasing", items[0].URL)
	require.Equal(t, "We are thrilled to announce", items[0].Snippet)
	require.Equal(t, "Mon, 04 Mar 2024 10:00:00 GMT", items[0].Date)
	require.Equal(t, intel.SourceBlog, items[0].Source)
	require.Equal(t, "https://www.example.com/blog/guid-only", items[1].URL)

	require.Equal(t, []string{"https://www.example.com/feed", "https://www.example.com/rss"}, f.requested)
}

func TestFetchAtomUsesUpdatedDate(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{pages: map[string]page{
		"https://www.example.com/blog/feed": {contentType: "application/atom+xml", body: atomFeed},
	}}
	items, err := New(Config{}, f, nil).Fetch(context.Background(), intel.Competitor{BlogURL: "https://www.example.com/blog"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "Atom entry", items[0].Title)
	require.Equal(t, "Short summary", items[0].Snippet)
	require.Equal(t, "2024-03-01T00:00:00Z", items[0].Date)
}

func TestFetchSkipsNonFeedAndEmptyFeeds(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{pages: map[string]page{
		"https://www.example.com/feed":      {contentType: "text/html", body: "<html></html>"},
		"https://www.example.com/rss":       {contentType: "text/xml", body: `<rss version="2.0"><channel></channel></rss>`},
		"https://www.example.com/blog/feed": {contentType: "application/xml", body: "not xml at all"},
		"https://www.example.com/feed/":     {contentType: "application/rss+xml", body: rssFeed},
	}}
	items, err := New(Config{}, f, nil).Fetch(context.Background(), intel.Competitor{BlogURL: "https://www.example.com/blog"})
	require.NoError(t, err)
	require.Len(t, items, 2)
}

func TestFetchFallsBackToArticleLinks(t *testing.T) {
	t.Parallel()

	html := `<html><body>
<a href="/blog/spring-release">Spring release</a>
<a href="/blog/spring-release">Duplicate</a>
<a href="/about">About</a>
<a href="https://www.example.com/NEWS/funding-round">Funding round</a>
<a href="/?ref=/post/launch">Too short</a>
<a href="mailto:x@example.com/blog/">mail</a>
<a href="/article/` + strings.Repeat("x", 10) + `">` + strings.Repeat("T", 300) + `</a>
</body></html>`
	f := &fakeFetcher{pages: map[string]page{
		"https://www.example.com/blog": {contentType: "text/html; charset=utf-8", body: html},
	}}
	items, err := New(Config{}, f, nil).Fetch(context.Background(), intel.Competitor{BlogURL: "https://www.example.com/blog"})
	require.NoError(t, err)
	require.Len(t, items, 3)
	require.Equal(t, "https://www.example.com/blog/spring-release", items[0].URL)
	require.Equal(t, "Spring release", items[0].Title)
	require.Equal(t, "https://www.example.com/NEWS/funding-round", items[1].URL)
	require.Len(t, []rune(items[2].Title), 200)
	require.Empty(t, items[2].Snippet)

	// The blog page is fetched once as the last probe and reused.
	require.Len(t, f.requested, len(feedPaths))
}

func TestFetchCapsItems(t *testing.T) {
	t.Parallel()

	var b strings.Builder
	b.WriteString("<html><body>")
	for i := 0; i < 30; i++ {
		fmt.Fprintf(&b, `<a href="/blog/post-number-%d">Post %d</a>`, i, i)
	}
	b.WriteString("</body></html>")

	f := &fakeFetcher{pages: map[string]page{
		"https://www.example.com/blog": {contentType: "text/html", body: b.String()},
	}}
	items, err := New(Config{}, f, nil).Fetch(context.Background(), intel.Competitor{BlogURL: "https://www.example.com/blog"})
	require.NoError(t, err)
	require.Len(t, items, 20)
}

func TestFetchUnreachableBlogYieldsNothing(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{pages: map[string]page{}}
	items, err := New(Config{}, f, nil).Fetch(context.Background(), intel.Competitor{BlogURL: "https://down.example.com/blog"})
	require.NoError(t, err)
	require.Empty(t, items)
	// Six probes plus the fallback fetch.
	require.Len(t, f.requested, len(feedPaths)+1)
}

func TestFetchWithoutBlogURL(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{}
	items, err := New(Config{}, f, nil).Fetch(context.Background(), intel.Competitor{Name: "NoBlog"})
	require.NoError(t, err)
	require.Nil(t, items)
	require.Empty(t, f.requested)
	require.Equal(t, "blog", New(Config{}, f, nil).Name())
}

func TestFetchCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(Config{}, &fakeFetcher{}, nil).Fetch(ctx, intel.Competitor{BlogURL: "https://www.example.com/blog"})
	require.True(t, errors.Is(err, context.Canceled))
}

func TestFetchAgainstServerWithCollyFetcher(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/feed", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/atom+xml")
		_, _ = w.Write([]byte(atomFeed))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	fetcher := collyfetcher.New(collyfetcher.Config{UserAgent: "watchtower-test", Timeout: 2 * time.Second})
	items, err := New(Config{}, fetcher, nil).Fetch(context.Background(), intel.Competitor{BlogURL: srv.URL + "/blog"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "https://www.example.com/news/atom-entry", items[0].URL)
}
