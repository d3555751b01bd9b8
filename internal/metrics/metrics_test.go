package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInitIsIdempotent(t *testing.T) {
	Init()
	first := pipelineRunsTotal
	Init()
	if pipelineRunsTotal != first {
		t.Fatal("Init() replaced collectors on second call")
	}
}

func TestObservePipelineRun(t *testing.T) {
	before := testutil.ToFloat64(pipelineRunsTotalFor("MetricsCo", "error"))
	ObservePipelineRun("MetricsCo", errors.New("boom"))
	ObservePipelineRun("MetricsCo", nil)

	if got := testutil.ToFloat64(pipelineRunsTotalFor("MetricsCo", "error")); got != before+1 {
		t.Errorf("expected error runs %f, got %f", before+1, got)
	}
	if got := testutil.ToFloat64(pipelineRunsTotalFor("MetricsCo", "success")); got < 1 {
		t.Errorf("expected success runs >= 1, got %f", got)
	}
}

func TestObserveSourceCountsItems(t *testing.T) {
	ObserveSource("metrics-test-source", 3, nil)
	ObserveSource("metrics-test-source", 0, errors.New("down"))

	if got := testutil.ToFloat64(sourceItemsTotal.WithLabelValues("metrics-test-source")); got != 3 {
		t.Errorf("expected 3 items, got %f", got)
	}
	if got := testutil.ToFloat64(sourceFetchesTotal.WithLabelValues("metrics-test-source", "error")); got != 1 {
		t.Errorf("expected 1 failed fetch, got %f", got)
	}
}

func TestObserveFetchLabelsMode(t *testing.T) {
	ObserveFetch("https://Metrics.Example.com/page", true, nil)

	got := testutil.ToFloat64(fetchesTotal.WithLabelValues("metrics.example.com", "headless", "success"))
	if got != 1 {
		t.Errorf("expected 1 headless fetch, got %f", got)
	}
}

func TestObserveMiscCounters(t *testing.T) {
	beforeEmbed := testutil.ToFloat64(embeddingFailuresTotal)
	ObserveEmbeddingFailure()
	if got := testutil.ToFloat64(embeddingFailuresTotal); got != beforeEmbed+1 {
		t.Errorf("expected embedding failures %f, got %f", beforeEmbed+1, got)
	}

	ObserveIntelCreated("MetricsCo", "HIGH")
	if got := testutil.ToFloat64(intelCreatedTotal.WithLabelValues("MetricsCo", "HIGH")); got < 1 {
		t.Errorf("expected intel created >= 1, got %f", got)
	}

	ObserveDigestSend(nil)
	ObserveAnalysis(nil)
	ObserveRobotsFallback()
	if got := testutil.ToFloat64(robotsFallbacksTotal); got < 1 {
		t.Errorf("expected robots fallback >= 1, got %f", got)
	}
	ObserveRateLimitDelay("example.com", 20*time.Millisecond)
	if val := testutil.CollectAndCount(rateLimitDelaysSeconds); val <= 0 {
		t.Errorf("expected rate limit delay to be observed, got %d", val)
	}
}

func pipelineRunsTotalFor(competitor, status string) prometheus.Counter {
	Init()
	return pipelineRunsTotal.WithLabelValues(competitor, status)
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
