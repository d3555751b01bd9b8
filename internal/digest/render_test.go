package digest

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/calvin1011/watchtower/internal/intel"
)

func TestRenderOrdersGroupsAndEscapes(t *testing.T) {
	t.Parallel()

	weekOf := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	content := intel.DigestContent{
		WeekOf: "2024-03-04",
		Grouped: map[intel.ThreatLevel][]intel.DigestEntry{
			intel.ThreatLow: {{
				Competitor: "Buildium", SignalType: "HIRING", Summary: "hiring SREs",
				ThreatReason: "scale", RecommendedResponse: "watch",
			}},
			intel.ThreatHigh: {{
				Competitor: "AppFolio", SignalType: "PRODUCT_LAUNCH", Summary: "<script>alert(1)</script>",
				ThreatReason: "AI inspections", RecommendedResponse: "ship faster",
				SourceURL: "https://appfolio.example.com/launch",
			}},
		},
		TotalItems: 2,
	}

	html, err := Render(content, weekOf, "HappyCo")
	require.NoError(t, err)

	require.Contains(t, html, "Watchtower Competitive Intel — Week of March 04, 2024")
	require.Contains(t, html, "briefing from the HappyCo Competitive Intelligence Agent")
	require.Contains(t, html, "<strong>AppFolio</strong> · PRODUCT_LAUNCH")
	require.Contains(t, html, "<em>Threat:</em> AI inspections")
	require.Contains(t, html, "<strong>HappyCo response:</strong> ship faster")
	require.Contains(t, html, `href="https://appfolio.example.com/launch"`)
	require.Contains(t, html, "#dc2626")
	require.Contains(t, html, "#ca8a04")
	require.NotContains(t, html, "#ea580c")
	require.NotContains(t, html, "<script>alert(1)</script>")
	require.Contains(t, html, "&lt;script&gt;")
	require.NotContains(t, html, "No new intel this week.")
	require.Less(t, strings.Index(html, "AppFolio"), strings.Index(html, "Buildium"))
	require.Equal(t, 1, strings.Count(html, ">Source</a>"))
	require.Contains(t, html, "Sent by Watchtower. Not for external distribution.")
}

func TestRenderEmpty(t *testing.T) {
	t.Parallel()

	html, err := Render(intel.DigestContent{}, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), "HappyCo")
	require.NoError(t, err)
	require.Contains(t, html, "No new intel this week.")
	require.Contains(t, html, "Week of January 01, 2024")
}

func TestSubject(t *testing.T) {
	t.Parallel()

	require.Equal(t, "Watchtower Intel Digest — Week of December 30, 2024",
		Subject(time.Date(2024, 12, 30, 0, 0, 0, 0, time.UTC)))
}
