package analysis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/calvin1011/watchtower/internal/intel"
)

// rawAnalysis accepts the keys the model is asked for plus the older
// company-specific response key.
type rawAnalysis struct {
	Summary             string  `json:"summary"`
	ThreatLevel         string  `json:"threat_level"`
	ThreatReason        string  `json:"threat_reason"`
	RecommendedResponse string  `json:"recommended_response"`
	HappyCoResponse     string  `json:"happyco_response"`
	SignalType          string  `json:"signal_type"`
	Confidence          float64 `json:"confidence"`
	SourceURL           *string `json:"source_url"`
}

// ParseResponse decodes model output into normalized analyses. Empty source
// URLs are back-filled from the item at the same position.
func ParseResponse(text string, items []intel.Item) ([]intel.Analysis, error) {
	payload := []byte(stripFences(text))
	var raws []rawAnalysis
	if trimmed := bytes.TrimSpace(payload); len(trimmed) > 0 && trimmed[0] == '{' {
		var single rawAnalysis
		if err := json.Unmarshal(trimmed, &single); err != nil {
			return nil, fmt.Errorf("decode analysis object: %w", err)
		}
		raws = []rawAnalysis{single}
	} else if err := json.Unmarshal(payload, &raws); err != nil {
		return nil, fmt.Errorf("decode analysis array: %w", err)
	}

	out := make([]intel.Analysis, 0, len(raws))
	for i, raw := range raws {
		a := intel.Analysis{
			Summary:             strings.TrimSpace(raw.Summary),
			ThreatLevel:         intel.NormalizeThreatLevel(raw.ThreatLevel),
			ThreatReason:        strings.TrimSpace(raw.ThreatReason),
			RecommendedResponse: strings.TrimSpace(raw.RecommendedResponse),
			SignalType:          intel.NormalizeSignalType(raw.SignalType),
			Confidence:          clamp(raw.Confidence),
		}
		if a.RecommendedResponse == "" {
			a.RecommendedResponse = strings.TrimSpace(raw.HappyCoResponse)
		}
		if raw.SourceURL != nil {
			a.SourceURL = strings.TrimSpace(*raw.SourceURL)
		}
		if a.SourceURL == "" && i < len(items) {
			a.SourceURL = items[i].URL
		}
		out = append(out, a)
	}
	return out, nil
}

func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	lines := strings.Split(text, "\n")
	if len(lines) > 1 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[1 : len(lines)-1]
	} else {
		lines = lines[1:]
	}
	return strings.Join(lines, "\n")
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
