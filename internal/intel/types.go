// Package intel defines the core types shared across the watchtower subsystems.
package intel

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrNotFound is returned by stores when a requested row does not exist.
var ErrNotFound = errors.New("intel: not found")

// ThreatLevel ranks how much a signal matters to the home company.
type ThreatLevel string

// Threat levels in canonical digest order.
const (
	ThreatHigh   ThreatLevel = "HIGH"
	ThreatMedium ThreatLevel = "MEDIUM"
	ThreatLow    ThreatLevel = "LOW"
)

// ThreatLevels lists the levels a digest renders, highest first.
var ThreatLevels = []ThreatLevel{ThreatHigh, ThreatMedium, ThreatLow}

// NormalizeThreatLevel upper-cases a model-provided level; blank becomes LOW.
func NormalizeThreatLevel(raw string) ThreatLevel {
	level := strings.ToUpper(strings.TrimSpace(raw))
	if level == "" {
		return ThreatLow
	}
	return ThreatLevel(level)
}

// Signal types the analysis prompt asks the model to choose from.
const (
	SignalProductLaunch     = "PRODUCT_LAUNCH"
	SignalPricingChange     = "PRICING_CHANGE"
	SignalMarketingShift    = "MARKETING_SHIFT"
	SignalHiring            = "HIRING_SIGNAL"
	SignalCustomerComplaint = "CUSTOMER_COMPLAINT"
	SignalPartnership       = "PARTNERSHIP"
	SignalOther             = "OTHER"
)

// signalAliases maps shorthand the model sometimes returns to the
// canonical signal type.
var signalAliases = map[string]string{
	"PRICING":       SignalPricingChange,
	"MARKETING":     SignalMarketingShift,
	"HIRING":        SignalHiring,
	"COMPLAINT":     SignalCustomerComplaint,
	"CUSTOMER_PAIN": SignalCustomerComplaint,
	"LAUNCH":        SignalProductLaunch,
}

// NormalizeSignalType upper-cases raw and joins words with underscores.
// Known shorthand maps to its canonical type; blank becomes OTHER. Other
// values pass through so new categories are not lost.
func NormalizeSignalType(raw string) string {
	signal := strings.ToUpper(strings.TrimSpace(raw))
	signal = strings.NewReplacer(" ", "_", "-", "_").Replace(signal)
	if signal == "" {
		return SignalOther
	}
	if canonical, ok := signalAliases[signal]; ok {
		return canonical
	}
	return signal
}

// Source names recorded on collected items.
const (
	SourceBlog    = "blog"
	SourceReviews = "reviews"
	SourceJobs    = "jobs"
	SourceWebsite = "website"
)

// Competitor is one tracked company and the public URLs watched for it.
type Competitor struct {
	Name       string `json:"name" mapstructure:"name"`
	Slug       string `json:"slug" mapstructure:"slug"`
	BlogURL    string `json:"blog_url,omitempty" mapstructure:"blog_url"`
	WebsiteURL string `json:"website_url,omitempty" mapstructure:"website_url"`
}

// Item is the normalized shape every source produces.
type Item struct {
	Title      string `json:"title"`
	URL        string `json:"url"`
	Snippet    string `json:"snippet"`
	Date       string `json:"date"`
	RawContent string `json:"raw_content,omitempty"`
	Source     string `json:"source,omitempty"`
}

// Analysis is one structured judgement returned by the model.
type Analysis struct {
	Summary             string      `json:"summary"`
	ThreatLevel         ThreatLevel `json:"threat_level"`
	ThreatReason        string      `json:"threat_reason"`
	RecommendedResponse string      `json:"recommended_response"`
	SignalType          string      `json:"signal_type"`
	Confidence          float64     `json:"confidence"`
	SourceURL           string      `json:"source_url"`
}

// Record is a persisted intel row.
type Record struct {
	ID                  string      `json:"id"`
	Competitor          string      `json:"competitor"`
	SignalType          string      `json:"signal_type"`
	ThreatLevel         ThreatLevel `json:"threat_level"`
	ThreatReason        string      `json:"threat_reason"`
	Summary             string      `json:"summary"`
	RecommendedResponse string      `json:"recommended_response"`
	Confidence          float64     `json:"confidence"`
	SourceURL           string      `json:"source_url"`
	RawContent          string      `json:"raw_content,omitempty"`
	Embedding           []float32   `json:"-"`
	DetectedAt          time.Time   `json:"detected_at"`
	CreatedAt           time.Time   `json:"created_at"`
}

// Filter narrows ListIntel results. Zero values disable a clause.
type Filter struct {
	Competitor string
	SignalType string
	Since      time.Time
	Limit      int
}

// DigestEntry is one row rendered inside a digest group.
type DigestEntry struct {
	ID                  string      `json:"id"`
	Competitor          string      `json:"competitor"`
	SignalType          string      `json:"signal_type"`
	ThreatLevel         ThreatLevel `json:"threat_level"`
	ThreatReason        string      `json:"threat_reason"`
	Summary             string      `json:"summary"`
	RecommendedResponse string      `json:"recommended_response"`
	SourceURL           string      `json:"source_url"`
	Confidence          float64     `json:"confidence"`
	DetectedAt          time.Time   `json:"detected_at"`
}

// DigestContent is the JSON document stored with each sent digest.
type DigestContent struct {
	WeekOf     string                        `json:"week_of"`
	Grouped    map[ThreatLevel][]DigestEntry `json:"grouped"`
	TotalItems int                           `json:"total_items"`
}

// Digest records one emailed summary.
type Digest struct {
	ID         string        `json:"id"`
	WeekOf     time.Time     `json:"week_of"`
	Content    DigestContent `json:"content"`
	Recipient  string        `json:"recipient"`
	SentAt     time.Time     `json:"sent_at"`
	ArchiveURI string        `json:"archive_uri,omitempty"`
}

// Event is published after pipeline runs and digest sends.
type Event struct {
	Type       string    `json:"type"`
	Competitor string    `json:"competitor,omitempty"`
	Count      int       `json:"count,omitempty"`
	IDs        []string  `json:"ids,omitempty"`
	DigestID   string    `json:"digest_id,omitempty"`
	Recipient  string    `json:"recipient,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Event types.
const (
	EventIntelCreated = "intel.created"
	EventDigestSent   = "digest.sent"
)

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL                   string
	Headers               http.Header
	RespectRobots         bool
	RespectRobotsProvided bool
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Title      string
	Text       string // visible text, when the fetcher renders it
	Duration   time.Duration
}

// ContentType returns the response Content-Type header, lower-cased.
func (r FetchResponse) ContentType() string {
	if r.Headers == nil {
		return ""
	}
	return strings.ToLower(r.Headers.Get("Content-Type"))
}

// StatusError reports a non-2xx HTTP response.
type StatusError struct {
	URL        string
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d", e.URL, e.StatusCode)
}

// Temporary reports whether retrying the request may succeed.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}
