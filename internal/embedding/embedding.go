// Package embedding turns intel summaries into vectors for similarity search.
package embedding

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/calvin1011/watchtower/internal/intel"
)

// Provider names accepted in configuration.
const (
	ProviderOpenAI = "openai"
	ProviderGenAI  = "genai"
	ProviderNone   = "none"
)

const (
	// DefaultDimensions matches the vector(1536) column.
	DefaultDimensions = 1536
	inputLimit        = 8000
)

// Config selects and configures a provider.
type Config struct {
	Provider     string
	OpenAIAPIKey string
	GenAIAPIKey  string
	Model        string
	Dimensions   int
	BaseURL      string
}

// New returns the configured embedder. A provider without an API key falls
// back to Noop so the service can start without credentials.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (intel.Embedder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = DefaultDimensions
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			logger.Warn("OPENAI_API_KEY not set, embeddings disabled")
			return Noop{}, nil
		}
		return NewOpenAI(cfg), nil
	case ProviderGenAI:
		if cfg.GenAIAPIKey == "" {
			logger.Warn("GEMINI_API_KEY not set, embeddings disabled")
			return Noop{}, nil
		}
		return NewGenAI(ctx, cfg)
	case ProviderNone:
		return Noop{}, nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

// Prepare trims text and caps it at the provider input limit. It returns ""
// for blank input.
func Prepare(text string) string {
	return intel.Truncate(strings.TrimSpace(text), inputLimit)
}

// Noop never produces a vector.
type Noop struct{}

// Embed implements intel.Embedder.
func (Noop) Embed(context.Context, string) ([]float32, error) { return nil, nil }

func checkDimensions(vec []float32, want int) error {
	if want > 0 && len(vec) != want {
		return fmt.Errorf("embedding has %d dimensions, want %d", len(vec), want)
	}
	return nil
}
