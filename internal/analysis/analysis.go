// Package analysis sends collected items to the model and decodes its
// structured threat assessments.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/calvin1011/watchtower/internal/intel"
	"github.com/calvin1011/watchtower/internal/metrics"
)

// ErrMissingAPIKey is returned by Analyze when no model key is configured.
var ErrMissingAPIKey = errors.New("analysis: ANTHROPIC_API_KEY is required")

const (
	defaultModel     = "claude-sonnet-4-5"
	defaultMaxTokens = 4096
)

// Completer sends one system and user message pair and returns the text reply.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Config controls the Anthropic-backed client.
type Config struct {
	APIKey       string
	BaseURL      string
	Model        string
	MaxTokens    int64
	MaxRetries   int
	SystemPrompt string
}

// Client implements intel.Analyzer.
type Client struct {
	completer Completer
	system    string
	logger    *zap.Logger
}

// New builds a Client over the Anthropic Messages API. Without an API key the
// client is still constructed and Analyze reports ErrMissingAPIKey.
func New(cfg Config, logger *zap.Logger) *Client {
	var completer Completer
	if strings.TrimSpace(cfg.APIKey) != "" {
		completer = newAnthropicCompleter(cfg)
	}
	return NewWithCompleter(completer, cfg.SystemPrompt, logger)
}

// NewWithCompleter builds a Client over an arbitrary Completer.
func NewWithCompleter(completer Completer, system string, logger *zap.Logger) *Client {
	if strings.TrimSpace(system) == "" {
		system = DefaultSystemPrompt()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{completer: completer, system: system, logger: logger.Named("analysis")}
}

// Analyze returns one analysis per item as judged by the model.
func (c *Client) Analyze(ctx context.Context, competitor string, items []intel.Item) ([]intel.Analysis, error) {
	if len(items) == 0 {
		return nil, nil
	}
	if c.completer == nil {
		return nil, ErrMissingAPIKey
	}

	start := time.Now()
	text, err := c.completer.Complete(ctx, c.system, BuildUserMessage(competitor, items))
	if err != nil {
		metrics.ObserveAnalysis(err)
		return nil, fmt.Errorf("analyze %s: %w", competitor, err)
	}
	analyses, err := ParseResponse(text, items)
	metrics.ObserveAnalysis(err)
	if err != nil {
		return nil, fmt.Errorf("analyze %s: %w", competitor, err)
	}
	c.logger.Info("analysis complete",
		zap.String("competitor", competitor),
		zap.Int("items", len(items)),
		zap.Int("analyses", len(analyses)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return analyses, nil
}

type anthropicCompleter struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

func newAnthropicCompleter(cfg Config) *anthropicCompleter {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.MaxRetries >= 0 {
		opts = append(opts, option.WithMaxRetries(cfg.MaxRetries))
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	return &anthropicCompleter{
		client:    anthropic.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
	}
}

func (a *anthropicCompleter) Complete(ctx context.Context, system, user string) (string, error) {
	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: a.maxTokens,
		System:    []anthropic.TextBlockParam{{Text: system}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("messages api: %w", err)
	}
	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String(), nil
}
