package embedding

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

const defaultGenAIModel = "gemini-embedding-001"

// GenAI embeds text with the Gemini embeddings API.
type GenAI struct {
	client     *genai.Client
	model      string
	dimensions int
}

// NewGenAI builds the Gemini provider.
func NewGenAI(ctx context.Context, cfg Config) (*GenAI, error) {
	if cfg.GenAIAPIKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.GenAIAPIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	model := cfg.Model
	if model == "" {
		model = defaultGenAIModel
	}
	dims := cfg.Dimensions
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &GenAI{client: client, model: model, dimensions: dims}, nil
}

// Embed implements intel.Embedder.
func (g *GenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	input := Prepare(text)
	if input == "" {
		return nil, nil
	}
	dims := int32(g.dimensions)
	result, err := g.client.Models.EmbedContent(ctx,
		g.model,
		[]*genai.Content{genai.NewContentFromText(input, genai.RoleUser)},
		&genai.EmbedContentConfig{
			TaskType:             "SEMANTIC_SIMILARITY",
			OutputDimensionality: &dims,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("GenAI embed failed: %w", err)
	}
	if len(result.Embeddings) == 0 || result.Embeddings[0] == nil {
		return nil, fmt.Errorf("no embeddings returned")
	}
	vec := result.Embeddings[0].Values
	if err := checkDimensions(vec, g.dimensions); err != nil {
		return nil, fmt.Errorf("GenAI embed: %w", err)
	}
	return vec, nil
}
