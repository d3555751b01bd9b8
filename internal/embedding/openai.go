package embedding

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const defaultOpenAIModel = "text-embedding-3-small"

// OpenAI embeds text with the OpenAI embeddings endpoint.
type OpenAI struct {
	client     openai.Client
	model      string
	dimensions int
}

// NewOpenAI builds the OpenAI provider.
func NewOpenAI(cfg Config) *OpenAI {
	opts := []option.RequestOption{option.WithAPIKey(cfg.OpenAIAPIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	dims := cfg.Dimensions
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &OpenAI{client: openai.NewClient(opts...), model: model, dimensions: dims}
}

// Embed implements intel.Embedder.
func (o *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	input := Prepare(text)
	if input == "" {
		return nil, nil
	}
	resp, err := o.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input:      openai.EmbeddingNewParamsInputUnion{OfString: openai.String(input)},
		Model:      openai.EmbeddingModel(o.model),
		Dimensions: openai.Int(int64(o.dimensions)),
	})
	if err != nil {
		return nil, fmt.Errorf("openai embed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai embed: no embeddings returned")
	}
	raw := resp.Data[0].Embedding
	vec := make([]float32, len(raw))
	for i, v := range raw {
		vec[i] = float32(v)
	}
	if err := checkDimensions(vec, o.dimensions); err != nil {
		return nil, fmt.Errorf("openai embed: %w", err)
	}
	return vec, nil
}
