package adapter

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/tmc/langchaingo/llms/openai"
)

// DefaultOpenAIEmbeddingModel produces 1536 dimension vectors
const DefaultOpenAIEmbeddingModel = "text-embedding-ada-002"

// OpenAIClient embeds text with the OpenAI embeddings API
type OpenAIClient struct {
	llm       *openai.LLM
	model     string
	dimension int
}

// NewOpenAI creates an OpenAI embedder. model may be empty to use
// DefaultOpenAIEmbeddingModel.
func NewOpenAI(apiKey, model string, dimension int) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, goerr.New("openai api key is required")
	}
	if model == "" {
		model = DefaultOpenAIEmbeddingModel
	}

	llm, err := openai.New(
		openai.WithToken(apiKey),
		openai.WithEmbeddingModel(model),
	)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create openai client")
	}

	return &OpenAIClient{
		llm:       llm,
		model:     model,
		dimension: dimension,
	}, nil
}

func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.llm.CreateEmbedding(ctx, []string{text})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create embedding", goerr.V("model", c.model))
	}
	if len(vectors) == 0 {
		return nil, goerr.New("empty embedding response", goerr.V("model", c.model))
	}

	return checkDimension(vectors[0], c.dimension)
}
