package adapter

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"
)

// GeminiClient embeds text with a Gemini embedding model on Vertex AI
type GeminiClient struct {
	client         *genai.Client
	embeddingModel string
	dimension      int
	taskType       string
}

type GeminiOption func(*GeminiClient)

func WithGeminiEmbeddingModel(model string) GeminiOption {
	return func(g *GeminiClient) {
		g.embeddingModel = model
	}
}

// WithGeminiTaskType sets the embedding task type, e.g. "RETRIEVAL_QUERY"
func WithGeminiTaskType(taskType string) GeminiOption {
	return func(g *GeminiClient) {
		g.taskType = taskType
	}
}

// NewGemini creates a Gemini embedder that requests vectors of the given dimension
func NewGemini(ctx context.Context, projectID, location string, dimension int, opts ...GeminiOption) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Project:  projectID,
		Location: location,
		Backend:  genai.BackendVertexAI,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create genai client")
	}

	g := &GeminiClient{
		client:         client,
		embeddingModel: "gemini-embedding-001",
		dimension:      dimension,
	}

	for _, opt := range opts {
		opt(g)
	}

	return g, nil
}

func (g *GeminiClient) Embed(ctx context.Context, text string) ([]float32, error) {
	dim := int32(g.dimension)
	resp, err := g.client.Models.EmbedContent(ctx, g.embeddingModel, genai.Text(text), &genai.EmbedContentConfig{
		OutputDimensionality: &dim,
		TaskType:             g.taskType,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed content", goerr.V("model", g.embeddingModel))
	}

	if resp == nil || len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil {
		return nil, goerr.New("empty embedding response", goerr.V("model", g.embeddingModel))
	}

	return checkDimension(resp.Embeddings[0].Values, g.dimension)
}
