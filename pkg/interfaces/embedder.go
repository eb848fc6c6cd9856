package interfaces

import (
	"context"

	"github.com/m-mizutani/recall/pkg/model"
)

// Embedder converts text into a fixed-length vector
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// MemoryPolicy decides whether a memory may be written
type MemoryPolicy interface {
	EvaluateMemory(ctx context.Context, agentID model.AgentID, content string, metadata model.Metadata) error
}
