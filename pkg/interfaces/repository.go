package interfaces

import (
	"context"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/recall/pkg/model"
)

// AgentRepository persists agent identities
type AgentRepository interface {
	// CreateAgent persists a new agent. It fails if the agent ID or the key hash
	// is already taken.
	CreateAgent(ctx context.Context, agent *model.Agent) error

	// GetAgentByKeyHash looks up an agent by exact key hash. It returns nil
	// without error when no agent matches.
	GetAgentByKeyHash(ctx context.Context, keyHash string) (*model.Agent, error)
}

// MemoryRepository persists memories. Every operation is scoped to one agent and
// there is no way to reach another agent's memories through it.
type MemoryRepository interface {
	// InsertMemory stores a new immutable memory and returns it with the
	// assigned ID and CreatedAt
	InsertMemory(ctx context.Context, agentID model.AgentID, content string, embedding firestore.Vector32, metadata model.Metadata) (*model.Memory, error)

	// ListMemories returns the most recent memories first
	ListMemories(ctx context.Context, agentID model.AgentID, limit int) ([]*model.Memory, error)

	// SearchMemories returns memories with cosine similarity >= threshold,
	// ordered by similarity and then CreatedAt, both descending
	SearchMemories(ctx context.Context, agentID model.AgentID, embedding firestore.Vector32, threshold float64, limit int) ([]*model.ScoredMemory, error)
}

// Repository is the backing store of the service
type Repository interface {
	AgentRepository
	MemoryRepository
}
