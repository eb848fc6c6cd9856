package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/recall/pkg/model"
	chromem "github.com/philippgille/chromem-go"
)

const (
	metaAgentID   = "agent_id"
	metaCreatedAt = "created_at"
	metaMetadata  = "metadata"
)

// Chromem implements interfaces.Repository on an in-process chromem-go database.
// Each agent owns its own collection, and agents are kept in memory. It is meant
// for local runs and tests.
type Chromem struct {
	db   *chromem.DB
	opts *options

	mu          sync.RWMutex
	collections map[model.AgentID]*chromem.Collection
	order       map[model.AgentID][]model.MemoryID
	agents      map[model.AgentID]*model.Agent
	keys        map[string]model.AgentID
}

// NewChromem creates an empty in-memory repository
func NewChromem(opts ...Option) *Chromem {
	return &Chromem{
		db:          chromem.NewDB(),
		opts:        newOptions(opts),
		collections: make(map[model.AgentID]*chromem.Collection),
		order:       make(map[model.AgentID][]model.MemoryID),
		agents:      make(map[model.AgentID]*model.Agent),
		keys:        make(map[string]model.AgentID),
	}
}

func (r *Chromem) CreateAgent(ctx context.Context, agent *model.Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.agents[agent.ID]; ok {
		return goerr.New("agent already exists", goerr.V("agent_id", agent.ID))
	}
	if _, ok := r.keys[agent.KeyHash]; ok {
		return goerr.New("api key already exists", goerr.V("agent_id", agent.ID))
	}

	copied := *agent
	r.agents[agent.ID] = &copied
	r.keys[agent.KeyHash] = agent.ID
	return nil
}

func (r *Chromem) GetAgentByKeyHash(ctx context.Context, keyHash string) (*model.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.keys[keyHash]
	if !ok {
		return nil, nil
	}
	agent, ok := r.agents[id]
	if !ok {
		return nil, nil
	}

	copied := *agent
	return &copied, nil
}

// collection returns the collection of the agent, creating it if create is true
func (r *Chromem) collection(agentID model.AgentID, create bool) (*chromem.Collection, error) {
	r.mu.RLock()
	col, ok := r.collections[agentID]
	r.mu.RUnlock()
	if ok || !create {
		return col, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if col, ok := r.collections[agentID]; ok {
		return col, nil
	}

	// Embeddings are always supplied, so no embedding func is configured
	col, err := r.db.CreateCollection(fmt.Sprintf("agent_%s", agentID), nil, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create collection",
			goerr.V("agent_id", agentID),
			goerr.T(model.ErrTagUpstream))
	}
	r.collections[agentID] = col
	return col, nil
}

func (r *Chromem) InsertMemory(ctx context.Context, agentID model.AgentID, content string, embedding firestore.Vector32, metadata model.Metadata) (*model.Memory, error) {
	if err := model.ValidateEmbedding("embedding", embedding, r.opts.dimension); err != nil {
		return nil, err
	}
	if metadata == nil {
		metadata = model.Metadata{}
	}

	rawMeta, err := json.Marshal(metadata)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to encode metadata", goerr.V("agent_id", agentID))
	}

	col, err := r.collection(agentID, true)
	if err != nil {
		return nil, err
	}

	memory := &model.Memory{
		ID:        model.NewMemoryID(),
		AgentID:   agentID,
		Content:   content,
		Metadata:  metadata,
		Embedding: append(firestore.Vector32(nil), embedding...),
		CreatedAt: r.opts.now().UTC(),
	}

	doc := chromem.Document{
		ID:        string(memory.ID),
		Content:   content,
		Embedding: append([]float32(nil), embedding...),
		Metadata: map[string]string{
			metaAgentID:   agentID.String(),
			metaCreatedAt: memory.CreatedAt.Format(time.RFC3339Nano),
			metaMetadata:  string(rawMeta),
		},
	}

	// The ordering index is updated under the same lock so that a listed memory
	// always exists in the collection
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := col.AddDocument(ctx, doc); err != nil {
		return nil, goerr.Wrap(err, "failed to add document",
			goerr.V("agent_id", agentID),
			goerr.T(model.ErrTagUpstream))
	}
	r.order[agentID] = append(r.order[agentID], memory.ID)

	return memory, nil
}

func (r *Chromem) ListMemories(ctx context.Context, agentID model.AgentID, limit int) ([]*model.Memory, error) {
	limit, err := clampLimit(limit)
	if err != nil {
		return nil, err
	}

	col, err := r.collection(agentID, false)
	if err != nil || col == nil {
		return nil, err
	}

	r.mu.RLock()
	ids := append([]model.MemoryID(nil), r.order[agentID]...)
	r.mu.RUnlock()

	memories := make([]*model.Memory, 0, len(ids))
	for _, id := range ids {
		doc, err := col.GetByID(ctx, string(id))
		if err != nil {
			return nil, goerr.Wrap(err, "failed to get document",
				goerr.V("agent_id", agentID),
				goerr.V("memory_id", id),
				goerr.T(model.ErrTagUpstream))
		}
		memory, err := decodeDocument(doc.ID, doc.Content, doc.Metadata, doc.Embedding)
		if err != nil {
			return nil, err
		}
		memories = append(memories, memory)
	}

	sortRecent(memories)
	if len(memories) > limit {
		memories = memories[:limit]
	}
	return memories, nil
}

func (r *Chromem) SearchMemories(ctx context.Context, agentID model.AgentID, embedding firestore.Vector32, threshold float64, limit int) ([]*model.ScoredMemory, error) {
	if err := model.ValidateEmbedding("embedding", embedding, r.opts.dimension); err != nil {
		return nil, err
	}
	limit, err := clampLimit(limit)
	if err != nil {
		return nil, err
	}

	col, err := r.collection(agentID, false)
	if err != nil || col == nil {
		return nil, err
	}

	// chromem-go rejects nResults larger than the collection, and ranking ties
	// need every candidate, so the whole collection is scanned
	count := col.Count()
	if count == 0 {
		return nil, nil
	}

	candidates, err := col.QueryEmbedding(ctx, append([]float32(nil), embedding...), count, nil, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query collection",
			goerr.V("agent_id", agentID),
			goerr.T(model.ErrTagUpstream))
	}

	var results []*model.ScoredMemory
	for _, c := range candidates {
		memory, err := decodeDocument(c.ID, c.Content, c.Metadata, c.Embedding)
		if err != nil {
			return nil, err
		}

		similarity := cosineSimilarity(embedding, c.Embedding)
		if !meetsThreshold(similarity, threshold) {
			continue
		}
		results = append(results, &model.ScoredMemory{
			Memory:     memory,
			Similarity: similarity,
		})
	}

	sortScored(results)
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func decodeDocument(id, content string, meta map[string]string, embedding []float32) (*model.Memory, error) {
	createdAt, err := time.Parse(time.RFC3339Nano, meta[metaCreatedAt])
	if err != nil {
		return nil, goerr.Wrap(err, "failed to parse created_at",
			goerr.V("memory_id", id),
			goerr.T(model.ErrTagUpstream))
	}

	metadata := model.Metadata{}
	if raw := meta[metaMetadata]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
			return nil, goerr.Wrap(err, "failed to decode metadata",
				goerr.V("memory_id", id),
				goerr.T(model.ErrTagUpstream))
		}
	}

	return &model.Memory{
		ID:        model.MemoryID(id),
		AgentID:   model.AgentID(meta[metaAgentID]),
		Content:   content,
		Metadata:  metadata,
		Embedding: firestore.Vector32(embedding),
		CreatedAt: createdAt,
	}, nil
}
