package repository

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/recall/pkg/model"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	collectionAgents   = "agents"
	collectionAPIKeys  = "api_keys"
	collectionMemories = "memories"

	fieldEmbedding = "embedding"
	fieldCreatedAt = "created_at"
	fieldDistance  = "vector_distance"

	// maxNearestLimit is the largest limit FindNearest accepts
	maxNearestLimit = 1000
)

// Firestore implements interfaces.Repository on Cloud Firestore. Memories are
// stored in a subcollection of their agent document, so every query is bound to
// one agent by its path.
type Firestore struct {
	client *firestore.Client
	opts   *options
}

type agentDoc struct {
	ID        string    `firestore:"id"`
	Name      string    `firestore:"name,omitempty"`
	KeyHash   string    `firestore:"key_hash"`
	CreatedAt time.Time `firestore:"created_at"`
}

type apiKeyDoc struct {
	AgentID   string    `firestore:"agent_id"`
	CreatedAt time.Time `firestore:"created_at"`
}

type memoryDoc struct {
	ID        string             `firestore:"id"`
	AgentID   string             `firestore:"agent_id"`
	Content   string             `firestore:"content"`
	Metadata  map[string]any     `firestore:"metadata"`
	Embedding firestore.Vector32 `firestore:"embedding"`
	CreatedAt time.Time          `firestore:"created_at"`
	Distance  float64            `firestore:"vector_distance,omitempty"`
}

// New creates a Firestore repository with its own client
func New(ctx context.Context, projectID, databaseID string, opts ...Option) (*Firestore, error) {
	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("project_id", projectID),
			goerr.V("database_id", databaseID))
	}

	return NewFirestore(client, opts...), nil
}

// NewFirestore creates a Firestore repository on an existing client. The caller
// owns the client lifecycle.
func NewFirestore(client *firestore.Client, opts ...Option) *Firestore {
	return &Firestore{
		client: client,
		opts:   newOptions(opts),
	}
}

// Close closes the underlying client
func (r *Firestore) Close() error {
	return r.client.Close()
}

func (r *Firestore) memories(agentID model.AgentID) *firestore.CollectionRef {
	return r.client.Collection(collectionAgents).Doc(agentID.String()).Collection(collectionMemories)
}

func (r *Firestore) CreateAgent(ctx context.Context, agent *model.Agent) error {
	agentRef := r.client.Collection(collectionAgents).Doc(agent.ID.String())
	keyRef := r.client.Collection(collectionAPIKeys).Doc(agent.KeyHash)

	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if err := tx.Create(agentRef, &agentDoc{
			ID:        agent.ID.String(),
			Name:      agent.Name,
			KeyHash:   agent.KeyHash,
			CreatedAt: agent.CreatedAt,
		}); err != nil {
			return err
		}
		return tx.Create(keyRef, &apiKeyDoc{
			AgentID:   agent.ID.String(),
			CreatedAt: agent.CreatedAt,
		})
	})
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return goerr.Wrap(err, "agent or api key already exists",
				goerr.V("agent_id", agent.ID))
		}
		return goerr.Wrap(err, "failed to create agent",
			goerr.V("agent_id", agent.ID),
			goerr.T(model.ErrTagUpstream))
	}

	return nil
}

func (r *Firestore) GetAgentByKeyHash(ctx context.Context, keyHash string) (*model.Agent, error) {
	keySnap, err := r.client.Collection(collectionAPIKeys).Doc(keyHash).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, goerr.Wrap(err, "failed to get api key", goerr.T(model.ErrTagUpstream))
	}

	var key apiKeyDoc
	if err := keySnap.DataTo(&key); err != nil {
		return nil, goerr.Wrap(err, "failed to decode api key", goerr.T(model.ErrTagUpstream))
	}

	agentSnap, err := r.client.Collection(collectionAgents).Doc(key.AgentID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, goerr.Wrap(err, "failed to get agent",
			goerr.V("agent_id", key.AgentID),
			goerr.T(model.ErrTagUpstream))
	}

	var doc agentDoc
	if err := agentSnap.DataTo(&doc); err != nil {
		return nil, goerr.Wrap(err, "failed to decode agent",
			goerr.V("agent_id", key.AgentID),
			goerr.T(model.ErrTagUpstream))
	}

	// Guard against a dangling index entry pointing at a re-keyed document
	if doc.KeyHash != keyHash {
		return nil, nil
	}

	return &model.Agent{
		ID:        model.AgentID(doc.ID),
		Name:      doc.Name,
		KeyHash:   doc.KeyHash,
		CreatedAt: doc.CreatedAt,
	}, nil
}

func (r *Firestore) InsertMemory(ctx context.Context, agentID model.AgentID, content string, embedding firestore.Vector32, metadata model.Metadata) (*model.Memory, error) {
	if err := model.ValidateEmbedding("embedding", embedding, r.opts.dimension); err != nil {
		return nil, err
	}
	if metadata == nil {
		metadata = model.Metadata{}
	}

	memory := &model.Memory{
		ID:        model.NewMemoryID(),
		AgentID:   agentID,
		Content:   content,
		Metadata:  metadata,
		Embedding: embedding,
		CreatedAt: r.opts.now().UTC(),
	}

	// Create fails rather than overwrites, so a record is written at most once
	_, err := r.memories(agentID).Doc(string(memory.ID)).Create(ctx, toMemoryDoc(memory))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to insert memory",
			goerr.V("agent_id", agentID),
			goerr.T(model.ErrTagUpstream))
	}

	return memory, nil
}

func (r *Firestore) ListMemories(ctx context.Context, agentID model.AgentID, limit int) ([]*model.Memory, error) {
	limit, err := clampLimit(limit)
	if err != nil {
		return nil, err
	}

	iter := r.memories(agentID).
		OrderBy(fieldCreatedAt, firestore.Desc).
		Limit(limit).
		Documents(ctx)
	defer iter.Stop()

	var memories []*model.Memory
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate memories",
				goerr.V("agent_id", agentID),
				goerr.T(model.ErrTagUpstream))
		}

		var d memoryDoc
		if err := doc.DataTo(&d); err != nil {
			return nil, goerr.Wrap(err, "failed to decode memory",
				goerr.V("agent_id", agentID),
				goerr.V("doc_id", doc.Ref.ID),
				goerr.T(model.ErrTagUpstream))
		}
		memories = append(memories, d.toModel())
	}

	sortRecent(memories)
	return memories, nil
}

func (r *Firestore) SearchMemories(ctx context.Context, agentID model.AgentID, embedding firestore.Vector32, threshold float64, limit int) ([]*model.ScoredMemory, error) {
	if err := model.ValidateEmbedding("embedding", embedding, r.opts.dimension); err != nil {
		return nil, err
	}
	limit, err := clampLimit(limit)
	if err != nil {
		return nil, err
	}

	// Cosine distance is 1 - similarity and Firestore keeps documents whose
	// distance is <= the threshold
	distanceThreshold := 1 - threshold + similarityTolerance

	// FindNearest cuts by distance only, so equal scores at the limit boundary
	// are fetched in full and ordered by sortScored
	query := r.memories(agentID).FindNearest(fieldEmbedding, embedding, maxNearestLimit, firestore.DistanceMeasureCosine,
		&firestore.FindNearestOptions{
			DistanceThreshold:   &distanceThreshold,
			DistanceResultField: fieldDistance,
		})

	iter := query.Documents(ctx)
	defer iter.Stop()

	var results []*model.ScoredMemory
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to search memories",
				goerr.V("agent_id", agentID),
				goerr.V("limit", limit),
				goerr.T(model.ErrTagUpstream))
		}

		var d memoryDoc
		if err := doc.DataTo(&d); err != nil {
			return nil, goerr.Wrap(err, "failed to decode memory",
				goerr.V("agent_id", agentID),
				goerr.V("doc_id", doc.Ref.ID),
				goerr.T(model.ErrTagUpstream))
		}

		similarity := clampSimilarity(1 - d.Distance)
		if !meetsThreshold(similarity, threshold) {
			continue
		}
		results = append(results, &model.ScoredMemory{
			Memory:     d.toModel(),
			Similarity: similarity,
		})
	}

	sortScored(results)
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func toMemoryDoc(m *model.Memory) *memoryDoc {
	return &memoryDoc{
		ID:        string(m.ID),
		AgentID:   m.AgentID.String(),
		Content:   m.Content,
		Metadata:  m.Metadata,
		Embedding: m.Embedding,
		CreatedAt: m.CreatedAt,
	}
}

func (d *memoryDoc) toModel() *model.Memory {
	metadata := model.Metadata(d.Metadata)
	if metadata == nil {
		metadata = model.Metadata{}
	}
	return &model.Memory{
		ID:        model.MemoryID(d.ID),
		AgentID:   model.AgentID(d.AgentID),
		Content:   d.Content,
		Metadata:  metadata,
		Embedding: d.Embedding,
		CreatedAt: d.CreatedAt,
	}
}
