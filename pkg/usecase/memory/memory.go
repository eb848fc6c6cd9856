package memory

import (
	"context"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/recall/pkg/interfaces"
	"github.com/m-mizutani/recall/pkg/model"
	"github.com/m-mizutani/recall/pkg/utils/logging"
)

// UseCase is the memory service: it validates requests, derives embeddings when
// needed and delegates to the repository
type UseCase struct {
	repo     interfaces.MemoryRepository
	embedder interfaces.Embedder
	policy   interfaces.MemoryPolicy
	cfg      Config
}

// Option is a functional option for UseCase
type Option func(*UseCase)

// WithConfig replaces DefaultConfig
func WithConfig(cfg Config) Option {
	return func(uc *UseCase) {
		uc.cfg = cfg
	}
}

// WithPolicy sets the write policy evaluated before every store
func WithPolicy(policy interfaces.MemoryPolicy) Option {
	return func(uc *UseCase) {
		uc.policy = policy
	}
}

// New creates a new memory UseCase instance. embedder may be nil, in which case
// text-only store and search are rejected as upstream failures.
func New(repo interfaces.MemoryRepository, embedder interfaces.Embedder, opts ...Option) *UseCase {
	uc := &UseCase{
		repo:     repo,
		embedder: embedder,
		cfg:      DefaultConfig(),
	}

	for _, opt := range opts {
		opt(uc)
	}

	return uc
}

// Config returns the active settings
func (u *UseCase) Config() Config {
	return u.cfg
}

// StoreInput is a request to persist a memory. Embedding may be omitted, in
// which case it is derived from Content.
type StoreInput struct {
	Content   string         `json:"content"`
	Embedding []float32      `json:"embedding,omitempty"`
	Metadata  model.Metadata `json:"metadata,omitempty"`
}

// ListInput is a request for the most recent memories
type ListInput struct {
	Limit *int `json:"limit,omitempty"`
}

// SearchInput is a similarity search request. When Embedding is set the search
// runs in vector mode and Query is only logged; otherwise Query is embedded and
// the search runs in text mode.
type SearchInput struct {
	Query     string    `json:"query,omitempty"`
	Embedding []float32 `json:"embedding,omitempty"`
	Limit     *int      `json:"limit,omitempty"`
	Threshold *float64  `json:"threshold,omitempty"`
}

// SearchMode tells which input the query embedding came from
type SearchMode string

const (
	SearchModeVector SearchMode = "vector"
	SearchModeText   SearchMode = "text"
)

// Store validates and persists a memory for agent
func (u *UseCase) Store(ctx context.Context, agent *model.Agent, input StoreInput) (*model.MemoryRecord, error) {
	if err := model.ValidateContent(input.Content); err != nil {
		return nil, err
	}
	if err := input.Metadata.Validate(); err != nil {
		return nil, err
	}
	if input.Embedding != nil {
		if err := model.ValidateEmbedding("embedding", input.Embedding, u.cfg.Dimension); err != nil {
			return nil, err
		}
	}

	if u.policy != nil {
		if err := u.policy.EvaluateMemory(ctx, agent.ID, input.Content, input.Metadata); err != nil {
			return nil, err
		}
	}

	embedding := input.Embedding
	if embedding == nil {
		vec, err := u.embed(ctx, input.Content)
		if err != nil {
			return nil, err
		}
		embedding = vec
	}

	memory, err := u.repo.InsertMemory(ctx, agent.ID, input.Content, firestore.Vector32(embedding), input.Metadata)
	if err != nil {
		return nil, u.repositoryError(ctx, err, "insert", agent)
	}

	logging.From(ctx).Debug("memory stored",
		"agent_id", agent.ID,
		"memory_id", memory.ID,
		"derived_embedding", input.Embedding == nil,
	)

	return memory.Record(), nil
}

// List returns the most recent memories of agent
func (u *UseCase) List(ctx context.Context, agent *model.Agent, input ListInput) ([]*model.MemoryRecord, error) {
	limit, err := u.limit(input.Limit, u.cfg.DefaultListLimit)
	if err != nil {
		return nil, err
	}

	memories, err := u.repo.ListMemories(ctx, agent.ID, limit)
	if err != nil {
		return nil, u.repositoryError(ctx, err, "list", agent)
	}

	records := make([]*model.MemoryRecord, len(memories))
	for i, m := range memories {
		records[i] = m.Record()
	}
	return records, nil
}

// Search returns the memories of agent most similar to the query
func (u *UseCase) Search(ctx context.Context, agent *model.Agent, input SearchInput) ([]*model.SearchResult, error) {
	mode, err := u.searchMode(input)
	if err != nil {
		return nil, err
	}

	limit, err := u.limit(input.Limit, u.cfg.DefaultSearchLimit)
	if err != nil {
		return nil, err
	}

	threshold := u.cfg.VectorThreshold
	if mode == SearchModeText {
		threshold = u.cfg.TextThreshold
	}
	if input.Threshold != nil {
		if *input.Threshold < -1 || *input.Threshold > 1 {
			return nil, model.NewValidationError("threshold", "threshold must be between -1 and 1",
				goerr.V("threshold", *input.Threshold))
		}
		threshold = *input.Threshold
	}

	embedding := input.Embedding
	if mode == SearchModeText {
		vec, err := u.embed(ctx, input.Query)
		if err != nil {
			return nil, err
		}
		embedding = vec
	}

	matches, err := u.repo.SearchMemories(ctx, agent.ID, firestore.Vector32(embedding), threshold, limit)
	if err != nil {
		return nil, u.repositoryError(ctx, err, "search", agent)
	}

	logging.From(ctx).Debug("memories searched",
		"agent_id", agent.ID,
		"mode", mode,
		"query", input.Query,
		"threshold", threshold,
		"limit", limit,
		"hits", len(matches),
	)

	results := make([]*model.SearchResult, len(matches))
	for i, m := range matches {
		results[i] = m.Result()
	}
	return results, nil
}

func (u *UseCase) searchMode(input SearchInput) (SearchMode, error) {
	if input.Embedding != nil {
		if err := model.ValidateEmbedding("embedding", input.Embedding, u.cfg.Dimension); err != nil {
			return "", err
		}
		return SearchModeVector, nil
	}

	if input.Query == "" {
		return "", model.NewValidationError("embedding", "either embedding or query is required")
	}
	if err := model.ValidateContent(input.Query); err != nil {
		return "", model.NewValidationError("query", "query must be between 1 and 10000 characters")
	}
	return SearchModeText, nil
}

// limit applies the default, rejects non-positive values and caps at MaxLimit
func (u *UseCase) limit(requested *int, def int) (int, error) {
	if requested == nil {
		return def, nil
	}
	if *requested <= 0 {
		return 0, model.NewValidationError("limit", "limit must be a positive integer",
			goerr.V("limit", *requested))
	}
	if *requested > u.cfg.MaxLimit {
		return u.cfg.MaxLimit, nil
	}
	return *requested, nil
}

// embed calls the embedding provider under the configured timeout
func (u *UseCase) embed(ctx context.Context, text string) ([]float32, error) {
	if u.embedder == nil {
		return nil, goerr.New("embedding provider is not configured",
			goerr.T(model.ErrTagEmbeddingUnavailable),
			goerr.T(model.ErrTagUpstream))
	}

	ctx, cancel := context.WithTimeout(ctx, u.cfg.EmbeddingTimeout)
	defer cancel()

	vec, err := u.embedder.Embed(ctx, text)
	if err != nil {
		logging.From(ctx).Warn("embedding provider failed", logging.ErrAttr(err))
		return nil, goerr.Wrap(err, "embedding unavailable",
			goerr.T(model.ErrTagEmbeddingUnavailable),
			goerr.T(model.ErrTagUpstream))
	}
	if len(vec) != u.cfg.Dimension {
		return nil, goerr.New("embedding provider returned unexpected dimension",
			goerr.V("expected", u.cfg.Dimension),
			goerr.V("actual", len(vec)),
			goerr.T(model.ErrTagEmbeddingUnavailable),
			goerr.T(model.ErrTagUpstream))
	}

	return vec, nil
}

// repositoryError passes validation errors through and logs everything else as a
// store failure with the operation and tenant only
func (u *UseCase) repositoryError(ctx context.Context, err error, op string, agent *model.Agent) error {
	if goerr.HasTag(err, model.ErrTagValidation) {
		return err
	}

	logging.From(ctx).Error("memory repository failed",
		"operation", op,
		"agent_id", agent.ID,
		logging.ErrAttr(err),
	)
	return goerr.Wrap(err, "memory repository failed",
		goerr.V("operation", op),
		goerr.V("agent_id", agent.ID),
		goerr.T(model.ErrTagUpstream))
}
