package agent

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/recall/pkg/interfaces"
	"github.com/m-mizutani/recall/pkg/model"
	"github.com/m-mizutani/recall/pkg/utils/logging"
)

// UseCase is the agent directory: it registers agents and resolves API keys
type UseCase struct {
	repo interfaces.AgentRepository
	now  func() time.Time
}

// Option is a functional option for UseCase
type Option func(*UseCase)

// WithClock replaces the clock used for CreatedAt
func WithClock(now func() time.Time) Option {
	return func(uc *UseCase) {
		uc.now = now
	}
}

// New creates a new agent UseCase instance
func New(repo interfaces.AgentRepository, opts ...Option) *UseCase {
	uc := &UseCase{
		repo: repo,
		now:  time.Now,
	}

	for _, opt := range opts {
		opt(uc)
	}

	return uc
}

// Register creates a new agent and returns it with its plaintext API key. The
// key cannot be recovered afterwards.
func (u *UseCase) Register(ctx context.Context, name *string) (*model.Registration, error) {
	if err := model.ValidateAgentName(name); err != nil {
		return nil, err
	}

	key, err := model.NewAPIKey()
	if err != nil {
		return nil, goerr.Wrap(err, "failed to generate api key")
	}

	agent := &model.Agent{
		ID:        model.NewAgentID(),
		KeyHash:   key.Hash(),
		CreatedAt: u.now().UTC(),
	}
	if name != nil {
		agent.Name = *name
	}

	if err := u.repo.CreateAgent(ctx, agent); err != nil {
		return nil, goerr.Wrap(err, "failed to register agent", goerr.V("agent_id", agent.ID))
	}

	logging.From(ctx).Info("agent registered", "agent_id", agent.ID)

	return &model.Registration{
		Agent:  agent,
		APIKey: key,
	}, nil
}

// Resolve looks up the agent owning key. It returns nil without error when no
// agent matches. The key is not checked for format so that malformed and
// unknown keys follow the same lookup path.
func (u *UseCase) Resolve(ctx context.Context, key model.APIKey) (*model.Agent, error) {
	if key == "" {
		return nil, nil
	}

	agent, err := u.repo.GetAgentByKeyHash(ctx, key.Hash())
	if err != nil {
		return nil, goerr.Wrap(err, "failed to resolve api key")
	}

	return agent, nil
}
