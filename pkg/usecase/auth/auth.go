package auth

import (
	"context"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/recall/pkg/model"
	"github.com/m-mizutani/recall/pkg/utils/logging"
)

const bearerPrefix = "Bearer "

// Resolver finds the agent owning an API key
type Resolver interface {
	Resolve(ctx context.Context, key model.APIKey) (*model.Agent, error)
}

// UseCase is the access gate in front of every agent-scoped operation
type UseCase struct {
	resolver Resolver
}

// New creates a new auth UseCase instance
func New(resolver Resolver) *UseCase {
	return &UseCase{resolver: resolver}
}

// errUnauthorized is returned for every rejected credential, whatever the reason
func errUnauthorized() error {
	return goerr.New("unauthorized", goerr.T(model.ErrTagUnauthorized))
}

// Authenticate resolves an Authorization header value to an agent. An absent or
// malformed header is rejected before the directory is consulted, and a
// directory miss is rejected with the same error.
func (u *UseCase) Authenticate(ctx context.Context, header string) (*model.Agent, error) {
	if !strings.HasPrefix(header, bearerPrefix) {
		return nil, errUnauthorized()
	}

	token := strings.TrimSpace(header[len(bearerPrefix):])
	if token == "" {
		return nil, errUnauthorized()
	}

	agent, err := u.resolver.Resolve(ctx, model.APIKey(token))
	if err != nil {
		logging.From(ctx).Error("failed to resolve api key", logging.ErrAttr(err))
		return nil, goerr.Wrap(err, "failed to authenticate", goerr.T(model.ErrTagUpstream))
	}
	if agent == nil {
		return nil, errUnauthorized()
	}

	return agent, nil
}

type agentContextKey struct{}

// WithAgent returns a new context carrying the authenticated agent
func WithAgent(ctx context.Context, agent *model.Agent) context.Context {
	return context.WithValue(ctx, agentContextKey{}, agent)
}

// AgentFrom returns the authenticated agent of ctx, or nil
func AgentFrom(ctx context.Context) *model.Agent {
	agent, _ := ctx.Value(agentContextKey{}).(*model.Agent)
	return agent
}
