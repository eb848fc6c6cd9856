package auth_test

import (
	"context"
	"testing"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/recall/pkg/model"
	"github.com/m-mizutani/recall/pkg/usecase/auth"
)

type stubResolver struct {
	calls  int
	agents map[model.APIKey]*model.Agent
	err    error
}

func (r *stubResolver) Resolve(ctx context.Context, key model.APIKey) (*model.Agent, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return r.agents[key], nil
}

func TestAuthenticate(t *testing.T) {
	bot := &model.Agent{ID: model.NewAgentID(), Name: "bot"}
	resolver := &stubResolver{agents: map[model.APIKey]*model.Agent{"recall_valid": bot}}
	uc := auth.New(resolver)
	ctx := context.Background()

	got, err := uc.Authenticate(ctx, "Bearer recall_valid")
	gt.NoError(t, err)
	gt.Equal(t, got.ID, bot.ID)

	got, err = uc.Authenticate(ctx, "Bearer  recall_valid ")
	gt.NoError(t, err)
	gt.Equal(t, got.ID, bot.ID)
}

func TestAuthenticateRejects(t *testing.T) {
	testCases := map[string]struct {
		header       string
		wantResolved bool
	}{
		"missing header":   {header: "", wantResolved: false},
		"wrong scheme":     {header: "Basic recall_valid", wantResolved: false},
		"lowercase scheme": {header: "bearer recall_valid", wantResolved: false},
		"empty token":      {header: "Bearer    ", wantResolved: false},
		"unknown key":      {header: "Bearer recall_unknown", wantResolved: true},
		"malformed key":    {header: "Bearer not-a-key", wantResolved: true},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			resolver := &stubResolver{agents: map[model.APIKey]*model.Agent{}}
			uc := auth.New(resolver)

			got, err := uc.Authenticate(context.Background(), tc.header)
			gt.Error(t, err)
			gt.V(t, got).Nil()
			gt.True(t, goerr.HasTag(err, model.ErrTagUnauthorized))
			gt.Equal(t, resolver.calls > 0, tc.wantResolved)
		})
	}
}

func TestAuthenticateResolverFailure(t *testing.T) {
	uc := auth.New(&stubResolver{err: goerr.New("store unavailable")})

	got, err := uc.Authenticate(context.Background(), "Bearer recall_valid")
	gt.Error(t, err)
	gt.V(t, got).Nil()
	gt.True(t, goerr.HasTag(err, model.ErrTagUpstream))
	gt.False(t, goerr.HasTag(err, model.ErrTagUnauthorized))
}

func TestAgentContext(t *testing.T) {
	ctx := context.Background()
	gt.V(t, auth.AgentFrom(ctx)).Nil()

	bot := &model.Agent{ID: model.NewAgentID()}
	ctx = auth.WithAgent(ctx, bot)
	gt.Equal(t, auth.AgentFrom(ctx), bot)
}
