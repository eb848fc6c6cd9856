package policy_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/recall/pkg/model"
	"github.com/m-mizutani/recall/pkg/policy"
)

const ingestPolicy = `package ingest

deny contains msg if {
	contains(lower(input.content), "password")
	msg := "content must not contain credentials"
}

deny contains msg if {
	input.metadata.source == "untrusted"
	print("untrusted source from", input.agent_id)
	msg := "untrusted source"
}
`

func writePolicy(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	gt.NoError(t, os.WriteFile(filepath.Join(dir, "ingest.rego"), []byte(ingestPolicy), 0644))
	return dir
}

func TestEvaluateMemory(t *testing.T) {
	ctx := context.Background()
	p, err := policy.New(ctx, writePolicy(t))
	gt.NoError(t, err)

	agentID := model.NewAgentID()

	t.Run("allowed", func(t *testing.T) {
		gt.NoError(t, p.EvaluateMemory(ctx, agentID, "likes tea", nil))
	})

	t.Run("denied by content", func(t *testing.T) {
		err := p.EvaluateMemory(ctx, agentID, "my Password is hunter2", nil)
		gt.Error(t, err)
		gt.True(t, goerr.HasTag(err, model.ErrTagValidation))

		detail, ok := model.ValidationDetail(err)
		gt.True(t, ok)
		gt.Equal(t, detail.Field, "policy")
		gt.S(t, detail.Message).Contains("content must not contain credentials")
	})

	t.Run("denied by metadata with every reason", func(t *testing.T) {
		err := p.EvaluateMemory(ctx, agentID, "password", model.Metadata{"source": "untrusted"})
		gt.Error(t, err)

		detail, ok := model.ValidationDetail(err)
		gt.True(t, ok)
		gt.S(t, detail.Message).Contains("untrusted source")
		gt.S(t, detail.Message).Contains("credentials")
	})
}

func TestEmptyPolicy(t *testing.T) {
	ctx := context.Background()

	p, err := policy.New(ctx, "")
	gt.NoError(t, err)
	gt.NoError(t, p.EvaluateMemory(ctx, model.NewAgentID(), "password", nil))

	p, err = policy.New(ctx, t.TempDir())
	gt.NoError(t, err)
	gt.NoError(t, p.EvaluateMemory(ctx, model.NewAgentID(), "password", nil))

	var nilPolicy *policy.Policy
	gt.NoError(t, nilPolicy.EvaluateMemory(ctx, model.NewAgentID(), "password", nil))
}

func TestInvalidPolicy(t *testing.T) {
	dir := t.TempDir()
	gt.NoError(t, os.WriteFile(filepath.Join(dir, "broken.rego"), []byte("package ingest\n\ndeny contains"), 0644))

	_, err := policy.New(context.Background(), dir)
	gt.Error(t, err)
}
