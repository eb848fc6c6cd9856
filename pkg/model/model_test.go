package model_test

import (
	"strings"
	"testing"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/recall/pkg/model"
)

func TestNewAPIKey(t *testing.T) {
	seen := map[model.APIKey]bool{}
	for i := 0; i < 100; i++ {
		key, err := model.NewAPIKey()
		gt.NoError(t, err)

		s := string(key)
		gt.True(t, strings.HasPrefix(s, model.APIKeyPrefix))
		gt.Equal(t, len(s), len(model.APIKeyPrefix)+32)

		random := strings.TrimPrefix(s, model.APIKeyPrefix)
		gt.False(t, strings.ContainsAny(random, "0Oo1lI"))
		gt.False(t, seen[key])
		seen[key] = true
	}
}

func TestAPIKeyHash(t *testing.T) {
	key := model.APIKey("recall_abc")
	gt.Equal(t, key.Hash(), key.Hash())
	gt.Equal(t, len(key.Hash()), 64)
	gt.True(t, key.Hash() != model.APIKey("recall_abd").Hash())
	gt.S(t, key.Hash()).NotContains("recall_")
}

func TestValidateAgentName(t *testing.T) {
	ptr := func(s string) *string { return &s }

	gt.NoError(t, model.ValidateAgentName(nil))
	gt.NoError(t, model.ValidateAgentName(ptr("researcher")))
	gt.NoError(t, model.ValidateAgentName(ptr(strings.Repeat("名", 100))))

	err := model.ValidateAgentName(ptr(""))
	gt.Error(t, err)
	gt.True(t, goerr.HasTag(err, model.ErrTagValidation))

	gt.Error(t, model.ValidateAgentName(ptr(strings.Repeat("a", 101))))
}

func TestValidateContent(t *testing.T) {
	gt.NoError(t, model.ValidateContent("x"))
	gt.NoError(t, model.ValidateContent(strings.Repeat("a", model.MaxContentLength)))
	gt.NoError(t, model.ValidateContent(strings.Repeat("é", model.MaxContentLength)))

	err := model.ValidateContent("")
	gt.Error(t, err)
	detail, ok := model.ValidationDetail(err)
	gt.True(t, ok)
	gt.Equal(t, detail.Field, "content")

	gt.Error(t, model.ValidateContent(strings.Repeat("a", model.MaxContentLength+1)))
}

func TestValidateEmbedding(t *testing.T) {
	gt.NoError(t, model.ValidateEmbedding("embedding", make([]float32, 3), 3))

	err := model.ValidateEmbedding("embedding", make([]float32, 2), 3)
	gt.Error(t, err)
	detail, ok := model.ValidationDetail(err)
	gt.True(t, ok)
	gt.Equal(t, detail.Field, "embedding")
	gt.Equal(t, detail.Message, "embedding must have exactly 3 dimensions")
}

func TestMetadataValidate(t *testing.T) {
	t.Run("nil metadata is valid", func(t *testing.T) {
		var m model.Metadata
		gt.NoError(t, m.Validate())
	})

	t.Run("nested JSON values", func(t *testing.T) {
		m := model.Metadata{
			"topic": "go",
			"score": 0.5,
			"tags":  []any{"a", 1.0, nil},
			"ctx":   map[string]any{"ok": true},
		}
		gt.NoError(t, m.Validate())
	})

	t.Run("non JSON value", func(t *testing.T) {
		m := model.Metadata{"fn": func() {}}
		err := m.Validate()
		gt.Error(t, err)
		gt.True(t, goerr.HasTag(err, model.ErrTagValidation))
	})

	t.Run("too large", func(t *testing.T) {
		m := model.Metadata{"blob": strings.Repeat("x", model.MaxMetadataSize)}
		err := m.Validate()
		gt.Error(t, err)
		detail, ok := model.ValidationDetail(err)
		gt.True(t, ok)
		gt.Equal(t, detail.Field, "metadata")
	})

	t.Run("markup characters count as one byte", func(t *testing.T) {
		m := model.Metadata{"html": strings.Repeat("<&>", 20000)}
		gt.NoError(t, m.Validate())
	})
}

func TestMemoryRecord(t *testing.T) {
	m := &model.Memory{
		ID:        model.NewMemoryID(),
		AgentID:   model.NewAgentID(),
		Content:   "hello",
		Embedding: []float32{1, 0},
	}

	record := m.Record()
	gt.Equal(t, record.ID, m.ID)
	gt.V(t, record.Metadata).NotNil()
	gt.Equal(t, len(record.Metadata), 0)

	result := (&model.ScoredMemory{Memory: m, Similarity: 0.9}).Result()
	gt.Equal(t, result.Similarity, 0.9)
	gt.Equal(t, result.Content, "hello")
}

func TestValidationDetail(t *testing.T) {
	_, ok := model.ValidationDetail(goerr.New("boom"))
	gt.False(t, ok)

	wrapped := goerr.Wrap(model.NewValidationError("limit", "limit must be a positive integer"), "list failed")
	detail, ok := model.ValidationDetail(wrapped)
	gt.True(t, ok)
	gt.Equal(t, detail.Field, "limit")
	gt.Equal(t, detail.Message, "limit must be a positive integer")
}
