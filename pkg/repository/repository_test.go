package repository_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/recall/pkg/interfaces"
	"github.com/m-mizutani/recall/pkg/model"
	"github.com/m-mizutani/recall/pkg/repository"
)

const testDimension = 3

// stepClock returns a clock that advances one second per call
func stepClock() func() time.Time {
	var mu sync.Mutex
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

func newAgent(t *testing.T, repo interfaces.Repository) *model.Agent {
	t.Helper()
	key, err := model.NewAPIKey()
	gt.NoError(t, err)

	agent := &model.Agent{
		ID:        model.NewAgentID(),
		Name:      "tester",
		KeyHash:   key.Hash(),
		CreatedAt: time.Now().UTC(),
	}
	gt.NoError(t, repo.CreateAgent(context.Background(), agent))
	return agent
}

func insert(t *testing.T, repo interfaces.Repository, agentID model.AgentID, content string, emb firestore.Vector32) *model.Memory {
	t.Helper()
	m, err := repo.InsertMemory(context.Background(), agentID, content, emb, model.Metadata{"content": content})
	gt.NoError(t, err)
	return m
}

func runRepositoryTests(t *testing.T, newRepo func(t *testing.T) interfaces.Repository) {
	ctx := context.Background()

	t.Run("agent lookup by key hash", func(t *testing.T) {
		repo := newRepo(t)
		agent := newAgent(t, repo)

		got, err := repo.GetAgentByKeyHash(ctx, agent.KeyHash)
		gt.NoError(t, err)
		gt.V(t, got).NotNil()
		gt.Equal(t, got.ID, agent.ID)
		gt.Equal(t, got.Name, "tester")

		missing, err := repo.GetAgentByKeyHash(ctx, model.APIKey("recall_unknown").Hash())
		gt.NoError(t, err)
		gt.V(t, missing).Nil()
	})

	t.Run("duplicate key hash is rejected", func(t *testing.T) {
		repo := newRepo(t)
		agent := newAgent(t, repo)

		dup := &model.Agent{
			ID:        model.NewAgentID(),
			KeyHash:   agent.KeyHash,
			CreatedAt: time.Now().UTC(),
		}
		gt.Error(t, repo.CreateAgent(ctx, dup))
	})

	t.Run("insert assigns id and timestamp", func(t *testing.T) {
		repo := newRepo(t)
		agent := newAgent(t, repo)

		m := insert(t, repo, agent.ID, "likes go", firestore.Vector32{1, 0, 0})
		gt.True(t, m.ID != "")
		gt.False(t, m.CreatedAt.IsZero())
		gt.Equal(t, m.AgentID, agent.ID)
	})

	t.Run("dimension mismatch persists nothing", func(t *testing.T) {
		repo := newRepo(t)
		agent := newAgent(t, repo)

		_, err := repo.InsertMemory(ctx, agent.ID, "bad", firestore.Vector32{1, 0}, nil)
		gt.Error(t, err)
		gt.True(t, goerr.HasTag(err, model.ErrTagValidation))

		memories, err := repo.ListMemories(ctx, agent.ID, 10)
		gt.NoError(t, err)
		gt.A(t, memories).Length(0)

		_, err = repo.SearchMemories(ctx, agent.ID, firestore.Vector32{1, 0}, 0.5, 10)
		gt.Error(t, err)
		gt.True(t, goerr.HasTag(err, model.ErrTagValidation))
	})

	t.Run("list returns newest first", func(t *testing.T) {
		repo := newRepo(t)
		agent := newAgent(t, repo)

		first := insert(t, repo, agent.ID, "first", firestore.Vector32{1, 0, 0})
		second := insert(t, repo, agent.ID, "second", firestore.Vector32{0, 1, 0})
		third := insert(t, repo, agent.ID, "third", firestore.Vector32{0, 0, 1})

		memories, err := repo.ListMemories(ctx, agent.ID, 50)
		gt.NoError(t, err)
		gt.A(t, memories).Length(3)
		gt.Equal(t, memories[0].ID, third.ID)
		gt.Equal(t, memories[1].ID, second.ID)
		gt.Equal(t, memories[2].ID, first.ID)
		gt.Equal(t, memories[0].Metadata["content"], any("third"))

		limited, err := repo.ListMemories(ctx, agent.ID, 2)
		gt.NoError(t, err)
		gt.A(t, limited).Length(2)
		gt.Equal(t, limited[0].ID, third.ID)
	})

	t.Run("limit bounds", func(t *testing.T) {
		repo := newRepo(t)
		agent := newAgent(t, repo)
		insert(t, repo, agent.ID, "only", firestore.Vector32{1, 0, 0})

		_, err := repo.ListMemories(ctx, agent.ID, 0)
		gt.Error(t, err)
		gt.True(t, goerr.HasTag(err, model.ErrTagValidation))

		_, err = repo.SearchMemories(ctx, agent.ID, firestore.Vector32{1, 0, 0}, 0.5, -1)
		gt.Error(t, err)

		memories, err := repo.ListMemories(ctx, agent.ID, 500)
		gt.NoError(t, err)
		gt.A(t, memories).Length(1)
	})

	t.Run("search filters by threshold and ranks by similarity", func(t *testing.T) {
		repo := newRepo(t)
		agent := newAgent(t, repo)

		exact := insert(t, repo, agent.ID, "exact", firestore.Vector32{1, 0, 0})
		near := insert(t, repo, agent.ID, "near", firestore.Vector32{0.8, 0.6, 0})
		insert(t, repo, agent.ID, "orthogonal", firestore.Vector32{0, 1, 0})

		results, err := repo.SearchMemories(ctx, agent.ID, firestore.Vector32{1, 0, 0}, 0.5, 10)
		gt.NoError(t, err)
		gt.A(t, results).Length(2)
		gt.Equal(t, results[0].Memory.ID, exact.ID)
		gt.Equal(t, results[1].Memory.ID, near.ID)
		gt.True(t, results[0].Similarity > 0.999)
		gt.True(t, results[1].Similarity > 0.79 && results[1].Similarity < 0.81)

		for _, r := range results {
			gt.True(t, r.Similarity >= 0.5)
		}

		top, err := repo.SearchMemories(ctx, agent.ID, firestore.Vector32{1, 0, 0}, 0.5, 1)
		gt.NoError(t, err)
		gt.A(t, top).Length(1)
		gt.Equal(t, top[0].Memory.ID, exact.ID)
	})

	t.Run("equal similarity prefers newer memory", func(t *testing.T) {
		repo := newRepo(t)
		agent := newAgent(t, repo)

		older := insert(t, repo, agent.ID, "older", firestore.Vector32{0, 0, 1})
		newer := insert(t, repo, agent.ID, "newer", firestore.Vector32{0, 0, 1})

		results, err := repo.SearchMemories(ctx, agent.ID, firestore.Vector32{0, 0, 1}, 0.9, 10)
		gt.NoError(t, err)
		gt.A(t, results).Length(2)
		gt.Equal(t, results[0].Memory.ID, newer.ID)
		gt.Equal(t, results[1].Memory.ID, older.ID)
	})

	t.Run("identical vector matches threshold of one", func(t *testing.T) {
		repo := newRepo(t)
		agent := newAgent(t, repo)

		emb := firestore.Vector32{0.1, 0.2, 0.3}
		m := insert(t, repo, agent.ID, "exact", emb)

		results, err := repo.SearchMemories(ctx, agent.ID, emb, 1.0, 10)
		gt.NoError(t, err)
		gt.A(t, results).Length(1)
		gt.Equal(t, results[0].Memory.ID, m.ID)
		gt.True(t, results[0].Similarity <= 1)
	})

	t.Run("ties at the limit keep the newest", func(t *testing.T) {
		repo := newRepo(t)
		agent := newAgent(t, repo)

		var inserted []*model.Memory
		for _, content := range []string{"a", "b", "c", "d"} {
			inserted = append(inserted, insert(t, repo, agent.ID, content, firestore.Vector32{0, 1, 0}))
		}

		results, err := repo.SearchMemories(ctx, agent.ID, firestore.Vector32{0, 1, 0}, 0.9, 2)
		gt.NoError(t, err)
		gt.A(t, results).Length(2)
		gt.Equal(t, results[0].Memory.ID, inserted[3].ID)
		gt.Equal(t, results[1].Memory.ID, inserted[2].ID)
	})

	t.Run("results are capped at the max limit", func(t *testing.T) {
		repo := newRepo(t)
		agent := newAgent(t, repo)

		for i := 0; i < repository.MaxLimit+1; i++ {
			insert(t, repo, agent.ID, "bulk", firestore.Vector32{1, 0, 0})
		}

		memories, err := repo.ListMemories(ctx, agent.ID, 500)
		gt.NoError(t, err)
		gt.A(t, memories).Length(repository.MaxLimit)

		results, err := repo.SearchMemories(ctx, agent.ID, firestore.Vector32{1, 0, 0}, -1, 500)
		gt.NoError(t, err)
		gt.A(t, results).Length(repository.MaxLimit)
	})

	t.Run("agents cannot see each other's memories", func(t *testing.T) {
		repo := newRepo(t)
		alice := newAgent(t, repo)
		bob := newAgent(t, repo)

		insert(t, repo, alice.ID, "alice secret", firestore.Vector32{1, 0, 0})

		memories, err := repo.ListMemories(ctx, bob.ID, 50)
		gt.NoError(t, err)
		gt.A(t, memories).Length(0)

		results, err := repo.SearchMemories(ctx, bob.ID, firestore.Vector32{1, 0, 0}, -1, 100)
		gt.NoError(t, err)
		gt.A(t, results).Length(0)

		own, err := repo.ListMemories(ctx, alice.ID, 50)
		gt.NoError(t, err)
		gt.A(t, own).Length(1)
		gt.Equal(t, own[0].Content, "alice secret")
	})
}

func TestChromem(t *testing.T) {
	runRepositoryTests(t, func(t *testing.T) interfaces.Repository {
		return repository.NewChromem(
			repository.WithDimension(testDimension),
			repository.WithClock(stepClock()),
		)
	})
}

func TestChromemZeroVector(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewChromem(repository.WithDimension(testDimension))
	agent := newAgent(t, repo)

	insert(t, repo, agent.ID, "zero", firestore.Vector32{0, 0, 0})

	results, err := repo.SearchMemories(ctx, agent.ID, firestore.Vector32{1, 0, 0}, 0.5, 10)
	gt.NoError(t, err)
	gt.A(t, results).Length(0)
}

func TestFirestore(t *testing.T) {
	projectID := os.Getenv("TEST_FIRESTORE_PROJECT_ID")
	databaseID := os.Getenv("TEST_FIRESTORE_DATABASE_ID")
	if projectID == "" || databaseID == "" {
		t.Skip("TEST_FIRESTORE_PROJECT_ID and TEST_FIRESTORE_DATABASE_ID must be set to run Firestore tests")
	}

	runRepositoryTests(t, func(t *testing.T) interfaces.Repository {
		repo, err := repository.New(context.Background(), projectID, databaseID,
			repository.WithDimension(testDimension),
			repository.WithClock(stepClock()),
		)
		gt.NoError(t, err)
		t.Cleanup(func() {
			gt.NoError(t, repo.Close())
		})
		return repo
	})
}
