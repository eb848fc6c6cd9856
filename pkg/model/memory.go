package model

import (
	"fmt"
	"time"
	"unicode/utf8"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
)

const (
	MaxContentLength = 10000

	// DefaultDimension matches text-embedding-ada-002
	DefaultDimension = 1536
)

type MemoryID string

// NewMemoryID generates a new unique MemoryID
func NewMemoryID() MemoryID {
	return MemoryID(uuid.New().String())
}

// Memory is an immutable text record owned by exactly one agent
type Memory struct {
	ID        MemoryID
	AgentID   AgentID
	Content   string
	Metadata  Metadata
	Embedding firestore.Vector32
	CreatedAt time.Time
}

// ScoredMemory is a memory matched by similarity search
type ScoredMemory struct {
	Memory     *Memory
	Similarity float64
}

// MemoryRecord is the outward shape of a memory. The owner and the embedding are
// never exposed.
type MemoryRecord struct {
	ID        MemoryID  `json:"id"`
	Content   string    `json:"content"`
	Metadata  Metadata  `json:"metadata"`
	CreatedAt time.Time `json:"created_at"`
}

// SearchResult is a ranked search hit
type SearchResult struct {
	ID         MemoryID  `json:"id"`
	Content    string    `json:"content"`
	Metadata   Metadata  `json:"metadata"`
	Similarity float64   `json:"similarity"`
	CreatedAt  time.Time `json:"created_at"`
}

// Record converts the memory to its outward shape
func (x *Memory) Record() *MemoryRecord {
	return &MemoryRecord{
		ID:        x.ID,
		Content:   x.Content,
		Metadata:  x.Metadata.orEmpty(),
		CreatedAt: x.CreatedAt,
	}
}

// Result converts a scored memory to its outward shape
func (x *ScoredMemory) Result() *SearchResult {
	return &SearchResult{
		ID:         x.Memory.ID,
		Content:    x.Memory.Content,
		Metadata:   x.Memory.Metadata.orEmpty(),
		Similarity: x.Similarity,
		CreatedAt:  x.Memory.CreatedAt,
	}
}

// ValidateContent checks the memory text bounds
func ValidateContent(content string) error {
	n := utf8.RuneCountInString(content)
	if n < 1 || n > MaxContentLength {
		return NewValidationError("content", "content must be between 1 and 10000 characters",
			goerr.V("length", n))
	}
	return nil
}

// ValidateEmbedding checks that the embedding has exactly the configured dimension
func ValidateEmbedding(field string, embedding []float32, dimension int) error {
	if len(embedding) != dimension {
		return NewValidationError(field, fmt.Sprintf("embedding must have exactly %d dimensions", dimension),
			goerr.V("expected", dimension),
			goerr.V("actual", len(embedding)))
	}
	return nil
}
