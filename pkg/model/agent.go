package model

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"math/big"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
)

const (
	// APIKeyPrefix is the fixed prefix of every agent API key
	APIKeyPrefix = "recall_"

	// apiKeyRandomLength is the number of random characters after the prefix
	apiKeyRandomLength = 32

	// apiKeyAlphabet omits look-alike characters (0 O o 1 l I)
	apiKeyAlphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnpqrstuvwxyz"

	MaxAgentNameLength = 100
)

type AgentID string

// NewAgentID generates a new unique AgentID
func NewAgentID() AgentID {
	return AgentID(uuid.New().String())
}

func (x AgentID) String() string { return string(x) }

// APIKey is the plaintext bearer secret of an agent
type APIKey string

// NewAPIKey generates a new random API key
func NewAPIKey() (APIKey, error) {
	max := big.NewInt(int64(len(apiKeyAlphabet)))
	buf := make([]byte, apiKeyRandomLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", goerr.Wrap(err, "failed to read random source")
		}
		buf[i] = apiKeyAlphabet[n.Int64()]
	}
	return APIKey(APIKeyPrefix + string(buf)), nil
}

// Hash returns the hex encoded SHA-256 digest of the key. Only the digest is
// persisted.
func (k APIKey) Hash() string {
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:])
}

// Agent is a tenant identity that owns memories
type Agent struct {
	ID        AgentID
	Name      string
	KeyHash   string
	CreatedAt time.Time
}

// Registration is the result of registering an agent. It is the only value that
// carries the plaintext API key.
type Registration struct {
	Agent  *Agent
	APIKey APIKey
}

// ValidateAgentName checks the optional display name of an agent
func ValidateAgentName(name *string) error {
	if name == nil {
		return nil
	}

	n := utf8.RuneCountInString(*name)
	if n < 1 || n > MaxAgentNameLength {
		return NewValidationError("name", "name must be between 1 and 100 characters",
			goerr.V("length", n))
	}
	return nil
}
