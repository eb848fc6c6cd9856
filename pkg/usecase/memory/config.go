package memory

import (
	"os"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/recall/pkg/model"
	"gopkg.in/yaml.v3"
)

// Config holds the retrieval settings of the memory service
type Config struct {
	// Dimension is the embedding length accepted for every memory and query
	Dimension int `yaml:"dimension"`

	// VectorThreshold is the default minimum similarity when the caller supplies
	// a query embedding
	VectorThreshold float64 `yaml:"vector_threshold"`

	// TextThreshold is the default minimum similarity when the query embedding
	// is derived from text
	TextThreshold float64 `yaml:"text_threshold"`

	DefaultSearchLimit int `yaml:"default_search_limit"`
	DefaultListLimit   int `yaml:"default_list_limit"`
	MaxLimit           int `yaml:"max_limit"`

	// EmbeddingTimeout bounds a single embedding provider call
	EmbeddingTimeout time.Duration `yaml:"embedding_timeout"`
}

// DefaultConfig returns the built-in retrieval settings
func DefaultConfig() Config {
	return Config{
		Dimension:          model.DefaultDimension,
		VectorThreshold:    0.5,
		TextThreshold:      0.7,
		DefaultSearchLimit: 10,
		DefaultListLimit:   50,
		MaxLimit:           100,
		EmbeddingTimeout:   10 * time.Second,
	}
}

// Validate checks the config for values that would break the service contract
func (c Config) Validate() error {
	if c.Dimension <= 0 {
		return goerr.New("dimension must be positive", goerr.V("dimension", c.Dimension))
	}
	if c.MaxLimit <= 0 || c.MaxLimit > 100 {
		return goerr.New("max_limit must be between 1 and 100", goerr.V("max_limit", c.MaxLimit))
	}
	if c.DefaultSearchLimit <= 0 || c.DefaultSearchLimit > c.MaxLimit {
		return goerr.New("default_search_limit must be between 1 and max_limit",
			goerr.V("default_search_limit", c.DefaultSearchLimit))
	}
	if c.DefaultListLimit <= 0 || c.DefaultListLimit > c.MaxLimit {
		return goerr.New("default_list_limit must be between 1 and max_limit",
			goerr.V("default_list_limit", c.DefaultListLimit))
	}
	for name, v := range map[string]float64{
		"vector_threshold": c.VectorThreshold,
		"text_threshold":   c.TextThreshold,
	} {
		if v < -1 || v > 1 {
			return goerr.New("threshold must be between -1 and 1", goerr.V(name, v))
		}
	}
	if c.EmbeddingTimeout <= 0 {
		return goerr.New("embedding_timeout must be positive",
			goerr.V("embedding_timeout", c.EmbeddingTimeout))
	}
	return nil
}

// LoadConfig reads a YAML file over base. Keys missing from the file keep the
// values of base.
func LoadConfig(path string, base Config) (Config, error) {
	if path == "" {
		return base, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return base, goerr.Wrap(err, "failed to read config file", goerr.V("path", path))
	}

	cfg := base
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return base, goerr.Wrap(err, "failed to parse config file", goerr.V("path", path))
	}

	if err := cfg.Validate(); err != nil {
		return base, goerr.Wrap(err, "invalid config file", goerr.V("path", path))
	}

	return cfg, nil
}
