package cli

import (
	"context"
	"io"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/recall/pkg/adapter"
	"github.com/m-mizutani/recall/pkg/interfaces"
	"github.com/m-mizutani/recall/pkg/model"
	"github.com/m-mizutani/recall/pkg/policy"
	"github.com/m-mizutani/recall/pkg/repository"
	"github.com/m-mizutani/recall/pkg/usecase/agent"
	"github.com/m-mizutani/recall/pkg/usecase/auth"
	"github.com/m-mizutani/recall/pkg/usecase/memory"
	"github.com/m-mizutani/recall/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

const (
	backendFirestore = "firestore"
	backendMemory    = "memory"

	providerGemini = "gemini"
	providerOpenAI = "openai"
	providerHash   = "hash"
)

// config holds configuration values
type config struct {
	// Logging
	logLevel  string
	logFormat string

	// Repository
	backend  string
	project  string
	database string

	// Embedding
	provider       string
	dimension      int64
	geminiProject  string
	geminiLocation string
	openaiAPIKey   string
	openaiModel    string

	// Memory service
	configPath string
	policyDir  string
}

// globalFlags returns common flags used across commands with destination config
func globalFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Log level (debug, info, warn, error)",
			Value:       "info",
			Sources:     cli.EnvVars("RECALL_LOG_LEVEL"),
			Destination: &cfg.logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "Log format (console, json)",
			Value:       string(logging.FormatConsole),
			Sources:     cli.EnvVars("RECALL_LOG_FORMAT"),
			Destination: &cfg.logFormat,
		},
		&cli.StringFlag{
			Name:        "backend",
			Aliases:     []string{"b"},
			Usage:       "Storage backend (firestore, memory)",
			Value:       backendFirestore,
			Sources:     cli.EnvVars("RECALL_BACKEND"),
			Destination: &cfg.backend,
		},
		&cli.StringFlag{
			Name:        "project",
			Aliases:     []string{"p"},
			Usage:       "Google Cloud project ID",
			Sources:     cli.EnvVars("GOOGLE_CLOUD_PROJECT"),
			Destination: &cfg.project,
		},
		&cli.StringFlag{
			Name:        "database",
			Aliases:     []string{"d"},
			Usage:       "Firestore database ID",
			Value:       "(default)",
			Sources:     cli.EnvVars("FIRESTORE_DATABASE_ID"),
			Destination: &cfg.database,
		},
	}
}

// embeddingFlags returns flags for the embedding provider
func embeddingFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "embedding-provider",
			Usage:       "Embedding provider (gemini, openai, hash)",
			Value:       providerGemini,
			Sources:     cli.EnvVars("RECALL_EMBEDDING_PROVIDER"),
			Destination: &cfg.provider,
		},
		&cli.IntFlag{
			Name:        "dimension",
			Usage:       "Embedding dimension of every memory and query",
			Value:       model.DefaultDimension,
			Sources:     cli.EnvVars("RECALL_DIMENSION"),
			Destination: &cfg.dimension,
		},
		&cli.StringFlag{
			Name:        "gemini-project",
			Usage:       "Google Cloud project ID for Gemini",
			Sources:     cli.EnvVars("GEMINI_PROJECT_ID"),
			Destination: &cfg.geminiProject,
		},
		&cli.StringFlag{
			Name:        "gemini-location",
			Usage:       "Google Cloud location for Gemini",
			Value:       "us-central1",
			Sources:     cli.EnvVars("GEMINI_LOCATION"),
			Destination: &cfg.geminiLocation,
		},
		&cli.StringFlag{
			Name:        "openai-api-key",
			Usage:       "OpenAI API key",
			Sources:     cli.EnvVars("OPENAI_API_KEY"),
			Destination: &cfg.openaiAPIKey,
		},
		&cli.StringFlag{
			Name:        "openai-model",
			Usage:       "OpenAI embedding model",
			Value:       adapter.DefaultOpenAIEmbeddingModel,
			Sources:     cli.EnvVars("RECALL_OPENAI_MODEL"),
			Destination: &cfg.openaiModel,
		},
	}
}

// memoryFlags returns flags for the memory service settings
func memoryFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "Path to YAML file with search and list settings",
			Sources:     cli.EnvVars("RECALL_CONFIG"),
			Destination: &cfg.configPath,
		},
		&cli.StringFlag{
			Name:        "policy-dir",
			Usage:       "Directory of Rego files evaluated on every memory write",
			Sources:     cli.EnvVars("RECALL_POLICY_DIR"),
			Destination: &cfg.policyDir,
		},
	}
}

// commandFlags returns every flag needed to build the services
func commandFlags(cfg *config) []cli.Flag {
	var flags []cli.Flag
	flags = append(flags, globalFlags(cfg)...)
	flags = append(flags, embeddingFlags(cfg)...)
	flags = append(flags, memoryFlags(cfg)...)
	return flags
}

// setupLogger installs the default logger and returns ctx carrying it
func (cfg *config) setupLogger(ctx context.Context, w io.Writer) (context.Context, error) {
	format, err := logging.ParseFormat(cfg.logFormat)
	if err != nil {
		return ctx, err
	}

	logger := logging.NewWithFormat(cfg.logLevel, format, w)
	logging.SetDefault(logger)
	return logging.With(ctx, logger), nil
}

// newRepository creates a new repository instance. The returned function
// releases the backing store client.
func (cfg *config) newRepository(ctx context.Context) (interfaces.Repository, func(), error) {
	opts := []repository.Option{repository.WithDimension(int(cfg.dimension))}

	switch cfg.backend {
	case backendMemory:
		return repository.NewChromem(opts...), func() {}, nil

	case backendFirestore:
		if cfg.project == "" {
			return nil, nil, goerr.New("project is required")
		}
		if cfg.database == "" {
			return nil, nil, goerr.New("database is required")
		}

		repo, err := repository.New(ctx, cfg.project, cfg.database, opts...)
		if err != nil {
			return nil, nil, goerr.Wrap(err, "failed to create repository")
		}
		closer := func() {
			if err := repo.Close(); err != nil {
				logging.From(ctx).Warn("failed to close repository", logging.ErrAttr(err))
			}
		}
		return repo, closer, nil

	default:
		return nil, nil, goerr.New("unsupported backend",
			goerr.V("backend", cfg.backend),
			goerr.V("supported", []string{backendFirestore, backendMemory}))
	}
}

// newEmbedder creates the embedding provider
func (cfg *config) newEmbedder(ctx context.Context) (interfaces.Embedder, error) {
	dim := int(cfg.dimension)

	switch cfg.provider {
	case providerGemini:
		if cfg.geminiProject == "" {
			return nil, goerr.New("gemini-project is required")
		}
		if cfg.geminiLocation == "" {
			return nil, goerr.New("gemini-location is required")
		}
		return adapter.NewGemini(ctx, cfg.geminiProject, cfg.geminiLocation, dim)

	case providerOpenAI:
		if cfg.openaiAPIKey == "" {
			return nil, goerr.New("openai-api-key is required")
		}
		return adapter.NewOpenAI(cfg.openaiAPIKey, cfg.openaiModel, dim)

	case providerHash:
		return adapter.NewHash(dim), nil

	default:
		return nil, goerr.New("unsupported embedding provider",
			goerr.V("provider", cfg.provider),
			goerr.V("supported", []string{providerGemini, providerOpenAI, providerHash}))
	}
}

// memoryConfig returns the memory service settings from defaults, the config
// file and the dimension flag, in that order
func (cfg *config) memoryConfig() (memory.Config, error) {
	base := memory.DefaultConfig()
	base.Dimension = int(cfg.dimension)

	mc, err := memory.LoadConfig(cfg.configPath, base)
	if err != nil {
		return mc, err
	}
	if mc.Dimension != int(cfg.dimension) {
		return mc, goerr.New("dimension in config file does not match --dimension",
			goerr.V("config", mc.Dimension),
			goerr.V("flag", cfg.dimension))
	}
	if err := mc.Validate(); err != nil {
		return mc, goerr.Wrap(err, "invalid memory settings")
	}
	return mc, nil
}

// services is the wired set of use cases shared by the commands
type services struct {
	agents *agent.UseCase
	auth   *auth.UseCase
	memory *memory.UseCase
	close  func()
}

// newServices wires repository, embedder, policy and use cases. Without an
// embedder, requests that need a derived embedding fail as upstream errors.
func (cfg *config) newServices(ctx context.Context, withEmbedder bool) (*services, error) {
	mc, err := cfg.memoryConfig()
	if err != nil {
		return nil, err
	}

	var embedder interfaces.Embedder
	if withEmbedder {
		e, err := cfg.newEmbedder(ctx)
		if err != nil {
			return nil, err
		}
		embedder = e
	}

	pol, err := policy.New(ctx, cfg.policyDir)
	if err != nil {
		return nil, err
	}

	repo, closer, err := cfg.newRepository(ctx)
	if err != nil {
		return nil, err
	}

	agents := agent.New(repo)
	return &services{
		agents: agents,
		auth:   auth.New(agents),
		memory: memory.New(repo, embedder, memory.WithConfig(mc), memory.WithPolicy(pol)),
		close:  closer,
	}, nil
}

// newClientServices is newServices for one-shot commands, which need a
// persistent backend
func (cfg *config) newClientServices(ctx context.Context, withEmbedder bool) (*services, error) {
	if cfg.backend == backendMemory {
		return nil, goerr.New("memory backend is only available for serve",
			goerr.V("backend", cfg.backend))
	}
	return cfg.newServices(ctx, withEmbedder)
}
