package cli

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/recall/pkg/model"
	"github.com/m-mizutani/recall/pkg/usecase/memory"
	"github.com/urfave/cli/v3"
)

// apiKeyFlag returns the credential flag of agent-scoped commands
func apiKeyFlag(apiKey *string) cli.Flag {
	return &cli.StringFlag{
		Name:        "api-key",
		Aliases:     []string{"k"},
		Usage:       "API key of the agent",
		Sources:     cli.EnvVars("RECALL_API_KEY"),
		Destination: apiKey,
		Required:    true,
	}
}

// withSpinner shows progress on stderr while fn runs
func withSpinner[T any](suffix string, fn func() (T, error)) (T, error) {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	s.Suffix = " " + suffix
	s.Start()
	defer s.Stop()
	return fn()
}

// readEmbedding reads a JSON array of numbers from path. An empty path returns nil.
func readEmbedding(path string) ([]float32, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read embedding file", goerr.V("path", path))
	}

	var embedding []float32
	if err := json.Unmarshal(data, &embedding); err != nil {
		return nil, goerr.Wrap(err, "embedding file must be a JSON array of numbers", goerr.V("path", path))
	}
	return embedding, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return goerr.Wrap(err, "failed to write output")
	}
	return nil
}

// agentServices authenticates apiKey and returns the services and the agent
func (cfg *config) agentServices(ctx context.Context, apiKey string, withEmbedder bool) (*services, *model.Agent, error) {
	svc, err := cfg.newClientServices(ctx, withEmbedder)
	if err != nil {
		return nil, nil, err
	}

	agent, err := svc.auth.Authenticate(ctx, "Bearer "+apiKey)
	if err != nil {
		svc.close()
		return nil, nil, goerr.Wrap(err, "failed to authenticate")
	}
	return svc, agent, nil
}

func storeCommand() *cli.Command {
	var (
		cfg           config
		apiKey        string
		content       string
		embeddingPath string
		metadataJSON  string
	)

	flags := []cli.Flag{
		apiKeyFlag(&apiKey),
		&cli.StringFlag{
			Name:        "content",
			Usage:       "Text of the memory",
			Destination: &content,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "embedding-file",
			Aliases:     []string{"e"},
			Usage:       "Path to a JSON array with the embedding. Derived from content when omitted",
			Destination: &embeddingPath,
		},
		&cli.StringFlag{
			Name:        "metadata",
			Aliases:     []string{"m"},
			Usage:       "Metadata as a JSON object",
			Destination: &metadataJSON,
		},
	}
	flags = append(flags, commandFlags(&cfg)...)

	return &cli.Command{
		Name:  "store",
		Usage: "Store a memory",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, err := cfg.setupLogger(ctx, os.Stderr)
			if err != nil {
				return err
			}

			embedding, err := readEmbedding(embeddingPath)
			if err != nil {
				return err
			}

			var metadata model.Metadata
			if metadataJSON != "" {
				if err := json.Unmarshal([]byte(metadataJSON), &metadata); err != nil {
					return goerr.Wrap(err, "metadata must be a JSON object")
				}
			}

			svc, agent, err := cfg.agentServices(ctx, apiKey, embedding == nil)
			if err != nil {
				return err
			}
			defer svc.close()

			record, err := withSpinner("storing memory", func() (*model.MemoryRecord, error) {
				return svc.memory.Store(ctx, agent, memory.StoreInput{
					Content:   content,
					Embedding: embedding,
					Metadata:  metadata,
				})
			})
			if err != nil {
				return goerr.Wrap(err, "failed to store memory")
			}

			return printJSON(c.Root().Writer, record)
		},
	}
}

func listCommand() *cli.Command {
	var (
		cfg    config
		apiKey string
		limit  int64
	)

	flags := []cli.Flag{
		apiKeyFlag(&apiKey),
		&cli.IntFlag{
			Name:        "limit",
			Aliases:     []string{"l"},
			Usage:       "Maximum number of memories to list",
			Value:       50,
			Sources:     cli.EnvVars("RECALL_LIST_LIMIT"),
			Destination: &limit,
		},
	}
	flags = append(flags, commandFlags(&cfg)...)

	return &cli.Command{
		Name:  "list",
		Usage: "List the most recent memories",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, err := cfg.setupLogger(ctx, os.Stderr)
			if err != nil {
				return err
			}

			svc, agent, err := cfg.agentServices(ctx, apiKey, false)
			if err != nil {
				return err
			}
			defer svc.close()

			n := int(limit)
			records, err := svc.memory.List(ctx, agent, memory.ListInput{Limit: &n})
			if err != nil {
				return goerr.Wrap(err, "failed to list memories")
			}
			if records == nil {
				records = []*model.MemoryRecord{}
			}

			return printJSON(c.Root().Writer, records)
		},
	}
}

func searchCommand() *cli.Command {
	var (
		cfg           config
		apiKey        string
		query         string
		embeddingPath string
		limit         int64
		threshold     float64
	)

	flags := []cli.Flag{
		apiKeyFlag(&apiKey),
		&cli.StringFlag{
			Name:        "query",
			Aliases:     []string{"q"},
			Usage:       "Natural language query",
			Destination: &query,
		},
		&cli.StringFlag{
			Name:        "embedding-file",
			Aliases:     []string{"e"},
			Usage:       "Path to a JSON array with the query embedding",
			Destination: &embeddingPath,
		},
		&cli.IntFlag{
			Name:        "limit",
			Aliases:     []string{"l"},
			Usage:       "Maximum number of results",
			Value:       10,
			Sources:     cli.EnvVars("RECALL_SEARCH_LIMIT"),
			Destination: &limit,
		},
		&cli.FloatFlag{
			Name:        "threshold",
			Aliases:     []string{"t"},
			Usage:       "Minimum similarity. Defaults to the mode specific threshold",
			Destination: &threshold,
		},
	}
	flags = append(flags, commandFlags(&cfg)...)

	return &cli.Command{
		Name:  "search",
		Usage: "Search memories by similarity",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, err := cfg.setupLogger(ctx, os.Stderr)
			if err != nil {
				return err
			}

			embedding, err := readEmbedding(embeddingPath)
			if err != nil {
				return err
			}

			svc, agent, err := cfg.agentServices(ctx, apiKey, embedding == nil)
			if err != nil {
				return err
			}
			defer svc.close()

			n := int(limit)
			input := memory.SearchInput{
				Query:     query,
				Embedding: embedding,
				Limit:     &n,
			}
			if c.IsSet("threshold") {
				input.Threshold = &threshold
			}

			results, err := withSpinner("searching memories", func() ([]*model.SearchResult, error) {
				return svc.memory.Search(ctx, agent, input)
			})
			if err != nil {
				return goerr.Wrap(err, "failed to search memories")
			}
			if results == nil {
				results = []*model.SearchResult{}
			}

			return printJSON(c.Root().Writer, results)
		},
	}
}
