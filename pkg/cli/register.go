package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/recall/pkg/usecase/agent"
	"github.com/urfave/cli/v3"
)

func registerCommand() *cli.Command {
	var (
		cfg  config
		name string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "name",
			Aliases:     []string{"n"},
			Usage:       "Display name of the agent",
			Destination: &name,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)

	return &cli.Command{
		Name:  "register",
		Usage: "Register a new agent and print its API key",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, err := cfg.setupLogger(ctx, os.Stderr)
			if err != nil {
				return err
			}
			if cfg.backend == backendMemory {
				return goerr.New("memory backend is only available for serve")
			}

			repo, closer, err := cfg.newRepository(ctx)
			if err != nil {
				return err
			}
			defer closer()

			var namePtr *string
			if c.IsSet("name") {
				namePtr = &name
			}

			reg, err := agent.New(repo).Register(ctx, namePtr)
			if err != nil {
				return goerr.Wrap(err, "failed to register agent")
			}

			w := c.Root().Writer
			fmt.Fprintf(w, "Agent registered: %s\n", reg.Agent.ID)
			fmt.Fprintf(w, "API key: %s\n", reg.APIKey)
			fmt.Fprintln(w, "The API key is shown only once. Store it securely.")
			return nil
		},
	}
}
