package cli

import (
	"context"

	"github.com/urfave/cli/v3"
)

// Version is reported by the MCP server and --version
var Version = "dev"

type Error struct {
	Code    int
	Message string
}

func Run(ctx context.Context, argv []string) *Error {
	cmd := &cli.Command{
		Name:    "recall",
		Usage:   "Multi-tenant memory store for autonomous agents",
		Version: Version,
		Commands: []*cli.Command{
			serveCommand(),
			registerCommand(),
			storeCommand(),
			listCommand(),
			searchCommand(),
		},
	}

	if err := cmd.Run(ctx, argv); err != nil {
		return &Error{
			Code:    1,
			Message: err.Error(),
		}
	}

	return nil
}
