package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/recall/pkg/server"
	"github.com/m-mizutani/recall/pkg/service/mcp"
	"github.com/m-mizutani/recall/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

const shutdownTimeout = 10 * time.Second

func serveCommand() *cli.Command {
	var (
		cfg        config
		addr       string
		disableMCP bool
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "addr",
			Aliases:     []string{"a"},
			Usage:       "Listen address",
			Value:       ":8080",
			Sources:     cli.EnvVars("RECALL_ADDR"),
			Destination: &addr,
		},
		&cli.BoolFlag{
			Name:        "disable-mcp",
			Usage:       "Do not serve the MCP endpoint at /mcp",
			Sources:     cli.EnvVars("RECALL_DISABLE_MCP"),
			Destination: &disableMCP,
		},
	}
	flags = append(flags, commandFlags(&cfg)...)

	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API server",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, err := cfg.setupLogger(ctx, os.Stderr)
			if err != nil {
				return err
			}

			svc, err := cfg.newServices(ctx, true)
			if err != nil {
				return err
			}
			defer svc.close()

			var opts []server.Option
			if !disableMCP {
				opts = append(opts, server.WithMCP(mcp.New(svc.memory, Version).Handler()))
			}

			httpServer := &http.Server{
				Addr:              addr,
				Handler:           server.New(svc.agents, svc.auth, svc.memory, opts...),
				ReadHeaderTimeout: 10 * time.Second,
				BaseContext: func(_ net.Listener) context.Context {
					return ctx
				},
			}

			logging.From(ctx).Info("serving",
				"backend", cfg.backend,
				"embedding_provider", cfg.provider,
				"dimension", cfg.dimension,
				"mcp", !disableMCP,
			)
			return runServer(ctx, httpServer)
		},
	}
}

// runServer serves until SIGINT or SIGTERM and then shuts down gracefully
func runServer(ctx context.Context, httpServer *http.Server) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logging.From(ctx).Info("server started", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return goerr.Wrap(err, "server failed", goerr.V("addr", httpServer.Addr))
		}
		return nil
	case <-ctx.Done():
	}

	logging.From(ctx).Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return goerr.Wrap(err, "failed to shutdown server")
	}
	return nil
}
