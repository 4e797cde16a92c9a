package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/crewflow/internal/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Serve the workflow API: list templates and agents, create, inspect and
cancel workflows, read the run history and stream events over SSE.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var serveAddr string

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default: server.addr from config)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := newApp(appOptions{history: true})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if a.cfg.Agents.Watch {
		if err := a.orch.Context().WatchAgents(ctx); err != nil {
			a.logger.Warn("agent configuration watch disabled", "error", err)
		}
	}

	addr := serveAddr
	if addr == "" {
		addr = a.cfg.Server.Addr
	}
	// Runs outlive the request that created them but stop with the server.
	server := api.NewServer(a.orch,
		api.WithLogger(a.logger),
		api.WithAllowedOrigins(a.cfg.Server.AllowedOrigins),
		api.WithRunContext(ctx),
	)

	serveErr := server.ListenAndServe(ctx, addr)

	closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	a.logger.Info("shutting down, cancelling active workflows")
	a.close(closeCtx)
	return serveErr
}
