package cli

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sprite-ai/lensrev/internal/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Start an HTTP server exposing the lensrev review engine.

Endpoints:
  GET    /health                              Health check
  GET    /metrics                             Prometheus metrics
  GET    /api/providers                       Configured provider and models
  POST   /api/parse                           Parse a diff into structured files
  POST   /api/apply                           Apply one file diff to a project
  POST   /api/triage/stream                   Start a review, stream events (SSE)
  GET    /api/triage/ws                       Start or resume a review (WebSocket)
  GET    /api/triage/reviews/{id}/stream      Resume a review stream (SSE)
  GET    /api/triage/runs/{id}                Progress of a run
  DELETE /api/triage/runs/{id}                Cancel a running review
  GET    /api/triage/reviews[/{id}]           Saved triage reviews
  POST   /api/triage/reviews/{id}/drilldown   Investigate one issue
  GET    /api/reviews[/{id}]                  Saved reviews
  GET    /api/sessions[/{id}]                 Conversation sessions`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringP("addr", "a", "", "address to listen on")
	serveCmd.Flags().IntP("port", "p", 0, "port to listen on")
	serveCmd.Flags().Int("concurrency", 0, "lenses run in parallel per review")
	serveCmd.Flags().Int("fuzz-window", 0, "lines a hunk may drift when applying patches")
}

const shutdownGrace = 10 * time.Second

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		exitCode = ExitFailure
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.pruneJournal(ctx)
	go a.registry.Janitor(ctx, time.Minute)

	srv := api.New(api.Options{
		Addr:       a.cfg.ListenAddr(),
		Provider:   a.cfg.Provider,
		Model:      a.cfg.Model,
		FuzzWindow: a.cfg.FuzzWindow,
	}, a.stores, a.reviews, a.client, a.log)

	go srv.Janitor(ctx, time.Minute)

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		if err != nil {
			exitCode = ExitFailure
		}
		return err
	case <-ctx.Done():
	}

	a.log.Info().Msg("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	// Runs end first so open event streams can finish.
	err = errors.Join(a.reviews.Shutdown(sctx), srv.Shutdown(sctx))
	if err != nil {
		exitCode = ExitFailure
	}
	return err
}
