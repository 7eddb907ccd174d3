// Package api implements the lensrev HTTP API server.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/sprite-ai/lensrev/internal/ai"
	"github.com/sprite-ai/lensrev/internal/cache"
	"github.com/sprite-ai/lensrev/internal/drilldown"
	"github.com/sprite-ai/lensrev/internal/model"
	"github.com/sprite-ai/lensrev/internal/review"
	"github.com/sprite-ai/lensrev/internal/session"
	"github.com/sprite-ai/lensrev/internal/store"
)

// Options configures the server.
type Options struct {
	Addr     string
	Provider string
	Model    string
	// FuzzWindow is passed to diff.ApplyFile by /api/apply.
	FuzzWindow int
	// ModelsTTL bounds how long a provider model list is cached.
	ModelsTTL time.Duration
}

// Server is the lensrev HTTP API server.
type Server struct {
	opts     Options
	mux      *http.ServeMux
	server   *http.Server
	stores   *store.Stores
	reviews  *review.Service
	drill    *drilldown.Engine
	sessions *session.Service
	client   ai.Client
	models   *cache.TTL[[]string]
	log      zerolog.Logger
}

// New creates a new API server. client may be nil when no provider is
// configured.
func New(opts Options, stores *store.Stores, reviews *review.Service, client ai.Client, log zerolog.Logger) *Server {
	if opts.ModelsTTL <= 0 {
		opts.ModelsTTL = 10 * time.Minute
	}
	s := &Server{
		opts:     opts,
		stores:   stores,
		reviews:  reviews,
		drill:    drilldown.New(stores, client, log),
		sessions: session.New(stores.Sessions),
		client:   client,
		models:   cache.New[[]string](opts.ModelsTTL),
		log:      log,
	}
	s.mux = http.NewServeMux()
	s.registerRoutes()
	s.server = &http.Server{
		Addr:        opts.Addr,
		Handler:     s.mux,
		ReadTimeout: 30 * time.Second,
		// Streaming handlers lift this per response.
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("GET /metrics", promhttp.Handler())
	s.mux.HandleFunc("GET /api/providers", s.handleProviders)

	s.mux.HandleFunc("POST /api/parse", s.handleParse)
	s.mux.HandleFunc("POST /api/apply", s.handleApply)

	s.mux.HandleFunc("POST /api/triage/stream", s.handleTriageStream)
	s.mux.HandleFunc("GET /api/triage/ws", s.handleTriageWS)
	s.mux.HandleFunc("GET /api/triage/reviews/{id}/stream", s.handleResume)
	s.mux.HandleFunc("GET /api/triage/runs/{id}", s.handleRunStatus)
	s.mux.HandleFunc("DELETE /api/triage/runs/{id}", s.handleCancel)

	s.registerReviewRoutes("/api/triage/reviews", model.KindTriage)
	s.registerReviewRoutes("/api/reviews", model.KindReview)

	s.mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	s.mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	s.mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	s.mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDeleteSession)
	s.mux.HandleFunc("POST /api/sessions/{id}/messages", s.handleAddMessage)
}

func (s *Server) registerReviewRoutes(prefix string, kind model.ReviewKind) {
	s.mux.HandleFunc("GET "+prefix, s.handleListReviews(kind))
	s.mux.HandleFunc("GET "+prefix+"/{id}", s.handleGetReview(kind))
	s.mux.HandleFunc("HEAD "+prefix+"/{id}", s.handleReviewExists(kind))
	s.mux.HandleFunc("DELETE "+prefix+"/{id}", s.handleDeleteReview(kind))
	s.mux.HandleFunc("POST "+prefix+"/{id}/drilldown", s.handleDrilldown(kind))
}

// ListenAndServe starts the HTTP server. It returns nil after Shutdown.
func (s *Server) ListenAndServe() error {
	s.log.Info().Str("addr", s.opts.Addr).Msg("lensrev API server listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for handlers, or ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Janitor drops expired cache entries every interval until ctx ends.
func (s *Server) Janitor(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := s.models.Purge(); n > 0 {
				s.log.Debug().Int("purged", n).Int("cached", s.models.Len()).Msg("model cache purged")
			}
		}
	}
}

// Handler returns the HTTP handler for testing.
func (s *Server) Handler() http.Handler {
	return s.mux
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		s.log.Warn().Err(err).Msg("json encode")
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, code, msg string) {
	s.writeJSON(w, status, errorBody{Error: msg, Code: code})
}

// writeStoreError maps a store failure onto its HTTP status.
func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	code := store.CodeOf(err)
	if code == "" {
		code = store.CodeIO
	}
	if code.HTTPStatus() >= http.StatusInternalServerError {
		s.log.Error().Err(err).Msg("store failure")
	}
	s.writeError(w, code.HTTPStatus(), string(code), err.Error())
}

// readJSON decodes a JSON request body into v.
func readJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return fmt.Errorf("empty request body")
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	return dec.Decode(v)
}
