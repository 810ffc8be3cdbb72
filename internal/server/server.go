// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package server exposes the review engine over HTTP: a JSON API over the
// pool, exemplars, workflow and generation jobs, and a server-sent event
// stream of state changes.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/pdiddy/review-engine/internal/events"
	"github.com/pdiddy/review-engine/internal/llm"
	"github.com/pdiddy/review-engine/internal/observability"
	"github.com/pdiddy/review-engine/internal/pipeline"
	"github.com/pdiddy/review-engine/internal/pool"
	"github.com/pdiddy/review-engine/internal/store"
	"github.com/pdiddy/review-engine/pkg/types"
)

// ModelServer is the part of llm.Client the API reads.
type ModelServer interface {
	Models(ctx context.Context) ([]llm.Model, error)
	Health(ctx context.Context) error
}

// Store holds saved prompts and the job journal. *store.Store implements
// it.
type Store interface {
	SavePrompt(ctx context.Context, p types.SavedPrompt) (types.SavedPrompt, error)
	LoadPrompt(ctx context.Context, name string) (types.SavedPrompt, error)
	ListPrompts(ctx context.Context) ([]types.SavedPrompt, error)
	DeletePrompt(ctx context.Context, name string) error
	LoadJob(ctx context.Context, id string) (types.GenerationJob, error)
	ListJobs(ctx context.Context, f store.JobFilter) ([]types.GenerationJob, error)
}

// Deps are the collaborators the handlers drive. Store, Metrics and Token
// are optional.
type Deps struct {
	Orchestrator *pipeline.Orchestrator
	Pool         *pool.Pool
	Exemplars    *pool.Exemplars
	Models       ModelServer
	Bus          *events.Bus
	Store        Store
	Metrics      *observability.Metrics
	Export       types.ExportConfig

	// Token, when set, is required as a bearer token on /api routes.
	Token string

	// MaxUploadBytes bounds one multipart upload request.
	MaxUploadBytes int64

	Logger zerolog.Logger
}

// Server is the HTTP API server.
type Server struct {
	d          Deps
	router     chi.Router
	httpServer *http.Server
	logger     zerolog.Logger
}

// New builds the router and the http.Server for cfg.
func New(cfg types.ServerConfig, d Deps) *Server {
	if d.MaxUploadBytes <= 0 {
		d.MaxUploadBytes = 1 << 30
	}
	s := &Server{
		d:      d,
		logger: d.Logger.With().Str("component", "http-server").Logger(),
	}
	s.router = s.buildRouter()
	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.healthHandler)
	r.Get("/readyz", s.readinessHandler)
	if s.d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.d.Metrics.Registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		if s.d.Token != "" {
			r.Use(bearerAuth(s.d.Token))
		}

		r.Get("/events", s.streamEvents)

		r.Route("/pool", func(r chi.Router) {
			r.Get("/", s.getPool)
			r.Post("/", s.uploadLiterature)
			r.Delete("/", s.clearPool)
			r.Get("/{id}", s.getLiterature)
			r.Delete("/{id}", s.removeLiterature)
		})
		r.Route("/exemplars", func(r chi.Router) {
			r.Get("/", s.listExemplars)
			r.Post("/", s.uploadExemplars)
			r.Delete("/", s.clearExemplars)
			r.Delete("/{id}", s.removeExemplar)
		})

		r.Get("/models", s.listModels)
		r.Post("/models/select", s.selectModel)
		r.Get("/topic", s.getTopic)
		r.Post("/topic", s.setTopic)
		r.Post("/paradigm", s.setParadigm)
		r.Delete("/history", s.clearHistory)
		r.Get("/session", s.getSession)
		r.Post("/reset", s.reset)

		r.Get("/steps", s.getSteps)
		r.Post("/steps/complete", s.completeStep)
		r.Get("/citations", s.getCitations)

		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.startJob)
			r.Get("/", s.listJobs)
			r.Get("/current", s.currentJob)
			r.Delete("/current", s.cancelJob)
			r.Get("/{id}", s.getJob)
		})

		r.Post("/export", s.exportReview)
		r.Get("/exports", s.listExports)
		r.Get("/exports/{name}", s.downloadExport)

		r.Route("/prompts", func(r chi.Router) {
			r.Get("/", s.listPrompts)
			r.Post("/", s.savePrompt)
			r.Get("/{name}", s.getPrompt)
			r.Delete("/{name}", s.deletePrompt)
		})
	})
	return r
}

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on HTTP address: %w", err)
	}
	s.logger.Info().Str("address", ln.Addr().String()).Msg("HTTP server starting")
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones. Event
// streams end when the bus closes.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readinessHandler reports whether the model server answers.
func (s *Server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := s.d.Models.Health(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":       "not_ready",
			"model_server": "unreachable",
			"error":        err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready", "model_server": "ok"})
}
