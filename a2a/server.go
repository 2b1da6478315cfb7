package a2a

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2asrv"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hupe1980/auditmesh/core"
	"github.com/hupe1980/auditmesh/logging"
	"github.com/hupe1980/auditmesh/metrics"
	"github.com/hupe1980/auditmesh/runner"
)

// LegacyAgentCardPath is the card location used by older A2A peers.
const LegacyAgentCardPath = "/.well-known/agent.json"

// ServerOptions configures a Server.
type ServerOptions struct {
	// PublicURL is advertised in the agent card.
	PublicURL string
	Version   string
	Streaming bool
	Metrics   *metrics.Metrics
	Logger    logging.Logger
	// TaskStore replaces the in-memory task store of a2asrv.
	TaskStore         a2asrv.TaskStore
	ShutdownTimeout   time.Duration
	ReadHeaderTimeout time.Duration
}

// Server exposes one agent over A2A JSON-RPC:
//
//	GET  /.well-known/agent-card.json  agent card
//	POST /                             JSON-RPC
//	GET  /healthz                      liveness
//	GET  /metrics                      Prometheus metrics
type Server struct {
	card    *a2a.AgentCard
	handler http.Handler
	opts    ServerOptions
}

// NewServer builds the router for the root agent of r.
func NewServer(r *runner.Runner, optFns ...func(o *ServerOptions)) *Server {
	opts := ServerOptions{
		PublicURL:         "http://localhost:8080",
		Version:           "1.0.0",
		Streaming:         true,
		Logger:            logging.NoOpLogger{},
		ShutdownTimeout:   10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	card := BuildAgentCard(r.Agent(), opts.PublicURL, opts.Version, opts.Streaming)

	var handlerOpts []a2asrv.RequestHandlerOption
	if opts.TaskStore != nil {
		handlerOpts = append(handlerOpts, a2asrv.WithTaskStore(opts.TaskStore))
	}

	requestHandler := a2asrv.NewHandler(NewExecutor(r, opts.Logger), handlerOpts...)
	cardHandler := a2asrv.NewStaticAgentCardHandler(card)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(requestLogger(opts.Logger))

	router.Method(http.MethodGet, a2asrv.WellKnownAgentCardPath, cardHandler)
	router.Method(http.MethodGet, LegacyAgentCardPath, cardHandler)
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "agent": card.Name, "active_runs": r.ActiveRuns()})
	})

	if opts.Metrics != nil {
		router.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}

	router.Method(http.MethodPost, "/", a2asrv.NewJSONRPCHandler(requestHandler))

	return &Server{card: card, handler: router, opts: opts}
}

// Card returns the advertised agent card.
func (s *Server) Card() *a2a.AgentCard { return s.card }

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: s.opts.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.opts.Logger.Info("a2a.server.listen", "addr", addr, "agent", s.card.Name, "url", s.card.URL)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("a2a server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()

	s.opts.Logger.Info("a2a.server.shutdown", "agent", s.card.Name)

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("a2a server shutdown: %w", err)
	}

	return nil
}

// BuildAgentCard describes a as an A2A agent reachable at url. Each sub
// agent is advertised as a skill.
func BuildAgentCard(a core.Agent, url, version string, streaming bool) *a2a.AgentCard {
	skills := []a2a.AgentSkill{{
		ID:          a.Name(),
		Name:        a.Name(),
		Description: a.Description(),
		Tags:        []string{"audit"},
	}}

	for _, child := range a.SubAgents() {
		skills = append(skills, a2a.AgentSkill{
			ID:          a.Name() + "." + child.Name(),
			Name:        child.Name(),
			Description: child.Description(),
			Tags:        []string{"stage"},
		})
	}

	return &a2a.AgentCard{
		Name:               a.Name(),
		Description:        a.Description(),
		URL:                url,
		Version:            version,
		ProtocolVersion:    "0.3.0",
		DefaultInputModes:  []string{"text/plain"},
		DefaultOutputModes: []string{"text/plain"},
		Skills:             skills,
		Capabilities: a2a.AgentCapabilities{
			Streaming: streaming,
		},
		PreferredTransport: a2a.TransportProtocolJSONRPC,
		Provider: &a2a.AgentProvider{
			Org: "auditmesh",
			URL: "https://github.com/hupe1980/auditmesh",
		},
	}
}

func requestLogger(logger logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Debug("http.request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
