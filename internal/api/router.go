package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"gitdelayed/internal/core"
	"gitdelayed/internal/store"
)

const shutdownTimeout = 5 * time.Second

// Options configures the HTTP server. Nil handlers leave their routes unmounted.
type Options struct {
	Addr      string
	AuthToken string
	Metrics   http.Handler
	MCP       http.Handler
}

// Server holds the HTTP server state.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	store      *store.Store
	service    *core.Service
	logger     *slog.Logger
	authToken  string
	done       chan struct{}
}

// NewServer constructs the HTTP API server.
func NewServer(store *store.Store, service *core.Service, logger *slog.Logger, opts Options) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	s := &Server{
		router:    router,
		store:     store,
		service:   service,
		logger:    logger.With("component", "api"),
		authToken: opts.AuthToken,
	}
	s.registerRoutes(opts)

	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler { return s.router }

// Start begins serving in the background. Listen failures are logged.
func (s *Server) Start(context.Context) {
	s.done = make(chan struct{})
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		s.logger.Error("http listen", "addr", s.httpServer.Addr, "err", err)
		close(s.done)
		return
	}
	s.logger.Info("http server listening", "addr", ln.Addr().String())
	go func() {
		defer close(s.done)
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server", "err", err)
		}
	}()
}

// Stop shuts the server down gracefully. The returned context is done once
// the server has exited.
func (s *Server) Stop() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		defer cancel()
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancelShutdown()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("http shutdown", "err", err)
		}
		if s.done != nil {
			<-s.done
		}
	}()
	return ctx
}

func (s *Server) registerRoutes(opts Options) {
	s.router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if opts.Metrics != nil {
		s.router.Handle("/metrics", opts.Metrics)
	}
	if opts.MCP != nil {
		var mcpHandler = opts.MCP
		if s.authToken != "" {
			mcpHandler = AuthMiddleware(s.authToken)(mcpHandler)
		}
		s.router.Handle("/mcp", mcpHandler)
	}

	s.router.Route("/v1", func(r chi.Router) {
		if s.authToken != "" {
			r.Use(AuthMiddleware(s.authToken))
		}

		r.Post("/time/preview", s.handleTimePreview)

		r.Route("/operations", func(r chi.Router) {
			r.Get("/", s.handleListOperations)
			r.Post("/", s.handleCreateOperation)

			r.Route("/{opID}", func(r chi.Router) {
				r.Get("/", s.handleGetOperation)
				r.Delete("/", s.handleCancelOperation)
				r.Get("/executions", s.handleListExecutions)
			})
		})
	})
}
