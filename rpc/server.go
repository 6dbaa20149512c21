package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"gridmarket/core/market"
	"gridmarket/observability/eventlog"
	mw "gridmarket/rpc/middleware"
)

// AdminScope is the token scope required by administrative commands.
const AdminScope = "market:admin"

// Route keys used for rate limiting and request metrics.
const (
	RouteCommands = "commands"
	RouteAdmin    = "admin"
	RouteQueries  = "queries"
)

type ServerConfig struct {
	ListenAddress string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	Auth          mw.AuthConfig
	RateLimits    map[string]mw.RateLimit
	CORS          mw.CORSConfig
	LogRequests   bool
}

// Server exposes the market engine over HTTP.
type Server struct {
	cfg     ServerConfig
	engine  *market.Engine
	journal *eventlog.Journal
	logger  *slog.Logger
	auth    *mw.Authenticator
	limiter *mw.RateLimiter
	obs     *mw.Observability
	router  chi.Router
}

// NewServer builds the router. journal may be nil, in which case the events
// endpoint answers 404.
func NewServer(cfg ServerConfig, engine *market.Engine, journal *eventlog.Journal, logger *slog.Logger) (*Server, error) {
	if engine == nil {
		return nil, fmt.Errorf("rpc: engine required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:     cfg,
		engine:  engine,
		journal: journal,
		logger:  logger,
		auth:    mw.NewAuthenticator(cfg.Auth, logger),
		limiter: mw.NewRateLimiter(cfg.RateLimits),
		obs:     mw.NewObservability(mw.ObservabilityConfig{ServiceName: "marketd", LogRequests: cfg.LogRequests}, logger),
	}
	s.limiter.OnThrottle(s.obs.RecordThrottle)
	if !s.auth.Enabled() {
		logger.Warn("rpc: authentication disabled; callers are taken from the " + mw.HeaderCaller + " header")
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(mw.RequestIDMiddleware)
	r.Use(mw.CORS(s.cfg.CORS))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "tick": s.engine.CurrentTick()})
	})
	r.Handle("/metrics", s.obs.MetricsHandler())

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(s.obs.Middleware(RouteCommands))
			r.Use(s.limiter.Middleware(RouteCommands))
			r.Use(s.auth.Middleware())
			r.Post("/commands/{name}", s.handleCommand)
		})
		r.Group(func(r chi.Router) {
			r.Use(s.obs.Middleware(RouteAdmin))
			r.Use(s.limiter.Middleware(RouteAdmin))
			r.Use(s.auth.Middleware(AdminScope))
			r.Post("/admin/{name}", s.handleAdmin)
		})
		r.Group(func(r chi.Router) {
			r.Use(s.obs.Middleware(RouteQueries))
			r.Use(s.limiter.Middleware(RouteQueries))
			s.mountQueries(r)
		})
	})
	return r
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Serve listens on the configured address until ctx is cancelled, then shuts
// down gracefully. wrap, when non-nil, decorates the root handler.
func (s *Server) Serve(ctx context.Context, wrap func(http.Handler) http.Handler) error {
	handler := s.Handler()
	if wrap != nil {
		handler = wrap(handler)
	}
	srv := &http.Server{
		Addr:              s.cfg.ListenAddress,
		Handler:           handler,
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      s.cfg.WriteTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("rpc: listening", "address", s.cfg.ListenAddress)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("rpc: shutdown: %w", err)
		}
		return nil
	}
}
