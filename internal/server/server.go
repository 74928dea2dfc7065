package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"stockwatch/internal/advisor"
	"stockwatch/internal/alertlog"
	"stockwatch/internal/quotes"
	"stockwatch/internal/scanner"
	"stockwatch/internal/watchlist"
)

// ScanRunner is the slice of the scan engine the API needs.
type ScanRunner interface {
	Run(ctx context.Context, trigger scanner.Trigger) (scanner.Summary, error)
	Running() bool
	LastSummary() (scanner.Summary, bool)
}

// Options carries server wiring.
type Options struct {
	Listen       string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	StatusWindow time.Duration
}

// Server is the HTTP API surface.
type Server struct {
	router    *chi.Mux
	server    *http.Server
	log       zerolog.Logger
	watchlist watchlist.Store
	alerts    alertlog.Store
	engine    ScanRunner
	opinions  scanner.OpinionSource
	configs   advisor.ConfigStore
	quotes    quotes.Gateway
	opts      Options
}

// New assembles the router and its handlers. opinions and configs may be nil
// when AI is disabled; the related endpoints then answer 503.
func New(
	opts Options,
	wl watchlist.Store,
	alerts alertlog.Store,
	engine ScanRunner,
	opinions scanner.OpinionSource,
	configs advisor.ConfigStore,
	quoteGateway quotes.Gateway,
	logger zerolog.Logger,
) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		log:       logger.With().Str("component", "server").Logger(),
		watchlist: wl,
		alerts:    alerts,
		engine:    engine,
		opinions:  opinions,
		configs:   configs,
		quotes:    quoteGateway,
		opts:      opts,
	}

	s.setupMiddleware()
	s.setupRoutes()

	readTimeout := opts.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 15 * time.Second
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 120 * time.Second
	}

	s.server = &http.Server{
		Addr:         opts.Listen,
		Handler:      s.router,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		// 扫描时长由每次外呼的超时约束, 不套统一请求超时。
		r.Post("/scan", s.handleScan)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(120 * time.Second))

			r.Post("/analyze", s.handleAnalyze)

			r.Route("/alerts", func(r chi.Router) {
				r.Get("/", s.handleListAlerts)
				r.Get("/status", s.handleAlertStatus)
			})

			r.Route("/watchlist", func(r chi.Router) {
				r.Get("/", s.handleListWatchlist)
				r.Post("/", s.handleAddWatch)
				r.Put("/{code}", s.handleUpdateThresholds)
				r.Delete("/{code}", s.handleRemoveWatch)
			})

			r.Route("/providers", func(r chi.Router) {
				r.Get("/", s.handleListProviders)
				r.Put("/{id}", s.handleUpsertProvider)
			})

			r.Route("/settings", func(r chi.Router) {
				r.Get("/", s.handleGetSettings)
				r.Put("/", s.handleUpsertSettings)
			})
		})
	})
}

// Handler exposes the router, mainly for handler tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start blocks serving HTTP until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.log.Info().Str("listen", s.opts.Listen).Msg("HTTP 服务启动")
	return s.server.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("HTTP 服务关闭")
	return s.server.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
