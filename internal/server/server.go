// Package server exposes report processing and monitoring over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/credit-pipeline/internal/config"
	"github.com/sells-group/credit-pipeline/internal/model"
	"github.com/sells-group/credit-pipeline/internal/monitoring"
	"github.com/sells-group/credit-pipeline/internal/pipeline"
	"github.com/sells-group/credit-pipeline/internal/resilience"
)

// Processor runs one uploaded document. *pipeline.Pipeline implements it.
type Processor interface {
	Process(ctx context.Context, req model.ProcessingRequest, data []byte) (*pipeline.Result, error)
	Reject(req model.ProcessingRequest, reason error)
}

// Pinger reports durable store health. store.Store implements it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options carries optional dependencies.
type Options struct {
	Store    Pinger
	Breakers *resilience.Breakers
	Gatherer prometheus.Gatherer
}

// Server is the HTTP surface of the pipeline.
type Server struct {
	cfg      config.ServerConfig
	upload   config.UploadConfig
	limit    int
	proc     Processor
	mon      *monitoring.Monitor
	opts     Options
	router   chi.Router
	shutdown time.Duration
}

// New builds the router. mon must not be nil.
func New(cfg *config.Config, proc Processor, mon *monitoring.Monitor, opts Options) *Server {
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		cfg:      cfg.Server,
		upload:   cfg.Upload,
		limit:    cfg.Pipeline.MaxConcurrent,
		proc:     proc,
		mon:      mon,
		opts:     opts,
		shutdown: 15 * time.Second,
	}
	s.router = s.routes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if s.limit > 0 {
				r.Use(middleware.Throttle(s.limit))
			}
			r.Post("/reports", s.handleProcess)
		})
		r.Route("/monitoring", func(r chi.Router) {
			r.Get("/metrics", s.handleMetrics)
			r.Get("/export", s.handleExport)
			r.Get("/alerts", s.handleAlerts)
			r.Post("/alerts/acknowledge", s.handleAcknowledge)
		})
	})
	return r
}

// ListenAndServe serves until ctx is canceled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	port := s.cfg.Port
	if port == 0 {
		port = 8080
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("server: listening", zap.Int("port", port))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return eris.Wrap(err, "server: listen")
	case <-ctx.Done():
	}

	zap.L().Info("server: shutting down")
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdown)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return eris.Wrap(err, "server: shutdown")
	}
	return nil
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
