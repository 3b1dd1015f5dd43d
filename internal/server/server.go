package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/joseph-ayodele/invoice-dispatch/internal/async"
	"github.com/joseph-ayodele/invoice-dispatch/internal/common"
	"github.com/joseph-ayodele/invoice-dispatch/internal/export"
	"github.com/joseph-ayodele/invoice-dispatch/internal/pipeline"
	"github.com/joseph-ayodele/invoice-dispatch/internal/repository"
)

// Sessions is the orchestrator surface the HTTP layer drives.
type Sessions interface {
	Upload(ctx context.Context, companyID string, doc pipeline.Document) (pipeline.Snapshot, error)
	Current(companyID string) pipeline.Snapshot
	SelectEntry(ctx context.Context, companyID string, index int) (pipeline.Snapshot, error)
	UpdateDraft(ctx context.Context, companyID string, patch pipeline.DraftPatch) (pipeline.Snapshot, error)
	Confirm(ctx context.Context, companyID string, allowDuplicate bool) (pipeline.Snapshot, error)
	Cancel(ctx context.Context, companyID string) (pipeline.Snapshot, error)
}

type Deps struct {
	Sessions   Sessions
	Dispatches repository.DispatchRepository
	Stock      repository.StockRepository
	Counters   repository.CounterRepository
	Products   repository.ProductRepository
	Export     *export.Service
	Jobs       async.Queue
	Gatherer   prometheus.Gatherer
	// Ping reports database health for /healthz; nil skips the check.
	Ping func(ctx context.Context) error
}

type Server struct {
	deps   Deps
	cfg    common.ServerConfig
	logger *slog.Logger
}

func New(deps Deps, cfg common.ServerConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 20 << 20
	}
	return &Server{deps: deps, cfg: cfg, logger: logger}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"Location", "X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealth)
	if s.deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1/companies/{companyID}", func(r chi.Router) {
		r.Use(withCompany)
		r.Route("/session", func(r chi.Router) {
			r.Post("/", s.handleUpload)
			r.Get("/", s.handleGetSession)
			r.Delete("/", s.handleCancel)
			r.Post("/select", s.handleSelect)
			r.Patch("/draft", s.handleUpdateDraft)
			r.Post("/confirm", s.handleConfirm)
		})
		r.Get("/products", s.handleListProducts)
		r.Get("/dispatches", s.handleListDispatches)
		r.Get("/stock", s.handleListStock)
		r.Get("/stock/{productID}", s.handleGetStock)
		r.Post("/stock/{productID}/recompute", s.handleRecompute)
		r.Get("/counter", s.handleGetCounter)
		r.Get("/export.xlsx", s.handleExport)
	})
	r.Get("/v1/jobs/{jobID}", s.handleGetJob)
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rid := middleware.GetReqID(r.Context())
		ctx := common.WithRequestID(r.Context(), rid)
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		s.logger.Info("http.request",
			"request_id", rid,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
	})
}

// withCompany tags the request context with the company from the path.
func withCompany(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := common.WithCompanyID(r.Context(), companyID(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ping != nil {
		if err := s.deps.Ping(r.Context()); err != nil {
			s.logger.Error("http.health.db_failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
