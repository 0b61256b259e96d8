// Package api exposes the operational HTTP interface for the extractor.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/shopharvest/crawler/internal/engine"
)

// ReportProvider returns the current run report snapshot.
type ReportProvider func() engine.RunReport

// Server serves health, metrics, and the live run report.
type Server struct {
	router chi.Router
	report ReportProvider
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(report ReportProvider, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{report: report, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/report", s.getReport)

	s.router = r
	return s
}

// Handler returns the configured router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) getReport(w http.ResponseWriter, _ *http.Request) {
	rep := s.report()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(rep); err != nil {
		s.logger.Warn("report encode failed", zap.Error(err))
	}
}
