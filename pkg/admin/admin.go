// pkg/admin/admin.go

// Package admin serves the operator HTTP surface: health, Prometheus
// metrics, engine stats and a manual flush trigger.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/imReese/NexusMem/pkg/storage"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const contentTypeJSON = "application/json"

// Triggerer requests an asynchronous flush.
type Triggerer interface {
	Trigger()
}

type statusResponse struct {
	Status string `json:"status"`
}

type Server struct {
	engine     storage.Engine
	flusher    Triggerer
	logger     *zap.Logger
	httpServer *http.Server
}

func NewServer(engine storage.Engine, flusher Triggerer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{engine: engine, flusher: flusher, logger: logger}
	s.httpServer = &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: time.Second,
	}
	return s
}

// Router builds the chi router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/stats", s.handleStats)
	r.Post("/flush", s.handleFlush)

	return r
}

// Serve accepts connections on lis until Shutdown.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("Starting admin HTTP server", zap.String("address", lis.Addr().String()))
	if err := s.httpServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("Error encoding response", zap.Error(err))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if s.engine.Closed() {
		s.writeJSON(w, http.StatusServiceUnavailable, statusResponse{Status: "closed"})
		return
	}
	s.writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.Stats())
}

func (s *Server) handleFlush(w http.ResponseWriter, _ *http.Request) {
	if s.engine.Closed() {
		s.writeJSON(w, http.StatusServiceUnavailable, statusResponse{Status: "closed"})
		return
	}
	s.flusher.Trigger()
	s.writeJSON(w, http.StatusAccepted, statusResponse{Status: "flush requested"})
}
