// Package server exposes the worker's small operational HTTP surface:
// health, scheduler status and a manual sweep trigger. The manual trigger
// goes through the same guarded entry point as the timer, so it is equally
// subject to the overlap guard.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"token-refresher/internal/common/logging"
	"token-refresher/internal/connections"
	"token-refresher/internal/sweeper"
)

// Server wraps the operational HTTP endpoints.
type Server struct {
	sweeper  *sweeper.Sweeper
	store    connections.Store
	schedule string
	logger   logging.Logger
	httpSrv  *http.Server
}

// New creates the operational server listening on the given port. The
// schedule string is only reported on the status endpoint.
func New(port, schedule string, sw *sweeper.Sweeper, store connections.Store, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	s := &Server{
		sweeper:  sw,
		store:    store,
		schedule: schedule,
		logger:   logger.WithFields(logging.Field{Key: "component", Value: "server"}),
	}

	router := mux.NewRouter()
	router.HandleFunc("/health", s.handleHealth).Methods("GET")
	router.HandleFunc("/api/status", s.handleStatus).Methods("GET")
	router.HandleFunc("/api/refresh", s.handleRefresh).Methods("POST")

	s.httpSrv = &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s
}

// Handler returns the HTTP handler, used in tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// ListenAndServe starts serving. It blocks until the server shuts down.
func (s *Server) ListenAndServe() error {
	s.logger.Info("Operational server listening",
		logging.Field{Key: "addr", Value: s.httpSrv.Addr},
	)
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK

	if err := s.store.Health(); err != nil {
		status = "store unavailable"
		code = http.StatusServiceUnavailable
		s.logger.Warn("Health check failed",
			logging.Field{Key: "error", Value: err.Error()},
		)
	}

	writeJSON(w, code, map[string]interface{}{
		"status":          status,
		"sweeper_running": s.sweeper.Running(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"running":      s.sweeper.Running(),
		"state":        s.sweeper.State(),
		"schedule":     s.schedule,
		"last_summary": s.sweeper.LastSummary(),
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if !s.sweeper.RunManualRefresh() {
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"error": "a sweep is already in progress",
		})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"status": "sweep started",
	})
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
