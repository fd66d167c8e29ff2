package balancer

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/canopyrun/canopy/internal/hostname"
	"github.com/canopyrun/canopy/internal/logging"
	"github.com/canopyrun/canopy/internal/metrics"
)

// Server exposes the balancer's route API:
//
//	GET /v1/route/{hostname} → RoutingInfo | {"error": kind, "message": ...}
type Server struct {
	balancer *Balancer
	watcher  *Watcher
	log      *logging.Logger
	mux      *http.ServeMux
}

// NewServer creates the HTTP surface over the balancer. watcher may be nil
// (tests); when set, every routed hostname gets a background watch loop.
func NewServer(b *Balancer, w *Watcher, log *logging.Logger) *Server {
	s := &Server{balancer: b, watcher: w, log: log, mux: http.NewServeMux()}
	s.mux.HandleFunc("GET /v1/route/{hostname}", s.handleRoute)
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return s
}

// Handler returns the root handler for the balancer API.
func (s *Server) Handler() http.Handler { return s.mux }

type routeError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	app, err := hostname.Normalize(r.PathValue("hostname"))
	if err != nil {
		metrics.RouteRequests.WithLabelValues("invalid-input").Inc()
		writeJSON(w, http.StatusBadRequest, routeError{Error: "invalid-input", Message: "empty app hostname"})
		return
	}

	info, err := s.balancer.Route(r.Context(), app)
	if err != nil {
		kind := Kind(err)
		metrics.RouteRequests.WithLabelValues(kind).Inc()
		writeJSON(w, statusFor(err), routeError{Error: kind, Message: err.Error()})
		return
	}

	if s.watcher != nil {
		// Keep the fallback snapshot warm for every hostname we serve.
		s.watcher.Ensure(app)
	}
	metrics.RouteRequests.WithLabelValues("ok").Inc()
	writeJSON(w, http.StatusOK, info)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrNoCapacity), errors.Is(err, ErrUnavailable), errors.Is(err, ErrCircuitOpen):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrTimeout):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
