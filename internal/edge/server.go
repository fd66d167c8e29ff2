package edge

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/canopyrun/canopy/internal/logging"
)

// Server is the edge HTTP surface: the apps proxy, the /api passthrough to
// the control plane, and the in-process metrics views.
type Server struct {
	proxy     *Proxy
	collector *Collector
	log       *logging.Logger
	mux       *http.ServeMux
}

// NewServer assembles the edge routes. orchestratorURL is the control plane
// that receives /api/* unchanged.
func NewServer(proxy *Proxy, collector *Collector, orchestratorURL string, log *logging.Logger) (*Server, error) {
	target, err := url.Parse(orchestratorURL)
	if err != nil {
		return nil, fmt.Errorf("parse orchestrator url: %w", err)
	}

	s := &Server{proxy: proxy, collector: collector, log: log, mux: http.NewServeMux()}
	s.mux.Handle("/apps/{app_hostname}", proxy)
	s.mux.Handle("/apps/{app_hostname}/{tail...}", proxy)
	s.mux.Handle("/api/", httputil.NewSingleHostReverseProxy(target))
	s.mux.HandleFunc("GET /internal/metrics", s.handleMetrics)
	s.mux.HandleFunc("POST /internal/metrics/reset", s.handleReset)
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return s, nil
}

// Handler returns the root handler for the edge.
func (s *Server) Handler() http.Handler { return s.mux }

// handleMetrics serves the collector views. Without a filter it returns the
// global aggregates; ?user=, ?hostname=, or ?container= narrow the view.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	switch {
	case q.Get("user") != "":
		view, ok := s.collector.ByUser(q.Get("user"))
		if !ok {
			http.Error(w, "unknown user", http.StatusNotFound)
			return
		}
		writeJSON(w, view)
	case q.Get("hostname") != "":
		stats, ok := s.collector.ByHostname(q.Get("hostname"))
		if !ok {
			http.Error(w, "unknown hostname", http.StatusNotFound)
			return
		}
		writeJSON(w, stats)
	case q.Get("container") != "":
		stats, ok := s.collector.ByContainer(q.Get("container"))
		if !ok {
			http.Error(w, "unknown container", http.StatusNotFound)
			return
		}
		writeJSON(w, stats)
	default:
		writeJSON(w, s.collector.Global())
	}
}

func (s *Server) handleReset(w http.ResponseWriter, _ *http.Request) {
	s.collector.Reset()
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
