package billing

import (
	"encoding/json"
	"net/http"

	"github.com/canopyrun/canopy/internal/logging"
)

// Server exposes the usage summary API:
//
//	GET /v1/usage/{user}         → all images for the user
//	GET /v1/usage/{user}/{image} → one image with per-container intervals
type Server struct {
	ledger *Ledger
	log    *logging.Logger
	mux    *http.ServeMux
}

// NewServer creates the HTTP surface over the ledger.
func NewServer(l *Ledger, log *logging.Logger) *Server {
	s := &Server{ledger: l, log: log, mux: http.NewServeMux()}
	s.mux.HandleFunc("GET /v1/usage/{user}", s.handleAllImages)
	s.mux.HandleFunc("GET /v1/usage/{user}/{image}", s.handleByImage)
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return s
}

// Handler returns the root handler for the billing API.
func (s *Server) Handler() http.Handler { return s.mux }

type usageResponse struct {
	UserID string         `json:"user_id"`
	Images []ImageSummary `json:"images"`
}

func (s *Server) handleAllImages(w http.ResponseWriter, r *http.Request) {
	user := r.PathValue("user")
	summaries, err := s.ledger.SummaryAllImages(user)
	if err != nil {
		s.log.Error("usage summary failed", "user_id", user, "error", err)
		http.Error(w, "summary failed", http.StatusInternalServerError)
		return
	}
	if summaries == nil {
		summaries = []ImageSummary{}
	}
	writeJSON(w, http.StatusOK, usageResponse{UserID: user, Images: summaries})
}

func (s *Server) handleByImage(w http.ResponseWriter, r *http.Request) {
	user, image := r.PathValue("user"), r.PathValue("image")
	summary, err := s.ledger.SummaryByImage(user, image)
	if err != nil {
		s.log.Error("usage summary failed", "user_id", user, "image_id", image, "error", err)
		http.Error(w, "summary failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
