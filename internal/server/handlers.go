package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/contrail-search/contrail/internal/models"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req models.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		s.respondError(w, http.StatusBadRequest, "query cannot be empty")
		return
	}
	s.logger.Debug("search request", zap.String("query", req.Query), zap.Int("top_k", req.TopK))
	response, err := s.engine.Search(r.Context(), &req)
	if err != nil {
		if errors.Is(err, models.ErrInvalidRequest) {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("search failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"stats":   s.engine.Stats(),
	})
}

// handleImage serves image files by the relative path stored in the index
// metadata. Paths escaping the photos directory are rejected.
func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	rel := chi.URLParam(r, "*")
	if rel == "" {
		s.respondError(w, http.StatusBadRequest, "image path is required")
		return
	}
	clean := filepath.Clean("/" + rel)
	full := filepath.Join(s.photosDir, clean)
	if !strings.HasPrefix(full, filepath.Clean(s.photosDir)+string(os.PathSeparator)) {
		s.respondError(w, http.StatusBadRequest, "invalid image path")
		return
	}
	info, err := os.Stat(full)
	if err != nil || info.IsDir() {
		s.respondError(w, http.StatusNotFound, "image not found")
		return
	}
	http.ServeFile(w, r, full)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, models.ErrorResponse{Success: false, Message: message})
}
