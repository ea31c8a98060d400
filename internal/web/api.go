package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
)

func (s *Server) jsonResponse(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func (s *Server) errorResponse(w http.ResponseWriter, err error, status int) {
	http.Error(w, err.Error(), status)
}

func (s *Server) badRequest(w http.ResponseWriter, err error) {
	s.errorResponse(w, err, http.StatusBadRequest)
}

func (s *Server) notFound(w http.ResponseWriter, what string) {
	s.errorResponse(w, fmt.Errorf("%s not found", what), http.StatusNotFound)
}

func (s *Server) serverError(w http.ResponseWriter, err error) {
	if s.Log != nil {
		s.Log.WithError(err).Error("request failed")
	}
	s.errorResponse(w, err, http.StatusInternalServerError)
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id")
	}
	return id, nil
}

func parseInt(value string, fallback int) int {
	val, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || val <= 0 {
		return fallback
	}
	return val
}
