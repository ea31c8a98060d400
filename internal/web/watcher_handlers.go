package web

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/NeoRed-domo/qualys2human/internal/db"
)

type watchPathResponse struct {
	ID           int64   `json:"id"`
	Path         string  `json:"path"`
	Pattern      string  `json:"pattern"`
	Recursive    bool    `json:"recursive"`
	Enabled      bool    `json:"enabled"`
	IgnoreBefore *string `json:"ignore_before"`
}

func mapWatchPath(wp db.WatchPath) watchPathResponse {
	return watchPathResponse{
		ID:           wp.ID,
		Path:         wp.Path,
		Pattern:      wp.Pattern,
		Recursive:    wp.Recursive,
		Enabled:      wp.Enabled,
		IgnoreBefore: formatNullTime(wp.IgnoreBefore),
	}
}

type watchPathRequest struct {
	Path         string  `json:"path"`
	Pattern      string  `json:"pattern"`
	Recursive    bool    `json:"recursive"`
	Enabled      *bool   `json:"enabled"`
	IgnoreBefore *string `json:"ignore_before"`
}

func (req watchPathRequest) toModel() (db.WatchPath, error) {
	if strings.TrimSpace(req.Path) == "" {
		return db.WatchPath{}, fmt.Errorf("path is required")
	}
	wp := db.WatchPath{
		Path:      req.Path,
		Pattern:   req.Pattern,
		Recursive: req.Recursive,
		Enabled:   true,
	}
	if wp.Pattern == "" {
		wp.Pattern = "*.csv"
	}
	if req.Enabled != nil {
		wp.Enabled = *req.Enabled
	}
	if req.IgnoreBefore != nil {
		cutoff, err := time.Parse(time.RFC3339, *req.IgnoreBefore)
		if err != nil {
			return db.WatchPath{}, fmt.Errorf("invalid ignore_before: %w", err)
		}
		wp.IgnoreBefore = sql.NullTime{Time: cutoff.UTC(), Valid: true}
	}
	return wp, nil
}

func (s *Server) apiWatcherStatus(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, s.Watcher.Status(), http.StatusOK)
}

func (s *Server) apiListWatchPaths(w http.ResponseWriter, r *http.Request) {
	paths, err := s.DB.ListWatchPaths()
	if err != nil {
		s.serverError(w, err)
		return
	}
	resp := make([]watchPathResponse, 0, len(paths))
	for _, wp := range paths {
		resp = append(resp, mapWatchPath(wp))
	}
	s.jsonResponse(w, resp, http.StatusOK)
}

func (s *Server) apiCreateWatchPath(w http.ResponseWriter, r *http.Request) {
	var req watchPathRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, err)
		return
	}
	wp, err := req.toModel()
	if err != nil {
		s.badRequest(w, err)
		return
	}

	created, err := s.DB.CreateWatchPath(wp)
	if err != nil {
		s.serverError(w, err)
		return
	}
	s.jsonResponse(w, mapWatchPath(created), http.StatusCreated)
}

func (s *Server) apiUpdateWatchPath(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	var req watchPathRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, err)
		return
	}
	wp, err := req.toModel()
	if err != nil {
		s.badRequest(w, err)
		return
	}
	wp.ID = id

	if err := s.DB.UpdateWatchPath(wp); err != nil {
		if err == sql.ErrNoRows {
			s.notFound(w, "watch path")
			return
		}
		s.serverError(w, err)
		return
	}
	s.jsonResponse(w, mapWatchPath(wp), http.StatusOK)
}

func (s *Server) apiDeleteWatchPath(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	if err := s.DB.DeleteWatchPath(id); err != nil {
		if err == sql.ErrNoRows {
			s.notFound(w, "watch path")
			return
		}
		s.serverError(w, err)
		return
	}
	s.jsonResponse(w, map[string]string{"status": "deleted"}, http.StatusOK)
}
