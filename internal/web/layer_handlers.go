package web

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/NeoRed-domo/qualys2human/internal/db"
)

type layerResponse struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Color    string `json:"color"`
	Position int    `json:"position"`
}

type ruleResponse struct {
	ID         int64  `json:"id"`
	LayerID    int64  `json:"layer_id"`
	MatchField string `json:"match_field"`
	Pattern    string `json:"pattern"`
	Priority   int    `json:"priority"`
}

func mapLayer(l db.Layer) layerResponse {
	return layerResponse{ID: l.ID, Name: l.Name, Color: l.Color, Position: l.Position}
}

func mapRule(r db.LayerRule) ruleResponse {
	return ruleResponse{ID: r.ID, LayerID: r.LayerID, MatchField: r.MatchField, Pattern: r.Pattern, Priority: r.Priority}
}

func validMatchField(field string) bool {
	return field == db.MatchTitle || field == db.MatchCategory
}

func (s *Server) apiListLayers(w http.ResponseWriter, r *http.Request) {
	layers, err := s.DB.ListLayers()
	if err != nil {
		s.serverError(w, err)
		return
	}
	resp := make([]layerResponse, 0, len(layers))
	for _, l := range layers {
		resp = append(resp, mapLayer(l))
	}
	s.jsonResponse(w, resp, http.StatusOK)
}

func (s *Server) apiCreateLayer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		Color    string `json:"color"`
		Position int    `json:"position"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, err)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		s.badRequest(w, fmt.Errorf("layer name is required"))
		return
	}

	layer, err := s.DB.CreateLayer(db.Layer{Name: req.Name, Color: req.Color, Position: req.Position})
	if err != nil {
		s.serverError(w, err)
		return
	}
	s.Reclassifier.MarkDirty()
	s.jsonResponse(w, mapLayer(layer), http.StatusCreated)
}

func (s *Server) apiUpdateLayer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	var req struct {
		Name     string `json:"name"`
		Color    string `json:"color"`
		Position int    `json:"position"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, err)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		s.badRequest(w, fmt.Errorf("layer name is required"))
		return
	}

	layer := db.Layer{ID: id, Name: req.Name, Color: req.Color, Position: req.Position}
	if err := s.DB.UpdateLayer(layer); err != nil {
		if err == sql.ErrNoRows {
			s.notFound(w, "layer")
			return
		}
		s.serverError(w, err)
		return
	}
	s.Reclassifier.MarkDirty()
	s.jsonResponse(w, mapLayer(layer), http.StatusOK)
}

func (s *Server) apiDeleteLayer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	if err := s.DB.DeleteLayer(id); err != nil {
		if err == sql.ErrNoRows {
			s.notFound(w, "layer")
			return
		}
		s.serverError(w, err)
		return
	}
	// Findings that pointed at the layer are unclassified now.
	if err := s.DB.RefreshLatestFindings(); err != nil {
		s.serverError(w, err)
		return
	}
	s.Reclassifier.MarkDirty()
	s.jsonResponse(w, map[string]string{"status": "deleted"}, http.StatusOK)
}

func (s *Server) apiListLayerRules(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	if _, ok, err := s.DB.GetLayer(id); err != nil {
		s.serverError(w, err)
		return
	} else if !ok {
		s.notFound(w, "layer")
		return
	}

	rules, err := s.DB.ListLayerRules(id)
	if err != nil {
		s.serverError(w, err)
		return
	}
	resp := make([]ruleResponse, 0, len(rules))
	for _, rule := range rules {
		resp = append(resp, mapRule(rule))
	}
	s.jsonResponse(w, resp, http.StatusOK)
}

func (s *Server) apiCreateLayerRule(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	if _, ok, err := s.DB.GetLayer(id); err != nil {
		s.serverError(w, err)
		return
	} else if !ok {
		s.notFound(w, "layer")
		return
	}

	var req struct {
		MatchField string `json:"match_field"`
		Pattern    string `json:"pattern"`
		Priority   int    `json:"priority"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, err)
		return
	}
	if !validMatchField(req.MatchField) {
		s.badRequest(w, fmt.Errorf("invalid match_field %q", req.MatchField))
		return
	}
	if strings.TrimSpace(req.Pattern) == "" {
		s.badRequest(w, fmt.Errorf("pattern is required"))
		return
	}

	rule, err := s.DB.CreateLayerRule(db.LayerRule{
		LayerID:    id,
		MatchField: req.MatchField,
		Pattern:    req.Pattern,
		Priority:   req.Priority,
	})
	if err != nil {
		s.serverError(w, err)
		return
	}
	s.Reclassifier.MarkDirty()
	s.jsonResponse(w, mapRule(rule), http.StatusCreated)
}

func (s *Server) apiUpdateLayerRule(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	existing, ok, err := s.DB.GetLayerRule(id)
	if err != nil {
		s.serverError(w, err)
		return
	}
	if !ok {
		s.notFound(w, "rule")
		return
	}

	var req struct {
		MatchField string `json:"match_field"`
		Pattern    string `json:"pattern"`
		Priority   int    `json:"priority"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, err)
		return
	}
	if !validMatchField(req.MatchField) {
		s.badRequest(w, fmt.Errorf("invalid match_field %q", req.MatchField))
		return
	}
	if strings.TrimSpace(req.Pattern) == "" {
		s.badRequest(w, fmt.Errorf("pattern is required"))
		return
	}

	rule := db.LayerRule{
		ID:         id,
		LayerID:    existing.LayerID,
		MatchField: req.MatchField,
		Pattern:    req.Pattern,
		Priority:   req.Priority,
	}
	if err := s.DB.UpdateLayerRule(rule); err != nil {
		if err == sql.ErrNoRows {
			s.notFound(w, "rule")
			return
		}
		s.serverError(w, err)
		return
	}
	s.Reclassifier.MarkDirty()
	s.jsonResponse(w, mapRule(rule), http.StatusOK)
}

func (s *Server) apiDeleteLayerRule(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	if err := s.DB.DeleteLayerRule(id); err != nil {
		if err == sql.ErrNoRows {
			s.notFound(w, "rule")
			return
		}
		s.serverError(w, err)
		return
	}
	s.Reclassifier.MarkDirty()
	s.jsonResponse(w, map[string]string{"status": "deleted"}, http.StatusOK)
}
