package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/NeoRed-domo/qualys2human/internal/classify"
	"github.com/NeoRed-domo/qualys2human/internal/db"
	"github.com/NeoRed-domo/qualys2human/internal/importer"
	"github.com/NeoRed-domo/qualys2human/internal/watcher"
)

// Server wires the JSON API handlers and dependencies.
type Server struct {
	DB           *db.DB
	Importer     *importer.Importer
	Reclassifier *classify.Reclassifier
	Watcher      *watcher.Watcher
	Log          *logrus.Entry
	Router       chi.Router
}

// NewServer constructs the router and registers routes.
func NewServer(database *db.DB, imp *importer.Importer, rec *classify.Reclassifier, w *watcher.Watcher, log *logrus.Entry) *Server {
	server := &Server{DB: database, Importer: imp, Reclassifier: rec, Watcher: w, Log: log}

	r := chi.NewRouter()
	r.Get("/health", server.handleHealth)

	r.Post("/api/imports/upload", server.apiUploadImport)
	r.Get("/api/imports", server.apiListImports)
	r.Get("/api/imports/{id}", server.apiGetImport)

	r.Post("/api/reclassify", server.apiTriggerReclassify)
	r.Get("/api/reclassify/status", server.apiReclassifyStatus)

	r.Get("/api/watcher/status", server.apiWatcherStatus)
	r.Get("/api/watcher/paths", server.apiListWatchPaths)
	r.Post("/api/watcher/paths", server.apiCreateWatchPath)
	r.Put("/api/watcher/paths/{id}", server.apiUpdateWatchPath)
	r.Delete("/api/watcher/paths/{id}", server.apiDeleteWatchPath)

	r.Get("/api/layers", server.apiListLayers)
	r.Post("/api/layers", server.apiCreateLayer)
	r.Put("/api/layers/{id}", server.apiUpdateLayer)
	r.Delete("/api/layers/{id}", server.apiDeleteLayer)
	r.Get("/api/layers/{id}/rules", server.apiListLayerRules)
	r.Post("/api/layers/{id}/rules", server.apiCreateLayerRule)
	r.Put("/api/rules/{id}", server.apiUpdateLayerRule)
	r.Delete("/api/rules/{id}", server.apiDeleteLayerRule)

	r.Get("/api/settings/freshness", server.apiFreshnessSettings)

	server.Router = r
	return server
}

// Handler exposes the configured router.
func (s *Server) Handler() http.Handler {
	return s.Router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, map[string]string{"status": "ok"}, http.StatusOK)
}

func (s *Server) apiFreshnessSettings(w http.ResponseWriter, r *http.Request) {
	stale, hide, err := s.DB.FreshnessThresholds()
	if err != nil {
		s.serverError(w, err)
		return
	}
	s.jsonResponse(w, map[string]int{
		"freshness_stale_days": stale,
		"freshness_hide_days":  hide,
	}, http.StatusOK)
}
