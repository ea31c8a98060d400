package web

import "net/http"

func (s *Server) apiTriggerReclassify(w http.ResponseWriter, r *http.Request) {
	started, message := s.Reclassifier.Trigger()
	if !started {
		s.jsonResponse(w, map[string]string{"detail": message}, http.StatusConflict)
		return
	}
	s.jsonResponse(w, map[string]string{"status": "started"}, http.StatusAccepted)
}

func (s *Server) apiReclassifyStatus(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, s.Reclassifier.Status(), http.StatusOK)
}
