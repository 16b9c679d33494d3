package server

import "net/http"

func (s *Server) handleCallCountByTag(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.CallCountByTag(r.Context())
	if err != nil {
		writeServerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(rows))
}

func (s *Server) handleEscalationByTag(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.EscalationByTag(r.Context())
	if err != nil {
		writeServerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(rows))
}
