package api

import (
	"encoding/json"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/marginalia/quill/go/ot"
)

// servePost handles a PostConnection: one request envelope in, one
// response envelope out, no pushes.
func (s *Server) servePost(w http.ResponseWriter, r *http.Request) {
	if ok, reason := s.admit(); !ok {
		http.Error(w, reason, http.StatusServiceUnavailable)
		return
	}

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeResponse(w, errResponse("", ot.BadValuef("malformed request envelope: %v", err)))
		return
	}
	writeResponse(w, s.dispatcher.Dispatch(r.Context(), req, nil))
}

func writeResponse(w http.ResponseWriter, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.WithField("err", err).Warn("failed to write response envelope")
	}
}
