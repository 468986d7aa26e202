package server

import (
	"fmt"
	"net/http"

	"github.com/MrWong99/roleplay/internal/session"
)

type historyResponse struct {
	Entries []*session.Session `json:"entries"`
	Summary session.Summary    `json:"summary"`
}

// historyEntry is a stored session with its results report.
type historyEntry struct {
	*session.Session
	Results session.Results `json:"results"`
}

// handleHistory handles GET /api/history, newest first.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.manager.Repository().List(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if entries == nil {
		entries = []*session.Session{}
	}
	writeJSON(w, http.StatusOK, historyResponse{
		Entries: entries,
		Summary: session.Summarize(entries),
	})
}

// handleHistoryEntry handles GET /api/history/{id}.
func (s *Server) handleHistoryEntry(w http.ResponseWriter, r *http.Request) {
	sess, err := s.manager.Repository().Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, historyEntry{Session: sess, Results: sess.Results()})
}

// handleTranscript handles GET /api/history/{id}/transcript as a text
// download.
func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, err := s.manager.Repository().Get(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", session.TranscriptFilename(sess.ID)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(sess.Transcript.Text()))
}
