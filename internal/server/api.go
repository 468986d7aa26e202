package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/MrWong99/roleplay/internal/analysis"
	"github.com/MrWong99/roleplay/internal/observe"
	"github.com/MrWong99/roleplay/internal/token"
	"github.com/MrWong99/roleplay/pkg/types"
)

// Error messages of the console endpoints. The browser client displays them
// verbatim.
const (
	msgTranscriptRequired = "Transcript is required and must be an array"
	msgParseFailed        = "Failed to parse analysis response"
	msgAnalyzeFailed      = "Failed to analyze conversation"
	msgTokenFields        = "Room name and participant name are required"
	msgTokenConfig        = "LiveKit configuration missing"
	msgTokenFailed        = "Failed to generate token"
)

type analyzeRequest struct {
	Transcript json.RawMessage `json:"transcript"`
	Scenario   string          `json:"scenario"`
	ClientType string          `json:"clientType"`
}

// handleAnalyze handles POST /api/analyze.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	log := observe.Logger(r.Context())

	var body analyzeRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, msgTranscriptRequired)
		return
	}
	raw := bytes.TrimSpace(body.Transcript)
	if len(raw) == 0 || raw[0] != '[' {
		writeError(w, http.StatusBadRequest, msgTranscriptRequired)
		return
	}
	var transcript []types.Utterance
	if err := json.Unmarshal(raw, &transcript); err != nil {
		writeError(w, http.StatusBadRequest, msgTranscriptRequired)
		return
	}

	if s.analyzer == nil {
		log.Error("analyze: no analyzer configured")
		writeError(w, http.StatusInternalServerError, msgAnalyzeFailed)
		return
	}
	res, err := s.analyzer.Analyze(r.Context(), analysis.Request{
		Transcript: transcript,
		Scenario:   body.Scenario,
		ClientType: body.ClientType,
	})
	switch {
	case errors.Is(err, analysis.ErrUnparseable):
		log.Error("analyze: parse model reply", "err", err)
		writeError(w, http.StatusInternalServerError, msgParseFailed)
		return
	case err != nil:
		log.Error("analyze: conversation", "err", err)
		writeError(w, http.StatusInternalServerError, msgAnalyzeFailed)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type tokenRequest struct {
	RoomName        string `json:"roomName"`
	ParticipantName string `json:"participantName"`
}

// handleToken handles POST /api/token.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	var body tokenRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, msgTokenFields)
		return
	}
	if body.RoomName == "" || body.ParticipantName == "" {
		writeError(w, http.StatusBadRequest, msgTokenFields)
		return
	}
	if s.tokens == nil {
		writeError(w, http.StatusInternalServerError, msgTokenConfig)
		return
	}

	grant, err := s.tokens.Issue(body.RoomName, body.ParticipantName)
	s.metrics.RecordTokenIssued(r.Context(), err)
	switch {
	case errors.Is(err, token.ErrMissingField):
		writeError(w, http.StatusBadRequest, msgTokenFields)
		return
	case errors.Is(err, token.ErrNotConfigured):
		writeError(w, http.StatusInternalServerError, msgTokenConfig)
		return
	case err != nil:
		observe.Logger(r.Context()).Error("token: issue", "err", err)
		writeError(w, http.StatusInternalServerError, msgTokenFailed)
		return
	}
	writeJSON(w, http.StatusOK, grant)
}
