package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/MrWong99/roleplay/internal/catalog"
	"github.com/MrWong99/roleplay/internal/observe"
	"github.com/MrWong99/roleplay/internal/scoring"
	"github.com/MrWong99/roleplay/internal/session"
	"github.com/MrWong99/roleplay/internal/token"
	"github.com/MrWong99/roleplay/pkg/types"
)

// statusFor maps a session error to an HTTP status code.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, catalog.ErrScenarioRequired),
		errors.Is(err, catalog.ErrUnknownScenario),
		errors.Is(err, catalog.ErrUnknownClientType):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type catalogResponse struct {
	Scenarios   []catalog.Scenario   `json:"scenarios"`
	ClientTypes []catalog.ClientType `json:"clientTypes"`
}

// handleCatalog handles GET /api/catalog.
func (s *Server) handleCatalog(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, catalogResponse{
		Scenarios:   catalog.Scenarios,
		ClientTypes: catalog.ClientTypes,
	})
}

// handleRubric handles GET /api/rubric.
func (s *Server) handleRubric(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, scoring.Metrics)
}

// handleStart handles POST /api/session.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req session.SetupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if _, err := s.manager.Start(r.Context(), req); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, s.manager.View())
}

// handleView handles GET /api/session.
func (s *Server) handleView(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.View())
}

// handleConnect handles POST /api/session/connect. A failed dial leaves the
// session active and answers 502.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	err := s.manager.Connect(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, s.manager.View())
	case errors.Is(err, session.ErrInvalidTransition),
		errors.Is(err, session.ErrNoChannel),
		errors.Is(err, token.ErrNotConfigured),
		errors.Is(err, token.ErrMissingField):
		writeError(w, statusFor(err), err.Error())
	default:
		observe.Logger(r.Context()).Warn("connect: dial failed", "err", err)
		writeError(w, http.StatusBadGateway, fmt.Sprintf("connect failed: %v", err))
	}
}

// handleDisconnect handles POST /api/session/disconnect.
func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Disconnect(r.Context()); err != nil {
		observe.Logger(r.Context()).Warn("disconnect", "err", err)
	}
	writeJSON(w, http.StatusOK, s.manager.View())
}

// handleAppend handles POST /api/session/utterances. The body is a single
// utterance.
func (s *Server) handleAppend(w http.ResponseWriter, r *http.Request) {
	var u types.Utterance
	if err := decodeJSON(w, r, &u); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.manager.Append(r.Context(), u); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, session.ErrInvalidTransition) {
			status = http.StatusConflict
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.manager.View())
}

// handleEnd handles POST /api/session/end. The deep analysis continues in
// the background; its outcome arrives on the event feed.
func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	if _, err := s.manager.End(r.Context()); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.manager.View())
}

// handleReset handles POST /api/session/reset.
func (s *Server) handleReset(w http.ResponseWriter, _ *http.Request) {
	if err := s.manager.Reset(); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.manager.View())
}
