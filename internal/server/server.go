// Package server exposes the roleplay console over HTTP.
//
// The API has three groups of routes:
//
//   - /api/analyze and /api/token, the endpoints the browser console calls
//     directly for coaching reports and media access tokens.
//   - /api/session..., /api/history... and /api/catalog, the presentation
//     API over the session lifecycle manager, including a WebSocket feed of
//     live session events.
//   - /healthz and /readyz for liveness and readiness probes.
//
// Errors are JSON objects of the form {"error": "..."}.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/MrWong99/roleplay/internal/analysis"
	"github.com/MrWong99/roleplay/internal/observe"
	"github.com/MrWong99/roleplay/internal/session"
	"github.com/MrWong99/roleplay/internal/token"
)

// maxBodyBytes caps request bodies. A long transcript is well below this.
const maxBodyBytes = 1 << 20

// Analyzer produces coaching reports for POST /api/analyze.
type Analyzer interface {
	Analyze(ctx context.Context, req analysis.Request) (*analysis.Result, error)
}

// TokenIssuer mints media access tokens for POST /api/token.
type TokenIssuer interface {
	Issue(room, participant string) (token.Grant, error)
}

// Config holds the dependencies of a [Server].
type Config struct {
	// Manager drives the session API. Required.
	Manager *session.Manager

	// Analyzer serves /api/analyze. Nil answers every request with 500.
	Analyzer Analyzer

	// Tokens serves /api/token. Nil answers every request with 500.
	Tokens TokenIssuer

	Metrics *observe.Metrics

	// PublicURL is the console's external URL. When set, WebSocket upgrades
	// are accepted from its host in addition to same-origin requests.
	PublicURL string

	// Checkers are evaluated by /readyz.
	Checkers []Checker

	// EventBuffer is the per-subscriber buffer of the live event feed.
	EventBuffer int
}

// Server serves the HTTP API. Create it with [New].
type Server struct {
	manager  *session.Manager
	analyzer Analyzer
	tokens   TokenIssuer
	metrics  *observe.Metrics
	origins  []string
	health   *Health
	buffer   int
}

// New returns a Server for cfg.
func New(cfg Config) (*Server, error) {
	if cfg.Manager == nil {
		return nil, errors.New("server: a session manager is required")
	}
	s := &Server{
		manager:  cfg.Manager,
		analyzer: cfg.Analyzer,
		tokens:   cfg.Tokens,
		metrics:  cfg.Metrics,
		health:   NewHealth(cfg.Checkers...),
		buffer:   cfg.EventBuffer,
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.buffer <= 0 {
		s.buffer = 64
	}
	if cfg.PublicURL != "" {
		u, err := url.Parse(cfg.PublicURL)
		if err != nil || u.Host == "" {
			return nil, fmt.Errorf("server: invalid public url %q", cfg.PublicURL)
		}
		s.origins = []string{u.Host}
	}
	return s, nil
}

// Register adds every route to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/analyze", s.handleAnalyze)
	mux.HandleFunc("POST /api/token", s.handleToken)

	mux.HandleFunc("GET /api/catalog", s.handleCatalog)
	mux.HandleFunc("GET /api/rubric", s.handleRubric)

	mux.HandleFunc("POST /api/session", s.handleStart)
	mux.HandleFunc("GET /api/session", s.handleView)
	mux.HandleFunc("POST /api/session/connect", s.handleConnect)
	mux.HandleFunc("POST /api/session/disconnect", s.handleDisconnect)
	mux.HandleFunc("POST /api/session/utterances", s.handleAppend)
	mux.HandleFunc("POST /api/session/end", s.handleEnd)
	mux.HandleFunc("POST /api/session/reset", s.handleReset)
	mux.HandleFunc("GET /api/session/events", s.handleEvents)

	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("GET /api/history/{id}", s.handleHistoryEntry)
	mux.HandleFunc("GET /api/history/{id}/transcript", s.handleTranscript)

	s.health.Register(mux)
}

// Handler returns the routes wrapped in the observability middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	return observe.Middleware(s.metrics)(mux)
}

type errorBody struct {
	Error string `json:"error"`
}

// writeJSON encodes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("server: encode response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// decodeJSON reads a JSON body into v. An empty body leaves v untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
