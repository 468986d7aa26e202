package server_test

import (
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/roleplay/internal/session"
)

type viewBody struct {
	Phase     session.Phase    `json:"phase"`
	Session   *session.Session `json:"session"`
	Connected bool             `json:"connected"`
	Tips      []string         `json:"tips"`
	Analysis  string           `json:"analysis"`
	Results   *session.Results `json:"results"`
}

func TestSession_Lifecycle(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fixtureOpts{})

	rec := f.do(t, http.MethodGet, "/api/session", "")
	if v := decode[viewBody](t, rec); v.Phase != session.PhaseSetup || v.Session != nil {
		t.Fatalf("initial view = %+v", v)
	}

	rec = f.do(t, http.MethodPost, "/api/session", `{"scenarioId":"luxury-client","clientTypeId":"time-pressed"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("start status = %d, body %s", rec.Code, rec.Body)
	}
	v := decode[viewBody](t, rec)
	if v.Phase != session.PhaseActive || v.Session.Scenario != "Luxury Client" || v.Session.ClientType != "Time-Pressed" {
		t.Fatalf("started view = %+v", v)
	}
	id := v.Session.ID

	rec = f.do(t, http.MethodPost, "/api/session/utterances", `{"speaker":"agent","text":"This premium home is a great investment"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("append status = %d, body %s", rec.Code, rec.Body)
	}
	v = decode[viewBody](t, rec)
	if len(v.Session.Transcript) != 1 || v.Session.Scores.Upselling != 5 {
		t.Errorf("after append: transcript %d, scores %+v", len(v.Session.Transcript), v.Session.Scores)
	}
	if v.Session.Transcript[0].Timestamp == 0 {
		t.Error("append did not stamp the utterance")
	}
	f.do(t, http.MethodPost, "/api/session/utterances", `{"speaker":"client","text":"Tell me more"}`)

	rec = f.do(t, http.MethodPost, "/api/session/end", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("end status = %d, body %s", rec.Code, rec.Body)
	}
	v = decode[viewBody](t, rec)
	if v.Phase != session.PhaseEnded || v.Results == nil || v.Results.TraineeTurns != 1 || v.Results.ClientTurns != 1 {
		t.Errorf("ended view = %+v", v)
	}

	rec = f.do(t, http.MethodGet, "/api/history", "")
	hist := decode[struct {
		Entries []*session.Session `json:"entries"`
		Summary session.Summary    `json:"summary"`
	}](t, rec)
	if len(hist.Entries) != 1 || hist.Entries[0].ID != id {
		t.Fatalf("history = %+v", hist.Entries)
	}
	if hist.Summary.Count != 1 || hist.Summary.AverageOverall != hist.Entries[0].Scores.Overall {
		t.Errorf("summary = %+v", hist.Summary)
	}

	rec = f.do(t, http.MethodGet, "/api/history/"+id, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("history entry status = %d", rec.Code)
	}
	entry := decode[struct {
		ID      string          `json:"id"`
		Results session.Results `json:"results"`
	}](t, rec)
	if entry.ID != id || entry.Results.PerformanceLevel == "" || len(entry.Results.Metrics) != 5 {
		t.Errorf("entry = %+v", entry)
	}

	rec = f.do(t, http.MethodGet, "/api/history/"+id+"/transcript", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("transcript status = %d", rec.Code)
	}
	if got, want := rec.Header().Get("Content-Disposition"), `attachment; filename="roleplay-transcript-`+id+`.txt"`; got != want {
		t.Errorf("Content-Disposition = %q, want %q", got, want)
	}
	if got, want := rec.Body.String(), "AGENT: This premium home is a great investment\nCLIENT: Tell me more"; got != want {
		t.Errorf("transcript = %q, want %q", got, want)
	}

	rec = f.do(t, http.MethodPost, "/api/session/reset", "")
	if v := decode[viewBody](t, rec); rec.Code != http.StatusOK || v.Phase != session.PhaseSetup {
		t.Errorf("reset: status %d, view %+v", rec.Code, v)
	}
}

func TestSession_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		setup      []string
		method     string
		path       string
		body       string
		wantStatus int
	}{
		{name: "start without scenario", method: http.MethodPost, path: "/api/session", body: `{}`, wantStatus: http.StatusBadRequest},
		{name: "start with blank custom scenario", method: http.MethodPost, path: "/api/session", body: `{"customScenario":"   "}`, wantStatus: http.StatusBadRequest},
		{name: "start unknown scenario", method: http.MethodPost, path: "/api/session", body: `{"scenarioId":"castle"}`, wantStatus: http.StatusBadRequest},
		{name: "start unknown client type", method: http.MethodPost, path: "/api/session", body: `{"scenarioId":"fsbo-client","clientTypeId":"grumpy"}`, wantStatus: http.StatusBadRequest},
		{name: "start invalid json", method: http.MethodPost, path: "/api/session", body: `{`, wantStatus: http.StatusBadRequest},
		{name: "double start", setup: []string{"start"}, method: http.MethodPost, path: "/api/session", body: `{"scenarioId":"fsbo-client"}`, wantStatus: http.StatusConflict},
		{name: "append in setup", method: http.MethodPost, path: "/api/session/utterances", body: `{"speaker":"agent","text":"hi"}`, wantStatus: http.StatusConflict},
		{name: "append unknown speaker", setup: []string{"start"}, method: http.MethodPost, path: "/api/session/utterances", body: `{"speaker":"narrator","text":"hi"}`, wantStatus: http.StatusBadRequest},
		{name: "append empty text", setup: []string{"start"}, method: http.MethodPost, path: "/api/session/utterances", body: `{"speaker":"agent"}`, wantStatus: http.StatusBadRequest},
		{name: "append after end", setup: []string{"start", "end"}, method: http.MethodPost, path: "/api/session/utterances", body: `{"speaker":"agent","text":"hi"}`, wantStatus: http.StatusConflict},
		{name: "end in setup", method: http.MethodPost, path: "/api/session/end", wantStatus: http.StatusConflict},
		{name: "end twice", setup: []string{"start", "end"}, method: http.MethodPost, path: "/api/session/end", wantStatus: http.StatusConflict},
		{name: "reset while active", setup: []string{"start"}, method: http.MethodPost, path: "/api/session/reset", wantStatus: http.StatusConflict},
		{name: "connect in setup", method: http.MethodPost, path: "/api/session/connect", wantStatus: http.StatusConflict},
		{name: "unknown history entry", method: http.MethodGet, path: "/api/history/nope", wantStatus: http.StatusNotFound},
		{name: "unknown history transcript", method: http.MethodGet, path: "/api/history/nope/transcript", wantStatus: http.StatusNotFound},
	}
	steps := map[string]struct{ path, body string }{
		"start": {"/api/session", `{"customScenario":"Open house walkthrough"}`},
		"end":   {"/api/session/end", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, fixtureOpts{})
			for _, s := range tc.setup {
				if rec := f.do(t, http.MethodPost, steps[s].path, steps[s].body); rec.Code >= 300 {
					t.Fatalf("setup %s: status %d, body %s", s, rec.Code, rec.Body)
				}
			}
			rec := f.do(t, tc.method, tc.path, tc.body)
			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tc.wantStatus, rec.Body)
			}
			if errorOf(t, rec) == "" {
				t.Error("error message is empty")
			}
		})
	}
}

func TestSession_Connect(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fixtureOpts{})
	f.do(t, http.MethodPost, "/api/session", `{"scenarioId":"first-time-buyer"}`)

	f.dialer.DialErr = errors.New("media service unreachable")
	rec := f.do(t, http.MethodPost, "/api/session/connect", "")
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("failed connect status = %d, want 502", rec.Code)
	}
	if !strings.Contains(errorOf(t, rec), "media service unreachable") {
		t.Error("error does not carry dial failure")
	}
	if v := decode[viewBody](t, f.do(t, http.MethodGet, "/api/session", "")); v.Phase != session.PhaseActive || v.Connected {
		t.Fatalf("after failed connect: %+v", v)
	}

	f.dialer.DialErr = nil
	rec = f.do(t, http.MethodPost, "/api/session/connect", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("connect status = %d, body %s", rec.Code, rec.Body)
	}
	if v := decode[viewBody](t, rec); !v.Connected {
		t.Error("view not connected after connect")
	}
	calls := f.dialer.Calls
	if len(calls) != 2 || calls[1].URL != "wss://media.test" || !strings.HasPrefix(calls[1].Credential, "jwt-roleplay-") {
		t.Errorf("dial calls = %+v", calls)
	}

	rec = f.do(t, http.MethodPost, "/api/session/disconnect", "")
	if v := decode[viewBody](t, rec); rec.Code != http.StatusOK || v.Connected {
		t.Errorf("disconnect: status %d, view %+v", rec.Code, v)
	}
	if !f.dialer.LastConn().Closed() {
		t.Error("connection not closed after disconnect")
	}
}

func TestSession_ConnectWithoutChannel(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fixtureOpts{noChannel: true})
	f.do(t, http.MethodPost, "/api/session", `{"scenarioId":"first-time-buyer"}`)
	rec := f.do(t, http.MethodPost, "/api/session/connect", "")
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestSession_AnalysisReachesView(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fixtureOpts{})
	f.do(t, http.MethodPost, "/api/session", `{"scenarioId":"investor-client"}`)
	f.do(t, http.MethodPost, "/api/session/utterances", `{"speaker":"agent","text":"Hello"}`)
	f.do(t, http.MethodPost, "/api/session/end", "")

	deadline := time.Now().Add(2 * time.Second)
	for {
		v := decode[viewBody](t, f.do(t, http.MethodGet, "/api/session", ""))
		if v.Analysis == string(session.AnalysisComplete) {
			if len(v.Session.Feedback.Strengths) != 1 {
				t.Errorf("feedback = %+v", v.Session.Feedback)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("analysis status = %q, want complete", v.Analysis)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
