package relay_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/roleplay/pkg/channel"
	"github.com/MrWong99/roleplay/pkg/channel/relay"
	"github.com/MrWong99/roleplay/pkg/types"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startFeed launches a WebSocket server playing the media service's event
// feed. The server is closed when the test finishes.
func startFeed(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("writeJSON: %v (may be expected on close)", err)
	}
}

func nextEvent(t *testing.T, c channel.Conn) channel.Event {
	t.Helper()
	select {
	case ev, ok := <-c.Events():
		if !ok {
			t.Fatal("events channel closed")
		}
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return channel.Event{}
}

// ── Tests ─────────────────────────────────────────────────────────────────────

func TestDial_SendsBearerCredential(t *testing.T) {
	t.Parallel()

	auth := make(chan string, 1)
	srv := startFeed(t, func(conn *websocket.Conn, r *http.Request) {
		auth <- r.Header.Get("Authorization")
		<-conn.CloseRead(context.Background()).Done()
	})

	c, err := relay.New().Dial(context.Background(), wsURL(srv), "tok-123")
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	defer c.Disconnect(context.Background())

	select {
	case got := <-auth:
		if got != "Bearer tok-123" {
			t.Errorf("Authorization = %q, want %q", got, "Bearer tok-123")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server never saw the handshake")
	}
}

func TestDial_EmptyURL(t *testing.T) {
	t.Parallel()

	if _, err := relay.New().Dial(context.Background(), "", "tok"); err == nil {
		t.Fatal("expected error for empty url")
	}
}

func TestDial_Unreachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, err := relay.New().Dial(ctx, wsURL(srv), "tok"); err == nil {
		t.Fatal("expected error dialling a closed server")
	}
}

func TestConn_DeliversEventsInOrder(t *testing.T) {
	t.Parallel()

	srv := startFeed(t, func(conn *websocket.Conn, _ *http.Request) {
		writeJSON(t, conn, map[string]any{"type": "participant_joined", "participant": "client-bot"})
		writeJSON(t, conn, map[string]any{"type": "track_received", "participant": "client-bot"})
		writeJSON(t, conn, map[string]any{"type": "mystery"})
		writeJSON(t, conn, map[string]any{"type": "transcription", "speaker": "client", "text": "Hi there", "confidence": 0.9, "timestamp": 1718000000000})
		writeJSON(t, conn, map[string]any{"type": "transcription", "speaker": "agent", "text": "Welcome!"})
		<-conn.CloseRead(context.Background()).Done()
	})

	c, err := relay.New().Dial(context.Background(), wsURL(srv), "tok")
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	defer c.Disconnect(context.Background())

	if ev := nextEvent(t, c); ev.Type != channel.EventConnected {
		t.Fatalf("first event = %v, want connected", ev.Type)
	}
	if ev := nextEvent(t, c); ev.Type != channel.EventParticipantJoined || ev.Participant != "client-bot" {
		t.Errorf("event = %+v, want participant_joined from client-bot", ev)
	}
	if ev := nextEvent(t, c); ev.Type != channel.EventTrackReceived {
		t.Errorf("event = %v, want track_received", ev.Type)
	}

	ev := nextEvent(t, c)
	if ev.Type != channel.EventTranscription {
		t.Fatalf("event = %v, want transcription", ev.Type)
	}
	u := ev.Utterance
	if u.Speaker != types.SpeakerClient || u.Text != "Hi there" || u.Timestamp != 1718000000000 {
		t.Errorf("utterance = %+v", u)
	}
	if u.Confidence == nil || *u.Confidence != 0.9 {
		t.Errorf("confidence = %v, want 0.9", u.Confidence)
	}

	ev = nextEvent(t, c)
	if ev.Utterance.Speaker != types.SpeakerTrainee || ev.Utterance.Timestamp == 0 {
		t.Errorf("utterance = %+v, want trainee with stamped timestamp", ev.Utterance)
	}
}

func TestConn_DisconnectClosesEvents(t *testing.T) {
	t.Parallel()

	srv := startFeed(t, func(conn *websocket.Conn, _ *http.Request) {
		<-conn.CloseRead(context.Background()).Done()
	})

	c, err := relay.New().Dial(context.Background(), wsURL(srv), "tok")
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	nextEvent(t, c) // connected

	if err := c.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect() error: %v", err)
	}
	// Closed immediately after Disconnect returns, without a disconnected event.
	select {
	case ev, ok := <-c.Events():
		if ok {
			t.Fatalf("unexpected event after Disconnect: %+v", ev)
		}
	default:
		t.Fatal("events channel still open after Disconnect")
	}

	if err := c.Disconnect(context.Background()); err != nil {
		t.Errorf("second Disconnect() error: %v", err)
	}
}

func TestConn_RemoteCloseEmitsDisconnected(t *testing.T) {
	t.Parallel()

	srv := startFeed(t, func(conn *websocket.Conn, _ *http.Request) {
		conn.Close(websocket.StatusGoingAway, "room closed")
	})

	c, err := relay.New().Dial(context.Background(), wsURL(srv), "tok")
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	defer c.Disconnect(context.Background())

	nextEvent(t, c) // connected
	if ev := nextEvent(t, c); ev.Type != channel.EventDisconnected {
		t.Fatalf("event = %v, want disconnected", ev.Type)
	}
	select {
	case _, ok := <-c.Events():
		if ok {
			t.Fatal("expected events channel to close after remote drop")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("events channel not closed after remote drop")
	}
}
