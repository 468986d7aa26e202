package server

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/roleplay/internal/observe"
	"github.com/MrWong99/roleplay/internal/session"
)

// writeTimeout bounds a single frame write to a feed subscriber.
const writeTimeout = 5 * time.Second

// kindView is the type of the snapshot frame sent when a feed opens.
const kindView = "view"

type viewFrame struct {
	Kind string       `json:"type"`
	Time time.Time    `json:"time"`
	Data session.View `json:"data"`
}

// handleEvents handles GET /api/session/events. It upgrades to a WebSocket,
// sends a view snapshot and then streams every session event as a JSON
// text frame until either side goes away.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	log := observe.Logger(r.Context())

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		log.Debug("events: websocket accept", "err", err)
		return
	}
	defer c.CloseNow()

	// Subscribe before taking the snapshot so no event falls between them.
	events, cancel := s.manager.Subscribe(s.buffer)
	defer cancel()

	// The feed is write-only. CloseRead handles control frames and cancels
	// ctx when the client closes.
	ctx := c.CloseRead(r.Context())

	if err := writeFrame(ctx, c, viewFrame{Kind: kindView, Time: time.Now(), Data: s.manager.View()}); err != nil {
		log.Debug("events: write snapshot", "err", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				_ = c.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			if err := writeFrame(ctx, c, ev); err != nil {
				log.Debug("events: write", "err", err, "type", ev.Kind)
				return
			}
		}
	}
}

func writeFrame(ctx context.Context, c *websocket.Conn, v any) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, c, v)
}
