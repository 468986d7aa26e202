// Package relay implements [channel.Dialer] for the production media service.
//
// The service exposes a WebSocket event feed per room. The relay dials it
// with the session credential as a bearer token and decodes the JSON frames
// it receives into [channel.Event] values:
//
//	{"type":"transcription","participant":"client-bot","speaker":"client","text":"Hi!","confidence":0.93,"timestamp":1718000000000}
//	{"type":"participant_joined","participant":"client-bot"}
//
// Unknown frame types and malformed frames are skipped.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/roleplay/pkg/channel"
	"github.com/MrWong99/roleplay/pkg/types"
)

const (
	defaultEventBuffer = 64
	defaultReadLimit   = 64 << 10
)

// Dialer implements [channel.Dialer] over WebSocket.
type Dialer struct {
	httpClient  *http.Client
	eventBuffer int
	readLimit   int64
	now         func() time.Time
}

// Option is a functional option for [Dialer].
type Option func(*Dialer)

// WithHTTPClient sets the HTTP client used for the WebSocket handshake.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Dialer) { d.httpClient = c }
}

// WithEventBuffer sets the capacity of each connection's events channel.
func WithEventBuffer(n int) Option {
	return func(d *Dialer) {
		if n > 0 {
			d.eventBuffer = n
		}
	}
}

// WithReadLimit caps the size of a single inbound frame in bytes.
func WithReadLimit(n int64) Option {
	return func(d *Dialer) {
		if n > 0 {
			d.readLimit = n
		}
	}
}

// New returns a relay Dialer.
func New(opts ...Option) *Dialer {
	d := &Dialer{
		eventBuffer: defaultEventBuffer,
		readLimit:   defaultReadLimit,
		now:         time.Now,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Dial implements [channel.Dialer].
func (d *Dialer) Dial(ctx context.Context, url, credential string) (channel.Conn, error) {
	if url == "" {
		return nil, errors.New("relay: url must not be empty")
	}
	headers := http.Header{}
	if credential != "" {
		headers.Set("Authorization", "Bearer "+credential)
	}

	ws, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPClient: d.httpClient,
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("relay: dial %s: %w", url, err)
	}
	ws.SetReadLimit(d.readLimit)

	readCtx, cancel := context.WithCancel(context.Background())
	c := &conn{
		ws:     ws,
		events: make(chan channel.Event, d.eventBuffer),
		done:   make(chan struct{}),
		cancel: cancel,
		now:    d.now,
	}
	c.events <- channel.Event{Type: channel.EventConnected}

	c.wg.Add(1)
	go c.readLoop(readCtx)
	return c, nil
}

// conn is a live relay connection. It implements [channel.Conn].
type conn struct {
	ws     *websocket.Conn
	events chan channel.Event
	now    func() time.Time

	done   chan struct{}
	once   sync.Once
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Events implements [channel.Conn].
func (c *conn) Events() <-chan channel.Event { return c.events }

// Disconnect implements [channel.Conn]. It performs the close handshake and
// waits for the read loop to exit. Close handshake failures only mean the
// peer is already gone, so they are logged and not returned.
func (c *conn) Disconnect(_ context.Context) error {
	c.once.Do(func() {
		close(c.done)
		if err := c.ws.Close(websocket.StatusNormalClosure, "session ended"); err != nil {
			slog.Debug("relay: close handshake", "err", err)
		}
		c.cancel()
		c.wg.Wait()
	})
	return nil
}

// readLoop decodes inbound frames until the connection ends, then closes the
// events channel.
func (c *conn) readLoop(ctx context.Context) {
	defer c.wg.Done()
	defer close(c.events)

	for {
		_, msg, err := c.ws.Read(ctx)
		if err != nil {
			select {
			case <-c.done:
				// Local disconnect.
			default:
				slog.Warn("relay: connection dropped", "err", err)
				c.emit(channel.Event{Type: channel.EventDisconnected, Reason: err.Error()})
			}
			return
		}

		ev, ok := parseFrame(msg, c.now)
		if !ok {
			continue
		}
		if !c.emit(ev) {
			return
		}
	}
}

// emit delivers ev unless the connection is being torn down.
func (c *conn) emit(ev channel.Event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.done:
		return false
	}
}

// frame is the JSON shape of one inbound message.
type frame struct {
	Type        string        `json:"type"`
	Participant string        `json:"participant"`
	Speaker     types.Speaker `json:"speaker"`
	Text        string        `json:"text"`
	Confidence  *float64      `json:"confidence"`
	Timestamp   int64         `json:"timestamp"`
	Reason      string        `json:"reason"`
}

// parseFrame converts a raw frame into an event. It reports false for frames
// that should be ignored.
func parseFrame(data []byte, now func() time.Time) (channel.Event, bool) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return channel.Event{}, false
	}
	typ, ok := channel.ParseEventType(f.Type)
	if !ok {
		return channel.Event{}, false
	}

	ev := channel.Event{Type: typ, Participant: f.Participant, Reason: f.Reason}
	if typ == channel.EventTranscription {
		ts := f.Timestamp
		if ts == 0 {
			ts = now().UnixMilli()
		}
		ev.Utterance = types.Utterance{
			Speaker:    f.Speaker,
			Text:       f.Text,
			Timestamp:  ts,
			Confidence: f.Confidence,
		}
		if err := ev.Utterance.Validate(); err != nil {
			return channel.Event{}, false
		}
	}
	return ev, true
}

var _ channel.Dialer = (*Dialer)(nil)
