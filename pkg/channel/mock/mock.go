// Package mock provides in-memory implementations of [channel.Dialer] and
// [channel.Conn] for unit tests.
//
// Both mocks are safe for concurrent use. They record every call so tests can
// assert on counts and arguments, and expose fields that control results.
//
// Typical usage:
//
//	conn := mock.NewConn()
//	d := &mock.Dialer{Conn: conn}
//	// ... code under test dials d ...
//	conn.Emit(channel.Event{Type: channel.EventTranscription, Utterance: u})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/roleplay/pkg/channel"
)

// ─── Conn ─────────────────────────────────────────────────────────────────────

// Conn is a mock [channel.Conn]. Create it with [NewConn].
type Conn struct {
	mu     sync.Mutex
	events chan channel.Event
	closed bool

	// DisconnectErr is returned by [Conn.Disconnect].
	DisconnectErr error

	// CallCountDisconnect records how many times Disconnect was called.
	CallCountDisconnect int
}

// NewConn returns a Conn whose events channel buffers up to 64 events.
func NewConn() *Conn {
	return &Conn{events: make(chan channel.Event, 64)}
}

// Events implements [channel.Conn].
func (c *Conn) Events() <-chan channel.Event {
	return c.events
}

// Emit delivers ev on the events channel. It reports false, dropping ev, when
// the connection has already been closed.
func (c *Conn) Emit(ev channel.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.events <- ev
	return true
}

// Drop simulates the remote side going away: an [channel.EventDisconnected]
// is emitted and the events channel is closed.
func (c *Conn) Drop(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.events <- channel.Event{Type: channel.EventDisconnected, Reason: reason}
	c.closed = true
	close(c.events)
}

// Disconnect implements [channel.Conn]. The events channel is closed on the
// first call.
func (c *Conn) Disconnect(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountDisconnect++
	if !c.closed {
		c.closed = true
		close(c.events)
	}
	return c.DisconnectErr
}

// Closed reports whether the events channel has been closed.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// ─── Dialer ───────────────────────────────────────────────────────────────────

// DialCall records a single invocation of [Dialer.Dial].
type DialCall struct {
	URL        string
	Credential string
}

// Dialer is a mock [channel.Dialer].
type Dialer struct {
	mu sync.Mutex

	// Conn is returned by Dial. When nil a fresh [NewConn] is returned.
	Conn *Conn

	// DialErr, if non-nil, is returned by Dial instead of a connection.
	DialErr error

	// Block, if non-nil, makes Dial wait until Block is closed or the
	// context is cancelled. The call is recorded before waiting.
	Block chan struct{}

	// Calls records every invocation of Dial in order.
	Calls []DialCall

	// Conns holds every connection handed out, in order.
	Conns []*Conn
}

// Dial implements [channel.Dialer].
func (d *Dialer) Dial(ctx context.Context, url, credential string) (channel.Conn, error) {
	d.mu.Lock()
	d.Calls = append(d.Calls, DialCall{URL: url, Credential: credential})
	block := d.Block
	d.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.DialErr != nil {
		return nil, d.DialErr
	}
	conn := d.Conn
	if conn == nil {
		conn = NewConn()
	}
	d.Conns = append(d.Conns, conn)
	return conn, nil
}

// DialCount returns the number of Dial calls so far.
func (d *Dialer) DialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.Calls)
}

// LastConn returns the most recently handed out connection, or nil.
func (d *Dialer) LastConn() *Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.Conns) == 0 {
		return nil
	}
	return d.Conns[len(d.Conns)-1]
}

var (
	_ channel.Conn   = (*Conn)(nil)
	_ channel.Dialer = (*Dialer)(nil)
)
