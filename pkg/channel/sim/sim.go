// Package sim provides a development-only [channel.Dialer] that fakes a
// conversation without any media service.
//
// On every tick the simulated room rolls a seeded RNG and may inject a canned
// trainee line and a canned client line as transcription events. It exists so
// the console can be exercised locally; it is selected only by explicit
// configuration and is refused in production environments.
package sim

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/MrWong99/roleplay/pkg/channel"
	"github.com/MrWong99/roleplay/pkg/types"
)

const (
	// TraineeLine is the canned trainee utterance.
	TraineeLine = "How can I help you find your perfect home today?"

	// ClientLine is the canned client utterance.
	ClientLine = "I'm looking for a 3-bedroom house in the downtown area."

	// ClientIdentity is the participant name the simulated client joins as.
	ClientIdentity = "simulated-client"

	defaultInterval      = 5 * time.Second
	defaultTraineeChance = 0.3
	defaultClientChance  = 0.2
)

// Dialer implements [channel.Dialer] with a simulated room.
type Dialer struct {
	interval      time.Duration
	seed          uint64
	traineeChance float64
	clientChance  float64
	now           func() time.Time
}

// Option is a functional option for [Dialer].
type Option func(*Dialer)

// WithInterval sets how often the simulated room may speak.
func WithInterval(d time.Duration) Option {
	return func(s *Dialer) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithSeed fixes the RNG seed so that the injected sequence is reproducible.
func WithSeed(seed uint64) Option {
	return func(s *Dialer) { s.seed = seed }
}

// WithChances sets the per-tick probability of the trainee and the client
// line being injected. Values are clamped to [0, 1].
func WithChances(trainee, client float64) Option {
	return func(s *Dialer) {
		s.traineeChance = min(max(trainee, 0), 1)
		s.clientChance = min(max(client, 0), 1)
	}
}

// New returns a simulation Dialer.
func New(opts ...Option) *Dialer {
	d := &Dialer{
		interval:      defaultInterval,
		traineeChance: defaultTraineeChance,
		clientChance:  defaultClientChance,
		now:           time.Now,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Dial implements [channel.Dialer]. url and credential are ignored.
func (d *Dialer) Dial(ctx context.Context, _, _ string) (channel.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c := &conn{
		events: make(chan channel.Event, 16),
		done:   make(chan struct{}),
	}
	c.events <- channel.Event{Type: channel.EventConnected}
	c.events <- channel.Event{Type: channel.EventParticipantJoined, Participant: ClientIdentity}

	rng := rand.New(rand.NewPCG(d.seed, d.seed^0x9e3779b97f4a7c15))
	c.wg.Add(1)
	go c.run(d, rng)
	return c, nil
}

type conn struct {
	events chan channel.Event
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

func (c *conn) Events() <-chan channel.Event { return c.events }

func (c *conn) Disconnect(_ context.Context) error {
	c.once.Do(func() {
		close(c.done)
		c.wg.Wait()
	})
	return nil
}

func (c *conn) run(d *Dialer, rng *rand.Rand) {
	defer c.wg.Done()
	defer close(c.events)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
		}
		if rng.Float64() < d.traineeChance {
			if !c.say(types.SpeakerTrainee, TraineeLine, d.now()) {
				return
			}
		}
		if rng.Float64() < d.clientChance {
			if !c.say(types.SpeakerClient, ClientLine, d.now()) {
				return
			}
		}
	}
}

func (c *conn) say(speaker types.Speaker, text string, at time.Time) bool {
	ev := channel.Event{
		Type:        channel.EventTranscription,
		Participant: string(speaker),
		Utterance:   types.Utterance{Speaker: speaker, Text: text, Timestamp: at.UnixMilli()},
	}
	select {
	case c.events <- ev:
		return true
	case <-c.done:
		return false
	}
}

var _ channel.Dialer = (*Dialer)(nil)
