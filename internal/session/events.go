package session

import (
	"sync"
	"time"

	"github.com/MrWong99/roleplay/internal/scoring"
	"github.com/MrWong99/roleplay/pkg/types"
)

// EventKind classifies a live [Event].
type EventKind string

const (
	EventPhase       EventKind = "phase"
	EventTick        EventKind = "tick"
	EventUtterance   EventKind = "utterance"
	EventScores      EventKind = "scores"
	EventConnection  EventKind = "connection"
	EventParticipant EventKind = "participant"
	EventFeedback    EventKind = "feedback"
)

// Event is one entry of the live feed returned by [Manager.Subscribe].
type Event struct {
	Kind      EventKind `json:"type"`
	SessionID string    `json:"sessionId,omitempty"`
	Time      time.Time `json:"time"`

	// Data is one of the *Data payload types, chosen by Kind.
	Data any `json:"data"`
}

// PhaseData is the payload of [EventPhase].
type PhaseData struct {
	Phase Phase `json:"phase"`
}

// TickData is the payload of [EventTick].
type TickData struct {
	Elapsed int `json:"elapsed"`
}

// ScoresData is the payload of [EventScores].
type ScoresData struct {
	Scores  scoring.Scores `json:"scores"`
	Notices []Notice       `json:"notices"`
}

// ConnectionData is the payload of [EventConnection].
type ConnectionData struct {
	Connected bool   `json:"connected"`
	Reason    string `json:"reason,omitempty"`
}

// ParticipantData is the payload of [EventParticipant].
type ParticipantData struct {
	Identity string `json:"identity"`

	// Track is true when the participant's media track became available.
	Track bool `json:"track"`
}

// FeedbackData is the payload of [EventFeedback].
type FeedbackData struct {
	Status   AnalysisStatus `json:"status"`
	Feedback types.Feedback `json:"feedback"`
}

// Notice is a transient scoring message shown next to the live scores.
type Notice struct {
	Text      string    `json:"text"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// hub fans events out to subscribers without ever blocking the publisher.
type hub struct {
	mu      sync.Mutex
	next    int
	subs    map[int]chan Event
	closed  bool
	dropped int
}

func newHub() *hub {
	return &hub{subs: make(map[int]chan Event)}
}

func (h *hub) subscribe(buffer int) (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Event, max(buffer, 1))
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	id := h.next
	h.next++
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if c, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(c)
			}
		})
	}
}

// publish delivers ev to every subscriber with room in its buffer. Full
// subscribers miss the event.
func (h *hub) publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.dropped++
		}
	}
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}

func (h *hub) droppedCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}
