package session

import (
	"context"
	"math"
	"sync"
)

// Repository archives finished sessions. Implementations must be safe for
// concurrent use and must not hand out memory they keep.
type Repository interface {
	// Save archives s as the newest entry.
	Save(ctx context.Context, s *Session) error

	// List returns every archived session, newest first.
	List(ctx context.Context) ([]*Session, error)

	// Get returns the archived session with the given id, or [ErrNotFound].
	Get(ctx context.Context, id string) (*Session, error)
}

// MemoryRepository is an in-process [Repository]. The zero value is ready
// to use.
type MemoryRepository struct {
	mu      sync.RWMutex
	entries []*Session
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

// Save implements [Repository].
func (r *MemoryRepository) Save(_ context.Context, s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append([]*Session{s.Clone()}, r.entries...)
	return nil
}

// List implements [Repository].
func (r *MemoryRepository) List(_ context.Context) ([]*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, len(r.entries))
	for i, s := range r.entries {
		out[i] = s.Clone()
	}
	return out, nil
}

// Get implements [Repository].
func (r *MemoryRepository) Get(_ context.Context, id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.entries {
		if s.ID == id {
			return s.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

// Summary aggregates the session history.
type Summary struct {
	Count int `json:"count"`

	// AverageOverall is the rounded mean overall score, zero without sessions.
	AverageOverall int `json:"averageOverall"`
}

// Summarize computes the history summary.
func Summarize(sessions []*Session) Summary {
	if len(sessions) == 0 {
		return Summary{}
	}
	sum := 0
	for _, s := range sessions {
		sum += s.Scores.Overall
	}
	return Summary{
		Count:          len(sessions),
		AverageOverall: int(math.Floor(float64(sum)/float64(len(sessions)) + 0.5)),
	}
}

var _ Repository = (*MemoryRepository)(nil)
