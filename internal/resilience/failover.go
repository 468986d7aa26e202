package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/roleplay/pkg/provider/llm"
)

// ErrAllFailed is returned when every backend of a [Failover] failed or had
// an open breaker. The individual errors are joined behind it.
var ErrAllFailed = errors.New("resilience: all analysis backends failed")

// Backend is a named language model.
type Backend struct {
	Name     string
	Provider llm.Provider
}

type guarded struct {
	Backend
	breaker *Breaker
}

// FailoverConfig tunes a [Failover].
type FailoverConfig struct {
	// Breaker configures the breaker of every backend. Its Name is replaced
	// by the backend name.
	Breaker BreakerConfig

	// CallTimeout bounds each backend call. A backend that does not answer in
	// time counts as failed and the next one is tried. Zero leaves only the
	// caller's deadline.
	CallTimeout time.Duration
}

// Failover implements [llm.Provider] over an ordered list of backends, each
// behind its own [Breaker]. The first backend is the primary.
type Failover struct {
	backends    []guarded
	callTimeout time.Duration
}

var _ llm.Provider = (*Failover)(nil)

// NewFailover guards backends with breakers configured from cfg.
func NewFailover(cfg FailoverConfig, backends ...Backend) (*Failover, error) {
	if len(backends) == 0 {
		return nil, errors.New("resilience: at least one backend is required")
	}
	f := &Failover{backends: make([]guarded, 0, len(backends)), callTimeout: cfg.CallTimeout}
	for i, b := range backends {
		if b.Provider == nil {
			return nil, fmt.Errorf("resilience: backend %d (%q) has no provider", i, b.Name)
		}
		bc := cfg.Breaker
		bc.Name = b.Name
		f.backends = append(f.backends, guarded{Backend: b, breaker: NewBreaker(bc)})
	}
	return f, nil
}

// Complete tries each backend in order and returns the first reply. Every
// backend is called at most once. It stops early when ctx is done.
func (f *Failover) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	var errs []error
	for i := range f.backends {
		g := &f.backends[i]
		var resp *llm.CompletionResponse
		err := g.breaker.Do(ctx, func() error {
			cctx, cancel := f.callContext(ctx)
			defer cancel()
			var err error
			resp, err = g.Provider.Complete(cctx, req)
			return err
		})
		if err == nil {
			if i > 0 {
				slog.Info("analysis served by fallback backend", "backend", g.Name)
			}
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		if errors.Is(err, ErrOpen) {
			slog.Debug("skipping analysis backend, circuit open", "backend", g.Name)
		} else {
			slog.Warn("analysis backend failed", "backend", g.Name, "err", err)
		}
		errs = append(errs, fmt.Errorf("%s: %w", g.Name, err))
	}
	return nil, fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...))
}

func (f *Failover) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if f.callTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, f.callTimeout)
}

// BackendState is the breaker state of one backend.
type BackendState struct {
	Name  string
	State State
}

// States reports the breaker state of every backend, in order.
func (f *Failover) States() []BackendState {
	out := make([]BackendState, 0, len(f.backends))
	for i := range f.backends {
		out = append(out, BackendState{Name: f.backends[i].Name, State: f.backends[i].breaker.State()})
	}
	return out
}

// Available reports whether at least one backend would currently accept a
// call.
func (f *Failover) Available() bool {
	for i := range f.backends {
		if f.backends[i].breaker.State() != StateOpen {
			return true
		}
	}
	return false
}
