package config

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/MrWong99/roleplay/pkg/channel"
	"github.com/MrWong99/roleplay/pkg/provider/llm"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions. It is safe
// for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	llm     map[string]func(ProviderEntry) (llm.Provider, error)
	channel map[ChannelMode]func(ChannelConfig) (channel.Dialer, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		llm:     make(map[string]func(ProviderEntry) (llm.Provider, error)),
		channel: make(map[ChannelMode]func(ChannelConfig) (channel.Dialer, error)),
	}
}

// RegisterLLM registers an LLM provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// RegisterChannel registers a channel dialer factory for mode.
func (r *Registry) RegisterChannel(mode ChannelMode, factory func(ChannelConfig) (channel.Dialer, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channel[mode] = factory
}

// CreateLLM instantiates an LLM provider using the factory registered under
// entry.Name. Returns [ErrProviderNotRegistered] if there is none.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	factory, ok := r.llm[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: llm/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateChannel instantiates the dialer registered for cfg.Mode.
func (r *Registry) CreateChannel(cfg ChannelConfig) (channel.Dialer, error) {
	r.mu.RLock()
	factory, ok := r.channel[cfg.Mode]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: channel/%q", ErrProviderNotRegistered, cfg.Mode)
	}
	return factory(cfg)
}

// LLMNames returns the registered LLM provider names, sorted.
func (r *Registry) LLMNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.llm))
	for n := range r.llm {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
