package main

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/roleplay/internal/app"
	"github.com/MrWong99/roleplay/internal/config"
	"github.com/MrWong99/roleplay/internal/resilience"
	"github.com/MrWong99/roleplay/pkg/channel"
	"github.com/MrWong99/roleplay/pkg/channel/relay"
	"github.com/MrWong99/roleplay/pkg/channel/sim"
	"github.com/MrWong99/roleplay/pkg/provider/llm"
	"github.com/MrWong99/roleplay/pkg/provider/llm/anyllm"
	"github.com/MrWong99/roleplay/pkg/provider/llm/openai"
)

// registerBuiltinProviders wires every built-in factory into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────

	// openai uses the native SDK. An empty model selects gpt-4.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, openai.WithOrganization(org))
		}
		p, err := openai.New(entry.APIKey, entry.Model, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	// The rest go through any-llm-go with optional APIKey + optional BaseURL.
	for _, providerName := range []string{
		"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			p, err := anyllm.New(providerName, entry.Model, opts...)
			if err != nil {
				return nil, err
			}
			return p, nil
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		p, err := anyllm.New("ollama", entry.Model, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	// ── Channel ───────────────────────────────────────────────────────────────

	reg.RegisterChannel(config.ChannelRelay, func(config.ChannelConfig) (channel.Dialer, error) {
		return relay.New(), nil
	})

	reg.RegisterChannel(config.ChannelSimulate, func(c config.ChannelConfig) (channel.Dialer, error) {
		seed := c.Simulate.Seed
		if seed == 0 {
			seed = rand.Uint64()
		}
		return sim.New(sim.WithInterval(c.Simulate.Interval), sim.WithSeed(seed)), nil
	})

	for _, name := range reg.LLMNames() {
		slog.Debug("registered provider", "kind", "llm", "name", name)
	}
}

// buildProviders instantiates the providers named in cfg using the registry.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	if name := cfg.Analysis.Provider.Name; name != "" {
		p, err := reg.CreateLLM(cfg.Analysis.Provider)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("analysis provider not available, analysis disabled", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create llm provider %q: %w", name, err)
		} else {
			ps.LLM = p
			slog.Info("provider created", "kind", "llm", "name", name, "model", cfg.Analysis.Provider.Model)
		}
	}

	for _, entry := range cfg.Analysis.Fallbacks {
		p, err := reg.CreateLLM(entry)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("fallback provider not available, skipping", "name", entry.Name)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create fallback llm provider %q: %w", entry.Name, err)
		}
		ps.Fallbacks = append(ps.Fallbacks, resilience.Backend{Name: entry.Name, Provider: p})
		slog.Info("provider created", "kind", "llm-fallback", "name", entry.Name, "model", entry.Model)
	}

	if cfg.Channel.Mode != config.ChannelNone {
		d, err := reg.CreateChannel(cfg.Channel)
		if err != nil {
			return nil, fmt.Errorf("create %s channel: %w", cfg.Channel.Mode, err)
		}
		ps.Dialer = d
		slog.Info("channel created", "mode", cfg.Channel.Mode)
	}

	return ps, nil
}

// optString extracts a string value from a provider Options map.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}
