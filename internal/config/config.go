// Package config provides the configuration schema, loader, and provider
// registry for the roleplay training service.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Environment names the deployment the service runs in.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTest        Environment = "test"
	EnvProduction  Environment = "production"
)

// IsValid reports whether e is a recognised environment.
func (e Environment) IsValid() bool {
	switch e {
	case EnvDevelopment, EnvTest, EnvProduction:
		return true
	}
	return false
}

// ChannelMode selects the media channel implementation.
type ChannelMode string

const (
	// ChannelRelay connects to the real-time media service.
	ChannelRelay ChannelMode = "relay"

	// ChannelSimulate injects canned utterances. Development only.
	ChannelSimulate ChannelMode = "simulate"

	// ChannelNone disables the media channel. Utterances arrive through the
	// HTTP API only.
	ChannelNone ChannelMode = "none"
)

// IsValid reports whether m is a recognised channel mode.
func (m ChannelMode) IsValid() bool {
	switch m {
	case ChannelRelay, ChannelSimulate, ChannelNone:
		return true
	}
	return false
}

// Config is the root configuration structure. It is typically loaded with
// [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Channel  ChannelConfig  `yaml:"channel"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Session  SessionConfig  `yaml:"session"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP server listens on (e.g., ":3000").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// Environment is the deployment name. The simulation channel is refused
	// in production.
	Environment Environment `yaml:"environment"`

	// PublicURL is the externally visible URL of the browser console. When
	// set, WebSocket upgrades are only accepted from its origin.
	PublicURL string `yaml:"public_url"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// ChannelConfig configures the media channel and token issuance.
type ChannelConfig struct {
	Mode ChannelMode `yaml:"mode"`

	// URL is the media service URL handed to clients and dialed by the relay.
	URL string `yaml:"url"`

	// APIKey and APISecret sign access tokens.
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`

	// TokenTTL is the lifetime of issued tokens.
	TokenTTL time.Duration `yaml:"token_ttl"`

	// AutoConnect dials the channel as soon as a session starts.
	AutoConnect bool `yaml:"auto_connect"`

	Simulate SimulateConfig `yaml:"simulate"`
}

// SimulateConfig tunes the simulation channel.
type SimulateConfig struct {
	// Interval is the period between injection attempts.
	Interval time.Duration `yaml:"interval"`

	// Seed makes the simulated conversation reproducible. Zero picks a
	// random seed.
	Seed uint64 `yaml:"seed"`
}

// AnalysisConfig configures the deep-analysis requester.
type AnalysisConfig struct {
	// Provider selects the language model. An empty name disables analysis.
	Provider ProviderEntry `yaml:"provider"`

	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`

	// CacheTTL is how long successful results are reused. Negative disables
	// the cache.
	CacheTTL time.Duration `yaml:"cache_ttl"`

	// Fallbacks are tried in order when the primary provider fails or its
	// circuit breaker is open.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`

	// Breaker tunes the circuit breaker in front of every provider.
	Breaker BreakerConfig `yaml:"breaker"`

	// BackendTimeout bounds the call to a single provider so a hung primary
	// leaves time for the fallbacks. Zero splits Timeout evenly across the
	// primary and its fallbacks.
	BackendTimeout time.Duration `yaml:"backend_timeout"`
}

// BreakerConfig tunes the per-provider circuit breaker. Zero values select
// the resilience package defaults.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures that open the breaker.
	MaxFailures int `yaml:"max_failures"`

	// ResetTimeout is how long an open breaker waits before probing again.
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// SessionConfig tunes the live session.
type SessionConfig struct {
	// NoticeWindow is how long scoring notices stay visible.
	NoticeWindow time.Duration `yaml:"notice_window"`
}

// ProviderEntry is the configuration block of a language model provider. The
// Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4").
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered above.
	Options map[string]any `yaml:"options"`
}
