package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Default values applied by [ApplyDefaults].
const (
	DefaultListenAddr      = ":3000"
	DefaultShutdownTimeout = 15 * time.Second
	DefaultTokenTTL        = time.Hour
	DefaultSimulateEvery   = 5 * time.Second
	DefaultTemperature     = 0.7
	DefaultMaxTokens       = 2000
	DefaultAnalysisTimeout = 60 * time.Second
	DefaultCacheTTL        = 30 * time.Minute
	DefaultNoticeWindow    = 5 * time.Second
)

// Environment variable names read by [ApplyEnv].
const (
	EnvLiveKitURL       = "LIVEKIT_URL"
	EnvPublicLiveKitURL = "NEXT_PUBLIC_LIVEKIT_URL"
	EnvLiveKitAPIKey    = "LIVEKIT_API_KEY"
	EnvLiveKitSecret    = "LIVEKIT_API_SECRET"
	EnvOpenAIAPIKey     = "OPENAI_API_KEY"
	EnvAppURL           = "NEXT_PUBLIC_APP_URL"
)

// ValidProviderNames lists the language model backends shipped with the
// service. Used by [Validate] to warn about unrecognised names.
var ValidProviderNames = []string{
	"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
}

// LookupFunc resolves an environment variable.
type LookupFunc func(key string) (string, bool)

// Environ returns a LookupFunc over the process environment, falling back to
// the variables in envFile. A missing envFile is not an error. Process
// variables win over the file.
func Environ(envFile string) (LookupFunc, error) {
	var file map[string]string
	if envFile != "" {
		m, err := godotenv.Read(envFile)
		switch {
		case err == nil:
			file = m
		case errors.Is(err, fs.ErrNotExist):
		default:
			return nil, fmt.Errorf("config: read %q: %w", envFile, err)
		}
	}
	return func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := file[key]
		return v, ok
	}, nil
}

// Load reads the YAML configuration file at path, applies environment
// overrides from lookup, fills in defaults and validates the result. A
// missing file yields the defaults. lookup may be nil.
func Load(path string, lookup LookupFunc) (*Config, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Info("config file not found, using defaults and environment", "path", path)
		return LoadFromReader(strings.NewReader(""), lookup)
	}
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f, lookup)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, then applies environment
// overrides, defaults and validation like [Load]. An empty document is a
// valid, all-default config.
func LoadFromReader(r io.Reader, lookup LookupFunc) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if lookup != nil {
		ApplyEnv(cfg, lookup)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with the environment variables the browser console
// deployment uses. An OpenAI key selects the openai provider when none is
// configured.
func ApplyEnv(cfg *Config, lookup LookupFunc) {
	set := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v, ok := lookup(k); ok && v != "" {
				*dst = v
				return
			}
		}
	}
	set(&cfg.Channel.URL, EnvLiveKitURL, EnvPublicLiveKitURL)
	set(&cfg.Channel.APIKey, EnvLiveKitAPIKey)
	set(&cfg.Channel.APISecret, EnvLiveKitSecret)
	set(&cfg.Server.PublicURL, EnvAppURL)

	if key, ok := lookup(EnvOpenAIAPIKey); ok && key != "" {
		switch cfg.Analysis.Provider.Name {
		case "":
			cfg.Analysis.Provider.Name = "openai"
			cfg.Analysis.Provider.APIKey = key
		case "openai":
			if cfg.Analysis.Provider.APIKey == "" {
				cfg.Analysis.Provider.APIKey = key
			}
		}
	}
}

// ApplyDefaults fills zero values with their defaults.
func ApplyDefaults(cfg *Config) {
	def := func(d *time.Duration, v time.Duration) {
		if *d == 0 {
			*d = v
		}
	}
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.Environment == "" {
		cfg.Server.Environment = EnvDevelopment
	}
	def(&cfg.Server.ShutdownTimeout, DefaultShutdownTimeout)

	if cfg.Channel.Mode == "" {
		cfg.Channel.Mode = ChannelRelay
	}
	def(&cfg.Channel.TokenTTL, DefaultTokenTTL)
	def(&cfg.Channel.Simulate.Interval, DefaultSimulateEvery)

	if cfg.Analysis.Temperature == 0 {
		cfg.Analysis.Temperature = DefaultTemperature
	}
	if cfg.Analysis.MaxTokens == 0 {
		cfg.Analysis.MaxTokens = DefaultMaxTokens
	}
	def(&cfg.Analysis.Timeout, DefaultAnalysisTimeout)
	def(&cfg.Analysis.CacheTTL, DefaultCacheTTL)

	def(&cfg.Session.NoticeWindow, DefaultNoticeWindow)
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.Environment != "" && !cfg.Server.Environment.IsValid() {
		errs = append(errs, fmt.Errorf("server.environment %q is invalid; valid values: development, test, production", cfg.Server.Environment))
	}
	if cfg.Server.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout %s must not be negative", cfg.Server.ShutdownTimeout))
	}

	// Channel
	if cfg.Channel.Mode != "" && !cfg.Channel.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("channel.mode %q is invalid; valid values: relay, simulate, none", cfg.Channel.Mode))
	}
	if cfg.Channel.Mode == ChannelSimulate && cfg.Server.Environment == EnvProduction {
		errs = append(errs, errors.New("channel.mode simulate is not allowed when server.environment is production"))
	}
	if cfg.Channel.TokenTTL < 0 {
		errs = append(errs, fmt.Errorf("channel.token_ttl %s must not be negative", cfg.Channel.TokenTTL))
	}
	if cfg.Channel.Simulate.Interval < 0 {
		errs = append(errs, fmt.Errorf("channel.simulate.interval %s must not be negative", cfg.Channel.Simulate.Interval))
	}
	if cfg.Channel.Mode == ChannelRelay && (cfg.Channel.URL == "" || cfg.Channel.APIKey == "" || cfg.Channel.APISecret == "") {
		slog.Warn("channel credentials incomplete; token issuance and connect will fail until LIVEKIT_URL, LIVEKIT_API_KEY and LIVEKIT_API_SECRET are set")
	}

	// Analysis
	if t := cfg.Analysis.Temperature; t < 0 || t > 2 {
		errs = append(errs, fmt.Errorf("analysis.temperature %.2f is out of range [0, 2]", t))
	}
	if cfg.Analysis.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("analysis.max_tokens %d must not be negative", cfg.Analysis.MaxTokens))
	}
	if cfg.Analysis.Timeout < 0 {
		errs = append(errs, fmt.Errorf("analysis.timeout %s must not be negative", cfg.Analysis.Timeout))
	}
	validateProviderName(cfg.Analysis.Provider.Name)
	for i, fb := range cfg.Analysis.Fallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("analysis.fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName(fb.Name)
	}
	if cfg.Analysis.Breaker.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("analysis.breaker.max_failures %d must not be negative", cfg.Analysis.Breaker.MaxFailures))
	}
	if cfg.Analysis.Breaker.ResetTimeout < 0 {
		errs = append(errs, fmt.Errorf("analysis.breaker.reset_timeout %s must not be negative", cfg.Analysis.Breaker.ResetTimeout))
	}
	if cfg.Analysis.BackendTimeout < 0 {
		errs = append(errs, fmt.Errorf("analysis.backend_timeout %s must not be negative", cfg.Analysis.BackendTimeout))
	}
	if cfg.Analysis.Provider.Name == "" {
		slog.Warn("no analysis provider configured; sessions will end without deep analysis")
	}

	// Session
	if cfg.Session.NoticeWindow < 0 {
		errs = append(errs, fmt.Errorf("session.notice_window %s must not be negative", cfg.Session.NoticeWindow))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not one of
// [ValidProviderNames].
func validateProviderName(name string) {
	if name == "" || slices.Contains(ValidProviderNames, name) {
		return
	}
	slog.Warn("unknown analysis provider name, may be a typo or third-party provider",
		"name", name,
		"known", ValidProviderNames,
	)
}
