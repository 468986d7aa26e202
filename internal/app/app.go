// Package app wires the roleplay subsystems into a running service.
//
// The App struct owns the full lifecycle: New builds the token issuer, the
// analysis requester, the session manager and the HTTP server from the
// config, Run serves HTTP until the context is cancelled, and Shutdown tears
// everything down in order.
//
// For testing, inject doubles via [Providers] and functional options
// (WithRepository, WithListener, etc.). When an option is not provided, New
// uses the in-memory and process-wide defaults.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/roleplay/internal/analysis"
	"github.com/MrWong99/roleplay/internal/config"
	"github.com/MrWong99/roleplay/internal/observe"
	"github.com/MrWong99/roleplay/internal/resilience"
	"github.com/MrWong99/roleplay/internal/server"
	"github.com/MrWong99/roleplay/internal/session"
	"github.com/MrWong99/roleplay/internal/token"
	"github.com/MrWong99/roleplay/pkg/channel"
	"github.com/MrWong99/roleplay/pkg/provider/llm"
)

// Providers holds the external backends. Nil means the backend is not
// configured. Populated by main.go via the config registry.
type Providers struct {
	// LLM powers the deep analysis.
	LLM llm.Provider

	// Fallbacks back up LLM, in order. Ignored when LLM is nil.
	Fallbacks []resilience.Backend

	// Dialer opens the media channel of a session.
	Dialer channel.Dialer
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems, initialised in New and torn down in Shutdown.
	metrics  *observe.Metrics
	issuer   *token.Issuer
	failover *resilience.Failover
	analyzer *analysis.Requester
	repo     session.Repository
	manager  *session.Manager
	server   *server.Server
	http     *http.Server
	listener net.Listener
	routes   []route

	// closers are called in order during Shutdown.
	closers []func(context.Context) error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
	stopErr  error
}

type route struct {
	pattern string
	handler http.Handler
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithRepository injects the session history store instead of the
// in-memory default.
func WithRepository(r session.Repository) Option {
	return func(a *App) { a.repo = r }
}

// WithMetrics injects the metric instruments instead of the process-wide
// defaults.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithListener serves on l instead of listening on cfg.Server.ListenAddr.
func WithListener(l net.Listener) Option {
	return func(a *App) { a.listener = l }
}

// WithHandler mounts an additional handler, e.g. the Prometheus scrape
// endpoint, next to the API routes.
func WithHandler(pattern string, h http.Handler) Option {
	return func(a *App) { a.routes = append(a.routes, route{pattern: pattern, handler: h}) }
}

// New creates a fully wired App. providers may be nil.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.repo == nil {
		a.repo = session.NewMemoryRepository()
	}

	a.issuer = token.NewIssuer(cfg.Channel.APIKey, cfg.Channel.APISecret, cfg.Channel.URL, cfg.Channel.TokenTTL)
	if err := a.initAnalysis(); err != nil {
		return nil, err
	}
	a.initManager()
	if err := a.initServer(); err != nil {
		return nil, err
	}

	observe.Logger(ctx).Info("app initialised",
		"channel", cfg.Channel.Mode,
		"analysis", a.analyzer.Configured(),
		"tokens", a.issuer.Configured(),
	)
	return a, nil
}

// initAnalysis puts the configured providers behind circuit breakers and
// builds the requester on top.
func (a *App) initAnalysis() error {
	var provider llm.Provider
	if a.providers.LLM != nil {
		backends := append([]resilience.Backend{{
			Name:     a.cfg.Analysis.Provider.Name,
			Provider: a.providers.LLM,
		}}, a.providers.Fallbacks...)
		f, err := resilience.NewFailover(resilience.FailoverConfig{
			Breaker: resilience.BreakerConfig{
				MaxFailures:  a.cfg.Analysis.Breaker.MaxFailures,
				ResetTimeout: a.cfg.Analysis.Breaker.ResetTimeout,
			},
			CallTimeout: backendTimeout(a.cfg.Analysis, len(backends)),
		}, backends...)
		if err != nil {
			return fmt.Errorf("app: %w", err)
		}
		a.failover = f
		provider = f
	}
	a.analyzer = analysis.New(provider,
		analysis.WithTemperature(a.cfg.Analysis.Temperature),
		analysis.WithMaxTokens(a.cfg.Analysis.MaxTokens),
		analysis.WithTimeout(a.cfg.Analysis.Timeout),
		analysis.WithCacheTTL(a.cfg.Analysis.CacheTTL),
		analysis.WithMetrics(a.metrics),
	)
	return nil
}

// backendTimeout is the deadline of one provider call. Without an explicit
// setting the request timeout is shared evenly so every fallback gets a turn.
func backendTimeout(cfg config.AnalysisConfig, backends int) time.Duration {
	if cfg.BackendTimeout > 0 || backends < 2 {
		return cfg.BackendTimeout
	}
	return cfg.Timeout / time.Duration(backends)
}

func (a *App) initManager() {
	mcfg := session.Config{
		Repository:   a.repo,
		Metrics:      a.metrics,
		AutoConnect:  a.cfg.Channel.AutoConnect,
		NoticeWindow: a.cfg.Session.NoticeWindow,
	}
	if a.analyzer.Configured() {
		mcfg.Analyzer = a.analyzer
	}
	if a.providers.Dialer != nil && a.cfg.Channel.Mode != config.ChannelNone {
		mcfg.Dialer = a.providers.Dialer
		mcfg.Credentials = a.credentials()
	}
	a.manager = session.NewManager(mcfg)
	a.closers = append(a.closers, a.manager.Close)
}

// credentials picks the credential source for the configured channel mode.
func (a *App) credentials() session.CredentialSource {
	if a.cfg.Channel.Mode == config.ChannelSimulate {
		return localCredentials{}
	}
	return a.issuer
}

func (a *App) initServer() error {
	srv, err := server.New(server.Config{
		Manager:   a.manager,
		Analyzer:  a.analyzer,
		Tokens:    a.issuer,
		Metrics:   a.metrics,
		PublicURL: a.cfg.Server.PublicURL,
		Checkers:  a.checkers(),
	})
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}
	a.server = srv

	mux := http.NewServeMux()
	srv.Register(mux)
	for _, r := range a.routes {
		mux.Handle(r.pattern, r.handler)
	}
	a.http = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}

var errAnalysisUnavailable = errors.New("every analysis backend has an open circuit breaker")

// checkers are the readiness probes: the channel can mint credentials and
// analysis has a provider that is not tripped.
func (a *App) checkers() []server.Checker {
	return []server.Checker{
		{Name: "channel", Check: func(context.Context) error {
			switch a.cfg.Channel.Mode {
			case config.ChannelRelay:
				if !a.issuer.Configured() {
					return token.ErrNotConfigured
				}
				if a.providers.Dialer == nil {
					return errors.New("no relay dialer")
				}
			case config.ChannelSimulate:
				if a.providers.Dialer == nil {
					return errors.New("no simulation dialer")
				}
			}
			return nil
		}},
		{Name: "analysis", Check: func(context.Context) error {
			if !a.analyzer.Configured() {
				return analysis.ErrNoProvider
			}
			if !a.failover.Available() {
				return errAnalysisUnavailable
			}
			return nil
		}},
	}
}

// Manager returns the session lifecycle manager.
func (a *App) Manager() *session.Manager {
	return a.manager
}

// Issuer returns the token issuer.
func (a *App) Issuer() *token.Issuer {
	return a.issuer
}

// Handler returns the root HTTP handler, middleware included.
func (a *App) Handler() http.Handler {
	return a.http.Handler
}

// Run serves HTTP and blocks until ctx is cancelled or the server fails.
// On cancellation the HTTP server is shut down gracefully within
// cfg.Server.ShutdownTimeout and Run returns ctx.Err().
func (a *App) Run(ctx context.Context) error {
	ln := a.listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", a.cfg.Server.ListenAddr)
		if err != nil {
			return fmt.Errorf("app: listen %q: %w", a.cfg.Server.ListenAddr, err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := a.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		timeout := a.cfg.Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = config.DefaultShutdownTimeout
		}
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		if err := a.http.Shutdown(sctx); err != nil {
			return fmt.Errorf("app: http shutdown: %w", err)
		}
		return nil
	})

	slog.Info("app running", "addr", ln.Addr().String())
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// Shutdown closes the session manager and every other subsystem in order.
// Safe to call more than once; later calls return the first result.
func (a *App) Shutdown(ctx context.Context) error {
	a.stopOnce.Do(func() {
		var errs []error
		for _, c := range a.closers {
			if err := c(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		a.stopErr = errors.Join(errs...)
		slog.Info("app shut down")
	})
	return a.stopErr
}

// localCredentials serves dialers that do not authenticate, such as the
// simulation channel.
type localCredentials struct{}

func (localCredentials) Credential(room, _ string) (string, string, error) {
	return "sim://" + room, "", nil
}
