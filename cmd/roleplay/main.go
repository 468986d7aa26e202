// Command roleplay is the entry point for the roleplay training console
// service.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/MrWong99/roleplay/internal/app"
	"github.com/MrWong99/roleplay/internal/config"
	"github.com/MrWong99/roleplay/internal/observe"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "roleplay:", err)
		os.Exit(1)
	}
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	envFile    string
}

func newRootCmd() *cobra.Command {
	var g globalFlags

	root := &cobra.Command{
		Use:           "roleplay",
		Short:         "Real-estate sales roleplay training console",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}
	root.PersistentFlags().StringVar(&g.configPath, "config", "roleplay.yaml", "path to the YAML configuration file")
	root.PersistentFlags().StringVar(&g.envFile, "env-file", ".env", "dotenv file consulted for environment variables")

	root.AddCommand(newServeCmd(&g))
	root.AddCommand(newScoreCmd())
	root.AddCommand(newTokenCmd(&g))
	return root
}

// loadConfig reads the env file and the config file named by g.
func loadConfig(g *globalFlags) (*config.Config, error) {
	lookup, err := config.Environ(g.envFile)
	if err != nil {
		return nil, err
	}
	return config.Load(g.configPath, lookup)
}

func newServeCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), g)
		},
	}
}

func serve(parent context.Context, g *globalFlags) error {
	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := loadConfig(g)
	if err != nil {
		return err
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	slog.SetDefault(newLogger(cfg.Server.LogLevel))
	slog.Info("roleplay starting",
		"version", version,
		"config", g.configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"environment", cfg.Server.Environment,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
		Environment:    string(cfg.Server.Environment),
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		return err
	}

	application, err := app.New(ctx, cfg, providers,
		app.WithHandler("GET /metrics", promhttp.Handler()),
	)
	if err != nil {
		return fmt.Errorf("initialise application: %w", err)
	}

	slog.Info("server ready, press Ctrl+C to shut down")
	runErr := application.Run(ctx)
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	errs := []error{runErr}
	if err := application.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown: %w", err))
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	slog.Info("goodbye")
	return nil
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
