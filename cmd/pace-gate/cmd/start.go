package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/pace-erp/pace-gate/internal/adapter/inbound/httpapi"
	"github.com/pace-erp/pace-gate/internal/adapter/outbound/directory"
	"github.com/pace-erp/pace-gate/internal/adapter/outbound/memory"
	"github.com/pace-erp/pace-gate/internal/adapter/outbound/redisstore"
	"github.com/pace-erp/pace-gate/internal/config"
	"github.com/pace-erp/pace-gate/internal/domain/challenge"
	"github.com/pace-erp/pace-gate/internal/domain/origin"
	"github.com/pace-erp/pace-gate/internal/domain/ratelimit"
	"github.com/pace-erp/pace-gate/internal/domain/session"
	"github.com/pace-erp/pace-gate/internal/service/audit"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the gateway server",
	Long: `Start the Pace Gate server.

Startup is fail-fast: a missing or wildcard origin allow-list, a missing
cookie domain, or an unreadable Directory database stops the process
immediately rather than running with a degraded security posture.

Examples:
  # Start with config file settings
  pace-gate start

  # Start with a specific config file
  pace-gate --config /path/to/config.yaml start`,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// stop() restores default signal handling so a second Ctrl+C hard-kills.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		stop()
	}()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Server.LogLevel),
	}))
	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	if err := run(ctx, cfg, logger); err != nil {
		return err
	}
	logger.Info("pace-gate stopped")
	return nil
}

// run wires every component together and serves until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	policy, err := origin.NewPolicy(cfg.Security.AllowedOrigins)
	if err != nil {
		return fmt.Errorf("origin policy: %w", err)
	}

	dir, err := directory.Open(cfg.Directory.Path, logger)
	if err != nil {
		return fmt.Errorf("open directory: %w", err)
	}
	defer func() { _ = dir.Close() }()
	logger.Info("directory opened", "path", cfg.Directory.Path)

	// Counter store: shared Redis when configured, in-process otherwise.
	var counters ratelimit.CounterStore
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = client.Close() }()
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		counters = redisstore.NewCounterStore(client)
		logger.Info("rate limit counters: redis", "addr", cfg.Redis.Addr)
	} else {
		memStore := memory.NewCounterStore(logger)
		memStore.StartCleanup(ctx)
		defer memStore.Stop()
		counters = memStore
		logger.Info("rate limit counters: in-process")
	}

	limiter := ratelimit.NewLimiter(counters, ratelimit.Config{
		Window:             cfg.RateLimit.Window,
		MaxIPRequests:      cfg.RateLimit.MaxIP,
		MaxAccountRequests: cfg.RateLimit.MaxAccount,
	}, logger)

	auditSvc := audit.NewService(dir, logger, audit.WithBufferSize(cfg.Audit.BufferSize))
	auditSvc.Start()
	defer auditSvc.Stop()

	resolver := session.NewResolver(dir, dir, logger)
	sessions := session.NewService(dir, dir, logger)
	engine := challenge.NewEngine(logger)
	tracker := challenge.NewTracker()

	registry := httpapi.NewRegistry()
	metrics := httpapi.NewMetrics(registry)
	httpapi.RegisterAuditDrops(registry, auditSvc.Dropped)

	pipeline := httpapi.NewPipeline(
		policy, resolver, sessions, dir, dir, limiter, engine, tracker,
		auditSvc, metrics, cfg.Security.CookieDomain, logger,
		httpapi.WithCSRFBypassPrefixes(cfg.Security.TrustedCSRFPrefixes),
		httpapi.WithProduction(cfg.Security.Production),
	)

	server := httpapi.NewServer(pipeline, metrics, registry, logger,
		httpapi.WithAddr(cfg.Server.Addr))

	logger.Info("pace-gate starting",
		"version", Version,
		"addr", cfg.Server.Addr,
		"production", cfg.Security.Production,
		"allowed_origins", len(cfg.Security.AllowedOrigins),
		"rate_limit_window", cfg.RateLimit.Window,
	)
	return server.Start(ctx)
}

// parseLogLevel converts a string log level to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
