// Command dashboard polls option chains, aggregates them and serves the live
// dashboard over HTTP and WebSocket.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"chainwatch/internal/config"
	"chainwatch/internal/core"
	"chainwatch/internal/infrastructure/health"
	"chainwatch/internal/mock"
	"chainwatch/internal/publicapi"
	"chainwatch/internal/store"
	"chainwatch/pkg/concurrency"
	"chainwatch/pkg/liveserver"
	"chainwatch/pkg/logging"
	"chainwatch/pkg/telemetry"
)

var (
	// Version information (set via build flags)
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/dashboard.yaml", "Path to configuration file")
	port := flag.Int("port", 0, "Server port (overrides config)")
	envFile := flag.String("env-file", ".env", "Dotenv file loaded before the config")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("dashboard version %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load env file: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}

	logger, err := logging.New(logging.Options{Level: cfg.App.LogLevel, Format: cfg.App.LogFormat})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Error("Dashboard stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *logging.ZapLogger) error {
	targets := make([]string, 0, len(cfg.Dashboard.Watch))
	for _, w := range cfg.Dashboard.Watch {
		targets = append(targets, w.Key())
	}
	logger.Info("Starting dashboard",
		"version", version,
		"source", cfg.App.Source,
		"targets", targets,
		"port", cfg.Server.Port,
		"history_store", cfg.History.Store,
	)

	if cfg.Telemetry.EnableMetrics {
		tel, err := setupTelemetry(cfg.Telemetry)
		if err != nil {
			logger.Warn("Failed to initialize telemetry", "error", err)
		} else {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = tel.Shutdown(ctx)
			}()
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	samples, err := store.Open(ctx, cfg.History)
	if err != nil {
		return fmt.Errorf("failed to open history store: %w", err)
	}
	defer samples.Close()

	source, err := newSource(cfg, logger)
	if err != nil {
		return err
	}

	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:        "ChainPollPool",
		MaxWorkers:  cfg.Concurrency.PollPoolSize,
		MaxCapacity: cfg.Concurrency.PollPoolBuffer,
		NonBlocking: true,
	}, logger)
	defer pool.Stop()

	hub := liveserver.NewHub(logger)
	go hub.Run(ctx)

	poller := NewPoller(cfg, source, samples, pool, hub, logger)
	if err := poller.Restore(ctx); err != nil {
		logger.Warn("Failed to restore volume history, starting empty", "error", err)
	}

	server := liveserver.NewServer(hub, logger, liveserver.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		StaticDir:      cfg.Server.StaticDir,
		Production:     cfg.Server.Production,
		MaxConnections: cfg.Server.MaxConnections,
		RateLimit:      cfg.Server.RateLimit,
		RateBurst:      cfg.Server.RateBurst,
	})
	server.SetOnConnect(poller.Greeting)
	server.SetHealthCheck(healthCheck(cfg, poller, logger))
	NewAPI(poller).Register(server)

	go poller.Run(ctx)

	addr := ":" + strconv.Itoa(cfg.Server.Port)
	logger.Info("Dashboard is running",
		"web_url", fmt.Sprintf("http://localhost%s/", addr),
		"websocket_url", fmt.Sprintf("ws://localhost%s/ws", addr),
		"health_url", fmt.Sprintf("http://localhost%s/health", addr),
	)

	err = server.Start(ctx, addr)
	logger.Info("Dashboard stopped")
	return err
}

func newSource(cfg *config.Config, logger core.ILogger) (core.IChainSource, error) {
	switch cfg.App.Source {
	case "mock":
		logger.Warn("Using simulated option chains")
		return mock.NewMockChainSource(time.Now().UnixNano()), nil
	default:
		client, err := publicapi.NewClient(cfg.Public, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create Public.com client: %w", err)
		}
		return client, nil
	}
}

// healthCheck reports each watch target unhealthy once its last good snapshot
// is older than the stale threshold.
func healthCheck(cfg *config.Config, p *Poller, logger core.ILogger) liveserver.HealthFunc {
	hm := health.NewHealthManager(logger)
	for _, key := range p.order {
		st := p.targets[key]
		hm.Register(key, health.FreshnessCheck(p.now, st.lastSuccess, cfg.Dashboard.StaleAfter()))
	}
	hm.Register("poll_pool", p.pool.Saturation(uint64(cfg.Concurrency.PollPoolBuffer)))
	return reportHealth(hm)
}

// reportHealth evaluates every check once per request.
func reportHealth(hm core.IHealthMonitor) liveserver.HealthFunc {
	return func() (bool, map[string]string) {
		status := hm.GetStatus()
		for _, s := range status {
			if s != health.StatusHealthy {
				return false, status
			}
		}
		return true, status
	}
}

func setupTelemetry(cfg config.TelemetryConfig) (*telemetry.Telemetry, error) {
	tc := telemetry.Config{ServiceName: cfg.ServiceName, Version: version}
	if cfg.TraceFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.TraceFile), 0o755); err != nil {
			return nil, err
		}
		f, err := os.OpenFile(cfg.TraceFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open trace file: %w", err)
		}
		tc.TraceWriter = f
	}
	return telemetry.Setup(tc)
}
