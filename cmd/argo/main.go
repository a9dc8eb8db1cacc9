// Package main implements the entry point for the Argo telemetry platform:
// rover fleet telemetry ingestion over MQTT, durable storage in Postgres,
// live state in Redis, and fan-out to dashboard viewers over WebSocket.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gabrielabritta/argo/api"
	"github.com/gabrielabritta/argo/broadcast"
	"github.com/gabrielabritta/argo/component"
	"github.com/gabrielabritta/argo/config"
	"github.com/gabrielabritta/argo/directory"
	"github.com/gabrielabritta/argo/health"
	"github.com/gabrielabritta/argo/ingest"
	"github.com/gabrielabritta/argo/metric"
	"github.com/gabrielabritta/argo/mqttclient"
	"github.com/gabrielabritta/argo/pkg/retry"
	"github.com/gabrielabritta/argo/statecache"
	"github.com/gabrielabritta/argo/store"
)

const (
	// Version is stamped at build time.
	Version = "0.1.0"
	appName = "argo"

	shutdownTimeout     = 10 * time.Second
	healthCheckInterval = 15 * time.Second
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("application failed", "error", err)
		os.Exit(1)
	}
}

type cliFlags struct {
	configPath string
	validate   bool
	version    bool
}

func parseFlags() cliFlags {
	var flags cliFlags
	flag.StringVar(&flags.configPath, "config", "", "path to JSON configuration file")
	flag.BoolVar(&flags.validate, "validate", false, "validate configuration and exit")
	flag.BoolVar(&flags.version, "version", false, "print version and exit")
	flag.Parse()
	return flags
}

func run() error {
	flags := parseFlags()
	if flags.version {
		fmt.Printf("%s %s\n", appName, Version)
		return nil
	}

	cfg, err := loadConfig(flags.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if flags.validate {
		slog.Info("configuration is valid")
		return nil
	}

	logger := buildLogger(cfg.Logging)
	slog.SetDefault(logger)
	logger.Info("starting", "app", appName, "version", Version)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := metric.NewMetricsRegistry()
	metrics := registry.Metrics
	monitor := health.NewMonitor()

	// Postgres and the MQTT broker often come up alongside this process;
	// retry the initial connections instead of crash-looping.
	var pool *pgxpool.Pool
	err = retry.Do(ctx, retry.Persistent(), func() error {
		var connErr error
		pool, connErr = connectPostgres(ctx, cfg.Postgres)
		return connErr
	})
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	if err := directory.EnsureSchema(ctx, pool); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	cache := connectCache(ctx, cfg.Redis, logger)
	defer cache.Close()

	var broker *mqttclient.Client
	err = retry.Do(ctx, retry.Persistent(), func() error {
		var connErr error
		broker, connErr = connectMQTT(ctx, cfg.MQTT, logger, metrics, monitor)
		return connErr
	})
	if err != nil {
		return fmt.Errorf("connect mqtt: %w", err)
	}
	defer broker.Close(context.Background())

	registryDir := directory.New(pool,
		directory.WithCache(cache),
		directory.WithLogger(logger))
	durable := store.New(pool, store.WithLogger(logger))
	hub := broadcast.NewHub()

	manager := component.NewManager(logger)

	pipeline := ingest.New(ingest.Config{
		TopicFilter: cfg.MQTT.TopicFilter,
		QoS:         cfg.MQTT.QoS,
		Workers:     cfg.Ingest.Workers,
		QueueSize:   cfg.Ingest.QueueSize,
	}, ingest.Deps{
		Broker:          broker,
		Cache:           cache,
		Recorder:        durable,
		Broadcaster:     hub,
		Refresher:       registryDir,
		Logger:          logger,
		Metrics:         metrics,
		MetricsRegistry: registry,
	})
	if err := manager.Register(pipeline); err != nil {
		return err
	}

	wsServer := broadcast.NewServer(hub, broadcast.ServerConfig{
		Port:            cfg.API.Port + 1,
		Logger:          logger,
		Metrics:         metrics,
		MetricsRegistry: registry,
	})
	if err := manager.Register(wsServer); err != nil {
		return err
	}

	apiServer := api.NewServer(api.ServerConfig{
		Port:         cfg.API.Port,
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
		CommandQoS:   cfg.MQTT.QoS,
	}, api.Deps{
		Registry:  registryDir,
		Telemetry: durable,
		Cache:     cache,
		Broker:    broker,
		Health:    monitor,
		Logger:    logger,
		Metrics:   metrics,
		MetricsHandler: promhttp.HandlerFor(registry.PrometheusRegistry(),
			promhttp.HandlerOpts{}),
	})
	if err := manager.Register(apiServer); err != nil {
		return err
	}

	if err := manager.StartAll(ctx); err != nil {
		_ = manager.StopAll(shutdownTimeout)
		return fmt.Errorf("start components: %w", err)
	}

	var metricsServer *metric.Server
	if cfg.Metrics.Enabled {
		metricsServer = metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, registry)
		if err := metricsServer.Start(); err != nil {
			logger.Warn("metrics server failed to start", "error", err)
			metricsServer = nil
		}
	}

	go watchHealth(ctx, monitor, manager, pool, cache, broker, logger)

	logger.Info("running",
		"api_port", cfg.API.Port,
		"ws_port", cfg.API.Port+1,
		"topic_filter", cfg.MQTT.TopicFilter)

	<-ctx.Done()
	logger.Info("shutting down")

	if metricsServer != nil {
		_ = metricsServer.Stop()
	}
	if err := manager.StopAll(shutdownTimeout); err != nil {
		logger.Warn("component shutdown incomplete", "error", err)
	}
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	if path != "" {
		loader.AddLayer(path)
	}
	return loader.Load()
}

func buildLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func connectPostgres(ctx context.Context, cfg config.PostgresConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, err
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.ConnectTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// connectCache prefers Redis and degrades to the in-process cache when the
// server is unreachable: reads fall back to the durable store either way.
func connectCache(ctx context.Context, cfg config.RedisConfig, logger *slog.Logger) statecache.Cache {
	if cfg.Addr != "" {
		cache, err := statecache.NewRedis(ctx, cfg, statecache.WithLogger(logger))
		if err == nil {
			logger.Info("redis cache connected", "addr", cfg.Addr)
			return cache
		}
		logger.Warn("redis unavailable, using in-process cache", "addr", cfg.Addr, "error", err)
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = statecache.DefaultTTL
	}
	return statecache.NewMemory(ctx, ttl)
}

func connectMQTT(ctx context.Context, cfg config.MQTTConfig, logger *slog.Logger,
	metrics *metric.Metrics, monitor *health.Monitor) (*mqttclient.Client, error) {

	opts := []mqttclient.ClientOption{
		mqttclient.WithClientID(cfg.ClientID),
		mqttclient.WithConnectCallback(func() {
			metrics.RecordMQTTStatus(true)
			monitor.UpdateHealthy("mqtt", "connected")
		}),
		mqttclient.WithConnectionLostCallback(func(err error) {
			metrics.RecordMQTTStatus(false)
			metrics.RecordMQTTReconnect()
			monitor.UpdateDegraded("mqtt", "connection lost, reconnecting")
			logger.Warn("mqtt connection lost", "error", err)
		}),
	}
	if cfg.Username != "" {
		opts = append(opts, mqttclient.WithCredentials(cfg.Username, cfg.Password))
	}
	if cfg.MaxReconnects != 0 {
		opts = append(opts, mqttclient.WithMaxReconnects(cfg.MaxReconnects))
	}
	if cfg.ReconnectWait > 0 {
		opts = append(opts, mqttclient.WithReconnectWait(cfg.ReconnectWait))
	}

	client, err := mqttclient.NewClient(cfg.BrokerURL, opts...)
	if err != nil {
		return nil, err
	}
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

// watchHealth keeps the monitor current so /api/health reflects the real
// state of the backing services.
func watchHealth(ctx context.Context, monitor *health.Monitor, manager *component.Manager,
	pool *pgxpool.Pool, cache statecache.Cache, broker *mqttclient.Client, logger *slog.Logger) {

	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()

	check := func() {
		checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		if err := pool.Ping(checkCtx); err != nil {
			monitor.UpdateUnhealthy("postgres", "ping failed")
		} else {
			monitor.UpdateHealthy("postgres", "connected")
		}

		if rc, ok := cache.(*statecache.RedisCache); ok {
			if rc.Healthy(checkCtx) {
				monitor.UpdateHealthy("redis", "connected")
			} else {
				monitor.UpdateDegraded("redis", "unreachable, store fallback active")
			}
		} else {
			monitor.UpdateHealthy("cache", "in-process")
		}

		if broker.IsHealthy() {
			monitor.UpdateHealthy("mqtt", "connected")
		} else {
			monitor.UpdateDegraded("mqtt", "disconnected")
		}

		for _, comp := range manager.Components() {
			monitor.Update(comp.Meta().Name, health.FromComponentHealth(comp.Meta().Name, comp.Health()))
		}
	}

	check()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			check()
		}
	}
}
