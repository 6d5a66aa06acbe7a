package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/ryanbastic/go-pixelplace/internal/admission"
	"github.com/ryanbastic/go-pixelplace/internal/api"
	"github.com/ryanbastic/go-pixelplace/internal/broadcast"
	"github.com/ryanbastic/go-pixelplace/internal/config"
	"github.com/ryanbastic/go-pixelplace/internal/logging"
	"github.com/ryanbastic/go-pixelplace/internal/metrics"
	"github.com/ryanbastic/go-pixelplace/internal/ratelimit"
	"github.com/ryanbastic/go-pixelplace/internal/storage"
)

const (
	sinkTimeout     = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

func main() {
	cfg := config.Load()

	logger, logCloser := logging.New(logging.Config{
		Level:     cfg.LogLevel,
		Format:    cfg.LogFormat,
		File:      cfg.LogFile,
		MaxSizeMB: cfg.LogMaxSizeMB,
	}, os.Stdout)
	defer logCloser.Close()
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage
	store, err := storage.Open(ctx, cfg.Storage())
	if err != nil {
		logger.Error("failed to open storage", "driver", cfg.StorageDriver, "error", err)
		os.Exit(1)
	}
	defer store.Close()
	logger.Info("storage ready", "driver", cfg.StorageDriver)

	backends := map[string]api.Pinger{"storage": store}

	var pool *pgxpool.Pool
	if pg, ok := store.(*storage.PostgresStore); ok {
		pool = pg.Pool()
		prometheus.MustRegister(metrics.NewPoolCollector(map[string]*pgxpool.Pool{"primary": pool}))
	}

	// Broadcast sinks
	notifier := broadcast.NewNotifier(sinkTimeout, logger)

	hub := broadcast.NewHub(cfg.StreamBuffer)
	notifier.Attach("stream", hub)

	var subscriberStore broadcast.SubscriberStore
	if pool != nil {
		subscriberStore = broadcast.NewPostgresSubscriberStore(pool, cfg.QueryTimeout)
	}
	subscribers := broadcast.NewSubscriberRegistry(subscriberStore)
	if err := subscribers.Load(ctx); err != nil {
		logger.Error("failed to load subscribers", "error", err)
		os.Exit(1)
	}
	if cfg.SubscribersPath != "" {
		if err := registerStaticSubscribers(ctx, subscribers, cfg.SubscribersPath, logger); err != nil {
			logger.Error("failed to load subscribers file", "path", cfg.SubscribersPath, "error", err)
			os.Exit(1)
		}
	}
	rpcClient := broadcast.NewRPCClient(cfg.SubscriberRetryMax, cfg.SubscriberRetryBackoff, cfg.SubscriberRPCTimeout)
	notifier.Attach("jsonrpc", broadcast.NewRPCPublisher(subscribers, rpcClient,
		cfg.BreakerMaxFailures, cfg.BreakerResetTimeout, broadcast.WithBreakerLogger(logger)))

	if cfg.RedisURL != "" {
		rdb, err := broadcast.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer rdb.Close()
		notifier.Attach("redis", broadcast.NewRedisPublisher(rdb, cfg.RedisChannel))
		backends["redis"] = api.PingerFunc(func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
		logger.Info("redis publisher enabled", "channel", cfg.RedisChannel)
	}

	// The event log is fed by the replayer rather than the notifier, so it
	// catches up on pixels committed while the process was down.
	if len(cfg.KafkaBrokers) > 0 {
		kp := broadcast.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kp.Close()
		var checkpoint broadcast.Checkpoint = broadcast.NewMemoryCheckpoint()
		if pool != nil {
			checkpoint = broadcast.NewPostgresCheckpoint(pool, cfg.QueryTimeout)
		}
		replayer := broadcast.NewReplayer("kafka", store, kp, checkpoint, cfg.ReplayPollInterval, cfg.ReplayBatchSize, logger,
			broadcast.WithSettleWindow(cfg.ReplaySettleWindow))
		replayDone := make(chan struct{})
		go func() {
			replayer.Run(ctx)
			close(replayDone)
		}()
		defer func() { <-replayDone }()
		logger.Info("kafka replay enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}
	logger.Info("broadcast sinks attached", "sinks", notifier.Sinks())

	// Admission
	rules := cfg.Admission()
	tracker := admission.NewTracker(store, rules)
	gate := admission.NewGate(store, tracker, rules, admission.WithPublisher(notifier))

	// Request throttling
	var limiter *ratelimit.Store
	trusted, err := ratelimit.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		logger.Error("invalid trusted proxies", "error", err)
		os.Exit(1)
	}
	if cfg.RateLimitRPS > 0 {
		limiter = ratelimit.NewStore(cfg.RateLimitRPS, cfg.RateLimitBurst)
		limiter.StartJanitor(ctx)
	}

	// Start HTTP server
	handler := api.NewServer(logger, api.ServerOptions{
		Gate:           gate,
		Tracker:        tracker,
		Pixels:         store,
		Hub:            hub,
		Subscribers:    subscribers,
		Backends:       backends,
		RateLimit:      limiter,
		TrustedProxies: trusted,
	})
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	// Shutdown waits for active connections; pixel streams never finish on
	// their own, so end them when it starts.
	srv.RegisterOnShutdown(hub.Close)

	go func() {
		logger.Info("starting HTTP server", "port", cfg.Port,
			"grid", rules.GridWidth*rules.GridHeight, "cooldown", rules.Cooldown)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", "error", err)
	}
	// In-flight placements have drained; stop the replayer and janitor.
	cancel()
	if err := notifier.Wait(shutdownCtx); err != nil {
		logger.Warn("broadcast deliveries still in flight at shutdown", "error", err)
	}

	logger.Info("shutdown complete")
}

func registerStaticSubscribers(ctx context.Context, registry *broadcast.SubscriberRegistry, path string, logger *slog.Logger) error {
	file, err := config.LoadSubscribers(path)
	if err != nil {
		return err
	}
	for _, sc := range file.Subscribers {
		s := &broadcast.Subscriber{Name: sc.Name, Endpoint: sc.Endpoint, Static: true}
		if err := registry.Register(ctx, s); err != nil {
			if errors.Is(err, broadcast.ErrDuplicateName) {
				logger.Warn("static subscriber shadowed by a registered one", "name", s.Name)
				continue
			}
			return err
		}
		logger.Info("static subscriber registered", "name", s.Name, "endpoint", s.Endpoint)
	}
	return nil
}
