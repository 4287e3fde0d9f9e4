package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	gatewaylink "github.com/lattice-iot/gatewaylink"
	"github.com/lattice-iot/gatewaylink/internal/api"
	"github.com/lattice-iot/gatewaylink/internal/broadcast"
	"github.com/lattice-iot/gatewaylink/internal/bus"
	"github.com/lattice-iot/gatewaylink/internal/cache"
	"github.com/lattice-iot/gatewaylink/internal/command"
	"github.com/lattice-iot/gatewaylink/internal/config"
	"github.com/lattice-iot/gatewaylink/internal/dbstore"
	"github.com/lattice-iot/gatewaylink/internal/mqttgw"
	"github.com/lattice-iot/gatewaylink/internal/normalize"
	"github.com/lattice-iot/gatewaylink/internal/storage"
	"github.com/lattice-iot/gatewaylink/internal/webhook"
)

// version, commit, and buildTime are injected at build time via ldflags
// (-X main.version=...).
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

// pipelineStats exposes live gauges to the metrics collector.
type pipelineStats struct {
	cache *cache.Cache
	hub   *broadcast.Hub
}

func (s pipelineStats) DeviceCount() int          { return s.cache.DeviceCount() }
func (s pipelineStats) ModuleCount() int          { return s.cache.ModuleCount() }
func (s pipelineStats) BroadcastClientCount() int { return s.hub.ClientCount() }

func main() {
	// CLI flags
	var overrides config.Overrides
	var showVersion bool
	flag.StringVar(&overrides.EnvFile, "env-file", "", "Path to .env file (default: .env)")
	flag.StringVar(&overrides.APIAddr, "listen", "", "HTTP listen address (overrides API_HOST/API_PORT)")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "Log level: debug, info, warn, error (overrides LOG_LEVEL)")
	flag.StringVar(&overrides.MQTTBrokerURL, "mqtt-url", "", "MQTT broker URL (overrides MQTT_BROKER_URL)")
	flag.StringVar(&overrides.DBHost, "db-host", "", "PostgreSQL host (overrides DB_HOST)")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("%s (commit=%s, built=%s)\n", version, commit, buildTime)
		os.Exit(0)
	}

	startTime := time.Now()

	// Config (loads .env automatically, then env vars, then CLI overrides)
	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("invalid config")
	}

	// Logger
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().
		Str("version", version).
		Str("commit", commit).
		Str("built", buildTime).
		Str("log_level", level.String()).
		Msg("gatewaylink starting")

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Bus and cache are the two process-wide services; everything else
	// receives them through its constructor.
	b := bus.New(log)
	go b.RunErrorLogger(ctx.Done())
	c := cache.New()

	// Database (optional — storage can be disabled entirely)
	var db *dbstore.DB
	if cfg.StorageEnabled {
		dbLog := log.With().Str("component", "database").Logger()
		db, err = dbstore.Connect(ctx, cfg.DatabaseURL(), dbLog)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer db.Close()

		// Auto-apply schema on fresh database (no-op if tables already exist)
		if err := db.InitSchema(ctx, gatewaylink.SchemaSQL); err != nil {
			log.Fatal().Err(err).Msg("schema initialization failed")
		}
		if err := db.Migrate(ctx); err != nil {
			log.Fatal().Err(err).Msg("schema migration failed (run ALTER TABLE manually or grant ALTER privileges)")
		}
	} else {
		log.Info().Msg("storage disabled — history endpoints will answer 501")
	}

	// MQTT
	mqttLog := log.With().Str("component", "mqtt").Logger()
	topics := append(mqttgw.SplitTopics(cfg.TopicsV5008), mqttgw.SplitTopics(cfg.TopicsV6800)...)
	mqtt, err := mqttgw.Connect(mqttgw.Options{
		BrokerURL:       cfg.MQTTBrokerURL,
		ClientID:        cfg.MQTTClientID,
		Topics:          topics,
		Username:        cfg.MQTTUsername,
		Password:        cfg.MQTTPassword,
		ConnectTimeout:  cfg.MQTTConnectTimeout,
		ReconnectPeriod: cfg.MQTTReconnectPeriod,
		Log:             mqttLog,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to mqtt broker")
	}
	defer mqtt.Close()
	log.Info().Str("broker", cfg.MQTTBrokerURL).Str("client_id", cfg.MQTTClientID).Msg("mqtt connected")

	// Ingress adapter: broker → ingress.raw → family parser → data.parsed
	adapter := mqttgw.NewAdapter(b, log)
	mqtt.SetMessageHandler(adapter.HandleMessage)
	go adapter.Run(ctx.Done())

	// Normalizer: data.parsed → cache mutations → data.normalized
	norm := normalize.New(c, b, cfg.HeartbeatTimeout, log)
	go norm.Run(ctx.Done())

	// Storage writer: data.normalized → batched SQL. Its final flush runs
	// when the context cancels; shutdown waits on writerDone so buffered
	// rows land before the pool closes.
	writerDone := make(chan struct{})
	if db != nil {
		writer := storage.New(db, b, storage.Options{
			FlushInterval: cfg.StorageFlushInterval,
			BatchSize:     cfg.StorageBatchSize,
		}, log)
		go func() {
			writer.Run(ctx.Done())
			close(writerDone)
		}()
	} else {
		close(writerDone)
	}

	// Command translator: command.request → device-native frames
	translator := command.New(b, mqtt, log)
	go translator.Run(ctx.Done())

	// Watchdog: mark idle devices/modules offline
	watchdog := cache.NewWatchdog(c, cfg.WatchdogInterval, cfg.HeartbeatTimeout,
		log.With().Str("component", "watchdog").Logger())
	go watchdog.Run(ctx)

	// Push channel
	hub := broadcast.NewHub(b, log)
	go hub.Run(ctx.Done())
	var wsSrv *broadcast.Server
	if cfg.WSEnabled {
		wsSrv = broadcast.NewServer(cfg.WSAddr(), hub, log.With().Str("component", "websocket").Logger())
		go func() {
			if err := wsSrv.Start(); err != nil {
				log.Error().Err(err).Msg("websocket server error")
			}
		}()
	}

	// Webhook forwarder (optional)
	if cfg.WebhookEnabled {
		fw := webhook.New(b, cfg.WebhookURL, cfg.WebhookSecret, cfg.WebhookFilterSet(), log)
		go fw.Run(ctx.Done())
		log.Info().Str("url", cfg.WebhookURL).Msg("webhook forwarding enabled")
	}

	// HTTP surface
	errCh := make(chan error, 1)
	var srv *api.Server
	if cfg.APIEnabled {
		srv = api.NewServer(api.ServerOptions{
			Config:    cfg,
			DB:        db,
			MQTT:      mqtt,
			Cache:     c,
			Bus:       b,
			Stats:     pipelineStats{cache: c, hub: hub},
			StartTime: startTime,
			Log:       log.With().Str("component", "http").Logger(),
		})
		go func() {
			errCh <- srv.Start()
		}()
	}

	log.Info().
		Str("listen", cfg.APIAddr()).
		Str("version", version).
		Dur("startup_ms", time.Since(startTime)).
		Msg("gatewaylink ready")

	// Wait for shutdown signal or server error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	// Graceful shutdown with 10s timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("http server shutdown error")
		}
	}
	if wsSrv != nil {
		if err := wsSrv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("websocket server shutdown error")
		}
	}

	stop() // cancel the workers so the writer runs its final flush
	select {
	case <-writerDone:
	case <-shutdownCtx.Done():
		log.Warn().Msg("storage writer did not drain before shutdown deadline")
	}

	log.Info().Msg("gatewaylink stopped")
}
