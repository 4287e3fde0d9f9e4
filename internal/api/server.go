// Package api is the REST surface over the pipeline: health, redacted
// configuration, live cache snapshots, the command intake, and recent
// history. Handlers only ever read the cache and publish on the bus — all
// mutation flows through the normal pipeline.
package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/lattice-iot/gatewaylink/internal/bus"
	"github.com/lattice-iot/gatewaylink/internal/cache"
	"github.com/lattice-iot/gatewaylink/internal/config"
	"github.com/lattice-iot/gatewaylink/internal/dbstore"
	"github.com/lattice-iot/gatewaylink/internal/metrics"
	"github.com/lattice-iot/gatewaylink/internal/mqttgw"
)

type Server struct {
	http *http.Server
	log  zerolog.Logger
}

type ServerOptions struct {
	Config    *config.Config
	DB        *dbstore.DB // nil when storage is disabled
	MQTT      *mqttgw.Client
	Cache     *cache.Cache
	Bus       *bus.Bus
	Stats     metrics.PipelineStats
	StartTime time.Time
	Log       zerolog.Logger
}

func NewServer(opts ServerOptions) *Server {
	r := chi.NewRouter()

	// Parse CORS origins from config
	var corsOrigins []string
	if opts.Config.CORSOrigins != "" {
		for _, o := range strings.Split(opts.Config.CORSOrigins, ",") {
			if s := strings.TrimSpace(o); s != "" {
				corsOrigins = append(corsOrigins, s)
			}
		}
	}

	r.Use(RequestID)
	r.Use(CORSWithOrigins(corsOrigins))
	r.Use(RateLimiter(opts.Config.RateLimitRPS, opts.Config.RateLimitBurst))
	r.Use(Recoverer)
	r.Use(Logger(opts.Log))
	r.Use(MaxBodySize(1 << 20)) // 1 MB is generous for command bodies

	health := NewHealthHandler(opts.DB, opts.MQTT, opts.StartTime)
	r.Get("/api/health", health.ServeHTTP)

	var pool *pgxpool.Pool
	if opts.DB != nil {
		pool = opts.DB.Pool
	}
	collector := metrics.NewCollector(pool, opts.Stats)
	prometheus.MustRegister(collector)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Get("/api/config", NewConfigHandler(opts.Config).ServeHTTP)

	commands := NewCommandsHandler(opts.Bus)
	r.Route("/api", func(r chi.Router) {
		r.Use(metrics.InstrumentHandler)
		NewLiveHandler(opts.Cache).Routes(r)
		NewHistoryHandler(opts.DB).Routes(r)
		r.Post("/commands", commands.Post)
	})

	srv := &http.Server{
		Addr:         opts.Config.APIAddr(),
		Handler:      r,
		ReadTimeout:  opts.Config.HTTPReadTimeout,
		WriteTimeout: opts.Config.HTTPWriteTimeout,
		IdleTimeout:  opts.Config.HTTPIdleTimeout,
	}

	return &Server{http: srv, log: opts.Log}
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}
