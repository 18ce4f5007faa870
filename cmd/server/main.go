package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"timeclock/internal/platform/config"
	"timeclock/internal/platform/httpserver"
	kafkaclient "timeclock/internal/platform/kafka"
	"timeclock/internal/platform/logger"
	httpmetrics "timeclock/internal/platform/metrics"
	"timeclock/internal/platform/middleware"
	"timeclock/internal/platform/postgres"
	redisclient "timeclock/internal/platform/redis"
	rlmetrics "timeclock/internal/ratelimit/metrics"
	ratelimit "timeclock/internal/ratelimit/middleware"
	rlmodels "timeclock/internal/ratelimit/models"
	"timeclock/internal/ratelimit/store/bucket"
	"timeclock/internal/timeclock/alerts"
	"timeclock/internal/timeclock/handler"
	tcmetrics "timeclock/internal/timeclock/metrics"
	"timeclock/internal/timeclock/service"
	"timeclock/internal/timeclock/store/entry"
	"timeclock/internal/timeclock/store/presence"
	"timeclock/internal/timeclock/store/site"
	"timeclock/internal/timeclock/stream"
	"timeclock/pkg/platform/httputil"
	"timeclock/pkg/platform/middleware/auth"
	"timeclock/pkg/platform/middleware/metadata"
	"timeclock/pkg/requestcontext"
)

const (
	alertPartitions = 3
	alertReplicas   = 1
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "timeclock server: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	log := logger.New("timeclock-server", cfg.LogLevel)
	slog.SetDefault(log)

	pool, err := postgres.Connect(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	defer pool.Close()
	if cfg.Postgres.ApplySchema {
		if err := entry.EnsureSchema(ctx, pool); err != nil {
			return err
		}
	}

	sites := site.NewPostgres(pool)
	if cfg.Timeclock.SeedFile != "" {
		n, err := site.SeedFromFile(ctx, sites, cfg.Timeclock.SeedFile)
		if err != nil {
			return err
		}
		log.Info("sites seeded", "file", cfg.Timeclock.SeedFile, "sites", n)
	}

	rdb, err := redisclient.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	var (
		presenceStore service.PresenceStore
		hubRedis      goredis.UniversalClient
		buckets       ratelimit.BucketStore
	)
	if rdb != nil {
		defer rdb.Close()
		presenceStore = presence.NewRedis(rdb.Client, cfg.Timeclock.PresenceTTL)
		hubRedis = rdb.Client
		buckets = bucket.NewRedisBucketStore(rdb.Client)
	} else {
		log.Warn("REDIS_URL not set; presence, live streams and rate limits are process-local")
		presenceStore = presence.NewInMemory(cfg.Timeclock.PresenceTTL)
		buckets = bucket.NewInMemoryBucketStore()
	}

	var publisher alerts.Publisher = alerts.NewLogPublisher(log)
	kc, err := kafkaclient.New(ctx, cfg.Kafka)
	if err != nil {
		return err
	}
	if kc != nil {
		defer kc.Close()
		if err := kafkaclient.EnsureTopic(ctx, kc, cfg.Kafka.AlertsTopic, alertPartitions, alertReplicas); err != nil {
			log.Warn("could not ensure alerts topic", "topic", cfg.Kafka.AlertsTopic, "error", err)
		}
		publisher, err = alerts.NewKafkaPublisher(kc, cfg.Kafka.AlertsTopic, alerts.WithLogger(log))
		if err != nil {
			return err
		}
	} else {
		log.Warn("KAFKA_BROKERS not set; alerts are only logged")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	hub := stream.NewHub(hubRedis, stream.WithLogger(log))
	svc, err := service.New(entry.NewPostgres(pool), sites,
		service.WithLogger(log),
		service.WithMetrics(tcmetrics.New(reg)),
		service.WithPresence(presenceStore),
		service.WithAlerts(publisher),
		service.WithBroadcaster(hub),
		service.WithPolicy(cfg.Timeclock.Policy),
		service.WithRules(service.Rules{
			LunchStandard:     cfg.Timeclock.LunchStandard,
			MissingLunchAfter: cfg.Timeclock.MissingLunchAfter,
		}),
	)
	if err != nil {
		return err
	}

	authorize := func(ctx context.Context, entryID string) error {
		return svc.AuthorizeEntry(ctx, requestcontext.ApprenticeID(ctx), entryID)
	}
	validator := auth.NewHMACValidator(cfg.JWTSigningKey, cfg.JWTIssuer)
	limiter := ratelimit.New(buckets, log,
		ratelimit.WithDisabled(cfg.RateLimit.Disabled),
		ratelimit.WithMetrics(rlmetrics.New(reg)),
		ratelimit.WithLimit(rlmodels.ClassAction, rlmodels.Limit{Requests: cfg.RateLimit.ActionsPerWindow, Window: cfg.RateLimit.Window}),
		ratelimit.WithLimit(rlmodels.ClassHeartbeat, rlmodels.Limit{Requests: cfg.RateLimit.HeartbeatsPerWindow, Window: cfg.RateLimit.Window}),
		ratelimit.WithLimit(rlmodels.ClassRead, rlmodels.Limit{Requests: cfg.RateLimit.ReadsPerWindow, Window: cfg.RateLimit.Window}),
	)

	r := chi.NewRouter()
	r.Use(middleware.Recovery(log))
	r.Use(middleware.RequestID)
	r.Use(metadata.ClientMetadata)
	r.Use(middleware.Logger(log))
	r.Use(middleware.Latency(httpmetrics.New(reg)))
	r.Get("/healthz", healthz(pool, rdb))
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	handler.New(svc, validator, log,
		handler.WithStream(stream.NewHandler(hub, authorize, log)),
		handler.WithRateLimit(limiter),
	).Register(r)

	srv := httpserver.New(cfg.Addr, r)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return hub.Run(gctx)
	})
	g.Go(func() error {
		return httpserver.Run(gctx, srv, cfg.ShutdownTimeout, log)
	})
	err = g.Wait()
	log.Info("timeclock server stopped")
	return err
}

func healthz(pool *pgxpool.Pool, rdb *redisclient.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := map[string]string{"postgres": "ok"}
		code := http.StatusOK
		if err := pool.Ping(ctx); err != nil {
			status["postgres"] = err.Error()
			code = http.StatusServiceUnavailable
		}
		if rdb != nil {
			status["redis"] = "ok"
			if err := rdb.Health(ctx); err != nil {
				status["redis"] = err.Error()
				code = http.StatusServiceUnavailable
			}
		}
		httputil.WriteJSON(w, code, status)
	}
}
