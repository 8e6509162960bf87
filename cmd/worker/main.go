// Command worker runs the meeting ingestion worker.
//
// The worker consumes upload notifications from Kafka, downloads the recording
// from object storage, extracts and chunks its audio with ffmpeg, transcribes
// the chunks in parallel, assembles an SRT transcript, generates a structured
// digest via the LLM API, and persists the result to PostgreSQL. Every job
// runs under a per-file Redis lease and a hard processing deadline.
//
// Usage:
//
//	go run ./cmd/worker [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/meetmind/ingest-worker/internal/digest"
	"github.com/meetmind/ingest-worker/internal/lock"
	"github.com/meetmind/ingest-worker/internal/media"
	"github.com/meetmind/ingest-worker/internal/meeting"
	"github.com/meetmind/ingest-worker/internal/notify"
	"github.com/meetmind/ingest-worker/internal/objstore"
	"github.com/meetmind/ingest-worker/internal/transcribe"
	"github.com/meetmind/ingest-worker/internal/worker"
	"github.com/meetmind/ingest-worker/pkg/config"
	"github.com/meetmind/ingest-worker/pkg/health"
	"github.com/meetmind/ingest-worker/pkg/kafka"
	"github.com/meetmind/ingest-worker/pkg/logger"
	"github.com/meetmind/ingest-worker/pkg/metrics"
	"github.com/meetmind/ingest-worker/pkg/postgres"
	"github.com/meetmind/ingest-worker/pkg/redis"
	"github.com/meetmind/ingest-worker/pkg/resilience"
)

func main() {
	_ = godotenv.Load()
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting ingest worker",
		"topic", cfg.Kafka.Topic,
		"group", cfg.Kafka.ConsumerGroup,
		"deadline", cfg.Pipeline.Deadline,
	)

	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("connected to postgres")

	rdb, err := redis.NewClient(cfg.Redis)
	if err != nil {
		slog.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer rdb.Close()
	slog.Info("connected to redis")

	store, err := objstore.New(cfg.Storage)
	if err != nil {
		slog.Error("failed to create object storage client", "error", err)
		os.Exit(1)
	}

	m := metrics.New()

	repo := meeting.NewRepo(db)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := repo.EnsureSchema(ctx); err != nil {
		slog.Error("failed to ensure schema", "error", err)
		os.Exit(1)
	}

	breakerGauge := func(name string) func(resilience.State) {
		return func(s resilience.State) {
			m.CircuitBreakerState.WithLabelValues(name).Set(float64(s))
		}
	}
	transcribeBreaker := resilience.NewCircuitBreaker("transcriber", resilience.CircuitBreakerConfig{
		OnStateChange: breakerGauge("transcriber"),
	})
	digestBreaker := resilience.NewCircuitBreaker("digest", resilience.CircuitBreakerConfig{
		OnStateChange: breakerGauge("digest"),
	})

	pipeline := worker.New(cfg.Pipeline, worker.Deps{
		Lock:        lock.New(rdb),
		Fetcher:     store,
		Extractor:   media.NewExtractor(cfg.Pipeline),
		Transcriber: transcribe.NewPool(transcribe.NewClient(cfg.Transcriber, transcribeBreaker), cfg.Pipeline, m),
		Digester:    digest.NewClient(cfg.Digest, digestBreaker),
		Store:       repo,
		Notifier:    notify.NewTelegram(cfg.Notifier),
		Metrics:     m,
	})

	checker := health.NewChecker()
	checker.Register("postgres", health.PingCheck(db.Ping))
	checker.Register("redis", health.PingCheck(rdb.Ping))
	checker.Register("storage", health.PingCheck(store.Ping))
	var shutdownMetrics func(context.Context) error
	if cfg.Metrics.Enabled {
		shutdownMetrics = metrics.StartServer(cfg.Metrics.Port, checker)
		slog.Info("metrics server started", "port", cfg.Metrics.Port)
	}

	deadLetter := kafka.NewProducer(cfg.Kafka, cfg.Kafka.DeadLetterTopic)
	defer deadLetter.Close()
	consumer := kafka.NewConsumer(cfg.Kafka, pipeline.Handle, deadLetter)
	consumer.OnDeadLetter = m.DeadLettersTotal.Inc
	defer consumer.Close()

	slog.Info("worker ready, consuming notifications")
	if err := consumer.Start(ctx); err != nil && ctx.Err() == nil {
		slog.Error("consumer error", "error", err)
	}

	if shutdownMetrics != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownMetrics(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown error", "error", err)
		}
	}
	slog.Info("ingest worker stopped")
}
