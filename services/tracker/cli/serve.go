package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tasktrack-io/tasktrack/internal/ingest"
	"github.com/tasktrack-io/tasktrack/internal/kafka"
	"github.com/tasktrack-io/tasktrack/internal/postgres"
	redisstore "github.com/tasktrack-io/tasktrack/internal/redis"
	"github.com/tasktrack-io/tasktrack/internal/tracker"
	"github.com/tasktrack-io/tasktrack/pkg/telemetry"
	"github.com/tasktrack-io/tasktrack/services/tracker/config"
	"github.com/tasktrack-io/tasktrack/services/tracker/handler"
	"github.com/tasktrack-io/tasktrack/services/tracker/middleware"
)

// abortTopic carries upstream abort requests for cancelled tasks.
const abortTopic = "task.control"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the tracker service",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("http-port", "8080", "HTTP server port")
	serveCmd.Flags().String("metrics-addr", ":9095", "Prometheus metrics server address")
	serveCmd.Flags().String("stream-url", "", "SSE stream URL; empty consumes the Kafka events topic instead")
	serveCmd.Flags().String("stream-session-id", "", "session scope for stream-loss handling; empty covers all sessions")
	serveCmd.Flags().String("kafka-brokers", "localhost:9092", "comma-separated Kafka broker addresses; empty disables Kafka")
	serveCmd.Flags().String("kafka-events-topic", ingest.DefaultEventsTopic, "Kafka topic carrying chat envelopes")
	serveCmd.Flags().String("kafka-journal-topic", kafka.DefaultJournalTopic, "Kafka topic receiving journal entries")
	serveCmd.Flags().String("kafka-group-id", "tasktrack", "Kafka consumer group id")
	serveCmd.Flags().String("redis-addr", "localhost:6379", "Redis address (host:port); empty disables Redis")
	serveCmd.Flags().String("postgres-dsn", "", "PostgreSQL DSN; empty disables the persistent journal")
	serveCmd.Flags().Int("rate-limit", 100, "requests per window per client IP")
	serveCmd.Flags().Duration("rate-window", time.Minute, "rate limit window")
	serveCmd.Flags().Duration("quiet-period", 30*time.Second, "silence before a running task is marked interrupted")
	serveCmd.Flags().Int("retain-recent", 50, "terminal tasks always kept in the live store")
	serveCmd.Flags().Duration("retain-window", 10*time.Second, "grace before a terminal task may be pruned")
	serveCmd.Flags().Int("recent-limit", 3, "size of the recent display view")
	serveCmd.Flags().String("prune-schedule", "@every 1m", "cron schedule for retention pruning")
	serveCmd.Flags().String("stall-schedule", "@every 10s", "cron schedule for the stalled-task sweep")
	serveCmd.Flags().String("otel-endpoint", "", "OTLP HTTP endpoint for tracing (e.g. localhost:4318); empty disables tracing")

	bindFlag("http_port", serveCmd.Flags(), "http-port")
	bindFlag("metrics_addr", serveCmd.Flags(), "metrics-addr")
	bindFlag("stream_url", serveCmd.Flags(), "stream-url")
	bindFlag("stream_session_id", serveCmd.Flags(), "stream-session-id")
	bindFlag("kafka_brokers", serveCmd.Flags(), "kafka-brokers")
	bindFlag("kafka_events_topic", serveCmd.Flags(), "kafka-events-topic")
	bindFlag("kafka_journal_topic", serveCmd.Flags(), "kafka-journal-topic")
	bindFlag("kafka_group_id", serveCmd.Flags(), "kafka-group-id")
	bindFlag("redis_addr", serveCmd.Flags(), "redis-addr")
	bindFlag("postgres_dsn", serveCmd.Flags(), "postgres-dsn")
	bindFlag("rate_limit", serveCmd.Flags(), "rate-limit")
	bindFlag("rate_window", serveCmd.Flags(), "rate-window")
	bindFlag("quiet_period", serveCmd.Flags(), "quiet-period")
	bindFlag("retain_recent", serveCmd.Flags(), "retain-recent")
	bindFlag("retain_window", serveCmd.Flags(), "retain-window")
	bindFlag("recent_limit", serveCmd.Flags(), "recent-limit")
	bindFlag("prune_schedule", serveCmd.Flags(), "prune-schedule")
	bindFlag("stall_schedule", serveCmd.Flags(), "stall-schedule")
	bindFlag("otel_endpoint", serveCmd.Flags(), "otel-endpoint")
	_ = viper.BindEnv("otel_endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg := config.Load(viper.GetViper())
	logger := buildLogger(cfg.LogLevel, "tracker")

	shutdownTracer, err := telemetry.InitTracer(context.Background(), "tracker", cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer shutdownTracer()

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	// ── journal sinks ─────────────────────────────────────────────────────────
	var sinks []tracker.JournalSink

	var limiter redisstore.RateLimiter
	if cfg.RedisAddr != "" {
		redisClient := redisstore.NewClient(cfg.RedisAddr)
		defer func() { _ = redisClient.Close() }()
		sinks = append(sinks, redisstore.NewMirror(redisClient))
		limiter = redisstore.NewRateLimiter(redisClient, cfg.RateLimit, cfg.RateWindow)
	}

	var history *postgres.Journal
	if cfg.PostgresDSN != "" {
		initCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		pool, err := postgres.NewPool(initCtx, cfg.PostgresDSN)
		cancel()
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer pool.Close()
		history = postgres.NewJournal(pool)
		sinks = append(sinks, history)
	}

	var producer kafka.Producer
	if cfg.KafkaBrokers != "" {
		brokers := strings.Split(cfg.KafkaBrokers, ",")
		producer = kafka.NewProducer(brokers)
		defer func() { _ = producer.Close() }()
		sinks = append(sinks, kafka.NewJournalSink(producer, cfg.KafkaJournal))
	}

	// ── tracker ───────────────────────────────────────────────────────────────
	opts := []tracker.Option{
		tracker.WithLogger(logger),
		tracker.WithSinks(sinks...),
		tracker.WithQuietPeriod(cfg.QuietPeriod),
		tracker.WithRetention(cfg.RetainRecent, cfg.RetainWindow),
		tracker.WithRecentLimit(cfg.RecentLimit),
	}
	if producer != nil {
		opts = append(opts, tracker.WithAbortHook(func(ctx context.Context, taskID, reason string) {
			msg, _ := json.Marshal(map[string]string{"task_id": taskID, "action": "abort", "reason": reason})
			if err := producer.Publish(ctx, abortTopic, taskID, msg); err != nil {
				logger.Error("abort request publish failed",
					slog.String("task_id", taskID),
					slog.String("error", err.Error()),
				)
			}
		}))
	}
	tr := tracker.New(opts...)

	trackerDone := make(chan struct{})
	go func() {
		defer close(trackerDone)
		if err := tr.Run(runCtx); err != nil {
			logger.Error("tracker stopped", slog.String("error", err.Error()))
		}
	}()

	// ── ingestion ─────────────────────────────────────────────────────────────
	pipeline := ingest.NewPipeline(tr, logger)

	switch {
	case cfg.StreamURL != "":
		src := ingest.NewSSESource(cfg.StreamURL, cfg.StreamSessionID, pipeline, logger)
		go func() {
			if err := src.Run(runCtx); err != nil {
				logger.Error("sse source stopped", slog.String("error", err.Error()))
			}
		}()
	case cfg.KafkaBrokers != "":
		brokers := strings.Split(cfg.KafkaBrokers, ",")
		consumer := kafka.NewConsumer(brokers, cfg.KafkaEventsTopic, cfg.KafkaGroupID, logger)
		src := ingest.NewKafkaSource(consumer, pipeline, logger)
		go func() {
			if err := src.Run(runCtx); err != nil {
				logger.Error("kafka source stopped", slog.String("error", err.Error()))
			}
		}()
	default:
		logger.Warn("no stream source configured, serving API only")
	}

	// ── maintenance schedules ─────────────────────────────────────────────────
	sched := cron.New()
	if _, err := sched.AddFunc(cfg.PruneSchedule, func() {
		if _, err := tr.Prune(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("prune failed", slog.String("error", err.Error()))
		}
	}); err != nil {
		return fmt.Errorf("prune schedule: %w", err)
	}
	if _, err := sched.AddFunc(cfg.StallSchedule, func() {
		if _, err := tr.InterruptStalled(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("stall sweep failed", slog.String("error", err.Error()))
		}
	}); err != nil {
		return fmt.Errorf("stall schedule: %w", err)
	}
	sched.Start()
	defer sched.Stop()

	// ── HTTP server ───────────────────────────────────────────────────────────
	restHandler := handler.NewREST(tr, history, logger)

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.MaxBodySize(1 << 20)) // 1MB limit
	r.Get("/healthz", restHandler.Healthz)
	r.Get("/readyz", restHandler.Readyz)
	r.Route("/api/v1", func(r chi.Router) {
		if limiter != nil {
			r.Use(middleware.RateLimit(limiter, logger))
		}
		r.Post("/tasks", restHandler.CreateTask)
		r.Get("/tasks", restHandler.ListTasks)
		r.Get("/tasks/counts", restHandler.Counts)
		r.Delete("/tasks/terminal", restHandler.ClearTerminal)
		r.Post("/tasks/actions", restHandler.DispatchBatch)
		r.Get("/tasks/{id}", restHandler.GetTask)
		r.Post("/tasks/{id}/actions", restHandler.DispatchAction)
		r.Get("/tasks/{id}/history", restHandler.History)
		r.Get("/journal", restHandler.Journal)
		r.Get("/events", restHandler.Events)
	})

	httpSrv := &http.Server{
		Addr:        ":" + cfg.HTTPPort,
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		// No write timeout: /api/v1/events is a long-lived stream.
		IdleTimeout: 60 * time.Second,
	}

	// ── signal handling ───────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)

	// ── Prometheus metrics ────────────────────────────────────────────────────
	telemetry.StartMetricsServer(runCtx, cfg.MetricsAddr, logger)

	go func() {
		logger.Info("tracker HTTP starting", slog.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	<-quit
	logger.Info("shutting down...")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutCancel()
	if err := httpSrv.Shutdown(shutCtx); err != nil {
		logger.Error("HTTP shutdown error", slog.String("error", err.Error()))
	}

	// Stop the tracker after the HTTP server so in-flight requests
	// drain first; Run flushes the sink queue before returning.
	runCancel()
	<-trackerDone

	logger.Info("stopped")
	return nil
}
