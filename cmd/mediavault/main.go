// MediaVault server: ingests media into a searchable, multi-tenant
// knowledge store. One binary runs the HTTP API and the queue workers.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/mediavault/mediavault/pkg/api"
	"github.com/mediavault/mediavault/pkg/blob"
	"github.com/mediavault/mediavault/pkg/config"
	"github.com/mediavault/mediavault/pkg/database"
	"github.com/mediavault/mediavault/pkg/embed"
	"github.com/mediavault/mediavault/pkg/extract"
	"github.com/mediavault/mediavault/pkg/llm"
	"github.com/mediavault/mediavault/pkg/media"
	"github.com/mediavault/mediavault/pkg/metrics"
	"github.com/mediavault/mediavault/pkg/pipeline"
	"github.com/mediavault/mediavault/pkg/queue"
	"github.com/mediavault/mediavault/pkg/services"
	"github.com/mediavault/mediavault/pkg/transcribe"
	"github.com/mediavault/mediavault/pkg/vision"
)

// resolvePodID determines the pod identifier for multi-replica
// coordination. Priority: POD_ID env > HOSTNAME env > "local".
func resolvePodID() string {
	if id := os.Getenv("POD_ID"); id != "" {
		return id
	}
	if hostname := os.Getenv("HOSTNAME"); hostname != "" {
		return hostname
	}
	return "local"
}

func main() {
	envFile := flag.String("env-file", ".env", "Path to the .env file")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", *envFile, "error", err)
	}

	podID := resolvePodID()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting MediaVault", "http_port", cfg.HTTPPort, "pod_id", podID)

	ctx := context.Background()

	// Database: connect and apply embedded migrations.
	dbClient, err := database.NewClient(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database")

	// Optional redis cache for embeddings.
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			slog.Warn("Redis unreachable, embedding cache disabled", "addr", cfg.RedisAddr, "error", err)
			redisClient = nil
		} else {
			slog.Info("Embedding cache enabled", "addr", cfg.RedisAddr)
		}
	}

	encoder, err := embed.NewEncoder(cfg.Providers, redisClient)
	if err != nil {
		slog.Error("Failed to initialize embedding encoder", "error", err)
		os.Exit(1)
	}

	llmClient, err := llm.NewClient(cfg.Providers)
	if err != nil {
		slog.Error("Failed to initialize LLM client", "error", err)
		os.Exit(1)
	}

	// Domain services.
	creditService := services.NewCreditService(dbClient.DB(), cfg.Tiers)
	jobService := services.NewJobService(dbClient.DB(), creditService)
	memoryService := services.NewMemoryService(dbClient.DB(), encoder)
	collectionService := services.NewCollectionService(dbClient.DB())
	slog.Info("Services initialized")

	// One-time cleanup of jobs this pod abandoned on its last run.
	if err := queue.CleanupStartupOrphans(ctx, jobService, podID); err != nil {
		slog.Error("Failed to cleanup startup orphans", "error", err)
		// Non-fatal, the periodic scan will catch them.
	}

	// Media pipeline components.
	blobStore, err := blob.NewLocalStore(cfg.DataDir)
	if err != nil {
		slog.Error("Failed to initialize blob store", "error", err)
		os.Exit(1)
	}
	acquirer, err := media.NewAcquirer(cfg.DataDir, os.Getenv("COOKIE_FILE"))
	if err != nil {
		slog.Error("Failed to initialize media acquirer", "error", err)
		os.Exit(1)
	}
	sampler, err := media.NewFrameSampler(cfg.Vision.FrameInterval, cfg.Vision.MaxFrames)
	if err != nil {
		slog.Error("Failed to initialize frame sampler", "error", err)
		os.Exit(1)
	}

	transcriber := transcribe.NewService(
		transcribe.NewOpenAIClient(cfg.Providers), cfg.Speech, cfg.DetectSpeakers)
	analyzer := vision.NewAnalyzer(llmClient, cfg.Vision.MaxInFlight)
	extractor := extract.NewExtractor(llmClient)

	m := metrics.New()
	encoder.SetCacheCounters(m.EmbedCacheHits, m.EmbedCacheMiss)
	creditService.SetRefundCounter(m.CreditsRefunded)

	executor := pipeline.NewExecutor(
		jobService, creditService, memoryService, collectionService,
		acquirer, sampler, transcriber, analyzer, extractor, blobStore, m)

	// Dispatch: durable DB queue with a worker pool, or inline goroutines
	// on single-node deployments.
	var (
		dispatcher queue.Dispatcher
		canceller  api.JobCanceller
		pool       *queue.WorkerPool
		inline     *queue.InlineDispatcher
	)
	if cfg.InlineDispatch {
		inline = queue.NewInlineDispatcher(podID, jobService, &cfg.Queue, executor, m)
		dispatcher = inline
		canceller = inline
		slog.Info("Inline dispatch enabled; worker pool disabled")
	} else {
		pool = queue.NewWorkerPool(podID, jobService, &cfg.Queue, executor, m)
		if err := pool.Start(ctx); err != nil {
			slog.Error("Failed to start worker pool", "error", err)
			os.Exit(1)
		}
		dispatcher = queue.NewQueueDispatcher()
		canceller = pool
	}

	// HTTP server.
	server := api.NewServer(cfg, dbClient.DB(), jobService, creditService,
		memoryService, collectionService, dispatcher, canceller, pool, blobStore, m)
	httpServer := server.HTTPServer()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("MediaVault started", "pod_id", podID, "workers", cfg.Queue.WorkerCount)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// Drain workers before closing the HTTP listener so in-flight jobs
	// reach a terminal state.
	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Queue.GracefulShutdownTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		if pool != nil {
			pool.Stop()
		}
		if inline != nil {
			inline.Wait()
		}
		close(done)
	}()
	select {
	case <-done:
		slog.Info("Workers stopped gracefully")
	case <-shutdownCtx.Done():
		slog.Warn("Worker shutdown timeout exceeded")
	}

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
	slog.Info("MediaVault shutdown complete")
}
