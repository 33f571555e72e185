package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"cortex/internal/config"
	"cortex/internal/embed"
	"cortex/internal/eventbus"
	"cortex/internal/filestore"
	"cortex/internal/logging"
	"cortex/internal/pipeline"
	"cortex/internal/queue"
	"cortex/internal/repository"
	"cortex/internal/vector"
	"cortex/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("starting worker",
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Bool("sweeper", cfg.EnableSweeper))

	repo, err := repository.NewRepository(ctx, cfg.DatabaseURL, cfg.DBPoolSize, cfg.MaxRetries)
	if err != nil {
		logger.Fatal("database connect failed", zap.Error(err))
	}
	defer repo.Close()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal("invalid redis url", zap.Error(err))
	}
	redisOpts.DialTimeout = cfg.RedisTimeout
	redisOpts.ReadTimeout = cfg.RedisTimeout
	redisOpts.WriteTimeout = cfg.RedisTimeout
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()

	q := queue.New(rdb, logger)
	if err := q.Ping(ctx); err != nil {
		logger.Fatal("broker unreachable", zap.Error(err))
	}

	index, err := vector.NewQdrant(cfg.QdrantHost, cfg.QdrantPort, cfg.QdrantAPIKey, cfg.EmbeddingDim)
	if err != nil {
		logger.Fatal("vector index connect failed", zap.Error(err))
	}
	defer index.Close()
	if err := index.EnsureCollection(ctx); err != nil {
		logger.Fatal("vector collection setup failed", zap.Error(err))
	}

	files, err := filestore.New(cfg.UploadDir)
	if err != nil {
		logger.Fatal("upload dir setup failed", zap.Error(err))
	}

	var embedder embed.Embedder
	if cfg.EmbedderKind == "openai" {
		embedder, err = embed.NewOpenAI(cfg.OpenAIModel)
		if err != nil {
			logger.Fatal("embedder setup failed", zap.Error(err))
		}
	} else {
		embedder = embed.NewMock(cfg.EmbeddingDim)
	}

	bus := eventbus.New()
	defer bus.Close()

	processor := pipeline.NewProcessor(repo, files, embedder, index, bus, logger,
		cfg.ChunkSize, cfg.ChunkOverlap)
	w := worker.New(q, processor, repo, bus, logger, cfg.MaxRetries)

	// Metrics and probe listener for the worker process.
	if port := os.Getenv("WORKER_METRICS_PORT"); port != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"status":"ok"}`))
			})
			if err := http.ListenAndServe(":"+port, mux); err != nil {
				logger.Error("metrics listener failed", zap.Error(err))
			}
		}()
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.Run(ctx)
	}()

	if cfg.EnableSweeper {
		sweeper := worker.NewSweeper(q, logger, cfg.SweepInterval, cfg.VisibilityTimeout, cfg.MaxRetries)
		wg.Add(1)
		go func() {
			defer wg.Done()
			sweeper.Run(ctx)
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))

	cancel()
	wg.Wait()
	logger.Info("worker stopped")
}
