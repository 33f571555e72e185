package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"cortex/internal/api"
	"cortex/internal/config"
	"cortex/internal/embed"
	"cortex/internal/eventbus"
	"cortex/internal/filestore"
	"cortex/internal/ingest"
	"cortex/internal/llm"
	"cortex/internal/logging"
	"cortex/internal/queue"
	"cortex/internal/repository"
	"cortex/internal/search"
	"cortex/internal/vector"
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

	logger.Info("starting api server", zap.String("port", cfg.APIPort))

	repo, err := repository.NewRepository(ctx, cfg.DatabaseURL, cfg.DBPoolSize, cfg.MaxRetries)
	if err != nil {
		logger.Fatal("database connect failed", zap.Error(err))
	}
	defer repo.Close()

	if os.Getenv("SKIP_MIGRATION") != "true" {
		if err := repo.Migrate(ctx, cfg.SchemaPath); err != nil {
			logger.Fatal("migration failed", zap.Error(err))
		}
		logger.Info("schema applied", zap.String("path", cfg.SchemaPath))
	}

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

	embedder, generator, err := buildModelClients(cfg)
	if err != nil {
		logger.Fatal("model client setup failed", zap.Error(err))
	}

	bus := eventbus.New()
	defer bus.Close()

	ingestSvc := ingest.NewService(repo, q, files, bus, logger, cfg.QueueMaxLength)
	searchSvc := search.NewService(embedder, index, generator, logger)

	server := api.NewServer(ingestSvc, searchSvc, repo, q, bus, logger,
		cfg.APIPort, cfg.AdminJWTSecret, map[string]api.HealthCheck{
			"store":  repo.Ping,
			"broker": q.Ping,
			"vector": index.HealthCheck,
		})

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			logger.Fatal("server failed", zap.Error(err))
		}
		return
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	cancel()
	logger.Info("api server stopped")
}

func buildModelClients(cfg *config.Config) (embed.Embedder, llm.Generator, error) {
	var embedder embed.Embedder
	if cfg.EmbedderKind == "openai" {
		client, err := embed.NewOpenAI(cfg.OpenAIModel)
		if err != nil {
			return nil, nil, err
		}
		embedder = client
	} else {
		embedder = embed.NewMock(cfg.EmbeddingDim)
	}

	var generator llm.Generator
	if cfg.LLMKind == "openai" {
		client, err := llm.NewOpenAI()
		if err != nil {
			return nil, nil, err
		}
		generator = client
	} else {
		generator = llm.NewMock()
	}
	return embedder, generator, nil
}
