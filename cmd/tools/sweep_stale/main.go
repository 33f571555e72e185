// One-shot stale-job sweep, for operators and cron. The long-running worker
// normally carries the sweeper; this exists for recovery when it does not.
package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"cortex/internal/config"
	"cortex/internal/logging"
	"cortex/internal/queue"
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

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal("invalid redis url", zap.Error(err))
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()

	q := queue.New(rdb, logger)
	res, err := q.RequeueStale(ctx, cfg.VisibilityTimeout, cfg.MaxRetries)
	if err != nil {
		logger.Fatal("sweep failed", zap.Error(err))
	}

	json.NewEncoder(os.Stdout).Encode(res)
}
