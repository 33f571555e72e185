// DLQ inspection and drain tool. Lists quarantined entries by default;
// -drain deletes the list after printing.
package main

import (
	"context"
	"encoding/json"
	"flag"
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
	var (
		drain = flag.Bool("drain", false, "delete the dead-letter queue after listing")
		limit = flag.Int64("limit", 100, "max entries to list")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal("invalid redis url", zap.Error(err))
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()

	q := queue.New(rdb, logger)

	entries, err := q.DLQEntries(ctx, 0, *limit-1)
	if err != nil {
		logger.Fatal("could not read DLQ", zap.Error(err))
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(entries)

	if *drain {
		n, err := q.DrainDLQ(ctx)
		if err != nil {
			logger.Fatal("drain failed", zap.Error(err))
		}
		logger.Info("dead-letter queue drained", zap.Int64("entries", n))
	}
}
