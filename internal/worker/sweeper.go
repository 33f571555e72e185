package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"cortex/internal/metrics"
	"cortex/internal/queue"
)

// Sweeper periodically reclaims in-flight jobs whose visibility window has
// expired, the recovery path for workers that died mid-job.
type Sweeper struct {
	queue      *queue.DocumentQueue
	log        *zap.Logger
	interval   time.Duration
	maxAge     time.Duration
	maxRetries int
}

func NewSweeper(q *queue.DocumentQueue, log *zap.Logger, interval, maxAge time.Duration, maxRetries int) *Sweeper {
	return &Sweeper{
		queue:      q,
		log:        log.Named("sweeper"),
		interval:   interval,
		maxAge:     maxAge,
		maxRetries: maxRetries,
	}
}

// Run blocks until ctx is cancelled, sweeping once per interval.
func (s *Sweeper) Run(ctx context.Context) error {
	s.log.Info("sweeper started",
		zap.Duration("interval", s.interval),
		zap.Duration("visibility_timeout", s.maxAge))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("sweeper stopping")
			return nil
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one pass. Exposed for the one-shot maintenance command.
func (s *Sweeper) Sweep(ctx context.Context) (queue.SweepResult, error) {
	res, err := s.queue.RequeueStale(ctx, s.maxAge, s.maxRetries)
	if err != nil {
		s.log.Error("sweep failed", zap.Error(err))
		return res, err
	}
	metrics.SweepResults.WithLabelValues("requeued").Add(float64(res.Requeued))
	metrics.SweepResults.WithLabelValues("moved_to_dlq").Add(float64(res.MovedToDLQ))
	metrics.SweepResults.WithLabelValues("skipped").Add(float64(res.Skipped))
	return res, nil
}
