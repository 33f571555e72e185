// Package queue implements the broker-backed job queue with at-least-once
// delivery. Three Redis lists carry the pipeline: main (awaiting work),
// processing (in-flight, claimed but unacknowledged) and the dead-letter
// list for poisoned or exhausted entries.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"cortex/internal/apperr"
	"cortex/internal/models"
)

const (
	MainQueue       = "document_ingestion_queue"
	ProcessingQueue = "document_processing_queue"
	DeadLetterQueue = "document_dead_letter_queue"

	retryKeyPrefix = "retry:"

	// Bounded blocking wait on dequeue. Short enough that workers notice
	// shutdown promptly, long enough to avoid hot-looping an idle broker.
	dequeueBlock = 2 * time.Second
)

// DocumentQueue is safe for concurrent use; all operations go through the
// shared go-redis client.
type DocumentQueue struct {
	rdb *redis.Client
	log *zap.Logger
	now func() time.Time
}

func New(rdb *redis.Client, log *zap.Logger) *DocumentQueue {
	return &DocumentQueue{rdb: rdb, log: log.Named("queue"), now: time.Now}
}

// Enqueue appends a fresh entry for the document to the tail of the main
// queue. The caller must have committed the document first
// (commit-then-publish) and must compensate if this fails.
func (q *DocumentQueue) Enqueue(ctx context.Context, documentID uuid.UUID) error {
	payload, _ := json.Marshal(models.QueueEntry{DocumentID: documentID.String()})
	if err := q.rdb.RPush(ctx, MainQueue, payload).Err(); err != nil {
		return apperr.Infra("broker", err)
	}
	return nil
}

// Dequeue atomically moves the head of the main queue to the processing
// queue (BRPOPLPUSH) and enriches the entry with a started_at timestamp for
// the visibility-timeout sweeper. Returns (uuid.Nil, nil, nil) on an empty
// queue. Malformed entries are quarantined to the DLQ and reported as empty.
//
// The remove-then-prepend enrichment is not atomic with the pop; the sweeper
// treats timestamp-less entries as mid-enrichment and skips them.
func (q *DocumentQueue) Dequeue(ctx context.Context) (uuid.UUID, []byte, error) {
	raw, err := q.rdb.BRPopLPush(ctx, MainQueue, ProcessingQueue, dequeueBlock).Result()
	if errors.Is(err, redis.Nil) {
		return uuid.Nil, nil, nil
	}
	if err != nil {
		return uuid.Nil, nil, apperr.Infra("broker", err)
	}

	var entry models.QueueEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		q.quarantine(ctx, raw, fmt.Sprintf("parse error: %v", err))
		return uuid.Nil, nil, nil
	}
	docID, err := uuid.Parse(entry.DocumentID)
	if err != nil || entry.DocumentID == "" {
		q.quarantine(ctx, raw, fmt.Sprintf("invalid document_id %q", entry.DocumentID))
		return uuid.Nil, nil, nil
	}

	startedAt := float64(q.now().UnixNano()) / float64(time.Second)
	enriched, _ := json.Marshal(models.QueueEntry{
		DocumentID: entry.DocumentID,
		StartedAt:  &startedAt,
	})
	// Replace the original with the enriched form. Acknowledge matches exact
	// bytes, so the enriched payload is what we hand back. Every delivery
	// restarts the visibility window and drops the redelivery count: once an
	// entry reaches a worker, the per-document failure counter is the sole
	// DLQ authority and its quarantine path finalizes the document.
	if err := q.rdb.LRem(ctx, ProcessingQueue, 1, raw).Err(); err != nil {
		return uuid.Nil, nil, apperr.Infra("broker", err)
	}
	if err := q.rdb.LPush(ctx, ProcessingQueue, enriched).Err(); err != nil {
		return uuid.Nil, nil, apperr.Infra("broker", err)
	}
	return docID, enriched, nil
}

// Acknowledge removes one occurrence of the exact in-flight entry. Must only
// be called after the consumer has observed successful completion. A missing
// entry is logged but not an error: the sweeper may have already requeued it.
func (q *DocumentQueue) Acknowledge(ctx context.Context, raw []byte) error {
	removed, err := q.rdb.LRem(ctx, ProcessingQueue, 1, string(raw)).Result()
	if err != nil {
		return apperr.Infra("broker", err)
	}
	if removed == 0 {
		// Fall back to the pre-enrichment form in case the entry was never
		// enriched (crash in the window between pop and replace).
		var entry models.QueueEntry
		if jsonErr := json.Unmarshal(raw, &entry); jsonErr == nil {
			legacy, _ := json.Marshal(models.QueueEntry{DocumentID: entry.DocumentID})
			removed, _ = q.rdb.LRem(ctx, ProcessingQueue, 1, legacy).Result()
		}
	}
	if removed == 0 {
		q.log.Warn("job not found in processing queue during ack",
			zap.ByteString("payload", truncate(raw, 100)))
	}
	return nil
}

// MoveToDLQ appends a quarantine record. Encoding never fails the operation;
// a stringified fallback is used instead.
func (q *DocumentQueue) MoveToDLQ(ctx context.Context, raw []byte, reason string) error {
	entry := models.DLQEntry{
		Payload:   string(raw),
		Reason:    reason,
		Timestamp: float64(q.now().UnixNano()) / float64(time.Second),
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		payload = []byte(fmt.Sprintf(`{"payload":%q,"reason":%q}`, string(raw), reason))
	}
	if err := q.rdb.RPush(ctx, DeadLetterQueue, payload).Err(); err != nil {
		return apperr.Infra("broker", err)
	}
	q.log.Error("moved entry to DLQ",
		zap.String("reason", reason),
		zap.ByteString("payload", truncate(raw, 100)))
	return nil
}

func (q *DocumentQueue) quarantine(ctx context.Context, raw string, reason string) {
	if err := q.MoveToDLQ(ctx, []byte(raw), reason); err != nil {
		q.log.Error("failed to quarantine entry", zap.Error(err))
		return
	}
	// Entry now lives in the DLQ; drop it from the in-flight list.
	if err := q.rdb.LRem(ctx, ProcessingQueue, 1, raw).Err(); err != nil {
		q.log.Error("failed to remove quarantined entry from processing queue", zap.Error(err))
	}
}

// Len returns the main queue depth, used for backpressure.
func (q *DocumentQueue) Len(ctx context.Context) (int64, error) {
	n, err := q.rdb.LLen(ctx, MainQueue).Result()
	return n, apperr.Infra("broker", err)
}

// ProcessingLen returns the number of in-flight jobs.
func (q *DocumentQueue) ProcessingLen(ctx context.Context) (int64, error) {
	n, err := q.rdb.LLen(ctx, ProcessingQueue).Result()
	return n, apperr.Infra("broker", err)
}

// DLQLen returns the dead-letter queue depth.
func (q *DocumentQueue) DLQLen(ctx context.Context) (int64, error) {
	n, err := q.rdb.LLen(ctx, DeadLetterQueue).Result()
	return n, apperr.Infra("broker", err)
}

// SweepResult summarizes one pass over the processing queue.
type SweepResult struct {
	Requeued   int `json:"requeued"`
	MovedToDLQ int `json:"moved_to_dlq"`
	Skipped    int `json:"skipped"`
}

// RequeueStale scans the processing queue and requeues entries whose
// visibility window has expired. Entries without a started_at timestamp are
// mid-enrichment and skipped. Entries at the redelivery budget go to the
// DLQ; Dequeue resets the count, so only entries that never reach a worker
// can accumulate one.
// Safe to run from multiple processes: each removal is atomic, and an entry
// already removed by a peer is simply not acted on twice.
func (q *DocumentQueue) RequeueStale(ctx context.Context, maxAge time.Duration, maxRetries int) (SweepResult, error) {
	var res SweepResult

	items, err := q.rdb.LRange(ctx, ProcessingQueue, 0, -1).Result()
	if err != nil {
		return res, apperr.Infra("broker", err)
	}

	now := float64(q.now().UnixNano()) / float64(time.Second)

	for _, item := range items {
		var entry models.QueueEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil || entry.DocumentID == "" {
			q.quarantine(ctx, item, fmt.Sprintf("malformed in processing queue: %v", err))
			res.MovedToDLQ++
			continue
		}

		if entry.StartedAt == nil {
			res.Skipped++
			continue
		}

		age := now - *entry.StartedAt
		if age < maxAge.Seconds() {
			res.Skipped++
			continue
		}

		retries := 0
		if entry.RetryCount != nil {
			retries = *entry.RetryCount
		}

		if removed, err := q.rdb.LRem(ctx, ProcessingQueue, 1, item).Result(); err != nil || removed == 0 {
			// A concurrent sweeper got there first.
			continue
		}

		if retries >= maxRetries {
			if err := q.MoveToDLQ(ctx, []byte(item), fmt.Sprintf("exceeded %d retries after %.0fs", maxRetries, age)); err != nil {
				return res, err
			}
			res.MovedToDLQ++
			continue
		}

		// Requeue at the head with the retry count bumped; started_at is
		// stripped so the next dequeue stamps a fresh window.
		next := retries + 1
		requeued, _ := json.Marshal(models.QueueEntry{
			DocumentID: entry.DocumentID,
			RetryCount: &next,
		})
		if err := q.rdb.LPush(ctx, MainQueue, requeued).Err(); err != nil {
			return res, apperr.Infra("broker", err)
		}
		res.Requeued++
		q.log.Info("requeued stale job",
			zap.String("document_id", entry.DocumentID),
			zap.Int("retry", next),
			zap.Float64("age_seconds", age))
	}

	if res.Requeued > 0 || res.MovedToDLQ > 0 {
		q.log.Info("stale job sweep",
			zap.Int("requeued", res.Requeued),
			zap.Int("moved_to_dlq", res.MovedToDLQ),
			zap.Int("skipped", res.Skipped))
	}
	return res, nil
}

// RetryCount reads the per-document consecutive-failure counter.
func (q *DocumentQueue) RetryCount(ctx context.Context, id uuid.UUID) (int, error) {
	n, err := q.rdb.Get(ctx, retryKeyPrefix+id.String()).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, apperr.Infra("broker", err)
	}
	return n, nil
}

// IncrRetry bumps the per-document failure counter and returns the new value.
func (q *DocumentQueue) IncrRetry(ctx context.Context, id uuid.UUID) (int64, error) {
	n, err := q.rdb.Incr(ctx, retryKeyPrefix+id.String()).Result()
	return n, apperr.Infra("broker", err)
}

// ClearRetry deletes the per-document failure counter.
func (q *DocumentQueue) ClearRetry(ctx context.Context, id uuid.UUID) error {
	return apperr.Infra("broker", q.rdb.Del(ctx, retryKeyPrefix+id.String()).Err())
}

// DLQEntries reads a range of dead-letter records for the admin surface.
func (q *DocumentQueue) DLQEntries(ctx context.Context, start, stop int64) ([]models.DLQEntry, error) {
	items, err := q.rdb.LRange(ctx, DeadLetterQueue, start, stop).Result()
	if err != nil {
		return nil, apperr.Infra("broker", err)
	}
	entries := make([]models.DLQEntry, 0, len(items))
	for _, item := range items {
		var e models.DLQEntry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			e = models.DLQEntry{Payload: item, Reason: "unparseable DLQ record"}
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// DrainDLQ deletes the dead-letter list and returns how many entries it held.
func (q *DocumentQueue) DrainDLQ(ctx context.Context) (int64, error) {
	n, err := q.rdb.LLen(ctx, DeadLetterQueue).Result()
	if err != nil {
		return 0, apperr.Infra("broker", err)
	}
	if err := q.rdb.Del(ctx, DeadLetterQueue).Err(); err != nil {
		return 0, apperr.Infra("broker", err)
	}
	return n, nil
}

// Ping verifies broker connectivity for readiness checks.
func (q *DocumentQueue) Ping(ctx context.Context) error {
	return apperr.Infra("broker", q.rdb.Ping(ctx).Err())
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
