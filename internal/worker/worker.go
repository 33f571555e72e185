// Package worker runs the consume side of the pipeline: the dequeue loop
// that drives document processing and the sweeper that reclaims jobs from
// dead workers.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"cortex/internal/apperr"
	"cortex/internal/eventbus"
	"cortex/internal/metrics"
	"cortex/internal/queue"
)

// JobProcessor executes one document job. A nil return settles the queue
// entry; an error leaves it in-flight for redelivery.
type JobProcessor interface {
	Process(ctx context.Context, documentID uuid.UUID) error
}

// FailureStore finalizes documents whose jobs are being quarantined.
type FailureStore interface {
	MarkFailed(ctx context.Context, id uuid.UUID) error
}

const errorBackoff = 5 * time.Second

// Worker consumes the main queue one job at a time. Run multiple instances
// for parallelism; correctness comes from the row locks and the exact-bytes
// acknowledge, not from worker coordination.
type Worker struct {
	queue      *queue.DocumentQueue
	processor  JobProcessor
	store      FailureStore
	bus        *eventbus.Bus
	log        *zap.Logger
	maxRetries int
}

func New(q *queue.DocumentQueue, processor JobProcessor, store FailureStore, bus *eventbus.Bus, log *zap.Logger, maxRetries int) *Worker {
	return &Worker{
		queue:      q,
		processor:  processor,
		store:      store,
		bus:        bus,
		log:        log.Named("worker"),
		maxRetries: maxRetries,
	}
}

// Run blocks until ctx is cancelled. Broker errors back off and retry; they
// never kill the loop.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("worker started", zap.Int("max_retries", w.maxRetries))
	for {
		if ctx.Err() != nil {
			w.log.Info("worker stopping")
			return nil
		}

		docID, raw, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				w.log.Info("worker stopping")
				return nil
			}
			w.log.Error("dequeue failed", zap.Error(err))
			select {
			case <-time.After(errorBackoff):
			case <-ctx.Done():
			}
			continue
		}
		if docID == uuid.Nil {
			// Empty queue or quarantined entry; the blocking pop already waited.
			continue
		}

		w.handle(ctx, docID, raw)
	}
}

// handle settles one dequeued entry. The per-document failure counter is
// checked before any work: a document that has burned its budget goes to
// the DLQ without another attempt.
func (w *Worker) handle(ctx context.Context, docID uuid.UUID, raw []byte) {
	retries, err := w.queue.RetryCount(ctx, docID)
	if err != nil {
		// Leave the entry in-flight; the sweeper will redeliver it.
		w.log.Error("could not read retry counter",
			zap.String("document_id", docID.String()), zap.Error(err))
		return
	}

	if retries >= w.maxRetries {
		w.quarantine(ctx, docID, raw, retries)
		return
	}

	if err := w.processor.Process(ctx, docID); err != nil {
		var notFound *apperr.DocumentNotFoundError
		if errors.As(err, &notFound) {
			// No row to retry against: the entry is orphaned, and redelivery
			// can never change that. Straight to the DLQ.
			w.orphan(ctx, docID, raw)
			return
		}
		n, incrErr := w.queue.IncrRetry(ctx, docID)
		if incrErr != nil {
			w.log.Error("could not bump retry counter",
				zap.String("document_id", docID.String()), zap.Error(incrErr))
		}
		// No acknowledge: the entry stays in-flight until the visibility
		// window expires and the sweeper hands it back out.
		w.log.Warn("processing attempt failed",
			zap.String("document_id", docID.String()),
			zap.Int64("consecutive_failures", n),
			zap.Error(err))
		return
	}

	if err := w.queue.ClearRetry(ctx, docID); err != nil {
		w.log.Warn("could not clear retry counter",
			zap.String("document_id", docID.String()), zap.Error(err))
	}
	if err := w.queue.Acknowledge(ctx, raw); err != nil {
		w.log.Error("acknowledge failed",
			zap.String("document_id", docID.String()), zap.Error(err))
	}
}

// orphan quarantines a job whose document no longer exists.
func (w *Worker) orphan(ctx context.Context, docID uuid.UUID, raw []byte) {
	w.log.Warn("quarantining job for unknown document", zap.String("document_id", docID.String()))
	if err := w.queue.MoveToDLQ(ctx, raw, "document not found"); err != nil {
		w.log.Error("could not move job to DLQ",
			zap.String("document_id", docID.String()), zap.Error(err))
		return
	}
	if err := w.queue.Acknowledge(ctx, raw); err != nil {
		w.log.Error("acknowledge failed after DLQ move",
			zap.String("document_id", docID.String()), zap.Error(err))
	}
	if err := w.queue.ClearRetry(ctx, docID); err != nil {
		w.log.Warn("could not clear retry counter",
			zap.String("document_id", docID.String()), zap.Error(err))
	}

	metrics.JobsProcessed.WithLabelValues("dlq").Inc()
	w.bus.Publish(eventbus.Event{
		Type:       eventbus.DocumentDLQ,
		DocumentID: docID.String(),
		Data:       map[string]any{"reason": "document not found"},
	})
}

func (w *Worker) quarantine(ctx context.Context, docID uuid.UUID, raw []byte, retries int) {
	reason := fmt.Sprintf("exceeded %d consecutive failed attempts", retries)
	if err := w.queue.MoveToDLQ(ctx, raw, reason); err != nil {
		w.log.Error("could not move job to DLQ",
			zap.String("document_id", docID.String()), zap.Error(err))
		return
	}
	if err := w.store.MarkFailed(ctx, docID); err != nil {
		w.log.Error("could not finalize quarantined document",
			zap.String("document_id", docID.String()), zap.Error(err))
	}
	if err := w.queue.Acknowledge(ctx, raw); err != nil {
		w.log.Error("acknowledge failed after DLQ move",
			zap.String("document_id", docID.String()), zap.Error(err))
	}
	if err := w.queue.ClearRetry(ctx, docID); err != nil {
		w.log.Warn("could not clear retry counter",
			zap.String("document_id", docID.String()), zap.Error(err))
	}

	metrics.JobsProcessed.WithLabelValues("dlq").Inc()
	w.bus.Publish(eventbus.Event{
		Type:       eventbus.DocumentDLQ,
		DocumentID: docID.String(),
		Data:       map[string]any{"reason": reason},
	})
}
