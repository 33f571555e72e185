package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"cortex/internal/apperr"
	"cortex/internal/eventbus"
	"cortex/internal/queue"
)

type fakeProcessor struct {
	mu        sync.Mutex
	errs      map[uuid.UUID]error
	processed []uuid.UUID
}

func (p *fakeProcessor) Process(_ context.Context, id uuid.UUID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.processed = append(p.processed, id)
	return p.errs[id]
}

func (p *fakeProcessor) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.processed)
}

type fakeFailStore struct {
	mu     sync.Mutex
	failed []uuid.UUID
}

func (s *fakeFailStore) MarkFailed(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = append(s.failed, id)
	return nil
}

func newTestWorker(t *testing.T, proc *fakeProcessor, maxRetries int) (*Worker, *queue.DocumentQueue, *fakeFailStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	q := queue.New(rdb, zap.NewNop())
	store := &fakeFailStore{}
	return New(q, proc, store, eventbus.New(), zap.NewNop(), maxRetries), q, store
}

func TestWorkerSuccessSettlesEntry(t *testing.T) {
	ctx := context.Background()
	proc := &fakeProcessor{errs: map[uuid.UUID]error{}}
	w, q, _ := newTestWorker(t, proc, 3)

	docID := uuid.New()
	require.NoError(t, q.Enqueue(ctx, docID))

	gotID, raw, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, docID, gotID)

	w.handle(ctx, gotID, raw)

	require.Equal(t, 1, proc.count())
	inflight, err := q.ProcessingLen(ctx)
	require.NoError(t, err)
	require.Zero(t, inflight)
	retries, err := q.RetryCount(ctx, docID)
	require.NoError(t, err)
	require.Zero(t, retries)
}

func TestWorkerFailureLeavesEntryInFlight(t *testing.T) {
	ctx := context.Background()
	docID := uuid.New()
	proc := &fakeProcessor{errs: map[uuid.UUID]error{docID: errors.New("boom")}}
	w, q, _ := newTestWorker(t, proc, 3)

	require.NoError(t, q.Enqueue(ctx, docID))
	gotID, raw, err := q.Dequeue(ctx)
	require.NoError(t, err)

	w.handle(ctx, gotID, raw)

	// Not acknowledged: redelivery is the sweeper's job.
	inflight, err := q.ProcessingLen(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, inflight)
	retries, err := q.RetryCount(ctx, docID)
	require.NoError(t, err)
	require.Equal(t, 1, retries)
}

func TestWorkerQuarantinesExhaustedDocument(t *testing.T) {
	ctx := context.Background()
	docID := uuid.New()
	proc := &fakeProcessor{errs: map[uuid.UUID]error{}}
	w, q, store := newTestWorker(t, proc, 3)

	// Burn the whole failure budget.
	for i := 0; i < 3; i++ {
		_, err := q.IncrRetry(ctx, docID)
		require.NoError(t, err)
	}

	require.NoError(t, q.Enqueue(ctx, docID))
	gotID, raw, err := q.Dequeue(ctx)
	require.NoError(t, err)

	w.handle(ctx, gotID, raw)

	// No further attempt was made.
	require.Zero(t, proc.count())

	dlq, err := q.DLQLen(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, dlq)
	inflight, err := q.ProcessingLen(ctx)
	require.NoError(t, err)
	require.Zero(t, inflight)
	require.Equal(t, []uuid.UUID{docID}, store.failed)

	retries, err := q.RetryCount(ctx, docID)
	require.NoError(t, err)
	require.Zero(t, retries)
}

func TestDeadClaimEventuallyQuarantined(t *testing.T) {
	ctx := context.Background()
	docID := uuid.New()
	// The worker that claimed the document died, so every redelivery finds
	// the row held and conflicts.
	proc := &fakeProcessor{errs: map[uuid.UUID]error{
		docID: &apperr.ProcessingConflictError{ID: docID, Status: "PROCESSING"},
	}}
	w, q, store := newTestWorker(t, proc, 3)

	require.NoError(t, q.Enqueue(ctx, docID))

	// Each cycle is one delivery, one failed attempt, one sweep handing the
	// entry back out. Dequeue drops the sweeper's redelivery count, so the
	// entry keeps coming back until the failure budget quarantines it and
	// the document is finalized FAILED.
	for i := 0; i < 4; i++ {
		gotID, raw, err := q.Dequeue(ctx)
		require.NoError(t, err)
		require.Equal(t, docID, gotID)
		w.handle(ctx, gotID, raw)
		_, err = q.RequeueStale(ctx, 0, 3)
		require.NoError(t, err)
	}

	require.Equal(t, 3, proc.count())
	require.Equal(t, []uuid.UUID{docID}, store.failed)

	dlq, err := q.DLQLen(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, dlq)
	inflight, err := q.ProcessingLen(ctx)
	require.NoError(t, err)
	require.Zero(t, inflight)
	main, err := q.Len(ctx)
	require.NoError(t, err)
	require.Zero(t, main)
	retries, err := q.RetryCount(ctx, docID)
	require.NoError(t, err)
	require.Zero(t, retries)
}

func TestWorkerQuarantinesOrphanedJob(t *testing.T) {
	ctx := context.Background()
	docID := uuid.New()
	proc := &fakeProcessor{errs: map[uuid.UUID]error{
		docID: &apperr.DocumentNotFoundError{ID: docID},
	}}
	w, q, store := newTestWorker(t, proc, 3)

	require.NoError(t, q.Enqueue(ctx, docID))
	gotID, raw, err := q.Dequeue(ctx)
	require.NoError(t, err)

	w.handle(ctx, gotID, raw)

	// No document row exists, so no retry cycle: straight to the DLQ.
	dlq, err := q.DLQLen(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, dlq)
	inflight, err := q.ProcessingLen(ctx)
	require.NoError(t, err)
	require.Zero(t, inflight)
	require.Empty(t, store.failed)
}

func TestWorkerRunDrainsQueue(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	proc := &fakeProcessor{errs: map[uuid.UUID]error{}}
	w, q, _ := newTestWorker(t, proc, 3)

	require.NoError(t, q.Enqueue(ctx, uuid.New()))
	require.NoError(t, q.Enqueue(ctx, uuid.New()))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()

	require.Eventually(t, func() bool { return proc.count() == 2 },
		5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop after cancellation")
	}

	inflight, err := q.ProcessingLen(context.Background())
	require.NoError(t, err)
	require.Zero(t, inflight)
}

func TestSweeperSweepCountsActions(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	q := queue.New(rdb, zap.NewNop())

	// One in-flight entry, made stale by advancing the broker's view of time
	// is covered in the queue tests; here the pass over an empty processing
	// list must be a clean no-op.
	s := NewSweeper(q, zap.NewNop(), time.Minute, 5*time.Minute, 3)
	res, err := s.Sweep(ctx)
	require.NoError(t, err)
	require.Zero(t, res.Requeued)
	require.Zero(t, res.MovedToDLQ)
	require.Zero(t, res.Skipped)
}
