package ingest

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"cortex/internal/apperr"
	"cortex/internal/eventbus"
	"cortex/internal/models"
	"cortex/internal/queue"
)

type memStore struct {
	mu       sync.Mutex
	byID     map[uuid.UUID]*models.Document
	bySource map[string]uuid.UUID

	// onCreate runs after a successful insert, before the caller regains
	// control. Used to inject broker failures into the publish step.
	onCreate func()
}

func newMemStore() *memStore {
	return &memStore{
		byID:     make(map[uuid.UUID]*models.Document),
		bySource: make(map[string]uuid.UUID),
	}
}

func (s *memStore) Create(_ context.Context, source string) (*models.Document, error) {
	s.mu.Lock()
	if _, ok := s.bySource[source]; ok {
		s.mu.Unlock()
		return nil, &apperr.DuplicateSourceError{Source: source}
	}
	doc := &models.Document{
		ID: uuid.New(), Source: source,
		Status:    models.StatusPending,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	s.byID[doc.ID] = doc
	s.bySource[source] = doc.ID
	hook := s.onCreate
	s.mu.Unlock()

	if hook != nil {
		hook()
	}
	copied := *doc
	return &copied, nil
}

func (s *memStore) GetBySource(_ context.Context, source string) (*models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.bySource[source]
	if !ok {
		return nil, nil
	}
	copied := *s.byID[id]
	return &copied, nil
}

func (s *memStore) UpdateStatus(_ context.Context, id uuid.UUID, target models.DocumentStatus) (*models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.byID[id]
	if !ok {
		return nil, &apperr.DocumentNotFoundError{ID: id}
	}
	doc.Status = target
	copied := *doc
	return &copied, nil
}

func (s *memStore) WithTx(_ context.Context, fn func(tx pgx.Tx) error) error {
	return fn(nil)
}

func (s *memStore) GetForUpdateTx(_ context.Context, _ pgx.Tx, id uuid.UUID) (*models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.byID[id]
	if !ok {
		return nil, nil
	}
	copied := *doc
	return &copied, nil
}

func (s *memStore) SetFilePathTx(_ context.Context, _ pgx.Tx, id uuid.UUID, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.byID[id]
	if !ok {
		return &apperr.DocumentNotFoundError{ID: id}
	}
	doc.FilePath = path
	return nil
}

func (s *memStore) get(id uuid.UUID) *models.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byID[id]
}

type memFiles struct {
	mu      sync.Mutex
	saved   map[string]string
	deleted []string
}

func newMemFiles() *memFiles {
	return &memFiles{saved: make(map[string]string)}
}

func (f *memFiles) Save(documentID uuid.UUID, originalName string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	path := fmt.Sprintf("/uploads/%s_%s", documentID, originalName)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved[path] = string(data)
	return path, nil
}

func (f *memFiles) Delete(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.saved, path)
	f.deleted = append(f.deleted, path)
	return nil
}

func newTestService(t *testing.T, store *memStore, maxDepth int64) (*Service, *queue.DocumentQueue, *memFiles, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	q := queue.New(rdb, zap.NewNop())
	files := newMemFiles()
	return NewService(store, q, files, eventbus.New(), zap.NewNop(), maxDepth), q, files, mr
}

func TestIngestCreatesAndEnqueues(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	svc, q, _, _ := newTestService(t, store, 100)

	doc, err := svc.Ingest(ctx, "s3://bucket/report.pdf")
	require.NoError(t, err)
	require.Equal(t, models.StatusPending, doc.Status)

	depth, err := q.Len(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, depth)

	gotID, _, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, doc.ID, gotID)
}

func TestIngestDuplicateSourceReplays(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	svc, q, _, _ := newTestService(t, store, 100)

	first, err := svc.Ingest(ctx, "dup-source")
	require.NoError(t, err)

	second, err := svc.Ingest(ctx, "dup-source")
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	// Replay never enqueues a second job.
	depth, err := q.Len(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, depth)
}

func TestIngestConcurrentSameSource(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	svc, q, _, _ := newTestService(t, store, 100)

	// Racing ingests of one source: exactly one insert wins, the rest replay
	// off the unique index. Everyone sees the same document and only the
	// winner publishes a job.
	const racers = 8
	type outcome struct {
		doc *models.Document
		err error
	}
	outcomes := make(chan outcome, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			doc, err := svc.Ingest(ctx, "contended-source")
			outcomes <- outcome{doc, err}
		}()
	}
	wg.Wait()
	close(outcomes)

	ids := make(map[uuid.UUID]struct{})
	for res := range outcomes {
		require.NoError(t, res.err)
		ids[res.doc.ID] = struct{}{}
	}
	require.Len(t, ids, 1)

	depth, err := q.Len(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, depth)
	require.Len(t, store.byID, 1)
}

func TestIngestBackpressure(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	svc, q, _, _ := newTestService(t, store, 1)

	require.NoError(t, q.Enqueue(ctx, uuid.New()))

	_, err := svc.Ingest(ctx, "rejected-source")
	var full *apperr.QueueFullError
	require.ErrorAs(t, err, &full)
	require.EqualValues(t, 1, full.Current)
	require.Empty(t, store.byID)
}

func TestIngestCompensatesWhenEnqueueFails(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	svc, _, _, mr := newTestService(t, store, 100)

	// Broker dies after the document commits but before the publish.
	store.onCreate = func() { mr.SetError("broker down") }

	_, err := svc.Ingest(ctx, "orphan-source")
	require.Error(t, err)

	mr.SetError("")
	id := store.bySource["orphan-source"]
	require.Equal(t, models.StatusFailed, store.get(id).Status)
}

func TestUploadAttachesFileAndEnqueues(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	svc, q, files, _ := newTestService(t, store, 100)

	doc, err := store.Create(ctx, "upload-me")
	require.NoError(t, err)

	updated, err := svc.Upload(ctx, doc.ID, "notes.txt", strings.NewReader("file body"))
	require.NoError(t, err)
	require.NotEmpty(t, updated.FilePath)
	require.Equal(t, updated.FilePath, store.get(doc.ID).FilePath)
	require.Equal(t, "file body", files.saved[updated.FilePath])

	depth, err := q.Len(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, depth)
}

func TestUploadUnknownDocument(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	svc, q, files, _ := newTestService(t, store, 100)

	_, err := svc.Upload(ctx, uuid.New(), "notes.txt", strings.NewReader("x"))
	var notFound *apperr.DocumentNotFoundError
	require.ErrorAs(t, err, &notFound)

	// The orphaned file is cleaned up and nothing is enqueued.
	require.Len(t, files.deleted, 1)
	depth, err := q.Len(ctx)
	require.NoError(t, err)
	require.Zero(t, depth)
}

func TestUploadConflictsOnTerminalStates(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	svc, q, files, _ := newTestService(t, store, 100)

	for _, status := range []models.DocumentStatus{models.StatusProcessing, models.StatusDone} {
		doc, err := store.Create(ctx, "conflict-"+string(status))
		require.NoError(t, err)
		store.get(doc.ID).Status = status

		_, err = svc.Upload(ctx, doc.ID, "late.txt", strings.NewReader("x"))
		var conflict *apperr.ProcessingConflictError
		require.ErrorAs(t, err, &conflict)
		require.Equal(t, string(status), conflict.Status)
	}

	require.Len(t, files.deleted, 2)
	depth, err := q.Len(ctx)
	require.NoError(t, err)
	require.Zero(t, depth)
}

func TestUploadAllowedOnFailedDocument(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	svc, q, _, _ := newTestService(t, store, 100)

	doc, err := store.Create(ctx, "failed-once")
	require.NoError(t, err)
	store.get(doc.ID).Status = models.StatusFailed

	updated, err := svc.Upload(ctx, doc.ID, "retry.txt", strings.NewReader("new content"))
	require.NoError(t, err)
	require.NotEmpty(t, updated.FilePath)

	depth, err := q.Len(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, depth)
}
