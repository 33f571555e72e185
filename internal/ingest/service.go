// Package ingest implements the write side of the pipeline: registering
// documents and attaching uploaded content, each ending with a job on the
// broker.
package ingest

import (
	"context"
	"errors"
	"io"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"cortex/internal/apperr"
	"cortex/internal/eventbus"
	"cortex/internal/metrics"
	"cortex/internal/models"
	"cortex/internal/queue"
)

// Store is the slice of the repository the ingest paths need. The Tx
// variants run inside WithTx; upload uses them to keep the row lock, the
// file pointer write and the enqueue in one atomic unit.
type Store interface {
	Create(ctx context.Context, source string) (*models.Document, error)
	GetBySource(ctx context.Context, source string) (*models.Document, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, target models.DocumentStatus) (*models.Document, error)
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error
	GetForUpdateTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Document, error)
	SetFilePathTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, path string) error
}

// FileSaver persists uploaded content outside any transaction.
type FileSaver interface {
	Save(documentID uuid.UUID, originalName string, r io.Reader) (string, error)
	Delete(path string) error
}

type Service struct {
	store    Store
	queue    *queue.DocumentQueue
	files    FileSaver
	bus      *eventbus.Bus
	log      *zap.Logger
	maxDepth int64
}

func NewService(store Store, q *queue.DocumentQueue, files FileSaver, bus *eventbus.Bus, log *zap.Logger, maxDepth int64) *Service {
	return &Service{
		store:    store,
		queue:    q,
		files:    files,
		bus:      bus,
		log:      log.Named("ingest"),
		maxDepth: maxDepth,
	}
}

// Ingest registers a source and enqueues its job, commit first and publish
// second. A duplicate source replays the existing document without a second
// enqueue, which makes the endpoint safe to retry. If the publish fails
// after the commit, the document is compensated to FAILED rather than left
// PENDING forever with no job behind it.
func (s *Service) Ingest(ctx context.Context, source string) (*models.Document, error) {
	if err := s.checkBackpressure(ctx); err != nil {
		metrics.IngestRequests.WithLabelValues("rejected").Inc()
		return nil, err
	}

	doc, err := s.store.Create(ctx, source)
	if err != nil {
		var dup *apperr.DuplicateSourceError
		if errors.As(err, &dup) {
			existing, getErr := s.store.GetBySource(ctx, source)
			if getErr != nil {
				return nil, getErr
			}
			if existing == nil {
				// Deleted between the violation and the lookup; surface the
				// original conflict and let the client retry.
				return nil, err
			}
			metrics.IngestRequests.WithLabelValues("replayed").Inc()
			s.log.Info("replaying existing document for duplicate source",
				zap.String("source", source),
				zap.String("document_id", existing.ID.String()))
			return existing, nil
		}
		metrics.IngestRequests.WithLabelValues("rejected").Inc()
		return nil, err
	}

	if err := s.queue.Enqueue(ctx, doc.ID); err != nil {
		if _, compErr := s.store.UpdateStatus(ctx, doc.ID, models.StatusFailed); compErr != nil {
			s.log.Error("compensation failed, document stranded in PENDING",
				zap.String("document_id", doc.ID.String()), zap.Error(compErr))
		}
		metrics.IngestRequests.WithLabelValues("rejected").Inc()
		return nil, err
	}

	metrics.IngestRequests.WithLabelValues("accepted").Inc()
	s.bus.Publish(eventbus.Event{
		Type:       eventbus.DocumentIngested,
		DocumentID: doc.ID.String(),
		Data:       map[string]any{"source": source},
	})
	s.log.Info("document ingested",
		zap.String("document_id", doc.ID.String()), zap.String("source", source))
	return doc, nil
}

// Upload attaches file content to an existing document and enqueues its job.
// The file write happens first, outside the transaction; the row lock, the
// file pointer update and the enqueue then commit as one unit. The enqueue
// inside the transaction means a crashed commit can leave a job for a
// never-committed pointer; the worker tolerates that as a failed attempt.
func (s *Service) Upload(ctx context.Context, id uuid.UUID, originalName string, content io.Reader) (*models.Document, error) {
	if err := s.checkBackpressure(ctx); err != nil {
		return nil, err
	}

	path, err := s.files.Save(id, originalName, content)
	if err != nil {
		return nil, err
	}

	var doc *models.Document
	err = s.store.WithTx(ctx, func(tx pgx.Tx) error {
		doc, err = s.store.GetForUpdateTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if doc == nil {
			return &apperr.DocumentNotFoundError{ID: id}
		}
		if doc.Status == models.StatusProcessing || doc.Status == models.StatusDone {
			return &apperr.ProcessingConflictError{ID: id, Status: string(doc.Status)}
		}
		if err := s.store.SetFilePathTx(ctx, tx, id, path); err != nil {
			return err
		}
		doc.FilePath = path
		return s.queue.Enqueue(ctx, id)
	})
	if err != nil {
		if delErr := s.files.Delete(path); delErr != nil {
			s.log.Warn("could not remove orphaned upload",
				zap.String("path", path), zap.Error(delErr))
		}
		return nil, err
	}

	s.bus.Publish(eventbus.Event{
		Type:       eventbus.DocumentUploaded,
		DocumentID: id.String(),
		Data:       map[string]any{"file": originalName},
	})
	s.log.Info("document content uploaded",
		zap.String("document_id", id.String()), zap.String("file", originalName))
	return doc, nil
}

func (s *Service) checkBackpressure(ctx context.Context) error {
	depth, err := s.queue.Len(ctx)
	if err != nil {
		return err
	}
	if depth >= s.maxDepth {
		return &apperr.QueueFullError{Current: depth, Limit: s.maxDepth}
	}
	return nil
}
