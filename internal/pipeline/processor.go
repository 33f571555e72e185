package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"cortex/internal/embed"
	"cortex/internal/eventbus"
	"cortex/internal/metrics"
	"cortex/internal/models"
	"cortex/internal/vector"
)

// DocumentStore is the slice of the repository the processor needs. Each
// method is a single transaction; the heavy lifting between claim and
// finalize holds no database locks.
type DocumentStore interface {
	ClaimForProcessing(ctx context.Context, id uuid.UUID) (*models.Document, error)
	FinalizeDone(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID) error
}

// ContentStore reads and cleans up uploaded files.
type ContentStore interface {
	Read(path string) (string, error)
	Delete(path string) error
}

// Processor executes one document job end to end: claim, chunk, embed,
// upsert, finalize.
type Processor struct {
	store    DocumentStore
	files    ContentStore
	embedder embed.Embedder
	index    vector.Index
	bus      *eventbus.Bus
	log      *zap.Logger

	chunkSize    int
	chunkOverlap int
}

func NewProcessor(store DocumentStore, files ContentStore, embedder embed.Embedder, index vector.Index, bus *eventbus.Bus, log *zap.Logger, chunkSize, chunkOverlap int) *Processor {
	return &Processor{
		store:        store,
		files:        files,
		embedder:     embedder,
		index:        index,
		bus:          bus,
		log:          log,
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
	}
}

// Process runs the pipeline for one dequeued document.
//
// A nil return means the queue entry is settled and must be acknowledged:
// the work succeeded, or it already happened (document DONE). Any error
// leaves the entry in-flight for redelivery; the worker's retry budget
// decides when a persistently failing entry is quarantined. Claim conflicts
// propagate as errors on purpose: a document stuck in PROCESSING behind a
// dead worker is recovered through redelivery and, at the budget, a
// PROCESSING -> FAILED quarantine.
func (p *Processor) Process(ctx context.Context, documentID uuid.UUID) error {
	start := time.Now()

	doc, err := p.store.ClaimForProcessing(ctx, documentID)
	if err != nil {
		return err
	}
	if doc == nil {
		// Already DONE. Duplicate delivery of completed work.
		p.log.Info("document already processed", zap.String("document_id", documentID.String()))
		return nil
	}

	content := doc.Source
	if doc.FilePath != "" {
		content, err = p.files.Read(doc.FilePath)
		if err != nil {
			return p.fail(ctx, doc.ID, doc.FilePath, err)
		}
	}

	chunks := Chunk(content, p.chunkSize, p.chunkOverlap)
	if len(chunks) > 0 {
		vectors, err := p.embedder.EmbedBatch(ctx, chunks)
		if err != nil {
			return p.fail(ctx, doc.ID, doc.FilePath, err)
		}
		if err := p.index.UpsertChunks(ctx, doc.ID, chunks, vectors); err != nil {
			return p.fail(ctx, doc.ID, doc.FilePath, err)
		}
	}

	if err := p.store.FinalizeDone(ctx, doc.ID); err != nil {
		// The index holds the chunks but the document stays PROCESSING.
		// Redelivery cannot re-claim it; recovery is via the retry budget.
		metrics.JobsProcessed.WithLabelValues("failure").Inc()
		p.log.Error("finalize failed, document left in PROCESSING",
			zap.String("document_id", doc.ID.String()), zap.Error(err))
		return err
	}

	if err := p.files.Delete(doc.FilePath); err != nil {
		p.log.Warn("failed to remove processed file",
			zap.String("document_id", doc.ID.String()), zap.Error(err))
	}

	metrics.ProcessingDuration.Observe(time.Since(start).Seconds())
	metrics.JobsProcessed.WithLabelValues("success").Inc()
	p.bus.Publish(eventbus.Event{
		Type:       eventbus.DocumentDone,
		DocumentID: doc.ID.String(),
		Data:       map[string]any{"chunks": len(chunks)},
	})
	p.log.Info("document processed",
		zap.String("document_id", doc.ID.String()),
		zap.Int("chunks", len(chunks)),
		zap.Duration("took", time.Since(start)))
	return nil
}

func (p *Processor) fail(ctx context.Context, id uuid.UUID, filePath string, cause error) error {
	if filePath != "" {
		if err := p.files.Delete(filePath); err != nil {
			p.log.Warn("failed to remove file of failed document",
				zap.String("document_id", id.String()), zap.Error(err))
		}
	}
	if err := p.store.MarkFailed(ctx, id); err != nil {
		p.log.Error("could not mark document failed",
			zap.String("document_id", id.String()), zap.Error(err))
	}
	metrics.JobsProcessed.WithLabelValues("failure").Inc()
	p.bus.Publish(eventbus.Event{
		Type:       eventbus.DocumentFailed,
		DocumentID: id.String(),
		Data:       map[string]any{"error": cause.Error()},
	})
	p.log.Error("document processing failed",
		zap.String("document_id", id.String()), zap.Error(cause))
	return cause
}
