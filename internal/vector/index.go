// Package vector defines the vector-index capability used by the processor
// and the search service. Point IDs are deterministic functions of
// (document_id, chunk_index) so re-processing a document is idempotent at
// the index level.
package vector

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// ScoredChunk is one retrieval hit with its payload.
type ScoredChunk struct {
	Text       string
	Score      float32
	DocumentID string
	ChunkIndex int
}

// Index is the vector-store capability: a named collection of fixed
// dimensionality with cosine distance.
type Index interface {
	// EnsureCollection creates the collection if absent. Idempotent.
	EnsureCollection(ctx context.Context) error
	// UpsertChunks writes (chunk, vector) tuples keyed by ChunkID.
	UpsertChunks(ctx context.Context, documentID uuid.UUID, chunks []string, vectors [][]float32) error
	// Query returns the top-limit nearest chunks with payloads.
	Query(ctx context.Context, vector []float32, limit int) ([]ScoredChunk, error)
	// HealthCheck verifies connectivity for readiness probes.
	HealthCheck(ctx context.Context) error
	Close() error
}

// ChunkID derives the deterministic point ID for a document chunk
// (UUIDv5 over "{document_id}_{chunk_index}").
func ChunkID(documentID uuid.UUID, chunkIndex int) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(fmt.Sprintf("%s_%d", documentID, chunkIndex)))
}
