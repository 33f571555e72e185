package vector

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Memory is an in-process Index used by tests and dependency-free local
// runs. Upserts overwrite by point ID, matching the idempotency contract of
// the real store.
type Memory struct {
	mu     sync.RWMutex
	points map[uuid.UUID]memoryPoint
}

type memoryPoint struct {
	documentID string
	chunkIndex int
	text       string
	vector     []float32
}

func NewMemory() *Memory {
	return &Memory{points: make(map[uuid.UUID]memoryPoint)}
}

func (m *Memory) EnsureCollection(context.Context) error { return nil }

func (m *Memory) UpsertChunks(_ context.Context, documentID uuid.UUID, chunks []string, vectors [][]float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, chunk := range chunks {
		m.points[ChunkID(documentID, i)] = memoryPoint{
			documentID: documentID.String(),
			chunkIndex: i,
			text:       chunk,
			vector:     vectors[i],
		}
	}
	return nil
}

func (m *Memory) Query(_ context.Context, vector []float32, limit int) ([]ScoredChunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ScoredChunk, 0, len(m.points))
	for _, p := range m.points {
		out = append(out, ScoredChunk{
			Text:       p.text,
			Score:      cosine(vector, p.vector),
			DocumentID: p.documentID,
			ChunkIndex: p.chunkIndex,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) HealthCheck(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

// CountForDocument reports how many points a document holds in the index.
func (m *Memory) CountForDocument(documentID uuid.UUID) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, p := range m.points {
		if p.documentID == documentID.String() {
			n++
		}
	}
	return n
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
