package vector

import (
	"context"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"cortex/internal/apperr"
)

const collectionName = "documents"

// Qdrant implements Index against a Qdrant instance over gRPC.
type Qdrant struct {
	client *qdrant.Client
	dim    uint64
}

func NewQdrant(host string, port int, apiKey string, dim int) (*Qdrant, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: apiKey,
	})
	if err != nil {
		return nil, apperr.Infra("vector index", err)
	}
	return &Qdrant{client: client, dim: uint64(dim)}, nil
}

func (q *Qdrant) EnsureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, collectionName)
	if err != nil {
		return apperr.Infra("vector index", err)
	}
	if exists {
		return nil
	}
	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: collectionName,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     q.dim,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	return apperr.Infra("vector index", err)
}

func (q *Qdrant) UpsertChunks(ctx context.Context, documentID uuid.UUID, chunks []string, vectors [][]float32) error {
	if len(chunks) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, 0, len(chunks))
	for i, chunk := range chunks {
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewID(ChunkID(documentID, i).String()),
			Vectors: qdrant.NewVectors(vectors[i]...),
			Payload: qdrant.NewValueMap(map[string]any{
				"document_id": documentID.String(),
				"chunk_index": i,
				"text":        chunk,
			}),
		})
	}

	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collectionName,
		Points:         points,
		Wait:           qdrant.PtrOf(true),
	})
	return apperr.Infra("vector index", err)
}

func (q *Qdrant) Query(ctx context.Context, vector []float32, limit int) ([]ScoredChunk, error) {
	points, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collectionName,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, apperr.Infra("vector index", err)
	}

	out := make([]ScoredChunk, 0, len(points))
	for _, p := range points {
		payload := p.GetPayload()
		out = append(out, ScoredChunk{
			Text:       payload["text"].GetStringValue(),
			Score:      p.GetScore(),
			DocumentID: payload["document_id"].GetStringValue(),
			ChunkIndex: int(payload["chunk_index"].GetIntegerValue()),
		})
	}
	return out, nil
}

func (q *Qdrant) HealthCheck(ctx context.Context) error {
	_, err := q.client.ListCollections(ctx)
	return apperr.Infra("vector index", err)
}

func (q *Qdrant) Close() error {
	return q.client.Close()
}
