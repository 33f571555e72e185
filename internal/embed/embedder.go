// Package embed defines the embedding capability and its two implementers:
// a deterministic mock for tests and local runs, and an OpenAI-backed client.
package embed

import (
	"context"
	"hash/fnv"
	"math/rand"

	"github.com/tmc/langchaingo/llms/openai"

	"cortex/internal/apperr"
)

// Embedder turns text into fixed-dimension vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Mock returns deterministic pseudo-vectors derived from the input text.
// Real embeddings add API cost and rate limits that get in the way when
// testing the pipeline; determinism keeps idempotency checks stable.
type Mock struct {
	Dim int
}

func NewMock(dim int) *Mock {
	return &Mock{Dim: dim}
}

func (m *Mock) Embed(_ context.Context, text string) ([]float32, error) {
	h := fnv.New64a()
	h.Write([]byte(text))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	vec := make([]float32, m.Dim)
	for i := range vec {
		vec[i] = rng.Float32()
	}
	return vec, nil
}

func (m *Mock) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := m.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		vecs[i] = v
	}
	return vecs, nil
}

// OpenAI embeds via the OpenAI embeddings API (langchaingo client).
// Credentials come from OPENAI_API_KEY.
type OpenAI struct {
	llm *openai.LLM
}

func NewOpenAI(model string) (*OpenAI, error) {
	llm, err := openai.New(openai.WithEmbeddingModel(model))
	if err != nil {
		return nil, apperr.Infra("embedder", err)
	}
	return &OpenAI{llm: llm}, nil
}

func (o *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := o.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (o *OpenAI) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := o.llm.CreateEmbedding(ctx, texts)
	if err != nil {
		return nil, apperr.Infra("embedder", err)
	}
	return vecs, nil
}
