// Package search implements the retrieval-augmented query surface: embed the
// query, fetch nearest chunks, generate an answer grounded in them.
package search

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"cortex/internal/embed"
	"cortex/internal/llm"
	"cortex/internal/models"
	"cortex/internal/vector"
)

const (
	defaultLimit = 5
	maxLimit     = 50
)

type Service struct {
	embedder  embed.Embedder
	index     vector.Index
	generator llm.Generator
	log       *zap.Logger
}

func NewService(embedder embed.Embedder, index vector.Index, generator llm.Generator, log *zap.Logger) *Service {
	return &Service{embedder: embedder, index: index, generator: generator, log: log}
}

// Search answers a query against the indexed corpus. Limit is clamped to
// [1, 50] with a default of 5. An empty index produces an answer grounded
// in nothing and no results, not an error.
func (s *Service) Search(ctx context.Context, query string, limit int) (*models.SearchResponse, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	query = strings.TrimSpace(query)

	queryVec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	hits, err := s.index.Query(ctx, queryVec, limit)
	if err != nil {
		return nil, err
	}

	contexts := make([]string, 0, len(hits))
	results := make([]models.SearchResult, 0, len(hits))
	for _, h := range hits {
		contexts = append(contexts, h.Text)
		results = append(results, models.SearchResult{
			Text:       h.Text,
			Score:      h.Score,
			DocumentID: h.DocumentID,
			ChunkIndex: h.ChunkIndex,
		})
	}

	answer, err := s.generator.GenerateAnswer(ctx, query, contexts)
	if err != nil {
		return nil, err
	}

	s.log.Debug("search served",
		zap.String("query", query), zap.Int("results", len(results)))
	return &models.SearchResponse{Answer: answer, Results: results}, nil
}
