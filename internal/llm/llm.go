// Package llm defines the answer-generation capability for the RAG search
// surface, with a mock and an OpenAI-backed implementation.
package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"cortex/internal/apperr"
)

// Generator produces an answer for a query grounded in retrieved contexts.
type Generator interface {
	GenerateAnswer(ctx context.Context, query string, contexts []string) (string, error)
}

// Mock echoes the query and contexts. Retrieval correctness is what the
// pipeline tests care about, not generation quality.
type Mock struct{}

func NewMock() *Mock { return &Mock{} }

func (m *Mock) GenerateAnswer(_ context.Context, query string, contexts []string) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "This is a generated answer for %q based on the following context:\n", query)
	for _, c := range contexts {
		fmt.Fprintf(&b, "- %s\n", c)
	}
	return b.String(), nil
}

// OpenAI generates answers through the chat completions API.
type OpenAI struct {
	llm *openai.LLM
}

func NewOpenAI() (*OpenAI, error) {
	client, err := openai.New()
	if err != nil {
		return nil, apperr.Infra("llm", err)
	}
	return &OpenAI{llm: client}, nil
}

func (o *OpenAI) GenerateAnswer(ctx context.Context, query string, contexts []string) (string, error) {
	var b strings.Builder
	b.WriteString("Answer the question using only the provided context.\n\nContext:\n")
	for _, c := range contexts {
		fmt.Fprintf(&b, "- %s\n", c)
	}
	fmt.Fprintf(&b, "\nQuestion: %s\n", query)

	answer, err := llms.GenerateFromSinglePrompt(ctx, o.llm, b.String())
	if err != nil {
		return "", apperr.Infra("llm", err)
	}
	return answer, nil
}
