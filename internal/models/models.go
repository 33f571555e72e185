package models

import (
	"time"

	"github.com/google/uuid"
)

// DocumentStatus is the lifecycle state of a document.
type DocumentStatus string

const (
	StatusPending    DocumentStatus = "PENDING"
	StatusProcessing DocumentStatus = "PROCESSING"
	StatusDone       DocumentStatus = "DONE"
	StatusFailed     DocumentStatus = "FAILED"
)

// Document is the persisted record driving the ingestion pipeline.
// source is globally unique and serves as the idempotency key.
type Document struct {
	ID         uuid.UUID      `json:"id"`
	Source     string         `json:"source"`
	Status     DocumentStatus `json:"status"`
	RetryCount int            `json:"retry_count"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	FilePath   string         `json:"file_path,omitempty"`
}

// QueueEntry is the JSON wire form of a job in the broker lists.
// StartedAt is epoch seconds, set when the entry is observed in the
// processing list. RetryCount is present only on requeue after a
// visibility-timeout expiry.
type QueueEntry struct {
	DocumentID string   `json:"document_id"`
	StartedAt  *float64 `json:"started_at,omitempty"`
	RetryCount *int     `json:"retry_count,omitempty"`
}

// DLQEntry quarantines a poisoned or exhausted job with its cause.
type DLQEntry struct {
	Payload   string  `json:"payload"`
	Reason    string  `json:"reason"`
	Timestamp float64 `json:"timestamp"`
}

// --- API schemas ---

type IngestRequest struct {
	Source string `json:"source"`
}

type DocumentResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Source string `json:"source"`
}

func NewDocumentResponse(d *Document) DocumentResponse {
	return DocumentResponse{
		ID:     d.ID.String(),
		Status: string(d.Status),
		Source: d.Source,
	}
}

type SearchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

type SearchResult struct {
	Text       string  `json:"text"`
	Score      float32 `json:"score"`
	DocumentID string  `json:"document_id"`
	ChunkIndex int     `json:"chunk_index"`
}

type SearchResponse struct {
	Answer  string         `json:"answer"`
	Results []SearchResult `json:"results"`
}
