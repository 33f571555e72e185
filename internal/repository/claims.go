package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"cortex/internal/apperr"
	"cortex/internal/models"
)

// ClaimForProcessing moves a document into PROCESSING under its row lock.
//
// A redelivered entry may find the document in any state, so the claim
// resolves each one inside a single transaction:
//
//	PENDING    -> PROCESSING, claim succeeds
//	FAILED     -> PENDING (retry, budget-guarded) then PROCESSING
//	DONE       -> (nil, nil): the work already happened, ack and move on
//	PROCESSING -> ProcessingConflictError: another worker holds it
//
// A FAILED document past its retry budget surfaces MaxRetriesError.
func (r *Repository) ClaimForProcessing(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	var claimed *models.Document
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		doc, err := r.GetForUpdateTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if doc == nil {
			return &apperr.DocumentNotFoundError{ID: id}
		}

		switch doc.Status {
		case models.StatusDone:
			return nil
		case models.StatusProcessing:
			return &apperr.ProcessingConflictError{ID: id, Status: string(doc.Status)}
		case models.StatusFailed:
			if _, err := r.RetryTx(ctx, tx, id); err != nil {
				return err
			}
		}

		claimed, err = r.UpdateStatusTx(ctx, tx, id, models.StatusProcessing)
		return err
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// FinalizeDone commits the successful outcome: PROCESSING -> DONE and the
// file reference cleared, atomically.
func (r *Repository) FinalizeDone(ctx context.Context, id uuid.UUID) error {
	return r.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := r.UpdateStatusTx(ctx, tx, id, models.StatusDone); err != nil {
			return err
		}
		return r.ClearFilePathTx(ctx, tx, id)
	})
}

// MarkFailed records a processing failure: the document moves to FAILED and
// its file reference is cleared, so a later retry starts from the stored
// source text or a fresh upload. Tolerant of documents that are already
// FAILED or DONE: failure paths can race redeliveries and must not generate
// secondary errors.
func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID) error {
	return r.WithTx(ctx, func(tx pgx.Tx) error {
		doc, err := r.GetForUpdateTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if doc == nil {
			return &apperr.DocumentNotFoundError{ID: id}
		}
		if doc.Status == models.StatusFailed || doc.Status == models.StatusDone {
			return nil
		}
		if _, err = r.UpdateStatusTx(ctx, tx, id, models.StatusFailed); err != nil {
			return err
		}
		return r.ClearFilePathTx(ctx, tx, id)
	})
}
