package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"cortex/internal/apperr"
	"cortex/internal/models"
)

const pgUniqueViolation = "23505"

const documentColumns = `id, source, status, retry_count, created_at, updated_at, COALESCE(file_path, '')`

func scanDocument(row pgx.Row) (*models.Document, error) {
	var d models.Document
	err := row.Scan(&d.ID, &d.Source, &d.Status, &d.RetryCount, &d.CreatedAt, &d.UpdatedAt, &d.FilePath)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// Create inserts a new PENDING document. A unique violation on source is
// returned as DuplicateSourceError so the caller can replay idempotently.
func (r *Repository) Create(ctx context.Context, source string) (*models.Document, error) {
	doc, err := scanDocument(r.db.QueryRow(ctx, `
		INSERT INTO documents (id, source, status, retry_count)
		VALUES ($1, $2, $3, 0)
		RETURNING `+documentColumns,
		uuid.New(), source, models.StatusPending,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, &apperr.DuplicateSourceError{Source: source}
		}
		return nil, apperr.Infra("store", err)
	}
	return doc, nil
}

// GetByID returns (nil, nil) when the document does not exist.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	doc, err := scanDocument(r.db.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Infra("store", err)
	}
	return doc, nil
}

// GetBySource looks a document up by its unique source, for idempotent replay.
func (r *Repository) GetBySource(ctx context.Context, source string) (*models.Document, error) {
	doc, err := scanDocument(r.db.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE source = $1`, source))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Infra("store", err)
	}
	return doc, nil
}

// GetForUpdateTx reads a document holding a row-level exclusive lock until
// the surrounding transaction ends. Returns (nil, nil) when absent.
func (r *Repository) GetForUpdateTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Document, error) {
	doc, err := scanDocument(tx.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Infra("store", err)
	}
	return doc, nil
}

// UpdateStatusTx transitions a document's status inside an existing
// transaction. The row lock is taken before the read that decides the
// transition, so concurrent workers observe serialized transitions.
func (r *Repository) UpdateStatusTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, target models.DocumentStatus) (*models.Document, error) {
	doc, err := r.GetForUpdateTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, &apperr.DocumentNotFoundError{ID: id}
	}

	if err := ValidateTransition(doc.Status, target, doc.RetryCount, r.maxRetries); err != nil {
		if maxed, ok := err.(*apperr.MaxRetriesError); ok {
			maxed.ID = id
		}
		return nil, err
	}

	updated, err := scanDocument(tx.QueryRow(ctx, `
		UPDATE documents SET status = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING `+documentColumns,
		id, target,
	))
	if err != nil {
		return nil, apperr.Infra("store", err)
	}
	return updated, nil
}

// RetryTx transitions FAILED -> PENDING and increments retry_count, guarded
// by the retry budget.
func (r *Repository) RetryTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Document, error) {
	doc, err := r.GetForUpdateTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, &apperr.DocumentNotFoundError{ID: id}
	}
	if doc.Status != models.StatusFailed {
		return nil, &apperr.InvalidTransitionError{From: string(doc.Status), To: string(models.StatusPending)}
	}
	if doc.RetryCount >= r.maxRetries {
		return nil, &apperr.MaxRetriesError{ID: id, RetryCount: doc.RetryCount}
	}

	updated, err := scanDocument(tx.QueryRow(ctx, `
		UPDATE documents SET status = $2, retry_count = retry_count + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING `+documentColumns,
		id, models.StatusPending,
	))
	if err != nil {
		return nil, apperr.Infra("store", err)
	}
	return updated, nil
}

// SetFilePathTx records the uploaded file location. No state-machine effect.
func (r *Repository) SetFilePathTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, path string) error {
	cmd, err := tx.Exec(ctx,
		`UPDATE documents SET file_path = $2, updated_at = NOW() WHERE id = $1`, id, path)
	if err != nil {
		return apperr.Infra("store", err)
	}
	if cmd.RowsAffected() == 0 {
		return &apperr.DocumentNotFoundError{ID: id}
	}
	return nil
}

// ClearFilePathTx removes the file reference after processing.
func (r *Repository) ClearFilePathTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	cmd, err := tx.Exec(ctx,
		`UPDATE documents SET file_path = NULL, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return apperr.Infra("store", err)
	}
	if cmd.RowsAffected() == 0 {
		return &apperr.DocumentNotFoundError{ID: id}
	}
	return nil
}

// UpdateStatus is the single-transition convenience wrapper.
func (r *Repository) UpdateStatus(ctx context.Context, id uuid.UUID, target models.DocumentStatus) (*models.Document, error) {
	var doc *models.Document
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		var txErr error
		doc, txErr = r.UpdateStatusTx(ctx, tx, id, target)
		return txErr
	})
	return doc, err
}

// Retry is the single-transition wrapper for FAILED -> PENDING.
func (r *Repository) Retry(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	var doc *models.Document
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		var txErr error
		doc, txErr = r.RetryTx(ctx, tx, id)
		return txErr
	})
	return doc, err
}

// CountByStatus powers the /status surface.
func (r *Repository) CountByStatus(ctx context.Context) (map[models.DocumentStatus]int64, error) {
	rows, err := r.db.Query(ctx, `SELECT status, COUNT(*) FROM documents GROUP BY status`)
	if err != nil {
		return nil, apperr.Infra("store", err)
	}
	defer rows.Close()

	counts := make(map[models.DocumentStatus]int64)
	for rows.Next() {
		var status models.DocumentStatus
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, apperr.Infra("store", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// ValidateTransition enforces the legal edges of the document state machine:
//
//	PENDING    -> PROCESSING | FAILED
//	PROCESSING -> DONE | FAILED
//	FAILED     -> PENDING (retry only, bounded by maxRetries)
//
// DONE is terminal. Everything else is rejected.
func ValidateTransition(current, target models.DocumentStatus, retryCount, maxRetries int) error {
	switch current {
	case models.StatusPending:
		if target == models.StatusProcessing || target == models.StatusFailed {
			return nil
		}
	case models.StatusProcessing:
		if target == models.StatusDone || target == models.StatusFailed {
			return nil
		}
	case models.StatusFailed:
		if target == models.StatusPending {
			if retryCount >= maxRetries {
				return &apperr.MaxRetriesError{RetryCount: retryCount}
			}
			return nil
		}
	}
	return &apperr.InvalidTransitionError{From: string(current), To: string(target)}
}
