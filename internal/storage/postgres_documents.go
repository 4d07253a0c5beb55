package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/corpusworks/corpus/internal/domain"

	"github.com/jackc/pgx/v5"
)

const documentColumns = `id, knowledge_base_id, filename, file_key, file_size, mime_type, file_hash,
	chunk_count, token_count, character_count,
	status, processing_started_at, processing_completed_at, processing_error,
	enabled, tag1, tag2, tag3, tag4, tag5, tag6, tag7,
	created_at, updated_at, deleted_at`

func scanDocument(row pgx.Row) (domain.Document, error) {
	var doc domain.Document
	err := row.Scan(
		&doc.ID, &doc.KnowledgeBaseID, &doc.Filename, &doc.FileKey, &doc.FileSize, &doc.MimeType, &doc.FileHash,
		&doc.ChunkCount, &doc.TokenCount, &doc.CharacterCount,
		&doc.Status, &doc.ProcessingStartedAt, &doc.ProcessingCompletedAt, &doc.ProcessingError,
		&doc.Enabled,
		&doc.Tags.Tag1, &doc.Tags.Tag2, &doc.Tags.Tag3, &doc.Tags.Tag4, &doc.Tags.Tag5, &doc.Tags.Tag6, &doc.Tags.Tag7,
		&doc.CreatedAt, &doc.UpdatedAt, &doc.DeletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Document{}, domain.ErrNotFound
	}
	return doc, err
}

func (s *PostgresStore) CreateDocument(ctx context.Context, doc domain.Document) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO documents (id, knowledge_base_id, filename, file_key, file_size, mime_type, file_hash,
			status, enabled, tag1, tag2, tag3, tag4, tag5, tag6, tag7, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, now(), now())`,
		doc.ID, doc.KnowledgeBaseID, doc.Filename, doc.FileKey, doc.FileSize, doc.MimeType, doc.FileHash,
		doc.Status, doc.Enabled,
		doc.Tags.Tag1, doc.Tags.Tag2, doc.Tags.Tag3, doc.Tags.Tag4, doc.Tags.Tag5, doc.Tags.Tag6, doc.Tags.Tag7,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateDocument
		}
		return fmt.Errorf("failed to insert document: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, id string) (domain.Document, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE id = $1 AND deleted_at IS NULL`, id)

	return scanDocument(row)
}

// ListDocuments returns one page plus the total count. The document listing
// deliberately pays for an explicit count query; the chunk listing uses a
// length heuristic instead (see ListChunks).
func (s *PostgresStore) ListDocuments(ctx context.Context, params domain.ListDocumentsParams) ([]domain.Document, int64, error) {
	where := `WHERE knowledge_base_id = $1 AND deleted_at IS NULL`
	args := []any{params.KnowledgeBaseID}

	if params.Search != "" {
		args = append(args, "%"+params.Search+"%")
		where += fmt.Sprintf(" AND filename ILIKE $%d", len(args))
	}

	switch params.Enabled {
	case domain.EnabledFilter_Enabled:
		where += " AND enabled"
	case domain.EnabledFilter_Disabled:
		where += " AND NOT enabled"
	}

	var total int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM documents `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count documents: %w", err)
	}

	args = append(args, params.Limit, params.Offset)
	query := fmt.Sprintf(`
		SELECT `+documentColumns+`
		FROM documents
		%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []domain.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, 0, err
		}
		docs = append(docs, doc)
	}

	return docs, total, rows.Err()
}

// UpdateDocument rewrites mutable metadata. Tag changes are not propagated
// to the copies already denormalized onto existing chunks.
func (s *PostgresStore) UpdateDocument(ctx context.Context, doc domain.Document) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE documents
		SET filename = $2, enabled = $3,
			tag1 = $4, tag2 = $5, tag3 = $6, tag4 = $7, tag5 = $8, tag6 = $9, tag7 = $10,
			updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL`,
		doc.ID, doc.Filename, doc.Enabled,
		doc.Tags.Tag1, doc.Tags.Tag2, doc.Tags.Tag3, doc.Tags.Tag4, doc.Tags.Tag5, doc.Tags.Tag6, doc.Tags.Tag7,
	)
	if err != nil {
		return fmt.Errorf("failed to update document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SoftDeleteDocument(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE documents
		SET deleted_at = now(), updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateDocumentStatus performs one state machine transition under a row
// lock, enforcing the allowed edges and the timestamp invariants: entering
// processing sets processing_started_at and clears the previous error,
// entering completed/failed sets processing_completed_at, and completed
// clears the error.
func (s *PostgresStore) UpdateDocumentStatus(ctx context.Context, params domain.UpdateDocumentStatusParams) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		var current domain.DocumentStatus
		err := tx.QueryRow(ctx, `
			SELECT status FROM documents
			WHERE id = $1 AND deleted_at IS NULL
			FOR UPDATE`, params.DocumentID).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock document row: %w", err)
		}

		if !current.CanTransitionTo(params.Status) {
			return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidStatusTransition, current, params.Status)
		}

		switch params.Status {
		case domain.DocumentStatus_Processing:
			_, err = tx.Exec(ctx, `
				UPDATE documents
				SET status = $2, processing_started_at = now(), processing_completed_at = NULL,
					processing_error = NULL, updated_at = now()
				WHERE id = $1`, params.DocumentID, params.Status)
		case domain.DocumentStatus_Completed:
			_, err = tx.Exec(ctx, `
				UPDATE documents
				SET status = $2, processing_completed_at = now(), processing_error = NULL, updated_at = now()
				WHERE id = $1`, params.DocumentID, params.Status)
		case domain.DocumentStatus_Failed:
			_, err = tx.Exec(ctx, `
				UPDATE documents
				SET status = $2, processing_completed_at = now(), processing_error = $3, updated_at = now()
				WHERE id = $1`, params.DocumentID, params.Status, params.Error)
		default:
			return fmt.Errorf("%w: cannot transition to %s", domain.ErrInvalidStatusTransition, params.Status)
		}
		if err != nil {
			return fmt.Errorf("failed to update document status: %w", err)
		}

		return nil
	})
}

func (s *PostgresStore) BulkUpdateDocumentsEnabled(ctx context.Context, knowledgeBaseID string, documentIDs []string, enabled bool) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE documents
		SET enabled = $3, updated_at = now()
		WHERE knowledge_base_id = $1 AND id = ANY($2) AND deleted_at IS NULL`,
		knowledgeBaseID, documentIDs, enabled)
	if err != nil {
		return 0, fmt.Errorf("failed to bulk update documents: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) BulkSoftDeleteDocuments(ctx context.Context, knowledgeBaseID string, documentIDs []string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE documents
		SET deleted_at = now(), updated_at = now()
		WHERE knowledge_base_id = $1 AND id = ANY($2) AND deleted_at IS NULL`,
		knowledgeBaseID, documentIDs)
	if err != nil {
		return 0, fmt.Errorf("failed to bulk delete documents: %w", err)
	}
	return tag.RowsAffected(), nil
}
