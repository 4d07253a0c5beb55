package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/corpusworks/corpus/internal/domain"

	"github.com/jackc/pgx/v5"
)

const chunkColumns = `id, knowledge_base_id, document_id, chunk_index, content_hash, content, content_length, token_count,
	embedding, embedding_model, start_offset, end_offset,
	tag1, tag2, tag3, tag4, tag5, tag6, tag7,
	enabled, manual, search_rank, quality_score, created_at, updated_at`

func scanChunk(row pgx.Row) (domain.Chunk, error) {
	var chunk domain.Chunk
	err := row.Scan(
		&chunk.ID, &chunk.KnowledgeBaseID, &chunk.DocumentID, &chunk.Index,
		&chunk.ContentHash, &chunk.Content, &chunk.ContentLength, &chunk.TokenCount,
		&chunk.Embedding, &chunk.EmbeddingModel, &chunk.StartOffset, &chunk.EndOffset,
		&chunk.Tags.Tag1, &chunk.Tags.Tag2, &chunk.Tags.Tag3, &chunk.Tags.Tag4,
		&chunk.Tags.Tag5, &chunk.Tags.Tag6, &chunk.Tags.Tag7,
		&chunk.Enabled, &chunk.Manual, &chunk.SearchRank, &chunk.QualityScore, &chunk.CreatedAt, &chunk.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Chunk{}, domain.ErrNotFound
	}
	return chunk, err
}

func insertChunkTx(ctx context.Context, tx pgx.Tx, chunk domain.Chunk) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO chunks (id, knowledge_base_id, document_id, chunk_index, content_hash, content, content_length, token_count,
			embedding, embedding_model, start_offset, end_offset,
			tag1, tag2, tag3, tag4, tag5, tag6, tag7,
			enabled, manual, search_rank, quality_score, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, now(), now())`,
		chunk.ID, chunk.KnowledgeBaseID, chunk.DocumentID, chunk.Index,
		chunk.ContentHash, chunk.Content, chunk.ContentLength, chunk.TokenCount,
		chunk.Embedding, chunk.EmbeddingModel, chunk.StartOffset, chunk.EndOffset,
		chunk.Tags.Tag1, chunk.Tags.Tag2, chunk.Tags.Tag3, chunk.Tags.Tag4,
		chunk.Tags.Tag5, chunk.Tags.Tag6, chunk.Tags.Tag7,
		chunk.Enabled, chunk.Manual, chunk.SearchRank, chunk.QualityScore,
	)
	return err
}

// CommitDocumentChunks replaces a document's chunks with the given rows,
// sets the aggregate counters to the new totals and marks the document
// completed, all in one transaction. The document row is locked first and
// the state machine is enforced: a document the watchdog already failed
// stays failed, and the chunk writes roll back with the rejected
// transition.
func (s *PostgresStore) CommitDocumentChunks(ctx context.Context, params domain.CommitDocumentChunksParams) error {
	var tokenTotal, charTotal int64
	for _, chunk := range params.Chunks {
		tokenTotal += int64(chunk.TokenCount)
		charTotal += int64(chunk.ContentLength)
	}

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

		if !current.CanTransitionTo(domain.DocumentStatus_Completed) {
			return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidStatusTransition, current, domain.DocumentStatus_Completed)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, params.DocumentID); err != nil {
			return fmt.Errorf("failed to clear previous chunks: %w", err)
		}

		for _, chunk := range params.Chunks {
			if err := insertChunkTx(ctx, tx, chunk); err != nil {
				return fmt.Errorf("failed to insert chunk %d: %w", chunk.Index, err)
			}
		}

		_, err = tx.Exec(ctx, `
			UPDATE documents
			SET chunk_count = $2, token_count = $3, character_count = $4,
				status = $5, processing_completed_at = now(), processing_error = NULL, updated_at = now()
			WHERE id = $1`,
			params.DocumentID, int64(len(params.Chunks)), tokenTotal, charTotal, domain.DocumentStatus_Completed)
		if err != nil {
			return fmt.Errorf("failed to update document aggregates: %w", err)
		}

		return nil
	})
}

// CreateChunk appends a manually created chunk at max(index)+1. The parent
// document row is locked first so concurrent inserts cannot compute the
// same index, and the counter increments ride the same transaction.
func (s *PostgresStore) CreateChunk(ctx context.Context, chunk domain.Chunk) (domain.Chunk, error) {
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var exists bool
		err := tx.QueryRow(ctx, `
			SELECT true FROM documents
			WHERE id = $1 AND deleted_at IS NULL
			FOR UPDATE`, chunk.DocumentID).Scan(&exists)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock document row: %w", err)
		}

		err = tx.QueryRow(ctx, `
			SELECT COALESCE(MAX(chunk_index) + 1, 0) FROM chunks WHERE document_id = $1`,
			chunk.DocumentID).Scan(&chunk.Index)
		if err != nil {
			return fmt.Errorf("failed to compute next chunk index: %w", err)
		}

		if err := insertChunkTx(ctx, tx, chunk); err != nil {
			return fmt.Errorf("failed to insert chunk: %w", err)
		}

		_, err = tx.Exec(ctx, `
			UPDATE documents
			SET chunk_count = chunk_count + 1, token_count = token_count + $2,
				character_count = character_count + $3, updated_at = now()
			WHERE id = $1`, chunk.DocumentID, chunk.TokenCount, chunk.ContentLength)
		if err != nil {
			return fmt.Errorf("failed to update document aggregates: %w", err)
		}

		return nil
	})
	if err != nil {
		return domain.Chunk{}, err
	}

	return s.GetChunk(ctx, chunk.ID)
}

func (s *PostgresStore) GetChunk(ctx context.Context, id string) (domain.Chunk, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+chunkColumns+`
		FROM chunks
		WHERE id = $1`, id)

	return scanChunk(row)
}

// ListChunks returns one page ordered by chunk index. There is no count
// query here; callers derive hasMore from whether the page came back full.
func (s *PostgresStore) ListChunks(ctx context.Context, params domain.ListChunksParams) ([]domain.Chunk, error) {
	where := `WHERE document_id = $1`
	args := []any{params.DocumentID}

	if params.Search != "" {
		args = append(args, "%"+params.Search+"%")
		where += fmt.Sprintf(" AND content ILIKE $%d", len(args))
	}

	switch params.Enabled {
	case domain.EnabledFilter_Enabled:
		where += " AND enabled"
	case domain.EnabledFilter_Disabled:
		where += " AND NOT enabled"
	}

	args = append(args, params.Limit, params.Offset)
	query := fmt.Sprintf(`
		SELECT `+chunkColumns+`
		FROM chunks
		%s
		ORDER BY chunk_index ASC
		LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	defer rows.Close()

	var chunks []domain.Chunk
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}

	return chunks, rows.Err()
}

// UpdateChunk rewrites content and enabled state. When the content changes,
// the token/character deltas are applied to the parent document inside the
// same transaction.
func (s *PostgresStore) UpdateChunk(ctx context.Context, chunk domain.Chunk) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		var oldTokens, oldChars int
		err := tx.QueryRow(ctx, `
			SELECT token_count, content_length FROM chunks
			WHERE id = $1 AND document_id = $2
			FOR UPDATE`, chunk.ID, chunk.DocumentID).Scan(&oldTokens, &oldChars)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock chunk row: %w", err)
		}

		_, err = tx.Exec(ctx, `
			UPDATE chunks
			SET content = $2, content_length = $3, token_count = $4, content_hash = $5,
				end_offset = start_offset + $3, enabled = $6, updated_at = now()
			WHERE id = $1`,
			chunk.ID, chunk.Content, chunk.ContentLength, chunk.TokenCount, chunk.ContentHash, chunk.Enabled)
		if err != nil {
			return fmt.Errorf("failed to update chunk: %w", err)
		}

		if chunk.TokenCount != oldTokens || chunk.ContentLength != oldChars {
			_, err = tx.Exec(ctx, `
				UPDATE documents
				SET token_count = token_count + $2, character_count = character_count + $3, updated_at = now()
				WHERE id = $1`, chunk.DocumentID, chunk.TokenCount-oldTokens, chunk.ContentLength-oldChars)
			if err != nil {
				return fmt.Errorf("failed to update document aggregates: %w", err)
			}
		}

		return nil
	})
}

func (s *PostgresStore) DeleteChunk(ctx context.Context, documentID string, chunkID string) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		var tokens, chars int
		err := tx.QueryRow(ctx, `
			DELETE FROM chunks
			WHERE id = $1 AND document_id = $2
			RETURNING token_count, content_length`, chunkID, documentID).Scan(&tokens, &chars)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to delete chunk: %w", err)
		}

		_, err = tx.Exec(ctx, `
			UPDATE documents
			SET chunk_count = chunk_count - 1, token_count = token_count - $2,
				character_count = character_count - $3, updated_at = now()
			WHERE id = $1`, documentID, tokens, chars)
		if err != nil {
			return fmt.Errorf("failed to update document aggregates: %w", err)
		}

		return nil
	})
}

func (s *PostgresStore) BulkUpdateChunksEnabled(ctx context.Context, documentID string, chunkIDs []string, enabled bool) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE chunks
		SET enabled = $3, updated_at = now()
		WHERE document_id = $1 AND id = ANY($2)`, documentID, chunkIDs, enabled)
	if err != nil {
		return 0, fmt.Errorf("failed to bulk update chunks: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) BulkDeleteChunks(ctx context.Context, documentID string, chunkIDs []string) (int64, error) {
	var deleted int64

	err := s.inTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			DELETE FROM chunks
			WHERE document_id = $1 AND id = ANY($2)
			RETURNING token_count, content_length`, documentID, chunkIDs)
		if err != nil {
			return fmt.Errorf("failed to bulk delete chunks: %w", err)
		}

		var tokenTotal, charTotal int64
		for rows.Next() {
			var tokens, chars int64
			if err := rows.Scan(&tokens, &chars); err != nil {
				rows.Close()
				return err
			}
			deleted++
			tokenTotal += tokens
			charTotal += chars
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		if deleted == 0 {
			return nil
		}

		_, err = tx.Exec(ctx, `
			UPDATE documents
			SET chunk_count = chunk_count - $2, token_count = token_count - $3,
				character_count = character_count - $4, updated_at = now()
			WHERE id = $1`, documentID, deleted, tokenTotal, charTotal)
		if err != nil {
			return fmt.Errorf("failed to update document aggregates: %w", err)
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	return deleted, nil
}
