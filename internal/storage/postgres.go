package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/corpusworks/corpus/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements domain.KnowledgeStore on a pgx connection pool.
// Chunk mutations and the matching document counter adjustments always run
// in one transaction; the database's isolation serializes concurrent
// writers to the same document's aggregate row.
type PostgresStore struct {
	pool *pgxpool.Pool
}

type PostgresStoreDependencies struct {
	Pool *pgxpool.Pool
}

func NewPostgresStore(deps PostgresStoreDependencies) *PostgresStore {
	return &PostgresStore{
		pool: deps.Pool,
	}
}

// NewPostgresPool connects and pings a pool for the given DSN.
func NewPostgresPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return pool, nil
}

const uniqueViolationCode = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}

// inTx runs fn inside a transaction, rolling back on error.
func (s *PostgresStore) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

const knowledgeBaseColumns = `id, user_id, workspace_id, name, description, embedding_model, embedding_dimension,
	chunk_size, chunk_overlap, min_chars_per_chunk, created_at, updated_at, deleted_at`

func scanKnowledgeBase(row pgx.Row) (domain.KnowledgeBase, error) {
	var kb domain.KnowledgeBase
	err := row.Scan(
		&kb.ID, &kb.UserID, &kb.WorkspaceID, &kb.Name, &kb.Description,
		&kb.EmbeddingModel, &kb.EmbeddingDimension,
		&kb.ChunkingConfig.ChunkSize, &kb.ChunkingConfig.ChunkOverlap, &kb.ChunkingConfig.MinCharsPerChunk,
		&kb.CreatedAt, &kb.UpdatedAt, &kb.DeletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.KnowledgeBase{}, domain.ErrNotFound
	}
	return kb, err
}

func (s *PostgresStore) CreateKnowledgeBase(ctx context.Context, kb domain.KnowledgeBase) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO knowledge_bases (id, user_id, workspace_id, name, description, embedding_model, embedding_dimension,
			chunk_size, chunk_overlap, min_chars_per_chunk, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())`,
		kb.ID, kb.UserID, kb.WorkspaceID, kb.Name, kb.Description, kb.EmbeddingModel, kb.EmbeddingDimension,
		kb.ChunkingConfig.ChunkSize, kb.ChunkingConfig.ChunkOverlap, kb.ChunkingConfig.MinCharsPerChunk,
	)
	if err != nil {
		return fmt.Errorf("failed to insert knowledge base: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetKnowledgeBase(ctx context.Context, id string) (domain.KnowledgeBase, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+knowledgeBaseColumns+`
		FROM knowledge_bases
		WHERE id = $1 AND deleted_at IS NULL`, id)

	return scanKnowledgeBase(row)
}

func (s *PostgresStore) ListKnowledgeBases(ctx context.Context, userID string) ([]domain.KnowledgeBase, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+knowledgeBaseColumns+`
		FROM knowledge_bases
		WHERE user_id = $1 AND deleted_at IS NULL
		ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list knowledge bases: %w", err)
	}
	defer rows.Close()

	var kbs []domain.KnowledgeBase
	for rows.Next() {
		kb, err := scanKnowledgeBase(rows)
		if err != nil {
			return nil, err
		}
		kbs = append(kbs, kb)
	}

	return kbs, rows.Err()
}

func (s *PostgresStore) UpdateKnowledgeBase(ctx context.Context, kb domain.KnowledgeBase) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE knowledge_bases
		SET name = $2, description = $3, chunk_size = $4, chunk_overlap = $5, min_chars_per_chunk = $6, updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL`,
		kb.ID, kb.Name, kb.Description,
		kb.ChunkingConfig.ChunkSize, kb.ChunkingConfig.ChunkOverlap, kb.ChunkingConfig.MinCharsPerChunk,
	)
	if err != nil {
		return fmt.Errorf("failed to update knowledge base: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SoftDeleteKnowledgeBase(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE knowledge_bases
		SET deleted_at = now(), updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("failed to delete knowledge base: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
