package ingestion

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/corpusworks/corpus/internal/domain"

	"github.com/rs/xid"
	"github.com/rs/zerolog/log"
)

const DefaultProcessingTimeout = 150 * time.Second

// Orchestrator drives one document through fetch → chunk → embed → persist.
// A successful run replaces the document's chunks and updates its aggregate
// counters in one transaction; any failure marks the document failed with
// the error message recorded.
type Orchestrator struct {
	store    domain.KnowledgeStore
	objects  domain.ObjectStore
	chunker  domain.DocumentChunker
	embedder domain.EmbeddingGenerator
	timeout  time.Duration
}

type OrchestratorDependencies struct {
	Store             domain.KnowledgeStore
	Objects           domain.ObjectStore
	Chunker           domain.DocumentChunker
	Embedder          domain.EmbeddingGenerator
	ProcessingTimeout time.Duration
}

func NewOrchestrator(deps OrchestratorDependencies) *Orchestrator {
	timeout := deps.ProcessingTimeout
	if timeout <= 0 {
		timeout = DefaultProcessingTimeout
	}

	return &Orchestrator{
		store:    deps.Store,
		objects:  deps.Objects,
		chunker:  deps.Chunker,
		embedder: deps.Embedder,
		timeout:  timeout,
	}
}

type ProcessDocumentParams struct {
	KnowledgeBaseID string
	DocumentID      string
	ChunkingOptions domain.ChunkingOptions
}

func (o *Orchestrator) ProcessDocument(ctx context.Context, p ProcessDocumentParams) error {
	start := time.Now()

	err := o.store.UpdateDocumentStatus(ctx, domain.UpdateDocumentStatusParams{
		DocumentID: p.DocumentID,
		Status:     domain.DocumentStatus_Processing,
	})
	if err != nil {
		return fmt.Errorf("failed to mark document %s as processing: %w", p.DocumentID, err)
	}

	processCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	chunkCount, err := o.process(processCtx, p)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: document processing exceeded %s", domain.ErrTimeout, o.timeout)
		}

		o.markFailed(ctx, p.DocumentID, err)

		log.Error().
			Err(err).
			Str("document_id", p.DocumentID).
			Str("knowledge_base_id", p.KnowledgeBaseID).
			Dur("duration", time.Since(start)).
			Msg("Document processing failed")

		return err
	}

	log.Info().
		Str("document_id", p.DocumentID).
		Str("knowledge_base_id", p.KnowledgeBaseID).
		Int("chunk_count", chunkCount).
		Dur("duration", time.Since(start)).
		Msg("Document processing completed")

	return nil
}

func (o *Orchestrator) process(ctx context.Context, p ProcessDocumentParams) (int, error) {
	kb, err := o.store.GetKnowledgeBase(ctx, p.KnowledgeBaseID)
	if err != nil {
		return 0, fmt.Errorf("failed to get knowledge base %s: %w", p.KnowledgeBaseID, err)
	}

	doc, err := o.store.GetDocument(ctx, p.DocumentID)
	if err != nil {
		return 0, fmt.Errorf("failed to get document %s: %w", p.DocumentID, err)
	}

	content, err := o.objects.GetObject(ctx, doc.FileKey)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch document file %s: %w", doc.FileKey, err)
	}

	textChunks, err := o.chunker.ChunkDocument(ctx, domain.ChunkDocumentParams{
		Content:  content,
		MimeType: doc.MimeType,
		Options:  p.ChunkingOptions.WithDefaults(),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to chunk document %s: %w", doc.Filename, err)
	}

	var vectors [][]float32

	if len(textChunks) > 0 {
		texts := make([]string, len(textChunks))
		for i, tc := range textChunks {
			texts[i] = tc.Content
		}

		vectors, err = o.embedder.GenerateEmbeddings(ctx, texts, kb.EmbeddingModel)
		if err != nil {
			return 0, fmt.Errorf("failed to generate embeddings for %s: %w", doc.Filename, err)
		}
	}

	rows := make([]domain.Chunk, len(textChunks))
	for i, tc := range textChunks {
		rows[i] = domain.Chunk{
			ID:              xid.New().String(),
			KnowledgeBaseID: kb.ID,
			DocumentID:      doc.ID,
			Index:           i,
			ContentHash:     HashContent(tc.Content),
			Content:         tc.Content,
			ContentLength:   utf8.RuneCountInString(tc.Content),
			TokenCount:      tc.TokenCount,
			Embedding:       vectors[i],
			EmbeddingModel:  kb.EmbeddingModel,
			StartOffset:     tc.StartOffset,
			EndOffset:       tc.EndOffset,
			Tags:            doc.Tags,
			Enabled:         true,
		}
	}

	err = o.store.CommitDocumentChunks(ctx, domain.CommitDocumentChunksParams{
		KnowledgeBaseID: kb.ID,
		DocumentID:      doc.ID,
		Chunks:          rows,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to persist chunks for %s: %w", doc.Filename, err)
	}

	return len(rows), nil
}

// FailDocument records a failure for a document that never started
// processing, for example when its work item could not be submitted to the
// worker pool. The document is walked through processing first so the
// failed transition is legal, and it stays visible to the retry endpoint.
func (o *Orchestrator) FailDocument(ctx context.Context, documentID string, cause error) {
	err := o.store.UpdateDocumentStatus(ctx, domain.UpdateDocumentStatusParams{
		DocumentID: documentID,
		Status:     domain.DocumentStatus_Processing,
	})
	if err != nil {
		log.Error().
			Err(err).
			Str("document_id", documentID).
			Msg("Failed to record document failure")
		return
	}

	o.markFailed(ctx, documentID, cause)
}

// markFailed is best-effort: it runs even when the processing context has
// expired, and a failure to record the failure is only logged.
func (o *Orchestrator) markFailed(ctx context.Context, documentID string, cause error) {
	message := cause.Error()

	err := o.store.UpdateDocumentStatus(context.WithoutCancel(ctx), domain.UpdateDocumentStatusParams{
		DocumentID: documentID,
		Status:     domain.DocumentStatus_Failed,
		Error:      &message,
	})
	if err != nil {
		log.Error().
			Err(err).
			Str("document_id", documentID).
			Str("processing_error", message).
			Msg("Failed to record document failure")
	}
}

// HashContent returns the hex SHA-256 of a chunk's text, used as its
// content hash and as the per-knowledge-base dedup key for documents.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
