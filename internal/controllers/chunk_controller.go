package controllers

import (
	"fmt"
	"unicode/utf8"

	"github.com/corpusworks/corpus/internal/access"
	"github.com/corpusworks/corpus/internal/chunker"
	"github.com/corpusworks/corpus/internal/domain"
	"github.com/corpusworks/corpus/internal/ingestion"
	"github.com/corpusworks/corpus/internal/middlewares"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/xid"
)

// maxChunkContentLength bounds manually created and edited chunk content.
const maxChunkContentLength = 10000

// ChunkController exposes chunk CRUD and batch operations. Manual chunk
// writes are embedded synchronously so every stored chunk carries a vector.
type ChunkController struct {
	store    domain.KnowledgeStore
	gate     *access.Gate
	embedder domain.EmbeddingGenerator
}

type ChunkControllerDependencies struct {
	Store    domain.KnowledgeStore
	Gate     *access.Gate
	Embedder domain.EmbeddingGenerator
}

func NewChunkController(deps ChunkControllerDependencies) *ChunkController {
	return &ChunkController{
		store:    deps.Store,
		gate:     deps.Gate,
		embedder: deps.Embedder,
	}
}

// checkCompletedDocumentAccess gates chunk-level operations: the document
// chain must resolve and the document must have finished processing.
func (ctl *ChunkController) checkCompletedDocumentAccess(c fiber.Ctx) (access.CheckResult, error) {
	result, err := ctl.gate.CheckDocumentAccess(c.RequestCtx(), c.Params("kbID"), c.Params("docID"), middlewares.UserID(c))
	if err != nil {
		return access.CheckResult{}, err
	}

	if result.Document.Status != domain.DocumentStatus_Completed {
		return access.CheckResult{}, fmt.Errorf("%w: document %s is %s, chunks are not accessible until processing completes",
			domain.ErrForbidden, result.Document.ID, result.Document.Status)
	}

	return result, nil
}

// ListChunks pages through a document's chunks. hasMore is derived from
// whether the page came back full instead of a count query; a full final
// page reports one spurious extra page, which the next request resolves.
func (ctl *ChunkController) ListChunks(c fiber.Ctx) error {
	result, err := ctl.checkCompletedDocumentAccess(c)
	if err != nil {
		return errorResponse(c, err)
	}

	search, enabled, offset, limit := parseListQuery(c)

	chunks, err := ctl.store.ListChunks(c.RequestCtx(), domain.ListChunksParams{
		DocumentID: result.Document.ID,
		Search:     search,
		Enabled:    enabled,
		Offset:     offset,
		Limit:      limit,
	})
	if err != nil {
		return errorResponse(c, err)
	}

	return successResponse(c, fiber.StatusOK, fiber.Map{
		"chunks": chunks,
		"pagination": fiber.Map{
			"offset":   offset,
			"limit":    limit,
			"has_more": len(chunks) == limit,
		},
	})
}

type CreateChunkRequest struct {
	Content string `json:"content"`
	Enabled *bool  `json:"enabled"`
}

// CreateChunk appends a manually authored chunk to a completed document.
// The chunk is embedded synchronously, marked as manual, and inserted at
// max(index)+1 with the counter increments in the same transaction.
func (ctl *ChunkController) CreateChunk(c fiber.Ctx) error {
	result, err := ctl.checkCompletedDocumentAccess(c)
	if err != nil {
		return errorResponse(c, err)
	}

	var req CreateChunkRequest
	if err := c.Bind().Body(&req); err != nil {
		return errorResponse(c, domain.NewValidationError("invalid request body", nil))
	}

	if err := validateChunkContent(req.Content); err != nil {
		return errorResponse(c, err)
	}

	vectors, err := ctl.embedder.GenerateEmbeddings(c.RequestCtx(), []string{req.Content}, result.KnowledgeBase.EmbeddingModel)
	if err != nil {
		return errorResponse(c, err)
	}

	contentLength := utf8.RuneCountInString(req.Content)
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	chunk := domain.Chunk{
		ID:              xid.New().String(),
		KnowledgeBaseID: result.KnowledgeBase.ID,
		DocumentID:      result.Document.ID,
		ContentHash:     ingestion.HashContent(req.Content),
		Content:         req.Content,
		ContentLength:   contentLength,
		TokenCount:      chunker.EstimateTokenCount(req.Content),
		Embedding:       vectors[0],
		EmbeddingModel:  result.KnowledgeBase.EmbeddingModel,
		StartOffset:     0,
		EndOffset:       contentLength,
		Tags:            result.Document.Tags,
		Enabled:         enabled,
		Manual:          true,
	}

	created, err := ctl.store.CreateChunk(c.RequestCtx(), chunk)
	if err != nil {
		return errorResponse(c, err)
	}

	return successResponse(c, fiber.StatusCreated, created)
}

func (ctl *ChunkController) GetChunk(c fiber.Ctx) error {
	result, err := ctl.gate.CheckChunkAccess(c.RequestCtx(), c.Params("kbID"), c.Params("docID"), c.Params("chunkID"), middlewares.UserID(c))
	if err != nil {
		return errorResponse(c, err)
	}

	return successResponse(c, fiber.StatusOK, result.Chunk)
}

type UpdateChunkRequest struct {
	Content *string `json:"content"`
	Enabled *bool   `json:"enabled"`
}

func (ctl *ChunkController) UpdateChunk(c fiber.Ctx) error {
	result, err := ctl.gate.CheckChunkAccess(c.RequestCtx(), c.Params("kbID"), c.Params("docID"), c.Params("chunkID"), middlewares.UserID(c))
	if err != nil {
		return errorResponse(c, err)
	}

	var req UpdateChunkRequest
	if err := c.Bind().Body(&req); err != nil {
		return errorResponse(c, domain.NewValidationError("invalid request body", nil))
	}

	chunk := result.Chunk

	if req.Content != nil && *req.Content != chunk.Content {
		if err := validateChunkContent(*req.Content); err != nil {
			return errorResponse(c, err)
		}

		vectors, err := ctl.embedder.GenerateEmbeddings(c.RequestCtx(), []string{*req.Content}, result.KnowledgeBase.EmbeddingModel)
		if err != nil {
			return errorResponse(c, err)
		}

		chunk.Content = *req.Content
		chunk.ContentLength = utf8.RuneCountInString(*req.Content)
		chunk.TokenCount = chunker.EstimateTokenCount(*req.Content)
		chunk.ContentHash = ingestion.HashContent(*req.Content)
		chunk.Embedding = vectors[0]
		chunk.EndOffset = chunk.StartOffset + chunk.ContentLength
	}

	if req.Enabled != nil {
		chunk.Enabled = *req.Enabled
	}

	if err := ctl.store.UpdateChunk(c.RequestCtx(), chunk); err != nil {
		return errorResponse(c, err)
	}

	return successResponse(c, fiber.StatusOK, chunk)
}

func (ctl *ChunkController) DeleteChunk(c fiber.Ctx) error {
	result, err := ctl.gate.CheckChunkAccess(c.RequestCtx(), c.Params("kbID"), c.Params("docID"), c.Params("chunkID"), middlewares.UserID(c))
	if err != nil {
		return errorResponse(c, err)
	}

	if err := ctl.store.DeleteChunk(c.RequestCtx(), result.Document.ID, result.Chunk.ID); err != nil {
		return errorResponse(c, err)
	}

	return successResponse(c, fiber.StatusOK, fiber.Map{
		"id": result.Chunk.ID,
	})
}

type BulkChunkOperationRequest struct {
	Operation string   `json:"operation"`
	ChunkIDs  []string `json:"chunk_ids"`
}

func (ctl *ChunkController) BulkChunkOperation(c fiber.Ctx) error {
	result, err := ctl.checkCompletedDocumentAccess(c)
	if err != nil {
		return errorResponse(c, err)
	}

	var req BulkChunkOperationRequest
	if err := c.Bind().Body(&req); err != nil {
		return errorResponse(c, domain.NewValidationError("invalid request body", nil))
	}

	if len(req.ChunkIDs) == 0 || len(req.ChunkIDs) > maxBatchOperationIDs {
		return errorResponse(c, domain.NewValidationError("validation failed", map[string]string{
			"chunk_ids": fmt.Sprintf("between 1 and %d ids are required", maxBatchOperationIDs),
		}))
	}

	var affected int64

	switch req.Operation {
	case "enable":
		affected, err = ctl.store.BulkUpdateChunksEnabled(c.RequestCtx(), result.Document.ID, req.ChunkIDs, true)
	case "disable":
		affected, err = ctl.store.BulkUpdateChunksEnabled(c.RequestCtx(), result.Document.ID, req.ChunkIDs, false)
	case "delete":
		affected, err = ctl.store.BulkDeleteChunks(c.RequestCtx(), result.Document.ID, req.ChunkIDs)
	default:
		return errorResponse(c, domain.NewValidationError("validation failed", map[string]string{
			"operation": "operation must be one of enable, disable, delete",
		}))
	}
	if err != nil {
		return errorResponse(c, err)
	}

	return successResponse(c, fiber.StatusOK, fiber.Map{
		"operation":      req.Operation,
		"affected_count": affected,
	})
}

func validateChunkContent(content string) error {
	if content == "" {
		return domain.NewValidationError("validation failed", map[string]string{
			"content": "content is required",
		})
	}
	if utf8.RuneCountInString(content) > maxChunkContentLength {
		return domain.NewValidationError("validation failed", map[string]string{
			"content": fmt.Sprintf("content must be at most %d characters", maxChunkContentLength),
		})
	}
	return nil
}
