package controllers

import (
	"fmt"
	"strconv"
	"time"

	"github.com/corpusworks/corpus/internal/access"
	"github.com/corpusworks/corpus/internal/domain"
	"github.com/corpusworks/corpus/internal/ingestion"
	"github.com/corpusworks/corpus/internal/middlewares"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/xid"
	"github.com/rs/zerolog/log"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 100

	// maxBatchOperationIDs bounds bulk enable/disable/delete calls.
	maxBatchOperationIDs = 100

	// processingTimeoutThreshold is how long a document must have been
	// processing before the watchdog may mark it failed.
	processingTimeoutThreshold = 90 * time.Second

	timeoutFailureMessage = "Processing timed out - exceeded the maximum processing duration"

	// maxUploadBytes bounds a single file upload.
	maxUploadBytes = 20 << 20
)

// DocumentController exposes document CRUD, bulk operations and the
// ingestion entry points.
type DocumentController struct {
	store     domain.KnowledgeStore
	objects   domain.ObjectStore
	gate      *access.Gate
	scheduler *ingestion.Scheduler
}

type DocumentControllerDependencies struct {
	Store     domain.KnowledgeStore
	Objects   domain.ObjectStore
	Gate      *access.Gate
	Scheduler *ingestion.Scheduler
}

func NewDocumentController(deps DocumentControllerDependencies) *DocumentController {
	return &DocumentController{
		store:     deps.Store,
		objects:   deps.Objects,
		gate:      deps.Gate,
		scheduler: deps.Scheduler,
	}
}

func parseListQuery(c fiber.Ctx) (search string, enabled domain.EnabledFilter, offset, limit int) {
	search = c.Query("search")

	enabled = domain.EnabledFilter(c.Query("enabled", string(domain.EnabledFilter_All)))
	switch enabled {
	case domain.EnabledFilter_Enabled, domain.EnabledFilter_Disabled:
	default:
		enabled = domain.EnabledFilter_All
	}

	offset, _ = strconv.Atoi(c.Query("offset", "0"))
	if offset < 0 {
		offset = 0
	}

	limit, _ = strconv.Atoi(c.Query("limit", strconv.Itoa(defaultPageLimit)))
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	return search, enabled, offset, limit
}

// ListDocuments pages through a knowledge base's documents. This endpoint
// pays for an exact total via a count query; the chunk listing uses a
// cheaper length heuristic instead.
func (ctl *DocumentController) ListDocuments(c fiber.Ctx) error {
	result, err := ctl.gate.CheckKnowledgeBaseAccess(c.RequestCtx(), c.Params("kbID"), middlewares.UserID(c))
	if err != nil {
		return errorResponse(c, err)
	}

	search, enabled, offset, limit := parseListQuery(c)

	docs, total, err := ctl.store.ListDocuments(c.RequestCtx(), domain.ListDocumentsParams{
		KnowledgeBaseID: result.KnowledgeBase.ID,
		Search:          search,
		Enabled:         enabled,
		Offset:          offset,
		Limit:           limit,
	})
	if err != nil {
		return errorResponse(c, err)
	}

	return successResponse(c, fiber.StatusOK, fiber.Map{
		"documents": docs,
		"pagination": fiber.Map{
			"offset":   offset,
			"limit":    limit,
			"total":    total,
			"has_more": int64(offset+len(docs)) < total,
		},
	})
}

// UploadFile stores a raw request body in object storage and returns the
// file key to reference in a subsequent document create.
func (ctl *DocumentController) UploadFile(c fiber.Ctx) error {
	result, err := ctl.gate.CheckKnowledgeBaseAccess(c.RequestCtx(), c.Params("kbID"), middlewares.UserID(c))
	if err != nil {
		return errorResponse(c, err)
	}

	body := c.Body()
	if len(body) == 0 {
		return errorResponse(c, domain.NewValidationError("request body is empty", nil))
	}
	if len(body) > maxUploadBytes {
		return errorResponse(c, domain.NewValidationError(
			fmt.Sprintf("file exceeds the %d byte upload limit", maxUploadBytes), nil))
	}

	contentType := c.Get(fiber.HeaderContentType)
	if contentType == "" {
		contentType = "text/plain"
	}

	key := fmt.Sprintf("files/%s/%s", result.KnowledgeBase.ID, uuid.NewString())

	if err := ctl.objects.PutObject(c.RequestCtx(), key, contentType, body); err != nil {
		return errorResponse(c, err)
	}

	return successResponse(c, fiber.StatusCreated, fiber.Map{
		"file_key":  key,
		"file_size": len(body),
		"mime_type": contentType,
	})
}

type DocumentPayload struct {
	Filename string              `json:"filename"`
	FileKey  string              `json:"file_key"`
	FileSize int64               `json:"file_size"`
	MimeType string              `json:"mime_type"`
	FileHash *string             `json:"file_hash"`
	Tags     domain.DocumentTags `json:"tags"`
}

type CreateDocumentsRequest struct {
	Documents       []DocumentPayload       `json:"documents"`
	ChunkingOptions *domain.ChunkingOptions `json:"chunking_options"`
}

type FailedDocument struct {
	Filename string `json:"filename"`
	Error    string `json:"error"`
}

// CreateDocuments registers one or more documents and kicks off ingestion
// detached from this request. A duplicate file hash within the same
// knowledge base is a conflict for a single create; in a bulk create the
// duplicate is skipped and reported while the rest proceed.
func (ctl *DocumentController) CreateDocuments(c fiber.Ctx) error {
	result, err := ctl.gate.CheckKnowledgeBaseAccess(c.RequestCtx(), c.Params("kbID"), middlewares.UserID(c))
	if err != nil {
		return errorResponse(c, err)
	}
	kb := result.KnowledgeBase

	var req CreateDocumentsRequest
	if err := c.Bind().Body(&req); err != nil {
		return errorResponse(c, domain.NewValidationError("invalid request body", nil))
	}

	if len(req.Documents) == 0 {
		return errorResponse(c, domain.NewValidationError("validation failed", map[string]string{
			"documents": "at least one document is required",
		}))
	}

	for i, payload := range req.Documents {
		if payload.Filename == "" || payload.FileKey == "" {
			return errorResponse(c, domain.NewValidationError("validation failed", map[string]string{
				fmt.Sprintf("documents[%d]", i): "filename and file_key are required",
			}))
		}
	}

	chunkingOptions := kb.ChunkingConfig
	if req.ChunkingOptions != nil {
		chunkingOptions = req.ChunkingOptions.WithDefaults()
	}

	var created []domain.Document
	var failed []FailedDocument

	for _, payload := range req.Documents {
		doc := domain.Document{
			ID:              xid.New().String(),
			KnowledgeBaseID: kb.ID,
			Filename:        payload.Filename,
			FileKey:         payload.FileKey,
			FileSize:        payload.FileSize,
			MimeType:        payload.MimeType,
			FileHash:        payload.FileHash,
			Status:          domain.DocumentStatus_Pending,
			Enabled:         true,
			Tags:            payload.Tags,
		}

		if err := ctl.store.CreateDocument(c.RequestCtx(), doc); err != nil {
			if len(req.Documents) == 1 {
				return errorResponse(c, err)
			}

			log.Warn().
				Err(err).
				Str("filename", doc.Filename).
				Str("knowledge_base_id", kb.ID).
				Msg("Skipping document in bulk create")

			failed = append(failed, FailedDocument{Filename: doc.Filename, Error: err.Error()})
			continue
		}

		created = append(created, doc)
	}

	if len(created) > 0 {
		scheduled := make([]ingestion.ScheduledDocument, len(created))
		for i, doc := range created {
			scheduled[i] = ingestion.ScheduledDocument{
				KnowledgeBaseID: kb.ID,
				DocumentID:      doc.ID,
				ChunkingOptions: chunkingOptions,
			}
		}

		ctl.scheduler.ProcessDocumentsAsync(scheduled)
	}

	return successResponse(c, fiber.StatusCreated, fiber.Map{
		"documents": created,
		"failed":    failed,
	})
}

func (ctl *DocumentController) GetDocument(c fiber.Ctx) error {
	result, err := ctl.gate.CheckDocumentAccess(c.RequestCtx(), c.Params("kbID"), c.Params("docID"), middlewares.UserID(c))
	if err != nil {
		return errorResponse(c, err)
	}

	return successResponse(c, fiber.StatusOK, result.Document)
}

type UpdateDocumentRequest struct {
	Filename *string              `json:"filename"`
	Enabled  *bool                `json:"enabled"`
	Tags     *domain.DocumentTags `json:"tags"`
}

// UpdateDocument rewrites document metadata. Tag updates apply to the
// document only; copies already denormalized onto chunks are left as they
// were written.
func (ctl *DocumentController) UpdateDocument(c fiber.Ctx) error {
	result, err := ctl.gate.CheckDocumentAccess(c.RequestCtx(), c.Params("kbID"), c.Params("docID"), middlewares.UserID(c))
	if err != nil {
		return errorResponse(c, err)
	}

	var req UpdateDocumentRequest
	if err := c.Bind().Body(&req); err != nil {
		return errorResponse(c, domain.NewValidationError("invalid request body", nil))
	}

	doc := result.Document
	if req.Filename != nil {
		if *req.Filename == "" {
			return errorResponse(c, domain.NewValidationError("validation failed", map[string]string{
				"filename": "filename cannot be empty",
			}))
		}
		doc.Filename = *req.Filename
	}
	if req.Enabled != nil {
		doc.Enabled = *req.Enabled
	}
	if req.Tags != nil {
		doc.Tags = *req.Tags
	}

	if err := ctl.store.UpdateDocument(c.RequestCtx(), doc); err != nil {
		return errorResponse(c, err)
	}

	return successResponse(c, fiber.StatusOK, doc)
}

func (ctl *DocumentController) DeleteDocument(c fiber.Ctx) error {
	result, err := ctl.gate.CheckDocumentAccess(c.RequestCtx(), c.Params("kbID"), c.Params("docID"), middlewares.UserID(c))
	if err != nil {
		return errorResponse(c, err)
	}

	if err := ctl.store.SoftDeleteDocument(c.RequestCtx(), result.Document.ID); err != nil {
		return errorResponse(c, err)
	}

	return successResponse(c, fiber.StatusOK, fiber.Map{
		"id": result.Document.ID,
	})
}

type BulkDocumentOperationRequest struct {
	Operation   string   `json:"operation"`
	DocumentIDs []string `json:"document_ids"`
}

func (ctl *DocumentController) BulkDocumentOperation(c fiber.Ctx) error {
	result, err := ctl.gate.CheckKnowledgeBaseAccess(c.RequestCtx(), c.Params("kbID"), middlewares.UserID(c))
	if err != nil {
		return errorResponse(c, err)
	}

	var req BulkDocumentOperationRequest
	if err := c.Bind().Body(&req); err != nil {
		return errorResponse(c, domain.NewValidationError("invalid request body", nil))
	}

	if len(req.DocumentIDs) == 0 || len(req.DocumentIDs) > maxBatchOperationIDs {
		return errorResponse(c, domain.NewValidationError("validation failed", map[string]string{
			"document_ids": fmt.Sprintf("between 1 and %d ids are required", maxBatchOperationIDs),
		}))
	}

	var affected int64

	switch req.Operation {
	case "enable":
		affected, err = ctl.store.BulkUpdateDocumentsEnabled(c.RequestCtx(), result.KnowledgeBase.ID, req.DocumentIDs, true)
	case "disable":
		affected, err = ctl.store.BulkUpdateDocumentsEnabled(c.RequestCtx(), result.KnowledgeBase.ID, req.DocumentIDs, false)
	case "delete":
		affected, err = ctl.store.BulkSoftDeleteDocuments(c.RequestCtx(), result.KnowledgeBase.ID, req.DocumentIDs)
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

// RetryDocument re-runs ingestion for a failed document.
func (ctl *DocumentController) RetryDocument(c fiber.Ctx) error {
	result, err := ctl.gate.CheckDocumentAccess(c.RequestCtx(), c.Params("kbID"), c.Params("docID"), middlewares.UserID(c))
	if err != nil {
		return errorResponse(c, err)
	}

	if result.Document.Status != domain.DocumentStatus_Failed {
		return errorResponse(c, fmt.Errorf("%w: only failed documents can be retried (current status: %s)",
			domain.ErrInvalidStatusTransition, result.Document.Status))
	}

	ctl.scheduler.ProcessDocumentsAsync([]ingestion.ScheduledDocument{{
		KnowledgeBaseID: result.KnowledgeBase.ID,
		DocumentID:      result.Document.ID,
		ChunkingOptions: result.KnowledgeBase.ChunkingConfig,
	}})

	return successResponse(c, fiber.StatusAccepted, fiber.Map{
		"id": result.Document.ID,
	})
}

// MarkDocumentFailed is the timeout watchdog: an operator may fail a
// document stuck in processing, but only after the threshold has elapsed
// since processing started.
func (ctl *DocumentController) MarkDocumentFailed(c fiber.Ctx) error {
	result, err := ctl.gate.CheckDocumentAccess(c.RequestCtx(), c.Params("kbID"), c.Params("docID"), middlewares.UserID(c))
	if err != nil {
		return errorResponse(c, err)
	}
	doc := result.Document

	if doc.Status != domain.DocumentStatus_Processing {
		return errorResponse(c, domain.NewValidationError(
			fmt.Sprintf("document is %s, only processing documents can be marked as timed out", doc.Status), nil))
	}

	if doc.ProcessingStartedAt == nil || time.Since(*doc.ProcessingStartedAt) < processingTimeoutThreshold {
		return errorResponse(c, domain.NewValidationError(
			fmt.Sprintf("document has been processing for less than %s", processingTimeoutThreshold), nil))
	}

	message := timeoutFailureMessage
	err = ctl.store.UpdateDocumentStatus(c.RequestCtx(), domain.UpdateDocumentStatusParams{
		DocumentID: doc.ID,
		Status:     domain.DocumentStatus_Failed,
		Error:      &message,
	})
	if err != nil {
		return errorResponse(c, err)
	}

	return successResponse(c, fiber.StatusOK, fiber.Map{
		"id":     doc.ID,
		"status": domain.DocumentStatus_Failed,
	})
}
