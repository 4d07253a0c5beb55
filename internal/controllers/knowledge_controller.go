package controllers

import (
	"github.com/corpusworks/corpus/internal/access"
	"github.com/corpusworks/corpus/internal/domain"
	"github.com/corpusworks/corpus/internal/middlewares"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/xid"
)

const defaultEmbeddingModel = "text-embedding-3-small"
const defaultEmbeddingDimension = 1536

// KnowledgeController exposes CRUD over knowledge bases.
type KnowledgeController struct {
	store domain.KnowledgeStore
	gate  *access.Gate
}

type KnowledgeControllerDependencies struct {
	Store domain.KnowledgeStore
	Gate  *access.Gate
}

func NewKnowledgeController(deps KnowledgeControllerDependencies) *KnowledgeController {
	return &KnowledgeController{
		store: deps.Store,
		gate:  deps.Gate,
	}
}

type CreateKnowledgeBaseRequest struct {
	Name               string                 `json:"name"`
	Description        string                 `json:"description"`
	WorkspaceID        string                 `json:"workspace_id"`
	EmbeddingModel     string                 `json:"embedding_model"`
	EmbeddingDimension int                    `json:"embedding_dimension"`
	ChunkingConfig     domain.ChunkingOptions `json:"chunking_config"`
}

func (ctl *KnowledgeController) CreateKnowledgeBase(c fiber.Ctx) error {
	var req CreateKnowledgeBaseRequest
	if err := c.Bind().Body(&req); err != nil {
		return errorResponse(c, domain.NewValidationError("invalid request body", nil))
	}

	if req.Name == "" {
		return errorResponse(c, domain.NewValidationError("validation failed", map[string]string{
			"name": "name is required",
		}))
	}

	if req.EmbeddingModel == "" {
		req.EmbeddingModel = defaultEmbeddingModel
	}
	if req.EmbeddingDimension <= 0 {
		req.EmbeddingDimension = defaultEmbeddingDimension
	}

	kb := domain.KnowledgeBase{
		ID:                 xid.New().String(),
		UserID:             middlewares.UserID(c),
		WorkspaceID:        req.WorkspaceID,
		Name:               req.Name,
		Description:        req.Description,
		EmbeddingModel:     req.EmbeddingModel,
		EmbeddingDimension: req.EmbeddingDimension,
		ChunkingConfig:     req.ChunkingConfig.WithDefaults(),
	}

	if err := ctl.store.CreateKnowledgeBase(c.RequestCtx(), kb); err != nil {
		return errorResponse(c, err)
	}

	return successResponse(c, fiber.StatusCreated, kb)
}

func (ctl *KnowledgeController) ListKnowledgeBases(c fiber.Ctx) error {
	kbs, err := ctl.store.ListKnowledgeBases(c.RequestCtx(), middlewares.UserID(c))
	if err != nil {
		return errorResponse(c, err)
	}

	return successResponse(c, fiber.StatusOK, fiber.Map{
		"knowledge_bases": kbs,
	})
}

func (ctl *KnowledgeController) GetKnowledgeBase(c fiber.Ctx) error {
	result, err := ctl.gate.CheckKnowledgeBaseAccess(c.RequestCtx(), c.Params("kbID"), middlewares.UserID(c))
	if err != nil {
		return errorResponse(c, err)
	}

	return successResponse(c, fiber.StatusOK, result.KnowledgeBase)
}

type UpdateKnowledgeBaseRequest struct {
	Name           string                  `json:"name"`
	Description    *string                 `json:"description"`
	ChunkingConfig *domain.ChunkingOptions `json:"chunking_config"`
}

func (ctl *KnowledgeController) UpdateKnowledgeBase(c fiber.Ctx) error {
	result, err := ctl.gate.CheckKnowledgeBaseAccess(c.RequestCtx(), c.Params("kbID"), middlewares.UserID(c))
	if err != nil {
		return errorResponse(c, err)
	}

	var req UpdateKnowledgeBaseRequest
	if err := c.Bind().Body(&req); err != nil {
		return errorResponse(c, domain.NewValidationError("invalid request body", nil))
	}

	kb := result.KnowledgeBase
	if req.Name != "" {
		kb.Name = req.Name
	}
	if req.Description != nil {
		kb.Description = *req.Description
	}
	if req.ChunkingConfig != nil {
		kb.ChunkingConfig = req.ChunkingConfig.WithDefaults()
	}

	if err := ctl.store.UpdateKnowledgeBase(c.RequestCtx(), kb); err != nil {
		return errorResponse(c, err)
	}

	return successResponse(c, fiber.StatusOK, kb)
}

func (ctl *KnowledgeController) DeleteKnowledgeBase(c fiber.Ctx) error {
	result, err := ctl.gate.CheckKnowledgeBaseAccess(c.RequestCtx(), c.Params("kbID"), middlewares.UserID(c))
	if err != nil {
		return errorResponse(c, err)
	}

	if err := ctl.store.SoftDeleteKnowledgeBase(c.RequestCtx(), result.KnowledgeBase.ID); err != nil {
		return errorResponse(c, err)
	}

	return successResponse(c, fiber.StatusOK, fiber.Map{
		"id": result.KnowledgeBase.ID,
	})
}
