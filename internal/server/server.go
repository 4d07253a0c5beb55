package server

import (
	"time"

	"github.com/corpusworks/corpus/internal/controllers"
	"github.com/corpusworks/corpus/internal/domain"
	"github.com/corpusworks/corpus/internal/middlewares"
	"github.com/corpusworks/corpus/internal/version"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

type HTTPServerDependencies struct {
	Sessions            domain.SessionStore
	APIKeys             middlewares.APIKeyProvider
	KnowledgeController *controllers.KnowledgeController
	DocumentController  *controllers.DocumentController
	ChunkController     *controllers.ChunkController
}

func NewHTTPServer(deps HTTPServerDependencies) *fiber.App {
	router := fiber.New(fiber.Config{
		AppName: "corpus",
	})

	router.Use(cors.New())
	router.Use(logger.New())

	// Health check endpoint (no authentication required)
	router.Get("/health", func(c fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status":    "healthy",
			"service":   "corpus",
			"version":   version.GetVersion(),
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	})

	api := router.Group("/api")
	api.Use(middlewares.SessionMiddleware(deps.Sessions, deps.APIKeys))

	knowledge := api.Group("/knowledge")
	knowledge.Get("/", deps.KnowledgeController.ListKnowledgeBases)
	knowledge.Post("/", deps.KnowledgeController.CreateKnowledgeBase)
	knowledge.Get("/:kbID", deps.KnowledgeController.GetKnowledgeBase)
	knowledge.Put("/:kbID", deps.KnowledgeController.UpdateKnowledgeBase)
	knowledge.Delete("/:kbID", deps.KnowledgeController.DeleteKnowledgeBase)
	knowledge.Post("/:kbID/files", deps.DocumentController.UploadFile)

	documents := knowledge.Group("/:kbID/documents")
	documents.Get("/", deps.DocumentController.ListDocuments)
	documents.Post("/", deps.DocumentController.CreateDocuments)
	documents.Patch("/", deps.DocumentController.BulkDocumentOperation)
	documents.Get("/:docID", deps.DocumentController.GetDocument)
	documents.Put("/:docID", deps.DocumentController.UpdateDocument)
	documents.Delete("/:docID", deps.DocumentController.DeleteDocument)
	documents.Post("/:docID/retry", deps.DocumentController.RetryDocument)
	documents.Post("/:docID/mark-failed", deps.DocumentController.MarkDocumentFailed)

	chunks := documents.Group("/:docID/chunks")
	chunks.Get("/", deps.ChunkController.ListChunks)
	chunks.Post("/", deps.ChunkController.CreateChunk)
	chunks.Patch("/", deps.ChunkController.BulkChunkOperation)
	chunks.Get("/:chunkID", deps.ChunkController.GetChunk)
	chunks.Put("/:chunkID", deps.ChunkController.UpdateChunk)
	chunks.Delete("/:chunkID", deps.ChunkController.DeleteChunk)

	return router
}
