package cli

import (
	"context"
	"fmt"

	"github.com/corpusworks/corpus/internal/access"
	"github.com/corpusworks/corpus/internal/chunker"
	"github.com/corpusworks/corpus/internal/config"
	"github.com/corpusworks/corpus/internal/controllers"
	"github.com/corpusworks/corpus/internal/domain"
	"github.com/corpusworks/corpus/internal/embeddings"
	"github.com/corpusworks/corpus/internal/ingestion"
	"github.com/corpusworks/corpus/internal/middlewares"
	"github.com/corpusworks/corpus/internal/storage"
	sessionauth "github.com/corpusworks/corpus/internal/auth"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// ServiceDependencies contains everything the HTTP server needs.
type ServiceDependencies struct {
	Sessions            domain.SessionStore
	APIKeys             middlewares.APIKeyProvider
	Scheduler           *ingestion.Scheduler
	KnowledgeController *controllers.KnowledgeController
	DocumentController  *controllers.DocumentController
	ChunkController     *controllers.ChunkController

	closers []func()
}

func (d *ServiceDependencies) Close() {
	for _, closer := range d.closers {
		closer()
	}
}

// BuildServiceDependencies wires the storage, embedding and ingestion
// stack from configuration. Components without external configuration fall
// back to in-process implementations meant for local development.
func BuildServiceDependencies(ctx context.Context, cfg *config.Config) (*ServiceDependencies, error) {
	deps := &ServiceDependencies{}

	var store domain.KnowledgeStore

	if cfg.PostgresDSN != "" {
		pool, err := storage.NewPostgresPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}

		deps.closers = append(deps.closers, pool.Close)
		store = storage.NewPostgresStore(storage.PostgresStoreDependencies{Pool: pool})
	} else {
		log.Warn().Msg("POSTGRES_DSN is not set, using the in-memory store (data is lost on restart)")
		store = storage.NewMemoryStore()
	}

	var objects domain.ObjectStore

	if cfg.S3Bucket != "" {
		s3Store, err := storage.NewS3ObjectStore(storage.S3ObjectStoreDependencies{
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			Bucket:          cfg.S3Bucket,
			ForcePathStyle:  cfg.S3ForcePathStyle,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create s3 object store: %w", err)
		}
		objects = s3Store
	} else {
		fsStore, err := storage.NewFSObjectStore(cfg.ObjectStorePath)
		if err != nil {
			return nil, fmt.Errorf("failed to create filesystem object store: %w", err)
		}
		objects = fsStore
	}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})

		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to ping redis: %w", err)
		}

		deps.closers = append(deps.closers, func() { _ = client.Close() })
		deps.Sessions = sessionauth.NewRedisSessionStore(sessionauth.RedisSessionStoreDependencies{Client: client})
	} else {
		log.Warn().Msg("REDIS_ADDR is not set, using the in-memory session store")
		deps.Sessions = sessionauth.NewMemorySessionStore()
	}

	embedder := embeddings.NewOpenAIClient(cfg.EmbeddingAPIKey, cfg.EmbeddingBaseURL, embeddings.DefaultConfig())

	orchestrator := ingestion.NewOrchestrator(ingestion.OrchestratorDependencies{
		Store:             store,
		Objects:           objects,
		Chunker:           chunker.NewTextChunker(),
		Embedder:          embedder,
		ProcessingTimeout: cfg.ProcessingTimeout,
	})

	scheduler, err := ingestion.NewScheduler(ingestion.SchedulerDependencies{
		Orchestrator: orchestrator,
		Concurrency:  cfg.SchedulerConcurrency,
		BatchSize:    cfg.SchedulerBatchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ingestion scheduler: %w", err)
	}

	deps.Scheduler = scheduler
	deps.closers = append(deps.closers, scheduler.Close)

	gate := access.NewGate(access.GateDependencies{Store: store})

	deps.APIKeys = middlewares.NewConfigAPIKeyProvider(cfg.APIKeyUserIDs())

	deps.KnowledgeController = controllers.NewKnowledgeController(controllers.KnowledgeControllerDependencies{
		Store: store,
		Gate:  gate,
	})
	deps.DocumentController = controllers.NewDocumentController(controllers.DocumentControllerDependencies{
		Store:     store,
		Objects:   objects,
		Gate:      gate,
		Scheduler: scheduler,
	})
	deps.ChunkController = controllers.NewChunkController(controllers.ChunkControllerDependencies{
		Store:    store,
		Gate:     gate,
		Embedder: embedder,
	})

	return deps, nil
}
