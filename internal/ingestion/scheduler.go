package ingestion

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/corpusworks/corpus/internal/domain"

	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog/log"
)

const (
	DefaultSchedulerConcurrency = 3
	DefaultSchedulerBatchSize   = 5
	DefaultInterBatchDelay      = 1 * time.Second
	DefaultStaggerDelay         = 500 * time.Millisecond
)

// Scheduler fans the orchestrator out over many documents without
// overwhelming the embedding provider: fixed-size batches run strictly
// sequentially with an inter-batch delay, items within a batch start
// staggered, and true concurrency is bounded by a fixed-size worker pool.
// This is a cooperative rate limiter for a third-party API, not a
// general-purpose work queue.
type Scheduler struct {
	orchestrator *Orchestrator
	pool         *ants.Pool

	batchSize       int
	interBatchDelay time.Duration
	staggerDelay    time.Duration
}

type SchedulerDependencies struct {
	Orchestrator    *Orchestrator
	Concurrency     int
	BatchSize       int
	InterBatchDelay time.Duration
	StaggerDelay    time.Duration
}

func NewScheduler(deps SchedulerDependencies) (*Scheduler, error) {
	concurrency := deps.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultSchedulerConcurrency
	}

	batchSize := deps.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultSchedulerBatchSize
	}

	interBatchDelay := deps.InterBatchDelay
	if interBatchDelay <= 0 {
		interBatchDelay = DefaultInterBatchDelay
	}

	staggerDelay := deps.StaggerDelay
	if staggerDelay < 0 {
		staggerDelay = DefaultStaggerDelay
	}

	// Submit blocks while all workers are busy, which is exactly the
	// bounded-concurrency gate we need.
	pool, err := ants.NewPool(concurrency)
	if err != nil {
		return nil, fmt.Errorf("failed to create ingestion worker pool: %w", err)
	}

	return &Scheduler{
		orchestrator:    deps.Orchestrator,
		pool:            pool,
		batchSize:       batchSize,
		interBatchDelay: interBatchDelay,
		staggerDelay:    staggerDelay,
	}, nil
}

func (s *Scheduler) Close() {
	s.pool.Release()
}

type ScheduledDocument struct {
	KnowledgeBaseID string
	DocumentID      string
	ChunkingOptions domain.ChunkingOptions
}

// ProcessDocumentsAsync runs the batch detached from the caller's
// request/response cycle. Its top-level failure is only ever logged.
func (s *Scheduler) ProcessDocumentsAsync(docs []ScheduledDocument) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error().
					Interface("panic", r).
					Int("document_count", len(docs)).
					Msg("Bulk ingestion run panicked")
			}
		}()

		s.ProcessDocuments(context.Background(), docs)
	}()
}

// ProcessDocuments processes batches sequentially; batch K+1's delay starts
// only after every document in batch K has finished. Per-document failures
// are recorded by the orchestrator and never abort the run.
func (s *Scheduler) ProcessDocuments(ctx context.Context, docs []ScheduledDocument) {
	start := time.Now()

	for batchStart := 0; batchStart < len(docs); batchStart += s.batchSize {
		batchEnd := batchStart + s.batchSize
		if batchEnd > len(docs) {
			batchEnd = len(docs)
		}
		batch := docs[batchStart:batchEnd]

		var wg sync.WaitGroup

		for i, doc := range batch {
			if i > 0 {
				time.Sleep(s.staggerDelay)
			}

			wg.Add(1)

			doc := doc
			err := s.pool.Submit(func() {
				defer wg.Done()
				s.processOne(ctx, doc)
			})
			if err != nil {
				wg.Done()
				log.Error().
					Err(err).
					Str("document_id", doc.DocumentID).
					Msg("Failed to submit document to ingestion pool")

				s.orchestrator.FailDocument(ctx, doc.DocumentID,
					fmt.Errorf("failed to start processing: %w", err))
			}
		}

		wg.Wait()

		if batchEnd < len(docs) {
			time.Sleep(s.interBatchDelay)
		}
	}

	log.Info().
		Int("document_count", len(docs)).
		Dur("duration", time.Since(start)).
		Msg("Bulk ingestion run finished")
}

func (s *Scheduler) processOne(ctx context.Context, doc ScheduledDocument) {
	err := s.orchestrator.ProcessDocument(ctx, ProcessDocumentParams{
		KnowledgeBaseID: doc.KnowledgeBaseID,
		DocumentID:      doc.DocumentID,
		ChunkingOptions: doc.ChunkingOptions,
	})
	if err != nil {
		// Already recorded on the document; the batch keeps going.
		log.Warn().
			Err(err).
			Str("document_id", doc.DocumentID).
			Msg("Document failed during bulk ingestion")
	}
}
