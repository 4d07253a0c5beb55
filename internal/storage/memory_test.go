package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/corpusworks/corpus/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedDocument(t *testing.T, store *MemoryStore, status domain.DocumentStatus) {
	t.Helper()

	ctx := context.Background()

	require.NoError(t, store.CreateKnowledgeBase(ctx, domain.KnowledgeBase{
		ID:     "kb-1",
		UserID: "owner",
		Name:   "docs",
	}))
	require.NoError(t, store.CreateDocument(ctx, domain.Document{
		ID:              "doc-1",
		KnowledgeBaseID: "kb-1",
		Filename:        "notes.txt",
		Status:          status,
		Enabled:         true,
	}))
}

func mustCreateChunk(t *testing.T, store *MemoryStore, id string, tokens, chars int) domain.Chunk {
	t.Helper()

	chunk, err := store.CreateChunk(context.Background(), domain.Chunk{
		ID:              id,
		KnowledgeBaseID: "kb-1",
		DocumentID:      "doc-1",
		Content:         "content",
		ContentLength:   chars,
		TokenCount:      tokens,
		Enabled:         true,
	})
	require.NoError(t, err)

	return chunk
}

func documentCounters(t *testing.T, store *MemoryStore) (int64, int64, int64) {
	t.Helper()

	doc, err := store.GetDocument(context.Background(), "doc-1")
	require.NoError(t, err)

	return doc.ChunkCount, doc.TokenCount, doc.CharacterCount
}

func TestMemoryStore_DocumentDeduplication(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.CreateKnowledgeBase(ctx, domain.KnowledgeBase{ID: "kb-1", UserID: "owner"}))
	require.NoError(t, store.CreateKnowledgeBase(ctx, domain.KnowledgeBase{ID: "kb-2", UserID: "owner"}))

	hash := "abc123"

	require.NoError(t, store.CreateDocument(ctx, domain.Document{
		ID: "doc-1", KnowledgeBaseID: "kb-1", FileHash: &hash,
	}))

	t.Run("same hash in the same knowledge base is rejected", func(t *testing.T) {
		err := store.CreateDocument(ctx, domain.Document{
			ID: "doc-2", KnowledgeBaseID: "kb-1", FileHash: &hash,
		})
		require.ErrorIs(t, err, domain.ErrDuplicateDocument)
	})

	t.Run("same hash in another knowledge base is fine", func(t *testing.T) {
		err := store.CreateDocument(ctx, domain.Document{
			ID: "doc-3", KnowledgeBaseID: "kb-2", FileHash: &hash,
		})
		require.NoError(t, err)
	})

	t.Run("deleting the original frees the hash", func(t *testing.T) {
		require.NoError(t, store.SoftDeleteDocument(ctx, "doc-1"))

		err := store.CreateDocument(ctx, domain.Document{
			ID: "doc-4", KnowledgeBaseID: "kb-1", FileHash: &hash,
		})
		require.NoError(t, err)
	})

	t.Run("documents without a hash never collide", func(t *testing.T) {
		require.NoError(t, store.CreateDocument(ctx, domain.Document{ID: "doc-5", KnowledgeBaseID: "kb-1"}))
		require.NoError(t, store.CreateDocument(ctx, domain.Document{ID: "doc-6", KnowledgeBaseID: "kb-1"}))
	})
}

func TestMemoryStore_UpdateDocumentStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("entering processing stamps the start and clears previous state", func(t *testing.T) {
		store := NewMemoryStore()
		seedDocument(t, store, domain.DocumentStatus_Failed)

		require.NoError(t, store.UpdateDocumentStatus(ctx, domain.UpdateDocumentStatusParams{
			DocumentID: "doc-1", Status: domain.DocumentStatus_Processing,
		}))

		doc, err := store.GetDocument(ctx, "doc-1")
		require.NoError(t, err)

		assert.Equal(t, domain.DocumentStatus_Processing, doc.Status)
		assert.NotNil(t, doc.ProcessingStartedAt)
		assert.Nil(t, doc.ProcessingCompletedAt)
		assert.Nil(t, doc.ProcessingError)
	})

	t.Run("entering failed records the error", func(t *testing.T) {
		store := NewMemoryStore()
		seedDocument(t, store, domain.DocumentStatus_Processing)

		message := "embedding provider down"
		require.NoError(t, store.UpdateDocumentStatus(ctx, domain.UpdateDocumentStatusParams{
			DocumentID: "doc-1", Status: domain.DocumentStatus_Failed, Error: &message,
		}))

		doc, err := store.GetDocument(ctx, "doc-1")
		require.NoError(t, err)

		assert.Equal(t, domain.DocumentStatus_Failed, doc.Status)
		assert.NotNil(t, doc.ProcessingCompletedAt)
		require.NotNil(t, doc.ProcessingError)
		assert.Equal(t, message, *doc.ProcessingError)
	})

	t.Run("entering completed clears the error", func(t *testing.T) {
		store := NewMemoryStore()
		seedDocument(t, store, domain.DocumentStatus_Processing)

		require.NoError(t, store.UpdateDocumentStatus(ctx, domain.UpdateDocumentStatusParams{
			DocumentID: "doc-1", Status: domain.DocumentStatus_Completed,
		}))

		doc, err := store.GetDocument(ctx, "doc-1")
		require.NoError(t, err)

		assert.Equal(t, domain.DocumentStatus_Completed, doc.Status)
		assert.NotNil(t, doc.ProcessingCompletedAt)
		assert.Nil(t, doc.ProcessingError)
	})

	t.Run("disallowed transition is rejected and changes nothing", func(t *testing.T) {
		store := NewMemoryStore()
		seedDocument(t, store, domain.DocumentStatus_Pending)

		err := store.UpdateDocumentStatus(ctx, domain.UpdateDocumentStatusParams{
			DocumentID: "doc-1", Status: domain.DocumentStatus_Completed,
		})
		require.ErrorIs(t, err, domain.ErrInvalidStatusTransition)

		doc, getErr := store.GetDocument(ctx, "doc-1")
		require.NoError(t, getErr)
		assert.Equal(t, domain.DocumentStatus_Pending, doc.Status)
	})

	t.Run("unknown document is not found", func(t *testing.T) {
		store := NewMemoryStore()

		err := store.UpdateDocumentStatus(ctx, domain.UpdateDocumentStatusParams{
			DocumentID: "doc-missing", Status: domain.DocumentStatus_Processing,
		})
		require.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestMemoryStore_AggregateCounters(t *testing.T) {
	ctx := context.Background()

	t.Run("chunk creation and deletion move the counters", func(t *testing.T) {
		store := NewMemoryStore()
		seedDocument(t, store, domain.DocumentStatus_Completed)

		mustCreateChunk(t, store, "chunk-1", 10, 40)
		mustCreateChunk(t, store, "chunk-2", 5, 20)

		chunkCount, tokenCount, charCount := documentCounters(t, store)
		assert.Equal(t, int64(2), chunkCount)
		assert.Equal(t, int64(15), tokenCount)
		assert.Equal(t, int64(60), charCount)

		require.NoError(t, store.DeleteChunk(ctx, "doc-1", "chunk-1"))

		chunkCount, tokenCount, charCount = documentCounters(t, store)
		assert.Equal(t, int64(1), chunkCount)
		assert.Equal(t, int64(5), tokenCount)
		assert.Equal(t, int64(20), charCount)
	})

	t.Run("chunk update applies the delta", func(t *testing.T) {
		store := NewMemoryStore()
		seedDocument(t, store, domain.DocumentStatus_Completed)

		chunk := mustCreateChunk(t, store, "chunk-1", 10, 40)

		chunk.Content = "replacement"
		chunk.ContentLength = 11
		chunk.TokenCount = 3
		require.NoError(t, store.UpdateChunk(ctx, chunk))

		chunkCount, tokenCount, charCount := documentCounters(t, store)
		assert.Equal(t, int64(1), chunkCount)
		assert.Equal(t, int64(3), tokenCount)
		assert.Equal(t, int64(11), charCount)
	})

	t.Run("bulk delete only counts chunks of the document", func(t *testing.T) {
		store := NewMemoryStore()
		seedDocument(t, store, domain.DocumentStatus_Completed)

		mustCreateChunk(t, store, "chunk-1", 10, 40)
		mustCreateChunk(t, store, "chunk-2", 5, 20)
		mustCreateChunk(t, store, "chunk-3", 1, 4)

		deleted, err := store.BulkDeleteChunks(ctx, "doc-1", []string{"chunk-1", "chunk-3", "chunk-missing"})
		require.NoError(t, err)
		assert.Equal(t, int64(2), deleted)

		chunkCount, tokenCount, charCount := documentCounters(t, store)
		assert.Equal(t, int64(1), chunkCount)
		assert.Equal(t, int64(5), tokenCount)
		assert.Equal(t, int64(20), charCount)
	})

	t.Run("commit replaces chunks and rewrites totals", func(t *testing.T) {
		store := NewMemoryStore()
		seedDocument(t, store, domain.DocumentStatus_Processing)

		mustCreateChunk(t, store, "stale-1", 100, 400)

		require.NoError(t, store.CommitDocumentChunks(ctx, domain.CommitDocumentChunksParams{
			KnowledgeBaseID: "kb-1",
			DocumentID:      "doc-1",
			Chunks: []domain.Chunk{
				{ID: "new-1", DocumentID: "doc-1", Index: 0, TokenCount: 2, ContentLength: 8},
				{ID: "new-2", DocumentID: "doc-1", Index: 1, TokenCount: 3, ContentLength: 12},
			},
		}))

		chunkCount, tokenCount, charCount := documentCounters(t, store)
		assert.Equal(t, int64(2), chunkCount)
		assert.Equal(t, int64(5), tokenCount)
		assert.Equal(t, int64(20), charCount)

		doc, err := store.GetDocument(ctx, "doc-1")
		require.NoError(t, err)
		assert.Equal(t, domain.DocumentStatus_Completed, doc.Status)

		_, err = store.GetChunk(ctx, "stale-1")
		require.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestMemoryStore_CommitRejectedAfterWatchdogFailure(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	seedDocument(t, store, domain.DocumentStatus_Pending)

	require.NoError(t, store.UpdateDocumentStatus(ctx, domain.UpdateDocumentStatusParams{
		DocumentID: "doc-1", Status: domain.DocumentStatus_Processing,
	}))
	require.NoError(t, store.CommitDocumentChunks(ctx, domain.CommitDocumentChunksParams{
		KnowledgeBaseID: "kb-1",
		DocumentID:      "doc-1",
		Chunks: []domain.Chunk{
			{ID: "chunk-1", DocumentID: "doc-1", Index: 0, TokenCount: 2, ContentLength: 8},
		},
	}))

	// Retry re-enters processing; the watchdog then fails the document
	// while its worker is still running.
	require.NoError(t, store.UpdateDocumentStatus(ctx, domain.UpdateDocumentStatusParams{
		DocumentID: "doc-1", Status: domain.DocumentStatus_Processing,
	}))
	message := "Processing timed out"
	require.NoError(t, store.UpdateDocumentStatus(ctx, domain.UpdateDocumentStatusParams{
		DocumentID: "doc-1", Status: domain.DocumentStatus_Failed, Error: &message,
	}))

	// The worker's late commit must not override the operator's decision.
	err := store.CommitDocumentChunks(ctx, domain.CommitDocumentChunksParams{
		KnowledgeBaseID: "kb-1",
		DocumentID:      "doc-1",
		Chunks: []domain.Chunk{
			{ID: "chunk-late", DocumentID: "doc-1", Index: 0, TokenCount: 9, ContentLength: 36},
		},
	})
	require.ErrorIs(t, err, domain.ErrInvalidStatusTransition)

	doc, getErr := store.GetDocument(ctx, "doc-1")
	require.NoError(t, getErr)
	assert.Equal(t, domain.DocumentStatus_Failed, doc.Status)
	require.NotNil(t, doc.ProcessingError)
	assert.Equal(t, message, *doc.ProcessingError)

	chunks, err := store.ListChunks(ctx, domain.ListChunksParams{DocumentID: "doc-1"})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "chunk-1", chunks[0].ID, "the rejected commit must leave existing chunks in place")

	chunkCount, tokenCount, charCount := documentCounters(t, store)
	assert.Equal(t, int64(1), chunkCount)
	assert.Equal(t, int64(2), tokenCount)
	assert.Equal(t, int64(8), charCount)
}

func TestMemoryStore_ChunkIndexAllocation(t *testing.T) {
	ctx := context.Background()

	t.Run("manual chunks append after the highest index", func(t *testing.T) {
		store := NewMemoryStore()
		seedDocument(t, store, domain.DocumentStatus_Completed)

		first := mustCreateChunk(t, store, "chunk-1", 1, 4)
		second := mustCreateChunk(t, store, "chunk-2", 1, 4)

		assert.Equal(t, 0, first.Index)
		assert.Equal(t, 1, second.Index)

		// A gap from deletion does not get reused.
		require.NoError(t, store.DeleteChunk(ctx, "doc-1", "chunk-1"))

		third := mustCreateChunk(t, store, "chunk-3", 1, 4)
		assert.Equal(t, 2, third.Index)
	})

	t.Run("concurrent creates get distinct indices", func(t *testing.T) {
		store := NewMemoryStore()
		seedDocument(t, store, domain.DocumentStatus_Completed)

		const n = 20

		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := store.CreateChunk(ctx, domain.Chunk{
					ID:              fmt.Sprintf("chunk-%d", i),
					KnowledgeBaseID: "kb-1",
					DocumentID:      "doc-1",
					Content:         "content",
					ContentLength:   7,
					TokenCount:      2,
					Enabled:         true,
				})
				assert.NoError(t, err)
			}(i)
		}
		wg.Wait()

		chunks, err := store.ListChunks(ctx, domain.ListChunksParams{DocumentID: "doc-1"})
		require.NoError(t, err)
		require.Len(t, chunks, n)

		seen := make(map[int]bool)
		for _, chunk := range chunks {
			assert.False(t, seen[chunk.Index], "index %d allocated twice", chunk.Index)
			seen[chunk.Index] = true
			assert.Less(t, chunk.Index, n)
		}

		chunkCount, tokenCount, charCount := documentCounters(t, store)
		assert.Equal(t, int64(n), chunkCount)
		assert.Equal(t, int64(2*n), tokenCount)
		assert.Equal(t, int64(7*n), charCount)
	})
}

func TestMemoryStore_ListDocuments(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.CreateKnowledgeBase(ctx, domain.KnowledgeBase{ID: "kb-1", UserID: "owner"}))

	for i := 0; i < 5; i++ {
		require.NoError(t, store.CreateDocument(ctx, domain.Document{
			ID:              fmt.Sprintf("doc-%d", i),
			KnowledgeBaseID: "kb-1",
			Filename:        fmt.Sprintf("report-%d.txt", i),
			Enabled:         i%2 == 0,
		}))
	}

	t.Run("total counts all matches regardless of the page", func(t *testing.T) {
		docs, total, err := store.ListDocuments(ctx, domain.ListDocumentsParams{
			KnowledgeBaseID: "kb-1", Limit: 2,
		})
		require.NoError(t, err)

		assert.Len(t, docs, 2)
		assert.Equal(t, int64(5), total)
	})

	t.Run("filename search is case-insensitive", func(t *testing.T) {
		docs, total, err := store.ListDocuments(ctx, domain.ListDocumentsParams{
			KnowledgeBaseID: "kb-1", Search: "REPORT-3",
		})
		require.NoError(t, err)

		require.Len(t, docs, 1)
		assert.Equal(t, int64(1), total)
		assert.Equal(t, "doc-3", docs[0].ID)
	})

	t.Run("enabled filter", func(t *testing.T) {
		_, total, err := store.ListDocuments(ctx, domain.ListDocumentsParams{
			KnowledgeBaseID: "kb-1", Enabled: domain.EnabledFilter_Enabled,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(3), total)

		_, total, err = store.ListDocuments(ctx, domain.ListDocumentsParams{
			KnowledgeBaseID: "kb-1", Enabled: domain.EnabledFilter_Disabled,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(2), total)
	})

	t.Run("soft-deleted documents disappear from listings", func(t *testing.T) {
		require.NoError(t, store.SoftDeleteDocument(ctx, "doc-0"))

		_, total, err := store.ListDocuments(ctx, domain.ListDocumentsParams{KnowledgeBaseID: "kb-1"})
		require.NoError(t, err)
		assert.Equal(t, int64(4), total)
	})
}

func TestMemoryStore_BulkDocumentOperations(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.CreateKnowledgeBase(ctx, domain.KnowledgeBase{ID: "kb-1", UserID: "owner"}))
	require.NoError(t, store.CreateKnowledgeBase(ctx, domain.KnowledgeBase{ID: "kb-2", UserID: "owner"}))

	require.NoError(t, store.CreateDocument(ctx, domain.Document{ID: "doc-1", KnowledgeBaseID: "kb-1", Enabled: true}))
	require.NoError(t, store.CreateDocument(ctx, domain.Document{ID: "doc-2", KnowledgeBaseID: "kb-1", Enabled: true}))
	require.NoError(t, store.CreateDocument(ctx, domain.Document{ID: "doc-foreign", KnowledgeBaseID: "kb-2", Enabled: true}))

	t.Run("disable skips documents of other knowledge bases", func(t *testing.T) {
		updated, err := store.BulkUpdateDocumentsEnabled(ctx, "kb-1", []string{"doc-1", "doc-foreign", "doc-missing"}, false)
		require.NoError(t, err)
		assert.Equal(t, int64(1), updated)

		foreign, err := store.GetDocument(ctx, "doc-foreign")
		require.NoError(t, err)
		assert.True(t, foreign.Enabled)
	})

	t.Run("bulk delete reports only what it deleted", func(t *testing.T) {
		deleted, err := store.BulkSoftDeleteDocuments(ctx, "kb-1", []string{"doc-1", "doc-2", "doc-foreign"})
		require.NoError(t, err)
		assert.Equal(t, int64(2), deleted)

		_, err = store.GetDocument(ctx, "doc-1")
		require.ErrorIs(t, err, domain.ErrNotFound)

		_, err = store.GetDocument(ctx, "doc-foreign")
		require.NoError(t, err)
	})
}
