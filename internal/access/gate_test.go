package access

import (
	"context"
	"testing"

	"github.com/corpusworks/corpus/internal/domain"
	"github.com/corpusworks/corpus/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type gateFixture struct {
	gate  *Gate
	store *storage.MemoryStore
}

func newGateFixture(t *testing.T) *gateFixture {
	t.Helper()

	store := storage.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.CreateKnowledgeBase(ctx, domain.KnowledgeBase{
		ID:     "kb-1",
		UserID: "owner",
		Name:   "docs",
	}))
	require.NoError(t, store.CreateKnowledgeBase(ctx, domain.KnowledgeBase{
		ID:     "kb-2",
		UserID: "someone-else",
		Name:   "other docs",
	}))

	require.NoError(t, store.CreateDocument(ctx, domain.Document{
		ID:              "doc-completed",
		KnowledgeBaseID: "kb-1",
		Filename:        "readme.md",
		Status:          domain.DocumentStatus_Completed,
		Enabled:         true,
	}))
	require.NoError(t, store.CreateDocument(ctx, domain.Document{
		ID:              "doc-pending",
		KnowledgeBaseID: "kb-1",
		Filename:        "draft.md",
		Status:          domain.DocumentStatus_Pending,
		Enabled:         true,
	}))
	require.NoError(t, store.CreateDocument(ctx, domain.Document{
		ID:              "doc-other-kb",
		KnowledgeBaseID: "kb-2",
		Filename:        "private.md",
		Status:          domain.DocumentStatus_Completed,
		Enabled:         true,
	}))

	_, err := store.CreateChunk(ctx, domain.Chunk{
		ID:              "chunk-1",
		KnowledgeBaseID: "kb-1",
		DocumentID:      "doc-completed",
		Content:         "hello",
		Enabled:         true,
	})
	require.NoError(t, err)

	return &gateFixture{
		gate:  NewGate(GateDependencies{Store: store}),
		store: store,
	}
}

func TestGate_CheckKnowledgeBaseAccess(t *testing.T) {
	f := newGateFixture(t)
	ctx := context.Background()

	t.Run("owner passes and gets the knowledge base back", func(t *testing.T) {
		result, err := f.gate.CheckKnowledgeBaseAccess(ctx, "kb-1", "owner")
		require.NoError(t, err)
		assert.Equal(t, "kb-1", result.KnowledgeBase.ID)
	})

	t.Run("non-owner is forbidden", func(t *testing.T) {
		_, err := f.gate.CheckKnowledgeBaseAccess(ctx, "kb-1", "intruder")
		require.ErrorIs(t, err, domain.ErrForbidden)
	})

	t.Run("unknown knowledge base is not found", func(t *testing.T) {
		_, err := f.gate.CheckKnowledgeBaseAccess(ctx, "kb-missing", "owner")
		require.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("soft-deleted knowledge base is not found", func(t *testing.T) {
		local := newGateFixture(t)
		require.NoError(t, local.store.SoftDeleteKnowledgeBase(ctx, "kb-1"))

		_, err := local.gate.CheckKnowledgeBaseAccess(ctx, "kb-1", "owner")
		require.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestGate_CheckDocumentAccess(t *testing.T) {
	f := newGateFixture(t)
	ctx := context.Background()

	t.Run("owner reaches a document in their knowledge base", func(t *testing.T) {
		result, err := f.gate.CheckDocumentAccess(ctx, "kb-1", "doc-completed", "owner")
		require.NoError(t, err)
		assert.Equal(t, "doc-completed", result.Document.ID)
		assert.Equal(t, "kb-1", result.KnowledgeBase.ID)
	})

	t.Run("document from another knowledge base reads as not found", func(t *testing.T) {
		// Existence of documents in other bases must not leak through the
		// error type.
		_, err := f.gate.CheckDocumentAccess(ctx, "kb-1", "doc-other-kb", "owner")
		require.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("knowledge base ownership is checked first", func(t *testing.T) {
		_, err := f.gate.CheckDocumentAccess(ctx, "kb-1", "doc-completed", "intruder")
		require.ErrorIs(t, err, domain.ErrForbidden)
	})

	t.Run("unknown document is not found", func(t *testing.T) {
		_, err := f.gate.CheckDocumentAccess(ctx, "kb-1", "doc-missing", "owner")
		require.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestGate_CheckChunkAccess(t *testing.T) {
	f := newGateFixture(t)
	ctx := context.Background()

	t.Run("chunk of a completed document is accessible", func(t *testing.T) {
		result, err := f.gate.CheckChunkAccess(ctx, "kb-1", "doc-completed", "chunk-1", "owner")
		require.NoError(t, err)
		assert.Equal(t, "chunk-1", result.Chunk.ID)
		assert.Equal(t, "doc-completed", result.Document.ID)
	})

	t.Run("chunks are forbidden until processing completes", func(t *testing.T) {
		_, err := f.gate.CheckChunkAccess(ctx, "kb-1", "doc-pending", "chunk-1", "owner")
		require.ErrorIs(t, err, domain.ErrForbidden)
		assert.Contains(t, err.Error(), "pending")
	})

	t.Run("chunk of another document reads as not found", func(t *testing.T) {
		chunk, err := f.store.CreateChunk(ctx, domain.Chunk{
			ID:              "chunk-other",
			KnowledgeBaseID: "kb-2",
			DocumentID:      "doc-other-kb",
			Content:         "secret",
			Enabled:         true,
		})
		require.NoError(t, err)

		_, err = f.gate.CheckChunkAccess(ctx, "kb-1", "doc-completed", chunk.ID, "owner")
		require.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("unknown chunk is not found", func(t *testing.T) {
		_, err := f.gate.CheckChunkAccess(ctx, "kb-1", "doc-completed", "chunk-missing", "owner")
		require.ErrorIs(t, err, domain.ErrNotFound)
	})
}
