package domain

import "context"

type EnabledFilter string

const (
	EnabledFilter_All      EnabledFilter = "all"
	EnabledFilter_Enabled  EnabledFilter = "enabled"
	EnabledFilter_Disabled EnabledFilter = "disabled"
)

type ListDocumentsParams struct {
	KnowledgeBaseID string
	Search          string
	Enabled         EnabledFilter
	Offset          int
	Limit           int
}

type ListChunksParams struct {
	DocumentID string
	Search     string
	Enabled    EnabledFilter
	Offset     int
	Limit      int
}

// UpdateDocumentStatusParams drives one state machine transition. The store
// maintains the timestamp invariants: entering processing sets
// ProcessingStartedAt, entering completed/failed sets ProcessingCompletedAt,
// and completed clears any previous error.
type UpdateDocumentStatusParams struct {
	DocumentID string
	Status     DocumentStatus
	Error      *string
}

// CommitDocumentChunksParams persists the outcome of one successful
// ingestion run: replace the document's chunks with the given rows, set the
// aggregate counters to the new totals and mark the document completed,
// all inside a single transaction. The commit is subject to the status
// state machine; a document no longer in processing rejects it and keeps
// its chunks untouched.
type CommitDocumentChunksParams struct {
	KnowledgeBaseID string
	DocumentID      string
	Chunks          []Chunk
}

// KnowledgeStore is the persistence boundary for knowledge bases, documents
// and chunks. Implementations must keep a document's aggregate counters
// consistent with its chunk rows by performing every chunk mutation and the
// matching counter adjustment in one transaction.
type KnowledgeStore interface {
	CreateKnowledgeBase(ctx context.Context, kb KnowledgeBase) error
	GetKnowledgeBase(ctx context.Context, id string) (KnowledgeBase, error)
	ListKnowledgeBases(ctx context.Context, userID string) ([]KnowledgeBase, error)
	UpdateKnowledgeBase(ctx context.Context, kb KnowledgeBase) error
	SoftDeleteKnowledgeBase(ctx context.Context, id string) error

	CreateDocument(ctx context.Context, doc Document) error
	GetDocument(ctx context.Context, id string) (Document, error)
	ListDocuments(ctx context.Context, params ListDocumentsParams) ([]Document, int64, error)
	UpdateDocument(ctx context.Context, doc Document) error
	SoftDeleteDocument(ctx context.Context, id string) error
	UpdateDocumentStatus(ctx context.Context, params UpdateDocumentStatusParams) error
	BulkUpdateDocumentsEnabled(ctx context.Context, knowledgeBaseID string, documentIDs []string, enabled bool) (int64, error)
	BulkSoftDeleteDocuments(ctx context.Context, knowledgeBaseID string, documentIDs []string) (int64, error)

	CommitDocumentChunks(ctx context.Context, params CommitDocumentChunksParams) error
	CreateChunk(ctx context.Context, chunk Chunk) (Chunk, error)
	GetChunk(ctx context.Context, id string) (Chunk, error)
	ListChunks(ctx context.Context, params ListChunksParams) ([]Chunk, error)
	UpdateChunk(ctx context.Context, chunk Chunk) error
	DeleteChunk(ctx context.Context, documentID string, chunkID string) error
	BulkUpdateChunksEnabled(ctx context.Context, documentID string, chunkIDs []string, enabled bool) (int64, error)
	BulkDeleteChunks(ctx context.Context, documentID string, chunkIDs []string) (int64, error)
}
