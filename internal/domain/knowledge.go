package domain

import "time"

// KnowledgeBase is a named collection of documents sharing one embedding
// model and dimension. Soft-deleted bases keep their rows; every read path
// filters on DeletedAt.
type KnowledgeBase struct {
	ID                 string          `json:"id"`
	UserID             string          `json:"user_id"`
	WorkspaceID        string          `json:"workspace_id"`
	Name               string          `json:"name"`
	Description        string          `json:"description"`
	EmbeddingModel     string          `json:"embedding_model"`
	EmbeddingDimension int             `json:"embedding_dimension"`
	ChunkingConfig     ChunkingOptions `json:"chunking_config"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
	DeletedAt          *time.Time      `json:"deleted_at,omitempty"`
}

type DocumentStatus string

const (
	DocumentStatus_Pending    DocumentStatus = "pending"
	DocumentStatus_Processing DocumentStatus = "processing"
	DocumentStatus_Completed  DocumentStatus = "completed"
	DocumentStatus_Failed     DocumentStatus = "failed"
)

// DocumentTags are free-form filter fields, denormalized onto chunks at
// chunk-creation time. Updating a document's tags does not rewrite the
// copies already held by its chunks.
type DocumentTags struct {
	Tag1 *string `json:"tag1,omitempty"`
	Tag2 *string `json:"tag2,omitempty"`
	Tag3 *string `json:"tag3,omitempty"`
	Tag4 *string `json:"tag4,omitempty"`
	Tag5 *string `json:"tag5,omitempty"`
	Tag6 *string `json:"tag6,omitempty"`
	Tag7 *string `json:"tag7,omitempty"`
}

// Document is one ingested file. ChunkCount, TokenCount and CharacterCount
// are derived totals over the document's live chunks and are only ever
// mutated inside the same transaction as the chunk change that moves them.
type Document struct {
	ID              string  `json:"id"`
	KnowledgeBaseID string  `json:"knowledge_base_id"`
	Filename        string  `json:"filename"`
	FileKey         string  `json:"file_key"`
	FileSize        int64   `json:"file_size"`
	MimeType        string  `json:"mime_type"`
	FileHash        *string `json:"file_hash,omitempty"`

	ChunkCount     int64 `json:"chunk_count"`
	TokenCount     int64 `json:"token_count"`
	CharacterCount int64 `json:"character_count"`

	Status                DocumentStatus `json:"status"`
	ProcessingStartedAt   *time.Time     `json:"processing_started_at,omitempty"`
	ProcessingCompletedAt *time.Time     `json:"processing_completed_at,omitempty"`
	ProcessingError       *string        `json:"processing_error,omitempty"`

	Enabled   bool         `json:"enabled"`
	Tags      DocumentTags `json:"tags"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
	DeletedAt *time.Time   `json:"deleted_at,omitempty"`
}

// Chunk is one indexed, embedded slice of a document's text. Indices are
// dense and 0-based within a document; manual inserts append at max+1.
type Chunk struct {
	ID              string `json:"id"`
	KnowledgeBaseID string `json:"knowledge_base_id"`
	DocumentID      string `json:"document_id"`
	Index           int    `json:"index"`

	ContentHash   string `json:"content_hash"`
	Content       string `json:"content"`
	ContentLength int    `json:"content_length"`
	TokenCount    int    `json:"token_count"`

	Embedding      []float32 `json:"-"`
	EmbeddingModel string    `json:"embedding_model"`

	StartOffset int `json:"start_offset"`
	EndOffset   int `json:"end_offset"`

	Tags    DocumentTags `json:"tags"`
	Enabled bool         `json:"enabled"`

	// Manual marks chunks created through the API rather than by the
	// ingestion pipeline.
	Manual bool `json:"manual"`

	SearchRank   float64  `json:"search_rank"`
	QualityScore *float64 `json:"quality_score,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ChunkingOptions control how a document's text is split before embedding.
type ChunkingOptions struct {
	ChunkSize        int `json:"chunk_size"`
	ChunkOverlap     int `json:"chunk_overlap"`
	MinCharsPerChunk int `json:"min_chars_per_chunk"`
}

const (
	DefaultChunkSize        = 1024
	DefaultChunkOverlap     = 200
	DefaultMinCharsPerChunk = 1
)

// WithDefaults fills unset chunking parameters with their defaults.
func (o ChunkingOptions) WithDefaults() ChunkingOptions {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.ChunkOverlap <= 0 {
		o.ChunkOverlap = DefaultChunkOverlap
	}
	if o.MinCharsPerChunk <= 0 {
		o.MinCharsPerChunk = DefaultMinCharsPerChunk
	}
	return o
}

// CanTransitionTo reports whether the document status state machine allows
// moving from s to next. Completed and failed re-enter processing only via
// explicit retry.
func (s DocumentStatus) CanTransitionTo(next DocumentStatus) bool {
	switch s {
	case DocumentStatus_Pending:
		return next == DocumentStatus_Processing
	case DocumentStatus_Processing:
		return next == DocumentStatus_Completed || next == DocumentStatus_Failed
	case DocumentStatus_Failed:
		return next == DocumentStatus_Processing
	case DocumentStatus_Completed:
		return next == DocumentStatus_Processing
	default:
		return false
	}
}
