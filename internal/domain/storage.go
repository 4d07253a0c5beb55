package domain

import "context"

// ObjectStore fetches uploaded document files from object storage.
type ObjectStore interface {
	GetObject(ctx context.Context, key string) ([]byte, error)
	PutObject(ctx context.Context, key string, contentType string, body []byte) error
}

// EmbeddingGenerator turns an ordered list of texts into a same-length,
// same-order list of fixed-dimension vectors. It never silently drops an
// input; any failure is surfaced as an error.
type EmbeddingGenerator interface {
	GenerateEmbeddings(ctx context.Context, texts []string, model string) ([][]float32, error)
}

// TextChunk is one ordered slice of a parsed document, with character
// offsets into the source text.
type TextChunk struct {
	Content     string
	StartOffset int
	EndOffset   int
	TokenCount  int
}

type ChunkDocumentParams struct {
	Content  []byte
	MimeType string
	Options  ChunkingOptions
}

// DocumentChunker parses a raw file into ordered text chunks.
type DocumentChunker interface {
	ChunkDocument(ctx context.Context, params ChunkDocumentParams) ([]TextChunk, error)
}
