package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/corpusworks/corpus/internal/domain"
)

// MemoryStore is an in-process domain.KnowledgeStore used for local
// development and tests. One mutex stands in for the database transaction:
// every chunk mutation and its counter adjustment happen under the same
// critical section.
type MemoryStore struct {
	mu             sync.Mutex
	knowledgeBases map[string]*domain.KnowledgeBase
	documents      map[string]*domain.Document
	chunks         map[string]*domain.Chunk
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		knowledgeBases: make(map[string]*domain.KnowledgeBase),
		documents:      make(map[string]*domain.Document),
		chunks:         make(map[string]*domain.Chunk),
	}
}

func (s *MemoryStore) CreateKnowledgeBase(ctx context.Context, kb domain.KnowledgeBase) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	kb.CreatedAt = now
	kb.UpdatedAt = now
	s.knowledgeBases[kb.ID] = &kb

	return nil
}

func (s *MemoryStore) GetKnowledgeBase(ctx context.Context, id string) (domain.KnowledgeBase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kb, ok := s.knowledgeBases[id]
	if !ok || kb.DeletedAt != nil {
		return domain.KnowledgeBase{}, domain.ErrNotFound
	}

	return *kb, nil
}

func (s *MemoryStore) ListKnowledgeBases(ctx context.Context, userID string) ([]domain.KnowledgeBase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var kbs []domain.KnowledgeBase
	for _, kb := range s.knowledgeBases {
		if kb.UserID == userID && kb.DeletedAt == nil {
			kbs = append(kbs, *kb)
		}
	}

	sort.Slice(kbs, func(i, j int) bool { return kbs[i].CreatedAt.After(kbs[j].CreatedAt) })

	return kbs, nil
}

func (s *MemoryStore) UpdateKnowledgeBase(ctx context.Context, kb domain.KnowledgeBase) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.knowledgeBases[kb.ID]
	if !ok || existing.DeletedAt != nil {
		return domain.ErrNotFound
	}

	existing.Name = kb.Name
	existing.Description = kb.Description
	existing.ChunkingConfig = kb.ChunkingConfig
	existing.UpdatedAt = time.Now()

	return nil
}

func (s *MemoryStore) SoftDeleteKnowledgeBase(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kb, ok := s.knowledgeBases[id]
	if !ok || kb.DeletedAt != nil {
		return domain.ErrNotFound
	}

	now := time.Now()
	kb.DeletedAt = &now
	kb.UpdatedAt = now

	return nil
}

func (s *MemoryStore) CreateDocument(ctx context.Context, doc domain.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if doc.FileHash != nil {
		for _, existing := range s.documents {
			if existing.DeletedAt == nil &&
				existing.KnowledgeBaseID == doc.KnowledgeBaseID &&
				existing.FileHash != nil && *existing.FileHash == *doc.FileHash {
				return domain.ErrDuplicateDocument
			}
		}
	}

	now := time.Now()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	s.documents[doc.ID] = &doc

	return nil
}

func (s *MemoryStore) GetDocument(ctx context.Context, id string) (domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[id]
	if !ok || doc.DeletedAt != nil {
		return domain.Document{}, domain.ErrNotFound
	}

	return *doc, nil
}

func (s *MemoryStore) ListDocuments(ctx context.Context, params domain.ListDocumentsParams) ([]domain.Document, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []domain.Document
	for _, doc := range s.documents {
		if doc.KnowledgeBaseID != params.KnowledgeBaseID || doc.DeletedAt != nil {
			continue
		}
		if params.Search != "" && !strings.Contains(strings.ToLower(doc.Filename), strings.ToLower(params.Search)) {
			continue
		}
		if params.Enabled == domain.EnabledFilter_Enabled && !doc.Enabled {
			continue
		}
		if params.Enabled == domain.EnabledFilter_Disabled && doc.Enabled {
			continue
		}
		matched = append(matched, *doc)
	}

	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	total := int64(len(matched))

	return page(matched, params.Offset, params.Limit), total, nil
}

func (s *MemoryStore) UpdateDocument(ctx context.Context, doc domain.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.documents[doc.ID]
	if !ok || existing.DeletedAt != nil {
		return domain.ErrNotFound
	}

	existing.Filename = doc.Filename
	existing.Enabled = doc.Enabled
	existing.Tags = doc.Tags
	existing.UpdatedAt = time.Now()

	return nil
}

func (s *MemoryStore) SoftDeleteDocument(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[id]
	if !ok || doc.DeletedAt != nil {
		return domain.ErrNotFound
	}

	now := time.Now()
	doc.DeletedAt = &now
	doc.UpdatedAt = now

	return nil
}

func (s *MemoryStore) UpdateDocumentStatus(ctx context.Context, params domain.UpdateDocumentStatusParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[params.DocumentID]
	if !ok || doc.DeletedAt != nil {
		return domain.ErrNotFound
	}

	if !doc.Status.CanTransitionTo(params.Status) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidStatusTransition, doc.Status, params.Status)
	}

	now := time.Now()
	doc.Status = params.Status
	doc.UpdatedAt = now

	switch params.Status {
	case domain.DocumentStatus_Processing:
		doc.ProcessingStartedAt = &now
		doc.ProcessingCompletedAt = nil
		doc.ProcessingError = nil
	case domain.DocumentStatus_Completed:
		doc.ProcessingCompletedAt = &now
		doc.ProcessingError = nil
	case domain.DocumentStatus_Failed:
		doc.ProcessingCompletedAt = &now
		doc.ProcessingError = params.Error
	}

	return nil
}

func (s *MemoryStore) BulkUpdateDocumentsEnabled(ctx context.Context, knowledgeBaseID string, documentIDs []string, enabled bool) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var updated int64
	for _, id := range documentIDs {
		doc, ok := s.documents[id]
		if !ok || doc.DeletedAt != nil || doc.KnowledgeBaseID != knowledgeBaseID {
			continue
		}
		doc.Enabled = enabled
		doc.UpdatedAt = time.Now()
		updated++
	}

	return updated, nil
}

func (s *MemoryStore) BulkSoftDeleteDocuments(ctx context.Context, knowledgeBaseID string, documentIDs []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()

	var deleted int64
	for _, id := range documentIDs {
		doc, ok := s.documents[id]
		if !ok || doc.DeletedAt != nil || doc.KnowledgeBaseID != knowledgeBaseID {
			continue
		}
		doc.DeletedAt = &now
		doc.UpdatedAt = now
		deleted++
	}

	return deleted, nil
}

func (s *MemoryStore) CommitDocumentChunks(ctx context.Context, params domain.CommitDocumentChunksParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[params.DocumentID]
	if !ok || doc.DeletedAt != nil {
		return domain.ErrNotFound
	}

	if !doc.Status.CanTransitionTo(domain.DocumentStatus_Completed) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidStatusTransition, doc.Status, domain.DocumentStatus_Completed)
	}

	for id, chunk := range s.chunks {
		if chunk.DocumentID == params.DocumentID {
			delete(s.chunks, id)
		}
	}

	now := time.Now()

	var tokenTotal, charTotal int64
	for _, chunk := range params.Chunks {
		chunk := chunk
		chunk.CreatedAt = now
		chunk.UpdatedAt = now
		s.chunks[chunk.ID] = &chunk
		tokenTotal += int64(chunk.TokenCount)
		charTotal += int64(chunk.ContentLength)
	}

	doc.ChunkCount = int64(len(params.Chunks))
	doc.TokenCount = tokenTotal
	doc.CharacterCount = charTotal
	doc.Status = domain.DocumentStatus_Completed
	doc.ProcessingCompletedAt = &now
	doc.ProcessingError = nil
	doc.UpdatedAt = now

	return nil
}

func (s *MemoryStore) CreateChunk(ctx context.Context, chunk domain.Chunk) (domain.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[chunk.DocumentID]
	if !ok || doc.DeletedAt != nil {
		return domain.Chunk{}, domain.ErrNotFound
	}

	nextIndex := 0
	for _, existing := range s.chunks {
		if existing.DocumentID == chunk.DocumentID && existing.Index >= nextIndex {
			nextIndex = existing.Index + 1
		}
	}

	now := time.Now()
	chunk.Index = nextIndex
	chunk.CreatedAt = now
	chunk.UpdatedAt = now
	s.chunks[chunk.ID] = &chunk

	doc.ChunkCount++
	doc.TokenCount += int64(chunk.TokenCount)
	doc.CharacterCount += int64(chunk.ContentLength)
	doc.UpdatedAt = now

	return chunk, nil
}

func (s *MemoryStore) GetChunk(ctx context.Context, id string) (domain.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	chunk, ok := s.chunks[id]
	if !ok {
		return domain.Chunk{}, domain.ErrNotFound
	}

	return *chunk, nil
}

func (s *MemoryStore) ListChunks(ctx context.Context, params domain.ListChunksParams) ([]domain.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []domain.Chunk
	for _, chunk := range s.chunks {
		if chunk.DocumentID != params.DocumentID {
			continue
		}
		if params.Search != "" && !strings.Contains(strings.ToLower(chunk.Content), strings.ToLower(params.Search)) {
			continue
		}
		if params.Enabled == domain.EnabledFilter_Enabled && !chunk.Enabled {
			continue
		}
		if params.Enabled == domain.EnabledFilter_Disabled && chunk.Enabled {
			continue
		}
		matched = append(matched, *chunk)
	}

	sort.Slice(matched, func(i, j int) bool { return matched[i].Index < matched[j].Index })

	return page(matched, params.Offset, params.Limit), nil
}

func (s *MemoryStore) UpdateChunk(ctx context.Context, chunk domain.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.chunks[chunk.ID]
	if !ok || existing.DocumentID != chunk.DocumentID {
		return domain.ErrNotFound
	}

	doc, ok := s.documents[chunk.DocumentID]
	if !ok || doc.DeletedAt != nil {
		return domain.ErrNotFound
	}

	doc.TokenCount += int64(chunk.TokenCount - existing.TokenCount)
	doc.CharacterCount += int64(chunk.ContentLength - existing.ContentLength)

	existing.Content = chunk.Content
	existing.ContentLength = chunk.ContentLength
	existing.TokenCount = chunk.TokenCount
	existing.ContentHash = chunk.ContentHash
	existing.EndOffset = existing.StartOffset + chunk.ContentLength
	existing.Enabled = chunk.Enabled
	existing.UpdatedAt = time.Now()

	return nil
}

func (s *MemoryStore) DeleteChunk(ctx context.Context, documentID string, chunkID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	chunk, ok := s.chunks[chunkID]
	if !ok || chunk.DocumentID != documentID {
		return domain.ErrNotFound
	}

	delete(s.chunks, chunkID)

	if doc, ok := s.documents[documentID]; ok {
		doc.ChunkCount--
		doc.TokenCount -= int64(chunk.TokenCount)
		doc.CharacterCount -= int64(chunk.ContentLength)
		doc.UpdatedAt = time.Now()
	}

	return nil
}

func (s *MemoryStore) BulkUpdateChunksEnabled(ctx context.Context, documentID string, chunkIDs []string, enabled bool) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var updated int64
	for _, id := range chunkIDs {
		chunk, ok := s.chunks[id]
		if !ok || chunk.DocumentID != documentID {
			continue
		}
		chunk.Enabled = enabled
		chunk.UpdatedAt = time.Now()
		updated++
	}

	return updated, nil
}

func (s *MemoryStore) BulkDeleteChunks(ctx context.Context, documentID string, chunkIDs []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, hasDoc := s.documents[documentID]

	var deleted int64
	for _, id := range chunkIDs {
		chunk, ok := s.chunks[id]
		if !ok || chunk.DocumentID != documentID {
			continue
		}
		delete(s.chunks, id)
		deleted++

		if hasDoc {
			doc.ChunkCount--
			doc.TokenCount -= int64(chunk.TokenCount)
			doc.CharacterCount -= int64(chunk.ContentLength)
		}
	}

	if hasDoc && deleted > 0 {
		doc.UpdatedAt = time.Now()
	}

	return deleted, nil
}

func page[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
