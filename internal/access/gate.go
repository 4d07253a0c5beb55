package access

import (
	"context"
	"errors"
	"fmt"

	"github.com/corpusworks/corpus/internal/domain"
)

// Gate resolves knowledge base → document → chunk ownership chains. It walks
// the chain top-down and short-circuits at the first failure: a missing row
// is domain.ErrNotFound, an owner mismatch is domain.ErrForbidden. The gate
// is a pure read path; callers map its errors to HTTP statuses.
type Gate struct {
	store domain.KnowledgeStore
}

type GateDependencies struct {
	Store domain.KnowledgeStore
}

func NewGate(deps GateDependencies) *Gate {
	return &Gate{
		store: deps.Store,
	}
}

// CheckResult carries the entities loaded while walking the chain, so
// callers do not have to re-fetch them.
type CheckResult struct {
	KnowledgeBase domain.KnowledgeBase
	Document      domain.Document
	Chunk         domain.Chunk
}

func (g *Gate) CheckKnowledgeBaseAccess(ctx context.Context, knowledgeBaseID string, userID string) (CheckResult, error) {
	kb, err := g.store.GetKnowledgeBase(ctx, knowledgeBaseID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return CheckResult{}, fmt.Errorf("%w: knowledge base %s", domain.ErrNotFound, knowledgeBaseID)
		}
		return CheckResult{}, fmt.Errorf("failed to get knowledge base %s: %w", knowledgeBaseID, err)
	}

	if kb.UserID != userID {
		return CheckResult{}, fmt.Errorf("%w: user does not own knowledge base %s", domain.ErrForbidden, knowledgeBaseID)
	}

	return CheckResult{KnowledgeBase: kb}, nil
}

func (g *Gate) CheckDocumentAccess(ctx context.Context, knowledgeBaseID string, documentID string, userID string) (CheckResult, error) {
	result, err := g.CheckKnowledgeBaseAccess(ctx, knowledgeBaseID, userID)
	if err != nil {
		return CheckResult{}, err
	}

	doc, err := g.store.GetDocument(ctx, documentID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return CheckResult{}, fmt.Errorf("%w: document %s", domain.ErrNotFound, documentID)
		}
		return CheckResult{}, fmt.Errorf("failed to get document %s: %w", documentID, err)
	}

	if doc.KnowledgeBaseID != knowledgeBaseID {
		return CheckResult{}, fmt.Errorf("%w: document %s", domain.ErrNotFound, documentID)
	}

	result.Document = doc

	return result, nil
}

// CheckChunkAccess additionally requires the parent document to have
// finished processing. A document that exists but is not completed yields
// ErrForbidden with a status-specific reason, distinct from not-found.
func (g *Gate) CheckChunkAccess(ctx context.Context, knowledgeBaseID string, documentID string, chunkID string, userID string) (CheckResult, error) {
	result, err := g.CheckDocumentAccess(ctx, knowledgeBaseID, documentID, userID)
	if err != nil {
		return CheckResult{}, err
	}

	if result.Document.Status != domain.DocumentStatus_Completed {
		return CheckResult{}, fmt.Errorf("%w: document %s is %s, chunks are not accessible until processing completes",
			domain.ErrForbidden, documentID, result.Document.Status)
	}

	chunk, err := g.store.GetChunk(ctx, chunkID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return CheckResult{}, fmt.Errorf("%w: chunk %s", domain.ErrNotFound, chunkID)
		}
		return CheckResult{}, fmt.Errorf("failed to get chunk %s: %w", chunkID, err)
	}

	if chunk.DocumentID != documentID {
		return CheckResult{}, fmt.Errorf("%w: chunk %s", domain.ErrNotFound, chunkID)
	}

	result.Chunk = chunk

	return result, nil
}
