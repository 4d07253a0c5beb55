package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/corpusworks/corpus/internal/domain"
)

// FSObjectStore keeps document files on the local filesystem. It backs
// local development and tests when no S3 bucket is configured.
type FSObjectStore struct {
	root string
}

func NewFSObjectStore(root string) (*FSObjectStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create object store directory: %w", err)
	}

	return &FSObjectStore{root: root}, nil
}

func (s *FSObjectStore) GetObject(ctx context.Context, key string) ([]byte, error) {
	body, err := os.ReadFile(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: object %s", domain.ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", key, err)
	}

	return body, nil
}

func (s *FSObjectStore) PutObject(ctx context.Context, key string, contentType string, body []byte) error {
	path := s.path(key)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create object directory: %w", err)
	}

	if err := os.WriteFile(path, body, 0o644); err != nil {
		return fmt.Errorf("failed to write object %s: %w", key, err)
	}

	return nil
}

func (s *FSObjectStore) path(key string) string {
	return filepath.Join(s.root, filepath.Clean("/"+key))
}
