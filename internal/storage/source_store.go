package storage

import (
	"context"
	"fmt"

	"github.com/headerkit/source-agent/internal/source"
)

//go:generate mockgen -destination=mocks/mock_source_store.go -package=mocks -source=source_store.go SourceStore

// SourceStore persists the full list of sources
type SourceStore interface {
	// Load returns every persisted source. A missing backing file yields an empty list.
	Load(ctx context.Context) ([]source.Source, error)

	// Save replaces the persisted list with sources
	Save(ctx context.Context, sources []source.Source) error

	// Path returns the backing file path
	Path() string
}

// fileSourceStore implements SourceStore on one JSON array file
type fileSourceStore struct {
	path   string
	writer *AtomicWriter
}

// NewFileSourceStore creates a SourceStore backed by the file at path
func NewFileSourceStore(path string, writer *AtomicWriter) SourceStore {
	return &fileSourceStore{
		path:   path,
		writer: writer,
	}
}

func (f *fileSourceStore) Path() string {
	return f.path
}

// Load reads the backing file
func (f *fileSourceStore) Load(ctx context.Context) ([]source.Source, error) {
	var sources []source.Source
	found, err := f.writer.ReadJSON(ctx, f.path, &sources)
	if err != nil {
		return nil, fmt.Errorf("failed to load sources: %w", err)
	}
	if !found || sources == nil {
		return []source.Source{}, nil
	}
	return sources, nil
}

// Save writes the list atomically; a nil list is stored as an empty array
func (f *fileSourceStore) Save(ctx context.Context, sources []source.Source) error {
	if sources == nil {
		sources = []source.Source{}
	}
	if err := f.writer.WriteJSON(ctx, f.path, sources); err != nil {
		return fmt.Errorf("failed to save sources: %w", err)
	}
	return nil
}
