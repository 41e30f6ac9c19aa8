// Package store persists uploaded documents and their processing results.
package store

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"

	"github.com/sells-group/waste-pipeline/internal/config"
	"github.com/sells-group/waste-pipeline/internal/model"
)

// ErrNotFound is returned when a document or result does not exist.
var ErrNotFound = errors.New("store: not found")

// DocumentFilter specifies criteria for listing documents.
type DocumentFilter struct {
	Status model.DocumentStatus `json:"status,omitempty"`
	Limit  int                  `json:"limit,omitempty"`
	Offset int                  `json:"offset,omitempty"`
}

func (f DocumentFilter) limit() int {
	if f.Limit <= 0 {
		return 100
	}
	return f.Limit
}

// Store defines the persistence interface for the pipeline.
type Store interface {
	// Documents
	CreateDocument(ctx context.Context, doc *model.Document) (*model.Document, error)
	GetDocument(ctx context.Context, id string) (*model.Document, error)
	ListDocuments(ctx context.Context, filter DocumentFilter) ([]model.Document, error)
	UpdateDocumentStatus(ctx context.Context, id string, status model.DocumentStatus) error

	// Results. SaveResult replaces any earlier result and moves the
	// document to the matching status.
	SaveResult(ctx context.Context, documentID string, res *model.ProcessingResult) error
	GetResult(ctx context.Context, documentID string) (*model.ProcessingResult, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open creates the configured store.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "sqlite", "":
		return NewSQLite(cfg.DatabaseURL)
	case "postgres":
		return NewPostgres(ctx, cfg.DatabaseURL, &PoolConfig{MaxConns: cfg.MaxConns, MinConns: cfg.MinConns})
	}
	return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
}

func notFound(entity, id string) error {
	return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
}
