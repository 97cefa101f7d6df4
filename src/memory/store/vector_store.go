package store

import (
	"context"

	"github.com/bahamondeX/fact/src/memory/model"
)

// VectorStore is a namespace-scoped vector index. Implementations return
// matches ordered by descending score and must tolerate repeated Close calls.
type VectorStore interface {
	Upsert(ctx context.Context, req model.UpsertRequest) (model.UpsertResponse, error)
	Query(ctx context.Context, req model.QueryRequest) (model.QueryResponse, error)
	Close() error
}

// SchemaInitializer is implemented by backends that need tables, indexes or
// collections created before first use.
type SchemaInitializer interface {
	CreateSchema(ctx context.Context) error
}
