package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/philippgille/chromem-go"

	"github.com/bahamondeX/fact/src/memory/model"
)

// ChromemStore embeds chromem-go and maps each namespace to a collection.
// Vectors are always supplied by the caller, so no embedding function is
// ever invoked by chromem itself. Each namespace pins the dimension of its
// first vector, including namespaces loaded from a persistent DB.
type ChromemStore struct {
	db *chromem.DB

	mu          sync.RWMutex
	collections map[string]*chromem.Collection

	writeMu sync.Mutex
	dims    map[string]int
}

var _ VectorStore = (*ChromemStore)(nil)

// NewChromemStore opens a persistent DB at path, or an in-memory DB when path is empty.
func NewChromemStore(path string, compress bool) (*ChromemStore, error) {
	db := chromem.NewDB()
	if path != "" {
		var err error
		db, err = chromem.NewPersistentDB(path, compress)
		if err != nil {
			return nil, fmt.Errorf("open chromem db: %w", err)
		}
	}
	return &ChromemStore{db: db, collections: map[string]*chromem.Collection{}, dims: map[string]int{}}, nil
}

func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, fmt.Errorf("chromem store requires precomputed embeddings")
}

func (s *ChromemStore) collection(namespace string) (*chromem.Collection, error) {
	s.mu.RLock()
	col, ok := s.collections[namespace]
	s.mu.RUnlock()
	if ok {
		return col, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if col, ok := s.collections[namespace]; ok {
		return col, nil
	}
	col, err := s.db.GetOrCreateCollection(namespace, nil, noEmbedding)
	if err != nil {
		return nil, err
	}
	s.collections[namespace] = col
	return col, nil
}

// dimension reports the vector length already stored in col. A namespace
// this process has not written yet is probed with one of the incoming
// vectors; chromem fails the probe when the lengths differ.
func (s *ChromemStore) dimension(ctx context.Context, namespace string, col *chromem.Collection, probe []float32) (int, bool, error) {
	if dim, ok := s.dims[namespace]; ok {
		return dim, true, nil
	}
	if col.Count() == 0 {
		return 0, false, nil
	}
	res, err := col.QueryEmbedding(ctx, probe, 1, nil, nil)
	if err != nil {
		if ctx.Err() != nil {
			return 0, false, ctx.Err()
		}
		return 0, false, unexpected("upsert",
			fmt.Errorf("%w: namespace %q holds vectors of another length than %d: %v", model.ErrDimensionMismatch, namespace, len(probe), err))
	}
	if len(res) == 0 {
		return 0, false, nil
	}
	dim := len(res[0].Embedding)
	s.dims[namespace] = dim
	return dim, true, nil
}

func (s *ChromemStore) Upsert(ctx context.Context, req model.UpsertRequest) (model.UpsertResponse, error) {
	dim, err := model.CheckDimensions(req.Vectors)
	if err != nil {
		return model.UpsertResponse{}, unexpected("upsert", err)
	}
	if len(req.Vectors) == 0 {
		return model.UpsertResponse{}, nil
	}
	col, err := s.collection(req.Namespace)
	if err != nil {
		return model.UpsertResponse{}, classify(ctx, "upsert", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	held, ok, err := s.dimension(ctx, req.Namespace, col, req.Vectors[0].Values)
	if err != nil {
		return model.UpsertResponse{}, err
	}
	if ok && held != dim {
		return model.UpsertResponse{}, unexpected("upsert",
			fmt.Errorf("%w: namespace %q holds %d-dimensional vectors, got %d", model.ErrDimensionMismatch, req.Namespace, held, dim))
	}
	docs := make([]chromem.Document, 0, len(req.Vectors))
	for _, v := range req.Vectors {
		docs = append(docs, chromem.Document{
			ID:        v.ID,
			Content:   v.Metadata.Content.String(),
			Embedding: v.Values,
			Metadata:  map[string]string{"namespace": req.Namespace},
		})
	}
	if err := col.AddDocuments(ctx, docs, 1); err != nil {
		return model.UpsertResponse{}, classify(ctx, "upsert", err)
	}
	s.dims[req.Namespace] = dim
	return model.UpsertResponse{UpsertedCount: len(docs)}, nil
}

func (s *ChromemStore) Query(ctx context.Context, req model.QueryRequest) (model.QueryResponse, error) {
	out := model.QueryResponse{Namespace: req.Namespace, Matches: []model.Match{}}
	if err := ctx.Err(); err != nil {
		return out, err
	}
	col, err := s.collection(req.Namespace)
	if err != nil {
		return out, classify(ctx, "query", err)
	}
	// chromem rejects nResults larger than the collection
	n := min(req.TopK, col.Count())
	if n <= 0 {
		return out, nil
	}
	results, err := col.QueryEmbedding(ctx, req.Vector, n, nil, nil)
	if err != nil {
		return out, classify(ctx, "query", err)
	}
	for _, r := range results {
		m := model.Match{ID: r.ID, Score: model.ClampScore(float64(r.Similarity))}
		if req.IncludeMetadata {
			m.Metadata = model.Metadata{Content: model.Content(r.Content), Namespace: req.Namespace}
		}
		if req.IncludeValues {
			m.Values = r.Embedding
		}
		out.Matches = append(out.Matches, m)
	}
	return out, nil
}

func (s *ChromemStore) Close() error { return nil }
