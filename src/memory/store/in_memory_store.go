package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/bahamondeX/fact/src/memory/model"
)

// InMemoryStore keeps vectors in process memory and ranks by cosine
// similarity. Each namespace pins the dimension of its first vector.
type InMemoryStore struct {
	mu     sync.RWMutex
	spaces map[string]*memorySpace
}

type memorySpace struct {
	dim     int
	records map[string]model.MemoryRecord
}

var _ VectorStore = (*InMemoryStore)(nil)

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{spaces: map[string]*memorySpace{}}
}

func (s *InMemoryStore) Upsert(ctx context.Context, req model.UpsertRequest) (model.UpsertResponse, error) {
	if err := ctx.Err(); err != nil {
		return model.UpsertResponse{}, err
	}
	dim, err := model.CheckDimensions(req.Vectors)
	if err != nil {
		return model.UpsertResponse{}, unexpected("upsert", err)
	}
	if len(req.Vectors) == 0 {
		return model.UpsertResponse{}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	space := s.spaces[req.Namespace]
	if space == nil {
		space = &memorySpace{dim: dim, records: map[string]model.MemoryRecord{}}
		s.spaces[req.Namespace] = space
	}
	if space.dim != dim {
		return model.UpsertResponse{}, unexpected("upsert",
			fmt.Errorf("%w: namespace %q holds %d-dimensional vectors, got %d", model.ErrDimensionMismatch, req.Namespace, space.dim, dim))
	}
	for _, v := range req.Vectors {
		space.records[v.ID] = model.MemoryRecord{
			ID:        v.ID,
			Namespace: req.Namespace,
			Content:   v.Metadata.Content.String(),
			Embedding: slices.Clone(v.Values),
		}
	}
	return model.UpsertResponse{UpsertedCount: len(req.Vectors)}, nil
}

func (s *InMemoryStore) Query(ctx context.Context, req model.QueryRequest) (model.QueryResponse, error) {
	if err := ctx.Err(); err != nil {
		return model.QueryResponse{}, err
	}
	out := model.QueryResponse{Namespace: req.Namespace, Matches: []model.Match{}}
	if req.TopK <= 0 {
		return out, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	space := s.spaces[req.Namespace]
	if space == nil {
		return out, nil
	}
	for _, rec := range space.records {
		m := model.Match{
			ID:    rec.ID,
			Score: model.ClampScore(model.CosineSimilarity(req.Vector, rec.Embedding)),
		}
		if req.IncludeMetadata {
			m.Metadata = model.Metadata{Content: model.Content(rec.Content), Namespace: rec.Namespace}
		}
		if req.IncludeValues {
			m.Values = slices.Clone(rec.Embedding)
		}
		out.Matches = append(out.Matches, m)
	}
	sort.SliceStable(out.Matches, func(i, j int) bool {
		if out.Matches[i].Score == out.Matches[j].Score {
			return out.Matches[i].ID < out.Matches[j].ID
		}
		return out.Matches[i].Score > out.Matches[j].Score
	})
	if len(out.Matches) > req.TopK {
		out.Matches = out.Matches[:req.TopK]
	}
	out.Usage.ReadUnits = 1
	return out, nil
}

// Len returns the number of records in namespace.
func (s *InMemoryStore) Len(namespace string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if space := s.spaces[namespace]; space != nil {
		return len(space.records)
	}
	return 0
}

func (s *InMemoryStore) Close() error { return nil }
