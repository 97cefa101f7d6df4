package store

import (
	"context"
	"errors"
	"net/http"

	"github.com/bahamondeX/fact/src/memory/model"
)

const (
	PineconeUpsertPath = "/vectors/upsert"
	PineconeQueryPath  = "/query"
)

// PineconeStore speaks the Pinecone data-plane API over a shared Pool.
type PineconeStore struct {
	pool       *Pool
	upsertPath string
	queryPath  string
}

var _ VectorStore = (*PineconeStore)(nil)

type PineconeOption func(*PineconeStore)

// WithUpsertPath overrides the upsert route for Pinecone-compatible servers
// that mount it elsewhere.
func WithUpsertPath(path string) PineconeOption {
	return func(s *PineconeStore) {
		if path != "" {
			s.upsertPath = path
		}
	}
}

func WithQueryPath(path string) PineconeOption {
	return func(s *PineconeStore) {
		if path != "" {
			s.queryPath = path
		}
	}
}

// PineconeHeader returns the headers an index host expects.
func PineconeHeader(apiKey string) http.Header {
	h := http.Header{}
	if apiKey != "" {
		h.Set("Api-Key", apiKey)
	}
	return h
}

func NewPineconeStore(pool *Pool, opts ...PineconeOption) *PineconeStore {
	s := &PineconeStore{pool: pool, upsertPath: PineconeUpsertPath, queryPath: PineconeQueryPath}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *PineconeStore) Upsert(ctx context.Context, req model.UpsertRequest) (model.UpsertResponse, error) {
	if len(req.Vectors) == 0 {
		return model.UpsertResponse{}, nil
	}
	if _, err := model.CheckDimensions(req.Vectors); err != nil {
		return model.UpsertResponse{}, unexpected("upsert", err)
	}
	var resp model.UpsertResponse
	if err := s.pool.Do(ctx, "upsert", http.MethodPost, s.upsertPath, req, &resp); err != nil {
		return model.UpsertResponse{}, err
	}
	return resp, nil
}

func (s *PineconeStore) Query(ctx context.Context, req model.QueryRequest) (model.QueryResponse, error) {
	if len(req.Vector) == 0 {
		return model.QueryResponse{}, unexpected("query", errors.New("empty query vector"))
	}
	var resp model.QueryResponse
	if err := s.pool.Do(ctx, "query", http.MethodPost, s.queryPath, req, &resp); err != nil {
		return model.QueryResponse{}, err
	}
	if resp.Namespace == "" {
		resp.Namespace = req.Namespace
	}
	return resp, nil
}

// Pool exposes the shared client, mainly so callers can check identity.
func (s *PineconeStore) Pool() *Pool { return s.pool }

func (s *PineconeStore) Close() error { return s.pool.Close() }
