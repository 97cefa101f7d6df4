package store

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/bahamondeX/fact/src/memory/model"
)

// qdrantStatus supports both `status: "ok"` and `status: {"error":"..."}`.
type qdrantStatus struct {
	State string
	Error string
}

func (s *qdrantStatus) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		s.State = strings.ToLower(v)
		return nil
	}
	var obj struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	if obj.Error != "" {
		s.State = "error"
		s.Error = obj.Error
	}
	return nil
}

type qdrantEnvelope[T any] struct {
	Status qdrantStatus `json:"status"`
	Time   float64      `json:"time"`
	Result T            `json:"result"`
}

type qdrantPoint struct {
	ID      string        `json:"id"`
	Vector  []float32     `json:"vector"`
	Payload qdrantPayload `json:"payload"`
}

type qdrantPayload struct {
	Content   model.Content `json:"content"`
	Namespace string        `json:"namespace"`
}

type qdrantScoredPoint struct {
	ID      json.RawMessage `json:"id"`
	Score   float64         `json:"score"`
	Payload *qdrantPayload  `json:"payload"`
	Vector  []float32       `json:"vector"`
}

type qdrantUpdateResult struct {
	OperationID int64  `json:"operation_id"`
	Status      string `json:"status"`
}

// QdrantStore keeps every namespace in one collection and scopes queries with
// a payload filter on "namespace".
type QdrantStore struct {
	pool       *Pool
	collection string
	dimensions int
}

var (
	_ VectorStore       = (*QdrantStore)(nil)
	_ SchemaInitializer = (*QdrantStore)(nil)
)

// QdrantHeader returns the headers Qdrant Cloud expects.
func QdrantHeader(apiKey string) http.Header {
	h := http.Header{}
	if apiKey != "" {
		h.Set("api-key", apiKey)
	}
	return h
}

func NewQdrantStore(pool *Pool, collection string, dimensions int) (*QdrantStore, error) {
	if collection == "" {
		return nil, errors.New("qdrant collection is empty")
	}
	return &QdrantStore{pool: pool, collection: collection, dimensions: dimensions}, nil
}

func (qs *QdrantStore) path(suffix string) string {
	return "/collections/" + url.PathEscape(qs.collection) + suffix
}

// CreateSchema creates the collection and a keyword index on namespace.
// Both calls are idempotent.
func (qs *QdrantStore) CreateSchema(ctx context.Context) error {
	if qs.dimensions <= 0 {
		return errors.New("qdrant dimensions must be positive")
	}
	req := map[string]any{
		"vectors": map[string]any{"size": qs.dimensions, "distance": "Cosine"},
	}
	var env qdrantEnvelope[json.RawMessage]
	err := qs.pool.Do(ctx, "create_collection", http.MethodPut, qs.path(""), req, &env)
	if err != nil && !alreadyExists(err) {
		return err
	}
	index := map[string]any{"field_name": "namespace", "field_schema": "keyword"}
	if err := qs.pool.Do(ctx, "create_index", http.MethodPut, qs.path("/index?wait=true"), index, &env); err != nil && !alreadyExists(err) {
		return err
	}
	return nil
}

func alreadyExists(err error) bool {
	var be *BackendError
	return errors.As(err, &be) && be.Kind == KindHTTP &&
		strings.Contains(strings.ToLower(be.Body), "already exists")
}

func (qs *QdrantStore) Upsert(ctx context.Context, req model.UpsertRequest) (model.UpsertResponse, error) {
	if len(req.Vectors) == 0 {
		return model.UpsertResponse{}, nil
	}
	if _, err := model.CheckDimensions(req.Vectors); err != nil {
		return model.UpsertResponse{}, unexpected("upsert", err)
	}
	points := make([]qdrantPoint, 0, len(req.Vectors))
	for _, v := range req.Vectors {
		ns := v.Metadata.Namespace
		if ns == "" {
			ns = req.Namespace
		}
		points = append(points, qdrantPoint{
			ID:      v.ID,
			Vector:  v.Values,
			Payload: qdrantPayload{Content: v.Metadata.Content, Namespace: ns},
		})
	}

	var env qdrantEnvelope[qdrantUpdateResult]
	if err := qs.pool.Do(ctx, "upsert", http.MethodPut, qs.path("/points?wait=true"), map[string]any{"points": points}, &env); err != nil {
		return model.UpsertResponse{}, err
	}
	if env.Status.Error != "" {
		return model.UpsertResponse{}, unexpected("upsert", errors.New(env.Status.Error))
	}
	return model.UpsertResponse{UpsertedCount: len(points)}, nil
}

func (qs *QdrantStore) Query(ctx context.Context, req model.QueryRequest) (model.QueryResponse, error) {
	if len(req.Vector) == 0 {
		return model.QueryResponse{}, unexpected("query", errors.New("empty query vector"))
	}
	body := map[string]any{
		"vector":       req.Vector,
		"limit":        req.TopK,
		"with_payload": req.IncludeMetadata,
		"with_vector":  req.IncludeValues,
		"filter": map[string]any{
			"must": []map[string]any{{
				"key":   "namespace",
				"match": map[string]any{"value": req.Namespace},
			}},
		},
	}
	var env qdrantEnvelope[[]qdrantScoredPoint]
	if err := qs.pool.Do(ctx, "query", http.MethodPost, qs.path("/points/search"), body, &env); err != nil {
		return model.QueryResponse{}, err
	}
	if env.Status.Error != "" {
		return model.QueryResponse{}, unexpected("query", errors.New(env.Status.Error))
	}

	out := model.QueryResponse{Namespace: req.Namespace, Matches: make([]model.Match, 0, len(env.Result))}
	for _, p := range env.Result {
		m := model.Match{ID: parseQdrantID(p.ID), Score: p.Score, Values: p.Vector}
		if p.Payload != nil {
			m.Metadata = model.Metadata{Content: p.Payload.Content, Namespace: p.Payload.Namespace}
		}
		out.Matches = append(out.Matches, m)
	}
	return out, nil
}

func (qs *QdrantStore) Close() error { return qs.pool.Close() }

// parseQdrantID accepts both numeric and UUID point ids.
func parseQdrantID(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return string(raw)
}
