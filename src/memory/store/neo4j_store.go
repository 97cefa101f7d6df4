package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bahamondeX/fact/src/memory/model"
)

// Neo4jAccessMode controls whether a session is opened for read or write operations.
type Neo4jAccessMode string

const (
	AccessModeWrite Neo4jAccessMode = "write"
	AccessModeRead  Neo4jAccessMode = "read"
)

// Neo4jSessionConfig mirrors the minimal subset of Neo4j session configuration we require.
type Neo4jSessionConfig struct {
	AccessMode   Neo4jAccessMode
	DatabaseName string
}

// neo4jDriver abstracts the driver so tests can substitute fakes.
type neo4jDriver interface {
	NewSession(ctx context.Context, config Neo4jSessionConfig) (neo4jSession, error)
	Close(ctx context.Context) error
}

type neo4jSession interface {
	BeginTransaction(ctx context.Context) (neo4jTransaction, error)
	Run(ctx context.Context, query string, params map[string]any) (neo4jResult, error)
	Close(ctx context.Context) error
}

type neo4jTransaction interface {
	Run(ctx context.Context, query string, params map[string]any) (neo4jResult, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	Close(ctx context.Context) error
}

type neo4jResult interface {
	Next(ctx context.Context) bool
	Record() neo4jRecord
	Err() error
	Close(ctx context.Context) error
}

type neo4jRecord interface {
	Get(key string) (any, bool)
}

const (
	neo4jUpsertCypher = `
UNWIND $rows AS row
MERGE (m:Memory {id: row.id})
SET m.namespace = row.namespace, m.content = row.content, m.embedding = row.embedding
RETURN count(m) AS written`

	neo4jQueryCypher = `
CALL db.index.vector.queryNodes($index, $candidates, $vector) YIELD node, score
WHERE node.namespace = $namespace
RETURN node.id AS id, node.content AS content, node.namespace AS namespace, score, node.embedding AS embedding
ORDER BY score DESC
LIMIT $topK`

	// neo4jScanCypher ranks every node of one namespace exactly. It runs when
	// the index candidates were crowded out by other namespaces.
	neo4jScanCypher = `
MATCH (m:Memory {namespace: $namespace})
WITH m, vector.similarity.cosine(m.embedding, $vector) AS score
RETURN m.id AS id, m.content AS content, m.namespace AS namespace, score, m.embedding AS embedding
ORDER BY score DESC
LIMIT $topK`
)

// Neo4jStore persists memories as :Memory nodes and queries them through a
// native vector index.
type Neo4jStore struct {
	driver     neo4jDriver
	database   string
	index      string
	dimensions int

	closeOnce sync.Once
	closeErr  error
}

var (
	_ VectorStore       = (*Neo4jStore)(nil)
	_ SchemaInitializer = (*Neo4jStore)(nil)
)

func NewNeo4jStore(driver neo4jDriver, database, index string, dimensions int) (*Neo4jStore, error) {
	if driver == nil {
		return nil, errors.New("neo4j driver is nil")
	}
	if index == "" {
		index = "memory_embedding"
	}
	return &Neo4jStore{driver: driver, database: database, index: index, dimensions: dimensions}, nil
}

// CreateSchema creates the id constraint, the namespace index and the vector index.
func (s *Neo4jStore) CreateSchema(ctx context.Context) error {
	if s.dimensions <= 0 {
		return errors.New("neo4j dimensions must be positive")
	}
	session, err := s.driver.NewSession(ctx, Neo4jSessionConfig{AccessMode: AccessModeWrite, DatabaseName: s.database})
	if err != nil {
		return classify(ctx, "create_schema", fmt.Errorf("neo4j new session: %w", err))
	}
	defer session.Close(ctx)
	queries := []string{
		"CREATE CONSTRAINT IF NOT EXISTS FOR (m:Memory) REQUIRE m.id IS UNIQUE",
		"CREATE INDEX IF NOT EXISTS FOR (m:Memory) ON (m.namespace)",
		fmt.Sprintf("CREATE VECTOR INDEX %s IF NOT EXISTS FOR (m:Memory) ON (m.embedding) "+
			"OPTIONS {indexConfig: {`vector.dimensions`: %d, `vector.similarity_function`: 'cosine'}}", quoteCypher(s.index), s.dimensions),
	}
	for _, query := range queries {
		res, err := session.Run(ctx, query, nil)
		if err != nil {
			return classify(ctx, "create_schema", fmt.Errorf("neo4j schema query: %w", err))
		}
		if res != nil {
			_ = res.Close(ctx)
		}
	}
	return nil
}

func (s *Neo4jStore) Upsert(ctx context.Context, req model.UpsertRequest) (model.UpsertResponse, error) {
	if _, err := model.CheckDimensions(req.Vectors); err != nil {
		return model.UpsertResponse{}, unexpected("upsert", err)
	}
	if len(req.Vectors) == 0 {
		return model.UpsertResponse{}, nil
	}
	rows := make([]map[string]any, 0, len(req.Vectors))
	for _, v := range req.Vectors {
		rows = append(rows, map[string]any{
			"id":        v.ID,
			"namespace": req.Namespace,
			"content":   v.Metadata.Content.String(),
			"embedding": float64Embedding(v.Values),
		})
	}

	session, err := s.driver.NewSession(ctx, Neo4jSessionConfig{AccessMode: AccessModeWrite, DatabaseName: s.database})
	if err != nil {
		return model.UpsertResponse{}, classify(ctx, "upsert", fmt.Errorf("neo4j new session: %w", err))
	}
	defer session.Close(ctx)
	tx, err := session.BeginTransaction(ctx)
	if err != nil {
		return model.UpsertResponse{}, classify(ctx, "upsert", fmt.Errorf("neo4j begin tx: %w", err))
	}
	defer tx.Close(ctx)

	res, err := tx.Run(ctx, neo4jUpsertCypher, map[string]any{"rows": rows})
	if err != nil {
		_ = tx.Rollback(ctx)
		return model.UpsertResponse{}, classify(ctx, "upsert", fmt.Errorf("neo4j upsert: %w", err))
	}
	written := len(rows)
	if res != nil {
		if res.Next(ctx) {
			if rec := res.Record(); rec != nil {
				if n, ok := intValue(rec, "written"); ok {
					written = n
				}
			}
		}
		_ = res.Close(ctx)
	}
	if err := tx.Commit(ctx); err != nil {
		_ = tx.Rollback(ctx)
		return model.UpsertResponse{}, classify(ctx, "upsert", fmt.Errorf("neo4j commit: %w", err))
	}
	return model.UpsertResponse{UpsertedCount: written}, nil
}

// Query asks the vector index first. When fewer than TopK of the index
// candidates belong to the namespace, the namespace is scanned exactly.
// Neo4j reports (1+cos)/2; matches carry the raw cosine.
func (s *Neo4jStore) Query(ctx context.Context, req model.QueryRequest) (model.QueryResponse, error) {
	out := model.QueryResponse{Namespace: req.Namespace, Matches: []model.Match{}}
	if req.TopK <= 0 {
		return out, nil
	}
	session, err := s.driver.NewSession(ctx, Neo4jSessionConfig{AccessMode: AccessModeRead, DatabaseName: s.database})
	if err != nil {
		return out, classify(ctx, "query", fmt.Errorf("neo4j new session: %w", err))
	}
	defer session.Close(ctx)

	vector := float64Embedding(req.Vector)
	matches, err := s.run(ctx, session, neo4jQueryCypher, map[string]any{
		"index":      s.index,
		"candidates": int64(req.TopK * 10),
		"vector":     vector,
		"namespace":  req.Namespace,
		"topK":       int64(req.TopK),
	}, req)
	if err != nil {
		return out, err
	}
	if len(matches) < req.TopK {
		matches, err = s.run(ctx, session, neo4jScanCypher, map[string]any{
			"vector":    vector,
			"namespace": req.Namespace,
			"topK":      int64(req.TopK),
		}, req)
		if err != nil {
			return out, err
		}
	}
	out.Matches = append(out.Matches, matches...)
	return out, nil
}

func (s *Neo4jStore) run(ctx context.Context, session neo4jSession, query string, params map[string]any, req model.QueryRequest) ([]model.Match, error) {
	res, err := session.Run(ctx, query, params)
	if err != nil {
		return nil, classify(ctx, "query", fmt.Errorf("neo4j query: %w", err))
	}
	defer res.Close(ctx)

	var matches []model.Match
	for res.Next(ctx) {
		rec := res.Record()
		if rec == nil {
			continue
		}
		m := model.Match{
			ID:    stringValue(rec, "id"),
			Score: model.ClampScore(model.CosineFromUnitScore(floatValue(rec, "score"))),
		}
		if req.IncludeMetadata {
			m.Metadata = model.Metadata{
				Content:   model.Content(stringValue(rec, "content")),
				Namespace: stringValue(rec, "namespace"),
			}
		}
		if req.IncludeValues {
			m.Values = vectorValue(rec, "embedding")
		}
		matches = append(matches, m)
	}
	if err := res.Err(); err != nil {
		return nil, classify(ctx, "query", fmt.Errorf("neo4j query: %w", err))
	}
	return matches, nil
}

// Close releases the driver. Later calls return the first result.
func (s *Neo4jStore) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.driver.Close(context.Background())
	})
	return s.closeErr
}

func stringValue(rec neo4jRecord, key string) string {
	v, ok := rec.Get(key)
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func intValue(rec neo4jRecord, key string) (int, bool) {
	v, _ := rec.Get(key)
	if n, ok := v.(int64); ok {
		return int(n), true
	}
	return 0, false
}

func floatValue(rec neo4jRecord, key string) float64 {
	v, _ := rec.Get(key)
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}

func vectorValue(rec neo4jRecord, key string) []float32 {
	v, _ := rec.Get(key)
	switch vec := v.(type) {
	case []float64:
		return float32Embedding(vec)
	case []any:
		out := make([]float32, 0, len(vec))
		for _, x := range vec {
			if f, ok := x.(float64); ok {
				out = append(out, float32(f))
			}
		}
		return out
	}
	return nil
}

func quoteCypher(name string) string {
	out := make([]rune, 0, len(name)+2)
	out = append(out, '`')
	for _, r := range name {
		if r == '`' {
			out = append(out, '`')
		}
		out = append(out, r)
	}
	return string(append(out, '`'))
}
