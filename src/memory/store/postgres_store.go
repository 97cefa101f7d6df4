package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/bahamondeX/fact/src/memory/model"
)

// pgExecutor is the subset of pgxpool.Pool the store relies on.
type pgExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// PostgresStore implements VectorStore using Postgres + pgvector. Namespaces
// are a column; similarity is cosine.
type PostgresStore struct {
	db         pgExecutor
	pool       *pgxpool.Pool
	table      string
	dimensions int
	closeOnce  sync.Once
}

var (
	_ VectorStore       = (*PostgresStore)(nil)
	_ SchemaInitializer = (*PostgresStore)(nil)
)

// NewPostgresStore connects to Postgres and verifies the connection.
func NewPostgresStore(ctx context.Context, dsn, table string, dimensions int) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := newPostgresStore(pool, table, dimensions)
	s.pool = pool
	return s, nil
}

func newPostgresStore(db pgExecutor, table string, dimensions int) *PostgresStore {
	if table == "" {
		table = "memories"
	}
	return &PostgresStore{db: db, table: pgx.Identifier{table}.Sanitize(), dimensions: dimensions}
}

// CreateSchema ensures the pgvector extension, the table and its indexes exist.
func (ps *PostgresStore) CreateSchema(ctx context.Context) error {
	if ps.dimensions <= 0 {
		return errors.New("postgres dimensions must be positive")
	}
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			namespace TEXT NOT NULL,
			content TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, ps.table, ps.dimensions),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (namespace)`, pgx.Identifier{unquote(ps.table) + "_namespace_idx"}.Sanitize(), ps.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s USING hnsw (embedding vector_cosine_ops)`, pgx.Identifier{unquote(ps.table) + "_embedding_idx"}.Sanitize(), ps.table),
	}
	for _, stmt := range stmts {
		if _, err := ps.db.Exec(ctx, stmt); err != nil {
			return classify(ctx, "create_schema", err)
		}
	}
	return nil
}

func (ps *PostgresStore) Upsert(ctx context.Context, req model.UpsertRequest) (model.UpsertResponse, error) {
	if _, err := model.CheckDimensions(req.Vectors); err != nil {
		return model.UpsertResponse{}, unexpected("upsert", err)
	}
	if len(req.Vectors) == 0 {
		return model.UpsertResponse{}, nil
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (id, namespace, content, embedding)
		VALUES ($1, $2, $3, $4::vector)
		ON CONFLICT (id) DO UPDATE
		SET namespace = EXCLUDED.namespace, content = EXCLUDED.content, embedding = EXCLUDED.embedding`, ps.table)

	batch := &pgx.Batch{}
	for _, v := range req.Vectors {
		batch.Queue(query, v.ID, req.Namespace, v.Metadata.Content.String(), pgvector.NewVector(v.Values))
	}
	br := ps.db.SendBatch(ctx, batch)
	written := 0
	for range req.Vectors {
		tag, err := br.Exec()
		if err != nil {
			_ = br.Close()
			return model.UpsertResponse{}, classify(ctx, "upsert", err)
		}
		written += int(tag.RowsAffected())
	}
	if err := br.Close(); err != nil {
		return model.UpsertResponse{}, classify(ctx, "upsert", err)
	}
	return model.UpsertResponse{UpsertedCount: written}, nil
}

func (ps *PostgresStore) Query(ctx context.Context, req model.QueryRequest) (model.QueryResponse, error) {
	out := model.QueryResponse{Namespace: req.Namespace, Matches: []model.Match{}}
	if req.TopK <= 0 {
		return out, nil
	}
	rows, err := ps.db.Query(ctx, fmt.Sprintf(`
		SELECT id, content, 1 - (embedding <=> $1::vector) AS score, embedding::text
		FROM %s
		WHERE namespace = $2
		ORDER BY embedding <=> $1::vector
		LIMIT $3`, ps.table), pgvector.NewVector(req.Vector), req.Namespace, req.TopK)
	if err != nil {
		return out, classify(ctx, "query", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			m       model.Match
			content string
			vecText string
		)
		if err := rows.Scan(&m.ID, &content, &m.Score, &vecText); err != nil {
			return out, classify(ctx, "query", err)
		}
		m.Score = model.ClampScore(m.Score)
		if req.IncludeMetadata {
			m.Metadata = model.Metadata{Content: model.Content(content), Namespace: req.Namespace}
		}
		if req.IncludeValues && len(vecText) >= 2 {
			var v pgvector.Vector
			if err := v.Parse(vecText); err == nil {
				m.Values = v.Slice()
			}
		}
		out.Matches = append(out.Matches, m)
	}
	if err := rows.Err(); err != nil {
		return out, classify(ctx, "query", err)
	}
	return out, nil
}

func (ps *PostgresStore) Close() error {
	ps.closeOnce.Do(func() {
		if ps.pool != nil {
			ps.pool.Close()
		}
	})
	return nil
}

func unquote(ident string) string {
	if len(ident) >= 2 && ident[0] == '"' && ident[len(ident)-1] == '"' {
		return ident[1 : len(ident)-1]
	}
	return ident
}
