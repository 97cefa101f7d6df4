package runtime

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"

	"github.com/bahamondeX/fact/src/config"
	"github.com/bahamondeX/fact/src/memory/embed"
	"github.com/bahamondeX/fact/src/memory/store"
	"github.com/bahamondeX/fact/src/rag"
)

// Runtime wires one embedding handle and one vector store into a memory
// tool. It owns both and releases them on Close.
type Runtime struct {
	cfg    *config.Config
	log    logrus.FieldLogger
	tracer trace.Tracer

	factory  embed.Factory
	embedder *embed.Handle
	store    store.VectorStore
	tool     *rag.Tool

	closeOnce sync.Once
	closeErr  error
}

// Option configures the Runtime during construction.
type Option func(*Runtime) error

func WithLogger(l logrus.FieldLogger) Option {
	return func(r *Runtime) error {
		if l == nil {
			return errors.New("runtime logger cannot be nil")
		}
		r.log = l
		return nil
	}
}

// WithEmbedderFactory replaces the provider chosen by configuration. The
// factory still runs at most once and its result is still wrapped with the
// configured retry and cache policy.
func WithEmbedderFactory(f embed.Factory) Option {
	return func(r *Runtime) error {
		if f == nil {
			return errors.New("embedder factory cannot be nil")
		}
		r.factory = f
		return nil
	}
}

// WithEmbedder is WithEmbedderFactory for an already built Embedder.
func WithEmbedder(e embed.Embedder) Option {
	return WithEmbedderFactory(func(context.Context) (embed.Embedder, error) { return e, nil })
}

// WithStore replaces the backend chosen by configuration. The Runtime takes
// ownership and closes it.
func WithStore(s store.VectorStore) Option {
	return func(r *Runtime) error {
		if s == nil {
			return errors.New("vector store cannot be nil")
		}
		r.store = s
		return nil
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(r *Runtime) error {
		r.tracer = t
		return nil
	}
}

// New builds a Runtime from cfg. The embedder is not contacted until the
// first operation; HTTP store clients are likewise created on first use.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Runtime, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	r := &Runtime{cfg: cfg, log: logrus.StandardLogger()}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(r); err != nil {
			return nil, err
		}
	}

	if r.factory == nil {
		ecfg := embed.Config{
			Provider: cfg.Embedding.Provider,
			Model:    cfg.Embedding.Model,
			APIKey:   cfg.Embedding.APIKey,
			BaseURL:  cfg.Embedding.BaseURL,
		}
		r.factory = func(ctx context.Context) (embed.Embedder, error) {
			return embed.New(ctx, ecfg)
		}
	}
	r.embedder = embed.NewHandle(r.wrap(r.factory))

	if r.store == nil {
		s, err := NewStore(ctx, cfg.Store, r.log)
		if err != nil {
			return nil, err
		}
		r.store = s
	}

	toolOpts := []rag.Option{rag.WithLogger(r.log)}
	if r.tracer != nil {
		toolOpts = append(toolOpts, rag.WithTracer(r.tracer))
	}
	r.tool = rag.New(r.embedder, r.store, toolOpts...)
	r.log.WithFields(logrus.Fields{
		"embed_provider": cfg.Embedding.Provider,
		"store_backend":  cfg.Store.Backend,
	}).Debug("runtime ready")
	return r, nil
}

// wrap layers the cache over the retry policy so that hits skip retries.
func (r *Runtime) wrap(f embed.Factory) embed.Factory {
	ecfg := r.cfg.Embedding
	return func(ctx context.Context) (embed.Embedder, error) {
		base, err := f(ctx)
		if err != nil {
			r.log.WithField("provider", ecfg.Provider).WithError(err).Error("build embedder")
			return nil, err
		}
		var e embed.Embedder = embed.NewRetrying(base,
			embed.WithAttempts(ecfg.Attempts),
			embed.WithBackoffUnit(ecfg.Backoff),
			embed.WithRetryLogger(r.log),
		)
		if ecfg.CacheSize > 0 {
			e = embed.NewCached(e, ecfg.Provider+"/"+ecfg.Model, ecfg.CacheSize, ecfg.CacheTTL)
		}
		return e, nil
	}
}

// NewStore builds the backend named by cfg.Backend.
func NewStore(ctx context.Context, cfg config.StoreConfig, log logrus.FieldLogger) (store.VectorStore, error) {
	poolCfg := func(baseURL string, header http.Header) store.PoolConfig {
		return store.PoolConfig{
			BaseURL:      baseURL,
			Header:       header,
			Timeout:      cfg.HTTP.Timeout,
			MaxIdleConns: cfg.HTTP.MaxIdleConns,
			MaxConns:     cfg.HTTP.MaxConns,
			HTTP2:        cfg.HTTP.HTTP2,
		}
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "pinecone":
		pool := store.NewPool(poolCfg(cfg.Pinecone.BaseURL, store.PineconeHeader(cfg.Pinecone.APIKey)), store.WithPoolLogger(log))
		return store.NewPineconeStore(pool,
			store.WithUpsertPath(cfg.Pinecone.UpsertPath),
			store.WithQueryPath(cfg.Pinecone.QueryPath),
		), nil
	case "qdrant":
		pool := store.NewPool(poolCfg(cfg.Qdrant.URL, store.QdrantHeader(cfg.Qdrant.APIKey)), store.WithPoolLogger(log))
		return backend(store.NewQdrantStore(pool, cfg.Qdrant.Collection, cfg.Qdrant.Dimensions))
	case "postgres", "pgvector":
		return backend(store.NewPostgresStore(ctx, cfg.Postgres.DSN, cfg.Postgres.Table, cfg.Postgres.Dimensions))
	case "mongodb", "mongo":
		return backend(store.NewMongoStore(ctx, cfg.Mongo.URI, cfg.Mongo.Database, cfg.Mongo.Collection, cfg.Mongo.Index, cfg.Mongo.Dimensions))
	case "neo4j":
		driver, err := store.DialNeo4j(ctx, cfg.Neo4j.URI, cfg.Neo4j.Username, cfg.Neo4j.Password)
		if err != nil {
			return nil, fmt.Errorf("connect neo4j: %w", err)
		}
		return backend(store.NewNeo4jStore(driver, cfg.Neo4j.Database, cfg.Neo4j.Index, cfg.Neo4j.Dimensions))
	case "chromem":
		return backend(store.NewChromemStore(cfg.Chromem.Path, cfg.Chromem.Compress))
	case "memory", "inmemory":
		return store.NewInMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
}

func backend[T store.VectorStore](s T, err error) (store.VectorStore, error) {
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Run executes one memory operation.
func (r *Runtime) Run(ctx context.Context, op rag.Operation) iter.Seq2[rag.Chunk, error] {
	return r.tool.Run(ctx, op)
}

// CreateSchema prepares the backend if it needs it. Backends without a
// schema succeed without doing anything.
func (r *Runtime) CreateSchema(ctx context.Context) error {
	si, ok := r.store.(store.SchemaInitializer)
	if !ok {
		return nil
	}
	if err := si.CreateSchema(ctx); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (r *Runtime) Tool() *rag.Tool { return r.tool }

func (r *Runtime) Store() store.VectorStore { return r.store }

func (r *Runtime) Embedder() *embed.Handle { return r.embedder }

func (r *Runtime) Config() *config.Config { return r.cfg }

func (r *Runtime) Logger() logrus.FieldLogger { return r.log }

// Close releases the embedder and the store. Later calls return the first
// result.
func (r *Runtime) Close() error {
	r.closeOnce.Do(func() {
		var result *multierror.Error
		if err := r.embedder.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close embedder: %w", err))
		}
		if err := r.store.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close store: %w", err))
		}
		r.closeErr = result.ErrorOrNil()
	})
	return r.closeErr
}
