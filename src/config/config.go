package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds process-wide settings. It is read once when the runtime is built.
type Config struct {
	LogLevel  string          `yaml:"logLevel"`
	LogFormat string          `yaml:"logFormat"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Store     StoreConfig     `yaml:"store"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
}

type EmbeddingConfig struct {
	Provider  string        `yaml:"provider"`
	Model     string        `yaml:"model"`
	APIKey    string        `yaml:"apiKey"`
	BaseURL   string        `yaml:"baseURL"`
	Attempts  int           `yaml:"attempts"`
	Backoff   time.Duration `yaml:"backoff"`
	CacheSize int           `yaml:"cacheSize"`
	CacheTTL  time.Duration `yaml:"cacheTTL"`
}

type StoreConfig struct {
	Backend  string         `yaml:"backend"`
	HTTP     HTTPConfig     `yaml:"http"`
	Pinecone PineconeConfig `yaml:"pinecone"`
	Qdrant   QdrantConfig   `yaml:"qdrant"`
	Postgres PostgresConfig `yaml:"postgres"`
	Mongo    MongoConfig    `yaml:"mongo"`
	Neo4j    Neo4jConfig    `yaml:"neo4j"`
	Chromem  ChromemConfig  `yaml:"chromem"`
}

// HTTPConfig sizes the pooled client shared by HTTP backends.
type HTTPConfig struct {
	Timeout      time.Duration `yaml:"timeout"`
	MaxIdleConns int           `yaml:"maxIdleConns"`
	MaxConns     int           `yaml:"maxConns"`
	HTTP2        bool          `yaml:"http2"`
}

type PineconeConfig struct {
	BaseURL    string `yaml:"baseURL"`
	APIKey     string `yaml:"apiKey"`
	UpsertPath string `yaml:"upsertPath"`
	QueryPath  string `yaml:"queryPath"`
}

type QdrantConfig struct {
	URL        string `yaml:"url"`
	APIKey     string `yaml:"apiKey"`
	Collection string `yaml:"collection"`
	Dimensions int    `yaml:"dimensions"`
}

type PostgresConfig struct {
	DSN        string `yaml:"dsn"`
	Table      string `yaml:"table"`
	Dimensions int    `yaml:"dimensions"`
}

type MongoConfig struct {
	URI        string `yaml:"uri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
	Index      string `yaml:"index"`
	Dimensions int    `yaml:"dimensions"`
}

type Neo4jConfig struct {
	URI        string `yaml:"uri"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	Database   string `yaml:"database"`
	Index      string `yaml:"index"`
	Dimensions int    `yaml:"dimensions"`
}

type ChromemConfig struct {
	Path     string `yaml:"path"`
	Compress bool   `yaml:"compress"`
}

type RetrievalConfig struct {
	TopK      int     `yaml:"topK"`
	Threshold float64 `yaml:"threshold"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "text",
		Embedding: EmbeddingConfig{
			Provider:  "mistral",
			Model:     "mistral-embed",
			Attempts:  3,
			Backoff:   time.Second,
			CacheSize: 512,
			CacheTTL:  10 * time.Minute,
		},
		Store: StoreConfig{
			Backend: "pinecone",
			HTTP: HTTPConfig{
				Timeout:      30 * time.Second,
				MaxIdleConns: 5,
				MaxConns:     10,
				HTTP2:        true,
			},
			Pinecone: PineconeConfig{
				UpsertPath: "/vectors/upsert",
				QueryPath:  "/query",
			},
			Qdrant:   QdrantConfig{URL: "http://localhost:6333", Collection: "memories", Dimensions: 1024},
			Postgres: PostgresConfig{Table: "memories", Dimensions: 1024},
			Mongo:    MongoConfig{Database: "fact", Collection: "memories", Index: "vector_index", Dimensions: 1024},
			Neo4j:    Neo4jConfig{URI: "neo4j://localhost:7687", Username: "neo4j", Index: "memory_embedding", Dimensions: 1024},
		},
		Retrieval: RetrievalConfig{TopK: 5, Threshold: 0.75},
	}
}

// Load reads defaults, then the YAML file at path (if any), then a .env file in
// the working directory (if present), then environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.LogLevel, "FACT_LOG_LEVEL")
	setString(&c.LogFormat, "FACT_LOG_FORMAT")

	setString(&c.Embedding.Provider, "FACT_EMBED_PROVIDER")
	setString(&c.Embedding.Model, "FACT_EMBED_MODEL")
	setString(&c.Embedding.BaseURL, "FACT_EMBED_BASE_URL")
	if c.Embedding.APIKey == "" {
		c.Embedding.APIKey = providerKey(c.Embedding.Provider)
	}
	if strings.EqualFold(c.Embedding.Provider, "ollama") {
		setString(&c.Embedding.BaseURL, "OLLAMA_HOST")
	}

	setString(&c.Store.Backend, "FACT_STORE_BACKEND")
	setString(&c.Store.Pinecone.BaseURL, "PINECONE_BASE_URL")
	setString(&c.Store.Pinecone.APIKey, "PINECONE_API_KEY")
	setString(&c.Store.Qdrant.URL, "QDRANT_URL")
	setString(&c.Store.Qdrant.APIKey, "QDRANT_API_KEY")
	setString(&c.Store.Postgres.DSN, "DATABASE_URL")
	setString(&c.Store.Mongo.URI, "MONGO_URI")
	setString(&c.Store.Neo4j.URI, "NEO4J_URI")
	setString(&c.Store.Neo4j.Username, "NEO4J_USERNAME")
	setString(&c.Store.Neo4j.Password, "NEO4J_PASSWORD")
	setString(&c.Store.Chromem.Path, "FACT_CHROMEM_PATH")

	if v := os.Getenv("FACT_SIMILARITY_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("FACT_SIMILARITY_THRESHOLD: %w", err)
		}
		c.Retrieval.Threshold = f
	}
	return nil
}

// Validate checks the settings that would otherwise fail late.
func (c *Config) Validate() error {
	if c.Embedding.Attempts < 1 {
		return fmt.Errorf("embedding.attempts must be >= 1, got %d", c.Embedding.Attempts)
	}
	if c.Embedding.Backoff < 0 {
		return errors.New("embedding.backoff must not be negative")
	}
	if c.Store.HTTP.MaxIdleConns < 1 || c.Store.HTTP.MaxConns < 1 {
		return errors.New("store.http pool sizes must be positive")
	}
	if c.Retrieval.Threshold < 0 || c.Retrieval.Threshold > 1 {
		return fmt.Errorf("retrieval.threshold must be within [0,1], got %v", c.Retrieval.Threshold)
	}
	if c.Retrieval.TopK < 1 || c.Retrieval.TopK > 20 {
		return fmt.Errorf("retrieval.topK must be within [1,20], got %d", c.Retrieval.TopK)
	}
	return nil
}

func providerKey(provider string) string {
	switch strings.ToLower(provider) {
	case "mistral":
		return os.Getenv("MISTRAL_API_KEY")
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	case "google", "gemini", "vertex":
		if k := os.Getenv("GOOGLE_API_KEY"); k != "" {
			return k
		}
		return os.Getenv("GEMINI_API_KEY")
	case "voyage", "claude":
		return os.Getenv("VOYAGE_API_KEY")
	}
	return ""
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}
