package embed

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"net/http"
	"strings"
)

// Embedder is a pluggable text-embedding provider.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ErrNotSupported is returned when a provider answers without a usable vector.
var ErrNotSupported = errors.New("embeddings not supported by this provider")

// ErrMissingKey is returned when a hosted provider is selected without credentials.
var ErrMissingKey = errors.New("missing embedding API key")

// Config selects and parameterises a provider.
type Config struct {
	Provider   string
	Model      string
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

// New builds the provider named by cfg.Provider. An empty provider means mistral.
func New(ctx context.Context, cfg Config) (Embedder, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "mistral":
		return provider(NewMistralEmbedder(cfg.APIKey, cfg.Model, cfg.BaseURL, cfg.HTTPClient))
	case "openai":
		return provider(NewOpenAIEmbedder(cfg.APIKey, cfg.Model, cfg.BaseURL, cfg.HTTPClient))
	case "google", "gemini", "vertex":
		return provider(NewVertexAIEmbedder(ctx, cfg.APIKey, cfg.Model))
	case "ollama":
		return provider(NewOllamaEmbedder(cfg.BaseURL, cfg.Model, cfg.HTTPClient))
	case "voyage", "claude":
		return provider(NewVoyageEmbedder(cfg.APIKey, cfg.Model, cfg.BaseURL, cfg.HTTPClient))
	case "fastembed":
		return provider(NewFastEmbedder(ctx, defaultFastEmbedOptions(cfg.Model)))
	case "dummy":
		return DummyEmbedder{}, nil
	}
	return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
}

// provider keeps a failed constructor from leaking a typed nil into the interface.
func provider[T Embedder](e T, err error) (Embedder, error) {
	if err != nil {
		return nil, err
	}
	return e, nil
}

// DummyEmbedder hashes tokens into a fixed-size vector. Identical text always
// yields the identical unit vector, and texts sharing words score higher.
type DummyEmbedder struct{}

const DummyDimensions = 768

func (DummyEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return DummyEmbedding(text), nil
}

func DummyEmbedding(text string) []float32 {
	vec := make([]float32, DummyDimensions)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(tok))
		sum := h.Sum32()
		vec[sum%DummyDimensions] += 1
		vec[(sum>>16)%DummyDimensions] += 0.5
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	n := float32(math.Sqrt(norm))
	for i := range vec {
		vec[i] /= n
	}
	return vec
}

func f64toF32(v []float64) []float32 {
	r := make([]float32, len(v))
	for i, x := range v {
		r[i] = float32(x)
	}
	return r
}
