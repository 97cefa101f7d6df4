package embed

import (
	"context"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const (
	MistralBaseURL      = "https://api.mistral.ai/v1"
	MistralDefaultModel = "mistral-embed"
	OpenAIDefaultModel  = "text-embedding-3-small"
)

// OpenAIEmbedder talks to any OpenAI-compatible /embeddings endpoint.
type OpenAIEmbedder struct {
	client *openai.Client
	model  string
}

// NewMistralEmbedder targets Mistral's OpenAI-compatible API.
func NewMistralEmbedder(apiKey, model, baseURL string, hc *http.Client) (*OpenAIEmbedder, error) {
	if baseURL == "" {
		baseURL = MistralBaseURL
	}
	if model == "" {
		model = MistralDefaultModel
	}
	return newCompatEmbedder(apiKey, model, baseURL, hc)
}

func NewOpenAIEmbedder(apiKey, model, baseURL string, hc *http.Client) (*OpenAIEmbedder, error) {
	if model == "" {
		model = OpenAIDefaultModel
	}
	return newCompatEmbedder(apiKey, model, baseURL, hc)
}

func newCompatEmbedder(apiKey, model, baseURL string, hc *http.Client) (*OpenAIEmbedder, error) {
	if apiKey == "" {
		return nil, ErrMissingKey
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if hc != nil {
		cfg.HTTPClient = hc
	}
	return &OpenAIEmbedder{client: openai.NewClientWithConfig(cfg), model: model}, nil
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: []string{text},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, ErrNotSupported
	}
	return resp.Data[0].Embedding, nil
}
