//go:build fastembed

package embed

import (
	"context"
	"runtime"

	fastembed "github.com/anush008/fastembed-go"
)

type FastEmbedOptions struct {
	Model     string
	CacheDir  string
	MaxLength int
}

// FastEmbedder runs a local ONNX model; no network and no credentials.
type FastEmbedder struct {
	m *fastembed.FlagEmbedding
}

func defaultFastEmbedOptions(model string) *FastEmbedOptions {
	if model == "" {
		model = string(fastembed.BGESmallENV15)
	}
	return &FastEmbedOptions{Model: model, CacheDir: ".fastembed"}
}

func NewFastEmbedder(_ context.Context, opt *FastEmbedOptions) (*FastEmbedder, error) {
	init := &fastembed.InitOptions{
		Model:     fastembed.EmbeddingModel(opt.Model),
		CacheDir:  opt.CacheDir,
		MaxLength: opt.MaxLength,
	}
	m, err := fastembed.NewFlagEmbedding(init)
	if err != nil {
		return nil, err
	}
	return &FastEmbedder{m: m}, nil
}

func (e *FastEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.m.QueryEmbed(text)
}

// EmbedPassages embeds a batch of documents for bulk ingestion.
func (e *FastEmbedder) EmbedPassages(ctx context.Context, docs []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.m.PassageEmbed(docs, 4*runtime.GOMAXPROCS(0))
}

func (e *FastEmbedder) Close() error {
	if e.m != nil {
		e.m.Destroy()
		e.m = nil
	}
	return nil
}
