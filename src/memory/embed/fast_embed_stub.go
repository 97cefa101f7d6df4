//go:build !fastembed

package embed

import (
	"context"
	"errors"
)

type FastEmbedOptions struct {
	Model     string
	CacheDir  string
	MaxLength int
}

type FastEmbedder struct{}

var errNoFastEmbed = errors.New("fastembed support not included; rebuild with -tags fastembed")

func defaultFastEmbedOptions(model string) *FastEmbedOptions { return &FastEmbedOptions{Model: model} }

func NewFastEmbedder(context.Context, *FastEmbedOptions) (*FastEmbedder, error) {
	return nil, errNoFastEmbed
}

func (*FastEmbedder) Embed(context.Context, string) ([]float32, error) { return nil, errNoFastEmbed }

func (*FastEmbedder) Close() error { return nil }
