package rag

import "github.com/bahamondeX/fact/src/memory/model"

// ChunkKind tags a Chunk.
type ChunkKind int

const (
	// ChunkInfo carries a status line: stored count, match header or no-match notice.
	ChunkInfo ChunkKind = iota + 1
	// ChunkMatch carries one ranked match.
	ChunkMatch
	// ChunkError is the single terminal chunk of a failed operation.
	ChunkError
)

func (k ChunkKind) String() string {
	switch k {
	case ChunkInfo:
		return "info"
	case ChunkMatch:
		return "match"
	case ChunkError:
		return "error"
	}
	return "unknown"
}

// Chunk is one piece of an operation's output. Text is always the rendered
// line; Match and Rank are only set for ChunkMatch.
type Chunk struct {
	Kind  ChunkKind    `json:"kind"`
	Text  string       `json:"text"`
	Rank  int          `json:"rank,omitempty"`
	Match *model.Match `json:"match,omitempty"`
}

func (c Chunk) String() string { return c.Text }
