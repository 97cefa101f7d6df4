package model

import (
	"errors"
	"fmt"
)

// MemoryRecord is one persisted unit of semantic memory.
type MemoryRecord struct {
	ID        string    `json:"id"`
	Namespace string    `json:"namespace"`
	Content   string    `json:"content"`
	Embedding []float32 `json:"embedding"`
}

// Vector converts the record into its upsert wire shape.
func (r MemoryRecord) Vector() Vector {
	return Vector{
		ID:     r.ID,
		Values: r.Embedding,
		Metadata: Metadata{
			Content:   Content(r.Content),
			Namespace: r.Namespace,
		},
	}
}

// ErrDimensionMismatch is returned when vectors in one request disagree on length.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// CheckDimensions reports an error unless every vector has the same non-zero length.
func CheckDimensions(vectors []Vector) (int, error) {
	dim := 0
	for i, v := range vectors {
		if len(v.Values) == 0 {
			return 0, fmt.Errorf("vector %d (%s) has no values", i, v.ID)
		}
		if dim == 0 {
			dim = len(v.Values)
			continue
		}
		if len(v.Values) != dim {
			return 0, fmt.Errorf("%w: vector %s has %d values, expected %d", ErrDimensionMismatch, v.ID, len(v.Values), dim)
		}
	}
	return dim, nil
}
