package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Content is the stored text of a memory. Backends may return it either as a
// single string or as a list of strings; lists are joined with newlines.
type Content string

func (c *Content) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*c = ""
		return nil
	}
	if b[0] == '[' {
		var parts []string
		if err := json.Unmarshal(b, &parts); err != nil {
			return fmt.Errorf("content list: %w", err)
		}
		*c = Content(strings.Join(parts, "\n"))
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("content: %w", err)
	}
	*c = Content(s)
	return nil
}

func (c Content) String() string { return string(c) }

// Metadata is attached to every stored vector.
type Metadata struct {
	Content   Content `json:"content"`
	Namespace string  `json:"namespace"`
}

// Vector is a single record in an upsert request.
type Vector struct {
	ID       string    `json:"id"`
	Values   []float32 `json:"values"`
	Metadata Metadata  `json:"metadata"`
}

type UpsertRequest struct {
	Vectors   []Vector `json:"vectors"`
	Namespace string   `json:"namespace"`
}

type UpsertResponse struct {
	UpsertedCount int `json:"upsertedCount"`
}

// QueryRequest asks for the TopK nearest neighbours of Vector within Namespace.
// Filter is passed through verbatim to backends that understand it.
type QueryRequest struct {
	Vector          []float32      `json:"vector"`
	Namespace       string         `json:"namespace"`
	TopK            int            `json:"topK"`
	IncludeMetadata bool           `json:"includeMetadata"`
	IncludeValues   bool           `json:"includeValues"`
	Filter          map[string]any `json:"filter,omitempty"`
}

// NewQueryRequest builds the default query shape: metadata in, raw values out.
func NewQueryRequest(vector []float32, namespace string, topK int) QueryRequest {
	return QueryRequest{
		Vector:          vector,
		Namespace:       namespace,
		TopK:            topK,
		IncludeMetadata: true,
		IncludeValues:   false,
	}
}

// Match is one ranked hit. Score is a similarity in [0,1], higher is closer.
type Match struct {
	ID       string    `json:"id"`
	Score    float64   `json:"score"`
	Values   []float32 `json:"values,omitempty"`
	Metadata Metadata  `json:"metadata"`
}

type Usage struct {
	ReadUnits int `json:"readUnits"`
}

type QueryResponse struct {
	Matches   []Match `json:"matches"`
	Namespace string  `json:"namespace"`
	Usage     Usage   `json:"usage"`
}
