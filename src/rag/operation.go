package rag

import (
	"fmt"
	"math"
	"strings"
)

// Action selects what an Operation does with its content.
type Action string

const (
	ActionStore    Action = "store"
	ActionRetrieve Action = "retrieve"
)

const (
	DefaultThreshold = 0.75
	MinTopK          = 1
	MaxTopK          = 20
)

// ParseAction accepts the canonical names and the upsert/query aliases.
// An empty action means store.
func ParseAction(s string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "store", "upsert":
		return ActionStore, nil
	case "retrieve", "query":
		return ActionRetrieve, nil
	}
	return "", &ValidationError{Field: "action", Reason: fmt.Sprintf("invalid action %q, choose 'store' or 'retrieve'", s)}
}

// Operation is the request an agent sends to the memory tool. Optional
// fields are pointers so that absence can be told apart from zero.
type Operation struct {
	Content             string   `json:"content" jsonschema:"description=Text to be embedded and stored or retrieved during RAG."`
	Namespace           string   `json:"namespace" jsonschema:"description=Namespace identifier for content organization."`
	TopK                *int     `json:"topK,omitempty" jsonschema:"description=Number of top results to retrieve when querying (1-20).,minimum=1,maximum=20"`
	Action              string   `json:"action,omitempty" jsonschema:"description=Action to perform: 'retrieve' to search or 'store' to save.,enum=store,enum=retrieve,enum=upsert,enum=query,default=store"`
	SimilarityThreshold *float64 `json:"similarity_threshold,omitempty" jsonschema:"description=Minimum similarity score for query results (0.0-1.0). Defaults to 0.75.,minimum=0,maximum=1"`
}

// Request is a validated Operation.
type Request struct {
	Action    Action
	Content   string
	Namespace string
	TopK      int
	Threshold float64
}

// ValidationError reports a malformed Operation. It is raised before any
// network call is made.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Validate checks op and returns the normalized request. Every check is
// independent of field order: topK is only constrained once the action is
// known to be retrieve.
func (op Operation) Validate() (Request, error) {
	action, err := ParseAction(op.Action)
	if err != nil {
		return Request{}, err
	}
	req := Request{
		Action:    action,
		Content:   strings.TrimSpace(op.Content),
		Namespace: strings.TrimSpace(op.Namespace),
		Threshold: DefaultThreshold,
	}
	if req.Content == "" {
		return Request{}, &ValidationError{Field: "content", Reason: "content cannot be empty"}
	}
	if req.Namespace == "" {
		return Request{}, &ValidationError{Field: "namespace", Reason: "namespace is required"}
	}
	if op.SimilarityThreshold != nil {
		t := *op.SimilarityThreshold
		if math.IsNaN(t) || t < 0 || t > 1 {
			return Request{}, &ValidationError{Field: "similarity_threshold", Reason: fmt.Sprintf("%v is outside [0.0, 1.0]", t)}
		}
		req.Threshold = t
	}
	if action == ActionRetrieve {
		if op.TopK == nil || *op.TopK < MinTopK || *op.TopK > MaxTopK {
			return Request{}, &ValidationError{Field: "topK", Reason: fmt.Sprintf("topK must be between %d and %d for retrieve actions", MinTopK, MaxTopK)}
		}
		req.TopK = *op.TopK
	}
	return req, nil
}

// label names the action in failure messages, echoing what the caller sent.
func (op Operation) label() string {
	if a := strings.TrimSpace(op.Action); a != "" {
		return a
	}
	return string(ActionStore)
}

// Store builds a store Operation.
func Store(content, namespace string) Operation {
	return Operation{Content: content, Namespace: namespace, Action: string(ActionStore)}
}

// Retrieve builds a retrieve Operation with an explicit threshold.
func Retrieve(content, namespace string, topK int, threshold float64) Operation {
	return Operation{
		Content:             content,
		Namespace:           namespace,
		Action:              string(ActionRetrieve),
		TopK:                &topK,
		SimilarityThreshold: &threshold,
	}
}
