package embed

import "fmt"

// EmbeddingError reports that the embedding backend kept failing until the
// retry budget ran out. Err is the last failure.
type EmbeddingError struct {
	Attempts int
	Err      error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }
