package store

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind classifies a BackendError.
type Kind int

const (
	// KindHTTP means the backend answered with a non-2xx status.
	KindHTTP Kind = iota + 1
	// KindTransport means the request never completed (dial, TLS, reset, timeout).
	KindTransport
	// KindUnexpected covers everything else, including undecodable responses.
	KindUnexpected
)

func (k Kind) String() string {
	switch k {
	case KindHTTP:
		return "http"
	case KindTransport:
		return "transport"
	case KindUnexpected:
		return "unexpected"
	}
	return "unknown"
}

// BackendError is returned by every VectorStore for failures other than
// cancellation. StatusCode and Body are set for KindHTTP only.
type BackendError struct {
	Op         string
	Kind       Kind
	StatusCode int
	Body       string
	Err        error
}

func (e *BackendError) Error() string {
	switch e.Kind {
	case KindHTTP:
		return fmt.Sprintf("vector store %s: http %d: %s", e.Op, e.StatusCode, e.Body)
	case KindTransport:
		return fmt.Sprintf("vector store %s: transport error: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("vector store %s: %v", e.Op, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// IsKind reports whether err is a BackendError of kind k.
func IsKind(err error, k Kind) bool {
	var be *BackendError
	return errors.As(err, &be) && be.Kind == k
}

func httpError(op string, status int, body string) *BackendError {
	return &BackendError{Op: op, Kind: KindHTTP, StatusCode: status, Body: body}
}

func unexpected(op string, err error) *BackendError {
	return &BackendError{Op: op, Kind: KindUnexpected, Err: err}
}

// classify turns a driver error into a BackendError. Cancellation of ctx is
// passed through as ctx.Err() so callers can tell it apart from failures.
func classify(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var be *BackendError
	if errors.As(err, &be) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return &BackendError{Op: op, Kind: KindTransport, Err: err}
	}
	return unexpected(op, err)
}
