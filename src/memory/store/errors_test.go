package store

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	ctx := context.Background()

	assert.NoError(t, classify(ctx, "query", nil))

	be := httpError("query", 500, "boom")
	assert.Same(t, be, classify(ctx, "query", be))

	opErr := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	assert.True(t, IsKind(classify(ctx, "query", opErr), KindTransport))
	assert.True(t, IsKind(classify(ctx, "query", context.DeadlineExceeded), KindTransport))

	err := classify(ctx, "upsert", errors.New("syntax error at or near"))
	assert.True(t, IsKind(err, KindUnexpected))
	assert.Contains(t, err.Error(), "vector store upsert")
}

func TestClassifyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := classify(ctx, "query", errors.New("driver noise"))
	assert.Same(t, context.Canceled, err)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "http", KindHTTP.String())
	assert.Equal(t, "transport", KindTransport.String())
	assert.Equal(t, "unexpected", KindUnexpected.String())
	assert.Equal(t, "unknown", Kind(0).String())
}
