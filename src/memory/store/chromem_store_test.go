package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bahamondeX/fact/src/memory/model"
)

func TestChromemStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewChromemStore("", false)
	require.NoError(t, err)
	defer s.Close()

	resp, err := s.Upsert(ctx, model.UpsertRequest{Namespace: "ns1", Vectors: []model.Vector{
		vec("a", "north", 1, 0),
		vec("b", "east", 0, 1),
	}})
	require.NoError(t, err)
	assert.Equal(t, 2, resp.UpsertedCount)

	// more results than documents must not fail
	q, err := s.Query(ctx, model.NewQueryRequest([]float32{1, 0}, "ns1", 10))
	require.NoError(t, err)
	require.Len(t, q.Matches, 2)
	assert.Equal(t, "a", q.Matches[0].ID)
	assert.InDelta(t, 1.0, q.Matches[0].Score, 1e-5)
	assert.Equal(t, model.Content("north"), q.Matches[0].Metadata.Content)
	assert.Equal(t, "ns1", q.Matches[0].Metadata.Namespace)
}

func TestChromemStoreEmptyNamespace(t *testing.T) {
	s, err := NewChromemStore("", false)
	require.NoError(t, err)

	q, err := s.Query(context.Background(), model.NewQueryRequest([]float32{1, 0}, "nothing-here", 3))
	require.NoError(t, err)
	assert.Empty(t, q.Matches)
}

func TestChromemStorePersistent(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := NewChromemStore(dir, true)
	require.NoError(t, err)
	_, err = s.Upsert(ctx, model.UpsertRequest{Namespace: "ns", Vectors: []model.Vector{vec("a", "kept", 0, 1)}})
	require.NoError(t, err)

	reopened, err := NewChromemStore(dir, true)
	require.NoError(t, err)
	q, err := reopened.Query(ctx, model.NewQueryRequest([]float32{0, 1}, "ns", 1))
	require.NoError(t, err)
	require.Len(t, q.Matches, 1)
	assert.Equal(t, model.Content("kept"), q.Matches[0].Metadata.Content)
}

func TestChromemStoreRejectsMixedDimensions(t *testing.T) {
	s, err := NewChromemStore("", false)
	require.NoError(t, err)
	_, err = s.Upsert(context.Background(), model.UpsertRequest{Namespace: "ns", Vectors: []model.Vector{
		vec("a", "x", 1, 0),
		vec("b", "y", 1),
	}})
	assert.ErrorIs(t, err, model.ErrDimensionMismatch)
}

func TestChromemStorePinsDimensionAcrossRequests(t *testing.T) {
	ctx := context.Background()
	s, err := NewChromemStore("", false)
	require.NoError(t, err)

	_, err = s.Upsert(ctx, model.UpsertRequest{Namespace: "ns", Vectors: []model.Vector{vec("a", "flat", 1, 0)}})
	require.NoError(t, err)

	_, err = s.Upsert(ctx, model.UpsertRequest{Namespace: "ns", Vectors: []model.Vector{vec("b", "deep", 0, 1, 0)}})
	require.ErrorIs(t, err, model.ErrDimensionMismatch)
	assert.True(t, IsKind(err, KindUnexpected))

	// other namespaces pick their own dimension
	_, err = s.Upsert(ctx, model.UpsertRequest{Namespace: "other", Vectors: []model.Vector{vec("c", "deep", 0, 1, 0)}})
	require.NoError(t, err)

	q, err := s.Query(ctx, model.NewQueryRequest([]float32{1, 0}, "ns", 5))
	require.NoError(t, err)
	require.Len(t, q.Matches, 1)
	assert.Equal(t, "a", q.Matches[0].ID)
}

func TestChromemStorePinsDimensionAfterReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := NewChromemStore(dir, false)
	require.NoError(t, err)
	_, err = s.Upsert(ctx, model.UpsertRequest{Namespace: "ns", Vectors: []model.Vector{vec("a", "flat", 1, 0)}})
	require.NoError(t, err)

	reopened, err := NewChromemStore(dir, false)
	require.NoError(t, err)
	_, err = reopened.Upsert(ctx, model.UpsertRequest{Namespace: "ns", Vectors: []model.Vector{vec("b", "deep", 0, 1, 0)}})
	require.ErrorIs(t, err, model.ErrDimensionMismatch)

	_, err = reopened.Upsert(ctx, model.UpsertRequest{Namespace: "ns", Vectors: []model.Vector{vec("c", "also flat", 0, 1)}})
	require.NoError(t, err)

	q, err := reopened.Query(ctx, model.NewQueryRequest([]float32{0, 1}, "ns", 5))
	require.NoError(t, err)
	require.Len(t, q.Matches, 2)
	assert.Equal(t, "c", q.Matches[0].ID)
}
