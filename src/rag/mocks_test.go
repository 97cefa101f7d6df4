package rag

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/bahamondeX/fact/src/memory/model"
)

type mockEmbedder struct {
	mock.Mock
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	vec, _ := args.Get(0).([]float32)
	return vec, args.Error(1)
}

type mockStore struct {
	mock.Mock
}

func (m *mockStore) Upsert(ctx context.Context, req model.UpsertRequest) (model.UpsertResponse, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(model.UpsertResponse)
	return resp, args.Error(1)
}

func (m *mockStore) Query(ctx context.Context, req model.QueryRequest) (model.QueryResponse, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(model.QueryResponse)
	return resp, args.Error(1)
}

func (m *mockStore) Close() error {
	return m.Called().Error(0)
}
