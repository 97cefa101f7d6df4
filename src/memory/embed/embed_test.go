package embed

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockEmbedder struct {
	mock.Mock
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	vec, _ := args.Get(0).([]float32)
	return vec, args.Error(1)
}

func TestRetryingSucceedsOnThirdAttempt(t *testing.T) {
	m := &mockEmbedder{}
	boom := errors.New("rate limited")
	m.On("Embed", mock.Anything, "hello").Return(nil, boom).Twice()
	m.On("Embed", mock.Anything, "hello").Return([]float32{1, 2, 3}, nil).Once()

	logger, hook := test.NewNullLogger()
	r := NewRetrying(m, WithBackoffUnit(time.Millisecond), WithRetryLogger(logger))

	vec, err := r.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, vec)
	m.AssertNumberOfCalls(t, "Embed", 3)

	require.Len(t, hook.AllEntries(), 2)
	for i, e := range hook.AllEntries() {
		assert.Equal(t, logrus.WarnLevel, e.Level)
		assert.Equal(t, i+1, e.Data["attempt"])
	}
}

func TestRetryingExhausts(t *testing.T) {
	m := &mockEmbedder{}
	boom := errors.New("upstream down")
	m.On("Embed", mock.Anything, "x").Return(nil, boom)

	logger, hook := test.NewNullLogger()
	r := NewRetrying(m, WithBackoffUnit(time.Millisecond), WithRetryLogger(logger))

	_, err := r.Embed(context.Background(), "x")
	require.Error(t, err)

	var embErr *EmbeddingError
	require.ErrorAs(t, err, &embErr)
	assert.Equal(t, 3, embErr.Attempts)
	assert.ErrorIs(t, err, boom)
	m.AssertNumberOfCalls(t, "Embed", 3)

	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
	assert.Len(t, hook.AllEntries(), 3)
}

func TestRetryingBackoffIsLinear(t *testing.T) {
	var stamps []time.Time
	failing := embedFunc(func(context.Context, string) ([]float32, error) {
		stamps = append(stamps, time.Now())
		return nil, errors.New("nope")
	})
	logger, _ := test.NewNullLogger()
	unit := 20 * time.Millisecond
	r := NewRetrying(failing, WithBackoffUnit(unit), WithRetryLogger(logger))
	_, _ = r.Embed(context.Background(), "x")

	require.Len(t, stamps, 3)
	assert.GreaterOrEqual(t, stamps[1].Sub(stamps[0]), unit)
	assert.GreaterOrEqual(t, stamps[2].Sub(stamps[1]), 2*unit)
}

func TestRetryingStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	failing := embedFunc(func(context.Context, string) ([]float32, error) {
		calls++
		cancel()
		return nil, errors.New("transient")
	})
	logger, _ := test.NewNullLogger()
	r := NewRetrying(failing, WithBackoffUnit(time.Hour), WithRetryLogger(logger))

	_, err := r.Embed(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
	var embErr *EmbeddingError
	assert.False(t, errors.As(err, &embErr))
	assert.Equal(t, 1, calls)
}

func TestRetryingCancelDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	failing := embedFunc(func(context.Context, string) ([]float32, error) {
		return nil, errors.New("transient")
	})
	logger, _ := test.NewNullLogger()
	r := NewRetrying(failing, WithBackoffUnit(time.Hour), WithRetryLogger(logger))

	start := time.Now()
	_, err := r.Embed(ctx, "x")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

type embedFunc func(context.Context, string) ([]float32, error)

func (f embedFunc) Embed(ctx context.Context, text string) ([]float32, error) { return f(ctx, text) }

type closingEmbedder struct {
	DummyEmbedder
	closed atomic.Int32
}

func (c *closingEmbedder) Close() error {
	c.closed.Add(1)
	return nil
}

func TestHandleBuildsOnce(t *testing.T) {
	var builds atomic.Int32
	inner := &closingEmbedder{}
	h := NewHandle(func(context.Context) (Embedder, error) {
		builds.Add(1)
		time.Sleep(5 * time.Millisecond)
		return inner, nil
	})

	var wg sync.WaitGroup
	got := make([]Embedder, 16)
	for i := range got {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e, err := h.Get(context.Background())
			assert.NoError(t, err)
			got[i] = e
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), builds.Load())
	for _, e := range got {
		assert.Same(t, inner, e)
	}

	require.NoError(t, h.Close())
	require.NoError(t, h.Close())
	assert.Equal(t, int32(1), inner.closed.Load())

	_, err := h.Embed(context.Background(), "x")
	assert.ErrorIs(t, err, ErrHandleClosed)
}

func TestHandleCloseNeverOpened(t *testing.T) {
	built := false
	h := NewHandle(func(context.Context) (Embedder, error) {
		built = true
		return DummyEmbedder{}, nil
	})
	require.NoError(t, h.Close())
	require.NoError(t, h.Close())
	_, err := h.Get(context.Background())
	assert.ErrorIs(t, err, ErrHandleClosed)
	assert.False(t, built)
}

func TestHandleRetriesFailedConstruction(t *testing.T) {
	var builds atomic.Int32
	h := NewHandle(func(context.Context) (Embedder, error) {
		if builds.Add(1) == 1 {
			return nil, errors.New("model download interrupted")
		}
		return DummyEmbedder{}, nil
	})

	_, err := h.Embed(context.Background(), "a")
	var embErr *EmbeddingError
	require.ErrorAs(t, err, &embErr)
	assert.Contains(t, err.Error(), "model download interrupted")

	vec, err := h.Embed(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, DummyEmbedding("a"), vec)

	_, err = h.Embed(context.Background(), "b")
	require.NoError(t, err)
	assert.Equal(t, int32(2), builds.Load())
}

func TestHandleMissingKeyIsEmbeddingError(t *testing.T) {
	h := NewHandle(func(context.Context) (Embedder, error) {
		return nil, ErrMissingKey
	})
	_, err := h.Embed(context.Background(), "a")
	assert.ErrorIs(t, err, ErrMissingKey)
	var embErr *EmbeddingError
	assert.ErrorAs(t, err, &embErr)
}

func TestCachedEmbedder(t *testing.T) {
	m := &mockEmbedder{}
	m.On("Embed", mock.Anything, "same").Return([]float32{0.5, 0.5}, nil).Once()
	c := NewCached(m, "model", 8, 0)

	for i := 0; i < 3; i++ {
		v, err := c.Embed(context.Background(), "same")
		require.NoError(t, err)
		assert.Equal(t, []float32{0.5, 0.5}, v)
		v[0] = 99 // callers mutating the result must not corrupt the cache
	}
	m.AssertNumberOfCalls(t, "Embed", 1)
	hits, misses := c.Stats()
	assert.Equal(t, uint64(2), hits)
	assert.Equal(t, uint64(1), misses)
}

func TestCachedDoesNotStoreErrors(t *testing.T) {
	m := &mockEmbedder{}
	m.On("Embed", mock.Anything, "x").Return(nil, errors.New("fail")).Once()
	m.On("Embed", mock.Anything, "x").Return([]float32{1}, nil).Once()
	c := NewCached(m, "model", 8, 0)

	_, err := c.Embed(context.Background(), "x")
	require.Error(t, err)
	v, err := c.Embed(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, []float32{1}, v)
}

func TestMistralEmbedderRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer m-key", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		var req map[string]any
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "mistral-embed", req["model"])
		assert.Equal(t, []any{"the sky is blue"}, req["input"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","model":"mistral-embed","data":[{"object":"embedding","index":0,"embedding":[0.1,0.2,0.3]}]}`))
	}))
	defer srv.Close()

	e, err := NewMistralEmbedder("m-key", "", srv.URL, srv.Client())
	require.NoError(t, err)
	vec, err := e.Embed(context.Background(), "the sky is blue")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
}

func TestMistralEmbedderHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"message":"rate limited"}`))
	}))
	defer srv.Close()

	e, err := NewMistralEmbedder("m-key", "", srv.URL, srv.Client())
	require.NoError(t, err)
	_, err = e.Embed(context.Background(), "x")
	assert.Error(t, err)
}

func TestVoyageEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer v-key", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"data":[{"embedding":[1.5,2.5],"index":0}]}`))
	}))
	defer srv.Close()

	e, err := NewVoyageEmbedder("v-key", "", srv.URL, srv.Client())
	require.NoError(t, err)
	vec, err := e.Embed(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, []float32{1.5, 2.5}, vec)

	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer empty.Close()
	e, _ = NewVoyageEmbedder("v-key", "", empty.URL, empty.Client())
	_, err = e.Embed(context.Background(), "x")
	assert.ErrorIs(t, err, ErrNotSupported)
}

func TestNewSelectsProvider(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantT   any
		wantErr error
	}{
		{name: "default is mistral", cfg: Config{APIKey: "k"}, wantT: &OpenAIEmbedder{}},
		{name: "openai", cfg: Config{Provider: "openai", APIKey: "k"}, wantT: &OpenAIEmbedder{}},
		{name: "voyage", cfg: Config{Provider: "claude", APIKey: "k"}, wantT: &VoyageEmbedder{}},
		{name: "ollama", cfg: Config{Provider: "ollama"}, wantT: &OllamaEmbedder{}},
		{name: "dummy", cfg: Config{Provider: "dummy"}, wantT: DummyEmbedder{}},
		{name: "missing key", cfg: Config{Provider: "mistral"}, wantErr: ErrMissingKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := New(context.Background(), tt.cfg)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, e)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.wantT, e)
		})
	}

	_, err := New(context.Background(), Config{Provider: "nope"})
	assert.ErrorContains(t, err, "unknown embedding provider")
}

func TestDummyEmbedding(t *testing.T) {
	a := DummyEmbedding("The sky is blue")
	b := DummyEmbedding("the sky is blue")
	require.Len(t, a, DummyDimensions)
	assert.Equal(t, a, b)

	var norm float64
	for _, v := range a {
		norm += float64(v * v)
	}
	assert.InDelta(t, 1.0, norm, 1e-4)

	empty := DummyEmbedding("   ")
	assert.Equal(t, float32(1), empty[0])
}
