package store

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bahamondeX/fact/src/memory/model"
)

type runCall struct {
	query  string
	params map[string]any
}

type fakeDriver struct {
	writeSession *fakeSession
	readSession  *fakeSession
	configs      []Neo4jSessionConfig
	closeCalls   int
	closeErr     error
}

func (d *fakeDriver) NewSession(_ context.Context, config Neo4jSessionConfig) (neo4jSession, error) {
	d.configs = append(d.configs, config)
	switch config.AccessMode {
	case AccessModeWrite:
		if d.writeSession == nil {
			d.writeSession = &fakeSession{}
		}
		return d.writeSession, nil
	case AccessModeRead:
		if d.readSession == nil {
			d.readSession = &fakeSession{}
		}
		return d.readSession, nil
	default:
		return nil, errors.New("unknown access mode")
	}
}

func (d *fakeDriver) Close(context.Context) error {
	d.closeCalls++
	return d.closeErr
}

type fakeSession struct {
	tx       *fakeTx
	runCalls []runCall
	runErr   error
	result   neo4jResult
	results  []*fakeResult
	closed   bool
}

func (s *fakeSession) BeginTransaction(context.Context) (neo4jTransaction, error) {
	if s.tx == nil {
		s.tx = &fakeTx{}
	}
	return s.tx, nil
}

func (s *fakeSession) Run(_ context.Context, query string, params map[string]any) (neo4jResult, error) {
	s.runCalls = append(s.runCalls, runCall{query: query, params: params})
	if s.runErr != nil {
		return nil, s.runErr
	}
	if len(s.results) > 0 {
		next := s.results[0]
		s.results = s.results[1:]
		return next, nil
	}
	if s.result != nil {
		return s.result, nil
	}
	return &fakeResult{}, nil
}

func (s *fakeSession) Close(context.Context) error {
	s.closed = true
	return nil
}

type fakeTx struct {
	runs       []runCall
	runErr     error
	result     *fakeResult
	commitErr  error
	committed  bool
	rolledBack bool
	closed     bool
}

func (tx *fakeTx) Run(_ context.Context, query string, params map[string]any) (neo4jResult, error) {
	tx.runs = append(tx.runs, runCall{query: query, params: params})
	if tx.runErr != nil {
		return nil, tx.runErr
	}
	if tx.result != nil {
		return tx.result, nil
	}
	return &fakeResult{}, nil
}

func (tx *fakeTx) Commit(context.Context) error {
	if tx.commitErr != nil {
		return tx.commitErr
	}
	tx.committed = true
	return nil
}

func (tx *fakeTx) Rollback(context.Context) error {
	tx.rolledBack = true
	return nil
}

func (tx *fakeTx) Close(context.Context) error {
	tx.closed = true
	return nil
}

type fakeResult struct {
	records []map[string]any
	idx     int
	err     error
	closed  bool
}

func (r *fakeResult) Next(context.Context) bool {
	if r.idx >= len(r.records) {
		return false
	}
	r.idx++
	return true
}

func (r *fakeResult) Record() neo4jRecord {
	if r.idx == 0 || r.idx > len(r.records) {
		return fakeRecord(nil)
	}
	return fakeRecord(r.records[r.idx-1])
}

func (r *fakeResult) Err() error { return r.err }

func (r *fakeResult) Close(context.Context) error {
	r.closed = true
	return nil
}

type fakeRecord map[string]any

func (r fakeRecord) Get(key string) (any, bool) {
	v, ok := r[key]
	return v, ok
}

func TestNeo4jStoreRequiresDriver(t *testing.T) {
	_, err := NewNeo4jStore(nil, "", "", 3)
	assert.Error(t, err)
}

func TestNeo4jStoreUpsert(t *testing.T) {
	driver := &fakeDriver{writeSession: &fakeSession{tx: &fakeTx{
		result: &fakeResult{records: []map[string]any{{"written": int64(2)}}},
	}}}
	s, err := NewNeo4jStore(driver, "neo4j", "", 2)
	require.NoError(t, err)

	resp, err := s.Upsert(context.Background(), model.UpsertRequest{Namespace: "ns", Vectors: []model.Vector{
		vec("a", "alpha", 1, 0),
		vec("b", "beta", 0, 1),
	}})
	require.NoError(t, err)
	assert.Equal(t, 2, resp.UpsertedCount)

	tx := driver.writeSession.tx
	require.Len(t, tx.runs, 1)
	assert.Contains(t, tx.runs[0].query, "MERGE (m:Memory {id: row.id})")
	rows := tx.runs[0].params["rows"].([]map[string]any)
	require.Len(t, rows, 2)
	assert.Equal(t, "ns", rows[0]["namespace"])
	assert.Equal(t, "alpha", rows[0]["content"])
	assert.Equal(t, []float64{1, 0}, rows[0]["embedding"])
	assert.True(t, tx.committed)
	assert.True(t, tx.closed)
	assert.True(t, driver.writeSession.closed)
	assert.Equal(t, "neo4j", driver.configs[0].DatabaseName)
}

func TestNeo4jStoreUpsertRollsBack(t *testing.T) {
	driver := &fakeDriver{writeSession: &fakeSession{tx: &fakeTx{runErr: errors.New("constraint violated")}}}
	s, err := NewNeo4jStore(driver, "", "", 1)
	require.NoError(t, err)

	_, err = s.Upsert(context.Background(), model.UpsertRequest{Namespace: "ns", Vectors: []model.Vector{vec("a", "x", 1)}})
	assert.True(t, IsKind(err, KindUnexpected))
	assert.True(t, driver.writeSession.tx.rolledBack)
	assert.False(t, driver.writeSession.tx.committed)
}

func TestNeo4jStoreQuery(t *testing.T) {
	result := &fakeResult{records: []map[string]any{
		{"id": "a", "content": "alpha", "namespace": "ns", "score": 0.92, "embedding": []any{1.0, 0.0}},
		{"id": "b", "content": "beta", "namespace": "ns", "score": 0.51},
	}}
	driver := &fakeDriver{readSession: &fakeSession{result: result}}
	s, err := NewNeo4jStore(driver, "", "mem_idx", 2)
	require.NoError(t, err)

	req := model.NewQueryRequest([]float32{1, 0}, "ns", 2)
	req.IncludeValues = true
	resp, err := s.Query(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, resp.Matches, 2)
	assert.Equal(t, "a", resp.Matches[0].ID)
	// (1+cos)/2 = 0.92 -> cos 0.84
	assert.InDelta(t, 0.84, resp.Matches[0].Score, 1e-9)
	assert.InDelta(t, 0.02, resp.Matches[1].Score, 1e-9)
	assert.Equal(t, model.Content("alpha"), resp.Matches[0].Metadata.Content)
	assert.Equal(t, []float32{1, 0}, resp.Matches[0].Values)
	assert.True(t, result.closed)

	require.Len(t, driver.readSession.runCalls, 1)
	call := driver.readSession.runCalls[0]
	assert.Equal(t, neo4jQueryCypher, call.query)
	assert.Equal(t, "mem_idx", call.params["index"])
	assert.Equal(t, int64(20), call.params["candidates"])
	assert.Equal(t, int64(2), call.params["topK"])
	assert.Equal(t, "ns", call.params["namespace"])
	assert.Equal(t, AccessModeRead, driver.configs[0].AccessMode)
}

func TestNeo4jStoreQueryScansCrowdedNamespace(t *testing.T) {
	// the index candidates all belonged to other namespaces
	crowded := &fakeResult{}
	scan := &fakeResult{records: []map[string]any{
		{"id": "s1", "content": "small one", "namespace": "small", "score": 0.95},
		{"id": "s2", "content": "small two", "namespace": "small", "score": 0.9},
	}}
	driver := &fakeDriver{readSession: &fakeSession{results: []*fakeResult{crowded, scan}}}
	s, err := NewNeo4jStore(driver, "", "mem_idx", 2)
	require.NoError(t, err)

	resp, err := s.Query(context.Background(), model.NewQueryRequest([]float32{1, 0}, "small", 3))
	require.NoError(t, err)
	require.Len(t, resp.Matches, 2)
	assert.Equal(t, "s1", resp.Matches[0].ID)
	assert.InDelta(t, 0.9, resp.Matches[0].Score, 1e-9)
	assert.Equal(t, "small", resp.Matches[1].Metadata.Namespace)
	assert.True(t, crowded.closed)
	assert.True(t, scan.closed)

	calls := driver.readSession.runCalls
	require.Len(t, calls, 2)
	assert.Equal(t, int64(30), calls[0].params["candidates"])
	assert.Equal(t, neo4jScanCypher, calls[1].query)
	assert.Contains(t, calls[1].query, "MATCH (m:Memory {namespace: $namespace})")
	assert.Equal(t, "small", calls[1].params["namespace"])
	assert.Equal(t, int64(3), calls[1].params["topK"])
	assert.NotContains(t, calls[1].params, "candidates")
}

func TestNeo4jStoreQueryScanError(t *testing.T) {
	driver := &fakeDriver{readSession: &fakeSession{results: []*fakeResult{
		{},
		{err: errors.New("scan failed")},
	}}}
	s, err := NewNeo4jStore(driver, "", "", 2)
	require.NoError(t, err)

	_, err = s.Query(context.Background(), model.NewQueryRequest([]float32{1, 0}, "ns", 1))
	assert.True(t, IsKind(err, KindUnexpected))
	assert.Contains(t, err.Error(), "scan failed")
}

func TestNeo4jStoreQueryResultError(t *testing.T) {
	driver := &fakeDriver{readSession: &fakeSession{result: &fakeResult{err: errors.New("index missing")}}}
	s, err := NewNeo4jStore(driver, "", "", 2)
	require.NoError(t, err)

	_, err = s.Query(context.Background(), model.NewQueryRequest([]float32{1, 0}, "ns", 3))
	assert.True(t, IsKind(err, KindUnexpected))
	assert.Contains(t, err.Error(), "index missing")
}

func TestNeo4jStoreCreateSchema(t *testing.T) {
	driver := &fakeDriver{}
	s, err := NewNeo4jStore(driver, "", "my`idx", 768)
	require.NoError(t, err)

	require.NoError(t, s.CreateSchema(context.Background()))
	calls := driver.writeSession.runCalls
	require.Len(t, calls, 3)
	assert.True(t, strings.HasPrefix(calls[2].query, "CREATE VECTOR INDEX `my``idx` IF NOT EXISTS"))
	assert.Contains(t, calls[2].query, "`vector.dimensions`: 768")
}

func TestNeo4jStoreCloseOnce(t *testing.T) {
	driver := &fakeDriver{closeErr: errors.New("already gone")}
	s, err := NewNeo4jStore(driver, "", "", 2)
	require.NoError(t, err)

	assert.EqualError(t, s.Close(), "already gone")
	assert.EqualError(t, s.Close(), "already gone")
	assert.Equal(t, 1, driver.closeCalls)
}
