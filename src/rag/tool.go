package rag

import (
	"context"
	"iter"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/bahamondeX/fact/src/memory/embed"
	"github.com/bahamondeX/fact/src/memory/model"
	"github.com/bahamondeX/fact/src/memory/store"
)

const instrumentationName = "github.com/bahamondeX/fact/src/rag"

// Tool runs memory operations against one embedder and one vector store.
// Both are shared by every operation and must be safe for concurrent use.
// Tool does not own them; closing is left to whoever built them.
type Tool struct {
	embedder embed.Embedder
	store    store.VectorStore
	log      logrus.FieldLogger
	tracer   trace.Tracer
	newID    func() string

	operations otelmetric.Int64Counter
	latency    otelmetric.Float64Histogram
}

type Option func(*Tool)

func WithLogger(l logrus.FieldLogger) Option {
	return func(t *Tool) {
		if l != nil {
			t.log = l
		}
	}
}

func WithTracer(tr trace.Tracer) Option {
	return func(t *Tool) {
		if tr != nil {
			t.tracer = tr
		}
	}
}

// WithIDGenerator replaces the UUID generator used for stored records.
func WithIDGenerator(fn func() string) Option {
	return func(t *Tool) {
		if fn != nil {
			t.newID = fn
		}
	}
}

func New(e embed.Embedder, s store.VectorStore, opts ...Option) *Tool {
	t := &Tool{
		embedder: e,
		store:    s,
		log:      logrus.StandardLogger(),
		tracer:   otel.Tracer(instrumentationName),
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(t)
	}

	meter := otel.Meter(instrumentationName)
	var err error
	if t.operations, err = meter.Int64Counter("rag_operations_total"); err != nil {
		t.log.WithError(err).Warn("otel counter rag_operations_total")
	}
	if t.latency, err = meter.Float64Histogram("rag_operation_latency_ms", otelmetric.WithUnit("ms")); err != nil {
		t.log.WithError(err).Warn("otel histogram rag_operation_latency_ms")
	}
	return t
}

// Run validates op and executes it. The returned sequence is lazy: nothing
// happens until it is ranged over, and it can only be consumed once per call.
//
// Every failure, including validation, is logged and yields exactly one
// ChunkError. Cancellation of ctx is the exception: any failure observed
// once ctx is done yields a zero Chunk with ctx.Err() and nothing else.
func (t *Tool) Run(ctx context.Context, op Operation) iter.Seq2[Chunk, error] {
	return func(yield func(Chunk, error) bool) {
		start := time.Now()
		label := op.label()

		req, err := op.Validate()
		if err != nil {
			t.log.WithFields(logrus.Fields{
				"action":    label,
				"namespace": op.Namespace,
			}).WithError(err).Error("memory operation rejected")
			t.record(ctx, label, "invalid", start)
			yield(ErrorChunk(label, err), nil)
			return
		}

		ctx, span := t.tracer.Start(ctx, "rag."+string(req.Action), trace.WithAttributes(
			attribute.String("rag.action", string(req.Action)),
			attribute.String("rag.namespace", req.Namespace),
		))
		defer span.End()

		chunks, err := t.execute(ctx, req)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			if ctx.Err() != nil {
				t.record(ctx, label, "cancelled", start)
				yield(Chunk{}, ctx.Err())
				return
			}
			t.log.WithFields(logrus.Fields{
				"action":    label,
				"namespace": req.Namespace,
			}).WithError(err).Error("memory operation failed")
			t.record(ctx, label, "error", start)
			yield(ErrorChunk(label, err), nil)
			return
		}

		t.record(ctx, label, "ok", start)
		for _, c := range chunks {
			if !yield(c, nil) {
				return
			}
		}
	}
}

// Execute runs an already validated request and returns its chunks, or
// the raw failure. Unlike Run it does not convert errors into chunks.
func (t *Tool) Execute(ctx context.Context, req Request) ([]Chunk, error) {
	return t.execute(ctx, req)
}

func (t *Tool) execute(ctx context.Context, req Request) ([]Chunk, error) {
	vec, err := t.embedder.Embed(ctx, req.Content)
	if err != nil {
		return nil, err
	}
	switch req.Action {
	case ActionStore:
		rec := model.MemoryRecord{
			ID:        t.newID(),
			Namespace: req.Namespace,
			Content:   req.Content,
			Embedding: vec,
		}
		resp, err := t.store.Upsert(ctx, model.UpsertRequest{
			Vectors:   []model.Vector{rec.Vector()},
			Namespace: req.Namespace,
		})
		if err != nil {
			return nil, err
		}
		return StoredChunks(resp, req.Namespace), nil

	case ActionRetrieve:
		resp, err := t.store.Query(ctx, model.NewQueryRequest(vec, req.Namespace, req.TopK))
		if err != nil {
			return nil, err
		}
		return OutcomeChunks(model.FilterByThreshold(req.Namespace, resp.Matches, req.Threshold)), nil
	}
	return nil, &ValidationError{Field: "action", Reason: "unknown action " + string(req.Action)}
}

func (t *Tool) record(ctx context.Context, action, outcome string, start time.Time) {
	attrs := otelmetric.WithAttributes(
		attribute.String("action", action),
		attribute.String("outcome", outcome),
	)
	ctx = context.WithoutCancel(ctx)
	if t.operations != nil {
		t.operations.Add(ctx, 1, attrs)
	}
	if t.latency != nil {
		t.latency.Record(ctx, float64(time.Since(start).Milliseconds()), attrs)
	}
}

// Collect drains seq and concatenates the chunk texts. It stops at the
// first error, returning what was collected so far.
func Collect(seq iter.Seq2[Chunk, error]) (string, error) {
	var b strings.Builder
	for c, err := range seq {
		if err != nil {
			return b.String(), err
		}
		b.WriteString(c.Text)
	}
	return b.String(), nil
}

// Chunks drains seq into a slice.
func Chunks(seq iter.Seq2[Chunk, error]) ([]Chunk, error) {
	var out []Chunk
	for c, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, c)
	}
	return out, nil
}
