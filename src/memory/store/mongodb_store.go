package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/bahamondeX/fact/src/memory/model"
)

// MongoStore uses an Atlas vector search index. Namespaces are a filter
// field declared on that index.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
	index      string
	dimensions int
	closeOnce  sync.Once
	closeErr   error
}

var (
	_ VectorStore       = (*MongoStore)(nil)
	_ SchemaInitializer = (*MongoStore)(nil)
)

const mongoCloseTimeout = 5 * time.Second

type mongoMemoryDocument struct {
	ID        string    `bson:"_id"`
	Namespace string    `bson:"namespace"`
	Content   string    `bson:"content"`
	Embedding []float64 `bson:"embedding,omitempty"`
	Score     float64   `bson:"score,omitempty"`
}

func NewMongoStore(ctx context.Context, uri, database, collection, index string, dimensions int) (*MongoStore, error) {
	if uri == "" {
		return nil, errors.New("mongo uri is required")
	}
	if database == "" {
		return nil, errors.New("mongo database name is required")
	}
	if collection == "" {
		return nil, errors.New("mongo collection name is required")
	}
	if index == "" {
		index = "vector_index"
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return &MongoStore{
		client:     client,
		collection: client.Database(database).Collection(collection),
		index:      index,
		dimensions: dimensions,
	}, nil
}

// CreateSchema creates a namespace index and the Atlas vector search index.
func (ms *MongoStore) CreateSchema(ctx context.Context) error {
	if _, err := ms.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "namespace", Value: 1}},
		Options: options.Index().SetName("namespace"),
	}); err != nil {
		return classify(ctx, "create_schema", err)
	}
	if ms.dimensions <= 0 {
		return errors.New("mongo dimensions must be positive")
	}
	err := ms.collection.Database().RunCommand(ctx, vectorIndexCommand(ms.collection.Name(), ms.index, ms.dimensions)).Err()
	if err != nil && !isIndexExists(err) {
		return classify(ctx, "create_schema", err)
	}
	return nil
}

func vectorIndexCommand(collection, index string, dimensions int) bson.D {
	return bson.D{
		{Key: "createSearchIndexes", Value: collection},
		{Key: "indexes", Value: bson.A{bson.D{
			{Key: "name", Value: index},
			{Key: "type", Value: "vectorSearch"},
			{Key: "definition", Value: bson.D{{Key: "fields", Value: bson.A{
				bson.D{
					{Key: "type", Value: "vector"},
					{Key: "path", Value: "embedding"},
					{Key: "numDimensions", Value: dimensions},
					{Key: "similarity", Value: "cosine"},
				},
				bson.D{
					{Key: "type", Value: "filter"},
					{Key: "path", Value: "namespace"},
				},
			}}}},
		}}},
	}
}

func isIndexExists(err error) bool {
	var cmdErr mongo.CommandError
	return errors.As(err, &cmdErr) && (cmdErr.Name == "IndexAlreadyExists" || cmdErr.Code == 68)
}

func (ms *MongoStore) Upsert(ctx context.Context, req model.UpsertRequest) (model.UpsertResponse, error) {
	if _, err := model.CheckDimensions(req.Vectors); err != nil {
		return model.UpsertResponse{}, unexpected("upsert", err)
	}
	if len(req.Vectors) == 0 {
		return model.UpsertResponse{}, nil
	}
	writes := make([]mongo.WriteModel, 0, len(req.Vectors))
	for _, doc := range toMongoDocuments(req) {
		writes = append(writes, mongo.NewReplaceOneModel().
			SetFilter(bson.D{{Key: "_id", Value: doc.ID}}).
			SetReplacement(doc).
			SetUpsert(true))
	}
	res, err := ms.collection.BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return model.UpsertResponse{}, classify(ctx, "upsert", err)
	}
	return model.UpsertResponse{UpsertedCount: int(res.UpsertedCount + res.MatchedCount)}, nil
}

func toMongoDocuments(req model.UpsertRequest) []mongoMemoryDocument {
	docs := make([]mongoMemoryDocument, 0, len(req.Vectors))
	for _, v := range req.Vectors {
		docs = append(docs, mongoMemoryDocument{
			ID:        v.ID,
			Namespace: req.Namespace,
			Content:   v.Metadata.Content.String(),
			Embedding: float64Embedding(v.Values),
		})
	}
	return docs
}

func (ms *MongoStore) Query(ctx context.Context, req model.QueryRequest) (model.QueryResponse, error) {
	out := model.QueryResponse{Namespace: req.Namespace, Matches: []model.Match{}}
	if req.TopK <= 0 {
		return out, nil
	}
	cursor, err := ms.collection.Aggregate(ctx, searchPipeline(ms.index, req))
	if err != nil {
		return out, classify(ctx, "query", err)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var doc mongoMemoryDocument
		if err := cursor.Decode(&doc); err != nil {
			return out, unexpected("query", err)
		}
		out.Matches = append(out.Matches, doc.toMatch(req))
	}
	if err := cursor.Err(); err != nil {
		return out, classify(ctx, "query", err)
	}
	return out, nil
}

func searchPipeline(index string, req model.QueryRequest) mongo.Pipeline {
	project := bson.D{
		{Key: "_id", Value: 1},
		{Key: "namespace", Value: 1},
		{Key: "content", Value: 1},
		{Key: "score", Value: bson.D{{Key: "$meta", Value: "vectorSearchScore"}}},
	}
	if req.IncludeValues {
		project = append(project, bson.E{Key: "embedding", Value: 1})
	}
	return mongo.Pipeline{
		{{Key: "$vectorSearch", Value: bson.D{
			{Key: "index", Value: index},
			{Key: "path", Value: "embedding"},
			{Key: "queryVector", Value: float64Embedding(req.Vector)},
			{Key: "numCandidates", Value: int64(req.TopK * 10)},
			{Key: "limit", Value: int64(req.TopK)},
			{Key: "filter", Value: bson.D{{Key: "namespace", Value: bson.D{{Key: "$eq", Value: req.Namespace}}}}},
		}}},
		{{Key: "$project", Value: project}},
	}
}

// toMatch reports the raw cosine; vectorSearchScore is (1+cos)/2.
func (doc mongoMemoryDocument) toMatch(req model.QueryRequest) model.Match {
	m := model.Match{ID: doc.ID, Score: model.ClampScore(model.CosineFromUnitScore(doc.Score))}
	if req.IncludeMetadata {
		m.Metadata = model.Metadata{Content: model.Content(doc.Content), Namespace: doc.Namespace}
	}
	if req.IncludeValues {
		m.Values = float32Embedding(doc.Embedding)
	}
	return m
}

func float64Embedding(vec []float32) []float64 {
	if len(vec) == 0 {
		return nil
	}
	out := make([]float64, len(vec))
	for i, v := range vec {
		out[i] = float64(v)
	}
	return out
}

func float32Embedding(vec []float64) []float32 {
	if len(vec) == 0 {
		return nil
	}
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(v)
	}
	return out
}

// Close disconnects the client. Later calls return the first result.
func (ms *MongoStore) Close() error {
	ms.closeOnce.Do(func() {
		if ms.client == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), mongoCloseTimeout)
		defer cancel()
		ms.closeErr = ms.client.Disconnect(ctx)
	})
	return ms.closeErr
}
