package storage

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoArchive writes archived indexing logs to a MongoDB collection.
// Mongo is a good fit for this append-heavy, rarely-read workload: the
// documents are schemaless and the hot store stays small.
type MongoArchive struct {
	client *mongo.Client
	logs   *mongo.Collection
}

// NewMongoArchive connects to MongoDB and prepares the archive collection.
func NewMongoArchive(connectionString, database, collection string) (*MongoArchive, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(connectionString))
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		// Disconnect() errors during initialization cleanup are not actionable
		// and would only obscure the original connection failure.
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	if collection == "" {
		collection = "indexing_logs_archive"
	}

	archive := &MongoArchive{
		client: client,
		logs:   client.Database(database).Collection(collection),
	}

	if err := archive.createIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}

	return archive, nil
}

func (a *MongoArchive) createIndexes(ctx context.Context) error {
	_, err := a.logs.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "url_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "created_at", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create archive indexes: %w", err)
	}
	return nil
}

// WriteLogs appends a batch of archived logs. Re-archiving the same row is a
// no-op thanks to the _id upsert, so a retried batch stays consistent.
func (a *MongoArchive) WriteLogs(ctx context.Context, logs []IndexingLog) error {
	if len(logs) == 0 {
		return nil
	}

	models := make([]mongo.WriteModel, 0, len(logs))
	for _, entry := range logs {
		doc := bson.M{
			"_id":           entry.ID,
			"url_id":        entry.URLID,
			"method":        entry.Method,
			"status":        string(entry.Status),
			"response_code": entry.ResponseCode,
			"response_body": entry.ResponseBody,
			"credential_id": entry.CredentialID,
			"created_at":    entry.CreatedAt,
		}
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": entry.ID}).
			SetReplacement(doc).
			SetUpsert(true))
	}

	_, err := a.logs.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return fmt.Errorf("bulk write archive logs: %w", err)
	}
	return nil
}

// Close disconnects the MongoDB client.
func (a *MongoArchive) Close(ctx context.Context) error {
	return a.client.Disconnect(ctx)
}
