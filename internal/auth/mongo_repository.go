package auth

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoRepository — хранилище записей гостей в MongoDB
type MongoRepository struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// NewMongoRepository подключается к MongoDB и выбирает коллекцию guests
func NewMongoRepository(ctx context.Context, uri, database string) (*MongoRepository, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("auth: connect mongo: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		return nil, fmt.Errorf("auth: ping mongo: %w", err)
	}

	return &MongoRepository{
		client:     client,
		collection: client.Database(database).Collection("guests"),
	}, nil
}

func (m *MongoRepository) Get(ctx context.Context, providerUserID string) (*GuestRecord, error) {
	var record GuestRecord
	err := m.collection.FindOne(ctx, bson.M{"_id": providerUserID}).Decode(&record)
	if err == mongo.ErrNoDocuments {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("auth: find guest: %w", err)
	}
	return &record, nil
}

func (m *MongoRepository) Put(ctx context.Context, record *GuestRecord) error {
	opts := options.Replace().SetUpsert(true)
	_, err := m.collection.ReplaceOne(ctx, bson.M{"_id": record.ProviderUserID}, record, opts)
	if err != nil {
		return fmt.Errorf("auth: upsert guest: %w", err)
	}
	return nil
}

func (m *MongoRepository) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
