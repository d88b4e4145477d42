package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"presence-backend/internal/models"
)

const mongoCollection = "whispers"

// MongoStore keeps whispers as documents, one per message.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

func OpenMongo(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().
		ApplyURI(uri).
		SetServerSelectionTimeout(5*time.Second))
	if err != nil {
		return nil, fmt.Errorf("unable to create mongo client: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("unable to ping mongo: %w", err)
	}

	coll := client.Database(database).Collection(mongoCollection)
	_, err = coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "senderId", Value: 1}, {Key: "timestamp", Value: -1}}},
		{Keys: bson.D{{Key: "receiverId", Value: 1}, {Key: "timestamp", Value: -1}}},
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("unable to create indexes: %w", err)
	}

	return &MongoStore{client: client, coll: coll}, nil
}

func MongoDialer(uri, database string) Dialer {
	return func(ctx context.Context) (MessageStore, error) {
		return OpenMongo(ctx, uri, database)
	}
}

func (s *MongoStore) Insert(ctx context.Context, msg models.Message) error {
	_, err := s.coll.InsertOne(ctx, msg)
	return classifyMongo("insert whisper", err)
}

func (s *MongoStore) QueryByUser(ctx context.Context, userID string, limit int) ([]models.Message, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"senderId": userID},
		bson.M{"receiverId": userID},
	}}
	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, classifyMongo("query whispers", err)
	}
	messages := make([]models.Message, 0, limit)
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, classifyMongo("decode whispers", err)
	}
	return messages, nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return classifyMongo("ping", s.client.Ping(ctx, readpref.Primary()))
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func classifyMongo(op string, err error) error {
	if err == nil {
		return nil
	}
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) || errors.Is(err, mongo.ErrClientDisconnected) {
		return unavailable(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
