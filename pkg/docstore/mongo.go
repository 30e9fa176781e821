package docstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/illmade-knight/go-sensorbridge/pkg/ingestion"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// MongoConfig holds configuration for the MongoDB client.
type MongoConfig struct {
	URI            string
	AppName        string
	ConnectTimeout time.Duration
}

// NewMongoClient connects to MongoDB and pings the primary so that a bad URI
// or credentials fail at startup rather than on the first message.
func NewMongoClient(ctx context.Context, cfg *MongoConfig, logger zerolog.Logger) (*mongo.Client, error) {
	if cfg == nil || cfg.URI == "" {
		return nil, errors.New("mongo URI is required")
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	opts := options.Client().ApplyURI(cfg.URI).SetConnectTimeout(timeout)
	if cfg.AppName != "" {
		opts.SetAppName(cfg.AppName)
	}

	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	client, err := mongo.Connect(connectCtx, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo.Connect: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	logger.Info().Msg("MongoDB client connected.")
	return client, nil
}

// MongoStore inserts documents with the official MongoDB driver. The driver
// pools connections, so one MongoStore serves every message.
type MongoStore struct {
	client *mongo.Client
	logger zerolog.Logger
}

// NewMongoStore creates a store around an already connected client.
func NewMongoStore(client *mongo.Client, logger zerolog.Logger) (*MongoStore, error) {
	if client == nil {
		return nil, errors.New("mongo client cannot be nil")
	}
	return &MongoStore{
		client: client,
		logger: logger.With().Str("component", "MongoStore").Logger(),
	}, nil
}

// InsertOne writes doc into database.collection and returns the inserted _id.
func (s *MongoStore) InsertOne(ctx context.Context, database, collection string, doc ingestion.Document) (string, error) {
	res, err := s.client.Database(database).Collection(collection).InsertOne(ctx, bson.M(doc))
	if err != nil {
		return "", fmt.Errorf("mongo insert into %s.%s: %w", database, collection, err)
	}
	return insertedID(res.InsertedID), nil
}

// Close disconnects the client, waiting for in-use connections up to ctx's deadline.
func (s *MongoStore) Close(ctx context.Context) error {
	s.logger.Info().Msg("Disconnecting MongoDB client...")
	return s.client.Disconnect(ctx)
}

func insertedID(id interface{}) string {
	switch v := id.(type) {
	case primitive.ObjectID:
		return v.Hex()
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}
