package docstore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/illmade-knight/go-sensorbridge/pkg/ingestion"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
	"google.golang.org/grpc/status"
)

// FirestoreConfig holds configuration for the Firestore client.
type FirestoreConfig struct {
	ProjectID string
	// DatabaseID selects the Firestore database; empty means "(default)".
	DatabaseID      string
	CredentialsFile string
}

// NewFirestoreClient creates a Firestore client. It uses Application Default
// Credentials unless a credentials file is given.
func NewFirestoreClient(ctx context.Context, cfg *FirestoreConfig, logger zerolog.Logger) (*firestore.Client, error) {
	if cfg == nil || cfg.ProjectID == "" {
		return nil, errors.New("firestore project ID is required")
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
		logger.Info().Str("credentials_file", cfg.CredentialsFile).Msg("Using specified credentials file for Firestore client.")
	}
	databaseID := cfg.DatabaseID
	if databaseID == "" {
		databaseID = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, cfg.ProjectID, databaseID, opts...)
	if err != nil {
		return nil, fmt.Errorf("firestore.NewClientWithDatabase: %w", err)
	}
	logger.Info().Str("project_id", cfg.ProjectID).Str("database_id", databaseID).Msg("Firestore client created.")
	return client, nil
}

// FirestoreStore inserts documents into Firestore. Firestore has no second
// level of naming above collections, so the destination database and
// collection are joined into one root collection ID: "<database>.<collection>".
type FirestoreStore struct {
	client *firestore.Client
	logger zerolog.Logger
}

// NewFirestoreStore creates a store around client.
func NewFirestoreStore(client *firestore.Client, logger zerolog.Logger) (*FirestoreStore, error) {
	if client == nil {
		return nil, errors.New("firestore client cannot be nil")
	}
	return &FirestoreStore{
		client: client,
		logger: logger.With().Str("component", "FirestoreStore").Logger(),
	}, nil
}

// CollectionID returns the Firestore collection used for a destination.
func CollectionID(database, collection string) string {
	return database + "." + collection
}

// InsertOne adds doc under an auto-generated ID and returns that ID.
func (s *FirestoreStore) InsertOne(ctx context.Context, database, collection string, doc ingestion.Document) (string, error) {
	collID := CollectionID(database, collection)
	ref, _, err := s.client.Collection(collID).Add(ctx, map[string]interface{}(doc))
	if err != nil {
		return "", fmt.Errorf("firestore add to %s (%s): %w", collID, status.Code(err), err)
	}
	return ref.ID, nil
}

// Close closes the Firestore client.
func (s *FirestoreStore) Close(_ context.Context) error {
	s.logger.Info().Msg("Closing Firestore client...")
	return s.client.Close()
}
