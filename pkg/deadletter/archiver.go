// Package deadletter archives messages the ingestion pipeline dropped, so a
// bad payload or a failed write can be inspected and replayed later.
package deadletter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/illmade-knight/go-sensorbridge/pkg/ingestion"
	"github.com/rs/zerolog"
)

// GCSArchiverConfig holds the bucket and the object prefix dead letters are
// written under.
type GCSArchiverConfig struct {
	BucketName   string
	ObjectPrefix string
}

// GCSArchiver writes one JSON object per dropped message. Objects are named
// <prefix>/<reason>/<yyyy>/<mm>/<dd>/<uuid>.json using the receive time.
type GCSArchiver struct {
	client GCSClient
	config GCSArchiverConfig
	logger zerolog.Logger
	now    func() time.Time
}

// NewGCSArchiver creates an archiver. It implements ingestion.DeadLetterSink.
func NewGCSArchiver(client GCSClient, config GCSArchiverConfig, logger zerolog.Logger) (*GCSArchiver, error) {
	if client == nil {
		return nil, errors.New("GCS client cannot be nil")
	}
	if config.BucketName == "" {
		return nil, errors.New("GCS bucket name is required")
	}
	return &GCSArchiver{
		client: client,
		config: config,
		logger: logger.With().Str("component", "GCSArchiver").Logger(),
		now:    time.Now,
	}, nil
}

// ObjectName returns the object path for letter.
func (a *GCSArchiver) ObjectName(letter ingestion.DeadLetter) string {
	received := letter.ReceivedAt
	if received.IsZero() {
		received = a.now()
	}
	received = received.UTC()
	return path.Join(
		a.config.ObjectPrefix,
		string(letter.Reason),
		received.Format("2006"),
		received.Format("01"),
		received.Format("02"),
		uuid.New().String()+".json",
	)
}

// Archive uploads letter. A failed Close means the object was not created.
func (a *GCSArchiver) Archive(ctx context.Context, letter ingestion.DeadLetter) error {
	objectName := a.ObjectName(letter)
	w := a.client.Bucket(a.config.BucketName).Object(objectName).NewWriter(ctx, "application/json")

	encodeErr := json.NewEncoder(w).Encode(letter)
	closeErr := w.Close()
	if encodeErr != nil {
		return fmt.Errorf("failed to encode dead letter %s: %w", objectName, encodeErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close GCS object writer for %s: %w", objectName, closeErr)
	}

	a.logger.Info().
		Str("object_name", objectName).
		Str("reason", string(letter.Reason)).
		Str("message_id", letter.MessageID).
		Msg("Archived dropped message.")
	return nil
}

var _ ingestion.DeadLetterSink = (*GCSArchiver)(nil)
