// Package docstore holds the document store adapters the ingestion pipeline
// writes through. Each adapter satisfies ingestion.Inserter.
package docstore

import (
	"context"

	"github.com/illmade-knight/go-sensorbridge/pkg/ingestion"
)

// Store is an ingestion.Inserter whose connection can be released.
type Store interface {
	ingestion.Inserter
	Close(ctx context.Context) error
}
