package deadletter

import (
	"context"
	"errors"

	"github.com/illmade-knight/go-sensorbridge/pkg/ingestion"
)

// Sinks archives every letter to each sink in order. All sinks are tried;
// their errors are joined.
type Sinks []ingestion.DeadLetterSink

func (s Sinks) Archive(ctx context.Context, letter ingestion.DeadLetter) error {
	var errs []error
	for _, sink := range s {
		if err := sink.Archive(ctx, letter); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
