package ingestion

import "errors"

var (
	// ErrDecode marks a payload that is not a JSON object.
	ErrDecode = errors.New("payload is not a valid JSON object")
	// ErrMissingDestination marks an event without routing fields while the
	// resolver runs in strict mode.
	ErrMissingDestination = errors.New("missing destination")
	// ErrPersist marks a store write failure.
	ErrPersist = errors.New("persist failed")
)
