package ingestion

import (
	"fmt"
	"strings"
)

// DestinationMode controls what happens when an event carries no routing fields.
type DestinationMode string

const (
	// DestinationDefault falls back to the configured database and collection.
	DestinationDefault DestinationMode = "default"
	// DestinationStrict drops events that do not name their destination.
	DestinationStrict DestinationMode = "strict"
)

// ParseDestinationMode validates a configured mode. An empty string selects
// DestinationDefault.
func ParseDestinationMode(s string) (DestinationMode, error) {
	switch DestinationMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", DestinationDefault:
		return DestinationDefault, nil
	case DestinationStrict:
		return DestinationStrict, nil
	default:
		return "", fmt.Errorf("unknown destination mode %q (want %q or %q)", s, DestinationDefault, DestinationStrict)
	}
}

// Resolver picks the Destination for an event from its db_name and coll_name fields.
type Resolver struct {
	Mode     DestinationMode
	Defaults Destination
}

// NewResolver creates a Resolver. In default mode both defaults must be set.
func NewResolver(mode DestinationMode, defaults Destination) (*Resolver, error) {
	if mode == "" {
		mode = DestinationDefault
	}
	if mode == DestinationDefault && (defaults.Database == "" || defaults.Collection == "") {
		return nil, fmt.Errorf("default destination requires both database and collection, got %q", defaults.String())
	}
	return &Resolver{Mode: mode, Defaults: defaults}, nil
}

// Resolve returns the destination named by raw. Empty strings and non-string
// values count as absent. In default mode an event missing either field goes
// to the default pair as a whole; in strict mode it yields ErrMissingDestination.
func (r *Resolver) Resolve(raw RawEvent) (Destination, error) {
	db, hasDB := raw.stringField(RawFieldDatabase)
	coll, hasColl := raw.stringField(RawFieldCollection)

	if r.Mode == DestinationStrict {
		var missing []string
		if !hasDB {
			missing = append(missing, RawFieldDatabase)
		}
		if !hasColl {
			missing = append(missing, RawFieldCollection)
		}
		if len(missing) > 0 {
			return Destination{}, fmt.Errorf("%w: %s", ErrMissingDestination, strings.Join(missing, ", "))
		}
		return Destination{Database: db, Collection: coll}, nil
	}

	if !hasDB || !hasColl {
		return r.Defaults, nil
	}
	return Destination{Database: db, Collection: coll}, nil
}
