package ingestion

import "time"

// Canonical document keys added by the normalizer.
const (
	FieldSourceID       = "source_id"
	FieldPersonCount    = "person_count"
	FieldDateTimeRaw    = "datetime_raw"
	FieldDateTimeParsed = "datetime_parsed"
	FieldIngestedAt     = "ingested_at"

	// FieldTimestamp is the ingestion time field documents already in the
	// legacy collections carry.
	FieldTimestamp = "timestamp"
)

// Recognised keys on the incoming wire payload.
const (
	RawFieldDatabase    = "db_name"
	RawFieldCollection  = "coll_name"
	RawFieldID          = "id"
	RawFieldPersonCount = "person count"
	RawFieldDateTime    = "DateTime"
)

// RawEvent is one decoded sensor payload. Values are string, int64, float64,
// bool, nil, []any or a nested map[string]any; no key is guaranteed.
type RawEvent map[string]any

// Document is the normalized form of a RawEvent, ready for the store.
type Document map[string]any

// Destination selects the database and collection a document is written to.
type Destination struct {
	Database   string `json:"database"`
	Collection string `json:"collection"`
}

func (d Destination) String() string {
	return d.Database + "." + d.Collection
}

// IngestedAt returns the ingestion timestamp of the document.
func (d Document) IngestedAt() time.Time {
	t, _ := d[FieldIngestedAt].(time.Time)
	return t
}

// ParsedDateTime returns the parsed event time and whether parsing succeeded.
func (d Document) ParsedDateTime() (time.Time, bool) {
	t, ok := d[FieldDateTimeParsed].(time.Time)
	return t, ok
}

// stringField returns raw[key] when it holds a non-empty string.
func (r RawEvent) stringField(key string) (string, bool) {
	s, ok := r[key].(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}
