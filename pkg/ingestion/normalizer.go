package ingestion

import (
	"strconv"
	"time"
)

// Normalizer turns a RawEvent into the Document stored for it.
type Normalizer struct {
	// DateTimeField is the raw key holding the device time text.
	// Defaults to "DateTime".
	DateTimeField string
	// TimestampField, when set, receives the ingestion time if the event does
	// not already carry that key. Existing values are never overwritten.
	TimestampField string
}

// NewNormalizer creates a Normalizer reading the device time from dateTimeField.
func NewNormalizer(dateTimeField string) *Normalizer {
	if dateTimeField == "" {
		dateTimeField = RawFieldDateTime
	}
	return &Normalizer{DateTimeField: dateTimeField}
}

// Normalize copies raw and overlays the canonical fields. Original keys are
// never removed. Values of an unexpected type are left alone rather than
// rejected, and an unparsable device time only omits datetime_parsed.
func (n *Normalizer) Normalize(raw RawEvent, now time.Time) Document {
	doc := make(Document, len(raw)+5)
	for k, v := range raw {
		doc[k] = v
	}

	if id, ok := sourceID(raw[RawFieldID]); ok {
		doc[FieldSourceID] = id
	}
	if count, ok := raw[RawFieldPersonCount]; ok && isNumber(count) {
		doc[FieldPersonCount] = count
	}

	field := n.DateTimeField
	if field == "" {
		field = RawFieldDateTime
	}
	if text, ok := raw[field].(string); ok {
		doc[FieldDateTimeRaw] = text
		if parsed, ok := ParseEventTime(text); ok {
			doc[FieldDateTimeParsed] = parsed
		}
	}

	doc[FieldIngestedAt] = now.UTC()
	if n.TimestampField != "" {
		if _, exists := raw[n.TimestampField]; !exists {
			doc[n.TimestampField] = now.UTC()
		}
	}
	return doc
}

// sourceID renders an id as text. Numeric ids keep their JSON spelling.
func sourceID(v any) (string, bool) {
	switch id := v.(type) {
	case string:
		return id, true
	case int64:
		return strconv.FormatInt(id, 10), true
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64), true
	default:
		return "", false
	}
}

func isNumber(v any) bool {
	switch v.(type) {
	case int, int32, int64, float32, float64:
		return true
	default:
		return false
	}
}
