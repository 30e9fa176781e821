package deadletter_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/illmade-knight/go-sensorbridge/pkg/deadletter"
	"github.com/illmade-knight/go-sensorbridge/pkg/ingestion"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGCSArchiver_Validation(t *testing.T) {
	_, err := deadletter.NewGCSArchiver(nil, deadletter.GCSArchiverConfig{BucketName: "b"}, zerolog.Nop())
	assert.Error(t, err)

	_, err = deadletter.NewGCSArchiver(newMockGCSClient(nil), deadletter.GCSArchiverConfig{}, zerolog.Nop())
	assert.Error(t, err)
}

func TestGCSArchiver_Archive(t *testing.T) {
	client := newMockGCSClient(nil)
	archiver, err := deadletter.NewGCSArchiver(client, deadletter.GCSArchiverConfig{
		BucketName:   "dead-letters",
		ObjectPrefix: "sensorbridge",
	}, zerolog.Nop())
	require.NoError(t, err)

	letter := ingestion.DeadLetter{
		Reason:      ingestion.ReasonPersistError,
		Error:       "persist error: timeout",
		MessageID:   "msg-1",
		Topic:       "automaatio",
		Destination: &ingestion.Destination{Database: "person_counter", Collection: "counts"},
		ReceivedAt:  time.Date(2026, 1, 13, 9, 36, 7, 0, time.UTC),
		Payload:     []byte(`{"id":"aiot"}`),
	}
	require.NoError(t, archiver.Archive(context.Background(), letter))

	bucket := client.bucket("dead-letters")
	bucket.mu.Lock()
	defer bucket.mu.Unlock()
	require.Len(t, bucket.objects, 1)

	for name, obj := range bucket.objects {
		assert.True(t, strings.HasPrefix(name, "sensorbridge/persist_error/2026/01/13/"), "unexpected object name %s", name)
		assert.True(t, strings.HasSuffix(name, ".json"))
		assert.Equal(t, "application/json", obj.contentType)
		assert.True(t, obj.writer.closed)

		var got ingestion.DeadLetter
		require.NoError(t, json.Unmarshal(obj.writer.Bytes(), &got))
		assert.Equal(t, letter, got)
	}
}

func TestGCSArchiver_ObjectNameIsUnique(t *testing.T) {
	archiver, err := deadletter.NewGCSArchiver(newMockGCSClient(nil), deadletter.GCSArchiverConfig{BucketName: "b"}, zerolog.Nop())
	require.NoError(t, err)

	letter := ingestion.DeadLetter{Reason: ingestion.ReasonDecodeError, ReceivedAt: time.Date(2026, 3, 2, 23, 0, 0, 0, time.UTC)}
	first := archiver.ObjectName(letter)
	second := archiver.ObjectName(letter)
	assert.NotEqual(t, first, second)
	assert.True(t, strings.HasPrefix(first, "decode_error/2026/03/02/"))
}

func TestGCSArchiver_CloseErrorIsReturned(t *testing.T) {
	client := newMockGCSClient(errors.New("precondition failed"))
	archiver, err := deadletter.NewGCSArchiver(client, deadletter.GCSArchiverConfig{BucketName: "b"}, zerolog.Nop())
	require.NoError(t, err)

	err = archiver.Archive(context.Background(), ingestion.DeadLetter{Reason: ingestion.ReasonDecodeError, Payload: []byte("nope")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "precondition failed")
}
