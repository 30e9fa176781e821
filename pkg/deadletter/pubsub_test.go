package deadletter_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/illmade-knight/go-sensorbridge/pkg/deadletter"
	"github.com/illmade-knight/go-sensorbridge/pkg/ingestion"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func setupPubsubTest(t *testing.T) (*pstest.Server, *pubsub.Client) {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(context.Background(), "test-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return srv, client
}

func TestPubsubPublisher_Archive(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	srv, client := setupPubsubTest(t)
	_, err := client.CreateTopic(ctx, "dead-letters")
	require.NoError(t, err)

	publisher, err := deadletter.NewPubsubPublisher(ctx, deadletter.NewPubsubPublisherDefaults("dead-letters"), client, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(publisher.Stop)

	letter := ingestion.DeadLetter{
		Reason:     ingestion.ReasonDecodeError,
		Error:      "decode error: invalid character",
		MessageID:  "msg-9",
		Topic:      "automaatio",
		ReceivedAt: time.Date(2026, 1, 13, 9, 36, 7, 0, time.UTC),
		Payload:    []byte("not json"),
	}
	require.NoError(t, publisher.Archive(ctx, letter))

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "decode_error", msgs[0].Attributes["reason"])
	assert.Equal(t, "automaatio", msgs[0].Attributes["source_topic"])
	assert.Equal(t, "msg-9", msgs[0].Attributes["source_message_id"])

	var got ingestion.DeadLetter
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	assert.Equal(t, letter, got)
}

func TestNewPubsubPublisher_MissingTopic(t *testing.T) {
	_, client := setupPubsubTest(t)
	_, err := deadletter.NewPubsubPublisher(context.Background(), deadletter.NewPubsubPublisherDefaults("absent"), client, zerolog.Nop())
	assert.Error(t, err)
}

type recordingSink struct {
	letters []ingestion.DeadLetter
	err     error
}

func (r *recordingSink) Archive(_ context.Context, letter ingestion.DeadLetter) error {
	r.letters = append(r.letters, letter)
	return r.err
}

func TestSinks_TriesEverySink(t *testing.T) {
	failing := &recordingSink{err: assert.AnError}
	ok := &recordingSink{}
	sinks := deadletter.Sinks{failing, ok}

	err := sinks.Archive(context.Background(), ingestion.DeadLetter{Reason: ingestion.ReasonPersistError})
	assert.ErrorIs(t, err, assert.AnError)
	assert.Len(t, failing.letters, 1)
	assert.Len(t, ok.letters, 1)
}
