package messagepipeline_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/illmade-knight/go-sensorbridge/pkg/messagepipeline"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMessage(id string, acks *atomic.Int32) messagepipeline.Message {
	return messagepipeline.Message{
		MessageData: messagepipeline.MessageData{ID: id, Payload: []byte(id)},
		Attributes:  map[string]string{messagepipeline.AttributeTopic: "sensors/lobby"},
		Ack:         func() { acks.Add(1) },
		Nack:        func() {},
	}
}

func TestListenerService_Lifecycle(t *testing.T) {
	consumer := NewMockMessageConsumer(10)
	service, err := messagepipeline.NewListenerService(consumer, func(context.Context, *messagepipeline.Message) {}, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, service.Start(ctx))
	assert.Equal(t, 1, consumer.GetStartCount())

	assert.Error(t, service.Start(ctx), "second start must fail")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(stopCancel)
	require.NoError(t, service.Stop(stopCtx))
	assert.Equal(t, 1, consumer.GetStopCount())

	select {
	case <-service.Done():
	default:
		t.Fatal("Done() should be closed after Stop()")
	}
}

func TestListenerService_HandlesInOrderAndAcks(t *testing.T) {
	consumer := NewMockMessageConsumer(10)

	var mu sync.Mutex
	var seen []string
	var inFlight atomic.Int32
	var overlapped atomic.Bool
	handler := func(_ context.Context, msg *messagepipeline.Message) {
		if inFlight.Add(1) > 1 {
			overlapped.Store(true)
		}
		defer inFlight.Add(-1)
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		seen = append(seen, msg.ID)
		mu.Unlock()
		assert.Equal(t, "sensors/lobby", msg.Topic())
	}

	service, err := messagepipeline.NewListenerService(consumer, handler, zerolog.Nop())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, service.Start(ctx))

	var acks atomic.Int32
	var want []string
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("msg-%d", i)
		want = append(want, id)
		consumer.Push(newTestMessage(id, &acks))
	}

	require.Eventually(t, func() bool { return acks.Load() == 5 }, 2*time.Second, 10*time.Millisecond)
	mu.Lock()
	assert.Equal(t, want, seen)
	mu.Unlock()
	assert.False(t, overlapped.Load(), "handler invocations must not overlap")
}

func TestListenerService_StopDrainsBufferedMessages(t *testing.T) {
	consumer := NewMockMessageConsumer(10)
	release := make(chan struct{})
	var handled atomic.Int32
	handler := func(_ context.Context, msg *messagepipeline.Message) {
		<-release
		handled.Add(1)
	}

	service, err := messagepipeline.NewListenerService(consumer, handler, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, service.Start(context.Background()))

	var acks atomic.Int32
	consumer.Push(newTestMessage("a", &acks))
	consumer.Push(newTestMessage("b", &acks))

	stopped := make(chan error, 1)
	go func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		stopped <- service.Stop(stopCtx)
	}()

	close(release)
	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return")
	}
	assert.Equal(t, int32(2), handled.Load())
	assert.Equal(t, int32(2), acks.Load())
}

func TestListenerService_StopTimesOutOnStuckHandler(t *testing.T) {
	consumer := NewMockMessageConsumer(1)
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })
	entered := make(chan struct{})
	handler := func(context.Context, *messagepipeline.Message) {
		close(entered)
		<-block
	}

	service, err := messagepipeline.NewListenerService(consumer, handler, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, service.Start(context.Background()))

	var acks atomic.Int32
	consumer.Push(newTestMessage("stuck", &acks))
	<-entered

	stopCtx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	t.Cleanup(cancel)
	assert.ErrorIs(t, service.Stop(stopCtx), context.DeadlineExceeded)
}

func TestListenerService_PanickingHandlerDoesNotStopLoop(t *testing.T) {
	consumer := NewMockMessageConsumer(10)
	var handled atomic.Int32
	handler := func(_ context.Context, msg *messagepipeline.Message) {
		handled.Add(1)
		if msg.ID == "boom" {
			panic("unexpected payload")
		}
	}

	service, err := messagepipeline.NewListenerService(consumer, handler, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, service.Start(context.Background()))

	var acks atomic.Int32
	consumer.Push(newTestMessage("boom", &acks))
	consumer.Push(newTestMessage("fine", &acks))

	require.Eventually(t, func() bool { return acks.Load() == 2 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(2), handled.Load())
}

func TestListenerService_StartError(t *testing.T) {
	consumer := NewMockMessageConsumer(1)
	consumer.startErr = errors.New("broker unreachable")
	service, err := messagepipeline.NewListenerService(consumer, func(context.Context, *messagepipeline.Message) {}, zerolog.Nop())
	require.NoError(t, err)

	err = service.Start(context.Background())
	assert.ErrorContains(t, err, "broker unreachable")
	assert.NoError(t, service.Stop(context.Background()))
}

func TestNewListenerService_Validation(t *testing.T) {
	_, err := messagepipeline.NewListenerService(nil, func(context.Context, *messagepipeline.Message) {}, zerolog.Nop())
	assert.Error(t, err)
	_, err = messagepipeline.NewListenerService(NewMockMessageConsumer(1), nil, zerolog.Nop())
	assert.Error(t, err)
}
