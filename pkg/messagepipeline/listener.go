package messagepipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// ListenerService feeds every delivery from a consumer to a single handler,
// one at a time and in delivery order. Each message is acked once the handler
// returns, whatever the outcome; redelivery is never requested.
type ListenerService struct {
	consumer  MessageConsumer
	handler   MessageHandler
	logger    zerolog.Logger
	done      chan struct{}
	startOnce sync.Once
	started   atomic.Bool
}

// NewListenerService creates a new ListenerService.
func NewListenerService(consumer MessageConsumer, handler MessageHandler, logger zerolog.Logger) (*ListenerService, error) {
	if consumer == nil {
		return nil, fmt.Errorf("consumer cannot be nil")
	}
	if handler == nil {
		return nil, fmt.Errorf("handler cannot be nil")
	}
	return &ListenerService{
		consumer: consumer,
		handler:  handler,
		logger:   logger.With().Str("service", "ListenerService").Logger(),
		done:     make(chan struct{}),
	}, nil
}

// Start starts the consumer and the processing loop.
func (s *ListenerService) Start(ctx context.Context) error {
	err := errors.New("listener service already started")
	s.startOnce.Do(func() {
		s.logger.Info().Msg("Starting listener service...")
		if err = s.consumer.Start(ctx); err != nil {
			err = fmt.Errorf("failed to start message consumer: %w", err)
			return
		}
		s.started.Store(true)
		go s.run(ctx)
		s.logger.Info().Msg("Listener service started.")
	})
	return err
}

// Stop stops the consumer, so no new deliveries arrive, then waits for the
// loop to finish what is already buffered and in flight.
func (s *ListenerService) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping listener service...")

	if err := s.consumer.Stop(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Error during consumer stop, continuing shutdown.")
	}
	if !s.started.Load() {
		return nil
	}

	select {
	case <-s.done:
		s.logger.Info().Msg("Listener service stopped.")
		return nil
	case <-ctx.Done():
		s.logger.Error().Err(ctx.Err()).Msg("Timeout waiting for in-flight message to finish.")
		return ctx.Err()
	}
}

// Done is closed when the processing loop has exited.
func (s *ListenerService) Done() <-chan struct{} {
	return s.done
}

func (s *ListenerService) run(ctx context.Context) {
	defer close(s.done)
	for msg := range s.consumer.Messages() {
		s.logger.Debug().Str("msg_id", msg.ID).Str("topic", msg.Topic()).Msg("Handling message.")
		s.handle(ctx, &msg)
		if msg.Ack != nil {
			msg.Ack()
		}
	}
	s.logger.Info().Msg("Consumer channel closed, listener exiting.")
}

// handle shields the loop from a panicking handler.
func (s *ListenerService) handle(ctx context.Context, msg *Message) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Str("msg_id", msg.ID).Msg("Handler panicked, message dropped.")
		}
	}()
	s.handler(ctx, msg)
}
