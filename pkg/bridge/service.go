// Package bridge assembles the sensor bridge: a transport consumer feeding
// the ingestion pipeline through a single listener, the document store the
// pipeline writes to, and the liveness and metrics servers.
package bridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/illmade-knight/go-sensorbridge/pkg/config"
	"github.com/illmade-knight/go-sensorbridge/pkg/docstore"
	"github.com/illmade-knight/go-sensorbridge/pkg/ingestion"
	"github.com/illmade-knight/go-sensorbridge/pkg/messagepipeline"
	"github.com/illmade-knight/go-sensorbridge/pkg/microservice"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Dependencies are the externally connected parts of the service.
// DeadLetters and Closers are optional.
type Dependencies struct {
	Consumer    messagepipeline.MessageConsumer
	Store       docstore.Store
	DeadLetters ingestion.DeadLetterSink
	Registry    *prometheus.Registry
	// Closers release clients that outlive Consumer.Stop, such as the
	// Pub/Sub and Cloud Storage clients. They run last on Stop.
	Closers []func() error
}

// Service is a running bridge.
type Service struct {
	cfg      *config.Config
	logger   zerolog.Logger
	deps     Dependencies
	pipeline *ingestion.Pipeline
	listener *messagepipeline.ListenerService
	liveness *microservice.Server
	metrics  *microservice.Server
}

// New wires deps into a Service without starting anything.
func New(cfg *config.Config, deps Dependencies, logger zerolog.Logger) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if deps.Consumer == nil {
		return nil, errors.New("consumer cannot be nil")
	}
	if deps.Store == nil {
		return nil, errors.New("store cannot be nil")
	}
	if deps.Registry == nil {
		deps.Registry = prometheus.NewRegistry()
	}

	mode, err := ingestion.ParseDestinationMode(cfg.Destination.Mode)
	if err != nil {
		return nil, err
	}
	resolver, err := ingestion.NewResolver(mode, cfg.DefaultDestination())
	if err != nil {
		return nil, err
	}
	metrics, err := ingestion.NewMetrics(deps.Registry)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	opts := []ingestion.Option{ingestion.WithMetrics(metrics)}
	if deps.DeadLetters != nil {
		opts = append(opts, ingestion.WithDeadLetterSink(deps.DeadLetters))
	}
	normalizer := ingestion.NewNormalizer(cfg.Pipeline.DateTimeField)
	normalizer.TimestampField = cfg.Pipeline.TimestampField

	pipeline, err := ingestion.NewPipeline(
		ingestion.PipelineConfig{PersistTimeout: cfg.Pipeline.PersistTimeout},
		resolver,
		normalizer,
		deps.Store,
		logger,
		opts...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ingestion pipeline: %w", err)
	}

	s := &Service{
		cfg:      cfg,
		logger:   logger.With().Str("component", "SensorBridge").Logger(),
		deps:     deps,
		pipeline: pipeline,
		liveness: microservice.NewLivenessServer(logger, cfg.HTTP.Port),
	}
	if cfg.HTTP.MetricsPort != "" {
		s.metrics = microservice.NewMetricsServer(logger, cfg.HTTP.MetricsPort, deps.Registry)
	}

	s.listener, err = messagepipeline.NewListenerService(deps.Consumer, s.handleMessage, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create listener: %w", err)
	}

	s.logger.Info().
		Str("destination_mode", string(mode)).
		Str("default_destination", resolver.Defaults.String()).
		Bool("dead_letters", deps.DeadLetters != nil).
		Msg("Sensor bridge assembled.")
	return s, nil
}

func (s *Service) handleMessage(ctx context.Context, msg *messagepipeline.Message) {
	s.pipeline.HandleDelivery(ctx, ingestion.Delivery{
		ID:         msg.ID,
		Topic:      msg.Topic(),
		Payload:    msg.Payload,
		ReceivedAt: msg.PublishTime,
	})
}

// Start brings up the HTTP servers, then the consumer. If the consumer fails
// to start, the servers are shut down again.
func (s *Service) Start(ctx context.Context) error {
	if err := s.liveness.Start(); err != nil {
		return fmt.Errorf("failed to start liveness server: %w", err)
	}
	if s.metrics != nil {
		if err := s.metrics.Start(); err != nil {
			_ = s.liveness.Shutdown(context.Background())
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}
	if err := s.listener.Start(ctx); err != nil {
		s.shutdownServers(context.Background())
		return err
	}
	s.logger.Info().Str("liveness_addr", s.liveness.Addr()).Msg("Sensor bridge started.")
	return nil
}

// Stop shuts down in dependency order: the consumer stops and the listener
// drains what was already buffered, then the HTTP servers stop, then the
// store and remaining clients are closed. Errors are collected, not fatal.
func (s *Service) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping sensor bridge...")
	var errs []error

	if err := s.listener.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("listener: %w", err))
	}
	s.shutdownServers(ctx)
	if err := s.deps.Store.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("store: %w", err))
	}
	for _, closeFn := range s.deps.Closers {
		if err := closeFn(); err != nil {
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		s.logger.Error().Err(err).Msg("Sensor bridge stopped with errors.")
		return err
	}
	s.logger.Info().Msg("Sensor bridge stopped.")
	return nil
}

// Done is closed once the listener has stopped processing.
func (s *Service) Done() <-chan struct{} {
	return s.listener.Done()
}

// LivenessAddr returns the liveness server address.
func (s *Service) LivenessAddr() string {
	return s.liveness.Addr()
}

// MetricsAddr returns the metrics server address, or "" when disabled.
func (s *Service) MetricsAddr() string {
	if s.metrics == nil {
		return ""
	}
	return s.metrics.Addr()
}

func (s *Service) shutdownServers(ctx context.Context) {
	if err := s.liveness.Shutdown(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Liveness server shutdown failed.")
	}
	if s.metrics != nil {
		if err := s.metrics.Shutdown(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("Metrics server shutdown failed.")
		}
	}
}
