package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Stage is a step of the per-message state machine.
type Stage string

const (
	StageReceived   Stage = "received"
	StageDecoded    Stage = "decoded"
	StageResolved   Stage = "destination_resolved"
	StageNormalized Stage = "normalized"
	StagePersisted  Stage = "persisted"
	StageDropped    Stage = "dropped"
)

// DropReason classifies why a message was not persisted.
type DropReason string

const (
	ReasonDecodeError        DropReason = "decode_error"
	ReasonMissingDestination DropReason = "missing_destination"
	ReasonPersistError       DropReason = "persist_error"
)

const (
	defaultPersistTimeout = 10 * time.Second
	maxLoggedPayload      = 256
)

// Inserter writes one document into a named collection of a named database
// and returns the identifier the store generated for it.
type Inserter interface {
	InsertOne(ctx context.Context, database, collection string, doc Document) (string, error)
}

// DeadLetterSink receives messages the pipeline dropped.
type DeadLetterSink interface {
	Archive(ctx context.Context, letter DeadLetter) error
}

// Delivery is one payload handed over by a transport.
type Delivery struct {
	ID         string
	Topic      string
	Payload    []byte
	ReceivedAt time.Time
}

// DeadLetter describes a dropped message.
type DeadLetter struct {
	Reason      DropReason   `json:"reason"`
	Error       string       `json:"error"`
	MessageID   string       `json:"message_id,omitempty"`
	Topic       string       `json:"topic,omitempty"`
	Destination *Destination `json:"destination,omitempty"`
	ReceivedAt  time.Time    `json:"received_at"`
	Payload     []byte       `json:"payload"`
}

// Outcome reports how a single message ended. It exists for observability
// and tests; transports ignore it.
type Outcome struct {
	Stage       Stage
	Reason      DropReason
	Destination Destination
	InsertedID  string
	Err         error
}

// PipelineConfig holds the tunables of a Pipeline.
type PipelineConfig struct {
	// PersistTimeout bounds a single store insert. Defaults to 10s.
	PersistTimeout time.Duration
}

// Pipeline decodes, routes, normalizes and persists one message at a time.
// It keeps no state between messages.
type Pipeline struct {
	resolver       *Resolver
	normalizer     *Normalizer
	store          Inserter
	deadLetters    DeadLetterSink
	metrics        *Metrics
	persistTimeout time.Duration
	clock          func() time.Time
	logger         zerolog.Logger
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithClock replaces the wall clock used for ingested_at.
func WithClock(clock func() time.Time) Option {
	return func(p *Pipeline) { p.clock = clock }
}

// WithDeadLetterSink offers dropped messages to sink.
func WithDeadLetterSink(sink DeadLetterSink) Option {
	return func(p *Pipeline) { p.deadLetters = sink }
}

// WithMetrics counts outcomes on m.
func WithMetrics(m *Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// NewPipeline creates a Pipeline writing to store.
func NewPipeline(
	cfg PipelineConfig,
	resolver *Resolver,
	normalizer *Normalizer,
	store Inserter,
	logger zerolog.Logger,
	opts ...Option,
) (*Pipeline, error) {
	if resolver == nil {
		return nil, errors.New("resolver cannot be nil")
	}
	if normalizer == nil {
		return nil, errors.New("normalizer cannot be nil")
	}
	if store == nil {
		return nil, errors.New("store cannot be nil")
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = defaultPersistTimeout
	}
	p := &Pipeline{
		resolver:       resolver,
		normalizer:     normalizer,
		store:          store,
		persistTimeout: cfg.PersistTimeout,
		clock:          time.Now,
		logger:         logger.With().Str("component", "IngestionPipeline").Logger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Handle processes a bare payload.
func (p *Pipeline) Handle(ctx context.Context, payload []byte) Outcome {
	return p.HandleDelivery(ctx, Delivery{Payload: payload})
}

// HandleDelivery runs one delivery through the pipeline. Every failure ends
// the message and is logged; nothing is returned to the transport as an error
// and nothing is retried.
func (p *Pipeline) HandleDelivery(ctx context.Context, d Delivery) Outcome {
	if d.ReceivedAt.IsZero() {
		d.ReceivedAt = p.clock().UTC()
	}
	log := p.logger.With().Str("msg_id", d.ID).Str("topic", d.Topic).Logger()
	log.Debug().Str("stage", string(StageReceived)).Int("payload_bytes", len(d.Payload)).Msg("Message received.")

	raw, err := DecodeEvent(d.Payload)
	if err != nil {
		return p.drop(ctx, log, d, ReasonDecodeError, nil, err)
	}
	log.Debug().Str("stage", string(StageDecoded)).Int("field_count", len(raw)).Msg("Payload decoded.")

	dest, err := p.resolver.Resolve(raw)
	if err != nil {
		return p.drop(ctx, log, d, ReasonMissingDestination, nil, err)
	}
	log = log.With().Str("database", dest.Database).Str("collection", dest.Collection).Logger()
	log.Debug().Str("stage", string(StageResolved)).Msg("Destination resolved.")

	doc := p.normalizer.Normalize(raw, p.clock())
	if text, ok := doc[FieldDateTimeRaw]; ok {
		if _, parsed := doc[FieldDateTimeParsed]; !parsed {
			log.Debug().Interface("datetime_raw", text).Msg("Device time not parsable, keeping raw value only.")
		}
	}
	log.Debug().Str("stage", string(StageNormalized)).Msg("Document normalized.")

	id, err := p.persist(ctx, dest, doc)
	if err != nil {
		return p.drop(ctx, log, d, ReasonPersistError, &dest, err)
	}

	out := Outcome{Stage: StagePersisted, Destination: dest, InsertedID: id}
	p.metrics.observe(out)
	log.Info().Str("stage", string(StagePersisted)).Str("inserted_id", id).Msg("Document saved.")
	return out
}

// persist runs the insert on a context that survives shutdown cancellation,
// so an in-flight write is allowed to finish, but is bounded by the timeout.
func (p *Pipeline) persist(ctx context.Context, dest Destination, doc Document) (string, error) {
	insertCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.persistTimeout)
	defer cancel()

	id, err := p.store.InsertOne(insertCtx, dest.Database, dest.Collection, doc)
	if err != nil {
		return "", fmt.Errorf("%w: insert into %s: %w", ErrPersist, dest, err)
	}
	return id, nil
}

func (p *Pipeline) drop(ctx context.Context, log zerolog.Logger, d Delivery, reason DropReason, dest *Destination, cause error) Outcome {
	out := Outcome{Stage: StageDropped, Reason: reason, Err: cause}
	if dest != nil {
		out.Destination = *dest
	}
	p.metrics.observe(out)

	log.Error().
		Err(cause).
		Str("stage", string(StageDropped)).
		Str("reason", string(reason)).
		Str("payload", truncate(d.Payload, maxLoggedPayload)).
		Msg("Message dropped.")

	if p.deadLetters != nil {
		letter := DeadLetter{
			Reason:      reason,
			Error:       cause.Error(),
			MessageID:   d.ID,
			Topic:       d.Topic,
			Destination: dest,
			ReceivedAt:  d.ReceivedAt,
			Payload:     d.Payload,
		}
		archiveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.persistTimeout)
		defer cancel()
		if err := p.deadLetters.Archive(archiveCtx, letter); err != nil {
			log.Warn().Err(err).Str("reason", string(reason)).Msg("Failed to archive dropped message.")
		}
	}
	return out
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "...(truncated)"
}
