package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/jwalitptl/clinic-api/internal/email"
	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/internal/repository"
	"github.com/jwalitptl/clinic-api/pkg/messaging"
	"github.com/jwalitptl/clinic-api/pkg/metrics"
)

const (
	maxRetryDelay   = time.Hour
	cleanupInterval = time.Hour
)

type OutboxProcessorConfig struct {
	Channel       string
	BatchSize     int
	PollInterval  time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
	Retention     time.Duration
	// ProcessingTimeout is how long a claimed event may stay PROCESSING
	// before another poll reclaims it.
	ProcessingTimeout time.Duration
}

func (c OutboxProcessorConfig) validate() error {
	if c.Channel == "" {
		return errors.New("channel is required")
	}
	if c.BatchSize <= 0 {
		return errors.New("BatchSize must be greater than 0")
	}
	if c.PollInterval <= 0 {
		return errors.New("PollInterval must be greater than 0")
	}
	if c.RetryAttempts <= 0 {
		return errors.New("RetryAttempts must be greater than 0")
	}
	if c.RetryDelay <= 0 {
		return errors.New("RetryDelay must be greater than 0")
	}
	if c.ProcessingTimeout <= 0 {
		return errors.New("ProcessingTimeout must be greater than 0")
	}
	return nil
}

// OutboxProcessor delivers appointment events written by the API: each event
// is published to the broker and, when it concerns a patient with an email
// address, mailed to them. Delivery is at least once.
type OutboxProcessor struct {
	repo    repository.OutboxRepository
	broker  messaging.Broker
	mailer  email.Service
	config  OutboxProcessorConfig
	logger  zerolog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewOutboxProcessor(
	repo repository.OutboxRepository,
	broker messaging.Broker,
	mailer email.Service,
	config OutboxProcessorConfig,
	logger zerolog.Logger,
	metrics *metrics.Metrics,
) (*OutboxProcessor, error) {
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid outbox processor config: %w", err)
	}

	return &OutboxProcessor{
		repo:    repo,
		broker:  broker,
		mailer:  mailer,
		config:  config,
		logger:  logger.With().Str("component", "outbox-processor").Logger(),
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// Start polls until ctx is cancelled.
func (p *OutboxProcessor) Start(ctx context.Context) {
	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()
	cleanup := time.NewTicker(cleanupInterval)
	defer cleanup.Stop()

	p.logger.Info().Dur("poll_interval", p.config.PollInterval).Msg("Starting outbox processor")

	for {
		select {
		case <-ctx.Done():
			p.logger.Info().Msg("Shutting down outbox processor")
			return
		case <-ticker.C:
			if _, err := p.ProcessBatch(ctx); err != nil && ctx.Err() == nil {
				p.logger.Error().Err(err).Msg("Failed to process events")
			}
		case <-cleanup.C:
			if err := p.Cleanup(ctx); err != nil && ctx.Err() == nil {
				p.logger.Error().Err(err).Msg("Failed to clean up processed events")
			}
		}
	}
}

// ProcessBatch claims up to BatchSize due events and handles each of them.
// It returns the number of events delivered.
func (p *OutboxProcessor) ProcessBatch(ctx context.Context) (int, error) {
	events, err := p.repo.ClaimPending(ctx, p.config.BatchSize, p.now().Add(-p.config.ProcessingTimeout))
	p.metrics.DBOperation("claim_outbox_events", err)
	if err != nil {
		return 0, fmt.Errorf("failed to claim pending events: %w", err)
	}

	delivered := 0
	for _, event := range events {
		if err := p.processEvent(ctx, event); err != nil {
			p.logger.Warn().Err(err).
				Str("event_id", event.ID.String()).
				Str("event_type", event.EventType).
				Int("retry_count", event.RetryCount).
				Msg("Failed to process event")
			continue
		}
		delivered++
	}
	return delivered, nil
}

func (p *OutboxProcessor) processEvent(ctx context.Context, event *model.OutboxEvent) error {
	var timer *prometheus.Timer
	if p.metrics != nil {
		timer = prometheus.NewTimer(p.metrics.OutboxProcessingLatency)
	}

	err := p.deliver(ctx, event)
	if timer != nil {
		timer.ObserveDuration()
	}
	if err != nil {
		p.handleFailure(ctx, event, err)
		return err
	}

	if p.metrics != nil {
		p.metrics.OutboxEventsProcessed.Inc()
	}
	if err := p.repo.MarkProcessed(ctx, event.ID); err != nil {
		p.logger.Error().Err(err).Str("event_id", event.ID.String()).Msg("Failed to update event status")
		return err
	}
	return nil
}

func (p *OutboxProcessor) deliver(ctx context.Context, event *model.OutboxEvent) error {
	msg := messaging.Message{
		ID:          event.ID,
		Type:        event.EventType,
		AggregateID: event.AggregateID,
		OccurredAt:  event.CreatedAt,
		Payload:     event.Payload,
	}
	if err := p.broker.Publish(ctx, p.config.Channel, msg); err != nil {
		return fmt.Errorf("publish: %w", err)
	}

	var payload model.AppointmentEvent
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	subject, body, ok := email.AppointmentMessage(event.EventType, &payload)
	if !ok {
		return nil
	}
	if err := p.mailer.SendCustom(ctx, payload.PatientEmail, subject, body); err != nil {
		return fmt.Errorf("notify patient: %w", err)
	}
	return nil
}

func (p *OutboxProcessor) handleFailure(ctx context.Context, event *model.OutboxEvent, cause error) {
	attempt := event.RetryCount + 1
	if attempt >= p.config.RetryAttempts {
		if p.metrics != nil {
			p.metrics.OutboxEventsFailed.Inc()
		}
		if err := p.repo.MarkFailed(ctx, event.ID, cause.Error()); err != nil {
			p.logger.Error().Err(err).Str("event_id", event.ID.String()).Msg("Failed to mark event failed")
		}
		return
	}

	if p.metrics != nil {
		p.metrics.OutboxRetries.WithLabelValues(event.EventType).Inc()
	}
	retryAt := p.now().Add(backoff(p.config.RetryDelay, event.RetryCount))
	if err := p.repo.MarkRetry(ctx, event.ID, cause.Error(), retryAt); err != nil {
		p.logger.Error().Err(err).Str("event_id", event.ID.String()).Msg("Failed to schedule retry")
	}
}

// Cleanup deletes processed events older than the retention period.
func (p *OutboxProcessor) Cleanup(ctx context.Context) error {
	if p.config.Retention <= 0 {
		return nil
	}
	cutoff := p.now().Add(-p.config.Retention)

	n, err := p.repo.DeleteProcessedBefore(ctx, cutoff)
	p.metrics.DBOperation("delete_processed_events", err)
	if err != nil {
		return fmt.Errorf("failed to cleanup outbox events: %w", err)
	}
	if n > 0 {
		p.logger.Info().Int64("deleted", n).Time("cutoff", cutoff).Msg("Cleaned up processed events")
	}
	return nil
}

// backoff doubles delay for every previous attempt, capped at maxRetryDelay.
func backoff(delay time.Duration, previousAttempts int) time.Duration {
	d := delay
	for i := 0; i < previousAttempts; i++ {
		d *= 2
		if d >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	return d
}
