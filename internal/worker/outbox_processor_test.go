package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/internal/repository/memory"
	"github.com/jwalitptl/clinic-api/pkg/messaging"
	"github.com/jwalitptl/clinic-api/pkg/metrics"
)

type fakeBroker struct {
	mu       sync.Mutex
	fail     error
	channels []string
	messages []messaging.Message
}

func (b *fakeBroker) Publish(_ context.Context, channel string, message interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail != nil {
		return b.fail
	}
	b.channels = append(b.channels, channel)
	b.messages = append(b.messages, message.(messaging.Message))
	return nil
}

func (b *fakeBroker) Ping(context.Context) error { return nil }
func (b *fakeBroker) Close() error               { return nil }

type sentMail struct{ to, subject string }

type fakeMailer struct {
	sent []sentMail
}

func (m *fakeMailer) SendCustom(_ context.Context, to, subject, _ string) error {
	m.sent = append(m.sent, sentMail{to, subject})
	return nil
}

type harness struct {
	store     *memory.Store
	broker    *fakeBroker
	mailer    *fakeMailer
	metrics   *metrics.Metrics
	processor *OutboxProcessor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:   memory.NewStore(),
		broker:  &fakeBroker{},
		mailer:  &fakeMailer{},
		metrics: metrics.NewMetrics("test", prometheus.NewRegistry()),
	}
	p, err := NewOutboxProcessor(memory.NewOutboxRepository(h.store), h.broker, h.mailer, OutboxProcessorConfig{
		Channel:           "clinic.appointments",
		BatchSize:         10,
		PollInterval:      time.Second,
		RetryAttempts:     3,
		RetryDelay:        time.Millisecond,
		Retention:         7 * 24 * time.Hour,
		ProcessingTimeout: 5 * time.Minute,
	}, zerolog.Nop(), h.metrics)
	require.NoError(t, err)
	// Retries become due immediately.
	p.now = func() time.Time { return time.Now().UTC().Add(-time.Hour) }
	h.processor = p
	return h
}

func (h *harness) book(t *testing.T, patientEmail string) *model.Appointment {
	t.Helper()
	start := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	apt := &model.Appointment{
		Base:         model.Base{ID: uuid.New()},
		DoctorID:     uuid.New(),
		StartAt:      start,
		EndAt:        start.Add(30 * time.Minute),
		Status:       model.AppointmentStatusPending,
		Reason:       "check-up",
		PatientName:  "Sara",
		PatientEmail: patientEmail,
	}
	evt, err := model.NewAppointmentEvent(model.EventAppointmentBooked, apt, "")
	require.NoError(t, err)
	require.NoError(t, memory.NewAppointmentRepository(h.store).CreateIfNoOverlap(context.Background(), apt, model.OverlapPolicy{}, evt))
	return apt
}

func TestProcessBatchDelivers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	apt := h.book(t, "sara@example.com")
	h.book(t, "")

	n, err := h.processor.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.Len(t, h.broker.messages, 2)
	assert.Equal(t, []string{"clinic.appointments", "clinic.appointments"}, h.broker.channels)
	msg := h.broker.messages[0]
	assert.Equal(t, model.EventAppointmentBooked, msg.Type)
	assert.Equal(t, apt.ID, msg.AggregateID)
	var payload model.AppointmentEvent
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	assert.Equal(t, apt.ID, payload.AppointmentID)

	require.Len(t, h.mailer.sent, 1, "only patients with an email are notified")
	assert.Equal(t, "sara@example.com", h.mailer.sent[0].to)

	for _, e := range h.store.Events() {
		assert.Equal(t, model.OutboxStatusProcessed, e.Status)
		assert.NotNil(t, e.ProcessedAt)
	}
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.OutboxEventsProcessed))

	n, err = h.processor.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "processed events are not claimed again")
}

func TestProcessBatchRetriesThenFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.book(t, "sara@example.com")
	h.broker.fail = errors.New("connection refused")

	for round := 1; round <= 2; round++ {
		n, err := h.processor.ProcessBatch(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)

		events := h.store.Events()
		require.Len(t, events, 1)
		assert.Equal(t, model.OutboxStatusRetry, events[0].Status, "round %d", round)
		assert.Equal(t, round, events[0].RetryCount)
		require.NotNil(t, events[0].ErrorMessage)
		assert.Contains(t, *events[0].ErrorMessage, "connection refused")
	}

	_, err := h.processor.ProcessBatch(ctx)
	require.NoError(t, err)
	events := h.store.Events()
	assert.Equal(t, model.OutboxStatusFailed, events[0].Status)
	assert.Equal(t, 3, events[0].RetryCount)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.OutboxEventsFailed))
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.OutboxRetries.WithLabelValues(model.EventAppointmentBooked)))

	h.broker.fail = nil
	n, err := h.processor.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "failed events stay failed")
	assert.Empty(t, h.mailer.sent)
}

func TestProcessBatchReclaimsAbandonedEvents(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.book(t, "")

	// A previous worker claimed the event and never reported back.
	claimed, err := memory.NewOutboxRepository(h.store).ClaimPending(ctx, 10, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	h.processor.now = func() time.Time { return time.Now().UTC() }
	n, err := h.processor.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "an in-flight event is left alone")

	h.processor.now = func() time.Time { return time.Now().UTC().Add(10 * time.Minute) }
	n, err = h.processor.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, model.OutboxStatusProcessed, h.store.Events()[0].Status)
}

func TestCleanup(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.book(t, "")
	_, err := h.processor.ProcessBatch(ctx)
	require.NoError(t, err)

	h.processor.now = func() time.Time { return time.Now().UTC() }
	require.NoError(t, h.processor.Cleanup(ctx))
	assert.Len(t, h.store.Events(), 1, "recent events are kept")

	h.processor.now = func() time.Time { return time.Now().UTC().Add(8 * 24 * time.Hour) }
	require.NoError(t, h.processor.Cleanup(ctx))
	assert.Empty(t, h.store.Events())
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, 30*time.Second, backoff(30*time.Second, 0))
	assert.Equal(t, 2*time.Minute, backoff(30*time.Second, 2))
	assert.Equal(t, time.Hour, backoff(30*time.Second, 20))
}

func TestNewOutboxProcessorValidatesConfig(t *testing.T) {
	_, err := NewOutboxProcessor(nil, nil, nil, OutboxProcessorConfig{Channel: "c", BatchSize: 1, PollInterval: time.Second, RetryAttempts: 0, RetryDelay: time.Second, ProcessingTimeout: time.Minute}, zerolog.Nop(), nil)
	assert.ErrorContains(t, err, "RetryAttempts")

	_, err = NewOutboxProcessor(nil, nil, nil, OutboxProcessorConfig{Channel: "c", BatchSize: 1, PollInterval: time.Second, RetryAttempts: 1, RetryDelay: time.Second}, zerolog.Nop(), nil)
	assert.ErrorContains(t, err, "ProcessingTimeout")

	_, err = NewOutboxProcessor(nil, nil, nil, OutboxProcessorConfig{BatchSize: 1}, zerolog.Nop(), nil)
	assert.ErrorContains(t, err, "channel")
}
