package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/internal/repository"
)

type outboxRepository struct {
	BaseRepository
}

func NewOutboxRepository(base BaseRepository) repository.OutboxRepository {
	return &outboxRepository{base}
}

func insertOutboxEvent(ctx context.Context, tx *sqlx.Tx, evt *model.OutboxEvent) error {
	query := `
		INSERT INTO outbox_events (
			id, event_type, aggregate_id, payload, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := tx.ExecContext(ctx, query,
		evt.ID,
		evt.EventType,
		evt.AggregateID,
		[]byte(evt.Payload),
		evt.Status,
		evt.CreatedAt,
		evt.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create outbox event: %w", err)
	}
	return nil
}

func (r *outboxRepository) ClaimPending(ctx context.Context, limit int, stuckBefore time.Time) ([]*model.OutboxEvent, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `
		UPDATE outbox_events
		SET status = $1, updated_at = NOW()
		WHERE id IN (
			SELECT id FROM outbox_events
			WHERE (
				status IN ($2, $3)
				AND (retry_at IS NULL OR retry_at <= NOW())
			) OR (
				status = $1 AND updated_at < $4
			)
			ORDER BY created_at ASC
			LIMIT $5
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, event_type, aggregate_id, payload, status, error_message,
			retry_count, retry_at, created_at, processed_at, updated_at
	`
	events := []*model.OutboxEvent{}
	err := r.db.SelectContext(ctx, &events, query,
		model.OutboxStatusProcessing,
		model.OutboxStatusPending,
		model.OutboxStatusRetry,
		stuckBefore,
		limit,
	)
	if err != nil {
		return nil, mapError(err, "outbox events")
	}
	return events, nil
}

func (r *outboxRepository) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `
		UPDATE outbox_events
		SET status = $1, error_message = NULL, processed_at = NOW(), updated_at = NOW()
		WHERE id = $2
	`
	_, err := r.db.ExecContext(ctx, query, model.OutboxStatusProcessed, id)
	return mapError(err, "outbox event")
}

func (r *outboxRepository) MarkRetry(ctx context.Context, id uuid.UUID, errorMessage string, retryAt time.Time) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `
		UPDATE outbox_events
		SET status = $1, error_message = $2, retry_at = $3,
			retry_count = retry_count + 1, updated_at = NOW()
		WHERE id = $4
	`
	_, err := r.db.ExecContext(ctx, query, model.OutboxStatusRetry, errorMessage, retryAt, id)
	return mapError(err, "outbox event")
}

func (r *outboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `
		UPDATE outbox_events
		SET status = $1, error_message = $2, retry_count = retry_count + 1, updated_at = NOW()
		WHERE id = $3
	`
	_, err := r.db.ExecContext(ctx, query, model.OutboxStatusFailed, errorMessage, id)
	return mapError(err, "outbox event")
}

func (r *outboxRepository) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `
		DELETE FROM outbox_events
		WHERE status = $1
		AND processed_at < $2
	`
	result, err := r.db.ExecContext(ctx, query, model.OutboxStatusProcessed, before)
	if err != nil {
		return 0, mapError(err, "outbox events")
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}
