package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/internal/repository"
	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
)

type outboxRepository struct {
	s *Store
}

func NewOutboxRepository(s *Store) repository.OutboxRepository {
	return &outboxRepository{s: s}
}

func (r *outboxRepository) ClaimPending(ctx context.Context, limit int, stuckBefore time.Time) ([]*model.OutboxEvent, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	now := r.s.now()
	var out []*model.OutboxEvent
	for _, e := range r.s.events {
		if len(out) == limit {
			break
		}
		switch e.Status {
		case model.OutboxStatusPending, model.OutboxStatusRetry:
			if e.RetryAt != nil && e.RetryAt.After(now) {
				continue
			}
		case model.OutboxStatusProcessing:
			if !e.UpdatedAt.Before(stuckBefore) {
				continue
			}
		default:
			continue
		}
		e.Status = model.OutboxStatusProcessing
		e.UpdatedAt = now
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

func (r *outboxRepository) update(ctx context.Context, id uuid.UUID, fn func(*model.OutboxEvent)) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, e := range r.s.events {
		if e.ID == id {
			fn(e)
			e.UpdatedAt = r.s.now()
			return nil
		}
	}
	return apperrors.NotFound("outbox event", nil)
}

func (r *outboxRepository) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	return r.update(ctx, id, func(e *model.OutboxEvent) {
		now := r.s.now()
		e.Status = model.OutboxStatusProcessed
		e.ErrorMessage = nil
		e.ProcessedAt = &now
	})
}

func (r *outboxRepository) MarkRetry(ctx context.Context, id uuid.UUID, errorMessage string, retryAt time.Time) error {
	return r.update(ctx, id, func(e *model.OutboxEvent) {
		e.Status = model.OutboxStatusRetry
		e.ErrorMessage = &errorMessage
		e.RetryAt = &retryAt
		e.RetryCount++
	})
}

func (r *outboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string) error {
	return r.update(ctx, id, func(e *model.OutboxEvent) {
		e.Status = model.OutboxStatusFailed
		e.ErrorMessage = &errorMessage
		e.RetryCount++
	})
}

func (r *outboxRepository) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	if err := checkCtx(ctx); err != nil {
		return 0, err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	kept := r.s.events[:0]
	var n int64
	for _, e := range r.s.events {
		if e.Status == model.OutboxStatusProcessed && e.ProcessedAt != nil && e.ProcessedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	r.s.events = kept
	return n, nil
}
