// Package memory holds process-local repositories for development and tests.
// All repositories built from one Store share its lock, so a check and the
// write that follows it are atomic.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-api/internal/model"
	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
)

type Store struct {
	mu           sync.RWMutex
	users        map[uuid.UUID]*model.User
	patients     map[uuid.UUID]*model.Patient
	appointments map[uuid.UUID]*model.Appointment
	events       []*model.OutboxEvent
	now          func() time.Time
}

func NewStore() *Store {
	return &Store{
		users:        make(map[uuid.UUID]*model.User),
		patients:     make(map[uuid.UUID]*model.Patient),
		appointments: make(map[uuid.UUID]*model.Appointment),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return checkCtx(ctx)
}

// Events returns a snapshot of the stored outbox events.
func (s *Store) Events() []model.OutboxEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.OutboxEvent, len(s.events))
	for i, e := range s.events {
		out[i] = *e
	}
	return out
}

func (s *Store) addEvent(evt *model.OutboxEvent) {
	if evt == nil {
		return
	}
	cp := *evt
	s.events = append(s.events, &cp)
}

func checkCtx(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Unavailable(err)
	}
	return nil
}
