package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/internal/repository"
	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
)

type appointmentRepository struct {
	s *Store
}

func NewAppointmentRepository(s *Store) repository.AppointmentRepository {
	return &appointmentRepository{s: s}
}

func (r *appointmentRepository) CreateIfNoOverlap(ctx context.Context, apt *model.Appointment, policy model.OverlapPolicy, evt *model.OutboxEvent) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if conflict := r.firstConflict(apt, policy); conflict != nil {
		return apperrors.Overlap(conflict.ID)
	}

	cp := *apt
	r.s.appointments[apt.ID] = &cp
	r.s.addEvent(evt)
	return nil
}

// firstConflict returns the earliest blocking appointment. Caller holds the lock.
func (r *appointmentRepository) firstConflict(apt *model.Appointment, policy model.OverlapPolicy) *model.Appointment {
	var found *model.Appointment
	for _, existing := range r.s.appointments {
		if existing.DoctorID != apt.DoctorID || existing.DeletedAt != nil {
			continue
		}
		if !policy.Blocks(existing.Status) || !existing.Overlaps(apt.StartAt, apt.EndAt) {
			continue
		}
		if found == nil || existing.StartAt.Before(found.StartAt) {
			found = existing
		}
	}
	return found
}

func (r *appointmentRepository) Get(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}

	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	apt, ok := r.s.appointments[id]
	if !ok || apt.DeletedAt != nil {
		return nil, apperrors.NotFound("appointment", nil)
	}
	cp := *apt
	return &cp, nil
}

func matches(apt *model.Appointment, f *model.AppointmentFilters) bool {
	if apt.DeletedAt != nil {
		return false
	}
	if f == nil {
		return true
	}
	if f.DoctorID != nil && apt.DoctorID != *f.DoctorID {
		return false
	}
	if f.PatientEmail != "" && model.NormalizeEmail(apt.PatientEmail) != model.NormalizeEmail(f.PatientEmail) {
		return false
	}
	if f.Status != "" && apt.Status != f.Status {
		return false
	}
	if f.CreatedBy != nil && (apt.CreatedByUserID == nil || *apt.CreatedByUserID != *f.CreatedBy) {
		return false
	}
	if f.From != nil && !apt.EndAt.After(*f.From) {
		return false
	}
	if f.To != nil && !apt.StartAt.Before(*f.To) {
		return false
	}
	return true
}

func (r *appointmentRepository) List(ctx context.Context, filters *model.AppointmentFilters) ([]*model.Appointment, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}

	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := []*model.Appointment{}
	for _, apt := range r.s.appointments {
		if matches(apt, filters) {
			cp := *apt
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartAt.Equal(out[j].StartAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].StartAt.Before(out[j].StartAt)
	})
	if filters != nil && filters.Limit > 0 && len(out) > filters.Limit {
		out = out[:filters.Limit]
	}
	return out, nil
}

func (r *appointmentRepository) ListWithCreators(ctx context.Context, filters *model.AppointmentFilters) ([]*model.AppointmentWithCreator, error) {
	appointments, err := r.List(ctx, filters)
	if err != nil {
		return nil, err
	}

	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]*model.AppointmentWithCreator, 0, len(appointments))
	for _, apt := range appointments {
		item := &model.AppointmentWithCreator{Appointment: *apt}
		if apt.CreatedByUserID != nil {
			if u, ok := r.s.users[*apt.CreatedByUserID]; ok {
				summary := u.Summary()
				item.Creator = &summary
			}
		}
		out = append(out, item)
	}
	return out, nil
}

func (r *appointmentRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to model.AppointmentStatus, evt *model.OutboxEvent) (*model.Appointment, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	apt, ok := r.s.appointments[id]
	if !ok || apt.DeletedAt != nil {
		return nil, apperrors.NotFound("appointment", nil)
	}
	if apt.Status != from {
		return nil, apperrors.Conflict(fmt.Sprintf("appointment status is %s, expected %s", apt.Status, from), nil)
	}

	apt.Status = to
	apt.UpdatedAt = r.s.now()
	r.s.addEvent(evt)

	cp := *apt
	return &cp, nil
}
