package appointment

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/internal/repository"
	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
	"github.com/jwalitptl/clinic-api/pkg/metrics"
)

const (
	MinReasonLength = 3
	MaxReasonLength = 200

	maxListLimit = 500
)

// Service guards the booking invariant: no two appointments for the same
// doctor may occupy overlapping [start, end) windows.
type Service struct {
	repo    repository.AppointmentRepository
	policy  model.OverlapPolicy
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewService(repo repository.AppointmentRepository, policy model.OverlapPolicy, m *metrics.Metrics) *Service {
	return &Service{
		repo:    repo,
		policy:  policy,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func validateBooking(b *model.Booking) error {
	if b.DoctorID == uuid.Nil {
		return apperrors.Validation("doctor_id is required")
	}
	if b.StartAt.IsZero() || b.EndAt.IsZero() {
		return apperrors.Validation("start_at and end_at are required")
	}
	if !b.EndAt.After(b.StartAt) {
		return apperrors.Validation("end_at must be after start_at")
	}
	// Reason is optional; when given it must be a meaningful length.
	if n := utf8.RuneCountInString(strings.TrimSpace(b.Reason)); n > 0 && (n < MinReasonLength || n > MaxReasonLength) {
		return apperrors.Validation(fmt.Sprintf("reason must be between %d and %d characters", MinReasonLength, MaxReasonLength))
	}
	return nil
}

// Book creates a pending appointment unless it overlaps an existing one for
// the same doctor. The overlap check and the insert are one atomic unit in
// the repository. Anonymous callers may book; the creator is then left empty.
func (s *Service) Book(ctx context.Context, caller model.Caller, b *model.Booking) (*model.Appointment, error) {
	if err := validateBooking(b); err != nil {
		return nil, err
	}

	now := s.now()
	apt := &model.Appointment{
		Base: model.Base{
			ID:        uuid.New(),
			CreatedAt: now,
			UpdatedAt: now,
		},
		DoctorID:         b.DoctorID,
		StartAt:          b.StartAt.UTC(),
		EndAt:            b.EndAt.UTC(),
		Status:           model.AppointmentStatusPending,
		CreatedByUserID:  caller.UserID(),
		Reason:           strings.TrimSpace(b.Reason),
		PatientName:      strings.TrimSpace(b.PatientName),
		PatientEmail:     model.NormalizeEmail(b.PatientEmail),
		PatientPhone:     strings.TrimSpace(b.PatientPhone),
		Service:          strings.TrimSpace(b.Service),
		PaymentReference: b.PaymentReference,
	}

	evt, err := model.NewAppointmentEvent(model.EventAppointmentBooked, apt, "")
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	log := zerolog.Ctx(ctx).With().
		Str("doctor_id", apt.DoctorID.String()).
		Time("start_at", apt.StartAt).
		Time("end_at", apt.EndAt).
		Logger()

	if err := s.repo.CreateIfNoOverlap(ctx, apt, s.policy, evt); err != nil {
		if appErr, ok := apperrors.As(err); ok && appErr.Code == apperrors.CodeOverlap {
			s.metrics.Conflict()
			ev := log.Info()
			if appErr.ConflictID != nil {
				ev = ev.Str("conflict_id", appErr.ConflictID.String())
			}
			ev.Msg("booking rejected: slot taken")
		}
		return nil, err
	}

	s.metrics.Booked()
	log.Info().Str("appointment_id", apt.ID.String()).Bool("anonymous", caller.IsAnonymous()).Msg("appointment booked")
	return apt, nil
}

func ownedBy(apt *model.Appointment, caller model.Caller) bool {
	id := caller.UserID()
	return id != nil && apt.CreatedByUserID != nil && *apt.CreatedByUserID == *id
}

// Get returns one appointment. Non-admins only see their own; anything else
// is reported as not found.
func (s *Service) Get(ctx context.Context, caller model.Caller, id uuid.UUID) (*model.Appointment, error) {
	if caller.IsAnonymous() {
		return nil, apperrors.Unauthenticated("authentication required")
	}

	apt, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !caller.IsAdmin() && !ownedBy(apt, caller) {
		return nil, apperrors.NotFound("appointment", nil)
	}
	return apt, nil
}

func normalizeFilters(filters *model.AppointmentFilters) (*model.AppointmentFilters, error) {
	f := model.AppointmentFilters{}
	if filters != nil {
		f = *filters
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, apperrors.Validation(fmt.Sprintf("unknown status %q", f.Status))
	}
	if f.From != nil && f.To != nil && !f.To.After(*f.From) {
		return nil, apperrors.Validation("to must be after from")
	}
	if f.Limit <= 0 || f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	f.PatientEmail = model.NormalizeEmail(f.PatientEmail)
	return &f, nil
}

// List returns matching appointments ordered by start time. Non-admin callers
// are restricted to appointments they created, whatever creator filter they pass.
func (s *Service) List(ctx context.Context, caller model.Caller, filters *model.AppointmentFilters) ([]*model.Appointment, error) {
	if caller.IsAnonymous() {
		return nil, apperrors.Unauthenticated("authentication required")
	}

	f, err := normalizeFilters(filters)
	if err != nil {
		return nil, err
	}
	if !caller.IsAdmin() {
		f.CreatedBy = caller.UserID()
	}
	return s.repo.List(ctx, f)
}

// ListWithCreators is the admin view: appointments joined with their creator.
func (s *Service) ListWithCreators(ctx context.Context, caller model.Caller, filters *model.AppointmentFilters) ([]*model.AppointmentWithCreator, error) {
	if !caller.IsAdmin() {
		return nil, apperrors.Forbidden("admin access required")
	}

	f, err := normalizeFilters(filters)
	if err != nil {
		return nil, err
	}
	return s.repo.ListWithCreators(ctx, f)
}

// UpdateStatus moves an appointment along its lifecycle. The write is
// conditional on the status read here, so a concurrent change surfaces as a
// conflict instead of being overwritten.
func (s *Service) UpdateStatus(ctx context.Context, caller model.Caller, id uuid.UUID, to model.AppointmentStatus) (*model.Appointment, error) {
	if !caller.IsAdmin() {
		return nil, apperrors.Forbidden("admin access required")
	}
	if !to.Valid() {
		return nil, apperrors.Validation(fmt.Sprintf("unknown status %q", to))
	}

	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	from := current.Status
	if !from.CanTransitionTo(to) {
		return nil, apperrors.Validation(fmt.Sprintf("cannot change status from %s to %s", from, to))
	}

	next := *current
	next.Status = to
	evt, err := model.NewAppointmentEvent(model.EventAppointmentStatusChanged, &next, from)
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	updated, err := s.repo.UpdateStatus(ctx, id, from, to, evt)
	if err != nil {
		return nil, err
	}

	s.metrics.Transition(string(to))
	zerolog.Ctx(ctx).Info().
		Str("appointment_id", id.String()).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("appointment status changed")
	return updated, nil
}
