package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-api/internal/model"
)

// All repository interfaces in one file. Implementations translate storage
// failures into pkg/errors values: missing rows become CodeNotFound, unique
// violations CodeDuplicateIdentity or CodeConflict, and overlapping bookings
// CodeOverlap.
type (
	AppointmentRepository interface {
		// CreateIfNoOverlap inserts apt unless a blocking appointment for the
		// same doctor intersects [apt.StartAt, apt.EndAt). The check and the
		// insert are one unit of work. evt, when non-nil, is stored with it.
		CreateIfNoOverlap(ctx context.Context, apt *model.Appointment, policy model.OverlapPolicy, evt *model.OutboxEvent) error
		Get(ctx context.Context, id uuid.UUID) (*model.Appointment, error)
		List(ctx context.Context, filters *model.AppointmentFilters) ([]*model.Appointment, error)
		ListWithCreators(ctx context.Context, filters *model.AppointmentFilters) ([]*model.AppointmentWithCreator, error)
		// UpdateStatus moves id from `from` to `to`; it fails with CodeConflict
		// when the stored status is no longer `from`.
		UpdateStatus(ctx context.Context, id uuid.UUID, from, to model.AppointmentStatus, evt *model.OutboxEvent) (*model.Appointment, error)
	}

	UserRepository interface {
		Create(ctx context.Context, user *model.User) error
		Get(ctx context.Context, id uuid.UUID) (*model.User, error)
		GetByEmail(ctx context.Context, email string) (*model.User, error)
		GetByGoogleID(ctx context.Context, googleID string) (*model.User, error)
		Update(ctx context.Context, user *model.User) error
	}

	PatientRepository interface {
		Create(ctx context.Context, patient *model.Patient) error
		Get(ctx context.Context, id uuid.UUID) (*model.Patient, error)
		Update(ctx context.Context, patient *model.Patient) error
		Delete(ctx context.Context, id uuid.UUID) error
		List(ctx context.Context, filters *model.PatientFilters) ([]*model.Patient, error)
	}

	OutboxRepository interface {
		// ClaimPending marks up to limit due events as PROCESSING and returns them.
		// Events left PROCESSING since before stuckBefore are claimed again.
		ClaimPending(ctx context.Context, limit int, stuckBefore time.Time) ([]*model.OutboxEvent, error)
		MarkProcessed(ctx context.Context, id uuid.UUID) error
		MarkRetry(ctx context.Context, id uuid.UUID, errorMessage string, retryAt time.Time) error
		MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string) error
		DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
	}

	// Pinger reports storage readiness.
	Pinger interface {
		Ping(ctx context.Context) error
	}
)
