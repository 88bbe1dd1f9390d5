package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/internal/repository"
	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
)

const appointmentColumns = `id, doctor_id, start_at, end_at, status, created_by_user_id, reason,
	patient_name, patient_email, patient_phone, service, payment_reference,
	created_at, updated_at, deleted_at`

type appointmentRepository struct {
	BaseRepository
}

func NewAppointmentRepository(base BaseRepository) repository.AppointmentRepository {
	return &appointmentRepository{base}
}

func (r *appointmentRepository) CreateIfNoOverlap(ctx context.Context, apt *model.Appointment, policy model.OverlapPolicy, evt *model.OutboxEvent) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		// Serializes writers per doctor until commit; readers are not blocked.
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, apt.DoctorID.String()); err != nil {
			return fmt.Errorf("failed to lock doctor schedule: %w", err)
		}

		conflictID, err := findConflict(ctx, tx, apt, policy)
		if err != nil {
			return err
		}
		if conflictID != uuid.Nil {
			return apperrors.Overlap(conflictID)
		}

		query := `
			INSERT INTO appointments (
				id, doctor_id, start_at, end_at, status, created_by_user_id, reason,
				patient_name, patient_email, patient_phone, service, payment_reference,
				created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		`
		if _, err := tx.ExecContext(ctx, query,
			apt.ID,
			apt.DoctorID,
			apt.StartAt,
			apt.EndAt,
			apt.Status,
			apt.CreatedByUserID,
			apt.Reason,
			apt.PatientName,
			apt.PatientEmail,
			apt.PatientPhone,
			apt.Service,
			apt.PaymentReference,
			apt.CreatedAt,
			apt.UpdatedAt,
		); err != nil {
			return fmt.Errorf("failed to create appointment: %w", err)
		}

		if evt != nil {
			return insertOutboxEvent(ctx, tx, evt)
		}
		return nil
	})
	return mapError(err, "appointment")
}

func findConflict(ctx context.Context, tx *sqlx.Tx, apt *model.Appointment, policy model.OverlapPolicy) (uuid.UUID, error) {
	query := `
		SELECT id FROM appointments
		WHERE doctor_id = $1
		AND deleted_at IS NULL
		AND start_at < $3
		AND end_at > $2`
	args := []interface{}{apt.DoctorID, apt.StartAt, apt.EndAt}

	if ignored := policy.IgnoredStrings(); len(ignored) > 0 {
		query += fmt.Sprintf(" AND status <> ALL($%d)", len(args)+1)
		args = append(args, pq.Array(ignored))
	}
	query += " ORDER BY start_at ASC LIMIT 1"

	var id uuid.UUID
	if err := tx.GetContext(ctx, &id, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return uuid.Nil, nil
		}
		return uuid.Nil, fmt.Errorf("failed to check conflicts: %w", err)
	}
	return id, nil
}

func (r *appointmentRepository) Get(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE id = $1 AND deleted_at IS NULL`

	var appointment model.Appointment
	if err := r.db.GetContext(ctx, &appointment, query, id); err != nil {
		return nil, mapError(err, "appointment")
	}
	return &appointment, nil
}

func appointmentWhere(filters *model.AppointmentFilters, prefix string) (string, []interface{}) {
	conds := []string{prefix + "deleted_at IS NULL"}
	var args []interface{}
	if filters == nil {
		return strings.Join(conds, " AND "), args
	}

	add := func(cond string, v interface{}) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, prefix, len(args)))
	}
	if filters.DoctorID != nil {
		add("%sdoctor_id = $%d", *filters.DoctorID)
	}
	if filters.PatientEmail != "" {
		add("LOWER(%spatient_email) = $%d", model.NormalizeEmail(filters.PatientEmail))
	}
	if filters.Status != "" {
		add("%sstatus = $%d", filters.Status)
	}
	if filters.CreatedBy != nil {
		add("%screated_by_user_id = $%d", *filters.CreatedBy)
	}
	if filters.From != nil {
		add("%send_at > $%d", *filters.From)
	}
	if filters.To != nil {
		add("%sstart_at < $%d", *filters.To)
	}
	return strings.Join(conds, " AND "), args
}

func limitClause(filters *model.AppointmentFilters, args []interface{}) (string, []interface{}) {
	if filters == nil || filters.Limit <= 0 {
		return "", args
	}
	args = append(args, filters.Limit)
	return fmt.Sprintf(" LIMIT $%d", len(args)), args
}

func (r *appointmentRepository) List(ctx context.Context, filters *model.AppointmentFilters) ([]*model.Appointment, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	where, args := appointmentWhere(filters, "")
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE ` + where + ` ORDER BY start_at ASC, id ASC`
	limit, args := limitClause(filters, args)
	query += limit

	appointments := []*model.Appointment{}
	if err := r.db.SelectContext(ctx, &appointments, query, args...); err != nil {
		return nil, mapError(err, "appointments")
	}
	return appointments, nil
}

type appointmentCreatorRow struct {
	model.Appointment
	CreatorID    *uuid.UUID `db:"creator_id"`
	CreatorName  *string    `db:"creator_name"`
	CreatorEmail *string    `db:"creator_email"`
}

func (r *appointmentRepository) ListWithCreators(ctx context.Context, filters *model.AppointmentFilters) ([]*model.AppointmentWithCreator, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	where, args := appointmentWhere(filters, "a.")
	query := `
		SELECT a.id, a.doctor_id, a.start_at, a.end_at, a.status, a.created_by_user_id, a.reason,
			a.patient_name, a.patient_email, a.patient_phone, a.service, a.payment_reference,
			a.created_at, a.updated_at, a.deleted_at,
			u.id AS creator_id, u.full_name AS creator_name, u.email AS creator_email
		FROM appointments a
		LEFT JOIN users u ON u.id = a.created_by_user_id
		WHERE ` + where + `
		ORDER BY a.start_at ASC, a.id ASC`
	limit, args := limitClause(filters, args)
	query += limit

	var rows []appointmentCreatorRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, mapError(err, "appointments")
	}

	out := make([]*model.AppointmentWithCreator, 0, len(rows))
	for i := range rows {
		item := &model.AppointmentWithCreator{Appointment: rows[i].Appointment}
		if rows[i].CreatorID != nil {
			item.Creator = &model.UserSummary{ID: *rows[i].CreatorID}
			if rows[i].CreatorName != nil {
				item.Creator.FullName = *rows[i].CreatorName
			}
			if rows[i].CreatorEmail != nil {
				item.Creator.Email = *rows[i].CreatorEmail
			}
		}
		out = append(out, item)
	}
	return out, nil
}

func (r *appointmentRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to model.AppointmentStatus, evt *model.OutboxEvent) (*model.Appointment, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var appointment model.Appointment
	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		query := `
			UPDATE appointments
			SET status = $1, updated_at = NOW()
			WHERE id = $2 AND status = $3 AND deleted_at IS NULL
			RETURNING ` + appointmentColumns
		err := tx.GetContext(ctx, &appointment, query, to, id, from)
		if errors.Is(err, sql.ErrNoRows) {
			var current model.AppointmentStatus
			lookup := `SELECT status FROM appointments WHERE id = $1 AND deleted_at IS NULL`
			if err := tx.GetContext(ctx, &current, lookup, id); err != nil {
				return err
			}
			return apperrors.Conflict(fmt.Sprintf("appointment status is %s, expected %s", current, from), nil)
		}
		if err != nil {
			return fmt.Errorf("failed to update appointment status: %w", err)
		}

		if evt != nil {
			return insertOutboxEvent(ctx, tx, evt)
		}
		return nil
	})
	if err != nil {
		return nil, mapError(err, "appointment")
	}
	return &appointment, nil
}
