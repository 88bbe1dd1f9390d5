package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/internal/repository"
	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
)

const (
	patientColumns     = `id, full_name, phone_number, created_at, updated_at, deleted_at`
	defaultPatientPage = 50
)

type patientRepository struct {
	BaseRepository
}

func NewPatientRepository(base BaseRepository) repository.PatientRepository {
	return &patientRepository{base}
}

func (r *patientRepository) Create(ctx context.Context, patient *model.Patient) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if patient.ID == uuid.Nil {
		patient.ID = uuid.New()
	}
	now := time.Now().UTC()
	patient.CreatedAt = now
	patient.UpdatedAt = now

	query := `
		INSERT INTO patients (id, full_name, phone_number, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.db.ExecContext(ctx, query, patient.ID, patient.FullName, patient.PhoneNumber, patient.CreatedAt, patient.UpdatedAt)
	return mapError(err, "patient")
}

func (r *patientRepository) Get(ctx context.Context, id uuid.UUID) (*model.Patient, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `SELECT ` + patientColumns + ` FROM patients WHERE id = $1 AND deleted_at IS NULL`

	var patient model.Patient
	if err := r.db.GetContext(ctx, &patient, query, id); err != nil {
		return nil, mapError(err, "patient")
	}
	return &patient, nil
}

func (r *patientRepository) Update(ctx context.Context, patient *model.Patient) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	patient.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE patients
		SET full_name = $1, phone_number = $2, updated_at = $3
		WHERE id = $4 AND deleted_at IS NULL
	`
	result, err := r.db.ExecContext(ctx, query, patient.FullName, patient.PhoneNumber, patient.UpdatedAt, patient.ID)
	if err != nil {
		return mapError(err, "patient")
	}
	return expectAffected(result.RowsAffected())
}

func (r *patientRepository) Delete(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `DELETE FROM patients WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return mapError(err, "patient")
	}
	return expectAffected(result.RowsAffected())
}

// List returns patients ordered by name. Name matches case-insensitively,
// phone as a substring.
func (r *patientRepository) List(ctx context.Context, filters *model.PatientFilters) ([]*model.Patient, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `SELECT ` + patientColumns + ` FROM patients WHERE deleted_at IS NULL`
	var args []interface{}
	limit := defaultPatientPage

	if filters != nil {
		if filters.Name != "" {
			args = append(args, "%"+filters.Name+"%")
			query += fmt.Sprintf(" AND full_name ILIKE $%d", len(args))
		}
		if filters.Phone != "" {
			args = append(args, "%"+filters.Phone+"%")
			query += fmt.Sprintf(" AND phone_number LIKE $%d", len(args))
		}
		if filters.Limit > 0 && filters.Limit < limit {
			limit = filters.Limit
		}
	}

	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY full_name ASC, id ASC LIMIT $%d", len(args))

	patients := []*model.Patient{}
	if err := r.db.SelectContext(ctx, &patients, query, args...); err != nil {
		return nil, mapError(err, "patients")
	}
	return patients, nil
}

func expectAffected(rows int64, err error) error {
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return apperrors.NotFound("patient", nil)
	}
	return nil
}
