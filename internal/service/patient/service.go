package patient

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/internal/repository"
	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
)

const (
	minNameLength = 4
	maxNameLength = 100
	phoneLength   = 11
)

type PatientService interface {
	CreatePatient(ctx context.Context, req *model.CreatePatientRequest) (*model.Patient, error)
	GetPatient(ctx context.Context, id uuid.UUID) (*model.Patient, error)
	UpdatePatient(ctx context.Context, id uuid.UUID, req *model.UpdatePatientRequest) (*model.Patient, error)
	DeletePatient(ctx context.Context, id uuid.UUID) error
	ListPatients(ctx context.Context, filters *model.PatientFilters) ([]*model.Patient, error)
}

type Service struct {
	repo repository.PatientRepository
}

func NewService(repo repository.PatientRepository) *Service {
	return &Service{repo: repo}
}

func (s *Service) CreatePatient(ctx context.Context, req *model.CreatePatientRequest) (*model.Patient, error) {
	patient := &model.Patient{
		Base:        model.Base{ID: uuid.New()},
		FullName:    strings.TrimSpace(req.FullName),
		PhoneNumber: strings.TrimSpace(req.PhoneNumber),
	}
	if err := validatePatient(patient); err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, patient); err != nil {
		return nil, err
	}

	zerolog.Ctx(ctx).Info().Str("patient_id", patient.ID.String()).Msg("patient created")
	return patient, nil
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*model.Patient, error) {
	return s.repo.Get(ctx, id)
}

// UpdatePatient applies the fields present in req.
func (s *Service) UpdatePatient(ctx context.Context, id uuid.UUID, req *model.UpdatePatientRequest) (*model.Patient, error) {
	patient, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.FullName != nil {
		patient.FullName = strings.TrimSpace(*req.FullName)
	}
	if req.PhoneNumber != nil {
		patient.PhoneNumber = strings.TrimSpace(*req.PhoneNumber)
	}
	if err := validatePatient(patient); err != nil {
		return nil, err
	}

	if err := s.repo.Update(ctx, patient); err != nil {
		return nil, err
	}
	return patient, nil
}

func (s *Service) DeletePatient(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	zerolog.Ctx(ctx).Info().Str("patient_id", id.String()).Msg("patient deleted")
	return nil
}

func (s *Service) ListPatients(ctx context.Context, filters *model.PatientFilters) ([]*model.Patient, error) {
	if filters != nil {
		filters.Name = strings.TrimSpace(filters.Name)
		filters.Phone = strings.TrimSpace(filters.Phone)
	}
	return s.repo.List(ctx, filters)
}

func validatePatient(p *model.Patient) error {
	if n := utf8.RuneCountInString(p.FullName); n < minNameLength || n > maxNameLength {
		return apperrors.Validation("full_name must be between 4 and 100 characters")
	}
	if len(p.PhoneNumber) != phoneLength {
		return apperrors.Validation("phone_number must be exactly 11 digits")
	}
	for _, r := range p.PhoneNumber {
		if r < '0' || r > '9' {
			return apperrors.Validation("phone_number must be exactly 11 digits")
		}
	}
	return nil
}
