package memory

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/internal/repository"
	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
)

const defaultPatientPage = 50

type patientRepository struct {
	s *Store
}

func NewPatientRepository(s *Store) repository.PatientRepository {
	return &patientRepository{s: s}
}

func (r *patientRepository) phoneTaken(p *model.Patient) bool {
	for id, existing := range r.s.patients {
		if id != p.ID && existing.PhoneNumber == p.PhoneNumber {
			return true
		}
	}
	return false
}

func (r *patientRepository) Create(ctx context.Context, patient *model.Patient) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if patient.ID == uuid.Nil {
		patient.ID = uuid.New()
	}
	if r.phoneTaken(patient) {
		return apperrors.Conflict("phone number already registered", nil)
	}
	now := r.s.now()
	patient.CreatedAt = now
	patient.UpdatedAt = now
	cp := *patient
	r.s.patients[patient.ID] = &cp
	return nil
}

func (r *patientRepository) Get(ctx context.Context, id uuid.UUID) (*model.Patient, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}

	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	p, ok := r.s.patients[id]
	if !ok {
		return nil, apperrors.NotFound("patient", nil)
	}
	cp := *p
	return &cp, nil
}

func (r *patientRepository) Update(ctx context.Context, patient *model.Patient) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.patients[patient.ID]; !ok {
		return apperrors.NotFound("patient", nil)
	}
	if r.phoneTaken(patient) {
		return apperrors.Conflict("phone number already registered", nil)
	}
	patient.UpdatedAt = r.s.now()
	cp := *patient
	r.s.patients[patient.ID] = &cp
	return nil
}

func (r *patientRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.patients[id]; !ok {
		return apperrors.NotFound("patient", nil)
	}
	delete(r.s.patients, id)
	return nil
}

func (r *patientRepository) List(ctx context.Context, filters *model.PatientFilters) ([]*model.Patient, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}

	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	limit := defaultPatientPage
	var name, phone string
	if filters != nil {
		name = strings.ToLower(filters.Name)
		phone = filters.Phone
		if filters.Limit > 0 && filters.Limit < limit {
			limit = filters.Limit
		}
	}

	out := []*model.Patient{}
	for _, p := range r.s.patients {
		if name != "" && !strings.Contains(strings.ToLower(p.FullName), name) {
			continue
		}
		if phone != "" && !strings.Contains(p.PhoneNumber, phone) {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FullName == out[j].FullName {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].FullName < out[j].FullName
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
