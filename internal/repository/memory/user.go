package memory

import (
	"context"

	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/internal/repository"
	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
)

type userRepository struct {
	s *Store
}

func NewUserRepository(s *Store) repository.UserRepository {
	return &userRepository{s: s}
}

// uniqueness mirrors users_email_key and users_google_id_key. Caller holds the lock.
func (r *userRepository) checkUnique(u *model.User) error {
	for id, existing := range r.s.users {
		if id == u.ID {
			continue
		}
		if existing.Email == u.Email {
			return apperrors.DuplicateIdentity("email already registered", nil)
		}
		if u.GoogleID != nil && existing.GoogleID != nil && *existing.GoogleID == *u.GoogleID {
			return apperrors.DuplicateIdentity("google account is already linked to another user", nil)
		}
	}
	return nil
}

func (r *userRepository) Create(ctx context.Context, user *model.User) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	user.Email = model.NormalizeEmail(user.Email)
	if err := r.checkUnique(user); err != nil {
		return err
	}

	now := r.s.now()
	user.CreatedAt = now
	user.UpdatedAt = now
	cp := *user
	r.s.users[user.ID] = &cp
	return nil
}

func (r *userRepository) find(ctx context.Context, match func(*model.User) bool) (*model.User, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}

	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, u := range r.s.users {
		if u.DeletedAt == nil && match(u) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, apperrors.NotFound("user", nil)
}

func (r *userRepository) Get(ctx context.Context, id uuid.UUID) (*model.User, error) {
	return r.find(ctx, func(u *model.User) bool { return u.ID == id })
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	email = model.NormalizeEmail(email)
	return r.find(ctx, func(u *model.User) bool { return u.Email == email })
}

func (r *userRepository) GetByGoogleID(ctx context.Context, googleID string) (*model.User, error) {
	return r.find(ctx, func(u *model.User) bool { return u.GoogleID != nil && *u.GoogleID == googleID })
}

func (r *userRepository) Update(ctx context.Context, user *model.User) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	existing, ok := r.s.users[user.ID]
	if !ok || existing.DeletedAt != nil {
		return apperrors.NotFound("user", nil)
	}
	if err := r.checkUnique(user); err != nil {
		return err
	}

	user.UpdatedAt = r.s.now()
	cp := *user
	r.s.users[user.ID] = &cp
	return nil
}
