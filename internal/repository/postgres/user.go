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

const userColumns = `id, email, full_name, password_hash, google_id, profile_picture, is_admin,
	created_at, updated_at, deleted_at`

type userRepository struct {
	BaseRepository
}

func NewUserRepository(base BaseRepository) repository.UserRepository {
	return &userRepository{base}
}

func (r *userRepository) Create(ctx context.Context, user *model.User) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	query := `
		INSERT INTO users (
			id, email, full_name, password_hash, google_id, profile_picture, is_admin,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.ExecContext(ctx, query,
		user.ID,
		user.Email,
		user.FullName,
		user.PasswordHash,
		user.GoogleID,
		user.ProfilePicture,
		user.IsAdmin,
		user.CreatedAt,
		user.UpdatedAt,
	)
	return mapError(err, "user")
}

func (r *userRepository) getBy(ctx context.Context, column string, value interface{}) (*model.User, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`SELECT %s FROM users WHERE %s = $1 AND deleted_at IS NULL`, userColumns, column)

	var user model.User
	if err := r.db.GetContext(ctx, &user, query, value); err != nil {
		return nil, mapError(err, "user")
	}
	return &user, nil
}

func (r *userRepository) Get(ctx context.Context, id uuid.UUID) (*model.User, error) {
	return r.getBy(ctx, "id", id)
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.getBy(ctx, "email", model.NormalizeEmail(email))
}

func (r *userRepository) GetByGoogleID(ctx context.Context, googleID string) (*model.User, error) {
	return r.getBy(ctx, "google_id", googleID)
}

func (r *userRepository) Update(ctx context.Context, user *model.User) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	user.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE users
		SET email = $1, full_name = $2, password_hash = $3, google_id = $4,
			profile_picture = $5, is_admin = $6, updated_at = $7
		WHERE id = $8 AND deleted_at IS NULL
	`
	result, err := r.db.ExecContext(ctx, query,
		user.Email,
		user.FullName,
		user.PasswordHash,
		user.GoogleID,
		user.ProfilePicture,
		user.IsAdmin,
		user.UpdatedAt,
		user.ID,
	)
	if err != nil {
		return mapError(err, "user")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return apperrors.NotFound("user", nil)
	}
	return nil
}
