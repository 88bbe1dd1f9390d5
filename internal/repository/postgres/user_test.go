package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/clinic-api/internal/model"
	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
)

var userCols = []string{
	"id", "email", "full_name", "password_hash", "google_id", "profile_picture", "is_admin",
	"created_at", "updated_at", "deleted_at",
}

func TestUserRepository(t *testing.T) {
	base, mock := newMock(t)
	repo := NewUserRepository(base)
	hash := "$2a$10$abcdefghijklmnopqrstuv"

	user := &model.User{Email: "jane@example.com", FullName: "Jane Doe", PasswordHash: &hash}

	t.Run("create", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO users").
			WithArgs(sqlmock.AnyArg(), "jane@example.com", "Jane Doe", hash, nil, nil, false, sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		require.NoError(t, repo.Create(context.Background(), user))
		assert.NotEqual(t, uuid.Nil, user.ID)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("create duplicate email", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO users").
			WillReturnError(&pq.Error{Code: pqUniqueViolation, Constraint: "users_email_key"})

		err := repo.Create(context.Background(), &model.User{Email: "jane@example.com", FullName: "Jane Doe", PasswordHash: &hash})
		assert.True(t, apperrors.Is(err, apperrors.CodeDuplicateIdentity))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("get by email normalizes", func(t *testing.T) {
		now := time.Now()
		mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE email = $1 AND deleted_at IS NULL")).
			WithArgs("jane@example.com").
			WillReturnRows(sqlmock.NewRows(userCols).
				AddRow(user.ID.String(), "jane@example.com", "Jane Doe", hash, nil, nil, false, now, now, nil))

		got, err := repo.GetByEmail(context.Background(), "  JANE@example.com ")
		require.NoError(t, err)
		assert.Equal(t, user.ID, got.ID)
		assert.True(t, got.HasPassword())
		assert.Nil(t, got.GoogleID)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("get by google id missing", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE google_id = $1")).
			WithArgs("google-sub").
			WillReturnRows(sqlmock.NewRows(userCols))

		_, err := repo.GetByGoogleID(context.Background(), "google-sub")
		assert.True(t, apperrors.Is(err, apperrors.CodeNotFound))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("update links google id", func(t *testing.T) {
		googleID := "google-sub"
		user.GoogleID = &googleID
		mock.ExpectExec("UPDATE users").
			WithArgs("jane@example.com", "Jane Doe", hash, googleID, nil, false, sqlmock.AnyArg(), user.ID).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, repo.Update(context.Background(), user))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("update google id taken", func(t *testing.T) {
		mock.ExpectExec("UPDATE users").
			WillReturnError(&pq.Error{Code: pqUniqueViolation, Constraint: "users_google_id_key"})

		err := repo.Update(context.Background(), user)
		assert.True(t, apperrors.Is(err, apperrors.CodeDuplicateIdentity))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("update missing user", func(t *testing.T) {
		mock.ExpectExec("UPDATE users").
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := repo.Update(context.Background(), user)
		assert.True(t, apperrors.Is(err, apperrors.CodeNotFound))
		require.NoError(t, mock.ExpectationsWereMet())
	})
}
