package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
)

const (
	pqUniqueViolation    = "23505"
	pqExclusionViolation = "23P01"
	pqQueryCanceled      = "57014"
)

// mapError translates driver failures into application errors.
func mapError(err error, resource string) error {
	if err == nil {
		return nil
	}
	if _, ok := apperrors.As(err); ok {
		return err
	}
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.NotFound(resource, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.Is(err, driver.ErrBadConn) {
		return apperrors.Unavailable(err)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code == pqUniqueViolation:
			return uniqueViolation(pqErr)
		case pqErr.Code == pqExclusionViolation:
			return apperrors.Overlap(uuid.Nil)
		case pqErr.Code == pqQueryCanceled, pqErr.Code.Class() == "08":
			return apperrors.Unavailable(err)
		}
	}

	return fmt.Errorf("%s: %w", resource, err)
}

func uniqueViolation(pqErr *pq.Error) error {
	switch {
	case strings.Contains(pqErr.Constraint, "google_id"):
		return apperrors.DuplicateIdentity("google account is already linked to another user", pqErr)
	case strings.Contains(pqErr.Constraint, "email"):
		return apperrors.DuplicateIdentity("email already registered", pqErr)
	case strings.Contains(pqErr.Constraint, "phone"):
		return apperrors.Conflict("phone number already registered", pqErr)
	}
	return apperrors.Conflict("record already exists", pqErr)
}
