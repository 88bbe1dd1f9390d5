package model

import (
	"strings"

	"github.com/google/uuid"
)

// User is an identity. At least one of PasswordHash and GoogleID is set.
type User struct {
	Base
	Email          string  `json:"email" db:"email"`
	FullName       string  `json:"full_name" db:"full_name"`
	PasswordHash   *string `json:"-" db:"password_hash"`
	GoogleID       *string `json:"-" db:"google_id"`
	ProfilePicture *string `json:"profile_picture,omitempty" db:"profile_picture"`
	IsAdmin        bool    `json:"is_admin" db:"is_admin"`
}

func (u *User) HasPassword() bool {
	return u.PasswordHash != nil && *u.PasswordHash != ""
}

// UserSummary is the creator information shown next to appointments.
type UserSummary struct {
	ID       uuid.UUID `json:"id" db:"id"`
	FullName string    `json:"full_name" db:"full_name"`
	Email    string    `json:"email" db:"email"`
}

func (u *User) Summary() UserSummary {
	return UserSummary{ID: u.ID, FullName: u.FullName, Email: u.Email}
}

// NormalizeEmail makes email comparable as a linking key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
