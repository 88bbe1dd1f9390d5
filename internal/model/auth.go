package model

import (
	"time"

	"github.com/google/uuid"
)

type SignUpRequest struct {
	FullName string `json:"full_name" binding:"required,min=4,max=20"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8,max=72"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type GoogleSignInRequest struct {
	IDToken string `json:"google_token" binding:"required"`
}

type TokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	User        *User     `json:"user,omitempty"`
}

// ProviderIdentity is what a verified third-party ID token asserts.
type ProviderIdentity struct {
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
	Picture       string
}

// Caller is the resolved identity of a request: either a user or anonymous.
type Caller struct {
	user *User
}

func Anonymous() Caller {
	return Caller{}
}

func Authenticated(u *User) Caller {
	return Caller{user: u}
}

func (c Caller) Identity() (*User, bool) {
	return c.user, c.user != nil
}

func (c Caller) IsAnonymous() bool {
	return c.user == nil
}

func (c Caller) IsAdmin() bool {
	return c.user != nil && c.user.IsAdmin
}

// UserID is nil for anonymous callers.
func (c Caller) UserID() *uuid.UUID {
	if c.user == nil {
		return nil
	}
	id := c.user.ID
	return &id
}
