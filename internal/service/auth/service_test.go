package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/jwalitptl/clinic-api/internal/config"
	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/internal/repository"
	"github.com/jwalitptl/clinic-api/internal/repository/memory"
	jwtauth "github.com/jwalitptl/clinic-api/pkg/auth"
	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
	"github.com/jwalitptl/clinic-api/pkg/security"
)

type fakeVerifier struct {
	identity *model.ProviderIdentity
	err      error
}

func (f *fakeVerifier) Verify(context.Context, string) (*model.ProviderIdentity, error) {
	if f.err != nil {
		return nil, f.err
	}
	cp := *f.identity
	return &cp, nil
}

type fixture struct {
	svc      *Service
	users    repository.UserRepository
	tokens   *jwtauth.TokenManager
	verifier *fakeVerifier
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{now: time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)}

	tokens, err := jwtauth.NewTokenManager(jwtauth.Config{
		Secret: []byte("0123456789abcdef0123456789abcdef"),
		Issuer: "clinic-api",
		TTL:    30 * time.Minute,
	}, jwtauth.WithClock(func() time.Time { return f.now }))
	require.NoError(t, err)

	f.tokens = tokens
	f.users = memory.NewUserRepository(memory.NewStore())
	f.verifier = &fakeVerifier{identity: &model.ProviderIdentity{
		Subject:       "google-sub-1",
		Email:         "jane@example.com",
		EmailVerified: true,
		Name:          "Jane Doe",
		Picture:       "https://example.com/jane.png",
	}}
	f.svc = NewService(f.users, tokens, security.NewBcryptHasher(bcrypt.MinCost), f.verifier, nil)
	return f
}

func signUp(t *testing.T, f *fixture, email string) *model.User {
	t.Helper()
	u, err := f.svc.SignUp(context.Background(), &model.SignUpRequest{
		FullName: "Jane Doe",
		Email:    email,
		Password: "s3cret-pass",
	})
	require.NoError(t, err)
	return u
}

func TestSignUp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u := signUp(t, f, "  Jane@Example.COM ")
	assert.Equal(t, "jane@example.com", u.Email)
	require.True(t, u.HasPassword())
	assert.NotEqual(t, "s3cret-pass", *u.PasswordHash)
	assert.Nil(t, u.GoogleID)

	_, err := f.svc.SignUp(ctx, &model.SignUpRequest{FullName: "Jane Again", Email: "JANE@example.com", Password: "another-pass"})
	assert.True(t, apperrors.Is(err, apperrors.CodeDuplicateIdentity))

	tests := []struct {
		name string
		req  model.SignUpRequest
	}{
		{"short name", model.SignUpRequest{FullName: "Jo", Email: "jo@example.com", Password: "s3cret-pass"}},
		{"long name", model.SignUpRequest{FullName: "Bartholomew Montgomery", Email: "b@example.com", Password: "s3cret-pass"}},
		{"short password", model.SignUpRequest{FullName: "Joe Bloggs", Email: "joe@example.com", Password: "short"}},
		{"empty email", model.SignUpRequest{FullName: "Joe Bloggs", Email: "  ", Password: "s3cret-pass"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.SignUp(ctx, &tt.req)
			assert.True(t, apperrors.Is(err, apperrors.CodeValidation), "got %v", err)
		})
	}
}

func TestSignIn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := signUp(t, f, "jane@example.com")

	resp, err := f.svc.SignIn(ctx, "JANE@example.com", "s3cret-pass")
	require.NoError(t, err)
	assert.Equal(t, "bearer", resp.TokenType)
	assert.Equal(t, f.now.Add(30*time.Minute), resp.ExpiresAt)
	assert.Equal(t, u.ID, resp.User.ID)

	resolved, err := f.svc.ResolveCredential(ctx, resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, u.ID, resolved.ID)

	_, err = f.svc.SignIn(ctx, "jane@example.com", "wrong-password")
	assert.True(t, apperrors.Is(err, apperrors.CodeInvalidCredentials))

	_, err = f.svc.SignIn(ctx, "nobody@example.com", "s3cret-pass")
	assert.True(t, apperrors.Is(err, apperrors.CodeInvalidCredentials))
}

func TestSignInWithoutPassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.SignInWithProvider(ctx, "id-token")
	require.NoError(t, err)

	_, err = f.svc.SignIn(ctx, "jane@example.com", "")
	assert.True(t, apperrors.Is(err, apperrors.CodeInvalidCredentials))
	_, err = f.svc.SignIn(ctx, "jane@example.com", "anything-at-all")
	assert.True(t, apperrors.Is(err, apperrors.CodeInvalidCredentials))
}

func TestSignInWithProviderCreatesAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp, err := f.svc.SignInWithProvider(ctx, "id-token")
	require.NoError(t, err)
	u := resp.User
	assert.Equal(t, "jane@example.com", u.Email)
	assert.Equal(t, "Jane Doe", u.FullName)
	require.NotNil(t, u.GoogleID)
	assert.Equal(t, "google-sub-1", *u.GoogleID)
	assert.False(t, u.HasPassword())

	again, err := f.svc.SignInWithProvider(ctx, "id-token")
	require.NoError(t, err)
	assert.Equal(t, u.ID, again.User.ID, "same subject resolves to the same user")
}

func TestSignInWithProviderUpdatesProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.SignInWithProvider(ctx, "id-token")
	require.NoError(t, err)

	f.verifier.identity.Name = "Jane D. Smith"
	f.verifier.identity.Picture = "https://example.com/new.png"
	_, err = f.svc.SignInWithProvider(ctx, "id-token")
	require.NoError(t, err)

	stored, err := f.users.Get(ctx, first.User.ID)
	require.NoError(t, err)
	assert.Equal(t, "Jane D. Smith", stored.FullName)
	assert.Equal(t, "https://example.com/new.png", *stored.ProfilePicture)
}

func TestSignInWithProviderLinksVerifiedEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	existing := signUp(t, f, "jane@example.com")

	resp, err := f.svc.SignInWithProvider(ctx, "id-token")
	require.NoError(t, err)
	assert.Equal(t, existing.ID, resp.User.ID)

	stored, err := f.users.Get(ctx, existing.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.GoogleID)
	assert.Equal(t, "google-sub-1", *stored.GoogleID)
	assert.True(t, stored.HasPassword(), "password sign-in keeps working")

	_, err = f.svc.SignIn(ctx, "jane@example.com", "s3cret-pass")
	assert.NoError(t, err)
}

func TestSignInWithProviderRefusesUnverifiedEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	existing := signUp(t, f, "jane@example.com")
	f.verifier.identity.EmailVerified = false

	_, err := f.svc.SignInWithProvider(ctx, "id-token")
	assert.True(t, apperrors.Is(err, apperrors.CodeDuplicateIdentity))

	stored, err := f.users.Get(ctx, existing.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.GoogleID)
}

func TestSignInWithProviderRefusesSecondGoogleAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.SignInWithProvider(ctx, "id-token")
	require.NoError(t, err)

	f.verifier.identity.Subject = "google-sub-2"
	_, err = f.svc.SignInWithProvider(ctx, "id-token")
	assert.True(t, apperrors.Is(err, apperrors.CodeDuplicateIdentity))
}

func TestSignInWithProviderPassesVerifierErrors(t *testing.T) {
	f := newFixture(t)

	f.verifier.err = apperrors.InvalidProviderToken(errors.New("bad audience"))
	_, err := f.svc.SignInWithProvider(context.Background(), "id-token")
	assert.True(t, apperrors.Is(err, apperrors.CodeInvalidProviderToken))

	f.verifier.err = apperrors.Unavailable(errors.New("jwks down"))
	_, err = f.svc.SignInWithProvider(context.Background(), "id-token")
	assert.True(t, apperrors.Is(err, apperrors.CodeUnavailable))
}

func TestResolveCredential(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := signUp(t, f, "jane@example.com")

	token, _, err := f.svc.IssueCredential(u.ID, time.Minute)
	require.NoError(t, err)

	f.now = f.now.Add(time.Minute - time.Second)
	_, err = f.svc.ResolveCredential(ctx, token)
	assert.NoError(t, err)

	f.now = f.now.Add(2 * time.Second)
	_, err = f.svc.ResolveCredential(ctx, token)
	assert.True(t, apperrors.Is(err, apperrors.CodeExpired))

	_, err = f.svc.ResolveCredential(ctx, "not-a-token")
	assert.True(t, apperrors.Is(err, apperrors.CodeInvalidToken))

	orphan, _, err := f.svc.IssueCredential(uuid.New(), 0)
	require.NoError(t, err)
	_, err = f.svc.ResolveCredential(ctx, orphan)
	assert.True(t, apperrors.Is(err, apperrors.CodeUnknownSubject))
}

func TestResolveCredentialOptional(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := signUp(t, f, "jane@example.com")

	caller, err := f.svc.ResolveCredentialOptional(ctx, "")
	require.NoError(t, err)
	assert.True(t, caller.IsAnonymous())

	caller, err = f.svc.ResolveCredentialOptional(ctx, "garbage")
	require.NoError(t, err)
	assert.True(t, caller.IsAnonymous())

	token, _, err := f.svc.IssueCredential(u.ID, 0)
	require.NoError(t, err)
	caller, err = f.svc.ResolveCredentialOptional(ctx, token)
	require.NoError(t, err)
	require.False(t, caller.IsAnonymous())
	assert.Equal(t, u.ID, *caller.UserID())

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = f.svc.ResolveCredentialOptional(cancelled, token)
	assert.True(t, apperrors.Is(err, apperrors.CodeUnavailable), "storage failures are not masked")
}

func TestSeedAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seed := config.AdminSeedConfig{
		Enabled:  true,
		Email:    "Admin@Clinic.local",
		Password: "admin-pass-1",
		FullName: "Administrator",
	}

	require.NoError(t, f.svc.SeedAdmin(ctx, config.AdminSeedConfig{}))
	_, err := f.users.GetByEmail(ctx, "admin@clinic.local")
	assert.True(t, apperrors.Is(err, apperrors.CodeNotFound), "disabled seed is a no-op")

	require.NoError(t, f.svc.SeedAdmin(ctx, seed))
	admin, err := f.users.GetByEmail(ctx, "admin@clinic.local")
	require.NoError(t, err)
	assert.True(t, admin.IsAdmin)

	_, err = f.svc.SignIn(ctx, "admin@clinic.local", "admin-pass-1")
	require.NoError(t, err)

	seed.Password = "admin-pass-2"
	require.NoError(t, f.svc.SeedAdmin(ctx, seed))
	_, err = f.svc.SignIn(ctx, "admin@clinic.local", "admin-pass-1")
	assert.NoError(t, err, "password is kept without reset")

	seed.Reset = true
	require.NoError(t, f.svc.SeedAdmin(ctx, seed))
	_, err = f.svc.SignIn(ctx, "admin@clinic.local", "admin-pass-2")
	assert.NoError(t, err)
}

func TestSeedAdminPromotesExistingUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := signUp(t, f, "jane@example.com")

	require.NoError(t, f.svc.SeedAdmin(ctx, config.AdminSeedConfig{
		Enabled:  true,
		Email:    "jane@example.com",
		Password: "ignored-pass",
		FullName: "Administrator",
	}))

	stored, err := f.users.Get(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsAdmin)
	_, err = f.svc.SignIn(ctx, "jane@example.com", "s3cret-pass")
	assert.NoError(t, err)
}
