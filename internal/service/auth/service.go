package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jwalitptl/clinic-api/internal/config"
	"github.com/jwalitptl/clinic-api/internal/identity"
	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/internal/repository"
	jwtauth "github.com/jwalitptl/clinic-api/pkg/auth"
	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
	"github.com/jwalitptl/clinic-api/pkg/metrics"
	"github.com/jwalitptl/clinic-api/pkg/security"
)

const (
	tokenType = "bearer"

	minFullNameLen = 4
	maxFullNameLen = 20

	methodPassword = "password"
	methodGoogle   = "google"
)

// Service resolves credentials to users: password and Google sign-in,
// session token issuance and verification, and account linking.
type Service struct {
	users    repository.UserRepository
	tokens   *jwtauth.TokenManager
	hasher   security.PasswordHasher
	provider identity.Verifier
	metrics  *metrics.Metrics

	dummyOnce sync.Once
	dummyHash string
}

func NewService(users repository.UserRepository, tokens *jwtauth.TokenManager, hasher security.PasswordHasher,
	provider identity.Verifier, m *metrics.Metrics) *Service {
	if provider == nil {
		provider = identity.Disabled()
	}
	return &Service{
		users:    users,
		tokens:   tokens,
		hasher:   hasher,
		provider: provider,
		metrics:  m,
	}
}

func (s *Service) SignUp(ctx context.Context, req *model.SignUpRequest) (*model.User, error) {
	fullName := strings.TrimSpace(req.FullName)
	if n := utf8.RuneCountInString(fullName); n < minFullNameLen || n > maxFullNameLen {
		return nil, apperrors.Validation(fmt.Sprintf("full_name must be between %d and %d characters", minFullNameLen, maxFullNameLen))
	}
	email := model.NormalizeEmail(req.Email)
	if email == "" {
		return nil, apperrors.Validation("email is required")
	}

	hash, err := s.hashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	user := &model.User{
		Base:         model.Base{ID: uuid.New()},
		Email:        email,
		FullName:     fullName,
		PasswordHash: &hash,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}

	zerolog.Ctx(ctx).Info().Str("user_id", user.ID.String()).Msg("user signed up")
	return user, nil
}

func (s *Service) hashPassword(password string) (string, error) {
	hash, err := s.hasher.Hash(password)
	switch {
	case errors.Is(err, security.ErrPasswordTooShort):
		return "", apperrors.Validation(fmt.Sprintf("password must be at least %d characters", security.MinPasswordLen))
	case errors.Is(err, security.ErrPasswordTooLong):
		return "", apperrors.Validation(fmt.Sprintf("password must be at most %d bytes", security.MaxPasswordLen))
	case err != nil:
		return "", apperrors.Internal(err)
	}
	return hash, nil
}

// SignIn checks an email/password pair. Every failure, including an unknown
// email or an account without a password, is reported as InvalidCredentials.
func (s *Service) SignIn(ctx context.Context, email, password string) (*model.TokenResponse, error) {
	user, err := s.users.GetByEmail(ctx, model.NormalizeEmail(email))
	if err != nil {
		if !apperrors.Is(err, apperrors.CodeNotFound) {
			s.metrics.SignIn(methodPassword, string(apperrors.CodeOf(err)))
			return nil, err
		}
		s.burnCompare(password)
		s.metrics.SignIn(methodPassword, string(apperrors.CodeInvalidCredentials))
		return nil, apperrors.InvalidCredentials()
	}

	if !user.HasPassword() {
		s.burnCompare(password)
		s.metrics.SignIn(methodPassword, string(apperrors.CodeInvalidCredentials))
		return nil, apperrors.InvalidCredentials()
	}

	if err := s.hasher.Compare(*user.PasswordHash, password); err != nil {
		s.metrics.SignIn(methodPassword, string(apperrors.CodeInvalidCredentials))
		return nil, apperrors.InvalidCredentials()
	}

	resp, err := s.tokenResponse(user)
	if err != nil {
		return nil, err
	}
	s.metrics.SignIn(methodPassword, "success")
	return resp, nil
}

// burnCompare spends roughly the time of a real comparison so that unknown
// emails are not distinguishable by latency.
func (s *Service) burnCompare(password string) {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = s.hasher.Hash("not-a-real-password")
	})
	if s.dummyHash != "" {
		_ = s.hasher.Compare(s.dummyHash, password)
	}
}

// SignInWithProvider verifies a Google ID token and resolves it to a user.
// A known Google subject signs in directly; otherwise an account with the same
// verified email is linked, and failing that a new password-less account is
// created.
func (s *Service) SignInWithProvider(ctx context.Context, idToken string) (*model.TokenResponse, error) {
	pid, err := s.provider.Verify(ctx, idToken)
	if err != nil {
		s.metrics.SignIn(methodGoogle, string(apperrors.CodeOf(err)))
		return nil, err
	}

	user, err := s.resolveProviderIdentity(ctx, pid)
	if err != nil {
		s.metrics.SignIn(methodGoogle, string(apperrors.CodeOf(err)))
		return nil, err
	}

	resp, err := s.tokenResponse(user)
	if err != nil {
		return nil, err
	}
	s.metrics.SignIn(methodGoogle, "success")
	return resp, nil
}

func (s *Service) resolveProviderIdentity(ctx context.Context, pid *model.ProviderIdentity) (*model.User, error) {
	log := zerolog.Ctx(ctx)

	user, err := s.users.GetByGoogleID(ctx, pid.Subject)
	if err == nil {
		if applyProfile(user, pid) {
			if err := s.users.Update(ctx, user); err != nil {
				return nil, err
			}
		}
		return user, nil
	}
	if !apperrors.Is(err, apperrors.CodeNotFound) {
		return nil, err
	}

	user, err = s.users.GetByEmail(ctx, pid.Email)
	if err == nil {
		if !pid.EmailVerified {
			return nil, apperrors.DuplicateIdentity("email is already registered and the google email is not verified", nil)
		}
		if user.GoogleID != nil && *user.GoogleID != pid.Subject {
			return nil, apperrors.DuplicateIdentity("email is already linked to another google account", nil)
		}
		subject := pid.Subject
		user.GoogleID = &subject
		applyProfile(user, pid)
		if err := s.users.Update(ctx, user); err != nil {
			return nil, err
		}
		log.Info().Str("user_id", user.ID.String()).Msg("google account linked")
		return user, nil
	}
	if !apperrors.Is(err, apperrors.CodeNotFound) {
		return nil, err
	}

	subject := pid.Subject
	user = &model.User{
		Base:     model.Base{ID: uuid.New()},
		Email:    pid.Email,
		FullName: displayName(pid),
		GoogleID: &subject,
	}
	if pid.Picture != "" {
		picture := pid.Picture
		user.ProfilePicture = &picture
	}
	if err := s.users.Create(ctx, user); err != nil {
		// A concurrent sign-in created the same identity first.
		return nil, err
	}
	log.Info().Str("user_id", user.ID.String()).Msg("user created from google sign-in")
	return user, nil
}

// applyProfile copies the provider's name and picture onto user and reports
// whether anything changed.
func applyProfile(user *model.User, pid *model.ProviderIdentity) bool {
	changed := false
	if pid.Name != "" && pid.Name != user.FullName {
		user.FullName = pid.Name
		changed = true
	}
	if pid.Picture != "" && (user.ProfilePicture == nil || *user.ProfilePicture != pid.Picture) {
		picture := pid.Picture
		user.ProfilePicture = &picture
		changed = true
	}
	return changed
}

func displayName(pid *model.ProviderIdentity) string {
	if pid.Name != "" {
		return pid.Name
	}
	if at := strings.IndexByte(pid.Email, '@'); at > 0 {
		return pid.Email[:at]
	}
	return pid.Email
}

func (s *Service) tokenResponse(user *model.User) (*model.TokenResponse, error) {
	token, expiresAt, err := s.IssueCredential(user.ID, 0)
	if err != nil {
		return nil, err
	}
	return &model.TokenResponse{
		AccessToken: token,
		TokenType:   tokenType,
		ExpiresAt:   expiresAt,
		User:        user,
	}, nil
}

// IssueCredential signs a session token for userID. A non-positive ttl uses
// the configured lifetime.
func (s *Service) IssueCredential(userID uuid.UUID, ttl time.Duration) (string, time.Time, error) {
	token, expiresAt, err := s.tokens.Issue(userID, ttl)
	if err != nil {
		return "", time.Time{}, apperrors.Internal(err)
	}
	return token, expiresAt, nil
}

// ResolveCredential verifies token and loads its subject.
func (s *Service) ResolveCredential(ctx context.Context, token string) (*model.User, error) {
	userID, err := s.tokens.Parse(token)
	if err != nil {
		return nil, err
	}

	user, err := s.users.Get(ctx, userID)
	if err != nil {
		if apperrors.Is(err, apperrors.CodeNotFound) {
			return nil, apperrors.UnknownSubject()
		}
		return nil, err
	}
	return user, nil
}

// ResolveCredentialOptional is ResolveCredential for endpoints that also serve
// anonymous callers. A missing, invalid, expired or orphaned token yields an
// anonymous caller; storage failures are still returned.
func (s *Service) ResolveCredentialOptional(ctx context.Context, token string) (model.Caller, error) {
	if token == "" {
		return model.Anonymous(), nil
	}

	user, err := s.ResolveCredential(ctx, token)
	if err != nil {
		switch apperrors.CodeOf(err) {
		case apperrors.CodeInvalidToken, apperrors.CodeExpired, apperrors.CodeUnknownSubject:
			zerolog.Ctx(ctx).Debug().Err(err).Msg("ignoring unusable credential")
			return model.Anonymous(), nil
		}
		return model.Anonymous(), err
	}
	return model.Authenticated(user), nil
}

// SeedAdmin makes sure the configured default admin exists. An existing
// account is promoted; its password is replaced only when Reset is set or
// it has none.
func (s *Service) SeedAdmin(ctx context.Context, seed config.AdminSeedConfig) error {
	if !seed.Enabled {
		return nil
	}
	log := zerolog.Ctx(ctx)
	email := model.NormalizeEmail(seed.Email)

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil && !apperrors.Is(err, apperrors.CodeNotFound) {
		return fmt.Errorf("failed to look up default admin: %w", err)
	}

	if user == nil {
		hash, err := s.hashPassword(seed.Password)
		if err != nil {
			return fmt.Errorf("invalid default admin password: %w", err)
		}
		user = &model.User{
			Base:         model.Base{ID: uuid.New()},
			Email:        email,
			FullName:     seed.FullName,
			PasswordHash: &hash,
			IsAdmin:      true,
		}
		if err := s.users.Create(ctx, user); err != nil {
			return fmt.Errorf("failed to create default admin: %w", err)
		}
		log.Info().Str("email", email).Msg("default admin created")
		return nil
	}

	changed := false
	if !user.IsAdmin {
		user.IsAdmin = true
		changed = true
	}
	if seed.Reset || !user.HasPassword() {
		hash, err := s.hashPassword(seed.Password)
		if err != nil {
			return fmt.Errorf("invalid default admin password: %w", err)
		}
		user.PasswordHash = &hash
		changed = true
	}
	if !changed {
		return nil
	}
	if err := s.users.Update(ctx, user); err != nil {
		return fmt.Errorf("failed to update default admin: %w", err)
	}
	log.Info().Str("email", email).Bool("password_reset", seed.Reset).Msg("default admin updated")
	return nil
}
