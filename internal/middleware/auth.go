package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/jwalitptl/clinic-api/internal/handler"
	"github.com/jwalitptl/clinic-api/internal/model"
	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
)

const ContextCaller = "caller"

// CredentialResolver turns a bearer token into a caller.
type CredentialResolver interface {
	ResolveCredential(ctx context.Context, token string) (*model.User, error)
	ResolveCredentialOptional(ctx context.Context, token string) (model.Caller, error)
}

type AuthMiddleware struct {
	resolver CredentialResolver
}

func NewAuthMiddleware(resolver CredentialResolver) *AuthMiddleware {
	return &AuthMiddleware{resolver: resolver}
}

// bearerToken returns the token of an "Authorization: Bearer <token>" header.
// present is false when the header is absent.
func bearerToken(c *gin.Context) (token string, present bool, err error) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return "", false, nil
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", true, apperrors.InvalidToken(nil)
	}
	return strings.TrimSpace(parts[1]), true, nil
}

// Authenticate requires a valid session token and stores the caller.
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, present, err := bearerToken(c)
		if !present {
			handler.RespondError(c, apperrors.Unauthenticated("missing authorization header"))
			return
		}
		if err != nil {
			handler.RespondError(c, err)
			return
		}

		user, err := m.resolver.ResolveCredential(c.Request.Context(), token)
		if err != nil {
			handler.RespondError(c, err)
			return
		}

		setCaller(c, model.Authenticated(user))
		c.Next()
	}
}

// OptionalAuth resolves a token when one is sent and otherwise treats the
// request as anonymous. Unusable tokens also fall back to anonymous.
func (m *AuthMiddleware) OptionalAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _, err := bearerToken(c)
		if err != nil {
			token = ""
		}

		caller, err := m.resolver.ResolveCredentialOptional(c.Request.Context(), token)
		if err != nil {
			handler.RespondError(c, err)
			return
		}

		setCaller(c, caller)
		c.Next()
	}
}

// RequireAdmin must run after Authenticate.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller := CallerFrom(c)
		if caller.IsAnonymous() {
			handler.RespondError(c, apperrors.Unauthenticated("authentication required"))
			return
		}
		if !caller.IsAdmin() {
			handler.RespondError(c, apperrors.Forbidden("admin access required"))
			return
		}
		c.Next()
	}
}

func setCaller(c *gin.Context, caller model.Caller) {
	c.Set(ContextCaller, caller)

	if id := caller.UserID(); id != nil {
		ctx := c.Request.Context()
		l := zerolog.Ctx(ctx).With().Str("user_id", id.String()).Logger()
		c.Request = c.Request.WithContext(l.WithContext(ctx))
	}
}

// CallerFrom returns the caller stored by the auth middleware, or an
// anonymous caller when none ran.
func CallerFrom(c *gin.Context) model.Caller {
	if v, ok := c.Get(ContextCaller); ok {
		if caller, ok := v.(model.Caller); ok {
			return caller
		}
	}
	return model.Anonymous()
}
