package middleware

import (
	"fmt"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/jwalitptl/clinic-api/internal/handler"
	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
)

// Recovery handles panics and logs them appropriately
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				zerolog.Ctx(c.Request.Context()).Error().
					Interface("error", err).
					Str("stack", string(debug.Stack())).
					Str("client_ip", c.ClientIP()).
					Msg("Request panic recovered")

				handler.RespondError(c, apperrors.Internal(fmt.Errorf("panic: %v", err)))
			}
		}()
		c.Next()
	}
}
