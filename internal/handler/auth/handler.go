package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/clinic-api/internal/handler"
	"github.com/jwalitptl/clinic-api/internal/middleware"
	"github.com/jwalitptl/clinic-api/internal/model"
	authsvc "github.com/jwalitptl/clinic-api/internal/service/auth"
	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
)

type Handler struct {
	svc *authsvc.Service
}

func NewHandler(svc *authsvc.Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts /auth. limit guards the credential endpoints.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup, authMW *middleware.AuthMiddleware, limit gin.HandlerFunc) {
	routes := r.Group("/auth")
	{
		routes.POST("/signup", limit, h.SignUp)
		routes.POST("/signin", limit, h.SignIn)
		routes.POST("/google-signin", limit, h.GoogleSignIn)
		routes.GET("/me", authMW.Authenticate(), h.Me)
	}
}

func (h *Handler) SignUp(c *gin.Context) {
	var req model.SignUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.RespondBindError(c, err)
		return
	}

	user, err := h.svc.SignUp(c.Request.Context(), &req)
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, handler.NewSuccessResponse(user))
}

func (h *Handler) SignIn(c *gin.Context) {
	var req model.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.RespondBindError(c, err)
		return
	}

	tokens, err := h.svc.SignIn(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(tokens))
}

func (h *Handler) GoogleSignIn(c *gin.Context) {
	var req model.GoogleSignInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.RespondBindError(c, err)
		return
	}

	tokens, err := h.svc.SignInWithProvider(c.Request.Context(), req.IDToken)
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(tokens))
}

func (h *Handler) Me(c *gin.Context) {
	user, ok := middleware.CallerFrom(c).Identity()
	if !ok {
		handler.RespondError(c, apperrors.Unauthenticated("authentication required"))
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(user))
}
