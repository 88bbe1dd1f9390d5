package patient

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/clinic-api/internal/handler"
	"github.com/jwalitptl/clinic-api/internal/middleware"
	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/internal/service/patient"
)

type Handler struct {
	service patient.PatientService
}

func NewHandler(service patient.PatientService) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes mounts /patients. Reads need a signed-in user; writes need an admin.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup, authMW *middleware.AuthMiddleware) {
	patients := r.Group("/patients", authMW.Authenticate())
	{
		patients.GET("", h.ListPatients)
		patients.GET("/search", h.ListPatients)
		patients.GET("/:id", h.GetPatient)
		patients.POST("", middleware.RequireAdmin(), h.CreatePatient)
		patients.PUT("/:id", middleware.RequireAdmin(), h.UpdatePatient)
		patients.PATCH("/:id", middleware.RequireAdmin(), h.UpdatePatient)
		patients.DELETE("/:id", middleware.RequireAdmin(), h.DeletePatient)
	}
}

func (h *Handler) CreatePatient(c *gin.Context) {
	var req model.CreatePatientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.RespondBindError(c, err)
		return
	}

	p, err := h.service.CreatePatient(c.Request.Context(), &req)
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, handler.NewSuccessResponse(p))
}

func (h *Handler) GetPatient(c *gin.Context) {
	id, ok := handler.ParseID(c, "id")
	if !ok {
		return
	}

	p, err := h.service.GetPatient(c.Request.Context(), id)
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(p))
}

func (h *Handler) UpdatePatient(c *gin.Context) {
	id, ok := handler.ParseID(c, "id")
	if !ok {
		return
	}

	var req model.UpdatePatientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.RespondBindError(c, err)
		return
	}

	p, err := h.service.UpdatePatient(c.Request.Context(), id, &req)
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(p))
}

func (h *Handler) DeletePatient(c *gin.Context) {
	id, ok := handler.ParseID(c, "id")
	if !ok {
		return
	}

	if err := h.service.DeletePatient(c.Request.Context(), id); err != nil {
		handler.RespondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// ListPatients also serves search: ?name= matches case-insensitively, ?phone= by substring.
func (h *Handler) ListPatients(c *gin.Context) {
	var filters model.PatientFilters
	if err := c.ShouldBindQuery(&filters); err != nil {
		handler.RespondBindError(c, err)
		return
	}

	patients, err := h.service.ListPatients(c.Request.Context(), &filters)
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(patients))
}
