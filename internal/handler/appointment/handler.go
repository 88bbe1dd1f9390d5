package appointment

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-api/internal/handler"
	"github.com/jwalitptl/clinic-api/internal/middleware"
	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/internal/service/appointment"
	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
)

type Handler struct {
	service *appointment.Service
}

func NewHandler(service *appointment.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup, authMW *middleware.AuthMiddleware) {
	appointments := r.Group("/appointments")
	{
		appointments.POST("", authMW.OptionalAuth(), h.CreateAppointment)
		appointments.GET("", authMW.Authenticate(), h.ListAppointments)
		appointments.GET("/:id", authMW.Authenticate(), h.GetAppointment)
		appointments.PATCH("/:id/status", authMW.Authenticate(), middleware.RequireAdmin(), h.UpdateAppointmentStatus)
	}
	r.GET("/my-appointments", authMW.Authenticate(), h.ListMyAppointments)
	r.GET("/admin/appointments", authMW.Authenticate(), middleware.RequireAdmin(), h.ListAdminAppointments)
}

func (h *Handler) CreateAppointment(c *gin.Context) {
	var req model.CreateAppointmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.RespondBindError(c, err)
		return
	}

	booking, err := toBooking(&req)
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	apt, err := h.service.Book(c.Request.Context(), middleware.CallerFrom(c), booking)
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, handler.NewSuccessResponse(apt))
}

// toBooking parses a bound request. Timestamps were already checked to be
// RFC 3339 with an offset by the binding tags.
func toBooking(req *model.CreateAppointmentRequest) (*model.Booking, error) {
	doctorID, err := uuid.Parse(req.DoctorID)
	if err != nil {
		return nil, apperrors.Validation("invalid doctor_id")
	}
	start, err := time.Parse(time.RFC3339, req.StartAt)
	if err != nil {
		return nil, apperrors.Validation("invalid start_at")
	}
	end, err := time.Parse(time.RFC3339, req.EndAt)
	if err != nil {
		return nil, apperrors.Validation("invalid end_at")
	}

	b := &model.Booking{
		DoctorID:     doctorID,
		StartAt:      start,
		EndAt:        end,
		Reason:       req.Reason,
		PatientName:  req.PatientName,
		PatientEmail: req.PatientEmail,
		PatientPhone: req.PatientPhone,
		Service:      req.Service,
	}
	if req.PaymentReference != "" {
		ref := req.PaymentReference
		b.PaymentReference = &ref
	}
	return b, nil
}

func (h *Handler) GetAppointment(c *gin.Context) {
	id, ok := handler.ParseID(c, "id")
	if !ok {
		return
	}

	apt, err := h.service.Get(c.Request.Context(), middleware.CallerFrom(c), id)
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(apt))
}

func parseFilters(c *gin.Context) (*model.AppointmentFilters, error) {
	f := &model.AppointmentFilters{
		PatientEmail: c.Query("patient_email"),
		Status:       model.AppointmentStatus(c.Query("status")),
	}

	if v := c.Query("doctor_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return nil, apperrors.Validation("invalid doctor_id")
		}
		f.DoctorID = &id
	}
	if v := c.Query("created_by"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return nil, apperrors.Validation("invalid created_by")
		}
		f.CreatedBy = &id
	}
	for param, dst := range map[string]**time.Time{"from": &f.From, "to": &f.To} {
		v := c.Query(param)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, apperrors.Validation(param + " must be an RFC 3339 timestamp with offset")
		}
		*dst = &t
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, apperrors.Validation("limit must be a positive integer")
		}
		f.Limit = n
	}
	return f, nil
}

func (h *Handler) ListAppointments(c *gin.Context) {
	filters, err := parseFilters(c)
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	appointments, err := h.service.List(c.Request.Context(), middleware.CallerFrom(c), filters)
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(appointments))
}

// ListMyAppointments lists the caller's own bookings, admin or not.
func (h *Handler) ListMyAppointments(c *gin.Context) {
	filters, err := parseFilters(c)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	caller := middleware.CallerFrom(c)
	filters.CreatedBy = caller.UserID()

	appointments, err := h.service.List(c.Request.Context(), caller, filters)
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(appointments))
}

func (h *Handler) ListAdminAppointments(c *gin.Context) {
	filters, err := parseFilters(c)
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	rows, err := h.service.ListWithCreators(c.Request.Context(), middleware.CallerFrom(c), filters)
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(rows))
}

func (h *Handler) UpdateAppointmentStatus(c *gin.Context) {
	id, ok := handler.ParseID(c, "id")
	if !ok {
		return
	}

	var req model.UpdateAppointmentStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.RespondBindError(c, err)
		return
	}

	apt, err := h.service.UpdateStatus(c.Request.Context(), middleware.CallerFrom(c), id, model.AppointmentStatus(req.Status))
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(apt))
}
