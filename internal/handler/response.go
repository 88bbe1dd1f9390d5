package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
)

type Response struct {
	Status     string       `json:"status"`
	Code       string       `json:"code,omitempty"`
	Message    string       `json:"message,omitempty"`
	ConflictID *uuid.UUID   `json:"conflict_id,omitempty"`
	Errors     []FieldError `json:"errors,omitempty"`
	Data       interface{}  `json:"data,omitempty"`
}

// FieldError describes one invalid request field, named as in the JSON body.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func NewSuccessResponse(data interface{}) *Response {
	return &Response{
		Status: "success",
		Data:   data,
	}
}

func NewErrorResponse(message string) *Response {
	return &Response{
		Status:  "error",
		Message: message,
	}
}

// StatusFor maps an error code to its HTTP status.
func StatusFor(code apperrors.ErrorCode) int {
	switch code {
	case apperrors.CodeValidation:
		return http.StatusBadRequest
	case apperrors.CodeOverlap, apperrors.CodeDuplicateIdentity, apperrors.CodeConflict:
		return http.StatusConflict
	case apperrors.CodeInvalidCredentials, apperrors.CodeInvalidToken, apperrors.CodeExpired,
		apperrors.CodeUnknownSubject, apperrors.CodeInvalidProviderToken, apperrors.CodeUnauthenticated:
		return http.StatusUnauthorized
	case apperrors.CodeForbidden:
		return http.StatusForbidden
	case apperrors.CodeNotFound:
		return http.StatusNotFound
	case apperrors.CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// RespondError writes err as a structured error response. Internal errors are
// logged and answered with a generic message.
func RespondError(c *gin.Context, err error) {
	code := apperrors.CodeOf(err)
	status := StatusFor(code)
	resp := &Response{Status: "error", Code: string(code)}

	appErr, ok := apperrors.As(err)
	switch {
	case code == apperrors.CodeUnavailable:
		zerolog.Ctx(c.Request.Context()).Warn().Err(err).Msg("dependency unavailable")
		resp.Message = "service temporarily unavailable, retry later"
		c.Header("Retry-After", "1")
	case code == apperrors.CodeInternal || !ok:
		zerolog.Ctx(c.Request.Context()).Error().Err(err).Msg("request failed")
		resp.Code = string(apperrors.CodeInternal)
		resp.Message = "internal server error"
		status = http.StatusInternalServerError
	default:
		resp.Message = appErr.Message
		resp.ConflictID = appErr.ConflictID
	}
	c.AbortWithStatusJSON(status, resp)
}

var fieldMessages = map[string]string{
	"required":  "field is required",
	"email":     "invalid email format",
	"min":       "value is too short",
	"max":       "value is too long",
	"len":       "value has the wrong length",
	"numeric":   "value must contain digits only",
	"uuid":      "value must be a UUID",
	"oneof":     "value is not one of the allowed values",
	"rfc3339tz": "timestamp must be RFC 3339 with an explicit UTC offset",
}

// RespondBindError answers a failed ShouldBind* call with 400.
func RespondBindError(c *gin.Context, err error) {
	resp := &Response{Status: "error", Code: string(apperrors.CodeValidation), Message: "invalid request"}

	var verrs validator.ValidationErrors
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	var timeErr *time.ParseError
	var sizeErr *http.MaxBytesError
	switch {
	case errors.As(err, &sizeErr):
		resp.Message = "request body too large"
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, resp)
		return
	case errors.As(err, &verrs):
		for _, e := range verrs {
			msg, ok := fieldMessages[e.Tag()]
			if !ok {
				msg = "value is invalid"
			}
			resp.Errors = append(resp.Errors, FieldError{Field: e.Field(), Message: msg})
		}
	case errors.Is(err, io.EOF):
		resp.Message = "request body is required"
	case errors.As(err, &syntaxErr):
		resp.Message = "request body is not valid JSON"
	case errors.As(err, &typeErr):
		resp.Errors = []FieldError{{Field: typeErr.Field, Message: "value has the wrong type"}}
	case errors.As(err, &timeErr):
		resp.Message = "invalid timestamp"
	default:
		// Binder errors can quote internal type names; keep them in the log only.
		zerolog.Ctx(c.Request.Context()).Warn().Err(err).Msg("request binding failed")
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, resp)
}

// ParseID reads a UUID path parameter, answering 400 when it is malformed.
func ParseID(c *gin.Context, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		RespondError(c, apperrors.Validation("invalid "+param))
		return uuid.Nil, false
	}
	return id, true
}
