package handler

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
)

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func serve(engine *gin.Engine, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func newEngine(db pinger) *gin.Engine {
	gin.SetMode(gin.TestMode)
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "sample_total", Help: "sample"}))

	h := NewHandler(db, reg)
	engine := gin.New()
	h.RegisterRoutes(engine.Group("/api/v1"))
	h.RegisterHealthRoutes(engine)
	return engine
}

func TestMetaEndpoints(t *testing.T) {
	engine := newEngine(pinger{})

	w := serve(engine, http.MethodGet, "/api/v1/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"Status":"Everything is OK!"}`, w.Body.String())

	w = serve(engine, http.MethodGet, "/api/v1/version")
	assert.JSONEq(t, `{"CMS Version":"1.0.0"}`, w.Body.String())

	w = serve(engine, http.MethodGet, "/health/live")
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(engine, http.MethodGet, "/health/ready")
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(engine, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "sample_total")
}

func TestReadinessDown(t *testing.T) {
	engine := newEngine(pinger{err: errors.New("connection refused")})

	w := serve(engine, http.MethodGet, "/health/ready")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "DOWN")
}

func TestRespondError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	conflict := uuid.New()

	tests := []struct {
		name   string
		err    error
		status int
		code   string
		body   string
	}{
		{"validation", apperrors.Validation("end_at must be after start_at"), http.StatusBadRequest, "validation", "end_at must be after start_at"},
		{"overlap", apperrors.Overlap(conflict), http.StatusConflict, "overlap", conflict.String()},
		{"invalid credentials", apperrors.InvalidCredentials(), http.StatusUnauthorized, "invalid_credentials", ""},
		{"expired", apperrors.Expired(nil), http.StatusUnauthorized, "expired", ""},
		{"duplicate identity", apperrors.DuplicateIdentity("email already registered", nil), http.StatusConflict, "duplicate_identity", "email already registered"},
		{"forbidden", apperrors.Forbidden("admin access required"), http.StatusForbidden, "forbidden", ""},
		{"not found", apperrors.NotFound("appointment", nil), http.StatusNotFound, "not_found", ""},
		{"unavailable", apperrors.Unavailable(context.DeadlineExceeded), http.StatusServiceUnavailable, "unavailable", "retry later"},
		{"deadline", context.DeadlineExceeded, http.StatusServiceUnavailable, "unavailable", ""},
		{"plain error", errors.New("pq: secret detail"), http.StatusInternalServerError, "internal", "internal server error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

			RespondError(c, tt.err)
			require.Equal(t, tt.status, w.Code)
			assert.Contains(t, w.Body.String(), `"code":"`+tt.code+`"`)
			assert.Contains(t, w.Body.String(), tt.body)
			assert.NotContains(t, w.Body.String(), "secret detail")
		})
	}
}

func TestRespondBindErrorHidesInternals(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var logs bytes.Buffer
	logger := zerolog.New(&logs)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", nil).WithContext(logger.WithContext(context.Background()))

	RespondBindError(c, errors.New("json: cannot unmarshal into Go struct field internalRequest.secret"))

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"message":"invalid request"`)
	assert.NotContains(t, w.Body.String(), "internalRequest")
	assert.Contains(t, logs.String(), "internalRequest.secret")
}
