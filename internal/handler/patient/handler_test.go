package patient

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/clinic-api/internal/middleware"
	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/internal/repository/memory"
	"github.com/jwalitptl/clinic-api/internal/service/patient"
	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
)

func init() {
	gin.SetMode(gin.TestMode)
	if err := middleware.RegisterValidators(); err != nil {
		panic(err)
	}
}

// tokenResolver maps fixed tokens to users.
type tokenResolver map[string]*model.User

func (r tokenResolver) ResolveCredential(_ context.Context, token string) (*model.User, error) {
	if u, ok := r[token]; ok {
		return u, nil
	}
	return nil, apperrors.InvalidToken(nil)
}

func (r tokenResolver) ResolveCredentialOptional(ctx context.Context, token string) (model.Caller, error) {
	u, err := r.ResolveCredential(ctx, token)
	if err != nil {
		return model.Anonymous(), nil
	}
	return model.Authenticated(u), nil
}

type envelope struct {
	Code string          `json:"code"`
	Data json.RawMessage `json:"data"`
}

func newEngine() *gin.Engine {
	resolver := tokenResolver{
		"staff": {Base: model.Base{ID: uuid.New()}, Email: "staff@example.com"},
		"admin": {Base: model.Base{ID: uuid.New()}, Email: "admin@example.com", IsAdmin: true},
	}
	engine := gin.New()
	NewHandler(patient.NewService(memory.NewPatientRepository(memory.NewStore()))).
		RegisterRoutes(engine.Group("/api/v1"), middleware.NewAuthMiddleware(resolver))
	return engine
}

func send(engine *gin.Engine, method, path, token string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	var env envelope
	_ = json.Unmarshal(w.Body.Bytes(), &env)
	return w, env
}

func TestPatientEndpoints(t *testing.T) {
	engine := newEngine()
	body := map[string]string{"full_name": "Sara Ahmadi", "phone_number": "09120000001"}

	w, _ := send(engine, http.MethodPost, "/api/v1/patients", "", body)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = send(engine, http.MethodPost, "/api/v1/patients", "staff", body)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, env := send(engine, http.MethodPost, "/api/v1/patients", "admin", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created model.Patient
	require.NoError(t, json.Unmarshal(env.Data, &created))

	w, env = send(engine, http.MethodPost, "/api/v1/patients", "admin", body)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "conflict", env.Code)

	w, _ = send(engine, http.MethodPost, "/api/v1/patients", "admin", map[string]string{"full_name": "Sara Ahmadi", "phone_number": "0912"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var found []model.Patient
	w, env = send(engine, http.MethodGet, "/api/v1/patients/search?name=ahmadi", "staff", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(env.Data, &found))
	require.Len(t, found, 1)
	assert.Equal(t, created.ID, found[0].ID)

	w, env = send(engine, http.MethodGet, "/api/v1/patients?phone=0935", "staff", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(env.Data, &found))
	assert.Empty(t, found)

	path := "/api/v1/patients/" + created.ID.String()
	w, env = send(engine, http.MethodPut, path, "admin", map[string]string{"phone_number": "09350000002"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var updated model.Patient
	require.NoError(t, json.Unmarshal(env.Data, &updated))
	assert.Equal(t, "Sara Ahmadi", updated.FullName)
	assert.Equal(t, "09350000002", updated.PhoneNumber)

	w, _ = send(engine, http.MethodGet, path, "staff", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = send(engine, http.MethodDelete, path, "admin", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w, env = send(engine, http.MethodGet, path, "staff", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", env.Code)
}
