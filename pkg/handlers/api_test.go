package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spendlens/spendlens/cmd/server/middleware"
	pkgerrors "github.com/spendlens/spendlens/pkg/errors"
	"github.com/spendlens/spendlens/pkg/models"
)

type stubService struct {
	generated *models.GeneratedSQL
	result    *models.ExecutionResult
	err       error

	gotQuestion string
	gotSQL      string
	gotTenant   string
}

func (s *stubService) ConvertQuestionToSQL(ctx context.Context, question, userID string) (*models.GeneratedSQL, error) {
	s.gotQuestion, s.gotTenant = question, userID
	return s.generated, s.err
}

func (s *stubService) RunSQL(ctx context.Context, sqlText, userID string) (*models.ExecutionResult, error) {
	s.gotSQL, s.gotTenant = sqlText, userID
	return s.result, s.err
}

type stubHealth struct{ err error }

func (s *stubHealth) HealthCheck(ctx context.Context) error { return s.err }

// testAuth injects a fixed tenant, standing in for the JWT middleware.
func testAuth(tenant string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(middleware.WithTenant(r.Context(), tenant)))
		})
	}
}

func newTestRouter(svc *stubService, health HealthChecker) http.Handler {
	api := NewAPI(svc, health, zerolog.Nop())
	return api.Router(RouterOptions{Auth: testAuth("u1")})
}

func TestAPI_Ask(t *testing.T) {
	svc := &stubService{generated: &models.GeneratedSQL{
		SQL:         "SELECT SUM(amount) FROM expense WHERE user_id = ?",
		Confidence:  0.83,
		Explanation: "Generated from 2 similar examples and 1 schema fragments; an account filter was added automatically.",
	}}
	router := newTestRouter(svc, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/ask",
		strings.NewReader(`{"question": "how much did I spend?"}`)))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "how much did I spend?", svc.gotQuestion)
	assert.Equal(t, "u1", svc.gotTenant)

	var got models.GeneratedSQL
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, svc.generated.SQL, got.SQL)
	assert.Equal(t, 0.83, got.Confidence)
}

func TestAPI_Query(t *testing.T) {
	svc := &stubService{result: &models.ExecutionResult{
		Columns:  []string{"category", "total"},
		Rows:     [][]interface{}{{"food", 120.5}},
		RowCount: 1,
	}}
	router := newTestRouter(svc, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/query",
		strings.NewReader(`{"sql": "SELECT category, SUM(amount) FROM expense GROUP BY category"}`)))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "SELECT category, SUM(amount) FROM expense GROUP BY category", svc.gotSQL)

	var got models.ExecutionResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, int64(1), got.RowCount)
	assert.Equal(t, []string{"category", "total"}, got.Columns)
}

func TestAPI_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{
			"validation failure",
			pkgerrors.New(pkgerrors.CodeInvalidSQL, "sql failed validation").
				WithDetail("violations", []models.ViolationKind{models.ViolationWriteOperation}),
			http.StatusUnprocessableEntity,
		},
		{"unsupported shape", pkgerrors.ErrUnsupportedShape, http.StatusUnprocessableEntity},
		{"timeout", pkgerrors.ErrExecutionTimeout, http.StatusGatewayTimeout},
		{"engine failure", pkgerrors.New(pkgerrors.CodeExecutionFailed, "binder error"), http.StatusBadGateway},
		{"generation failure", pkgerrors.ErrGenerationEmpty, http.StatusBadGateway},
		{"bad request", pkgerrors.ErrEmptyQuestion, http.StatusBadRequest},
		{"pool down", pkgerrors.ErrConnectionFailed, http.StatusServiceUnavailable},
		{"unknown", pkgerrors.New(pkgerrors.CodeInternal, "boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(&stubService{err: tt.err}, nil)

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/query",
				strings.NewReader(`{"sql": "SELECT 1"}`)))

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Contains(t, rec.Body.String(), pkgerrors.GetCode(tt.err))
		})
	}
}

func TestAPI_ViolationsReachTheClient(t *testing.T) {
	err := pkgerrors.New(pkgerrors.CodeInvalidSQL, "sql failed validation").
		WithDetail("violations", []models.ViolationKind{
			models.ViolationWriteOperation,
			models.ViolationMultiStatement,
		})
	router := newTestRouter(&stubService{err: err}, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/query",
		strings.NewReader(`{"sql": "DROP TABLE expense; DELETE FROM expense"}`)))

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var body struct {
		Error struct {
			Violations []string `json:"violations"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []string{"write_operation", "multi_statement"}, body.Error.Violations)
}

func TestAPI_MalformedBody(t *testing.T) {
	router := newTestRouter(&stubService{}, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/ask",
		strings.NewReader(`{"question": `)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_NoTenantWithoutAuthMiddleware(t *testing.T) {
	api := NewAPI(&stubService{}, nil, zerolog.Nop())
	router := api.Router(RouterOptions{}) // no auth middleware installed

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/query",
		strings.NewReader(`{"sql": "SELECT 1"}`)))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPI_Health(t *testing.T) {
	router := newTestRouter(&stubService{}, &stubHealth{})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	router = newTestRouter(&stubService{}, &stubHealth{err: pkgerrors.ErrConnectionFailed})
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
