package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fhirsql/internal/compiler"
	"github.com/roach88/fhirsql/internal/store"
	"github.com/roach88/fhirsql/internal/testutil"
)

func newTestServer(t *testing.T, exec store.Executor) *Server {
	t.Helper()
	return New(Options{
		Logger:          zerolog.Nop(),
		Compiler:        compiler.Options{IDs: testutil.NewFixedIDGenerator("")},
		Executor:        exec,
		ExecutorDialect: "sqlite",
	})
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestCompile_ReturnsSQL(t *testing.T) {
	s := newTestServer(t, nil)

	rec := do(t, s, http.MethodPost, "/v1/compile", `{"expression":"Patient.name.given"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decode(t, rec)
	assert.Equal(t, "test-compilation", body["id"])
	assert.Contains(t, body["sql"], "WITH")
	assert.Len(t, body["ctes"], 2)
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
}

func TestCompile_DialectOverride(t *testing.T) {
	s := newTestServer(t, nil)

	rec := do(t, s, http.MethodPost, "/v1/compile", `{"expression":"Patient.name.given","dialect":"postgres"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, decode(t, rec)["sql"], "jsonb_array_elements")
}

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"malformed body", `{`, http.StatusBadRequest, "INVALID_BODY"},
		{"missing expression", `{}`, http.StatusBadRequest, "INVALID_BODY"},
		{"unknown dialect", `{"expression":"Patient.id","dialect":"oracle"}`, http.StatusBadRequest, "INVALID_OPTIONS"},
		{"syntax error", `{"expression":"Patient.("}`, http.StatusBadRequest, "SYNTAX_ERROR"},
		{"unknown property", `{"expression":"Patient.nmae"}`, http.StatusUnprocessableEntity, "UNKNOWN_PROPERTY"},
		{"unknown function", `{"expression":"Patient.name.frist()"}`, http.StatusUnprocessableEntity, "UNKNOWN_FUNCTION"},
	}

	s := newTestServer(t, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, http.MethodPost, "/v1/compile", tt.body)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			errBody, ok := decode(t, rec)["error"].(map[string]any)
			require.True(t, ok)
			assert.Equal(t, tt.code, errBody["code"])
		})
	}
}

func TestCompile_UnknownPropertyCandidates(t *testing.T) {
	s := newTestServer(t, nil)

	rec := do(t, s, http.MethodPost, "/v1/compile", `{"expression":"Patient.nmae"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	errBody := decode(t, rec)["error"].(map[string]any)
	assert.Contains(t, errBody["candidates"], "name")
}

func TestCompile_ResourceTypeOverride(t *testing.T) {
	s := newTestServer(t, nil)

	rec := do(t, s, http.MethodPost, "/v1/compile", `{"expression":"Observation.status","resourceType":"Observation"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, decode(t, rec)["sql"], "FROM observation")
}

func TestExplain_ListsSteps(t *testing.T) {
	s := newTestServer(t, nil)

	rec := do(t, s, http.MethodPost, "/v1/explain", `{"expression":"Patient.name.given"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	steps, ok := decode(t, rec)["steps"].([]any)
	require.True(t, ok)
	assert.Len(t, steps, 2)
}

func TestTypes_ListsCatalogue(t *testing.T) {
	s := newTestServer(t, nil)

	rec := do(t, s, http.MethodGet, "/v1/types", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Contains(t, body["types"], "Quantity")
	assert.Contains(t, body["functions"], "where")
	assert.Contains(t, body["dialects"], "postgres")
}

func TestRun_NotRegisteredWithoutExecutor(t *testing.T) {
	s := newTestServer(t, nil)

	rec := do(t, s, http.MethodPost, "/v1/run", `{"expression":"Patient.id"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRun_ExecutesAgainstStore(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	_, err = st.LoadResources(context.Background(), "Patient", testutil.Patients)
	require.NoError(t, err)

	s := newTestServer(t, st)
	rec := do(t, s, http.MethodPost, "/v1/run", `{"expression":"Patient.name.where(use = 'official').family"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp RunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Rows, 3)
	assert.Equal(t, "p1", resp.Rows[0].ID)
	assert.JSONEq(t, `["Smith"]`, string(resp.Rows[0].Result))
	assert.JSONEq(t, `[]`, string(resp.Rows[2].Result))
}

type failingExecutor struct {
	store.Executor
}

func (failingExecutor) Query(context.Context, string) ([]store.Row, error) {
	return nil, errors.New("connection refused")
}

func (failingExecutor) Ping(context.Context) error {
	return errors.New("connection refused")
}

func TestRun_ExecutionFailure(t *testing.T) {
	s := newTestServer(t, failingExecutor{})

	rec := do(t, s, http.MethodPost, "/v1/run", `{"expression":"Patient.id"}`)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "EXECUTION_FAILED", decode(t, rec)["error"].(map[string]any)["code"])
}

func TestHealth(t *testing.T) {
	rec := do(t, newTestServer(t, nil), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, newTestServer(t, failingExecutor{}), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRun_ShutsDownOnCancel(t *testing.T) {
	s := newTestServer(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, "127.0.0.1:0") }()
	cancel()
	assert.NoError(t, <-done)
}
