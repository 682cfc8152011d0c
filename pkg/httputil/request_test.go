package httputil

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/scribe/pkg/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type levelBody struct {
	Level string `json:"level"`
}

func TestParseJSON(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		expectError string
	}{
		{name: "valid JSON", body: `{"level": "editor"}`},
		{name: "invalid JSON", body: `{invalid}`, expectError: "invalid JSON"},
		{name: "unknown field", body: `{"level": "editor", "lvl": 2}`, expectError: "unknown field"},
		{name: "empty body", body: ``, expectError: "request body is required"},
		{name: "trailing data", body: `{"level": "editor"} {}`, expectError: "trailing data"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPut, "/test", bytes.NewBufferString(tt.body))
			var dest levelBody

			err := ParseJSON(req, &dest)

			if tt.expectError != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectError)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "editor", dest.Level)
		})
	}
}

func TestParseJSONOrError(t *testing.T) {
	req := httptest.NewRequest(http.MethodPut, "/test", strings.NewReader(`nope`))
	w := httptest.NewRecorder()
	var dest levelBody

	ok := ParseJSONOrError(w, req, &dest)

	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPathString(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/resources/r1", nil)
	req = mux.SetURLVars(req, map[string]string{"id": "r1"})

	val, err := PathString(req, "id")
	require.NoError(t, err)
	assert.Equal(t, "r1", val)

	_, err = PathString(req, "userID")
	assert.Error(t, err)

	w := httptest.NewRecorder()
	_, ok := PathStringOrError(w, req, "userID")
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestQueryInt(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/test?days=30&bad=x", nil)

	val, err := QueryInt(req, "days", 7)
	require.NoError(t, err)
	assert.Equal(t, 30, val)

	val, err = QueryInt(req, "missing", 7)
	require.NoError(t, err)
	assert.Equal(t, 7, val)

	_, err = QueryInt(req, "bad", 7)
	assert.Error(t, err)

	w := httptest.NewRecorder()
	_, ok := QueryIntOrError(w, req, "bad", 7)
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestQueryString(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/test?level=edit", nil)

	assert.Equal(t, "edit", QueryString(req, "level", "view"))
	assert.Equal(t, "view", QueryString(req, "other", "view"))
}

func TestRecovery(t *testing.T) {
	var logs bytes.Buffer
	logger := observability.NewLogger(observability.InfoLevel, &logs)
	handler := Recovery(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("kaboom")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/capabilities", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, logs.String(), "kaboom")
	assert.Contains(t, logs.String(), "GET /v1/capabilities")
}

func TestRequireJSON(t *testing.T) {
	handler := RequireJSON(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		method      string
		contentType string
		status      int
	}{
		{http.MethodPut, "application/json", http.StatusOK},
		{http.MethodPut, "application/json; charset=utf-8", http.StatusOK},
		{http.MethodPut, "", http.StatusOK},
		{http.MethodPost, "text/plain", http.StatusUnsupportedMediaType},
		{http.MethodGet, "text/plain", http.StatusOK},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(tt.method, "/test", strings.NewReader(`{}`))
		if tt.contentType != "" {
			req.Header.Set("Content-Type", tt.contentType)
		}
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, tt.status, w.Code, "%s %q", tt.method, tt.contentType)
	}
}

func TestMaxBytes(t *testing.T) {
	handler := MaxBytes(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := io.ReadAll(r.Body); err != nil {
			WriteBadRequest(w, err.Error())
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPut, "/test", strings.NewReader(`{"level":"admin"}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPut, "/test", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestChain(t *testing.T) {
	var order []string
	mw := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	Chain(mw("a"), mw("b"))(http.NotFoundHandler()).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, []string{"a", "b"}, order)
}
