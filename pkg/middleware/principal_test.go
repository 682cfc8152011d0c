package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/platinummonkey/scribe/pkg/contextkeys"
	"github.com/platinummonkey/scribe/pkg/observability"
)

func TestPrincipal(t *testing.T) {
	var seen string
	handler := Principal(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = PrincipalFromRequest(r)
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("missing header", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/me/permissions", nil))
		if w.Code != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", w.Code)
		}
		if w.Body.String() != `{"error":"missing principal"}` {
			t.Errorf("unexpected body: %s", w.Body.String())
		}
	})

	t.Run("blank header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(PrincipalHeader, "   ")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", w.Code)
		}
	})

	t.Run("sets user", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(PrincipalHeader, " alice ")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		if seen != "alice" {
			t.Errorf("principal = %q, want alice", seen)
		}
	})
}

func TestRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := observability.NewLogger(observability.DebugLevel, &buf)

	var requestID string
	handler := RequestID(logger)(Principal(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID = contextkeys.GetRequestID(r.Context())
		observability.GetLogger(r.Context()).Info("handled")
	})))

	t.Run("generates", func(t *testing.T) {
		buf.Reset()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(PrincipalHeader, "alice")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if requestID == "" {
			t.Fatal("expected a generated request ID")
		}
		if w.Header().Get(RequestIDHeader) != requestID {
			t.Errorf("response header %q != %q", w.Header().Get(RequestIDHeader), requestID)
		}
		out := buf.String()
		if !strings.Contains(out, requestID) || !strings.Contains(out, `"user_id":"alice"`) {
			t.Errorf("log line missing request or user: %s", out)
		}
	})

	t.Run("reuses incoming", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(PrincipalHeader, "alice")
		req.Header.Set(RequestIDHeader, "req-123")
		handler.ServeHTTP(httptest.NewRecorder(), req)
		if requestID != "req-123" {
			t.Errorf("request ID = %q, want req-123", requestID)
		}
	})

	t.Run("replaces oversized", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(PrincipalHeader, "alice")
		req.Header.Set(RequestIDHeader, strings.Repeat("x", 500))
		handler.ServeHTTP(httptest.NewRecorder(), req)
		if len(requestID) > maxRequestIDLength {
			t.Errorf("oversized request ID was kept")
		}
	})
}

func TestAccessLog(t *testing.T) {
	var buf bytes.Buffer
	logger := observability.NewLogger(observability.DebugLevel, &buf)

	handler := RequestID(logger)(AccessLog(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/capabilities", nil))

	out := buf.String()
	if !strings.Contains(out, `"status":503`) || !strings.Contains(out, `"level":"error"`) {
		t.Errorf("unexpected access log: %s", out)
	}
	if !strings.Contains(out, `"path":"/v1/capabilities"`) {
		t.Errorf("missing path: %s", out)
	}
}
