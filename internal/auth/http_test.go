// ABOUTME: Tests for the operator token HTTP middleware
// ABOUTME: Covers header and query tokens, rejection paths and the disabled mode

package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func operatorEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(OperatorFromContext(r.Context())))
	})
}

func TestMiddleware(t *testing.T) {
	verifier := newTestVerifier(t)
	valid, _ := verifier.Generate("jordan", time.Hour)
	expired, _ := verifier.Generate("jordan", -time.Hour)

	tests := []struct {
		name     string
		header   string
		query    string
		wantCode int
		wantBody string
	}{
		{"bearer header", "Bearer " + valid, "", http.StatusOK, "jordan"},
		{"query token", "", "?token=" + valid, http.StatusOK, "jordan"},
		{"missing", "", "", http.StatusUnauthorized, "missing authorization header"},
		{"basic scheme", "Basic abc", "", http.StatusUnauthorized, "invalid authorization header format"},
		{"empty bearer", "Bearer ", "", http.StatusUnauthorized, "empty token"},
		{"garbage", "Bearer nope", "", http.StatusUnauthorized, "invalid token"},
		{"expired", "Bearer " + expired, "", http.StatusUnauthorized, "token expired"},
		{"header wins over query", "Bearer nope", "?token=" + valid, http.StatusUnauthorized, "invalid token"},
	}

	handler := Middleware(verifier)(operatorEcho())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/stats"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("body = %q, want it to contain %q", rec.Body.String(), tt.wantBody)
			}
			if tt.wantCode == http.StatusUnauthorized && rec.Header().Get("WWW-Authenticate") == "" {
				t.Error("missing WWW-Authenticate header")
			}
		})
	}
}

func TestMiddleware_NilVerifierAllowsAll(t *testing.T) {
	rec := httptest.NewRecorder()
	Middleware(nil)(operatorEcho()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "" {
		t.Errorf("operator = %q, want anonymous", rec.Body.String())
	}
}
