package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func issue(t *testing.T, secret []byte, scopes ...string) string {
	t.Helper()
	token, err := Issue(secret, Claims{Operator: "studio", Scopes: scopes}, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return token
}

func TestMiddleware(t *testing.T) {
	secret := []byte("test-secret")
	control := issue(t, secret, ScopeControl)
	readOnly := issue(t, secret, ScopeRead)

	tests := []struct {
		name      string
		secret    []byte
		path      string
		header    string
		websocket bool
		want      int
	}{
		{"disabled", nil, "/stop", "", false, http.StatusOK},
		{"bearer with scope", secret, "/stop", "Bearer " + control, false, http.StatusOK},
		{"missing token", secret, "/stop", "", false, http.StatusUnauthorized},
		{"bad token", secret, "/stop", "Bearer nope", false, http.StatusUnauthorized},
		{"missing scope", secret, "/stop", "Bearer " + readOnly, false, http.StatusForbidden},
		{"query token on plain request", secret, "/stop?token=" + control, "", false, http.StatusUnauthorized},
		{"query token on status stream", secret, StatusStreamPath + "?token=" + control, "", true, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.secret != nil {
					if _, ok := ClaimsFromContext(r.Context()); !ok {
						t.Error("expected claims in context")
					}
				}
				w.WriteHeader(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodPost, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if tt.websocket {
				req.Header.Set("Upgrade", "websocket")
			}
			rr := httptest.NewRecorder()
			Middleware(tt.secret, ScopeControl)(next).ServeHTTP(rr, req)
			if rr.Code != tt.want {
				t.Fatalf("expected %d, got %d body=%s", tt.want, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestOperator(t *testing.T) {
	secret := []byte("test-secret")
	var got string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = Operator(r.Context())
	})

	req := httptest.NewRequest(http.MethodPost, "/stop", nil)
	req.Header.Set("Authorization", "Bearer "+issue(t, secret, ScopeControl))
	Middleware(secret, ScopeControl)(next).ServeHTTP(httptest.NewRecorder(), req)
	if got != "studio" {
		t.Fatalf("operator = %q, want studio", got)
	}

	Middleware(nil, ScopeControl)(next).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/stop", nil))
	if got != "anonymous" {
		t.Fatalf("operator = %q, want anonymous", got)
	}
}
