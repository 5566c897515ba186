package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type staticAuthenticator struct {
	identity Identity
	err      error
}

func (s staticAuthenticator) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	return s.identity, s.err
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddleware_SkipPrefixes(t *testing.T) {
	m := Middleware{
		Authenticator: staticAuthenticator{err: ErrUnauthenticated},
		SkipPrefixes:  []string{"/healthz"},
	}
	rec := httptest.NewRecorder()
	m.Wrap(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://example.test/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", rec.Code)
	}
}

func TestMiddleware_DenyCodes(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"missing", fmtErr("no X-API-Key header", ErrMissingKey), http.StatusUnauthorized, "missing_api_key"},
		{"invalid", fmtErr("unknown api key", ErrUnauthenticated), http.StatusUnauthorized, "invalid_api_key"},
		{"expired", fmtErr("api key 3 expired", ErrExpired), http.StatusUnauthorized, "api_key_expired"},
	}
	for _, tc := range cases {
		var audited []DenyEvent
		m := Middleware{
			Authenticator: staticAuthenticator{err: tc.err},
			Audit: func(ctx context.Context, event DenyEvent) error {
				audited = append(audited, event)
				return nil
			},
		}
		rec := httptest.NewRecorder()
		m.Wrap(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://example.test/api/v1/runs", nil))
		if rec.Code != tc.wantStatus {
			t.Fatalf("%s: status=%d, want %d", tc.name, rec.Code, tc.wantStatus)
		}
		if !strings.Contains(rec.Body.String(), tc.wantCode) {
			t.Fatalf("%s: body=%s, want code %s", tc.name, rec.Body.String(), tc.wantCode)
		}
		if len(audited) != 1 || audited[0].Reason != tc.wantCode {
			t.Fatalf("%s: audited=%+v", tc.name, audited)
		}
	}
}

func TestMiddleware_AdminGate(t *testing.T) {
	authorize := AdminPathAuthorizer("/api/v1/admin/")

	user := Middleware{
		Authenticator: staticAuthenticator{identity: Identity{KeyID: 1, Role: RoleUser}},
		Authorize:     authorize,
	}
	rec := httptest.NewRecorder()
	user.Wrap(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "http://example.test/api/v1/admin/cleanup", nil))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("user on admin path: status=%d, want 403", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "admin_required") {
		t.Fatalf("body=%s", rec.Body.String())
	}

	admin := Middleware{
		Authenticator: staticAuthenticator{identity: Identity{KeyID: 2, Role: RoleAdmin}},
		Authorize:     authorize,
	}
	rec = httptest.NewRecorder()
	admin.Wrap(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "http://example.test/api/v1/admin/cleanup", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("admin on admin path: status=%d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	user.Wrap(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://example.test/api/v1/runs", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("user outside admin path: status=%d, want 200", rec.Code)
	}
}

func TestMiddleware_IdentityInContext(t *testing.T) {
	m := Middleware{Authenticator: staticAuthenticator{identity: Identity{KeyID: 9, KeyName: "ops", Role: RoleAdmin}}}
	var got Identity
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	rec := httptest.NewRecorder()
	m.Wrap(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://example.test/api/v1/runs", nil))
	if got.KeyID != 9 || got.KeyName != "ops" {
		t.Fatalf("identity=%+v", got)
	}
}

func fmtErr(msg string, sentinel error) error {
	return &wrappedErr{msg: msg, err: sentinel}
}

type wrappedErr struct {
	msg string
	err error
}

func (e *wrappedErr) Error() string { return e.msg }
func (e *wrappedErr) Unwrap() error { return e.err }
