package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	xerrors "ChainGuard-Agent/internal/errors"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService([]Token{
		{Name: "ops", Value: "ops-secret"},
		{Name: "reader", Value: "reader-secret", Permissions: []string{PermissionTasksRead, PermissionWallet}},
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestAuthenticateRequest(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	subject, err := svc.AuthenticateRequest(ctx, "Bearer reader-secret")
	if err != nil || subject.Name != "reader" {
		t.Fatalf("expected reader subject, got %+v (%v)", subject, err)
	}
	if !subject.HasPermission(PermissionWallet) || subject.HasPermission(PermissionExecute) {
		t.Fatalf("unexpected permissions: %v", subject.Permissions)
	}

	ops, err := svc.AuthenticateRequest(ctx, "bearer ops-secret")
	if err != nil || !ops.HasPermission(PermissionExecute) {
		t.Fatalf("tokens without permissions should grant all: %v", err)
	}

	if _, err := svc.AuthenticateRequest(ctx, ""); err != ErrMissingToken {
		t.Fatalf("expected ErrMissingToken, got %v", err)
	}
	if _, err := svc.AuthenticateRequest(ctx, "Basic b3BzOnNlY3JldA=="); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken for non-bearer scheme, got %v", err)
	}
	if _, err := svc.AuthenticateRequest(ctx, "Bearer nope"); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestNewServiceRejectsBadTokens(t *testing.T) {
	if _, err := NewService([]Token{{Name: "empty"}}); err == nil {
		t.Fatalf("expected empty token to be rejected")
	}
	if _, err := NewService([]Token{{Name: "a", Value: "x"}, {Name: "b", Value: "x"}}); err == nil {
		t.Fatalf("expected duplicate token to be rejected")
	}
	svc, err := NewService(nil)
	if err != nil || svc.Enabled() {
		t.Fatalf("no tokens should disable auth")
	}
}

func TestMiddleware(t *testing.T) {
	svc := newTestService(t)
	var seen *Subject
	handler := svc.Middleware(MiddlewareConfig{RequiredPermissions: []string{PermissionExecute}})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = SubjectFromContext(r.Context())
			w.WriteHeader(http.StatusNoContent)
		}))

	cases := []struct {
		header string
		status int
	}{
		{"", http.StatusUnauthorized},
		{"Bearer wrong", http.StatusUnauthorized},
		{"Bearer reader-secret", http.StatusForbidden},
		{"Bearer ops-secret", http.StatusNoContent},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/execute", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != tc.status {
			t.Fatalf("header %q: expected %d, got %d", tc.header, tc.status, rec.Code)
		}
	}
	if seen == nil || seen.Name != "ops" {
		t.Fatalf("subject not propagated: %+v", seen)
	}
}

func TestMiddlewareDisabledPassesThrough(t *testing.T) {
	svc, _ := NewService(nil)
	called := false
	handler := svc.Middleware(MiddlewareConfig{RequiredPermissions: []string{PermissionExecute}})(
		http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !called {
		t.Fatalf("disabled auth must not block requests")
	}
}

func TestAuthorizeCarriesCode(t *testing.T) {
	subject := &Subject{Name: "reader", Permissions: []string{PermissionTasksRead}}
	err := subject.Authorize(PermissionTasksRead, PermissionTasksWrite)
	if xerrors.CodeOf(err) != CodeForbidden || xerrors.MetadataOf(err, "permission") != PermissionTasksWrite {
		t.Fatalf("unexpected error: %v", err)
	}
}
