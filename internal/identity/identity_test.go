package identity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMiddleware_AssignsIdentity(t *testing.T) {
	var gotUserID string
	var gotGrants Grants
	handler := Middleware(AllowAll{}, true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserID = UserIDFromContext(r.Context())
		gotGrants = GrantsFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if !isValidAnonID(gotUserID) {
		t.Errorf("Expected valid anon id, got %q", gotUserID)
	}
	if !gotGrants.CanSendMessages || !gotGrants.CanManageSettings {
		t.Errorf("Expected all grants, got %+v", gotGrants)
	}

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != AnonCookieName {
		t.Fatalf("Expected anon cookie set, got %+v", cookies)
	}
	if !cookies[0].HttpOnly {
		t.Error("Expected HttpOnly cookie")
	}
}

func TestMiddleware_ReusesValidCookie(t *testing.T) {
	var gotUserID string
	handler := Middleware(AllowAll{}, true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserID = UserIDFromContext(r.Context())
	}))

	existing := "anon_0123456789abcdef0123456789abcdef"
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: AnonCookieName, Value: existing})

	handler.ServeHTTP(httptest.NewRecorder(), req)
	if gotUserID != existing {
		t.Errorf("Expected existing id reused, got %q", gotUserID)
	}
}

func TestMiddleware_RejectsForgedCookie(t *testing.T) {
	var gotUserID string
	handler := Middleware(AllowAll{}, true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserID = UserIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: AnonCookieName, Value: "not-a-valid-id"})

	handler.ServeHTTP(httptest.NewRecorder(), req)
	if gotUserID == "not-a-valid-id" {
		t.Error("Forged cookie value must be replaced")
	}
	if !isValidAnonID(gotUserID) {
		t.Errorf("Expected fresh valid id, got %q", gotUserID)
	}
}

type denyResolver struct{ err error }

func (d denyResolver) Resolve(r *http.Request, userID string) (Grants, error) {
	return Grants{CanSendMessages: false, CanManageSettings: false}, d.err
}

func TestMiddleware_ResolverGrantsFlow(t *testing.T) {
	var gotGrants Grants
	handler := Middleware(denyResolver{}, true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotGrants = GrantsFromContext(r.Context())
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if gotGrants.CanSendMessages || gotGrants.CanManageSettings {
		t.Errorf("Expected no grants, got %+v", gotGrants)
	}
}

func TestMiddleware_ResolverError(t *testing.T) {
	handler := Middleware(denyResolver{err: errors.New("directory down")}, true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("Handler must not run when resolution fails")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500, got %d", rec.Code)
	}
}

func TestHeaderResolver(t *testing.T) {
	resolver := HeaderResolver{Default: Grants{CanSendMessages: true}}

	cases := []struct {
		name     string
		header   string
		expected Grants
	}{
		{"absent header keeps default", "", Grants{CanSendMessages: true}},
		{"send only", "send_messages", Grants{CanSendMessages: true}},
		{"both, spaced", "send_messages, manage_settings", Grants{CanSendMessages: true, CanManageSettings: true}},
		{"unknown names ignored", "root, sudo", Grants{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set(GrantHeaderName, tc.header)
			}
			grants, err := resolver.Resolve(req, "anon_0123456789abcdef0123456789abcdef")
			if err != nil {
				t.Fatalf("Resolve failed: %v", err)
			}
			if grants != tc.expected {
				t.Errorf("Expected %+v, got %+v", tc.expected, grants)
			}
		})
	}
}

func TestMiddleware_HeaderResolverScopesGrants(t *testing.T) {
	var gotGrants Grants
	handler := Middleware(HeaderResolver{}, true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotGrants = GrantsFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(GrantHeaderName, "send_messages")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if !gotGrants.CanSendMessages || gotGrants.CanManageSettings {
		t.Errorf("Expected send-only grants, got %+v", gotGrants)
	}
}

func TestGrantsFromContext_AbsentDeniesAll(t *testing.T) {
	grants := GrantsFromContext(context.Background())
	if grants.CanSendMessages || grants.CanManageSettings {
		t.Errorf("Absent grants must deny everything, got %+v", grants)
	}
}
