// Package identity provides anonymous per-device identity and permission
// grants for assistant requests.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"
)

const (
	AnonCookieName   = "assistant_anon_id"
	anonCookieMaxAge = 30 * 24 * time.Hour
)

type contextKey int

const (
	userIDKey contextKey = iota
	grantsKey
)

var anonIDPattern = regexp.MustCompile(`^anon_[a-f0-9]{32}$`)

// Grants are the permissions a user holds against the assistant.
type Grants struct {
	CanSendMessages   bool
	CanManageSettings bool
}

// GrantResolver maps a request's user to its permission grants.
type GrantResolver interface {
	Resolve(r *http.Request, userID string) (Grants, error)
}

// AllowAll grants every permission to every user. It is the default for
// anonymous deployments where the surrounding platform enforces nothing.
type AllowAll struct{}

func (AllowAll) Resolve(r *http.Request, userID string) (Grants, error) {
	return Grants{CanSendMessages: true, CanManageSettings: true}, nil
}

// GrantHeaderName is set by a fronting platform to scope a user's
// permissions: a comma-separated list of grant names.
const GrantHeaderName = "X-Chat-Grants"

const (
	GrantSendMessages   = "send_messages"
	GrantManageSettings = "manage_settings"
)

// HeaderResolver reads grants from the platform's trusted proxy header.
// Only meaningful behind a proxy that strips the header from client
// requests. An absent header yields the configured default grants.
type HeaderResolver struct {
	Default Grants
}

func (h HeaderResolver) Resolve(r *http.Request, userID string) (Grants, error) {
	raw := r.Header.Get(GrantHeaderName)
	if raw == "" {
		return h.Default, nil
	}
	var g Grants
	for _, name := range strings.Split(raw, ",") {
		switch strings.TrimSpace(name) {
		case GrantSendMessages:
			g.CanSendMessages = true
		case GrantManageSettings:
			g.CanManageSettings = true
		}
	}
	return g, nil
}

// UserIDFromContext extracts the user ID from the request context.
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

// GrantsFromContext extracts the permission grants from the request context.
// Absent grants deny everything.
func GrantsFromContext(ctx context.Context) Grants {
	if v, ok := ctx.Value(grantsKey).(Grants); ok {
		return v
	}
	return Grants{}
}

// WithIdentity returns a context carrying the given identity. Intended for
// tests and internal calls that bypass the HTTP middleware.
func WithIdentity(ctx context.Context, userID string, grants Grants) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	return context.WithValue(ctx, grantsKey, grants)
}

func generateAnonID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate anonymous id: %w", err)
	}
	return "anon_" + hex.EncodeToString(buf), nil
}

func isValidAnonID(id string) bool {
	return anonIDPattern.MatchString(id)
}

func getOrCreateAnonID(w http.ResponseWriter, r *http.Request, isDev bool) (string, error) {
	if c, err := r.Cookie(AnonCookieName); err == nil && isValidAnonID(c.Value) {
		setAnonCookie(w, c.Value, isDev)
		return c.Value, nil
	}

	id, err := generateAnonID()
	if err != nil {
		return "", err
	}
	setAnonCookie(w, id, isDev)
	return id, nil
}

func setAnonCookie(w http.ResponseWriter, id string, isDev bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     AnonCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(anonCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(anonCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
}

// Middleware injects anonymous per-device identity and permission grants.
func Middleware(resolver GrantResolver, isDev bool) func(http.Handler) http.Handler {
	if resolver == nil {
		resolver = AllowAll{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := getOrCreateAnonID(w, r, isDev)
			if err != nil {
				http.Error(w, `{"error":"failed to establish anonymous identity"}`, http.StatusInternalServerError)
				return
			}

			grants, err := resolver.Resolve(r, userID)
			if err != nil {
				http.Error(w, `{"error":"failed to resolve permissions"}`, http.StatusInternalServerError)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), userID, grants)))
		})
	}
}

// IPFromRequest returns a normalized remote IP for optional request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
