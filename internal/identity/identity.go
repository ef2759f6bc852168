// Package identity provides anonymous per-device owner identity primitives.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"time"
)

const (
	OwnerCookieName   = "prdesk_owner_id"
	OwnerHeaderName   = "X-Prdesk-Owner-ID"
	ownerCookieMaxAge = 30 * 24 * time.Hour
)

type contextKey int

const (
	ownerIDKey contextKey = iota
)

var ownerIDPattern = regexp.MustCompile(`^anon_[a-f0-9]{32}$`)

// OwnerIDFromContext extracts the owner ID from the request context.
func OwnerIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ownerIDKey).(string); ok {
		return v
	}
	return ""
}

// WithOwnerID returns a context carrying ownerID.
func WithOwnerID(ctx context.Context, ownerID string) context.Context {
	return context.WithValue(ctx, ownerIDKey, ownerID)
}

// NewOwnerID generates a fresh anonymous owner ID.
func NewOwnerID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate owner id: %w", err)
	}
	return "anon_" + hex.EncodeToString(buf), nil
}

// IsValidOwnerID reports whether id has the anonymous owner ID shape.
func IsValidOwnerID(id string) bool {
	return ownerIDPattern.MatchString(id)
}

func setOwnerCookie(w http.ResponseWriter, id string, isDev bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     OwnerCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(ownerCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(ownerCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
}

// ownerIDFromRequest prefers the explicit header (non-browser clients), then
// the cookie, and mints a new ID otherwise.
func ownerIDFromRequest(w http.ResponseWriter, r *http.Request, isDev bool) (string, error) {
	if h := r.Header.Get(OwnerHeaderName); IsValidOwnerID(h) {
		return h, nil
	}
	if c, err := r.Cookie(OwnerCookieName); err == nil && IsValidOwnerID(c.Value) {
		setOwnerCookie(w, c.Value, isDev)
		return c.Value, nil
	}

	id, err := NewOwnerID()
	if err != nil {
		return "", err
	}
	setOwnerCookie(w, id, isDev)
	return id, nil
}

// Middleware injects an anonymous per-device owner ID into the request context.
func Middleware(isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ownerID, err := ownerIDFromRequest(w, r, isDev)
			if err != nil {
				http.Error(w, `{"error":"failed to establish anonymous identity"}`, http.StatusInternalServerError)
				return
			}
			w.Header().Set(OwnerHeaderName, ownerID)
			next.ServeHTTP(w, r.WithContext(WithOwnerID(r.Context(), ownerID)))
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
