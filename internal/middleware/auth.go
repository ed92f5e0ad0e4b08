// Package middleware provides the HTTP middleware stack of the kernel:
// caller authentication, request identity, logging, CORS, and rate limiting.
package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/forgeline/gamekernel/internal/apperr"
	"github.com/forgeline/gamekernel/internal/httpx"
	"github.com/forgeline/gamekernel/internal/plugin"
)

type callerKey struct{}

// Claims is the JWT payload the kernel issues and accepts.
type Claims struct {
	UserID      string `json:"user_id"`
	IsAdmin     bool   `json:"is_admin"`
	DisplayName string `json:"display_name,omitempty"`
	jwt.RegisteredClaims
}

// CallerFrom extracts the authenticated caller, or the anonymous caller when
// no credentials were presented.
func CallerFrom(ctx context.Context) plugin.Caller {
	if c, ok := ctx.Value(callerKey{}).(plugin.Caller); ok {
		return c
	}
	return plugin.Caller{}
}

// WithCaller returns a context carrying the caller. Exposed for tests.
func WithCaller(ctx context.Context, c plugin.Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// Authenticate resolves an optional Bearer token into a caller. A missing
// header passes through anonymously; a present but invalid token is
// rejected so expired credentials never degrade into anonymous access.
func Authenticate(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}
			token := strings.TrimPrefix(header, "Bearer ")
			if token == header {
				httpx.WriteError(w, apperr.Unauthenticated("authorization header must be a Bearer token"))
				return
			}

			caller, err := ParseToken(secret, token)
			if err != nil {
				httpx.WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
		})
	}
}

// ParseToken validates a signed token and returns its caller.
func ParseToken(secret, token string) (plugin.Caller, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, apperr.Unauthenticated("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil || !parsed.Valid {
		return plugin.Caller{}, apperr.Unauthenticated("invalid token").Wrap(err)
	}
	if claims.UserID == "" {
		return plugin.Caller{}, apperr.Unauthenticated("token has no user_id")
	}
	return plugin.Caller{
		UserID:      claims.UserID,
		IsAdmin:     claims.IsAdmin,
		DisplayName: claims.DisplayName,
	}, nil
}

// IssueToken signs a token for the caller. Used by the auth endpoint and by
// tests.
func IssueToken(secret string, caller plugin.Caller, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:      caller.UserID,
		IsAdmin:     caller.IsAdmin,
		DisplayName: caller.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// RequireAuth rejects anonymous callers.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if CallerFrom(r.Context()).Anonymous() {
			httpx.WriteError(w, apperr.Unauthenticated("authentication required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin rejects callers without the admin flag.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller := CallerFrom(r.Context())
		if caller.Anonymous() {
			httpx.WriteError(w, apperr.Unauthenticated("authentication required"))
			return
		}
		if !caller.IsAdmin {
			httpx.WriteError(w, apperr.Forbidden("admin access required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
