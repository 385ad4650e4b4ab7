package auth

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/gundcab/shipsync/httpx"
)

const tokenLifetime = 8 * time.Hour

type ctxKey string

const identityCtxKey = ctxKey("identity")

// Identity is the authenticated actor attached to each request.
type Identity struct {
	UserID   uint
	Username string
	Role     string
}

// CanWrite reports whether the actor may mutate shipments.
func (id Identity) CanWrite() bool { return id.Role == "admin" || id.Role == "write" }

// UserLoader resolves a token subject to a live user. Set during app
// bootstrap; requests are rejected when the user no longer exists or is
// inactive.
type UserLoader func(ctx context.Context, username string) (Identity, bool)

var loader UserLoader

// SetUserLoader configures the global loader used by Middleware.
func SetUserLoader(l UserLoader) { loader = l }

// Secret returns JWT_SECRET or a default dev value.
func Secret() string {
	if s := os.Getenv("JWT_SECRET"); s != "" {
		return s
	}
	return "devjwtsecret"
}

type claims struct {
	jwt.RegisteredClaims
}

// CreateToken issues a signed bearer token for the given username.
func CreateToken(username string) (string, error) {
	now := time.Now()
	c := claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   username,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(tokenLifetime)),
	}}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return token.SignedString([]byte(Secret()))
}

// ParseToken validates a bearer token and returns its subject username.
func ParseToken(tokenString string) (string, error) {
	var c claims
	token, err := jwt.ParseWithClaims(tokenString, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(Secret()), nil
	})
	if err != nil || !token.Valid || c.Subject == "" {
		return "", errors.New("invalid token")
	}
	return c.Subject, nil
}

func HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(b), err
}

func CheckPassword(hashed, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(password)) == nil
}

// WithIdentity stores the actor in context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityCtxKey, id)
}

// IdentityFromContext extracts the actor.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityCtxKey).(Identity)
	return id, ok
}

// tokenFromRequest reads the bearer token from the Authorization header, or
// from the token query parameter for websocket upgrades.
func tokenFromRequest(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// Middleware attaches the actor identity to the request context when a valid
// token is presented.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if raw := tokenFromRequest(r); raw != "" {
			if username, err := ParseToken(raw); err == nil && loader != nil {
				if id, ok := loader(r.Context(), username); ok {
					r = r.WithContext(WithIdentity(r.Context(), id))
				}
			}
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAuth rejects unauthenticated requests.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := IdentityFromContext(r.Context()); !ok {
			httpx.JSONError(w, http.StatusUnauthorized, "unauthorized", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireWriter rejects actors whose role cannot mutate records.
func RequireWriter(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := IdentityFromContext(r.Context())
		if !ok {
			httpx.JSONError(w, http.StatusUnauthorized, "unauthorized", nil)
			return
		}
		if !id.CanWrite() {
			httpx.JSONError(w, http.StatusForbidden, "write_access_required", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
