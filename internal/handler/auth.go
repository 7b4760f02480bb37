package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pesio-ai/be-expense-approvals/internal/platform/errors"
	"github.com/pesio-ai/be-expense-approvals/internal/service"
)

// Claims is the token payload: the user id and role.
type Claims struct {
	ID   string `json:"id"`
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// TokenVerifier checks HS256 bearer tokens.
type TokenVerifier struct {
	secret []byte
}

// NewTokenVerifier creates a verifier for the shared secret.
func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret)}
}

// Verify parses a raw token into the caller it identifies.
func (v *TokenVerifier) Verify(tokenStr string) (service.Caller, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims,
		func(token *jwt.Token) (any, error) {
			return v.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(30*time.Second),
	)
	if err != nil {
		return service.Caller{}, errors.New(errors.ErrCodeUnauthorized, classifyJWTError(err))
	}
	if !token.Valid || claims.ID == "" {
		return service.Caller{}, errors.New(errors.ErrCodeUnauthorized, "Invalid token")
	}
	return service.Caller{ID: claims.ID, Role: claims.Role}, nil
}

// VerifyHeader extracts and verifies a "Bearer <token>" header value.
func (v *TokenVerifier) VerifyHeader(header string) (service.Caller, error) {
	if header == "" {
		return service.Caller{}, errors.New(errors.ErrCodeUnauthorized, "Missing authorization header")
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return service.Caller{}, errors.New(errors.ErrCodeUnauthorized, "Invalid authorization header format")
	}
	return v.Verify(strings.TrimSpace(header[7:]))
}

func classifyJWTError(err error) string {
	s := err.Error()
	switch {
	case strings.Contains(s, "expired"):
		return "Token expired"
	case strings.Contains(s, "signing method"):
		return "Disallowed signing algorithm"
	case strings.Contains(s, "signature"):
		return "Invalid token signature"
	default:
		return "Invalid token"
	}
}

type callerKey struct{}

// WithCaller stores the caller in ctx.
func WithCaller(ctx context.Context, caller service.Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFrom returns the caller stored in ctx.
func CallerFrom(ctx context.Context) (service.Caller, bool) {
	caller, ok := ctx.Value(callerKey{}).(service.Caller)
	return caller, ok
}

// Authenticate rejects requests without a valid bearer token and stores the
// caller in the request context.
func (v *TokenVerifier) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, err := v.VerifyHeader(r.Header.Get("Authorization"))
		if err != nil {
			writeError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
	})
}

func mustCaller(ctx context.Context) (service.Caller, error) {
	caller, ok := CallerFrom(ctx)
	if !ok {
		return service.Caller{}, errors.New(errors.ErrCodeUnauthorized, "authentication required")
	}
	return caller, nil
}
