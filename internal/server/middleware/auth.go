package middleware

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	apperrors "github.com/3leaps/cloudphotos/internal/errors"
)

// ErrInvalidToken is returned by verifiers for unknown tokens.
var ErrInvalidToken = errors.New("invalid or expired token")

// TokenVerifier resolves a bearer token to a user id.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

// StaticTokens is a TokenVerifier backed by a fixed token to user map.
type StaticTokens map[string]string

// Verify compares token against every configured token in constant time.
func (s StaticTokens) Verify(_ context.Context, token string) (string, error) {
	var uid string
	for known, user := range s {
		if subtle.ConstantTimeCompare([]byte(known), []byte(token)) == 1 {
			uid = user
		}
	}
	if uid == "" {
		return "", ErrInvalidToken
	}
	return uid, nil
}

// Auth requires a valid "Authorization: Bearer <token>" header and stores
// the resolved user id in the request context.
func Auth(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			token = strings.TrimSpace(token)
			if !ok || token == "" {
				apperrors.RespondWithError(w, r, apperrors.NewUnauthorized("missing or invalid Authorization header"))
				return
			}

			uid, err := verifier.Verify(r.Context(), token)
			if err != nil || uid == "" {
				Logger.Debug("token verification failed",
					zap.String("request_id", GetRequestID(r.Context())),
					zap.Error(err))
				apperrors.RespondWithError(w, r, apperrors.NewUnauthorized("invalid or expired token"))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), uid)))
		})
	}
}

// WithUserID returns a context carrying uid.
func WithUserID(ctx context.Context, uid string) context.Context {
	return context.WithValue(ctx, userIDKey, uid)
}

// UserID returns the authenticated user id, or "".
func UserID(ctx context.Context) string {
	uid, _ := ctx.Value(userIDKey).(string)
	return uid
}

// FixedUser attributes every request to uid without checking credentials.
// It is only meant for a loopback-bound single-user server.
func FixedUser(uid string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), uid)))
		})
	}
}
